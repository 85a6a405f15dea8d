// Package dedup merges freshly fetched bars into a persisted series.
//
// Records are deduplicated by timestamp:
//   - incoming bars replace existing bars with the same timestamp
//   - within one incoming batch the first bar for a timestamp is kept
//   - the result is sorted ascending and never loses an existing timestamp
//
// Merge is idempotent: merging the same batch twice yields the same series.
package dedup
