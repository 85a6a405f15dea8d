// Package writer mirrors merged bars into TimescaleDB.
//
// The mirror is optional and write-behind: persisted series files remain the
// source of truth, so a failed mirror write is logged and counted but never
// fails a poll cycle. Rows are upserted on (instrument, resolution, ts), which
// makes replays of the same bars idempotent.
package writer
