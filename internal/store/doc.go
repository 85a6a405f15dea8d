// Package store persists bar series, one per (instrument, resolution) key.
//
// Backends:
//   - FileStore: one file per key (csv, json or parquet), replaced atomically
//   - SQLiteStore: one table for all keys, replaced per key inside a transaction
//
// A missing series loads as empty. A malformed file is quarantined and also
// loads as empty, so a bad file costs a backfill rather than the process.
package store
