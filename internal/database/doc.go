// Package database provides the TimescaleDB connection pool used by the
// optional bar mirror. Persisted series files stay the source of truth; the
// database holds a queryable copy for downstream consumers.
package database
