// Package pgstore implements store.Client on PostgreSQL (or TimescaleDB)
// through a pgx connection pool.
//
// The table layout and the idempotency rules match the SQLite store:
// sensor titles are unique per device and history rows are keyed by a
// content hash of (sensor, timestamp), so a repeated create or append is
// absorbed by the database.
package pgstore
