// Package store defines the capability interface the sync core uses to
// reach the time-series store, and a SQLite-backed implementation of it.
//
// The store is a hierarchy of resources reached by following named
// relations:
//
//	device ──ch:sensors──▶ sensors collection ──search/create──▶ sensor
//	sensor ──ch:dataHistory──▶ history collection ──create──▶ sample
//
// Callers depend only on Client, Resource and Collection. They never see
// rows, URLs or response bodies.
//
// # Store-side idempotency
//
//   - UNIQUE(device_id, title) on sensors: creating a sensor whose title
//     already exists returns the existing sensor
//   - Samples are keyed by domain.SampleID(sensor, timestamp): appending
//     the same record twice leaves one row
//
// Schema changes are numbered migrations tracked in PRAGMA user_version.
// Connections run in WAL mode with foreign keys enforced.
package store
