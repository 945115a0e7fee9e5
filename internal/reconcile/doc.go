// Package reconcile converges a store device's sensors and histories with
// one Reading.
//
// For each field, in declared order: find the sensor titled after the
// field, create it if absent, then append {timestamp, value} to its
// history. Fields are independent; a failed field never stops its
// siblings. Only failing to open the device's sensor collection fails
// the whole Reading.
//
// The search-then-create step for one (device, title) pair runs at most
// once at a time across every Reconcile call sharing a Reconciler, so
// concurrent reconciliations never both decide a sensor is absent.
package reconcile
