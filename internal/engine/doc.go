// Package engine runs the per-device polling cycles of a fleet.
//
// ARCHITECTURE:
//
// One Runner per device. Each Runner owns a schedule.Trigger loop and a
// single-slot overlap guard; runners share only the store client, the
// reconciler and the reporter. A Fleet validates every device's schedule,
// builds the runners and supervises them.
//
// Cycle:
//  1. Assign a cycle ID and the runner's next sequence number.
//  2. Report a start event.
//  3. Resolve the store device if it is not resolved yet. Unresolved
//     means outcome device_not_found and no fetch or store operation.
//  4. Fetch the most recent record (failure on transport errors).
//  5. Parse it (failure on malformed responses).
//  6. Reconcile it into the store (success, partial or failure).
//  7. Report a finish event carrying the CycleResult.
//
// No error escapes a cycle: every error, and every panic, becomes an
// outcome on the finish event.
//
// Phases per runner: Idle → Resolving → Fetching → Parsing → Reconciling
// → Idle, with Failed reachable from Fetching and Parsing.
//
// THREAD SAFETY:
//
// Runner and Fleet are safe for concurrent use. A schedule fire never
// blocks the trigger goroutine; the cycle runs on its own goroutine.
package engine
