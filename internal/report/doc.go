// Package report carries the structured per-cycle status events that are
// the only failure-reporting channel of a running fleet.
//
// A Source Runner emits a start event when a cycle begins and a finish
// event carrying the CycleResult when it ends. Fires dropped by the
// overlap guard produce only a finish event with outcome skipped.
//
// Sinks: Log (slog), Metrics (Prometheus), MQTT (paho) and Redis
// (go-redis). Multi fans one event out to several sinks. Recorder keeps
// events in memory for tests and the scenario harness.
package report
