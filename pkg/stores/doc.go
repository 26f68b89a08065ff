// Package stores persists the execution core's run history in SQLite
// (WAL mode, pure-Go driver): one row per outermost Process call, one
// write-once row per terminal scheduler task (keyed by the scheduler's own
// run/key identity), an append-only event log fed from the event bus by
// Recorder, and the last resolved version plus build outputs per module.
package stores
