// Package storage persists cron jobs, their execution logs, one-off scheduled
// tasks and generated content.
//
// Backends:
//   - "memory": process-local maps, used by tests and ephemeral runs
//   - "sqlite": modernc.org/sqlite file database
//   - "postgres": lib/pq
//
// Both SQL backends share one sqlx implementation; only the migrations differ.
package storage
