// Package pipeline runs named stages strictly in sequence, recording per-stage
// status, and keeps a bounded in-memory history of executions.
package pipeline
