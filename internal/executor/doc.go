// Package executor owns every mutation of cron jobs: create, update, toggle,
// delete and execute, serialized per job id.
//
// Execute runs the job's registered work function under the job's timeout with
// bounded retries, records one execution log per run and recomputes the next
// run time once the run is over. A timeout unblocks the caller, but a work
// function that ignores ctx keeps running in its abandoned goroutine; this
// package cannot kill it.
package executor
