// Package logx is cronsmith's structured logger, a thin layer over zerolog.
//
// Console output stays readable (short timestamp, file:line caller), file output
// is JSON, and both can be swapped on config reload without rebuilding loggers.
// Job, task and execution ids use shared keys (see JobID, ExecutionID).
package logx
