// Package workfn holds the built-in work functions: the content pipeline,
// execution log cleanup and an HTTP webhook. Register adds them to an
// executor registry.
package workfn
