// Package cronexpr validates 5-field cron expressions and computes next-run times.
//
// It is deliberately not a general cron calendar: only the daily, hourly, weekly
// and monthly shapes have exact next-run semantics. Everything else that passes
// validation recurs at the same time tomorrow. Callers needing richer recurrence
// must extend Expression.Next explicitly.
package cronexpr
