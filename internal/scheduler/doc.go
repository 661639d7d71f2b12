// Package scheduler fires named jobs at wall-clock instants for the manager
// daemon, most commonly the periodic regeneration of a key window.
//
// It runs a single goroutine over a min-heap of ScheduleEvents ordered by
// trigger time and never sleeps longer than 60 seconds, so clock steps and
// system suspend delay a firing by at most that much. Nothing is persisted:
// jobs are rebuilt from configuration when the daemon starts.
package scheduler
