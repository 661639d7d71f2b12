package scheduler

import "time"

// ScheduleEvent is one pending firing of a job.
type ScheduleEvent struct {
	// Key names the job passed to the trigger callback.
	Key string
	// TriggerAt is the wall-clock time of the firing.
	TriggerAt time.Time
	// CronExpr re-arms the job after it fires. Empty means one-shot.
	CronExpr string
}
