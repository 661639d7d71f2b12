package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleepCap = 60 * time.Second

// ErrInvalidCron is returned for expressions gronx rejects or that never fire
// within a year.
var ErrInvalidCron = errors.New("scheduler: invalid cron expression")

// Scheduler fires ScheduleEvents from a background goroutine and calls
// onTrigger with the event key.
type Scheduler struct {
	addChan chan ScheduleEvent
	ctx     context.Context
}

// New starts a Scheduler that stops when ctx is cancelled.
func New(ctx context.Context, onTrigger func(string)) *Scheduler {
	s := &Scheduler{
		addChan: make(chan ScheduleEvent, 64),
		ctx:     ctx,
	}
	go s.run(onTrigger)
	return s
}

func (s *Scheduler) Add(event ScheduleEvent) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// AddCron validates expr and schedules key at its next occurrence after now.
// The job re-arms itself after every firing.
func (s *Scheduler) AddCron(key, expr string, now time.Time) (time.Time, error) {
	if !gronx.IsValid(expr) || !hasOccurrenceWithinYear(expr, now) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	next, err := nextCronOccurrence(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	s.Add(ScheduleEvent{Key: key, TriggerAt: next, CronExpr: expr})
	return next, nil
}

func (s *Scheduler) run(onTrigger func(string)) {
	h := &scheduleHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.addChan:
			heapPush(h, event)
			timerCh = resetTimer()
		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				event := heapPop(h)
				onTrigger(event.Key)
				if event.CronExpr == "" {
					continue
				}
				if next, err := nextCronOccurrence(event.CronExpr, time.Now()); err == nil {
					heapPush(h, ScheduleEvent{Key: event.Key, TriggerAt: next, CronExpr: event.CronExpr})
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextCronOccurrence returns the next firing strictly after start.
func nextCronOccurrence(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}

func hasOccurrenceWithinYear(expr string, from time.Time) bool {
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return false
	}
	return next.Before(from.Add(365 * 24 * time.Hour))
}
