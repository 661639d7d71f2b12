package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) trigger(key string) {
	r.mu.Lock()
	r.fired = append(r.fired, key)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func TestSchedulerAddAndFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{}
	s := New(ctx, r.trigger)

	s.Add(ScheduleEvent{Key: "regen", TriggerAt: time.Now().Add(100 * time.Millisecond)})
	time.Sleep(300 * time.Millisecond)

	if got := r.snapshot(); len(got) != 1 || got[0] != "regen" {
		t.Fatalf("fired = %v", got)
	}
}

func TestSchedulerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &recorder{}
	s := New(ctx, r.trigger)
	s.Add(ScheduleEvent{Key: "regen", TriggerAt: time.Now().Add(300 * time.Millisecond)})
	cancel()
	time.Sleep(500 * time.Millisecond)
	if got := r.snapshot(); len(got) != 0 {
		t.Fatalf("event fired after cancel: %v", got)
	}
}

func TestSchedulerOrdersEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{}
	s := New(ctx, r.trigger)

	now := time.Now()
	s.Add(ScheduleEvent{Key: "second", TriggerAt: now.Add(200 * time.Millisecond)})
	s.Add(ScheduleEvent{Key: "first", TriggerAt: now.Add(100 * time.Millisecond)})
	time.Sleep(400 * time.Millisecond)

	got := r.snapshot()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("fired = %v", got)
	}
}

func TestSchedulerRecurringStaysArmed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &recorder{}
	s := New(ctx, r.trigger)

	s.Add(ScheduleEvent{Key: "regen", TriggerAt: time.Now().Add(50 * time.Millisecond), CronExpr: "* * * * *"})
	time.Sleep(200 * time.Millisecond)
	if got := r.snapshot(); len(got) != 1 {
		t.Fatalf("fired = %v, want one firing before the next minute", got)
	}
}

func TestAddCron(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx, func(string) {})

	now := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)
	next, err := s.AddCron("regen", "0 2 * * *", now)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	for _, expr := range []string{"not a cron", "0 0 30 2 *"} {
		if _, err := s.AddCron("bad", expr, now); !errors.Is(err, ErrInvalidCron) {
			t.Errorf("AddCron(%q) err = %v", expr, err)
		}
	}
}
