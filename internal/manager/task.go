package manager

import "time"

// task is one key-generation run over a window of slots. Its steps are
// posted to the loop one at a time.
type task struct {
	status TaskStatus
}

func (m *Manager) enqueue(req uint64, reason string, start time.Time) uint64 {
	m.mu.Lock()
	m.nextTask++
	t := &task{status: TaskStatus{
		ID:      m.nextTask,
		Request: req,
		Reason:  reason,
		Start:   start,
		Steps:   m.cfg.Steps(),
		State:   TaskQueued,
	}}
	if r, ok := m.requests[req]; ok {
		r.Task = t.status.ID
	}
	m.queue = append(m.queue, t)
	idle := m.current == nil
	m.mu.Unlock()
	m.progress(t)
	if idle {
		m.startNext()
	}
	return t.status.ID
}

// startNext runs the oldest queued task, if any.
func (m *Manager) startNext() {
	m.mu.Lock()
	if m.current != nil || len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	t := m.queue[0]
	m.queue = m.queue[1:]
	m.current = t
	t.status.State = TaskRunning
	if r, ok := m.requests[t.status.Request]; ok {
		r.State = GeneratingKeys
	}
	m.mu.Unlock()
	m.progress(t)
	m.loop.Post(func() { m.step(t) })
}

func (m *Manager) step(t *task) {
	m.mu.Lock()
	if t.status.State == TaskCancelled {
		m.mu.Unlock()
		m.progress(t)
		m.finish(t)
		return
	}
	slot := t.status.Start.Add(time.Duration(t.status.Step) * m.cfg.Step)
	m.mu.Unlock()

	pushed, failed := m.generate(slot)

	m.mu.Lock()
	t.status.Step++
	t.status.Pushes += pushed
	t.status.Errors += failed
	last := t.status.Step >= t.status.Steps
	if last && t.status.State == TaskRunning {
		t.status.State = TaskDone
	}
	m.mu.Unlock()
	m.progress(t)
	if last {
		m.finish(t)
		return
	}
	m.loop.Post(func() { m.step(t) })
}

// generate pushes the group keys of one slot as a single batch.
func (m *Manager) generate(slot time.Time) (pushed, failed int) {
	keys, err := m.gm.GroupKey(slot)
	if err != nil {
		m.log.Error("Group key for %s: %v", slot.Format(time.RFC3339), err)
		return 0, 1
	}
	if len(keys) == 0 {
		return 0, 0
	}
	for _, k := range keys {
		m.log.Info("KEY: %s", k.Name)
	}
	if _, err := m.store.Push(keys); err != nil {
		m.log.Warning("Push keys for %s: %v", slot.Format(time.RFC3339), err)
		return 1, 1
	}
	return 1, 0
}

func (m *Manager) finish(t *task) {
	m.mu.Lock()
	if m.current == t {
		m.current = nil
	}
	m.done = append(m.done, t)
	if len(m.done) > m.cfg.History {
		m.done = m.done[1:]
	}
	req := t.status.Request
	if r, ok := m.requests[req]; ok {
		r.State = Idle
	}
	m.mu.Unlock()
	m.settle(req)
	m.log.Info("Key generation task %d %s after %d/%d slots", t.status.ID, t.status.State, t.status.Step, t.status.Steps)
	m.startNext()
}

// Cancel stops a queued or running task. A running task stops before its
// next slot.
func (m *Manager) Cancel(id uint64) error {
	m.mu.Lock()
	if m.current != nil && m.current.status.ID == id {
		m.current.status.State = TaskCancelled
		m.mu.Unlock()
		return nil
	}
	for i, t := range m.queue {
		if t.status.ID != id {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		t.status.State = TaskCancelled
		m.done = append(m.done, t)
		if r, ok := m.requests[t.status.Request]; ok {
			r.State = Idle
		}
		m.mu.Unlock()
		m.settle(t.status.Request)
		m.progress(t)
		return nil
	}
	for _, t := range m.done {
		if t.status.ID == id {
			m.mu.Unlock()
			return ErrTaskFinished
		}
	}
	m.mu.Unlock()
	return ErrTaskNotFound
}

// Tasks returns finished, running and queued tasks in that order.
func (m *Manager) Tasks() []TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskStatus, 0, len(m.done)+len(m.queue)+1)
	for _, t := range m.done {
		out = append(out, t.status)
	}
	if m.current != nil {
		out = append(out, m.current.status)
	}
	for _, t := range m.queue {
		out = append(out, t.status)
	}
	return out
}

func (m *Manager) progress(t *task) {
	m.mu.Lock()
	fn, st := m.onProgress, t.status
	m.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
