// Package manager runs the group manager role. It answers access requests
// under a well-known prefix: the requester's certificate is fetched, the key
// is registered as a member of the schedule, a signed reply is sent and a
// key-generation task for the configured window is queued. Everything runs
// on one face loop; the tasks advance one slot per loop turn.
package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gepd/gepd/internal/scheduler"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/retry"
)

// Face is the part of *face.Face the manager uses.
type Face interface {
	RegisterPrefix(ctx context.Context, prefix ndn.Name, h face.InterestHandler) error
	ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest))
	Put(d *ndn.Data) error
}

// Pusher sends generated keys to the store.
type Pusher interface {
	Push(batch []*ndn.Data) (string, error)
}

type Manager struct {
	cfg    Config
	gm     *gep.GroupManager
	face   Face
	loop   *face.Loop
	store  Pusher
	signer keychain.Signer
	log    logger.Logger

	mu         sync.Mutex
	nextReq    uint64
	requests   map[uint64]*Request
	finished   []uint64
	limiters   map[string]*rate.Limiter
	nextTask   uint64
	queue      []*task
	current    *task
	done       []*task
	lastWindow time.Time
	onProgress func(TaskStatus)
}

func New(cfg Config, gm *gep.GroupManager, f Face, loop *face.Loop, store Pusher, signer keychain.Signer, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNopLogger()
	}
	if signer == nil {
		signer = keychain.DigestSigner{}
	}
	if cfg.History <= 0 {
		cfg.History = DefaultConfig().History
	}
	return &Manager{
		cfg:        cfg,
		gm:         gm,
		face:       f,
		loop:       loop,
		store:      store,
		signer:     signer,
		log:        l,
		requests:   make(map[uint64]*Request),
		limiters:   make(map[string]*rate.Limiter),
		lastWindow: cfg.Epoch,
	}
}

// OnProgress sets a hook called after every task step and state change.
// It runs on the loop and must not block.
func (m *Manager) OnProgress(fn func(TaskStatus)) {
	m.mu.Lock()
	m.onProgress = fn
	m.mu.Unlock()
}

// EnsureSchedule adds s under the configured schedule name unless a
// schedule of that name already exists.
func (m *Manager) EnsureSchedule(s *gep.Schedule) error {
	_, err := m.gm.Schedule(m.cfg.Schedule)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gep.ErrScheduleNotFound) {
		return err
	}
	return m.gm.AddSchedule(m.cfg.Schedule, s)
}

// Start registers the access prefix on the face.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.face.RegisterPrefix(ctx, m.cfg.AccessPrefix, m.HandleInterest); err != nil {
		return fmt.Errorf("manager: register %s: %w", m.cfg.AccessPrefix, err)
	}
	m.log.Info("Serving access requests under %s", m.cfg.AccessPrefix)
	return nil
}

// EnableRegeneration arms a cron job that queues a task for the window
// following the last one generated. It returns the first firing time.
func (m *Manager) EnableRegeneration(ctx context.Context, expr string) (time.Time, error) {
	s := scheduler.New(ctx, func(string) {
		m.loop.Post(m.regenerate)
	})
	return s.AddCron("regenerate", expr, time.Now())
}

func (m *Manager) regenerate() {
	m.mu.Lock()
	m.lastWindow = m.lastWindow.Add(m.cfg.Window)
	start := m.lastWindow
	m.mu.Unlock()
	m.log.Info("Regenerating keys from %s", start.Format(ndn.TimestampFormat))
	m.enqueue(0, "regenerate", start)
}

// HandleInterest handles one access request. The certificate name is the
// request name after the access prefix.
func (m *Manager) HandleInterest(_ ndn.Name, i *ndn.Interest) {
	m.log.Info("<< I: %s", i.Name)
	if !m.cfg.AccessPrefix.IsPrefixOf(i.Name) {
		m.log.Warning("Request %s is outside %s", i.Name, m.cfg.AccessPrefix)
		return
	}
	certName := i.Name.SubName(m.cfg.AccessPrefix.Len())
	if certName.Len() == 0 {
		m.log.Warning("Request %s names no certificate, dropped", i.Name)
		return
	}
	if !m.allow(certName.String()) {
		m.log.Warning("Request %s rate limited, dropped", i.Name)
		return
	}
	req := m.track(i.Name, certName)
	m.fetchCertificate(req, i, certName, &retry.State{})
}

func (m *Manager) allow(requester string) bool {
	if m.cfg.RateLimit <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[requester]
	if !ok {
		if len(m.limiters) >= m.cfg.History*4 {
			m.limiters = make(map[string]*rate.Limiter)
		}
		burst := m.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(m.cfg.RateLimit), burst)
		m.limiters[requester] = lim
	}
	return lim.Allow()
}

func (m *Manager) fetchCertificate(req uint64, i *ndn.Interest, certName ndn.Name, st *retry.State) {
	fetch := &ndn.Interest{
		Name:        certName,
		CanBePrefix: true,
		Nonce:       ndn.RandomNonce(),
		Lifetime:    m.cfg.CertLifetime,
	}
	m.face.ExpressInterest(fetch,
		func(_ *ndn.Interest, d *ndn.Data) { m.onCertificate(req, i, d) },
		func(fi *ndn.Interest) { m.onCertificateTimeout(req, i, fi, st) })
}

func (m *Manager) onCertificateTimeout(req uint64, i, fetch *ndn.Interest, st *retry.State) {
	m.log.Info("Time out I: %s", fetch.Name)
	st.Record(retry.ErrTimeout)
	rc := m.cfg.certRetry()
	if rc.ShouldRetry(st, retry.ErrTimeout) {
		m.loop.After(rc.Delay(st), func() { m.fetchCertificate(req, i, fetch.Name, st) })
		return
	}
	m.update(req, func(r *Request) {
		r.State = Idle
		r.Error = "certificate fetch timed out"
	})
	m.settle(req)
}

func (m *Manager) onCertificate(req uint64, i *ndn.Interest, d *ndn.Data) {
	m.log.Info("<< D: %s", d.Name)
	member, err := m.gm.AddMember(m.cfg.Schedule, d)
	if err != nil {
		m.log.Error("Failed to add member %s: %v", d.Name, err)
		if m.cfg.Policy == FailClosed {
			m.update(req, func(r *Request) {
				r.State = Idle
				r.Error = err.Error()
			})
			m.settle(req)
			return
		}
	}
	m.update(req, func(r *Request) {
		r.State = Registered
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Member = member.String()
		}
	})

	reply := ndn.NewData(m.cfg.AccessPrefix.Append(i.Name), nil)
	reply.MetaInfo.FreshnessPeriod = m.cfg.ResponseFreshness
	if err := m.signer.Sign(reply); err != nil {
		m.log.Error("Sign reply %s: %v", reply.Name, err)
	} else if err := m.face.Put(reply); err != nil {
		m.log.Error("Put reply %s: %v", reply.Name, err)
	} else {
		m.log.Info(">> D: %s", reply.Name)
		m.update(req, func(r *Request) { r.Replied = true })
	}

	m.enqueue(req, "access request", m.cfg.Epoch)
}

func (m *Manager) track(name, certName ndn.Name) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReq++
	m.requests[m.nextReq] = &Request{
		ID:          m.nextReq,
		Name:        name.String(),
		Certificate: certName.String(),
		State:       AwaitingCertificate,
		Received:    time.Now(),
	}
	return m.nextReq
}

func (m *Manager) update(id uint64, fn func(*Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[id]; ok {
		fn(r)
	}
}

// settle marks a request finished; the oldest finished ones are forgotten.
func (m *Manager) settle(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return
	}
	m.finished = append(m.finished, id)
	for len(m.finished) > m.cfg.History {
		delete(m.requests, m.finished[0])
		m.finished = m.finished[1:]
	}
}

// Requests returns the tracked access requests ordered by id.
func (m *Manager) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b Request) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Members lists the members of the configured schedule.
func (m *Manager) Members() ([]gep.Member, error) {
	return m.gm.Members(m.cfg.Schedule)
}
