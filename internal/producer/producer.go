// Package producer runs the producer role: it creates a content key for a
// slot, wraps it under every reachable group E-KEY, encrypts a payload and
// serves both the encrypted Data and the wrapped keys.
package producer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

// Face is the part of *face.Face the service uses.
type Face interface {
	RegisterPrefix(ctx context.Context, prefix ndn.Name, h face.InterestHandler) error
	ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest))
	Put(d *ndn.Data) error
}

type Config struct {
	Prefix         ndn.Name
	DataType       ndn.Name
	RepeatAttempts int
	// KeyLifetime is the lifetime of E-KEY interests.
	KeyLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefix:         ndn.MustParseName(common.DEF_PRODUCER_PREFIX),
		DataType:       ndn.Name{}.AppendString(common.DEF_DATA_TYPE),
		RepeatAttempts: common.DEF_REPEAT_ATTEMPTS,
		KeyLifetime:    ndn.DefaultInterestLifetime,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Prefix.Len() == 0:
		return fmt.Errorf("producer: empty prefix")
	case c.DataType.Len() == 0:
		return fmt.Errorf("producer: empty data type")
	case c.RepeatAttempts < 1:
		return fmt.Errorf("producer: repeat attempts must be at least 1")
	}
	return nil
}

type cacheKey struct {
	slot  int64
	group string
}

// Key describes one cached wrapped content key.
type Key struct {
	Name  string    `json:"name"`
	Slot  time.Time `json:"slot"`
	Group string    `json:"group"`
}

// Service serves the encrypted content and wrapped keys of one producer.
// Setup and HandleInterest must run on the face loop.
type Service struct {
	producer *gep.Producer
	serve    ndn.Name
	face     Face
	log      logger.Logger

	mu     sync.Mutex
	data   []*ndn.Data
	keys   map[cacheKey]*ndn.Data
	order  []cacheKey
	latest *ndn.Data
}

func New(cfg Config, db *gep.ProducerDB, f Face, signer keychain.Signer, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Service{
		serve: cfg.Prefix.AppendString(gep.ComponentSample),
		face:  f,
		log:   l,
		keys:  make(map[cacheKey]*ndn.Data),
	}
	s.producer = gep.NewProducer(cfg.Prefix, cfg.DataType, tracingFetcher{s}, db, cfg.RepeatAttempts, signer)
	if cfg.KeyLifetime > 0 {
		s.producer.SetInterestLifetime(cfg.KeyLifetime)
	}
	return s
}

func (s *Service) Namespace() ndn.Name { return s.producer.Namespace() }

// ServePrefix is <prefix>/SAMPLE. It covers the content namespace of every
// data type, so requests for other types get the latest cached key.
func (s *Service) ServePrefix() ndn.Name { return s.serve }

// Start registers the serve prefix on the face.
func (s *Service) Start(ctx context.Context) error {
	if err := s.face.RegisterPrefix(ctx, s.serve, s.HandleInterest); err != nil {
		return fmt.Errorf("producer: register %s: %w", s.serve, err)
	}
	s.log.Info("Serving %s", s.serve)
	return nil
}

// Setup creates the content key for slot and encrypts payload under it. The
// wrapped keys are cached as they arrive.
func (s *Service) Setup(slot time.Time, payload []byte) (*ndn.Data, error) {
	if _, err := s.producer.CreateContentKey(slot, s.cacheKeys); err != nil {
		return nil, fmt.Errorf("producer: content key: %w", err)
	}
	d, err := s.producer.Produce(slot, payload)
	if err != nil {
		return nil, fmt.Errorf("producer: produce: %w", err)
	}
	s.mu.Lock()
	s.data = append(s.data, d)
	s.mu.Unlock()
	s.log.Info("Produced %s", d.Name)
	return d, nil
}

func (s *Service) cacheKeys(keys []*ndn.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		ck, ok := decodeKeyName(k.Name)
		if !ok {
			s.log.Warning("Cannot index key %s", k.Name)
			continue
		}
		if _, seen := s.keys[ck]; !seen {
			s.order = append(s.order, ck)
		}
		s.keys[ck] = k
		s.latest = k
		s.log.Info("Cached key %s", k.Name)
	}
}

// decodeKeyName maps <ns>/C-KEY/<slot>/FOR/<group>/E-KEY/... to its cache
// key. The group part is empty when the name stops after the slot.
func decodeKeyName(name ndn.Name) (cacheKey, bool) {
	_, slot, err := gep.CKeySlot(name)
	if err != nil {
		return cacheKey{}, false
	}
	ck := cacheKey{slot: slot.Unix()}
	idx := name.Index(gep.ComponentFor, name.Index(gep.ComponentCKey, 0))
	if idx < 0 {
		return ck, true
	}
	ekey := name.SubName(idx + 1)
	if e := ekey.Index(gep.ComponentEKey, 0); e >= 0 {
		ck.group = ekey.Prefix(e).String()
	} else {
		ck.group = ekey.String()
	}
	return ck, true
}

// HandleInterest answers with produced Data when the interest name is a
// prefix of it, otherwise with the wrapped key the name selects, falling back
// to the most recently cached key.
func (s *Service) HandleInterest(_ ndn.Name, i *ndn.Interest) {
	s.log.Info("<< I: %s", i.Name)
	d := s.lookup(i.Name)
	if d == nil {
		s.log.Warning("Nothing to serve for %s", i.Name)
		return
	}
	if err := s.face.Put(d); err != nil {
		s.log.Error("Put %s: %v", d.Name, err)
		return
	}
	s.log.Info(">> D: %s", d.Name)
}

func (s *Service) lookup(name ndn.Name) *ndn.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	for j := len(s.data) - 1; j >= 0; j-- {
		if name.IsPrefixOf(s.data[j].Name) {
			return s.data[j]
		}
	}
	ck, ok := decodeKeyName(name)
	if !ok {
		return s.latest
	}
	if ck.group != "" {
		if k, ok := s.keys[ck]; ok {
			return k
		}
		return s.latest
	}
	for j := len(s.order) - 1; j >= 0; j-- {
		if s.order[j].slot == ck.slot {
			return s.keys[s.order[j]]
		}
	}
	return s.latest
}

// OnTimeout traces an interest of the producer that went unanswered.
func (s *Service) OnTimeout(i *ndn.Interest) {
	s.log.Info("Time out I: %s", i.Name)
}

// Keys lists the cached wrapped keys ordered by slot then group.
func (s *Service) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Key, 0, len(s.keys))
	for ck, d := range s.keys {
		out = append(out, Key{Name: d.Name.String(), Slot: time.Unix(ck.slot, 0).UTC(), Group: ck.group})
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Slot.Equal(out[b].Slot) {
			return out[a].Slot.Before(out[b].Slot)
		}
		return out[a].Group < out[b].Group
	})
	return out
}

// tracingFetcher logs the E-KEY exchange of the producer.
type tracingFetcher struct {
	s *Service
}

func (t tracingFetcher) ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest)) {
	t.s.face.ExpressInterest(i,
		func(i *ndn.Interest, d *ndn.Data) {
			t.s.log.Info("<< D: %s", d.Name)
			onData(i, d)
		},
		func(i *ndn.Interest) {
			t.s.OnTimeout(i)
			onTimeout(i)
		})
}
