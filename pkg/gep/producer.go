package gep

import (
	"crypto/rsa"
	"crypto/x509"
	"time"

	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/ndn"
)

// Fetcher expresses interests. Exactly one of the callbacks runs for each
// interest, on the caller's event loop.
type Fetcher interface {
	ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest))
}

// EncryptedKeysFunc receives the content key wrapped under every E-KEY that
// could be resolved for a slot.
type EncryptedKeysFunc func(keys []*ndn.Data)

type eKeyInfo struct {
	name  ndn.Name
	begin time.Time
	end   time.Time
	key   *rsa.PublicKey
}

type keyRequest struct {
	pending  int
	attempts map[string]int
	keys     []*ndn.Data
}

// Producer encrypts content under hourly content keys and wraps those keys
// for every E-KEY namespace above its data type.
type Producer struct {
	namespace      ndn.Name
	eKeyNamespaces []ndn.Name
	eKeys          map[string]*eKeyInfo
	requests       map[int64]*keyRequest
	fetcher        Fetcher
	db             *ProducerDB
	repeatAttempts int
	lifetime       time.Duration
	signer         keychain.Signer
}

// NewProducer publishes under <prefix>/SAMPLE/<dataType> and looks for E-KEYs
// under <prefix>/READ/<t>/E-KEY for every non-empty prefix t of dataType.
func NewProducer(prefix, dataType ndn.Name, fetcher Fetcher, db *ProducerDB, repeatAttempts int, signer keychain.Signer) *Producer {
	if signer == nil {
		signer = keychain.DigestSigner{}
	}
	p := &Producer{
		namespace:      SampleNamespace(prefix, dataType),
		eKeys:          make(map[string]*eKeyInfo),
		requests:       make(map[int64]*keyRequest),
		fetcher:        fetcher,
		db:             db,
		repeatAttempts: repeatAttempts,
		lifetime:       ndn.DefaultInterestLifetime,
		signer:         signer,
	}
	for t := dataType; t.Len() > 0; t = t.Prefix(-1) {
		p.eKeyNamespaces = append(p.eKeyNamespaces, ReadNamespace(prefix, t).AppendString(ComponentEKey))
	}
	return p
}

// SetInterestLifetime changes the lifetime of E-KEY interests.
func (p *Producer) SetInterestLifetime(d time.Duration) { p.lifetime = d }

// Namespace returns <prefix>/SAMPLE/<dataType>.
func (p *Producer) Namespace() ndn.Name { return p.namespace }

// EKeyNamespaces returns the namespaces queried for E-KEYs, longest first.
func (p *Producer) EKeyNamespaces() []ndn.Name { return p.eKeyNamespaces }

// CreateContentKey makes sure a content key exists for the hour of slot and
// wraps it for every E-KEY namespace. cb runs once, after every namespace has
// produced a wrapped key or run out of attempts. A stored key is reused.
func (p *Producer) CreateContentKey(slot time.Time, cb EncryptedKeysFunc) (ndn.Name, error) {
	slot = RoundToHour(slot)
	name := CKeyName(p.namespace, slot)
	has, err := p.db.HasContentKey(slot)
	if err != nil {
		return nil, err
	}
	if !has {
		key, err := GenerateAESKey()
		if err != nil {
			return nil, err
		}
		if err := p.db.AddContentKey(slot, key); err != nil {
			return nil, err
		}
	}
	if cb == nil {
		cb = func([]*ndn.Data) {}
	}
	req := &keyRequest{pending: len(p.eKeyNamespaces), attempts: make(map[string]int)}
	p.requests[slot.Unix()] = req
	if req.pending == 0 {
		p.finish(slot, req, cb)
		return name, nil
	}
	exclude := []ndn.ExcludeRange{ndn.ExcludeAfter(SlotComponent(slot))}
	for _, ns := range p.eKeyNamespaces {
		if info := p.eKeys[ns.String()]; info != nil && !slot.Before(info.begin) && slot.Before(info.end) {
			p.wrap(info, slot, req, cb)
			continue
		}
		req.attempts[ns.String()] = 0
		p.sendKeyInterest(ns, exclude, slot, req, cb)
	}
	return name, nil
}

func (p *Producer) sendKeyInterest(ns ndn.Name, exclude []ndn.ExcludeRange, slot time.Time, req *keyRequest, cb EncryptedKeysFunc) {
	i := &ndn.Interest{
		Name:     ns,
		Nonce:    ndn.RandomNonce(),
		Lifetime: p.lifetime,
		Selectors: &ndn.Selectors{
			ChildSelector: ndn.ChildRightmost,
			Exclude:       exclude,
		},
	}
	p.fetcher.ExpressInterest(i,
		func(i *ndn.Interest, d *ndn.Data) { p.onEKey(i, d, slot, req, cb) },
		func(i *ndn.Interest) { p.onEKeyTimeout(i, slot, req, cb) },
	)
}

func (p *Producer) onEKey(i *ndn.Interest, d *ndn.Data, slot time.Time, req *keyRequest, cb EncryptedKeysFunc) {
	iv, err := KeyInterval(d.Name)
	if err != nil {
		p.resolve(slot, req, cb)
		return
	}
	if !slot.Before(iv.End) {
		// The newest E-KEY at or before slot ended already; look past it.
		req.attempts[i.Name.String()] = 0
		exclude := append([]ndn.ExcludeRange{{To: d.Name.At(i.Name.Len())}}, i.Selectors.Exclude...)
		p.sendKeyInterest(i.Name, exclude, slot, req, cb)
		return
	}
	parsed, err := x509.ParsePKIXPublicKey(d.Content)
	pub, ok := parsed.(*rsa.PublicKey)
	if err != nil || !ok {
		p.resolve(slot, req, cb)
		return
	}
	info := &eKeyInfo{name: d.Name.Append(), begin: iv.Start, end: iv.End, key: pub}
	p.eKeys[i.Name.String()] = info
	p.wrap(info, slot, req, cb)
}

func (p *Producer) onEKeyTimeout(i *ndn.Interest, slot time.Time, req *keyRequest, cb EncryptedKeysFunc) {
	ns := i.Name.String()
	if req.attempts[ns] < p.repeatAttempts {
		req.attempts[ns]++
		var exclude []ndn.ExcludeRange
		if i.Selectors != nil {
			exclude = i.Selectors.Exclude
		}
		p.sendKeyInterest(i.Name, exclude, slot, req, cb)
		return
	}
	p.resolve(slot, req, cb)
}

func (p *Producer) wrap(info *eKeyInfo, slot time.Time, req *keyRequest, cb EncryptedKeysFunc) {
	defer p.resolve(slot, req, cb)
	key, err := p.db.ContentKey(slot)
	if err != nil {
		return
	}
	name := CKeyName(p.namespace, slot).AppendString(ComponentFor).Append(info.name)
	content, err := EncryptAsymmetric(name, key, info.key, info.name)
	if err != nil {
		return
	}
	d := ndn.NewData(name, content)
	if err := p.signer.Sign(d); err != nil {
		return
	}
	req.keys = append(req.keys, d)
}

// resolve marks one namespace of req as done.
func (p *Producer) resolve(slot time.Time, req *keyRequest, cb EncryptedKeysFunc) {
	req.pending--
	if req.pending == 0 {
		p.finish(slot, req, cb)
	}
}

func (p *Producer) finish(slot time.Time, req *keyRequest, cb EncryptedKeysFunc) {
	if p.requests[slot.Unix()] == req {
		delete(p.requests, slot.Unix())
	}
	cb(req.keys)
}

// Produce encrypts payload under the content key of slot's hour, creating the
// key first if needed. The same slot, payload and key always yield the same
// Data.
func (p *Producer) Produce(slot time.Time, payload []byte) (*ndn.Data, error) {
	slot = RoundToHour(slot)
	has, err := p.db.HasContentKey(slot)
	if err != nil {
		return nil, err
	}
	if !has {
		if _, err := p.CreateContentKey(slot, nil); err != nil {
			return nil, err
		}
	}
	key, err := p.db.ContentKey(slot)
	if err != nil {
		return nil, err
	}
	name := ContentName(p.namespace, slot)
	content, err := EncryptSymmetric(name, payload, key, CKeyName(p.namespace, slot))
	if err != nil {
		return nil, err
	}
	d := ndn.NewData(name, content)
	return d, p.signer.Sign(d)
}
