package gep

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/gepd/gepd/pkg/keychain"
	"github.com/gepd/gepd/pkg/ndn"
)

// GroupManager issues group key pairs for the intervals of its schedules. The
// E-KEY (public half) lets producers wrap content keys; one D-KEY per member
// carries the private half encrypted for that member.
type GroupManager struct {
	namespace ndn.Name
	db        *GroupManagerDB
	keySize   int
	freshness time.Duration
	signer    keychain.Signer
}

// NewGroupManager serves keys under <prefix>/READ/<dataType>.
func NewGroupManager(prefix, dataType ndn.Name, db *GroupManagerDB, keySize, freshnessHours int, signer keychain.Signer) *GroupManager {
	if signer == nil {
		signer = keychain.DigestSigner{}
	}
	return &GroupManager{
		namespace: ReadNamespace(prefix, dataType),
		db:        db,
		keySize:   keySize,
		freshness: time.Duration(freshnessHours) * time.Hour,
		signer:    signer,
	}
}

// Namespace returns <prefix>/READ/<dataType>.
func (m *GroupManager) Namespace() ndn.Name { return m.namespace }

func (m *GroupManager) AddSchedule(name string, s *Schedule) error {
	return m.db.AddSchedule(name, s)
}

func (m *GroupManager) UpdateSchedule(name string, s *Schedule) error {
	return m.db.UpdateSchedule(name, s)
}

func (m *GroupManager) DeleteSchedule(name string) error {
	return m.db.DeleteSchedule(name)
}

func (m *GroupManager) Schedule(name string) (*Schedule, error) {
	return m.db.Schedule(name)
}

// AddMember registers the key in cert under the named schedule and returns
// the member's key name.
func (m *GroupManager) AddMember(schedule string, cert *ndn.Data) (ndn.Name, error) {
	c, err := keychain.ParseCertificate(cert)
	if err != nil {
		return nil, err
	}
	if err := m.db.AddMember(schedule, c.KeyName, cert.Content); err != nil {
		return nil, err
	}
	return c.KeyName, nil
}

func (m *GroupManager) RemoveMember(keyName ndn.Name) error {
	return m.db.DeleteMember(keyName)
}

// Members lists the members of schedule, or all members when it is empty.
func (m *GroupManager) Members(schedule string) ([]Member, error) {
	return m.db.Members(schedule)
}

// CoveringInterval combines the covering intervals of every schedule at slot.
// When some schedule grants access the result is the positive intersection
// together with the members of the granting schedules; otherwise it is the
// negative intersection and no members. The interval is invalid only when
// there are no schedules.
func (m *GroupManager) CoveringInterval(slot time.Time) (bool, Interval, []Member, error) {
	names, err := m.db.ScheduleNames()
	if err != nil {
		return false, Interval{}, nil, err
	}
	var (
		pos, neg Interval
		members  []Member
	)
	for _, name := range names {
		s, err := m.db.Schedule(name)
		if err != nil {
			return false, Interval{}, nil, err
		}
		ok, iv := s.CoveringInterval(slot)
		if ok {
			pos = intersectValid(pos, iv)
			ms, err := m.db.Members(name)
			if err != nil {
				return false, Interval{}, nil, err
			}
			members = append(members, ms...)
			continue
		}
		neg = intersectValid(neg, iv)
	}
	if !pos.Valid {
		return false, neg, nil, nil
	}
	if neg.Valid {
		pos = pos.Intersect(neg)
	}
	return true, pos, members, nil
}

func intersectValid(acc, iv Interval) Interval {
	if !acc.Valid {
		return iv
	}
	return acc.Intersect(iv)
}

// GroupKey returns the key artifacts for slot: the E-KEY of the covering
// interval followed by one D-KEY per member authorized at slot. Slots that no
// schedule grants still get an E-KEY for the gap they fall in, so producers
// can always wrap their content keys, but no member receives its D-KEY. The
// result is empty when there are no schedules. Nothing is retained beyond the
// cached key pair.
func (m *GroupManager) GroupKey(slot time.Time) ([]*ndn.Data, error) {
	granted, iv, members, err := m.CoveringInterval(slot.UTC())
	if err != nil {
		return nil, err
	}
	if !iv.Valid || iv.IsEmpty() {
		return nil, nil
	}
	pub, priv, err := m.keyPair(iv)
	if err != nil {
		return nil, err
	}
	ekey, err := m.eKeyData(iv, pub)
	if err != nil {
		return nil, err
	}
	out := []*ndn.Data{ekey}
	if !granted {
		return out, nil
	}
	for _, member := range members {
		dkey, err := m.dKeyData(iv, priv, member)
		if err != nil {
			return nil, fmt.Errorf("gep: D-KEY for %s: %w", member.KeyName, err)
		}
		out = append(out, dkey)
	}
	return out, nil
}

func (m *GroupManager) keyPair(iv Interval) (pub, priv []byte, err error) {
	name := EKeyName(m.namespace, iv)
	pub, priv, err = m.db.EKey(name)
	if err == nil {
		return pub, priv, nil
	}
	if !errors.Is(err, ErrKeyNotAvailable) {
		return nil, nil, err
	}
	key, err := rsa.GenerateKey(rand.Reader, m.keySize)
	if err != nil {
		return nil, nil, err
	}
	if pub, err = x509.MarshalPKIXPublicKey(&key.PublicKey); err != nil {
		return nil, nil, err
	}
	if priv, err = x509.MarshalPKCS8PrivateKey(key); err != nil {
		return nil, nil, err
	}
	return pub, priv, m.db.AddEKey(name, pub, priv)
}

func (m *GroupManager) eKeyData(iv Interval, pub []byte) (*ndn.Data, error) {
	d := ndn.NewData(EKeyName(m.namespace, iv), pub)
	d.MetaInfo.FreshnessPeriod = m.freshness
	return d, m.signer.Sign(d)
}

func (m *GroupManager) dKeyData(iv Interval, priv []byte, member Member) (*ndn.Data, error) {
	parsed, err := x509.ParsePKIXPublicKey(member.PublicKey)
	if err != nil {
		return nil, err
	}
	memberKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, keychain.ErrUnsupportedKey
	}
	name := DKeyName(m.namespace, iv, member.KeyName)
	content, err := EncryptAsymmetric(name, priv, memberKey, member.KeyName)
	if err != nil {
		return nil, err
	}
	d := ndn.NewData(name, content)
	d.MetaInfo.FreshnessPeriod = m.freshness
	return d, m.signer.Sign(d)
}
