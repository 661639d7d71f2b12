package gep

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gepd/gepd/pkg/ndn"
)

var groupManagerSchema = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		schedule_id INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_name TEXT NOT NULL UNIQUE,
		schedule BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		key_name TEXT PRIMARY KEY,
		schedule_id INTEGER NOT NULL REFERENCES schedules(schedule_id) ON DELETE CASCADE,
		pubkey BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ekeys (
		ekey_name TEXT PRIMARY KEY,
		pubkey BLOB NOT NULL,
		privkey BLOB NOT NULL
	)`,
}

// Member is a key authorized under a schedule.
type Member struct {
	KeyName   ndn.Name
	Schedule  string
	PublicKey []byte
}

// GroupManagerDB stores schedules, members and cached group key pairs.
type GroupManagerDB struct {
	db *sql.DB
}

// OpenGroupManagerDB opens or creates the database at path.
func OpenGroupManagerDB(path string) (*GroupManagerDB, error) {
	db, err := openSQLite(path, groupManagerSchema)
	if err != nil {
		return nil, err
	}
	return &GroupManagerDB{db: db}, nil
}

func (g *GroupManagerDB) Close() error {
	return g.db.Close()
}

func (g *GroupManagerDB) HasSchedule(name string) (bool, error) {
	var n int
	err := g.db.QueryRow(`SELECT COUNT(*) FROM schedules WHERE schedule_name = ?`, name).Scan(&n)
	return n > 0, err
}

// ScheduleNames lists schedules in insertion order.
func (g *GroupManagerDB) ScheduleNames() ([]string, error) {
	rows, err := g.db.Query(`SELECT schedule_name FROM schedules ORDER BY schedule_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (g *GroupManagerDB) Schedule(name string) (*Schedule, error) {
	var blob []byte
	err := g.db.QueryRow(`SELECT schedule FROM schedules WHERE schedule_name = ?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return DecodeSchedule(blob)
}

// AddSchedule fails with ErrScheduleExists if the name is taken.
func (g *GroupManagerDB) AddSchedule(name string, s *Schedule) error {
	if ok, err := g.HasSchedule(name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrScheduleExists, name)
	}
	blob, err := s.Encode()
	if err != nil {
		return err
	}
	_, err = g.db.Exec(`INSERT INTO schedules (schedule_name, schedule) VALUES (?, ?)`, name, blob)
	return err
}

// UpdateSchedule replaces the schedule, adding it when absent.
func (g *GroupManagerDB) UpdateSchedule(name string, s *Schedule) error {
	blob, err := s.Encode()
	if err != nil {
		return err
	}
	_, err = g.db.Exec(`INSERT INTO schedules (schedule_name, schedule) VALUES (?, ?)
		ON CONFLICT(schedule_name) DO UPDATE SET schedule = excluded.schedule`, name, blob)
	return err
}

// DeleteSchedule removes the schedule and its members.
func (g *GroupManagerDB) DeleteSchedule(name string) error {
	_, err := g.db.Exec(`DELETE FROM schedules WHERE schedule_name = ?`, name)
	return err
}

// AddMember binds keyName to the schedule, replacing any earlier binding.
func (g *GroupManagerDB) AddMember(schedule string, keyName ndn.Name, pubKey []byte) error {
	var id int64
	err := g.db.QueryRow(`SELECT schedule_id FROM schedules WHERE schedule_name = ?`, schedule).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, schedule)
	}
	if err != nil {
		return err
	}
	_, err = g.db.Exec(`INSERT INTO members (key_name, schedule_id, pubkey) VALUES (?, ?, ?)
		ON CONFLICT(key_name) DO UPDATE SET schedule_id = excluded.schedule_id, pubkey = excluded.pubkey`,
		keyName.String(), id, pubKey)
	return err
}

func (g *GroupManagerDB) HasMember(keyName ndn.Name) (bool, error) {
	var n int
	err := g.db.QueryRow(`SELECT COUNT(*) FROM members WHERE key_name = ?`, keyName.String()).Scan(&n)
	return n > 0, err
}

func (g *GroupManagerDB) DeleteMember(keyName ndn.Name) error {
	res, err := g.db.Exec(`DELETE FROM members WHERE key_name = ?`, keyName.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, keyName)
	}
	return nil
}

// Members lists members of one schedule, or of all schedules when schedule
// is empty.
func (g *GroupManagerDB) Members(schedule string) ([]Member, error) {
	q := `SELECT m.key_name, s.schedule_name, m.pubkey FROM members m
		JOIN schedules s ON s.schedule_id = m.schedule_id`
	var args []any
	if schedule != "" {
		q += ` WHERE s.schedule_name = ?`
		args = append(args, schedule)
	}
	rows, err := g.db.Query(q+` ORDER BY m.key_name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Member
	for rows.Next() {
		var (
			keyName string
			m       Member
		)
		if err := rows.Scan(&keyName, &m.Schedule, &m.PublicKey); err != nil {
			return nil, err
		}
		if m.KeyName, err = ndn.ParseName(keyName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddEKey caches the group key pair for an E-KEY name.
func (g *GroupManagerDB) AddEKey(name ndn.Name, pub, priv []byte) error {
	_, err := g.db.Exec(`INSERT OR REPLACE INTO ekeys (ekey_name, pubkey, privkey) VALUES (?, ?, ?)`,
		name.String(), pub, priv)
	return err
}

// EKey returns the cached key pair, or ErrKeyNotAvailable.
func (g *GroupManagerDB) EKey(name ndn.Name) (pub, priv []byte, err error) {
	err = g.db.QueryRow(`SELECT pubkey, privkey FROM ekeys WHERE ekey_name = ?`, name.String()).Scan(&pub, &priv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrKeyNotAvailable, name)
	}
	return pub, priv, err
}

func (g *GroupManagerDB) CleanEKeys() error {
	_, err := g.db.Exec(`DELETE FROM ekeys`)
	return err
}
