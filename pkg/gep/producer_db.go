package gep

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var producerSchema = []string{
	`CREATE TABLE IF NOT EXISTS contentkeys (
		timeslot INTEGER PRIMARY KEY,
		key BLOB NOT NULL
	)`,
}

// ProducerDB stores content keys by hour slot.
type ProducerDB struct {
	db *sql.DB
}

func OpenProducerDB(path string) (*ProducerDB, error) {
	db, err := openSQLite(path, producerSchema)
	if err != nil {
		return nil, err
	}
	return &ProducerDB{db: db}, nil
}

func (p *ProducerDB) Close() error {
	return p.db.Close()
}

func slotKey(t time.Time) int64 {
	return RoundToHour(t).Unix()
}

func (p *ProducerDB) HasContentKey(slot time.Time) (bool, error) {
	var n int
	err := p.db.QueryRow(`SELECT COUNT(*) FROM contentkeys WHERE timeslot = ?`, slotKey(slot)).Scan(&n)
	return n > 0, err
}

func (p *ProducerDB) ContentKey(slot time.Time) ([]byte, error) {
	var key []byte
	err := p.db.QueryRow(`SELECT key FROM contentkeys WHERE timeslot = ?`, slotKey(slot)).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoContentKey, SlotComponent(RoundToHour(slot)))
	}
	return key, err
}

func (p *ProducerDB) AddContentKey(slot time.Time, key []byte) error {
	_, err := p.db.Exec(`INSERT INTO contentkeys (timeslot, key) VALUES (?, ?)`, slotKey(slot), key)
	return err
}

func (p *ProducerDB) DeleteContentKey(slot time.Time) error {
	_, err := p.db.Exec(`DELETE FROM contentkeys WHERE timeslot = ?`, slotKey(slot))
	return err
}
