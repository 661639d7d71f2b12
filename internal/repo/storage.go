package repo

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/gepd/gepd/pkg/ndn"
)

// ErrNotFound is returned when no stored packet satisfies an interest.
var ErrNotFound = errors.New("repo: no matching data")

const packetSchema = `CREATE TABLE IF NOT EXISTS packets (
	name TEXT PRIMARY KEY,
	wire BLOB NOT NULL
)`

// Storage keeps Data packets keyed by name.
type Storage struct {
	db *sql.DB
}

// OpenStorage opens or creates the packet database at path.
func OpenStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(packetSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Insert stores d, replacing an earlier packet with the same name.
func (s *Storage) Insert(d *ndn.Data) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO packets (name, wire) VALUES (?, ?)`, d.Name.String(), d.Encode())
	return err
}

func (s *Storage) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM packets`).Scan(&n)
	return n, err
}

// Find returns the stored packet that best satisfies i, honoring its child
// selector among several matches.
func (s *Storage) Find(i *ndn.Interest) (*ndn.Data, error) {
	uri := i.Name.String()
	pattern := strings.TrimSuffix(escapeLike(uri), "/") + "/%"
	rows, err := s.db.Query(`SELECT wire FROM packets WHERE name = ? OR name LIKE ? ESCAPE '\'`, uri, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	rightmost := i.Selectors != nil && i.Selectors.ChildSelector == ndn.ChildRightmost
	var best *ndn.Data
	for rows.Next() {
		var wire []byte
		if err := rows.Scan(&wire); err != nil {
			return nil, err
		}
		d, err := ndn.DecodeData(wire)
		if err != nil || !i.Matches(d) {
			continue
		}
		if best == nil {
			best = d
			continue
		}
		if c := d.Name.Compare(best.Name); (rightmost && c > 0) || (!rightmost && c < 0) {
			best = d
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
