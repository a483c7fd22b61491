// Package tokenstore is the durable record of issued admin tokens and
// their revocation state (spec.md §4.5).
//
// Adapted from the teacher's pkg/storage/boltdb.go: one bbolt bucket,
// JSON-marshaled records keyed by a monotonic bbolt sequence number so IDs
// are stable across restarts and never reused, matching spec.md §3's
// AdminToken invariants.
package tokenstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrTokenNotFound is returned by RevokeByID when the ID names no record.
// Exported so alternate Store implementations (e.g. test doubles) can
// return the same sentinel.
var ErrTokenNotFound = errors.New("token not found")

var bucketTokens = []byte("admin_tokens")

// Record is a persisted AdminToken. The plaintext token is never stored —
// only Hash, which Scheme identifies how to verify.
type Record struct {
	ID        uint64     `json:"id"`
	Hash      string     `json:"hash"`
	Scheme    string     `json:"scheme"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the record is permanently invalid.
func (r *Record) Revoked() bool { return r.RevokedAt != nil }

// Store is the persistence interface the admission package depends on.
// Writes are durable before returning (spec.md §4.2 "Side effects").
type Store interface {
	AppendToken(hash, scheme string) (*Record, error)
	RevokeByID(id uint64) (*Record, error)
	List() ([]*Record, error)
	CountActive() (int, error)
	Close() error
}

// BoltStore implements Store on a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the token store file under dataDir.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "gateway.state")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init token store: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// AppendToken persists a new record, assigning it the next sequence ID.
func (s *BoltStore) AppendToken(hash, scheme string) (*Record, error) {
	rec := &Record{Hash: hash, Scheme: scheme, CreatedAt: time.Now().UTC()}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), data)
	})
	if err != nil {
		return nil, fmt.Errorf("append token: %w", err)
	}
	return rec, nil
}

// RevokeByID marks a token permanently invalid. Revoking an
// already-revoked token is an idempotent no-op that returns the existing
// record unchanged (spec.md §4.2 AlreadyRevoked).
func (s *BoltStore) RevokeByID(id uint64) (*Record, error) {
	var rec Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get(idKey(id))
		if data == nil {
			return ErrTokenNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Revoked() {
			return nil
		}
		now := time.Now().UTC()
		rec.RevokedAt = &now

		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every token record, ordered by ID ascending.
func (s *BoltStore) List() ([]*Record, error) {
	var records []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

// CountActive returns the number of non-revoked tokens, used to implement
// the bootstrap rule (spec.md §4.2).
func (s *BoltStore) CountActive() (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range records {
		if !r.Revoked() {
			count++
		}
	}
	return count, nil
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// ErrNotFound reports whether err is the "no such token ID" error.
func ErrNotFound(err error) bool { return errors.Is(err, ErrTokenNotFound) }
