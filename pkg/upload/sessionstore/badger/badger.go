// Package badger provides a badger-backed session store for deployments
// that must keep upload sessions across restarts. Entries carry a TTL so
// sessions abandoned forever disappear on their own, independently of the
// blob reaper.
package badger

import (
	"encoding/json"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/sensorsink/pkg/upload"
)

const keyPrefix = "session/"

// Store persists upload sessions in a badger database.
type Store struct {
	db  *badgerdb.DB
	ttl time.Duration
}

// Open opens (or creates) the session database at path. Sessions expire
// from the store after ttl without an update.
func Open(path string, ttl time.Duration) (*Store, error) {
	opts := badgerdb.DefaultOptions(path)
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Create allocates a session with a fresh opaque id.
func (s *Store) Create() (*upload.Session, error) {
	session := &upload.Session{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		LastTouched: time.Now().UTC(),
	}
	if err := s.Update(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the stored session, or upload.ErrSessionExpired.
func (s *Store) Get(id string) (*upload.Session, error) {
	var session upload.Session

	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %s", upload.ErrSessionExpired, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	return &session, nil
}

// Update overwrites the stored session and refreshes its TTL.
func (s *Store) Update(session *upload.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", session.ID, err)
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry(sessionKey(session.ID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Remove deletes the session; unknown ids are ignored.
func (s *Store) Remove(id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(sessionKey(id))
	})
}
