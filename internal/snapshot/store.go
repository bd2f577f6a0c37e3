// Package snapshot persists the host's game state to a local bolt file
// so a crashed or restarted host resumes the running game instead of
// losing it.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/buzzboard/buzzboard/internal/models"
)

const bucketName = "snapshots"

// ErrNotFound is returned when no snapshot exists for a room.
var ErrNotFound = errors.New("snapshot: not found")

type record struct {
	SavedAt time.Time         `json:"savedAt"`
	State   *models.GameState `json:"state"`
}

// Store holds game state snapshots keyed by room code.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the snapshot file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close snapshot db: %w", err)
	}
	return nil
}

// Save writes the state under its room code.
func (s *Store) Save(st *models.GameState) error {
	if st.RoomCode == "" {
		return errors.New("snapshot: state has no room code")
	}
	data, err := json.Marshal(record{SavedAt: time.Now().UTC(), State: st})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() // nolint

	b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
	if err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	if err := b.Put([]byte(st.RoomCode), data); err != nil {
		return fmt.Errorf("put to bucket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Load reads the snapshot for a room code.
func (s *Store) Load(roomCode string) (*models.GameState, error) {
	var rec record
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return ErrNotFound
		}
		data := b.Get([]byte(roomCode))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("json unmarshal error: %w", err)
		}
		return nil
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("view transaction error: %w", err)
	}
	if rec.State == nil {
		return nil, ErrNotFound
	}
	return rec.State, nil
}

// LoadLatest returns the most recently saved snapshot across all rooms,
// for hosts restarted without knowing their room code.
func (s *Store) LoadLatest() (*models.GameState, error) {
	var latest record
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return ErrNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("json unmarshal error: %w", err)
			}
			if rec.State != nil && (latest.State == nil || rec.SavedAt.After(latest.SavedAt)) {
				latest = rec
			}
			return nil
		})
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("view transaction error: %w", err)
	}
	if latest.State == nil {
		return nil, ErrNotFound
	}
	return latest.State, nil
}

// Delete removes a room's snapshot, used after a room rotation.
func (s *Store) Delete(roomCode string) error {
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() // nolint

	if b := tx.Bucket([]byte(bucketName)); b != nil {
		if err := b.Delete([]byte(roomCode)); err != nil {
			return fmt.Errorf("delete from bucket: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
