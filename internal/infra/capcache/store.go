// Package capcache keeps the last successful capability discovery of each
// endpoint in a bbolt file.
package capcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"toolmesh/internal/domain"
)

var snapshotsBucket = []byte("capabilities")

var ErrStoreClosed = errors.New("capability cache is closed")

type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

// Open creates or opens the cache file at path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("capability cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open capability cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init capability cache: %w", err)
	}
	return &Store{db: db, path: trimmed}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put replaces the snapshot stored for snapshot.Endpoint.
func (s *Store) Put(ctx context.Context, snapshot domain.CapabilitySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(snapshot.Endpoint) == "" {
		return fmt.Errorf("snapshot endpoint is required")
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put([]byte(snapshot.Endpoint), raw)
	})
}

// Get returns the cached snapshot of endpoint, if any.
func (s *Store) Get(endpoint string) (domain.CapabilitySnapshot, bool, error) {
	var (
		snapshot domain.CapabilitySnapshot
		found    bool
	)
	err := s.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket(snapshotsBucket).Get([]byte(endpoint))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			return domain.E(domain.CodeStorageInconsistency, "capcache.get", "decode snapshot "+endpoint, err)
		}
		found = true
		return nil
	})
	return snapshot, found, err
}

// List returns every cached snapshot ordered by endpoint name. Undecodable
// entries are skipped.
func (s *Store) List() ([]domain.CapabilitySnapshot, error) {
	var out []domain.CapabilitySnapshot
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(_, value []byte) error {
			var snapshot domain.CapabilitySnapshot
			if err := json.Unmarshal(value, &snapshot); err != nil {
				return nil
			}
			out = append(out, snapshot)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, err
}

// Delete drops the snapshot of endpoint.
func (s *Store) Delete(endpoint string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Delete([]byte(endpoint))
	})
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}
