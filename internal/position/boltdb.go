package position

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
)

const bucketName = "positions"

// BoltDBStore implements Store using BoltDB.
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore creates a new BoltDB position store.
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A locked file usually means a previous process was killed without
		// graceful shutdown and is still holding the lock.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB position store initialized")

	return &BoltDBStore{db: db}, nil
}

// Get retrieves the position for a source. Returns nil for a never-read
// source.
func (s *BoltDBStore) Get(ctx context.Context, sourceKey string) (*domain.FilePosition, error) {
	var pos *domain.FilePosition

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(sourceKey))
		if val == nil {
			return nil
		}

		var p domain.FilePosition
		if err := json.Unmarshal(val, &p); err != nil {
			return fmt.Errorf("invalid position value: %w", err)
		}
		pos = &p
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return pos, nil
}

// Set stores the position for a source, overwriting any previous value.
func (s *BoltDBStore) Set(ctx context.Context, pos *domain.FilePosition) error {
	val, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(pos.SourceKey), val)
	})

	if err != nil {
		return fmt.Errorf("failed to set position: %w", err)
	}

	log.Debug().
		Str("source", pos.SourceKey).
		Int64("offset", pos.Offset).
		Uint64("inode", pos.Inode).
		Msg("Position updated")

	return nil
}

// Delete removes the position for a source.
func (s *BoltDBStore) Delete(ctx context.Context, sourceKey string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(sourceKey))
	})

	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	return nil
}

// List returns all stored positions keyed by source.
func (s *BoltDBStore) List(ctx context.Context) (map[string]*domain.FilePosition, error) {
	result := make(map[string]*domain.FilePosition)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			var p domain.FilePosition
			if err := json.Unmarshal(v, &p); err != nil {
				log.Warn().
					Str("source", string(k)).
					Err(err).
					Msg("Skipping undecodable position entry")
				return nil
			}
			result[string(k)] = &p
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database.
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB position store")
	return s.db.Close()
}
