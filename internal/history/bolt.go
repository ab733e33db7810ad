package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
)

const entriesBucket = "entries"

// BoltStore implements Store using BoltDB. Keys are time-ordered ids, so a
// reverse cursor walk yields the most recent entries first.
type BoltStore struct {
	db          *bbolt.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewBoltStore opens or creates a BoltDB history file
func NewBoltStore(path string) (*BoltStore, error) {
	return NewBoltStoreWithDeps(path, UUIDGenerator{}, SystemTime{})
}

// NewBoltStoreWithDeps opens a BoltDB history file with custom dependencies for testing
func NewBoltStoreWithDeps(path string, idGen IDGenerator, timeSrc TimeSource) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db, idGenerator: idGen, timeSource: timeSrc}, nil
}

// Put saves a processed document
func (b *BoltStore) Put(_ context.Context, fields billing.Fields, emissions emission.Record) (string, error) {
	id := b.idGenerator.Generate()
	data, err := encodePayload(fields, emissions, b.timeSource.Now())
	if err != nil {
		return "", err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Put([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("saving entry: %w", err)
	}
	return id, nil
}

// List returns the most recent entries. Payloads that no longer decode are skipped.
func (b *BoltStore) List(_ context.Context, limit int) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(entriesBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			entry, err := decodeEntry(string(k), v)
			if err != nil {
				slog.Warn("Skipping unreadable history entry", "id", string(k), "error", err)
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

// Get retrieves an entry by id
func (b *BoltStore) Get(_ context.Context, id string) (*Entry, error) {
	var entry *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(entriesBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		e, err := decodeEntry(id, data)
		if err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
