package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/nimbus/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketResources = []byte("resources")
	// bucketKinds indexes id -> kind
	bucketKinds = []byte("resource_kinds")
)

// BoltStore implements Store using BoltDB. Records live in one nested
// bucket per kind so listing a kind never decodes the others.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "nimbus.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		resources, err := tx.CreateBucketIfNotExists(bucketResources)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketResources, err)
		}
		for _, kind := range types.AllKinds {
			if _, err := resources.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", kind, err)
			}
		}
		if _, err := tx.CreateBucketIfNotExists(bucketKinds); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketKinds, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func kindBucket(tx *bolt.Tx, kind types.Kind) (*bolt.Bucket, error) {
	b := tx.Bucket(bucketResources).Bucket([]byte(kind))
	if b == nil {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return b, nil
}

func (s *BoltStore) SaveRecord(rec *types.ResourceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketKinds)
		if prev := index.Get([]byte(rec.ID)); prev != nil && types.Kind(prev) != rec.Kind {
			return fmt.Errorf("record %s already exists with kind %s", rec.ID, prev)
		}
		b, err := kindBucket(tx, rec.Kind)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rec.ID), data); err != nil {
			return err
		}
		return index.Put([]byte(rec.ID), []byte(rec.Kind))
	})
}

func (s *BoltStore) GetRecord(id string) (*types.ResourceRecord, error) {
	var rec types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		kind := tx.Bucket(bucketKinds).Get([]byte(id))
		if kind == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		b, err := kindBucket(tx, types.Kind(kind))
		if err != nil {
			return err
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func decodeBucket(b *bolt.Bucket, out *[]*types.ResourceRecord) error {
	return b.ForEach(func(k, v []byte) error {
		var rec types.ResourceRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decoding record %s: %w", k, err)
		}
		*out = append(*out, &rec)
		return nil
	})
}

func (s *BoltStore) ListRecords() ([]*types.ResourceRecord, error) {
	var records []*types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, kind := range types.AllKinds {
			b, err := kindBucket(tx, kind)
			if err != nil {
				return err
			}
			if err := decodeBucket(b, &records); err != nil {
				return err
			}
		}
		return nil
	})
	sortByID(records)
	return records, err
}

func (s *BoltStore) ListRecordsByKind(kind types.Kind) ([]*types.ResourceRecord, error) {
	var records []*types.ResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := kindBucket(tx, kind)
		if err != nil {
			return err
		}
		return decodeBucket(b, &records)
	})
	return records, err
}

func (s *BoltStore) DeleteRecord(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketKinds)
		kind := index.Get([]byte(id))
		if kind == nil {
			return nil
		}
		b, err := kindBucket(tx, types.Kind(kind))
		if err != nil {
			return err
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
}
