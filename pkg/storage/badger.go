package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/types"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerStore implements Store using Badger. Keys are
// "resource/<kind>/<id>" with an "index/<id>" entry holding the kind.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a Badger database under dataDir
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Join(filepath.Clean(dataDir), "badger"))
	return openBadger(opts)
}

// NewInMemoryBadgerStore opens a Badger database that never touches disk
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	opts = opts.
		WithLogger(badgerLogger{logger: log.WithComponent("badger")}).
		WithValueLogFileSize(1 << 24)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func recordKey(kind types.Kind, id string) []byte {
	return []byte("resource/" + string(kind) + "/" + id)
}

func kindPrefix(kind types.Kind) []byte {
	return []byte("resource/" + string(kind) + "/")
}

func indexKey(id string) []byte {
	return []byte("index/" + id)
}

func lookupKind(txn *badger.Txn, id string) (types.Kind, error) {
	item, err := txn.Get(indexKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", err
	}
	var kind types.Kind
	err = item.Value(func(v []byte) error {
		kind = types.Kind(v)
		return nil
	})
	return kind, err
}

func (s *BadgerStore) SaveRecord(rec *types.ResourceRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := lookupKind(txn, rec.ID)
		switch {
		case err == nil && prev != rec.Kind:
			return fmt.Errorf("record %s already exists with kind %s", rec.ID, prev)
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(rec.Kind, rec.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(rec.ID), []byte(rec.Kind))
	})
}

func (s *BadgerStore) GetRecord(id string) (*types.ResourceRecord, error) {
	var out types.ResourceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		kind, err := lookupKind(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(recordKey(kind, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) scan(prefix []byte) ([]*types.ResourceRecord, error) {
	var records []*types.ResourceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var rec types.ResourceRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("decoding record %s: %w", item.Key(), err)
				}
				records = append(records, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

func (s *BadgerStore) ListRecords() ([]*types.ResourceRecord, error) {
	records, err := s.scan([]byte("resource/"))
	if err != nil {
		return nil, err
	}
	sortByID(records)
	return records, nil
}

func (s *BadgerStore) ListRecordsByKind(kind types.Kind) ([]*types.ResourceRecord, error) {
	return s.scan(kindPrefix(kind))
}

func (s *BadgerStore) DeleteRecord(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		kind, err := lookupKind(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(recordKey(kind, id)); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

// badgerLogger routes Badger's internal logging through zerolog
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), args...)
}
