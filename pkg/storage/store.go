package storage

import (
	"errors"

	"github.com/cuemby/nimbus/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Store persists resource records. Implementations return copies: callers
// never share memory with the store.
type Store interface {
	// SaveRecord creates or replaces a record
	SaveRecord(rec *types.ResourceRecord) error
	GetRecord(id string) (*types.ResourceRecord, error)
	// ListRecords returns every record ordered by id
	ListRecords() ([]*types.ResourceRecord, error)
	ListRecordsByKind(kind types.Kind) ([]*types.ResourceRecord, error)
	DeleteRecord(id string) error

	// Utility
	Close() error
}

// Driver names accepted by Open
const (
	DriverBolt   = "bolt"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Open creates the store selected by driver
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case DriverBolt, "":
		return NewBoltStore(dataDir)
	case DriverBadger:
		return NewBadgerStore(dataDir)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
