package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/hashicorp/raft"
)

// Command operations
const (
	OpSaveRecord   = "save_record"
	OpDeleteRecord = "delete_record"
)

// RecordFSM implements the Raft finite state machine over a local record
// store. Every committed log entry is applied to the store.
type RecordFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewRecordFSM creates a new FSM instance
func NewRecordFSM(store storage.Store) *RecordFSM {
	return &RecordFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Apply applies a committed Raft log entry
func (f *RecordFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpSaveRecord:
		var rec types.ResourceRecord
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return err
		}
		return f.store.SaveRecord(&rec)

	case OpDeleteRecord:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteRecord(id)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *RecordFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	records, err := f.store.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %v", err)
	}
	return &RecordSnapshot{Records: records}, nil
}

// Restore replaces the store contents with a snapshot
func (f *RecordFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot RecordSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.store.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %v", err)
	}
	for _, rec := range existing {
		if err := f.store.DeleteRecord(rec.ID); err != nil {
			return fmt.Errorf("failed to clear record %s: %v", rec.ID, err)
		}
	}

	for _, rec := range snapshot.Records {
		if err := f.store.SaveRecord(rec); err != nil {
			return fmt.Errorf("failed to restore record %s: %v", rec.ID, err)
		}
	}
	return nil
}

// RecordSnapshot is a point-in-time copy of every record
type RecordSnapshot struct {
	Records []*types.ResourceRecord `json:"records"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *RecordSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *RecordSnapshot) Release() {}
