package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// ErrNotLeader is returned for writes submitted to a follower
var ErrNotLeader = errors.New("not the raft leader")

const applyTimeout = 5 * time.Second

// Config holds configuration for a replicated store
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// ReplicatedStore is a storage.Store whose writes go through the Raft log.
// Reads are served from the local store the FSM applies to.
type ReplicatedStore struct {
	nodeID string
	local  storage.Store
	fsm    *RecordFSM
	raft   *raft.Raft
	logger zerolog.Logger

	closers []func() error
}

var _ storage.Store = &ReplicatedStore{}

func raftConfig(nodeID string, logger zerolog.Logger) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)
	config.LogOutput = logger

	// LAN timings: followers elect a new leader within a few seconds
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

// Open starts a single-node Raft cluster persisted under cfg.DataDir and
// applying to local. The cluster is bootstrapped on first start.
func Open(cfg *Config, local storage.Store) (*ReplicatedStore, error) {
	raftDir := filepath.Join(cfg.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raft directory: %v", err)
	}

	logger := log.WithComponent("raft")
	config := raftConfig(cfg.NodeID, logger)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %v", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %v", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %v", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("failed to create stable store: %v", err)
	}

	s, err := newReplicatedStore(config, local, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return nil, err
	}
	s.closers = append(s.closers, transport.Close, logStore.Close, stableStore.Close)
	return s, nil
}

func newReplicatedStore(config *raft.Config, local storage.Store, logs raft.LogStore, stable raft.StableStore,
	snaps raft.SnapshotStore, transport raft.Transport) (*ReplicatedStore, error) {

	fsm := NewRecordFSM(local)

	existing, err := raft.HasExistingState(logs, stable, snaps)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect raft state: %v", err)
	}

	r, err := raft.NewRaft(config, fsm, logs, stable, snaps, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %v", err)
	}

	if !existing {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			r.Shutdown()
			return nil, fmt.Errorf("failed to bootstrap cluster: %v", err)
		}
	}

	return &ReplicatedStore{
		nodeID: string(config.LocalID),
		local:  local,
		fsm:    fsm,
		raft:   r,
		logger: log.WithComponent("replicated-store"),
	}, nil
}

// WaitForLeader blocks until this node holds leadership or the timeout
// elapses
func (s *ReplicatedStore) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.IsLeader() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("no leader elected within %s", timeout)
}

// IsLeader returns true if this node is the Raft leader
func (s *ReplicatedStore) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current leader
func (s *ReplicatedStore) LeaderAddr() string {
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

// Stats returns Raft statistics
func (s *ReplicatedStore) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"node_id":        s.nodeID,
		"state":          s.raft.State().String(),
		"last_log_index": s.raft.LastIndex(),
		"applied_index":  s.raft.AppliedIndex(),
		"leader":         s.LeaderAddr(),
	}
	if future := s.raft.GetConfiguration(); future.Error() == nil {
		stats["peers"] = len(future.Configuration().Servers)
	}
	return stats
}

// Apply submits a command to the Raft log and returns the FSM result
func (s *ReplicatedStore) Apply(cmd Command) error {
	if !s.IsLeader() {
		return ErrNotLeader
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	future := s.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %v", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func (s *ReplicatedStore) SaveRecord(rec *types.ResourceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Apply(Command{Op: OpSaveRecord, Data: data})
}

func (s *ReplicatedStore) DeleteRecord(id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.Apply(Command{Op: OpDeleteRecord, Data: data})
}

func (s *ReplicatedStore) GetRecord(id string) (*types.ResourceRecord, error) {
	return s.local.GetRecord(id)
}

func (s *ReplicatedStore) ListRecords() ([]*types.ResourceRecord, error) {
	return s.local.ListRecords()
}

func (s *ReplicatedStore) ListRecordsByKind(kind types.Kind) ([]*types.ResourceRecord, error) {
	return s.local.ListRecordsByKind(kind)
}

// Snapshot forces a Raft snapshot, compacting the log
func (s *ReplicatedStore) Snapshot() error {
	return s.raft.Snapshot().Error()
}

// Close shuts Raft down and closes the local store
func (s *ReplicatedStore) Close() error {
	var errs []error
	if err := s.raft.Shutdown().Error(); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown raft: %v", err))
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close raft resource")
		}
	}
	if err := s.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %v", err))
	}
	return errors.Join(errs...)
}
