package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string) *types.ResourceRecord {
	return &types.ResourceRecord{
		ID:         id,
		Kind:       types.KindVolume,
		Namespace:  "default",
		Spec:       types.Spec{types.OptSize: "10Gi"},
		Phase:      types.PhasePending,
		Generation: 1,
	}
}

func applyCommand(t *testing.T, fsm *RecordFSM, op string, v interface{}) interface{} {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Data: cmd})
}

func TestFSMApply(t *testing.T) {
	local := storage.NewMemoryStore()
	fsm := NewRecordFSM(local)

	assert.Nil(t, applyCommand(t, fsm, OpSaveRecord, record("vol-1")))
	got, err := local.GetRecord("vol-1")
	require.NoError(t, err)
	assert.Equal(t, "10Gi", got.Spec[types.OptSize])

	assert.Nil(t, applyCommand(t, fsm, OpDeleteRecord, "vol-1"))
	_, err = local.GetRecord("vol-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	resp := applyCommand(t, fsm, "bogus", "x")
	assert.Error(t, resp.(error))
}

// memorySink collects a persisted snapshot
type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
func (s *memorySink) Close() error  { return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	src := storage.NewMemoryStore()
	require.NoError(t, src.SaveRecord(record("vol-1")))
	require.NoError(t, src.SaveRecord(record("vol-2")))

	snap, err := NewRecordFSM(src).Snapshot()
	require.NoError(t, err)
	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	dst := storage.NewMemoryStore()
	require.NoError(t, dst.SaveRecord(record("vol-stale")))
	require.NoError(t, NewRecordFSM(dst).Restore(io.NopCloser(&sink.Buffer)))

	all, err := dst.ListRecords()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "vol-1", all[0].ID)
	assert.Equal(t, "vol-2", all[1].ID)
}

func newInmemReplicatedStore(t *testing.T) *ReplicatedStore {
	t.Helper()
	addr, transport := raft.NewInmemTransport("")
	config := raftConfig("node-1", log.Logger)
	s, err := newReplicatedStore(config, storage.NewMemoryStore(),
		raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), transport)
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.WaitForLeader(5*time.Second))
	return s
}

func TestReplicatedStoreWritesThroughRaft(t *testing.T) {
	s := newInmemReplicatedStore(t)

	require.NoError(t, s.SaveRecord(record("vol-1")))
	got, err := s.GetRecord("vol-1")
	require.NoError(t, err)
	assert.Equal(t, types.KindVolume, got.Kind)

	vols, err := s.ListRecordsByKind(types.KindVolume)
	require.NoError(t, err)
	assert.Len(t, vols, 1)

	// kind conflicts surface from the FSM
	bad := record("vol-1")
	bad.Kind = types.KindVM
	assert.Error(t, s.SaveRecord(bad))

	require.NoError(t, s.DeleteRecord("vol-1"))
	_, err = s.GetRecord("vol-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	stats := s.Stats()
	assert.Equal(t, "Leader", stats["state"])
	assert.Equal(t, 1, stats["peers"])
	require.NoError(t, s.Snapshot())
}
