package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string, kind types.Kind) *types.ResourceRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.ResourceRecord{
		ID:         id,
		Kind:       kind,
		Name:       id,
		Namespace:  "default",
		Spec:       types.Spec{types.OptImage: "ubuntu:22.04"},
		Phase:      types.PhasePending,
		Generation: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// storeFactories returns one constructor per backend
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"bolt": func() Store {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"badger": func() Store {
			s, err := NewInMemoryBadgerStore()
			require.NoError(t, err)
			return s
		},
		"memory": func() Store {
			return NewMemoryStore()
		},
	}
}

func TestStoreRecordLifecycle(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			rec := newRecord("vm-1", types.KindVM)
			require.NoError(t, s.SaveRecord(rec))

			got, err := s.GetRecord("vm-1")
			require.NoError(t, err)
			assert.Equal(t, types.KindVM, got.Kind)
			assert.Equal(t, "ubuntu:22.04", got.Spec[types.OptImage])
			assert.Equal(t, int64(1), got.Generation)

			// replace
			rec.Generation = 2
			rec.Phase = types.PhaseReady
			require.NoError(t, s.SaveRecord(rec))
			got, err = s.GetRecord("vm-1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Generation)
			assert.Equal(t, types.PhaseReady, got.Phase)

			// id determines kind
			err = s.SaveRecord(newRecord("vm-1", types.KindVolume))
			assert.Error(t, err)

			require.NoError(t, s.DeleteRecord("vm-1"))
			_, err = s.GetRecord("vm-1")
			assert.True(t, errors.Is(err, ErrNotFound))

			// deleting a missing record is not an error
			assert.NoError(t, s.DeleteRecord("vm-1"))
		})
	}
}

func TestStoreListByKind(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			require.NoError(t, s.SaveRecord(newRecord("vm-b", types.KindVM)))
			require.NoError(t, s.SaveRecord(newRecord("vm-a", types.KindVM)))
			require.NoError(t, s.SaveRecord(newRecord("vol-a", types.KindVolume)))

			vms, err := s.ListRecordsByKind(types.KindVM)
			require.NoError(t, err)
			require.Len(t, vms, 2)
			assert.Equal(t, "vm-a", vms[0].ID)
			assert.Equal(t, "vm-b", vms[1].ID)

			all, err := s.ListRecords()
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "vm-a", all[0].ID)
			assert.Equal(t, "vol-a", all[2].ID)

			none, err := s.ListRecordsByKind(types.KindNetwork)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	rec := newRecord("vm-1", types.KindVM)
	require.NoError(t, s.SaveRecord(rec))

	rec.Spec[types.OptImage] = "mutated"
	got, err := s.GetRecord("vm-1")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:22.04", got.Spec[types.OptImage])

	got.Spec[types.OptImage] = "mutated again"
	again, err := s.GetRecord("vm-1")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:22.04", again.Spec[types.OptImage])
}

func TestBoltStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveRecord(newRecord("net-1", types.KindNetwork)))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetRecord("net-1")
	require.NoError(t, err)
	assert.Equal(t, types.KindNetwork, got.Kind)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("etcd", t.TempDir())
	assert.Error(t, err)

	s, err := Open(DriverMemory, "")
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
