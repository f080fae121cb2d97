package desired

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/storage"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned for unknown ids
	ErrNotFound = errors.New("resource not found")

	// ErrDeleting is returned when changing a resource whose deletion was
	// already requested
	ErrDeleting = errors.New("resource is being deleted")

	// ErrNotFailed is returned when retrying a resource that has not failed
	ErrNotFailed = errors.New("resource has not failed")
)

// ChangeFunc is notified after every change of user intent (put, delete,
// retry, start, stop, restart). Status updates do not notify.
type ChangeFunc func(rec *types.ResourceRecord)

// Store holds the declared resources. All mutations of one id are
// serialized; different ids proceed in parallel.
type Store struct {
	backend   storage.Store
	namespace string
	now       func() time.Time
	logger    zerolog.Logger

	locks *keyedMutex

	mu        sync.RWMutex
	listeners []ChangeFunc
}

// New creates a Store over a persistence backend. Records submitted
// without a namespace are placed in namespace.
func New(backend storage.Store, namespace string) *Store {
	if namespace == "" {
		namespace = "default"
	}
	return &Store{
		backend:   backend,
		namespace: namespace,
		now:       time.Now,
		logger:    log.WithComponent("desired"),
		locks:     newKeyedMutex(),
	}
}

// OnChange registers a listener for intent changes
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(rec *types.ResourceRecord) {
	s.mu.RLock()
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(rec.Copy())
	}
}

func (s *Store) load(id string) (*types.ResourceRecord, error) {
	rec, err := s.backend.GetRecord(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}
	return rec, nil
}

// NewID generates an identifier for a kind ("vm-3f2a9c1d")
func NewID(kind types.Kind) string {
	return kind.IDPrefix() + "-" + uuid.NewString()[:8]
}

// Put declares a resource. A new id starts at generation 1 in Pending. An
// existing id has its spec merged; when the merged spec differs the
// generation advances, otherwise the call changes nothing.
func (s *Store) Put(rec *types.ResourceRecord) (*types.ResourceRecord, error) {
	if rec.ID == "" {
		rec = rec.Copy()
		rec.ID = NewID(rec.Kind)
	}
	if err := types.ValidateID(rec.ID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	existing, err := s.load(rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.create(rec)
	case err != nil:
		return nil, err
	}

	if existing.Kind != rec.Kind && rec.Kind != "" {
		return nil, &types.ValidationError{Field: "kind",
			Message: fmt.Sprintf("%s is a %s, not a %s", rec.ID, existing.Kind, rec.Kind)}
	}
	return s.update(existing, rec.Name, rec.Spec)
}

func (s *Store) create(rec *types.ResourceRecord) (*types.ResourceRecord, error) {
	spec := types.Spec{}.Merge(rec.Spec)
	if err := types.ValidateSpec(rec.Kind, spec); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created := &types.ResourceRecord{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Name:       rec.Name,
		Namespace:  rec.Namespace,
		Spec:       spec,
		Phase:      types.PhasePending,
		Generation: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if created.Name == "" {
		created.Name = created.ID
	}
	if created.Namespace == "" {
		created.Namespace = s.namespace
	}

	if err := s.backend.SaveRecord(created); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", created.ID, err)
	}
	s.logger.Info().Str("resource_id", created.ID).Str("kind", string(created.Kind)).Msg("Resource declared")
	s.notify(created)
	return created.Copy(), nil
}

// update merges a spec change into an existing record. Caller holds the lock.
func (s *Store) update(existing *types.ResourceRecord, name string, change types.Spec) (*types.ResourceRecord, error) {
	if existing.Deleting() {
		return nil, fmt.Errorf("%w: %s", ErrDeleting, existing.ID)
	}

	merged := existing.Spec.Merge(change)
	if err := types.ValidateSpec(existing.Kind, merged); err != nil {
		return nil, err
	}

	renamed := name != "" && name != existing.Name
	if merged.Equal(existing.Spec) && !renamed {
		return existing, nil
	}

	if renamed {
		existing.Name = name
	}
	if !merged.Equal(existing.Spec) {
		existing.Spec = merged
		existing.Generation++
		// an in-flight action keeps its phase until its result is discarded
		if existing.Phase != types.PhaseReconciling {
			existing.Phase = types.PhasePending
		}
	}
	existing.UpdatedAt = s.now().UTC()

	if err := s.backend.SaveRecord(existing); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", existing.ID, err)
	}
	s.logger.Info().Str("resource_id", existing.ID).Int64("generation", existing.Generation).Msg("Resource updated")
	s.notify(existing)
	return existing.Copy(), nil
}

// Get returns one record
func (s *Store) Get(id string) (*types.ResourceRecord, error) {
	return s.load(id)
}

// List returns every record ordered by id
func (s *Store) List() ([]*types.ResourceRecord, error) {
	return s.backend.ListRecords()
}

// ListByKind returns the records of one kind ordered by id
func (s *Store) ListByKind(kind types.Kind) ([]*types.ResourceRecord, error) {
	return s.backend.ListRecordsByKind(kind)
}

// Delete requests removal of a resource. The record stays, in Deleting,
// until the reconciler confirms the cluster object is gone. Repeated calls
// change nothing.
func (s *Store) Delete(id string) (*types.ResourceRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if rec.Deleting() {
		return rec, nil
	}

	rec.DeletionRequested = true
	rec.Phase = types.PhaseDeleting
	rec.Generation++
	rec.RetryRequested = false
	rec.UpdatedAt = s.now().UTC()

	if err := s.backend.SaveRecord(rec); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", id, err)
	}
	s.logger.Info().Str("resource_id", id).Int64("generation", rec.Generation).Msg("Resource deletion requested")
	s.notify(rec)
	return rec.Copy(), nil
}

// Remove drops a record whose teardown was confirmed
func (s *Store) Remove(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(id)
	if err != nil {
		return err
	}
	if !rec.Deleting() {
		return fmt.Errorf("refusing to remove %s: deletion was not requested", id)
	}
	if err := s.backend.DeleteRecord(id); err != nil {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}
	s.logger.Info().Str("resource_id", id).Msg("Resource removed")
	return nil
}

// UpdateStatus applies fn to the record under its lock. fn may change the
// phase, observed state and error fields; changes to the desired spec,
// generation or deletion intent are discarded.
func (s *Store) UpdateStatus(id string, fn func(rec *types.ResourceRecord) error) (*types.ResourceRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}

	spec, generation, deletion, kind := rec.Spec.Copy(), rec.Generation, rec.DeletionRequested, rec.Kind
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Spec, rec.Generation, rec.DeletionRequested, rec.Kind = spec, generation, deletion, kind
	rec.UpdatedAt = s.now().UTC()

	if err := s.backend.SaveRecord(rec); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", id, err)
	}
	return rec.Copy(), nil
}

// Retry re-arms a Failed record so the reconciler acts on it again
func (s *Store) Retry(id string) (*types.ResourceRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if rec.Phase != types.PhaseFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFailed, id, rec.Phase)
	}

	rec.RetryRequested = true
	if rec.DeletionRequested {
		rec.Phase = types.PhaseDeleting
	} else {
		rec.Phase = types.PhasePending
	}
	rec.UpdatedAt = s.now().UTC()

	if err := s.backend.SaveRecord(rec); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", id, err)
	}
	s.logger.Info().Str("resource_id", id).Msg("Retry requested")
	s.notify(rec)
	return rec.Copy(), nil
}

func supportsPower(kind types.Kind) bool {
	return kind == types.KindVM || kind == types.KindService
}

func (s *Store) powerChange(id string, change func(rec *types.ResourceRecord) types.Spec) (*types.ResourceRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if !supportsPower(rec.Kind) {
		return nil, &types.ValidationError{Field: "action",
			Message: fmt.Sprintf("%s resources cannot be started, stopped or restarted", rec.Kind)}
	}
	return s.update(rec, "", change(rec))
}

// SetRunning starts or stops a vm or service. It is a spec change.
func (s *Store) SetRunning(id string, running bool) (*types.ResourceRecord, error) {
	value := strconv.FormatBool(running)
	return s.powerChange(id, func(rec *types.ResourceRecord) types.Spec {
		if rec.Value(types.OptRunning) == value {
			return nil
		}
		return types.Spec{types.OptRunning: value}
	})
}

// Restart rolls a vm or service by stamping a new restart time into its
// spec. Restarting a stopped resource also starts it.
func (s *Store) Restart(id string) (*types.ResourceRecord, error) {
	return s.powerChange(id, func(*types.ResourceRecord) types.Spec {
		return types.Spec{
			types.OptRestartedAt: s.now().UTC().Format(time.RFC3339Nano),
			types.OptRunning:     "true",
		}
	})
}
