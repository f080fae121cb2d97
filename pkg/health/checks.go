package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/nimbus/pkg/orchestrator"
	"github.com/cuemby/nimbus/pkg/types"
)

func result(start time.Time, err error, okMessage string) Result {
	r := Result{Healthy: err == nil, Message: okMessage, CheckedAt: start, Duration: time.Since(start)}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// FuncChecker adapts a function to a Checker
type FuncChecker struct {
	fn      func(ctx context.Context) error
	message string
}

// CheckFunc creates a checker that is healthy while fn returns nil
func CheckFunc(message string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{fn: fn, message: message}
}

// Check runs the function
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	return result(start, f.fn(ctx), f.message)
}

// Type returns the health check type
func (f *FuncChecker) Type() CheckType {
	return CheckTypeFunc
}

// OrchestratorChecker verifies the cluster answers list requests
type OrchestratorChecker struct {
	client    orchestrator.Client
	namespace string
	kind      types.Kind
}

// NewOrchestratorChecker creates a checker listing volumes in namespace
func NewOrchestratorChecker(client orchestrator.Client, namespace string) *OrchestratorChecker {
	return &OrchestratorChecker{client: client, namespace: namespace, kind: types.KindVolume}
}

// Check lists one kind of object
func (o *OrchestratorChecker) Check(ctx context.Context) Result {
	start := time.Now()
	objects, err := o.client.ListObjects(ctx, o.kind, o.namespace)
	if err != nil {
		return result(start, fmt.Errorf("list %s: %w", o.kind, err), "")
	}
	return result(start, nil, fmt.Sprintf("reachable, %d %s objects", len(objects), o.kind))
}

// Type returns the health check type
func (o *OrchestratorChecker) Type() CheckType {
	return CheckTypeOrchestrator
}

// RecordLister lists stored resource records
type RecordLister interface {
	List() ([]*types.ResourceRecord, error)
}

// StoreChecker verifies the resource store can be read
type StoreChecker struct {
	lister RecordLister
}

// NewStoreChecker creates a store checker
func NewStoreChecker(lister RecordLister) *StoreChecker {
	return &StoreChecker{lister: lister}
}

// Check reads every record
func (s *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	recs, err := s.lister.List()
	if err != nil {
		return result(start, err, "")
	}
	return result(start, nil, fmt.Sprintf("%d records", len(recs)))
}

// Type returns the health check type
func (s *StoreChecker) Type() CheckType {
	return CheckTypeStore
}
