package orchestrator

import (
	"context"
	"fmt"

	"github.com/cuemby/nimbus/pkg/types"
)

// Client is the boundary to the cluster orchestrator. Implementations must
// honour ctx deadlines and return *Error values classified by kind.
type Client interface {
	// ListObjects returns the live objects of a kind, ordered by name
	ListObjects(ctx context.Context, kind types.Kind, namespace string) ([]types.ObservedObject, error)

	// ApplyObject creates or updates an object to match the desired spec
	ApplyObject(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error)

	// DeleteObject removes an object. A missing object yields a NotFound error.
	DeleteObject(ctx context.Context, ref types.ObjectRef) error
}

// Mux routes calls to the client registered for each kind
type Mux struct {
	clients map[types.Kind]Client
}

var _ Client = &Mux{}

// NewMux creates an empty router
func NewMux() *Mux {
	return &Mux{clients: make(map[types.Kind]Client)}
}

// Handle registers client for the given kinds
func (m *Mux) Handle(client Client, kinds ...types.Kind) *Mux {
	for _, kind := range kinds {
		m.clients[kind] = client
	}
	return m
}

func (m *Mux) route(kind types.Kind) (Client, error) {
	c, ok := m.clients[kind]
	if !ok {
		return nil, NewError(types.ErrorValidation, "route", types.ObjectRef{Kind: kind},
			fmt.Errorf("no orchestrator registered for kind %q", kind))
	}
	return c, nil
}

func (m *Mux) ListObjects(ctx context.Context, kind types.Kind, namespace string) ([]types.ObservedObject, error) {
	c, err := m.route(kind)
	if err != nil {
		return nil, err
	}
	return c.ListObjects(ctx, kind, namespace)
}

func (m *Mux) ApplyObject(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	c, err := m.route(obj.Ref.Kind)
	if err != nil {
		return nil, err
	}
	return c.ApplyObject(ctx, obj)
}

func (m *Mux) DeleteObject(ctx context.Context, ref types.ObjectRef) error {
	c, err := m.route(ref.Kind)
	if err != nil {
		return err
	}
	return c.DeleteObject(ctx, ref)
}
