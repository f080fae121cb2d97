// Package projector turns resource records into the views served to users.
// Projection is pure: it reads only the record, never the cluster.
package projector

import (
	"sort"
	"strconv"

	"github.com/cuemby/nimbus/pkg/types"
	"k8s.io/apimachinery/pkg/api/resource"
)

// User-facing status values
const (
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusUpdating = "updating"
	StatusDegraded = "degraded"
	StatusDeleting = "deleting"
	StatusFailed   = "failed"
)

// Project builds the external view of a record. Addresses and replica
// counts come only from the observed object; nothing is synthesized.
func Project(rec *types.ResourceRecord) types.ExternalView {
	view := types.ExternalView{
		ID:                 rec.ID,
		Kind:               rec.Kind,
		Name:               rec.Name,
		Namespace:          rec.Namespace,
		Phase:              rec.Phase,
		Status:             Status(rec),
		Generation:         rec.Generation,
		ObservedGeneration: rec.ObservedGeneration,
		Spec:               rec.Spec.Copy(),
		ObservedStale:      rec.ObservedStale,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if rec.LastError != nil {
		e := *rec.LastError
		view.LastError = &e
	}
	if !rec.ObservedAt.IsZero() {
		at := rec.ObservedAt
		view.ObservedAt = &at
	}

	if obs := rec.Observed; obs != nil {
		view.IP = obs.IP
		view.Endpoint = obs.Endpoint
		view.Replicas = obs.Replicas
		view.ReadyReplicas = obs.ReadyReplicas
		if rec.Kind == types.KindNetwork {
			view.Gateway = types.Gateway(obs.Spec[types.OptCIDR])
		}
	}
	return view
}

// ProjectAll projects records in order
func ProjectAll(recs []*types.ResourceRecord) []types.ExternalView {
	views := make([]types.ExternalView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, Project(rec))
	}
	return views
}

// Status derives the user-facing status of a record
func Status(rec *types.ResourceRecord) string {
	obs := rec.Observed
	switch {
	case rec.Phase == types.PhaseFailed:
		return StatusFailed
	case rec.Deleting():
		return StatusDeleting
	case obs == nil:
		return StatusCreating
	case !desiredRunning(rec) && obs.ReadyReplicas == 0:
		return StatusStopped
	case rec.Phase == types.PhaseReady && obs.Ready:
		return StatusRunning
	case rec.Phase == types.PhaseReconciling || rec.Phase == types.PhasePending:
		return StatusUpdating
	default:
		return StatusDegraded
	}
}

func desiredRunning(rec *types.ResourceRecord) bool {
	running, err := strconv.ParseBool(rec.Value(types.OptRunning))
	if err != nil {
		return true
	}
	return running
}

// KindStats counts the resources of one kind
type KindStats struct {
	Total    int            `json:"total"`
	Running  int            `json:"running"`
	Stopped  int            `json:"stopped"`
	ByStatus map[string]int `json:"byStatus"`
}

// Capacity sums the resources declared by specs
type Capacity struct {
	CPU     string `json:"cpu"`
	Memory  string `json:"memory"`
	Storage string `json:"storage"`
}

// Stats is the dashboard summary
type Stats struct {
	Total     int                      `json:"total"`
	Kinds     map[types.Kind]KindStats `json:"kinds"`
	ByPhase   map[types.Phase]int      `json:"byPhase"`
	Requested Capacity                 `json:"requested"`
	Failing   []string                 `json:"failing,omitempty"`
}

// Summarize builds dashboard statistics from views. Capacity figures are
// sums of declared requests, not live usage.
func Summarize(views []types.ExternalView) Stats {
	stats := Stats{
		Kinds:   make(map[types.Kind]KindStats),
		ByPhase: make(map[types.Phase]int),
	}
	for _, kind := range types.AllKinds {
		stats.Kinds[kind] = KindStats{ByStatus: map[string]int{}}
	}

	var cpu, memory, storage resource.Quantity
	for _, v := range views {
		stats.Total++
		stats.ByPhase[v.Phase]++

		ks, ok := stats.Kinds[v.Kind]
		if !ok {
			ks = KindStats{ByStatus: map[string]int{}}
		}
		ks.Total++
		ks.ByStatus[v.Status]++
		switch v.Status {
		case StatusRunning:
			ks.Running++
		case StatusStopped:
			ks.Stopped++
		case StatusFailed:
			stats.Failing = append(stats.Failing, v.ID)
		}
		stats.Kinds[v.Kind] = ks

		switch v.Kind {
		case types.KindVM:
			addQuantity(&cpu, v.Spec, types.OptCPU, v.Kind)
			addQuantity(&memory, v.Spec, types.OptMemory, v.Kind)
			addQuantity(&storage, v.Spec, types.OptDisk, v.Kind)
		case types.KindVolume:
			addQuantity(&storage, v.Spec, types.OptSize, v.Kind)
		}
	}
	sort.Strings(stats.Failing)

	stats.Requested = Capacity{CPU: cpu.String(), Memory: memory.String(), Storage: storage.String()}
	return stats
}

func addQuantity(total *resource.Quantity, spec types.Spec, option string, kind types.Kind) {
	value, ok := spec[option]
	if !ok {
		value = types.Defaults(kind)[option]
	}
	if value == "" {
		return
	}
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return
	}
	total.Add(q)
}
