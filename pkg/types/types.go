package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies the class of a managed resource
type Kind string

const (
	KindVM              Kind = "vm"
	KindVolume          Kind = "volume"
	KindNetwork         Kind = "network"
	KindService         Kind = "service"
	KindGenericResource Kind = "generic-resource"
)

// AllKinds lists every kind the engine manages, in reconciliation order
var AllKinds = []Kind{KindNetwork, KindVolume, KindVM, KindService, KindGenericResource}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IDPrefix returns the prefix used for generated ids of this kind
func (k Kind) IDPrefix() string {
	switch k {
	case KindVM:
		return "vm"
	case KindVolume:
		return "vol"
	case KindNetwork:
		return "net"
	case KindService:
		return "svc"
	case KindGenericResource:
		return "res"
	default:
		return "obj"
	}
}

// Phase is the lifecycle phase of a ResourceRecord
type Phase string

const (
	PhasePending     Phase = "Pending"
	PhaseReconciling Phase = "Reconciling"
	PhaseReady       Phase = "Ready"
	PhaseDegraded    Phase = "Degraded"
	PhaseDeleting    Phase = "Deleting"
	PhaseFailed      Phase = "Failed"
)

// AllPhases lists every phase
var AllPhases = []Phase{PhasePending, PhaseReconciling, PhaseReady, PhaseDegraded, PhaseDeleting, PhaseFailed}

// Spec is the desired configuration of a resource: option name to value
type Spec map[string]string

// Copy returns an independent copy of the spec
func (s Spec) Copy() Spec {
	out := make(Spec, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a copy of s with the options of update applied.
// An empty value removes the option.
func (s Spec) Merge(update Spec) Spec {
	out := s.Copy()
	for k, v := range update {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Equal reports whether both specs hold exactly the same options
func (s Spec) Equal(other Spec) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the option names in sorted order
func (s Spec) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Well-known spec options
const (
	OptImage        = "image"
	OptCPU          = "cpu"
	OptMemory       = "memory"
	OptDisk         = "disk"
	OptRunning      = "running"
	OptRestartedAt  = "restartedAt"
	OptReplicas     = "replicas"
	OptPort         = "port"
	OptServiceType  = "serviceType"
	OptSize         = "size"
	OptStorageClass = "storageClass"
	OptCIDR         = "cidr"
	OptType         = "type"
	OptChart        = "chart"
	OptVersion      = "version"

	// ValuesPrefix marks generic-resource chart values ("values.replicaCount")
	ValuesPrefix = "values."
)

// ControlledFields returns the spec options the engine drives for a kind.
// Generic resources additionally control every option under ValuesPrefix.
func ControlledFields(kind Kind) []string {
	switch kind {
	case KindVM:
		return []string{OptImage, OptCPU, OptMemory, OptDisk, OptRunning, OptRestartedAt}
	case KindService:
		return []string{OptImage, OptReplicas, OptPort, OptServiceType, OptRunning, OptRestartedAt}
	case KindVolume:
		return []string{OptSize, OptStorageClass}
	case KindNetwork:
		return []string{OptCIDR, OptType}
	case KindGenericResource:
		return []string{OptChart, OptVersion}
	default:
		return nil
	}
}

// Defaults returns the value assumed for options a spec leaves unset
func Defaults(kind Kind) Spec {
	switch kind {
	case KindVM:
		return Spec{OptCPU: "1", OptMemory: "1Gi", OptRunning: "true"}
	case KindService:
		return Spec{OptReplicas: "1", OptPort: "80", OptServiceType: "ClusterIP", OptRunning: "true"}
	case KindVolume:
		return Spec{OptStorageClass: "longhorn"}
	case KindNetwork:
		return Spec{OptType: "bridge"}
	default:
		return Spec{}
	}
}

// ErrorKind classifies failures reported by the orchestrator
type ErrorKind string

const (
	ErrorTransport  ErrorKind = "Transport"
	ErrorConflict   ErrorKind = "Conflict"
	ErrorValidation ErrorKind = "Validation"
	ErrorNotFound   ErrorKind = "NotFound"
	ErrorParse      ErrorKind = "Parse"
)

// ErrorRecord captures the most recent failed action of a resource
type ErrorRecord struct {
	Kind     ErrorKind  `json:"kind"`
	Message  string     `json:"message"`
	Action   ActionType `json:"action,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	Time     time.Time  `json:"time"`
}

// ResourceRecord is the unit of management: desired spec plus the last
// known live state and the lifecycle phase
type ResourceRecord struct {
	ID                 string          `json:"id"`
	Kind               Kind            `json:"kind"`
	Name               string          `json:"name"`
	Namespace          string          `json:"namespace"`
	Spec               Spec            `json:"spec"`
	Observed           *ObservedObject `json:"observed,omitempty"`
	ObservedAt         time.Time       `json:"observedAt,omitempty"`
	ObservedStale      bool            `json:"observedStale,omitempty"`
	Phase              Phase           `json:"phase"`
	LastError          *ErrorRecord    `json:"lastError,omitempty"`
	Generation         int64           `json:"generation"`
	ObservedGeneration int64           `json:"observedGeneration"`
	RetryRequested     bool            `json:"retryRequested,omitempty"`
	DeletionRequested  bool            `json:"deletionRequested,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Copy returns a deep copy of the record
func (r *ResourceRecord) Copy() *ResourceRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Spec = r.Spec.Copy()
	if r.Observed != nil {
		out.Observed = r.Observed.Copy()
	}
	if r.LastError != nil {
		e := *r.LastError
		out.LastError = &e
	}
	return &out
}

// Deleting reports whether deletion was requested. Deletion intent is
// monotone: it survives failed delete attempts and cannot be withdrawn.
func (r *ResourceRecord) Deleting() bool {
	return r.DeletionRequested || r.Phase == PhaseDeleting
}

// Ref returns the orchestrator reference of the record's object
func (r *ResourceRecord) Ref() ObjectRef {
	return ObjectRef{Kind: r.Kind, Namespace: r.Namespace, Name: r.ID}
}

// Value returns the desired option, falling back to the kind default
func (r *ResourceRecord) Value(option string) string {
	if v, ok := r.Spec[option]; ok {
		return v
	}
	return Defaults(r.Kind)[option]
}

// ObjectRef identifies an object in the orchestrator
type ObjectRef struct {
	Kind      Kind   `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}

// DesiredObject is what the executor asks the orchestrator to apply
type DesiredObject struct {
	Ref         ObjectRef `json:"ref"`
	DisplayName string    `json:"displayName"`
	Spec        Spec      `json:"spec"`
	Generation  int64     `json:"generation"`
}

// ObservedObject is live state as reported by the orchestrator
type ObservedObject struct {
	Ref           ObjectRef `json:"ref"`
	Spec          Spec      `json:"spec"`
	Ready         bool      `json:"ready"`
	Replicas      int       `json:"replicas"`
	ReadyReplicas int       `json:"readyReplicas"`
	IP            string    `json:"ip,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	Status        string    `json:"status,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// Copy returns a deep copy of the observed object
func (o *ObservedObject) Copy() *ObservedObject {
	if o == nil {
		return nil
	}
	out := *o
	out.Spec = o.Spec.Copy()
	return &out
}

// Observation is the outcome of looking up one object: either Unknown
// (the read failed) or a definite answer, possibly "absent" (Object nil)
type Observation struct {
	Unknown bool
	Object  *ObservedObject
	Err     error
	At      time.Time
}

// Absent reports a successful read that did not find the object
func (o Observation) Absent() bool {
	return !o.Unknown && o.Object == nil
}

// ActionType is the kind of change an Action performs
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Action is one convergence step for a resource, issued for a generation
type Action struct {
	Type       ActionType     `json:"type"`
	ResourceID string         `json:"resourceId"`
	Object     *DesiredObject `json:"object,omitempty"`
	Ref        ObjectRef      `json:"ref"`
	Changed    []string       `json:"changed,omitempty"`
	Generation int64          `json:"generation"`
}

func (a *Action) String() string {
	if len(a.Changed) > 0 {
		return fmt.Sprintf("%s %s (gen %d, fields %s)", a.Type, a.ResourceID, a.Generation, strings.Join(a.Changed, ","))
	}
	return fmt.Sprintf("%s %s (gen %d)", a.Type, a.ResourceID, a.Generation)
}

// Result is the terminal outcome of executing an Action
type Result struct {
	Action     *Action         `json:"action"`
	Generation int64           `json:"generation"`
	Observed   *ObservedObject `json:"observed,omitempty"`
	Attempts   int             `json:"attempts"`
	Err        error           `json:"-"`
	ErrorKind  ErrorKind       `json:"errorKind,omitempty"`
	// Terminal is set when retrying the same action cannot help
	Terminal bool          `json:"terminal,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the action converged
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// ExternalView is the user-facing projection of a ResourceRecord
type ExternalView struct {
	ID                 string       `json:"id"`
	Kind               Kind         `json:"kind"`
	Name               string       `json:"name"`
	Namespace          string       `json:"namespace"`
	Phase              Phase        `json:"phase"`
	Status             string       `json:"status"`
	Generation         int64        `json:"generation"`
	ObservedGeneration int64        `json:"observedGeneration"`
	Spec               Spec         `json:"spec"`
	IP                 string       `json:"ip,omitempty"`
	Endpoint           string       `json:"endpoint,omitempty"`
	Gateway            string       `json:"gateway,omitempty"`
	Replicas           int          `json:"replicas"`
	ReadyReplicas      int          `json:"readyReplicas"`
	ObservedStale      bool         `json:"observedStale,omitempty"`
	ObservedAt         *time.Time   `json:"observedAt,omitempty"`
	LastError          *ErrorRecord `json:"lastError,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// ValidationError reports a malformed desired spec
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid spec: " + e.Message
	}
	return fmt.Sprintf("invalid spec: %s: %s", e.Field, e.Message)
}

// ResourceRequest is a declaration submitted by a user. An empty ID asks
// the store to generate one.
type ResourceRequest struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Kind      Kind   `json:"kind" yaml:"kind"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Spec      Spec   `json:"spec" yaml:"spec"`
}

// Record converts the request into the record handed to the store
func (r *ResourceRequest) Record() *ResourceRecord {
	return &ResourceRecord{
		ID:        r.ID,
		Kind:      r.Kind,
		Name:      r.Name,
		Namespace: r.Namespace,
		Spec:      r.Spec.Copy(),
	}
}
