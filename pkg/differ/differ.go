package differ

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/nimbus/pkg/orchestrator"
	"github.com/cuemby/nimbus/pkg/types"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Diff returns the single action that moves the observed state toward the
// desired record, or nil when no action is due. A failed read never yields
// an action, and deletion takes precedence over any pending spec change.
func Diff(desired *types.ResourceRecord, observed types.Observation) *types.Action {
	if desired == nil || observed.Unknown {
		return nil
	}

	if desired.Deleting() {
		if observed.Object == nil {
			return nil
		}
		return &types.Action{
			Type:       types.ActionDelete,
			ResourceID: desired.ID,
			Ref:        desired.Ref(),
			Generation: desired.Generation,
		}
	}

	if observed.Object == nil {
		return &types.Action{
			Type:       types.ActionCreate,
			ResourceID: desired.ID,
			Ref:        desired.Ref(),
			Object:     DesiredObject(desired),
			Generation: desired.Generation,
		}
	}

	changed := ChangedFields(desired, observed.Object)
	if len(changed) == 0 {
		return nil
	}
	return &types.Action{
		Type:       types.ActionUpdate,
		ResourceID: desired.ID,
		Ref:        desired.Ref(),
		Object:     DesiredObject(desired),
		Changed:    changed,
		Generation: desired.Generation,
	}
}

// TornDown reports whether a record marked for deletion has no live object
// left, so it can be removed
func TornDown(desired *types.ResourceRecord, observed types.Observation) bool {
	return desired != nil && desired.Deleting() && observed.Absent()
}

// DesiredObject builds the object the orchestrator is asked to apply
func DesiredObject(rec *types.ResourceRecord) *types.DesiredObject {
	return &types.DesiredObject{
		Ref:         rec.Ref(),
		DisplayName: rec.Name,
		Spec:        rec.Spec.Copy(),
		Generation:  rec.Generation,
	}
}

// ChangedFields lists, in sorted order, the controlled options whose live
// value differs from the desired one
func ChangedFields(desired *types.ResourceRecord, observed *types.ObservedObject) []string {
	defaults := types.Defaults(desired.Kind)
	var changed []string
	for _, field := range fieldsOf(desired, observed) {
		want := desired.Value(field)
		got, ok := observed.Spec[field]
		if !ok {
			got = defaults[field]
		}
		if !equalOption(field, want, got) {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

// fieldsOf returns the controlled options of the record, including chart
// values present on either side
func fieldsOf(desired *types.ResourceRecord, observed *types.ObservedObject) []string {
	fields := types.ControlledFields(desired.Kind)
	if desired.Kind != types.KindGenericResource {
		return fields
	}

	seen := make(map[string]bool)
	for _, spec := range []types.Spec{desired.Spec, observed.Spec} {
		for key := range spec {
			if strings.HasPrefix(key, types.ValuesPrefix) && !seen[key] {
				seen[key] = true
				fields = append(fields, key)
			}
		}
	}
	return fields
}

func equalOption(field, want, got string) bool {
	if want == got {
		return true
	}
	switch {
	case types.IsQuantityField(field):
		wq, err1 := resource.ParseQuantity(want)
		gq, err2 := resource.ParseQuantity(got)
		if err1 != nil || err2 != nil {
			return false
		}
		return wq.Cmp(gq) == 0
	case field == types.OptRunning:
		wb, err1 := strconv.ParseBool(want)
		gb, err2 := strconv.ParseBool(got)
		return err1 == nil && err2 == nil && wb == gb
	case field == types.OptChart:
		// releases only report the chart name, not the repository path
		return orchestrator.ChartName(want) == orchestrator.ChartName(got)
	case field == types.OptVersion:
		// an unpinned chart accepts whatever version is installed
		return want == ""
	}
	return false
}
