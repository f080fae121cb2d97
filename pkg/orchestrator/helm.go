package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/nimbus/pkg/types"
)

// Runner executes the helm command line
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// RunError carries the stderr of a failed helm invocation
type RunError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *RunError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("helm %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExecRunner runs a local helm binary
type ExecRunner struct {
	Binary      string
	KubeConfig  string
	KubeContext string
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "helm"
	}
	if r.KubeConfig != "" {
		args = append(args, "--kubeconfig", r.KubeConfig)
	}
	if r.KubeContext != "" {
		args = append(args, "--kube-context", r.KubeContext)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &RunError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// Helm drives generic resources as Helm releases. The release name is the
// resource id; chart values live under the "values." spec prefix.
type Helm struct {
	runner  Runner
	timeout time.Duration
}

var _ Client = &Helm{}

// NewHelm creates a Helm client
func NewHelm(runner Runner, timeout time.Duration) *Helm {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Helm{runner: runner, timeout: timeout}
}

type helmRelease struct {
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
	Revision   string `json:"revision"`
	Status     string `json:"status"`
	Chart      string `json:"chart"`
	AppVersion string `json:"app_version"`
}

func (h *Helm) run(ctx context.Context, op string, ref types.ObjectRef, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	out, err := h.runner.Run(ctx, args...)
	if err != nil {
		return nil, &Error{Kind: classifyHelm(err), Op: op, Ref: ref, Err: err}
	}
	return out, nil
}

// classifyHelm maps helm CLI failures to the error taxonomy
func classifyHelm(err error) types.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.ErrorTransport
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "release: not found"), strings.Contains(msg, "release not found"):
		return types.ErrorNotFound
	case strings.Contains(msg, "another operation"), strings.Contains(msg, "has no deployed releases"):
		return types.ErrorConflict
	case strings.Contains(msg, "cluster unreachable"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timed out"), strings.Contains(msg, "i/o timeout"):
		return types.ErrorTransport
	case strings.Contains(msg, "failed to download"), strings.Contains(msg, "not a valid chart"),
		strings.Contains(msg, "invalid chart"), strings.Contains(msg, "execution error"),
		strings.Contains(msg, "parse error"), strings.Contains(msg, "validation"):
		return types.ErrorValidation
	}
	return types.ErrorTransport
}

func (h *Helm) ListObjects(ctx context.Context, kind types.Kind, namespace string) ([]types.ObservedObject, error) {
	listRef := types.ObjectRef{Kind: kind, Namespace: namespace}
	if kind != types.KindGenericResource {
		return nil, NewError(types.ErrorValidation, "list", listRef, fmt.Errorf("unsupported kind %q", kind))
	}

	args := []string{"list", "--output", "json", "--all", "--selector", LabelManagedBy + "=" + managerName}
	if namespace == "" {
		args = append(args, "--all-namespaces")
	} else {
		args = append(args, "--namespace", namespace)
	}
	out, err := h.run(ctx, "list", listRef, args...)
	if err != nil {
		return nil, err
	}

	var releases []helmRelease
	if err := json.Unmarshal(out, &releases); err != nil {
		return nil, ParseError("list", fmt.Errorf("decoding helm releases: %w", err))
	}

	observed := make([]types.ObservedObject, 0, len(releases))
	for _, rel := range releases {
		ref := types.ObjectRef{Kind: types.KindGenericResource, Namespace: rel.Namespace, Name: rel.Name}
		values, err := h.values(ctx, ref)
		if err != nil {
			return nil, err
		}
		observed = append(observed, observeRelease(rel, values))
	}
	sort.Slice(observed, func(i, j int) bool { return observed[i].Ref.Name < observed[j].Ref.Name })
	return observed, nil
}

func (h *Helm) values(ctx context.Context, ref types.ObjectRef) (types.Spec, error) {
	out, err := h.run(ctx, "list", ref, "get", "values", ref.Name, "--namespace", ref.Namespace, "--output", "json")
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, ParseError("list", fmt.Errorf("decoding values of %s: %w", ref.Name, err))
	}
	spec := types.Spec{}
	flattenValues(spec, strings.TrimSuffix(types.ValuesPrefix, "."), raw)
	return spec, nil
}

// flattenValues turns nested chart values into "values.a.b" options
func flattenValues(dst types.Spec, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flattenValues(dst, prefix+"."+k, child)
		}
	case nil:
	case string:
		dst[prefix] = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return
		}
		dst[prefix] = string(b)
	}
}

// splitChart separates "nginx-15.0.0" into chart name and version
func splitChart(s string) (string, string) {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '-' && s[i+1] >= '0' && s[i+1] <= '9' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func observeRelease(rel helmRelease, values types.Spec) types.ObservedObject {
	chart, version := splitChart(rel.Chart)
	spec := values.Copy()
	spec[types.OptChart] = chart
	if version != "" {
		spec[types.OptVersion] = version
	}

	obs := types.ObservedObject{
		Ref:    types.ObjectRef{Kind: types.KindGenericResource, Namespace: rel.Namespace, Name: rel.Name},
		Spec:   spec,
		Status: rel.Status,
	}
	switch rel.Status {
	case "deployed":
		obs.Ready = true
		obs.Replicas, obs.ReadyReplicas = 1, 1
	case "failed":
		obs.Replicas = 1
		obs.Message = "release failed"
	default:
		obs.Replicas = 1
	}
	return obs
}

// ChartName returns the bare chart name of a chart reference such as
// "bitnami/nginx" or "oci://registry/charts/nginx"
func ChartName(ref string) string {
	return path.Base(strings.TrimSuffix(ref, "/"))
}

// escapeSetValue escapes the characters helm --set treats as separators
func escapeSetValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `,`, `\,`)
	return r.Replace(v)
}

func (h *Helm) ApplyObject(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	if obj.Ref.Kind != types.KindGenericResource {
		return nil, NewError(types.ErrorValidation, "apply", obj.Ref, fmt.Errorf("unsupported kind %q", obj.Ref.Kind))
	}
	chart := obj.Spec[types.OptChart]
	if chart == "" {
		return nil, NewError(types.ErrorValidation, "apply", obj.Ref, errors.New("chart is required"))
	}

	args := []string{
		"upgrade", "--install", obj.Ref.Name, chart,
		"--namespace", obj.Ref.Namespace, "--create-namespace",
		"--reset-values",
		"--labels", fmt.Sprintf("%s=%s,%s=%d", LabelManagedBy, managerName, "nimbus.io/generation", obj.Generation),
		"--output", "json",
	}
	if v := obj.Spec[types.OptVersion]; v != "" {
		args = append(args, "--version", v)
	}
	for _, key := range obj.Spec.Keys() {
		if !strings.HasPrefix(key, types.ValuesPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, types.ValuesPrefix)
		args = append(args, "--set-string", name+"="+escapeSetValue(obj.Spec[key]))
	}

	if _, err := h.run(ctx, "apply", obj.Ref, args...); err != nil {
		return nil, err
	}

	observed := &types.ObservedObject{
		Ref:           obj.Ref,
		Spec:          obj.Spec.Copy(),
		Ready:         true,
		Replicas:      1,
		ReadyReplicas: 1,
		Status:        "deployed",
	}
	observed.Spec[types.OptChart] = ChartName(chart)
	return observed, nil
}

func (h *Helm) DeleteObject(ctx context.Context, ref types.ObjectRef) error {
	if ref.Kind != types.KindGenericResource {
		return NewError(types.ErrorValidation, "delete", ref, fmt.Errorf("unsupported kind %q", ref.Kind))
	}
	_, err := h.run(ctx, "delete", ref, "uninstall", ref.Name, "--namespace", ref.Namespace)
	return err
}
