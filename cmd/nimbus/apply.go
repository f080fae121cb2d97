package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cuemby/nimbus/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply resources from a YAML file",
	Long: `Declare resources from a YAML file. The file may hold several
documents separated by "---". Applying a resource that already exists
merges its spec.

Example manifest:
  kind: vm
  metadata:
    name: web
    id: vm-web
  spec:
    image: ubuntu:22.04
    cpu: 2
    memory: 4Gi
  ---
  kind: generic-resource
  metadata:
    name: cache
  spec:
    chart: bitnami/redis
    version: 18.1.0
    values:
      replica:
        replicaCount: 2

Examples:
  nimbus apply -f web.yaml
  cat stack.yaml | nimbus apply -f -`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply, - for stdin (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Manifest is one document of an apply file
type Manifest struct {
	Kind     string           `yaml:"kind"`
	Metadata ManifestMetadata `yaml:"metadata"`
	Spec     map[string]any   `yaml:"spec"`
}

// ManifestMetadata identifies the declared resource
type ManifestMetadata struct {
	Name      string `yaml:"name"`
	ID        string `yaml:"id,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Request converts the manifest into an API request. Nested spec maps are
// flattened into dotted option names ("values.replica.replicaCount").
func (m *Manifest) Request() (*types.ResourceRequest, error) {
	if m.Kind == "" {
		return nil, errors.New("kind is required")
	}
	spec := types.Spec{}
	if err := flatten(spec, "", m.Spec); err != nil {
		return nil, err
	}
	return &types.ResourceRequest{
		ID:        m.Metadata.ID,
		Kind:      types.Kind(m.Kind),
		Name:      m.Metadata.Name,
		Namespace: m.Metadata.Namespace,
		Spec:      spec,
	}, nil
}

func flatten(dst types.Spec, prefix string, src map[string]any) error {
	for key, value := range src {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			if err := flatten(dst, name, v); err != nil {
				return err
			}
		case []any:
			return fmt.Errorf("spec.%s: lists are not supported", name)
		case nil:
			dst[name] = ""
		default:
			dst[name] = fmt.Sprint(v)
		}
	}
	return nil
}

// parseManifests reads every document of a multi-document YAML stream
func parseManifests(r io.Reader) ([]*types.ResourceRequest, error) {
	dec := yaml.NewDecoder(r)
	var reqs []*types.ResourceRequest
	for doc := 1; ; doc++ {
		var m *Manifest
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		if m == nil {
			continue
		}
		req, err := m.Request()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	var in io.Reader = os.Stdin
	if filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		defer f.Close()
		in = f
	}

	reqs, err := parseManifests(in)
	if err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(reqs) == 0 {
		return errors.New("no resources found")
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	var failed []string
	for _, req := range reqs {
		label := string(req.Kind) + " " + firstNonEmpty(req.ID, req.Name)
		view, err := c.CreateResource(cmd.Context(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", label, err)
			failed = append(failed, label)
			continue
		}
		fmt.Printf("✓ %s %s applied (generation %d, %s)\n", view.Kind, view.ID, view.Generation, view.Phase)
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("%d of %d resources failed: %s", len(failed), len(reqs), strings.Join(failed, ", "))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
