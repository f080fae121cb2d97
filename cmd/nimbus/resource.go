package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/nimbus/pkg/api"
	"github.com/cuemby/nimbus/pkg/client"
	"github.com/cuemby/nimbus/pkg/events"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/spf13/cobra"
)

// Resource commands
var resourceCmd = &cobra.Command{
	Use:     "resource",
	Aliases: []string{"resources", "res"},
	Short:   "Manage declared resources",
}

var resourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		views, err := c.ListResources(cmd.Context(), types.Kind(kind))
		if err != nil {
			return fmt.Errorf("failed to list resources: %w", err)
		}
		if asJSON(cmd) {
			return printJSON(views)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tNAME\tSTATUS\tPHASE\tGEN\tADDRESS")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
				v.ID, v.Kind, v.Name, v.Status, v.Phase, v.ObservedGeneration, v.Generation, address(v))
		}
		return w.Flush()
	},
}

var resourceGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		view, err := c.GetResource(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON(cmd) {
			return printJSON(view)
		}
		printView(view)
		return nil
	},
}

var resourceCreateCmd = &cobra.Command{
	Use:   "create KIND [NAME]",
	Short: "Declare a resource",
	Long: `Declare a resource of the given kind. Options are passed as --set key=value.

Examples:
  nimbus resource create vm web --set image=ubuntu:22.04 --set cpu=2 --set memory=4Gi
  nimbus resource create volume data --set size=20Gi
  nimbus resource create network backend --set cidr=10.0.1.0/24
  nimbus resource create generic-resource cache --set chart=bitnami/redis --set values.replica.replicaCount=2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFlags(cmd)
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		req := &types.ResourceRequest{ID: id, Kind: types.Kind(args[0]), Spec: spec}
		if len(args) > 1 {
			req.Name = args[1]
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		view, err := c.CreateResource(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to create resource: %w", err)
		}
		fmt.Printf("✓ %s %s declared (%s)\n", view.Kind, view.ID, view.Phase)
		return nil
	},
}

var resourceUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Change options of a resource",
	Long: `Merge option changes into a resource. An empty value removes the option.

Example:
  nimbus resource update vm-3f2a9c1d --set cpu=4 --set disk=`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := specFlags(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		view, err := c.UpdateResource(cmd.Context(), args[0], &types.ResourceRequest{Name: name, Spec: spec})
		if err != nil {
			return fmt.Errorf("failed to update resource: %w", err)
		}
		fmt.Printf("✓ %s updated (generation %d)\n", view.ID, view.Generation)
		return nil
	},
}

var resourceDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		view, err := c.DeleteResource(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to delete resource: %w", err)
		}
		fmt.Printf("✓ %s deletion requested\n", view.ID)

		if wait, _ := cmd.Flags().GetDuration("wait"); wait > 0 {
			return waitGone(cmd.Context(), cmd, view.ID, wait)
		}
		return nil
	},
}

func actionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			view, err := c.ResourceAction(cmd.Context(), args[0], action)
			if err != nil {
				return fmt.Errorf("failed to %s %s: %w", action, args[0], err)
			}
			fmt.Printf("✓ %s %s requested (generation %d)\n", view.ID, action, view.Generation)
			return nil
		},
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show resource counts and declared capacity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON(cmd) {
			return printJSON(stats)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tTOTAL\tRUNNING\tSTOPPED")
		for _, kind := range types.AllKinds {
			ks := stats.Kinds[kind]
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", kind, ks.Total, ks.Running, ks.Stopped)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nRequested: cpu %s, memory %s, storage %s\n",
			stats.Requested.CPU, stats.Requested.Memory, stats.Requested.Storage)
		if len(stats.Failing) > 0 {
			fmt.Printf("Failing: %s\n", strings.Join(stats.Failing, ", "))
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream engine events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resourceID, _ := cmd.Flags().GetString("resource")
		typePrefix, _ := cmd.Flags().GetString("type")
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		return c.WatchEvents(cmd.Context(), resourceID, typePrefix, func(e *events.Event) error {
			fmt.Printf("%s  %-24s %-16s %s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.ResourceID, e.Message)
			return nil
		})
	},
}

func init() {
	resourceCmd.PersistentFlags().Bool("json", false, "Print JSON")
	resourceListCmd.Flags().String("kind", "", "Only list resources of this kind")
	resourceCreateCmd.Flags().String("id", "", "Resource ID (generated when empty)")
	resourceCreateCmd.Flags().StringArray("set", nil, "Option as key=value (repeatable)")
	resourceUpdateCmd.Flags().StringArray("set", nil, "Option as key=value (repeatable)")
	resourceUpdateCmd.Flags().String("name", "", "New display name")
	resourceDeleteCmd.Flags().Duration("wait", 0, "Wait this long for the resource to be removed")

	resourceCmd.AddCommand(resourceListCmd, resourceGetCmd, resourceCreateCmd, resourceUpdateCmd, resourceDeleteCmd,
		actionCmd(api.ActionStart, "Start a vm or service"),
		actionCmd(api.ActionStop, "Stop a vm or service"),
		actionCmd(api.ActionRestart, "Restart a vm or service"),
		actionCmd(api.ActionRetry, "Retry a failed resource"),
	)

	statsCmd.Flags().Bool("json", false, "Print JSON")
	eventsCmd.Flags().String("resource", "", "Only events of this resource")
	eventsCmd.Flags().String("type", "", "Only events whose type starts with this prefix")

	rootCmd.AddCommand(resourceCmd, statsCmd, eventsCmd)
}

// parseSet turns key=value pairs into a spec
func parseSet(pairs []string) (types.Spec, error) {
	spec := types.Spec{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", pair)
		}
		spec[key] = value
	}
	return spec, nil
}

func specFlags(cmd *cobra.Command) (types.Spec, error) {
	pairs, _ := cmd.Flags().GetStringArray("set")
	return parseSet(pairs)
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func address(v types.ExternalView) string {
	switch {
	case v.Endpoint != "":
		return v.Endpoint
	case v.IP != "":
		return v.IP
	case v.Gateway != "":
		return "gw " + v.Gateway
	}
	return "-"
}

func printView(v *types.ExternalView) {
	fmt.Printf("ID:          %s\n", v.ID)
	fmt.Printf("Kind:        %s\n", v.Kind)
	fmt.Printf("Name:        %s\n", v.Name)
	fmt.Printf("Namespace:   %s\n", v.Namespace)
	fmt.Printf("Status:      %s (%s)\n", v.Status, v.Phase)
	fmt.Printf("Generation:  %d (observed %d)\n", v.Generation, v.ObservedGeneration)
	if v.Replicas > 0 || v.ReadyReplicas > 0 {
		fmt.Printf("Replicas:    %d/%d ready\n", v.ReadyReplicas, v.Replicas)
	}
	if addr := address(*v); addr != "-" {
		fmt.Printf("Address:     %s\n", addr)
	}
	if v.ObservedStale {
		fmt.Println("Observed:    stale (cluster unreachable)")
	}
	if v.LastError != nil {
		fmt.Printf("Last error:  %s: %s (%s, %d attempts)\n",
			v.LastError.Kind, v.LastError.Message, v.LastError.Action, v.LastError.Attempts)
	}

	keys := make([]string, 0, len(v.Spec))
	for k := range v.Spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("Spec:")
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, v.Spec[k])
	}
}

func waitGone(ctx context.Context, cmd *cobra.Command, id string, timeout time.Duration) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		view, err := c.GetResource(ctx, id)
		switch {
		case client.IsNotFound(err):
			fmt.Printf("✓ %s removed\n", id)
			return nil
		case err != nil:
			return err
		case view.Phase == types.PhaseFailed && view.LastError != nil:
			return fmt.Errorf("deletion of %s failed: %s", id, view.LastError.Message)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s to be removed", id)
		case <-ticker.C:
		}
	}
}
