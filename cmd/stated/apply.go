package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/stated/internal/engine"
	"github.com/alexisbeaulieu97/stated/internal/state"
	"github.com/alexisbeaulieu97/stated/internal/statefile"
)

type applyOptions struct {
	verify         bool
	rollbackPolicy engine.RollbackPolicy
	checkpointFile string
}

func newApplyCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{rollbackPolicy: engine.RollbackNever}

	cmd := &cobra.Command{
		Use:   "apply <document>",
		Short: "Reconcile the host with a desired-state document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, applyOverrides(cmd, &opts))
			if err != nil {
				return err
			}
			defer a.flushMetrics()
			return runApply(cmd, a, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Verify convergence after applying")
	cmd.Flags().Var(&opts.rollbackPolicy, "rollback", "Rollback policy: never, on-any-failure or on-fatal-failure")
	cmd.Flags().StringVar(&opts.checkpointFile, "checkpoint-file", "", "Write the checkpoints taken during the run to this file")

	return cmd
}

// applyOverrides returns only the flags the user actually set so the settings
// file keeps precedence otherwise.
func applyOverrides(cmd *cobra.Command, opts *applyOptions) engineOverrides {
	var overrides engineOverrides
	if cmd.Flags().Changed("verify") {
		overrides.verify = &opts.verify
	}
	if cmd.Flags().Changed("rollback") {
		overrides.rollbackPolicy = &opts.rollbackPolicy
	}
	return overrides
}

func runApply(cmd *cobra.Command, a *app, path string, opts applyOptions) error {
	desired, err := a.loadDocument(path)
	if err != nil {
		return err
	}

	report, err := a.manager.ApplyState(cmd.Context(), desired)
	if err != nil {
		return err
	}

	if opts.checkpointFile != "" {
		if err := writeCheckpoints(a, opts.checkpointFile, report.Checkpoints); err != nil {
			return err
		}
	}

	if err := a.renderer.Report(report); err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("apply failed for: %s", strings.Join(report.Failed(), ", "))
	}
	return nil
}

// writeCheckpoints stores checkpoints as YAML, sealed when a key or
// passphrase is configured.
func writeCheckpoints(a *app, path string, checkpoints []state.PluginCheckpoint) error {
	data, err := yaml.Marshal(checkpoints)
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}
	if a.sealer != nil {
		return statefile.WriteSealed(path, data, a.sealer)
	}
	return statefile.WriteFile(path, data, 0o600)
}
