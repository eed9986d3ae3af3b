package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/stated/internal/state"
	"github.com/alexisbeaulieu97/stated/internal/statefile"
)

type rollbackOptions struct {
	checkpointFile string
	plugins        []string
}

func newRollbackCmd(root *rootFlags) *cobra.Command {
	opts := rollbackOptions{}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore backends to checkpoints written by apply --checkpoint-file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, engineOverrides{})
			if err != nil {
				return err
			}
			defer a.flushMetrics()
			return runRollback(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.checkpointFile, "checkpoint-file", "", "Checkpoint file written by apply")
	cmd.Flags().StringSliceVar(&opts.plugins, "plugin", nil, "Only roll back these backends")
	cmd.MarkFlagRequired("checkpoint-file") //nolint:errcheck

	return cmd
}

func runRollback(cmd *cobra.Command, a *app, opts rollbackOptions) error {
	data, err := statefile.ReadFile(opts.checkpointFile, a.sealer)
	if err != nil {
		return err
	}
	var checkpoints []state.PluginCheckpoint
	if err := yaml.Unmarshal(data, &checkpoints); err != nil {
		return fmt.Errorf("decode checkpoints: %w", err)
	}

	selected := make(map[string]bool, len(opts.plugins))
	for _, name := range opts.plugins {
		selected[name] = true
	}

	var errs []error
	for _, pc := range checkpoints {
		if len(selected) > 0 && !selected[pc.Plugin] {
			continue
		}
		if err := a.manager.Rollback(cmd.Context(), pc); err != nil {
			errs = append(errs, err)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: rollback failed: %v\n", pc.Plugin, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: rolled back to %s\n", pc.Plugin, pc.Checkpoint.ID)
	}
	return errors.Join(errs...)
}
