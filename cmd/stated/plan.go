package main

import (
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stated/internal/plugin"
	"github.com/alexisbeaulieu97/stated/internal/render"
)

type planOptions struct {
	showDocuments bool
}

func newPlanCmd(root *rootFlags) *cobra.Command {
	opts := planOptions{}

	cmd := &cobra.Command{
		Use:   "plan <document>",
		Short: "Show the changes apply would make",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, engineOverrides{})
			if err != nil {
				return err
			}
			defer a.flushMetrics()
			return runPlan(cmd, a, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.showDocuments, "diff", false, "Include a unified diff of current and desired documents")

	return cmd
}

func runPlan(cmd *cobra.Command, a *app, path string, opts planOptions) error {
	desired, err := a.loadDocument(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	diffs, err := a.manager.ShowDiff(ctx, desired)
	if err != nil {
		return err
	}

	plans := make([]render.DomainPlan, 0, len(diffs))
	for _, d := range diffs {
		plans = append(plans, render.DomainPlan{Diff: d})
	}

	if opts.showDocuments {
		for i := range plans {
			name := plans[i].Diff.Plugin
			p, ok := a.manager.Get(name)
			if !ok {
				continue
			}
			current, err := p.QueryCurrentState(ctx)
			if err != nil {
				if _, ok := plugin.AsPluginError(err); ok {
					return err
				}
				return plugin.NewObservationError(name, err)
			}
			plans[i].Current = current
			plans[i].Desired = desired.Plugins[name]
		}
	}

	return a.renderer.Plan(plans)
}
