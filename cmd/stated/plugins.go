package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stated/internal/config"
	"github.com/alexisbeaulieu97/stated/internal/engine"
	"github.com/alexisbeaulieu97/stated/internal/plugins/internalexec"
	"github.com/alexisbeaulieu97/stated/internal/plugins/network"
	"github.com/alexisbeaulieu97/stated/internal/plugins/pkgmgr"
	repoplugin "github.com/alexisbeaulieu97/stated/internal/plugins/repo"
)

// registerBackends registers the bundled backends. Package manager output is
// streamed to stderr in verbose mode.
func registerBackends(m *engine.StateManager, settings config.Settings, verbose bool, stderr io.Writer) error {
	runner := &internalexec.Runner{}
	if verbose {
		runner.Stdout = stderr
		runner.Stderr = stderr
	}

	if err := m.Register(network.New(network.NewFileStore(settings.Network.StateFile))); err != nil {
		return err
	}
	if err := m.Register(pkgmgr.New(settings.Packages, runner)); err != nil {
		return err
	}
	return m.Register(repoplugin.New(settings.Repo))
}

func newPluginsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered backends and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, engineOverrides{})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tROLLBACK\tCHECKPOINTS\tVERIFY\tATOMIC\tPLUGTREE")
			for _, d := range a.manager.Describe() {
				plugtree := "-"
				if d.PlugTree {
					plugtree = d.PluggetType
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					d.Name, d.Version, yesNo(d.Rollback), yesNo(d.Checkpoints), yesNo(d.Verification), yesNo(d.Atomic), plugtree)
			}
			return w.Flush()
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
