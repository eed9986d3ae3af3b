package main

import (
	"github.com/spf13/cobra"
)

func newQueryCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query",
		Short: "Print the observed state of every backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, engineOverrides{})
			if err != nil {
				return err
			}
			current, err := a.manager.QueryCurrentState(cmd.Context())
			if err != nil {
				return err
			}
			return a.renderer.Document(current)
		},
	}
}
