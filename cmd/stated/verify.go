package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newVerifyCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <document>",
		Short: "Check that every domain has converged to the document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, engineOverrides{})
			if err != nil {
				return err
			}
			defer a.flushMetrics()

			desired, err := a.loadDocument(args[0])
			if err != nil {
				return err
			}
			results, err := a.manager.Verify(cmd.Context(), desired)
			if err != nil {
				return err
			}
			if err := a.renderer.Verifications(results); err != nil {
				return err
			}

			var drifted []string
			for _, v := range results {
				if !v.Converged {
					drifted = append(drifted, v.Plugin)
				}
			}
			if len(drifted) > 0 {
				return fmt.Errorf("not converged: %s", strings.Join(drifted, ", "))
			}
			return nil
		},
	}
}
