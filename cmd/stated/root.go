package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath    string
	verbose       bool
	passphraseEnv string
	keyFile       string
	metricsFile   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "stated",
		Short:         "stated reconciles this host with a declarative desired-state document",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the engine settings file (TOML)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVar(&flags.passphraseEnv, "passphrase-env", "", "Environment variable holding the passphrase for sealed documents")
	cmd.PersistentFlags().StringVar(&flags.keyFile, "key-file", "", "File holding a hex-encoded key for sealed documents")
	cmd.PersistentFlags().StringVar(&flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")

	cmd.AddCommand(newPlanCmd(flags))
	cmd.AddCommand(newApplyCmd(flags))
	cmd.AddCommand(newVerifyCmd(flags))
	cmd.AddCommand(newQueryCmd(flags))
	cmd.AddCommand(newRollbackCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))
	cmd.AddCommand(newPluginsCmd(flags))
	cmd.AddCommand(newStateCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
