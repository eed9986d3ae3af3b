package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stated/internal/statefile"
)

func newStateCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Seal and unseal desired-state and checkpoint files",
	}

	cmd.AddCommand(newStateEncryptCmd(root))
	cmd.AddCommand(newStateDecryptCmd(root))
	cmd.AddCommand(newStateKeygenCmd())

	return cmd
}

func newStateEncryptCmd(root *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Seal a file with --key-file or --passphrase-env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sealer, err := requireSealer(root)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if statefile.IsSealed(data) {
				return fmt.Errorf("%s is already sealed", args[0])
			}
			dest := output
			if dest == "" {
				dest = args[0]
			}
			if err := statefile.WriteSealed(dest, data, sealer); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the sealed file here instead of in place")

	return cmd
}

func newStateDecryptCmd(root *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Print or write the plaintext of a sealed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sealer, err := requireSealer(root)
			if err != nil {
				return err
			}
			data, err := statefile.ReadFile(args[0], sealer)
			if err != nil {
				return err
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			return statefile.WriteFile(output, data, 0o600)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the plaintext here instead of stdout")

	return cmd
}

func newStateKeygenCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate a random sealing key for --key-file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			key, err := statefile.GenerateKey()
			if err != nil {
				return err
			}
			if err := statefile.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote key to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key file")

	return cmd
}

func requireSealer(root *rootFlags) (statefile.Sealer, error) {
	sealer, err := sealerFromFlags(root)
	if err != nil {
		return nil, err
	}
	if sealer == nil {
		return nil, errors.New("a key (--key-file) or passphrase (--passphrase-env) is required")
	}
	return sealer, nil
}
