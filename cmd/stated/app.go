package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stated/internal/config"
	"github.com/alexisbeaulieu97/stated/internal/engine"
	"github.com/alexisbeaulieu97/stated/internal/logger"
	"github.com/alexisbeaulieu97/stated/internal/metrics"
	"github.com/alexisbeaulieu97/stated/internal/render"
	"github.com/alexisbeaulieu97/stated/internal/state"
	"github.com/alexisbeaulieu97/stated/internal/statefile"
)

// app bundles everything a command needs for one invocation.
type app struct {
	settings    config.Settings
	log         *logger.Logger
	metrics     *metrics.PrometheusRecorder
	manager     *engine.StateManager
	sealer      statefile.Sealer
	renderer    *render.Renderer
	metricsFile string
}

// engineOverrides carries per-command flags layered over the settings file.
type engineOverrides struct {
	verify         *bool
	rollbackPolicy *engine.RollbackPolicy
}

func newApp(cmd *cobra.Command, root *rootFlags, overrides engineOverrides) (*app, error) {
	settings, err := config.LoadSettings(root.configPath, false)
	if err != nil {
		return nil, err
	}

	level := settings.LogLevel
	if root.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{
		Level:         level,
		HumanReadable: settings.HumanReadable,
		Writer:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	policy, err := engine.ParseRollbackPolicy(settings.RollbackPolicy)
	if err != nil {
		return nil, err
	}
	opts := engine.Options{
		Verify:         settings.Verify,
		RollbackPolicy: policy,
		Logger:         log,
	}
	if overrides.verify != nil {
		opts.Verify = *overrides.verify
	}
	if overrides.rollbackPolicy != nil {
		opts.RollbackPolicy = *overrides.rollbackPolicy
	}

	rec := metrics.NewPrometheusRecorder(nil)
	opts.Metrics = rec
	manager := engine.NewStateManager(opts)
	if err := registerBackends(manager, settings, root.verbose, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}

	sealer, err := sealerFromFlags(root)
	if err != nil {
		return nil, err
	}

	metricsFile := settings.MetricsFile
	if root.metricsFile != "" {
		metricsFile = root.metricsFile
	}

	return &app{
		settings:    settings,
		log:         log,
		metrics:     rec,
		manager:     manager,
		sealer:      sealer,
		renderer:    render.New(cmd.OutOrStdout(), styledOutput(cmd.OutOrStdout())),
		metricsFile: metricsFile,
	}, nil
}

// loadDocument reads a desired-state document, opening it first when sealed.
func (a *app) loadDocument(path string) (*state.DesiredState, error) {
	data, err := statefile.ReadFile(path, a.sealer)
	if err != nil {
		return nil, err
	}
	desired, err := config.ParseDesiredState(data, path)
	if err != nil {
		return nil, err
	}
	a.log.Debug("loaded desired state", "path", path, "domains", desired.Names())
	return desired, nil
}

// flushMetrics writes the metrics textfile when one is configured.
func (a *app) flushMetrics() {
	if a.metricsFile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.metricsFile); err != nil {
		a.log.Warn("failed to write metrics", "path", a.metricsFile, "error", err.Error())
	}
}

// sealerFromFlags builds the sealer selected by --key-file or
// --passphrase-env. Both unset means documents are plaintext.
func sealerFromFlags(root *rootFlags) (statefile.Sealer, error) {
	switch {
	case root.keyFile != "" && root.passphraseEnv != "":
		return nil, fmt.Errorf("--key-file and --passphrase-env are mutually exclusive")
	case root.keyFile != "":
		raw, err := os.ReadFile(root.keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		return statefile.NewKeySealer(key)
	case root.passphraseEnv != "":
		passphrase, ok := os.LookupEnv(root.passphraseEnv)
		if !ok || passphrase == "" {
			return nil, fmt.Errorf("environment variable %s is empty", root.passphraseEnv)
		}
		return statefile.NewPassphraseSealer([]byte(passphrase))
	default:
		return nil, nil
	}
}

func styledOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && render.IsTerminal(f)
}
