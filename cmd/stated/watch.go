package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/stated/internal/logger"
)

const defaultDebounce = 500 * time.Millisecond

func newWatchCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{rollbackPolicy: "never"}

	cmd := &cobra.Command{
		Use:   "watch <document>",
		Short: "Apply the document now and again whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root, applyOverrides(cmd, &opts))
			if err != nil {
				return err
			}
			debounce, err := a.settings.DebounceInterval()
			if err != nil {
				return err
			}
			if debounce == 0 {
				debounce = defaultDebounce
			}

			path := args[0]
			reconcile := func(context.Context) {
				defer a.flushMetrics()
				if err := runApply(cmd, a, path, opts); err != nil {
					a.log.Error(err, "reconciliation failed", "document", path)
				}
			}
			return watchDocument(cmd.Context(), path, debounce, a.log, reconcile)
		},
	}

	cmd.Flags().BoolVar(&opts.verify, "verify", false, "Verify convergence after applying")
	cmd.Flags().Var(&opts.rollbackPolicy, "rollback", "Rollback policy: never, on-any-failure or on-fatal-failure")

	return cmd
}

// watchDocument runs reconcile once, then again after every burst of writes
// to path settles for debounce. Runs never overlap. It returns when ctx is
// cancelled.
func watchDocument(ctx context.Context, path string, debounce time.Duration, log *logger.Logger, reconcile func(context.Context)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve document path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors and atomic writers replace the file, so watch its directory.
	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching document", "path", absPath, "debounce", debounce.String())

	reconcile(ctx)

	timer := time.NewTimer(debounce)
	timer.Stop()
	name := filepath.Base(absPath)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Remove) {
				log.Warn("document removed", "path", event.Name)
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Debug("document changed", "path", event.Name, "op", event.Op.String())
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "document watcher error")

		case <-timer.C:
			log.Info("document changed, reconciling", "path", absPath)
			reconcile(ctx)
		}
	}
}
