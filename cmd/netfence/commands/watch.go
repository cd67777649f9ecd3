package commands

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netfence/netfence/pkg/guardrail"
)

// rerunDelay debounces bursts of document changes into one run.
const rerunDelay = time.Second

func newWatchCommand() *cobra.Command {
	var (
		opts          generateOptions
		metricsServer bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the pipeline on document changes",
		Long: `Watch the registry, policy, and rule set files and re-run the pipeline
whenever they change.

Changes are debounced, so a burst of file writes triggers one run. A
run that fails leaves the previous artifacts in place; rule set reloads
that fail to validate keep the previous rules active.`,
		Example: `  # Watch with the metrics endpoint enabled
  netfence watch --metrics

  # Watch custom directories
  netfence watch --registry ./inventory --policies ./requests --out ./rendered`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tel, err := newTelemetry(metricsServer)
			if err != nil {
				return err
			}
			defer func() {
				if err := tel.Shutdown(context.Background()); err != nil {
					log.Error().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
			if metricsServer {
				if err := tel.StartMetricsServer(); err != nil {
					return err
				}
			}

			guard, err := newEvaluator(ctx)
			if err != nil {
				return err
			}
			plugins, err := newPluginRegistry()
			if err != nil {
				return err
			}

			if rulesFile != "" {
				rl := guardrail.NewLoader(log.Logger)
				err := rl.Watch(ctx, rulesFile, func(rs *guardrail.RuleSet) error {
					return guard.SetRuleSet(ctx, rs)
				})
				if err != nil {
					return err
				}
				defer rl.Close()
			}

			opts.Trigger = "watch"
			rerun := func() {
				if err := runGenerate(ctx, opts, tel, guard, plugins); err != nil {
					log.Error().Err(err).Msg("Run failed")
				}
			}

			// Initial run before waiting for changes.
			rerun()

			return watchDocuments(ctx, []string{registryDir, policyDir}, rerun)
		},
	}

	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "out", "artifact output directory")
	cmd.Flags().StringVar(&opts.AuditDB, "audit-db", "netfence.db", "audit database path (empty disables auditing)")
	cmd.Flags().IntVar(&opts.MaxParallel, "max-parallel", 0, "policy worker pool size (0 for default)")
	cmd.Flags().BoolVar(&metricsServer, "metrics", false, "serve Prometheus metrics")

	return cmd
}

// watchDocuments blocks, re-running rerun after every debounced change
// under the given directory trees, until the context is cancelled.
func watchDocuments(ctx context.Context, dirs []string, rerun func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := addRecursive(watcher, dir); err != nil {
			return err
		}
	}
	log.Info().Strs("dirs", dirs).Msg("Watching for document changes")

	var rerunTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// New subdirectories join the watch; their files arrive as
			// separate events.
			if event.Op&fsnotify.Create != 0 {
				if err := addRecursive(watcher, event.Name); err == nil {
					// Directory added, or a plain file (Add on a file is fine).
					log.Debug().Str("path", event.Name).Msg("Watching new path")
				}
			}

			if !isYAML(event.Name) && event.Op&fsnotify.Create == 0 {
				continue
			}

			log.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Document changed")

			if rerunTimer != nil {
				rerunTimer.Stop()
			}
			rerunTimer = time.AfterFunc(rerunDelay, rerun)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// addRecursive watches a directory and all of its subdirectories.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
