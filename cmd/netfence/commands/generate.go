package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netfence/netfence/pkg/guardrail"
	"github.com/netfence/netfence/pkg/pipeline"
	"github.com/netfence/netfence/pkg/render"
	"github.com/netfence/netfence/pkg/stores"
	"github.com/netfence/netfence/pkg/telemetry"
)

func newGenerateCommand() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the full pipeline and write artifacts",
		Long: `Run the full translation pipeline and write rendered artifacts.

Artifacts land under <out>/<platform>/<scope>/<policy>.tf together with
an index.json mapping each artifact to its content digest. Guardrail
decisions and per-target outcomes are recorded in the audit database.

Denied policies are skipped without error. Policies requiring review
are rendered for preview; applying them is gated outside this tool.`,
		Example: `  # Generate into ./out with the default audit database
  netfence generate

  # Custom directories, no audit trail
  netfence generate --registry ./inventory --out ./rendered --audit-db ""`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tel, err := newTelemetry(false)
			if err != nil {
				return err
			}
			defer func() {
				if err := tel.Shutdown(context.Background()); err != nil {
					log.Error().Err(err).Msg("Telemetry shutdown failed")
				}
			}()

			guard, err := newEvaluator(ctx)
			if err != nil {
				return err
			}
			plugins, err := newPluginRegistry()
			if err != nil {
				return err
			}

			opts.Trigger = "cli"
			return runGenerate(ctx, opts, tel, guard, plugins)
		},
	}

	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "out", "artifact output directory")
	cmd.Flags().StringVar(&opts.AuditDB, "audit-db", "netfence.db", "audit database path (empty disables auditing)")
	cmd.Flags().IntVar(&opts.MaxParallel, "max-parallel", 0, "policy worker pool size (0 for default)")

	return cmd
}

// generateOptions carries the shared settings of generate and watch.
type generateOptions struct {
	OutDir      string
	AuditDB     string
	MaxParallel int
	Trigger     string
}

// runGenerate executes one pipeline run: load, translate, write
// artifacts, record audit rows.
func runGenerate(ctx context.Context, opts generateOptions, tel *telemetry.Telemetry,
	guard *guardrail.Evaluator, plugins *render.PluginRegistry) error {

	bundle, err := loadBundle()
	if err != nil {
		return err
	}
	if err := bundle.Err(); err != nil {
		return err
	}

	started := time.Now().UTC()
	pipe := pipeline.New(guard, plugins, tel,
		pipeline.WithTrigger(opts.Trigger),
		pipeline.WithMaxParallel(opts.MaxParallel))

	run, runErr := pipe.Run(ctx, pipeline.Input{
		Objects:  bundle.Objects,
		Policies: bundle.Policies,
	})

	if opts.AuditDB != "" {
		if err := recordAudit(ctx, opts.AuditDB, started, opts.Trigger, len(bundle.Policies), run, runErr); err != nil {
			log.Error().Err(err).Msg("Failed to record audit rows")
		}
	}
	if runErr != nil {
		return runErr
	}

	if err := writeArtifacts(opts.OutDir, run); err != nil {
		return err
	}

	rendered := len(run.Index())
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else {
		fmt.Printf("Run %s: %s (%d policies, %d artifacts)\n",
			run.ID, run.Status, len(run.Policies), rendered)
	}

	if run.Status == pipeline.StatusPartial {
		return fmt.Errorf("run %s completed with %d error(s)", run.ID, len(run.Errors()))
	}

	log.Info().
		Str("run_id", run.ID).
		Int("artifacts", rendered).
		Str("out", opts.OutDir).
		Msg("Artifacts written")
	return nil
}

// writeArtifacts lays the rendered artifacts out under the output
// directory and writes the run index next to them.
func writeArtifacts(outDir string, run *pipeline.Run) error {
	for _, pr := range run.Policies {
		for _, tr := range pr.Targets {
			if tr.Artifact == nil {
				continue
			}

			path := filepath.Join(outDir, filepath.FromSlash(pipeline.ArtifactPath(tr.Key)))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create artifact directory: %w", err)
			}
			if err := os.WriteFile(path, tr.Artifact.Content, 0o644); err != nil {
				return fmt.Errorf("failed to write artifact %s: %w", path, err)
			}
		}
	}

	index := struct {
		RunID     string                `json:"run_id"`
		Status    string                `json:"status"`
		Artifacts []pipeline.IndexEntry `json:"artifacts"`
	}{run.ID, run.Status, run.Index()}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "index.json"), append(data, '\n'), 0o644)
}

// recordAudit persists one run, its guardrail decisions, and its
// per-target outcomes.
func recordAudit(ctx context.Context, dbPath string, started time.Time, trigger string,
	policyCount int, run *pipeline.Run, runErr error) error {

	store, err := stores.NewAuditStore(stores.Config{Path: dbPath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	// Structural failures have no run result; record the failure itself.
	if runErr != nil {
		now := time.Now().UTC()
		msg := runErr.Error()
		return store.CreateRun(ctx, &stores.RunRecord{
			ID:          uuid.New().String(),
			Status:      pipeline.StatusFailed,
			Trigger:     trigger,
			PolicyCount: policyCount,
			StartedAt:   started,
			CompletedAt: &now,
			Error:       &msg,
		})
	}

	if err := store.CreateRun(ctx, &stores.RunRecord{
		ID:          run.ID,
		Status:      "running",
		Trigger:     trigger,
		PolicyCount: policyCount,
		StartedAt:   started,
	}); err != nil {
		return err
	}

	for _, pr := range run.Policies {
		if pr.Err == nil {
			if err := store.RecordDecision(ctx, &stores.DecisionRecord{
				RunID:    run.ID,
				Policy:   pr.Policy,
				Decision: string(pr.Decision.Decision),
				Rule:     pr.Decision.Rule,
				Reason:   pr.Decision.Reason,
			}); err != nil {
				return err
			}
		}

		for _, tr := range pr.Targets {
			rec := &stores.ArtifactRecord{
				RunID:    run.ID,
				Policy:   tr.Key.Policy,
				Platform: tr.Key.Platform,
				Scope:    tr.Key.Scope,
			}
			if tr.Artifact != nil {
				rec.Status = stores.ArtifactStatusRendered
				rec.Path = pipeline.ArtifactPath(tr.Key)
				rec.SHA256 = tr.Artifact.SHA256
			} else {
				rec.Status = stores.ArtifactStatusFailed
				if tr.Err != nil {
					msg := tr.Err.Error()
					rec.Error = &msg
				}
			}
			if err := store.RecordArtifact(ctx, rec); err != nil {
				return err
			}
		}
	}

	return store.CompleteRun(ctx, run.ID, run.Status, nil)
}
