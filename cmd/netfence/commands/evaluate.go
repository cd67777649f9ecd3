package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netfence/netfence/pkg/engine"
	"github.com/netfence/netfence/pkg/normalizer"
	"github.com/netfence/netfence/pkg/registry"
)

func newEvaluateCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate guardrails and report decisions",
		Long: `Evaluate every policy against the guardrail rules without rendering.

Each policy is normalized against the registry snapshot and classified
as auto-approve, require-review, or deny. Policies the normalizer
rejects are reported with their error instead of a decision. The report
is JSON, one entry per policy, sorted by policy name.`,
		Example: `  # Evaluate with the built-in rules
  netfence evaluate

  # Evaluate with a custom rule set and save the report
  netfence evaluate --rules guardrails.yaml --out report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bundle, err := loadBundle()
			if err != nil {
				return err
			}
			if err := bundle.Err(); err != nil {
				return err
			}

			reg, err := registry.Build(bundle.Objects)
			if err != nil {
				return err
			}

			guard, err := newEvaluator(ctx)
			if err != nil {
				return err
			}

			norm := normalizer.New(reg)
			report := make([]evaluateEntry, 0, len(bundle.Policies))
			for _, pol := range bundle.Policies {
				entry := evaluateEntry{Policy: pol.Meta.Name, Ticket: pol.Meta.Ticket}

				np, err := norm.Normalize(pol)
				if err != nil {
					if engine.IsStructural(err) {
						return err
					}
					entry.Error = err.Error()
				} else {
					d := guard.Evaluate(ctx, np)
					entry.Decision = string(d.Decision)
					entry.Rule = d.Rule
					entry.Reason = d.Reason
				}

				report = append(report, entry)
			}

			sort.Slice(report, func(i, j int) bool {
				return report[i].Policy < report[j].Policy
			})

			out := os.Stdout
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create report file: %w", err)
				}
				defer f.Close()
				out = f
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			log.Info().
				Int("policies", len(report)).
				Str("out", outFile).
				Msg("Guardrail report written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "report file path (stdout when empty)")

	return cmd
}

type evaluateEntry struct {
	Policy   string `json:"policy"`
	Ticket   string `json:"ticket,omitempty"`
	Decision string `json:"decision,omitempty"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}
