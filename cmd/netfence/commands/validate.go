package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netfence/netfence/pkg/registry"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate registry and policy documents",
		Long: `Validate the object registry and policy documents.

This command checks:
  - YAML syntax and document envelopes
  - Schema conformance per kind (CUE)
  - Struct-level field constraints
  - Cross-references: duplicate names, unresolved references, membership cycles`,
		Example: `  # Validate the default registry/ and policies/ directories
  netfence validate

  # Validate explicit directories
  netfence validate --registry ./inventory --policies ./requests`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("registry", registryDir).
				Str("policies", policyDir).
				Msg("Validating documents")

			bundle, err := loadBundle()
			if err != nil {
				return err
			}

			report := validateReport{
				Hosts:    len(bundle.Objects.Hosts),
				Groups:   len(bundle.Objects.Groups),
				Services: len(bundle.Objects.Services),
				Zones:    len(bundle.Objects.Zones),
				Policies: len(bundle.Policies),
			}
			for _, e := range bundle.Errors {
				report.Errors = append(report.Errors, e.String())
			}

			// Document-level problems make the snapshot meaningless, so
			// cross-reference checks only run on a clean bundle.
			if len(bundle.Errors) == 0 {
				if _, err := registry.Build(bundle.Objects); err != nil {
					report.Errors = append(report.Errors, err.Error())
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Printf("Loaded %d hosts, %d groups, %d services, %d zones, %d policies\n",
					report.Hosts, report.Groups, report.Services, report.Zones, report.Policies)
				for _, e := range report.Errors {
					fmt.Printf("  error: %s\n", e)
				}
			}

			if len(report.Errors) > 0 {
				return fmt.Errorf("validation failed with %d error(s)", len(report.Errors))
			}

			log.Info().Msg("Documents are valid")
			return nil
		},
	}

	return cmd
}

type validateReport struct {
	Hosts    int      `json:"hosts"`
	Groups   int      `json:"groups"`
	Services int      `json:"services"`
	Zones    int      `json:"zones"`
	Policies int      `json:"policies"`
	Errors   []string `json:"errors,omitempty"`
}
