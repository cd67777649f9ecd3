package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	registryDir string
	policyDir   string
	rulesFile   string
	verbose     bool
	jsonOutput  bool
)

// buildVersion is the build version, for telemetry and version output.
var buildVersion = "dev"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netfence",
		Short: "NetFence - network security policy translation engine",
		Long: `NetFence turns declarative network intent into platform configuration.

The pipeline:
  - Registry: hosts, groups, services, and zones from YAML documents
  - Normalizer: resolves policy endpoints against the registry snapshot
  - Guardrails: classifies each policy as auto-approve, require-review, or deny
  - Adapters: render Terraform HCL per platform target (paloalto, aws, gcp,
    azure, fortinet, illumio)`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&registryDir, "registry", "registry", "object registry directory")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policies", "policies", "network policy directory")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "guardrail rule set file (built-in rules when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
