package commands

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/netfence/netfence/pkg/config"
	"github.com/netfence/netfence/pkg/guardrail"
	"github.com/netfence/netfence/pkg/platforms"
	"github.com/netfence/netfence/pkg/render"
	"github.com/netfence/netfence/pkg/telemetry"
)

// loadBundle reads the registry and policy documents named by the
// global flags. Validation errors live on the returned bundle.
func loadBundle() (*config.Bundle, error) {
	loader := config.NewLoader(log.Logger)
	return loader.Load(registryDir, policyDir)
}

// newEvaluator builds a guardrail evaluator, installing the rule set
// file from --rules over the built-in rules when one is given.
func newEvaluator(ctx context.Context) (*guardrail.Evaluator, error) {
	guard, err := guardrail.New(log.Logger)
	if err != nil {
		return nil, err
	}

	if rulesFile != "" {
		rs, err := guardrail.NewLoader(log.Logger).Load(rulesFile)
		if err != nil {
			return nil, err
		}
		if err := guard.SetRuleSet(ctx, rs); err != nil {
			return nil, err
		}
	}

	return guard, nil
}

// newPluginRegistry registers every built-in platform plugin.
func newPluginRegistry() (*render.PluginRegistry, error) {
	plugins := render.NewPluginRegistry()
	for _, p := range platforms.All() {
		if err := plugins.Register(p); err != nil {
			return nil, err
		}
	}
	return plugins, nil
}

// newTelemetry builds the telemetry stack for a command. The metrics
// listener only makes sense for long-running commands (watch).
func newTelemetry(serveMetrics bool) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Metrics.Enabled = serveMetrics
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.New(cfg)
}
