package pipeline

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/netfence/netfence/pkg/engine"
	"github.com/netfence/netfence/pkg/guardrail"
	"github.com/netfence/netfence/pkg/normalizer"
	"github.com/netfence/netfence/pkg/registry"
	"github.com/netfence/netfence/pkg/render"
	"github.com/netfence/netfence/pkg/telemetry"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

const defaultMaxParallel = 8

// Input is everything one run consumes: the declared objects and the
// policies to translate.
type Input struct {
	Objects  registry.Objects
	Policies []*engine.NetworkPolicy
}

// PolicyResult is the per-policy outcome of a run.
type PolicyResult struct {
	// Policy is the policy name.
	Policy string `json:"policy"`

	// Err is set when normalization rejected the policy; nothing else
	// is populated in that case.
	Err *engine.Error `json:"error,omitempty"`

	// Decision is the guardrail verdict.
	Decision engine.GuardrailDecision `json:"decision"`

	// Targets holds the per-target render outcomes. Empty for denied
	// policies.
	Targets []engine.TargetResult `json:"targets,omitempty"`
}

// Run is the outcome of one pipeline execution.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Status summarizes the run: succeeded, partial, or failed.
	Status string `json:"status"`

	// Policies holds per-policy results sorted by policy name.
	Policies []PolicyResult `json:"policies"`
}

// IndexEntry locates one rendered artifact in the per-run output tree.
type IndexEntry struct {
	Key    engine.TargetKey `json:"key"`
	Path   string           `json:"path"`
	SHA256 string           `json:"sha256"`
}

// Index returns the artifact index of the run: one entry per rendered
// artifact, keyed (policy, platform, scope), with its relative output
// path and content digest.
func (r *Run) Index() []IndexEntry {
	var out []IndexEntry
	for _, pr := range r.Policies {
		for _, tr := range pr.Targets {
			if tr.Artifact == nil {
				continue
			}
			out = append(out, IndexEntry{
				Key:    tr.Key,
				Path:   ArtifactPath(tr.Key),
				SHA256: tr.Artifact.SHA256,
			})
		}
	}
	return out
}

// Errors returns every collected (non-structural) error of the run.
func (r *Run) Errors() []*engine.Error {
	var out []*engine.Error
	for _, pr := range r.Policies {
		if pr.Err != nil {
			out = append(out, pr.Err)
		}
		for _, tr := range pr.Targets {
			if tr.Err != nil {
				out = append(out, tr.Err)
			}
		}
	}
	return out
}

// ArtifactPath returns the relative output path of a target:
// <platform>/<scope>/<policy>.tf.
func ArtifactPath(key engine.TargetKey) string {
	return path.Join(key.Platform, pathSegment(key.Scope), pathSegment(key.Policy)+".tf")
}

func pathSegment(s string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(s)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxParallel bounds the policy worker pool.
func WithMaxParallel(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxParallel = n
		}
	}
}

// WithWellKnownPorts overrides the normalizer's standard-service
// allow-list.
func WithWellKnownPorts(ports []string) Option {
	return func(p *Pipeline) { p.wellKnownPorts = ports }
}

// WithTrigger labels run metrics and events with what started the run
// (cli, watch).
func WithTrigger(trigger string) Option {
	return func(p *Pipeline) { p.trigger = trigger }
}

// Pipeline runs the full translation: registry, normalizer, guardrails,
// render.
type Pipeline struct {
	guard    *guardrail.Evaluator
	renderer *render.Renderer
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger

	maxParallel    int
	wellKnownPorts []string
	trigger        string
}

// New creates a pipeline around a guardrail evaluator and a plugin
// registry. A nil telemetry falls back to a no-op stack.
func New(guard *guardrail.Evaluator, plugins *render.PluginRegistry, tel *telemetry.Telemetry, opts ...Option) *Pipeline {
	if tel == nil {
		tel = telemetry.Nop()
	}

	logger := tel.Logger.NewComponentLogger("pipeline")

	p := &Pipeline{
		guard:       guard,
		renderer:    render.NewRenderer(plugins, logger.NewComponentLogger("render").Zerolog()),
		tel:         tel,
		logger:      logger,
		maxParallel: defaultMaxParallel,
		trigger:     "cli",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one translation over the input. Structural errors abort
// with a non-nil error; everything else is collected into the returned
// Run.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Run, error) {
	runID := uuid.New().String()
	logger := p.logger.WithRunID(runID)
	timer := telemetry.NewTimer()

	ctx, span := p.tel.Tracer.StartRunSpan(ctx, runID)
	defer span.End()

	p.tel.Metrics.RecordRunStarted(p.trigger)
	_ = p.tel.Events.PublishRunStarted(runID, p.trigger)

	fail := func(err error) (*Run, error) {
		telemetry.RecordError(span, err)
		if e := engine.AsError(err); e != nil {
			p.tel.Metrics.RecordError(string(e.Scope), e.Code)
		}
		p.tel.Metrics.RecordRunCompleted(StatusFailed, timer.Duration())
		_ = p.tel.Events.PublishRunFailed(runID, err.Error())
		logger.WithError(err).Error("run aborted")
		return nil, err
	}

	_, regSpan := p.tel.Tracer.StartStageSpan(ctx, "registry", runID)
	reg, err := registry.Build(in.Objects)
	if err != nil {
		telemetry.RecordError(regSpan, err)
		regSpan.End()
		return fail(err)
	}
	telemetry.RecordSuccess(regSpan)
	regSpan.End()

	hosts, groups, services, zones := reg.Counts()
	p.tel.Metrics.SetRegistryObjects("hosts", float64(hosts))
	p.tel.Metrics.SetRegistryObjects("groups", float64(groups))
	p.tel.Metrics.SetRegistryObjects("services", float64(services))
	p.tel.Metrics.SetRegistryObjects("zones", float64(zones))

	var normOpts []normalizer.Option
	if len(p.wellKnownPorts) > 0 {
		normOpts = append(normOpts, normalizer.WithWellKnownPorts(p.wellKnownPorts))
	}
	norm := normalizer.New(reg, normOpts...)

	// The registry snapshot is immutable from here on; policies are
	// independent of each other.
	results := make([]PolicyResult, len(in.Policies))
	var structural error
	var structuralOnce sync.Once

	workers := p.maxParallel
	if workers > len(in.Policies) {
		workers = len(in.Policies)
	}
	if workers < 1 {
		workers = 1
	}

	workQueue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				res, err := p.processPolicy(ctx, runID, norm, in.Policies[i])
				results[i] = res
				if err != nil {
					structuralOnce.Do(func() { structural = err })
				}
			}
		}()
	}
	for i := range in.Policies {
		workQueue <- i
	}
	close(workQueue)
	wg.Wait()

	if structural != nil {
		return fail(structural)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Policy < results[j].Policy
	})

	run := &Run{ID: runID, Status: StatusSucceeded, Policies: results}
	if len(run.Errors()) > 0 {
		run.Status = StatusPartial
	}

	telemetry.RecordSuccess(span)
	p.tel.Metrics.RecordRunCompleted(run.Status, timer.Duration())
	_ = p.tel.Events.PublishRunCompleted(runID, run.Status, timer.Duration())
	logger.Infof("run completed: %s (%d policies)", run.Status, len(results))

	return run, nil
}

// processPolicy takes one policy through normalize, guardrail, render.
// The returned error is non-nil only for structural failures.
func (p *Pipeline) processPolicy(ctx context.Context, runID string, norm *normalizer.Normalizer, pol *engine.NetworkPolicy) (PolicyResult, error) {
	name := pol.Meta.Name
	logger := p.logger.WithRunID(runID).WithPolicy(name)
	res := PolicyResult{Policy: name}

	np, err := norm.Normalize(pol)
	if err != nil {
		if engine.IsStructural(err) {
			return res, err
		}
		res.Err = engine.AsError(err)
		p.tel.Metrics.RecordError(string(res.Err.Scope), res.Err.Code)
		_ = p.tel.Events.PublishPolicyRejected(runID, name, err.Error())
		logger.WithError(err).Warn("policy rejected at normalization")
		return res, nil
	}

	res.Decision = p.guard.Evaluate(ctx, np)
	p.tel.Metrics.RecordDecision(string(res.Decision.Decision), res.Decision.Rule)
	_ = p.tel.Events.PublishGuardrailDecision(runID, name,
		string(res.Decision.Decision), res.Decision.Rule)

	if res.Decision.Decision == engine.DecisionDeny {
		logger.Infof("policy denied by rule %s, skipping render", res.Decision.Rule)
		return res, nil
	}

	res.Targets = p.renderTargets(ctx, runID, np)
	return res, nil
}

func (p *Pipeline) renderTargets(ctx context.Context, runID string, np *engine.NormalizedPolicy) []engine.TargetResult {
	_, span := p.tel.Tracer.StartStageSpan(ctx, "render", runID)
	defer span.End()

	timer := telemetry.NewTimer()
	targets := p.renderer.Render(np)
	duration := timer.Duration()

	for _, tr := range targets {
		if tr.Err != nil {
			p.tel.Metrics.RecordRender(tr.Key.Platform, "failed", duration)
			p.tel.Metrics.RecordError(string(tr.Err.Scope), tr.Err.Code)
			_ = p.tel.Events.PublishRenderFailed(runID, tr.Key.Policy,
				tr.Key.Platform, tr.Key.Scope, tr.Err.Error())
			continue
		}
		p.tel.Metrics.RecordRender(tr.Key.Platform, "rendered", duration)
		_ = p.tel.Events.PublishRenderCompleted(runID, tr.Key.Policy,
			tr.Key.Platform, tr.Key.Scope, tr.Artifact.SHA256)
	}

	if failed := countFailed(targets); failed > 0 {
		telemetry.RecordError(span, fmt.Errorf("%d of %d targets failed", failed, len(targets)))
	} else {
		telemetry.RecordSuccess(span)
	}
	return targets
}

func countFailed(targets []engine.TargetResult) int {
	n := 0
	for _, tr := range targets {
		if tr.Err != nil {
			n++
		}
	}
	return n
}
