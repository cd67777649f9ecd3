package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netfence/netfence/pkg/engine"
)

// defaultMaxParallel bounds the worker pool when no option overrides it.
const defaultMaxParallel = 8

// Option configures a Renderer.
type Option func(*Renderer)

// WithMaxParallel bounds the number of targets rendered concurrently.
func WithMaxParallel(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// Renderer renders normalized policies into per-target artifacts.
type Renderer struct {
	plugins     *PluginRegistry
	maxParallel int
	logger      zerolog.Logger
}

// NewRenderer creates a Renderer over a plugin registry.
func NewRenderer(plugins *PluginRegistry, logger zerolog.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		plugins:     plugins,
		maxParallel: defaultMaxParallel,
		logger:      logger.With().Str("component", "renderer").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces one result per (platform, scope) target of the policy.
// Targets are rendered in parallel and fail independently; results come
// back sorted by target key so output order never depends on scheduling.
func (r *Renderer) Render(p *engine.NormalizedPolicy) []engine.TargetResult {
	var keys []engine.TargetKey
	for _, target := range p.Targets {
		for _, scope := range target.Scope {
			keys = append(keys, engine.TargetKey{
				Policy:   p.Name,
				Platform: target.Platform,
				Scope:    scope,
			})
		}
	}

	results := make([]engine.TargetResult, len(keys))

	workerCount := r.maxParallel
	if len(keys) < workerCount {
		workerCount = len(keys)
	}

	workQueue := make(chan int, len(keys))
	for i := range keys {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				results[i] = r.renderTarget(p, keys[i])
			}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Key.String() < results[j].Key.String()
	})

	return results
}

func (r *Renderer) renderTarget(p *engine.NormalizedPolicy, key engine.TargetKey) engine.TargetResult {
	result := engine.TargetResult{Key: key}

	plugin, ok := r.plugins.Get(key.Platform)
	if !ok {
		result.Err = engine.NewTargetError(engine.ErrCodeUnknownPlatform,
			fmt.Sprintf("no plugin registered for platform %q", key.Platform), nil).
			WithObject(p.Name).
			WithTarget(key.Platform, key.Scope)
		return result
	}

	artifact, err := r.renderArtifact(plugin, p, key)
	if err != nil {
		e := engine.AsError(err)
		if e.Object == "" {
			e = e.WithObject(p.Name)
		}
		e = e.WithTarget(key.Platform, key.Scope)
		r.logger.Warn().
			Str("policy", p.Name).
			Str("platform", key.Platform).
			Str("scope", key.Scope).
			Err(e).
			Msg("Target rendering failed")
		result.Err = e
		return result
	}

	result.Artifact = artifact
	return result
}

func (r *Renderer) renderArtifact(plugin engine.Plugin, p *engine.NormalizedPolicy, key engine.TargetKey) (*engine.Artifact, error) {
	source, err := r.renderEndpointGroup(plugin, &p.Source, key.Scope)
	if err != nil {
		return nil, err
	}
	destination, err := r.renderEndpointGroup(plugin, &p.Destination, key.Scope)
	if err != nil {
		return nil, err
	}

	rule, err := plugin.RenderPolicy(&engine.RenderPolicyRequest{
		Policy:      p,
		Scope:       key.Scope,
		Source:      source,
		Destination: destination,
		Services:    p.Services,
	})
	if err != nil {
		return nil, err
	}

	content := assemble(p, key, source, destination, rule)
	digest := sha256.Sum256(content)

	return &engine.Artifact{
		Key:     key,
		Content: content,
		SHA256:  hex.EncodeToString(digest[:]),
	}, nil
}

// renderEndpointGroup renders the group side of an endpoint, validating
// the mapping strategy against the plugin's dispatch table first.
// Non-group endpoints render directly from members inside RenderPolicy.
func (r *Renderer) renderEndpointGroup(plugin engine.Plugin, ep *engine.ResolvedEndpoint, scope string) (*engine.GroupArtifact, error) {
	if ep.Kind != engine.EndpointGroup || ep.Group == nil {
		return nil, nil
	}

	var mapping *engine.GroupMapping
	if m, ok := ep.Group.Spec.PlatformMapping[plugin.Platform()]; ok {
		mapping = &m
		if !strategySupported(plugin, m.Strategy) {
			return nil, engine.NewTargetError(engine.ErrCodeUnsupportedStrategy,
				fmt.Sprintf("platform %s does not support strategy %q for group %s",
					plugin.Platform(), m.Strategy, ep.Name), nil)
		}
	}

	if err := plugin.ValidateMapping(mapping); err != nil {
		return nil, err
	}

	return plugin.RenderGroup(&engine.RenderGroupRequest{
		Group:   ep.Group,
		Mapping: mapping,
		Members: ep.Members,
		Scope:   scope,
	})
}

func strategySupported(plugin engine.Plugin, strategy string) bool {
	for _, s := range plugin.SupportedStrategies() {
		if s == strategy {
			return true
		}
	}
	return false
}

// assemble builds the final artifact text: a metadata header, the
// supporting group fragments, then the policy rule. The header carries
// no timestamps so identical inputs produce identical bytes.
func assemble(p *engine.NormalizedPolicy, key engine.TargetKey, source, destination *engine.GroupArtifact, rule string) []byte {
	var b strings.Builder

	b.WriteString("# Managed by netfence. Do not edit by hand.\n")
	fmt.Fprintf(&b, "# Policy:    %s\n", p.Name)
	fmt.Fprintf(&b, "# Ticket:    %s\n", p.Ticket)
	fmt.Fprintf(&b, "# Requestor: %s\n", p.Requestor)
	fmt.Fprintf(&b, "# Platform:  %s\n", key.Platform)
	fmt.Fprintf(&b, "# Scope:     %s\n", key.Scope)
	b.WriteString("\n")

	seen := map[string]struct{}{}
	for _, ga := range []*engine.GroupArtifact{source, destination} {
		if ga == nil || ga.Fragment == "" {
			continue
		}
		// Source and destination may share a supporting object.
		if _, dup := seen[ga.Fragment]; dup {
			continue
		}
		seen[ga.Fragment] = struct{}{}
		b.WriteString(strings.TrimRight(ga.Fragment, "\n"))
		b.WriteString("\n\n")
	}

	b.WriteString(strings.TrimRight(rule, "\n"))
	b.WriteString("\n")

	return []byte(b.String())
}
