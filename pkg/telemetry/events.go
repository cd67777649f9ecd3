package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one pipeline lifecycle notification.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the pipeline stage that emitted the event.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Policy is the associated policy name, if applicable.
	Policy string `json:"policy,omitempty"`

	// Platform and Scope identify the render target, if applicable.
	Platform string `json:"platform,omitempty"`
	Scope    string `json:"scope,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for the pipeline lifecycle.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
	EventTypePolicyRejected    = "policy.rejected"
	EventTypeGuardrailDecision = "guardrail.decision"
	EventTypeRenderCompleted   = "render.completed"
	EventTypeRenderFailed      = "render.failed"
	EventTypeRulesReloaded     = "rules.reloaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given
// configuration. A disabled configuration returns a no-op instance.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, trigger string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "pipeline",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started (%s)", runID, trigger),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"trigger": trigger,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "pipeline",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "pipeline",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishPolicyRejected publishes a normalization rejection event.
func (ep *EventPublisher) PublishPolicyRejected(runID, policy, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyRejected,
		Source:  "normalizer",
		RunID:   runID,
		Policy:  policy,
		Message: fmt.Sprintf("Policy %s rejected: %s", policy, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishGuardrailDecision publishes a guardrail verdict event.
func (ep *EventPublisher) PublishGuardrailDecision(runID, policy, decision, rule string) error {
	return ep.Publish(Event{
		Type:    EventTypeGuardrailDecision,
		Source:  "guardrail",
		RunID:   runID,
		Policy:  policy,
		Message: fmt.Sprintf("Policy %s classified %s by rule %s", policy, decision, rule),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"decision": decision,
			"rule":     rule,
		},
	})
}

// PublishRenderCompleted publishes a per-target render success event.
func (ep *EventPublisher) PublishRenderCompleted(runID, policy, platform, scope, digest string) error {
	return ep.Publish(Event{
		Type:     EventTypeRenderCompleted,
		Source:   "render",
		RunID:    runID,
		Policy:   policy,
		Platform: platform,
		Scope:    scope,
		Message:  fmt.Sprintf("Rendered %s for %s/%s", policy, platform, scope),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"sha256": digest,
		},
	})
}

// PublishRenderFailed publishes a per-target render failure event.
func (ep *EventPublisher) PublishRenderFailed(runID, policy, platform, scope, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeRenderFailed,
		Source:   "render",
		RunID:    runID,
		Policy:   policy,
		Platform: platform,
		Scope:    scope,
		Message:  fmt.Sprintf("Render of %s for %s/%s failed: %s", policy, platform, scope, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishRulesReloaded publishes a guardrail rule-set reload event.
func (ep *EventPublisher) PublishRulesReloaded(path string, ruleCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeRulesReloaded,
		Source:  "guardrail",
		Message: fmt.Sprintf("Rule set reloaded from %s (%d rules)", path, ruleCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path":  path,
			"rules": ruleCount,
		},
	})
}

// Subscribe adds a new event subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a given
// level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
