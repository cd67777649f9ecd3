package guardrail

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/netfence/netfence/pkg/engine"
)

// reloadDelay debounces bursts of filesystem events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads guardrail rule sets from YAML files and can watch them
// for changes.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a rule set loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "guardrail-loader").Logger(),
	}
}

// Load reads and decodes one rule set file. Validation happens when the
// rule set is installed into an Evaluator.
func (l *Loader) Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewRunError(engine.ErrCodeInvalidRuleSet,
			fmt.Sprintf("failed to read rule set %s", path), err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, engine.NewRunError(engine.ErrCodeInvalidRuleSet,
			fmt.Sprintf("failed to parse rule set %s", path), err)
	}

	if rs.Name == "" {
		rs.Name = strings.TrimSuffix(strings.TrimSuffix(path, ".yaml"), ".yml")
	}

	l.logger.Debug().
		Str("path", path).
		Str("rule_set", rs.Name).
		Int("rules", len(rs.Rules)).
		Msg("Rule set loaded")

	return &rs, nil
}

// Watch reloads the rule set whenever the file changes and hands it to
// apply. A reload that fails to load or apply leaves the previous rule
// set active and is logged, never propagated.
func (l *Loader) Watch(ctx context.Context, path string, apply func(*RuleSet) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, path, apply)

	l.logger.Info().Str("path", path).Msg("Watching rule set for changes")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, path string, apply func(*RuleSet) error) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule set file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				rs, err := l.Load(path)
				if err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload rule set")
					return
				}
				if err := apply(rs); err != nil {
					l.logger.Error().Err(err).Msg("Failed to apply reloaded rule set")
					return
				}
				l.logger.Info().
					Str("rule_set", rs.Name).
					Int("rules", len(rs.Rules)).
					Msg("Rule set reloaded")
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching for changes.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}
