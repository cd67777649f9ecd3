package guardrail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/netfence/netfence/pkg/engine"
)

const testRuleSetYAML = `name: corp-guardrails
rules:
  - name: deny-internet-db
    description: Internet exposure of databases is denied outright.
    decision: deny
    when:
      internet-facing: true
      cross-zone: true
    reason: internet-facing zone crossing
  - name: approve-standard
    decision: auto-approve
    when:
      standard-service: true
      internet-facing: false
    reason: standard service
`

func TestLoadRuleSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(testRuleSetYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l := NewLoader(zerolog.Nop())
	rs, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if rs.Name != "corp-guardrails" {
		t.Errorf("name = %s, want corp-guardrails", rs.Name)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rs.Rules))
	}

	first := rs.Rules[0]
	if first.Decision != engine.DecisionDeny {
		t.Errorf("decision = %s, want deny", first.Decision)
	}
	if first.When.InternetFacing == nil || !*first.When.InternetFacing {
		t.Error("internet-facing condition not decoded")
	}
	if first.When.CrossEnvironment != nil {
		t.Error("unset condition should stay nil")
	}

	// The loaded set must install cleanly.
	e := newEvaluator(t)
	if err := e.SetRuleSet(context.Background(), rs); err != nil {
		t.Fatalf("SetRuleSet: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	_, err := l.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if code := engine.CodeOf(err); code != engine.ErrCodeInvalidRuleSet {
		t.Errorf("code = %s, want %s", code, engine.ErrCodeInvalidRuleSet)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(testRuleSetYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l := NewLoader(zerolog.Nop())
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan *RuleSet, 1)
	err := l.Watch(ctx, path, func(rs *RuleSet) error {
		applied <- rs
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	updated := `name: updated
rules:
  - name: review-everything
    decision: require-review
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case rs := <-applied:
		if rs.Name != "updated" {
			t.Errorf("reloaded name = %s, want updated", rs.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
