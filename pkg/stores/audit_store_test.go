package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *AuditStore {
	t.Helper()

	store, err := NewAuditStore(Config{
		Path: filepath.Join(t.TempDir(), "audit.db"),
	})
	if err != nil {
		t.Fatalf("NewAuditStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	// Second run must be a no-op, not an error.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &RunRecord{
		ID:          "run-1",
		Status:      "running",
		Trigger:     "cli",
		PolicyCount: 3,
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != "running" || got.Trigger != "cli" || got.PolicyCount != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("new run has completion time")
	}

	if err := store.CompleteRun(ctx, "run-1", "succeeded", nil); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != "succeeded" || got.CompletedAt == nil {
		t.Errorf("completion not recorded: %+v", got)
	}

	if err := store.CompleteRun(ctx, "missing", "failed", nil); err == nil {
		t.Error("CompleteRun on missing run did not fail")
	}
	if _, err := store.GetRun(ctx, "missing"); err == nil {
		t.Error("GetRun on missing run did not fail")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		err := store.CreateRun(ctx, &RunRecord{
			ID:        id,
			Status:    "succeeded",
			Trigger:   "cli",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-new" || runs[1].ID != "run-mid" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestDecisionRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &RunRecord{
		ID: "run-1", Status: "running", Trigger: "cli", StartedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	decisions := []*DecisionRecord{
		{RunID: "run-1", Policy: "web-to-db", Decision: "auto-approve", Rule: "standard-allow-auto"},
		{RunID: "run-1", Policy: "dmz-ingress", Decision: "require-review", Rule: "internet-facing-review", Reason: "internet facing"},
	}
	for _, d := range decisions {
		if err := store.RecordDecision(ctx, d); err != nil {
			t.Fatalf("RecordDecision: %v", err)
		}
		if d.ID == 0 {
			t.Error("decision ID not populated")
		}
	}

	got, err := store.ListDecisions(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("decisions = %d, want 2", len(got))
	}
	if got[0].Policy != "web-to-db" || got[1].Rule != "internet-facing-review" {
		t.Errorf("unexpected rows: %+v, %+v", got[0], got[1])
	}
}

func TestArtifactRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, &RunRecord{
		ID: "run-1", Status: "running", Trigger: "watch", StartedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rendered := &ArtifactRecord{
		RunID:    "run-1",
		Policy:   "web-to-db",
		Platform: "aws",
		Scope:    "prod-account",
		Path:     "aws/prod-account/web-to-db.tf",
		SHA256:   "deadbeef",
		Status:   ArtifactStatusRendered,
	}
	if err := store.RecordArtifact(ctx, rendered); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}

	msg := "UNKNOWN_PLATFORM: no plugin registered"
	failed := &ArtifactRecord{
		RunID:    "run-1",
		Policy:   "web-to-db",
		Platform: "checkpoint",
		Scope:    "mgmt",
		Status:   ArtifactStatusFailed,
		Error:    &msg,
	}
	if err := store.RecordArtifact(ctx, failed); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}

	got, err := store.ListArtifacts(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(got))
	}
	if got[0].SHA256 != "deadbeef" || got[0].Status != ArtifactStatusRendered {
		t.Errorf("rendered row mismatch: %+v", got[0])
	}
	if got[1].Error == nil || got[1].Status != ArtifactStatusFailed {
		t.Errorf("failed row mismatch: %+v", got[1])
	}
}
