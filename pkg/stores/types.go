package stores

import (
	"context"
	"time"
)

// RunRecord is the audit row for one pipeline run.
type RunRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Trigger     string     `json:"trigger"`
	PolicyCount int        `json:"policy_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// DecisionRecord is the audit row for one guardrail verdict.
type DecisionRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Policy     string    `json:"policy"`
	Decision   string    `json:"decision"`
	Rule       string    `json:"rule"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ArtifactRecord is the audit row for one rendered (or failed) target.
type ArtifactRecord struct {
	ID       int64  `json:"id"`
	RunID    string `json:"run_id"`
	Policy   string `json:"policy"`
	Platform string `json:"platform"`
	Scope    string `json:"scope"`

	// Path is the relative output path of the artifact. Empty for
	// failed targets.
	Path string `json:"path,omitempty"`

	// SHA256 is the content digest. Empty for failed targets.
	SHA256 string `json:"sha256,omitempty"`

	// Status is rendered or failed.
	Status string `json:"status"`

	// Error carries the classified error text of a failed target.
	Error *string `json:"error,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// Artifact record statuses.
const (
	ArtifactStatusRendered = "rendered"
	ArtifactStatusFailed   = "failed"
)

// Store is the audit persistence contract.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	CreateRun(ctx context.Context, run *RunRecord) error
	CompleteRun(ctx context.Context, id, status string, errMsg *string) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)

	RecordDecision(ctx context.Context, d *DecisionRecord) error
	ListDecisions(ctx context.Context, runID string) ([]*DecisionRecord, error)

	RecordArtifact(ctx context.Context, a *ArtifactRecord) error
	ListArtifacts(ctx context.Context, runID string) ([]*ArtifactRecord, error)

	HealthCheck(ctx context.Context) error
}
