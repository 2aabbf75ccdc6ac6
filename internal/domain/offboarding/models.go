package offboarding

import "time"

const (
	StatusRunning        = "running"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusIdentityFailed = "identity_failed"
	StatusAbandoned      = "abandoned"
)

type Result struct {
	Tier    int    `json:"tier"`
	Table   string `json:"table"`
	Column  string `json:"column"`
	Deleted int64  `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

type Report struct {
	RunID           string    `json:"runId,omitempty"`
	UserID          string    `json:"userId"`
	Status          string    `json:"status"`
	Results         []Result  `json:"results"`
	TotalDeleted    int64     `json:"totalDeleted"`
	Failures        []string  `json:"failures,omitempty"`
	IdentityDeleted bool      `json:"identityDeleted"`
	StartedAt       time.Time `json:"startedAt"`
	CompletedAt     time.Time `json:"completedAt"`
}

// Run is the persisted record of one deletion attempt.
type Run struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	Status      string     `json:"status"`
	FailedStep  string     `json:"failedStep,omitempty"`
	Error       string     `json:"error,omitempty"`
	Results     []Result   `json:"results,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type RunOutcome struct {
	Status     string
	FailedStep string
	Error      string
	Results    []Result
}
