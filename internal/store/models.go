package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID             string
	Key            string
	Name           string
	Status         string
	Priority       string
	ManagerID      *string
	PlannedCost    float64
	ActualCost     float64
	PlannedBenefit float64
	StartDate      *time.Time
	DueDate        *time.Time
	Completion     int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Task struct {
	ID             string
	ProjectID      string
	Name           string
	Status         string
	Priority       string
	EstimatedHours float64
	ActualHours    float64
	Completion     int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Feature struct {
	ID         string
	ProjectID  string
	Name       string
	Status     string
	Priority   string
	Completion int
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type BacklogItem struct {
	ID             string
	Name           string
	Status         string
	Priority       string
	EffortEstimate float64
	Completion     int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Resource struct {
	ID         string
	Name       string
	RoleLabel  string
	Skills     []string
	Experience string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Allocation joins a Resource to a Project or Task at a percentage in
// (0,100]. TargetKind is "project" or "task".
type Allocation struct {
	ID         string
	ResourceID string
	TargetKind string
	TargetID   string
	Percentage float64
	RoleLabel  string
	IsActive   bool
	CreatedAt  time.Time
}

type Risk struct {
	ID              string
	ProjectID       string
	Title           string
	Probability     float64
	Impact          float64
	Status          string
	MitigationOwner string
	DueDate         *time.Time
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RiskScore is probability × impact, derived, never stored.
func (r Risk) RiskScore() float64 {
	return r.Probability * r.Impact
}

// WorkloadCounts are the raw per-resource sums the ledger turns into a
// workload view. Utilization is computed by the caller so a zero estimate
// can be reported as null rather than a division by zero.
type WorkloadCounts struct {
	ProjectCount   int
	TaskCount      int
	EstimatedHours float64
	ActualHours    float64
}

// PortfolioSummary feeds report generation.
// PortfolioSummary is serialized directly inside generated reports, so
// it carries json tags.
type PortfolioSummary struct {
	ProjectCount     int     `json:"projectCount"`
	ActiveCount      int     `json:"activeCount"`
	CompletedCount   int     `json:"completedCount"`
	AtRiskCount      int     `json:"atRiskCount"`
	OffTrackCount    int     `json:"offTrackCount"`
	TotalPlannedCost float64 `json:"totalPlannedCost"`
	TotalActualCost  float64 `json:"totalActualCost"`
	OpenRiskCount    int     `json:"openRiskCount"`
}

// SearchHit is one row of the Postgres search fallback.
type SearchHit struct {
	Kind  string
	ID    string
	Title string
	Extra string
}

const (
	TargetProject = "project"
	TargetTask    = "task"
)

var ProjectStatuses = []string{"active", "completed", "at_risk", "off_track"}
var WorkStatuses = []string{"todo", "in_progress", "blocked", "done"}
var RiskStatuses = []string{"open", "in_progress", "mitigated", "closed"}
var Priorities = []string{"low", "medium", "high", "critical"}
