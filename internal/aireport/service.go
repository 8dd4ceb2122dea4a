package aireport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"compass/api/internal/store"
)

// Completer is satisfied by *Client; tests substitute a fake.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// SnapshotStore provides the numbers a status report is written from.
type SnapshotStore interface {
	Summary(ctx context.Context) (store.PortfolioSummary, error)
	ListRecentActiveProjects(ctx context.Context, limit int) ([]store.Project, error)
}

// Report is the generated portfolio status report. Fallback is true
// when the model was unreachable or returned something unusable and the
// report was assembled from the snapshot directly.
type Report struct {
	Headline        string    `json:"headline"`
	Health          string    `json:"health"`
	Narrative       string    `json:"narrative"`
	Recommendations []string  `json:"recommendations"`
	Model           string    `json:"model,omitempty"`
	Fallback        bool      `json:"fallback"`
	GeneratedAt     time.Time `json:"generated_at"`

	Summary store.PortfolioSummary `json:"summary"`
}

type Service struct {
	store     SnapshotStore
	completer Completer
	modelName string
}

func NewService(st SnapshotStore, completer Completer, modelName string) *Service {
	return &Service{store: st, completer: completer, modelName: modelName}
}

const systemPrompt = `You are a portfolio management analyst. Given a portfolio snapshot,
respond with a single JSON object and nothing else:
{"headline": string, "health": "green"|"amber"|"red", "narrative": string, "recommendations": [string]}`

// Generate builds a snapshot, asks the model for a narrative report and
// falls back to a deterministic one when the model cannot be used.
func (s *Service) Generate(ctx context.Context) (Report, error) {
	summary, err := s.store.Summary(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("aireport: portfolio summary: %w", err)
	}
	projects, err := s.store.ListRecentActiveProjects(ctx, 10)
	if err != nil {
		return Report{}, fmt.Errorf("aireport: recent projects: %w", err)
	}

	report, err := s.fromModel(ctx, summary, projects)
	if err != nil {
		log.Printf("report generation falling back: %v", err)
		report = fallbackReport(summary)
	}
	report.Summary = summary
	report.GeneratedAt = time.Now().UTC()
	return report, nil
}

func (s *Service) fromModel(ctx context.Context, summary store.PortfolioSummary, projects []store.Project) (Report, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Portfolio snapshot: %d projects (%d active, %d completed, %d at risk, %d off track), %d open risks.\n",
		summary.ProjectCount, summary.ActiveCount, summary.CompletedCount,
		summary.AtRiskCount, summary.OffTrackCount, summary.OpenRiskCount)
	fmt.Fprintf(&prompt, "Planned cost %.0f, actual cost %.0f.\n",
		summary.TotalPlannedCost, summary.TotalActualCost)
	if len(projects) > 0 {
		prompt.WriteString("Most recently updated active projects:\n")
		for _, p := range projects {
			fmt.Fprintf(&prompt, "- %s %q: status=%s priority=%s completion=%d%%\n",
				p.Key, p.Name, p.Status, p.Priority, p.Completion)
		}
	}

	raw, err := s.completer.Complete(ctx, systemPrompt, prompt.String())
	if err != nil {
		return Report{}, err
	}

	var report Report
	if err := json.Unmarshal([]byte(extractJSON(raw)), &report); err != nil {
		return Report{}, fmt.Errorf("aireport: model output not parseable: %w", err)
	}
	if report.Headline == "" || report.Narrative == "" {
		return Report{}, fmt.Errorf("aireport: model output missing fields")
	}
	switch report.Health {
	case "green", "amber", "red":
	default:
		report.Health = healthFor(summary)
	}
	report.Model = s.modelName
	return report, nil
}

// extractJSON tolerates models that wrap the object in prose or a
// markdown code fence.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}

func healthFor(summary store.PortfolioSummary) string {
	switch {
	case summary.OffTrackCount > 0:
		return "red"
	case summary.AtRiskCount > 0 || summary.OpenRiskCount > 3:
		return "amber"
	default:
		return "green"
	}
}

func fallbackReport(summary store.PortfolioSummary) Report {
	health := healthFor(summary)
	headline := fmt.Sprintf("%d projects tracked, %d active", summary.ProjectCount, summary.ActiveCount)
	narrative := fmt.Sprintf(
		"The portfolio holds %d projects: %d active, %d completed, %d at risk and %d off track. "+
			"There are %d open risks. Planned cost stands at %.0f against %.0f actual.",
		summary.ProjectCount, summary.ActiveCount, summary.CompletedCount,
		summary.AtRiskCount, summary.OffTrackCount, summary.OpenRiskCount,
		summary.TotalPlannedCost, summary.TotalActualCost)

	recs := []string{}
	if summary.AtRiskCount > 0 {
		recs = append(recs, "Review at-risk projects with their managers.")
	}
	if summary.OffTrackCount > 0 {
		recs = append(recs, "Escalate off-track projects to the portfolio board.")
	}
	if summary.OpenRiskCount > 0 {
		recs = append(recs, "Assign mitigation owners to open risks.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No immediate action required.")
	}

	return Report{
		Headline:        headline,
		Health:          health,
		Narrative:       narrative,
		Recommendations: recs,
		Fallback:        true,
	}
}
