package export

import (
	"fmt"

	"compass/api/internal/aireport"
)

// Service renders generated status reports.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export renders a report in the requested format.
func (s *Service) Export(report aireport.Report, format Format) (*Result, error) {
	data := TemplateData{
		Headline:        report.Headline,
		Health:          report.Health,
		Narrative:       report.Narrative,
		Recommendations: report.Recommendations,
		Model:           report.Model,
		Fallback:        report.Fallback,
		GeneratedAt:     report.GeneratedAt,

		ProjectCount:     report.Summary.ProjectCount,
		ActiveCount:      report.Summary.ActiveCount,
		CompletedCount:   report.Summary.CompletedCount,
		AtRiskCount:      report.Summary.AtRiskCount,
		OffTrackCount:    report.Summary.OffTrackCount,
		OpenRiskCount:    report.Summary.OpenRiskCount,
		TotalPlannedCost: report.Summary.TotalPlannedCost,
		TotalActualCost:  report.Summary.TotalActualCost,
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(report.Headline) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return renderPDF(html, report.Headline)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
