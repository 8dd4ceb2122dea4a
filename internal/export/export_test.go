package export

import (
	"strings"
	"testing"
	"time"

	"compass/api/internal/aireport"
	"compass/api/internal/store"
)

func sampleReport() aireport.Report {
	return aireport.Report{
		Headline:        "Steady quarter",
		Health:          "amber",
		Narrative:       "Most projects are on track; one slipped.",
		Recommendations: []string{"Review P-00002 staffing."},
		Model:           "llama3.1",
		GeneratedAt:     time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC),
		Summary: store.PortfolioSummary{
			ProjectCount: 6, ActiveCount: 4, CompletedCount: 1,
			AtRiskCount: 1, OpenRiskCount: 3,
			TotalPlannedCost: 900000, TotalActualCost: 310000,
		},
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService()

	result, err := svc.Export(sampleReport(), FormatHTML)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.MimeType != "text/html; charset=utf-8" {
		t.Fatalf("mime = %q", result.MimeType)
	}
	if result.Filename != "Steady-quarter.html" {
		t.Fatalf("filename = %q", result.Filename)
	}

	html := string(result.Data)
	for _, want := range []string{
		"Steady quarter",
		"amber",
		"Most projects are on track",
		"Review P-00002 staffing.",
		"900000",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestExportHTMLEscapesContent(t *testing.T) {
	svc := NewService()
	report := sampleReport()
	report.Narrative = `<script>alert("x")</script>`

	result, err := svc.Export(report, FormatHTML)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if strings.Contains(string(result.Data), "<script>") {
		t.Fatal("narrative was not HTML-escaped")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService()
	if _, err := svc.Export(sampleReport(), Format("docx")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Steady quarter", "Steady-quarter"},
		{"Q1/Q2: review!", "Q1Q2-review"},
		{"", "report"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Fatalf("got %q", got)
	}
}
