package aireport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"compass/api/internal/store"
)

type fakeSnapshot struct {
	summary  store.PortfolioSummary
	projects []store.Project
}

func (f *fakeSnapshot) Summary(ctx context.Context) (store.PortfolioSummary, error) {
	return f.summary, nil
}

func (f *fakeSnapshot) ListRecentActiveProjects(ctx context.Context, limit int) ([]store.Project, error) {
	return f.projects, nil
}

type completerFunc func(ctx context.Context, system, user string) (string, error)

func (f completerFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

func testSnapshot() *fakeSnapshot {
	return &fakeSnapshot{
		summary: store.PortfolioSummary{
			ProjectCount: 4, ActiveCount: 3, AtRiskCount: 1, OpenRiskCount: 2,
			TotalPlannedCost: 550000, TotalActualCost: 120000,
		},
		projects: []store.Project{
			{Key: "P-00001", Name: "Website Relaunch", Status: "active", Priority: "high", Completion: 40},
		},
	}
}

func TestGenerateUsesModelOutput(t *testing.T) {
	svc := NewService(testSnapshot(), completerFunc(func(ctx context.Context, system, user string) (string, error) {
		if !strings.Contains(user, "Website Relaunch") {
			t.Errorf("prompt missing project context: %q", user)
		}
		return "Here you go:\n```json\n" +
			`{"headline":"Steady quarter","health":"amber","narrative":"Mostly on track.","recommendations":["Watch P-00001."]}` +
			"\n```", nil
	}), "llama3.1")

	report, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Fallback {
		t.Fatal("expected model-backed report, got fallback")
	}
	if report.Headline != "Steady quarter" || report.Health != "amber" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Model != "llama3.1" {
		t.Fatalf("model = %q", report.Model)
	}
	if report.Summary.ProjectCount != 4 {
		t.Fatalf("snapshot not attached: %+v", report.Summary)
	}
}

func TestGenerateFallsBackOnTransportError(t *testing.T) {
	svc := NewService(testSnapshot(), completerFunc(func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("connection refused")
	}), "llama3.1")

	report, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !report.Fallback {
		t.Fatal("expected fallback report")
	}
	if report.Health != "amber" {
		t.Fatalf("health = %q, want amber (one at-risk project)", report.Health)
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("fallback report has no recommendations")
	}
}

func TestGenerateFallsBackOnMalformedOutput(t *testing.T) {
	svc := NewService(testSnapshot(), completerFunc(func(ctx context.Context, system, user string) (string, error) {
		return "I could not produce a report today.", nil
	}), "llama3.1")

	report, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !report.Fallback {
		t.Fatal("expected fallback report for unparseable model output")
	}
}

func TestClientCompleteRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-model")
	out, err := client.Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("content = %q", out)
	}
}

func TestClientCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-model")
	if _, err := client.Complete(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
