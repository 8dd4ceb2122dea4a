package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Headline        string
	Health          string
	Narrative       string
	Recommendations []string
	Model           string
	Fallback        bool
	GeneratedAt     time.Time

	ProjectCount     int
	ActiveCount      int
	CompletedCount   int
	AtRiskCount      int
	OffTrackCount    int
	OpenRiskCount    int
	TotalPlannedCost float64
	TotalActualCost  float64
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Headline}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .health { display: inline-block; padding: 0.2rem 0.6rem; border-radius: 4px; color: #fff; }
    .health.green { background: #2e7d32; }
    .health.amber { background: #f9a825; }
    .health.red { background: #c62828; }
    table { border-collapse: collapse; margin: 1rem 0; }
    td, th { border: 1px solid #ccc; padding: 0.4rem 0.8rem; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.Headline}}</h1>
  <div class="meta">
    <span class="health {{.Health | lower}}">{{.Health}}</span>
    Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04 MST"}}
    {{if .Model}}by {{.Model}}{{end}}
  </div>
  <p>{{.Narrative}}</p>
  <table>
    <tr><th>Projects</th><td>{{.ProjectCount}}</td></tr>
    <tr><th>Active</th><td>{{.ActiveCount}}</td></tr>
    <tr><th>Completed</th><td>{{.CompletedCount}}</td></tr>
    <tr><th>At risk</th><td>{{.AtRiskCount}}</td></tr>
    <tr><th>Off track</th><td>{{.OffTrackCount}}</td></tr>
    <tr><th>Open risks</th><td>{{.OpenRiskCount}}</td></tr>
    <tr><th>Planned cost</th><td>{{printf "%.0f" .TotalPlannedCost}}</td></tr>
    <tr><th>Actual cost</th><td>{{printf "%.0f" .TotalActualCost}}</td></tr>
  </table>
  {{if .Recommendations}}
  <h2>Recommendations</h2>
  <ul>
    {{range .Recommendations}}<li>{{.}}</li>{{end}}
  </ul>
  {{end}}
</body>
</html>`
