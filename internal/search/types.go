package search

// Kind tags a search result with the entity it came from.
type Kind string

const (
	KindProject  Kind = "project"
	KindResource Kind = "resource"
	KindRisk     Kind = "risk"
)

type Query struct {
	Text       string
	FilterKind Kind
	Limit      int
	Offset     int
}

type Result struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Records are the flattened documents pushed into the search index.

type ProjectRecord struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type ResourceRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	RoleLabel string   `json:"roleLabel"`
	Skills    []string `json:"skills"`
}

type RiskRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Status    string `json:"status"`
}
