package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxProjects  = "compass_projects"
	idxResources = "compass_resources"
	idxRisks     = "compass_risks"
)

// Meili queries and maintains the Meilisearch indexes.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The
// service keeps working without it; the caller falls back to Postgres.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxProjects,
			filterable: []string{"status", "priority"},
			searchable: []string{"name", "key"},
		},
		{
			uid:        idxResources,
			filterable: []string{"roleLabel"},
			searchable: []string{"name", "roleLabel", "skills"},
		},
		{
			uid:        idxRisks,
			filterable: []string{"projectId", "status"},
			searchable: []string{"title"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all indexes (or the filtered one) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	targets := []struct {
		uid  string
		kind Kind
	}{
		{idxProjects, KindProject},
		{idxResources, KindResource},
		{idxRisks, KindRisk},
	}

	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.FilterKind != "" && q.FilterKind != target.kind {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		kind := indexToKind(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, kind))
		}
	}
	return results, total, nil
}

func indexToKind(uid string) Kind {
	switch uid {
	case idxProjects:
		return KindProject
	case idxResources:
		return KindResource
	case idxRisks:
		return KindRisk
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, kind Kind) Result {
	r := Result{Kind: kind, ID: decodeString(hit, "id")}

	switch kind {
	case KindProject:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = decodeString(hit, "key")
	case KindResource:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = decodeString(hit, "roleLabel")
	case KindRisk:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = decodeString(hit, "status")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexProject adds or updates a project in the search index.
func (m *Meili) IndexProject(p ProjectRecord) error {
	_, err := m.client.Index(idxProjects).AddDocuments([]ProjectRecord{p}, nil)
	return err
}

// IndexResource adds or updates a resource in the search index.
func (m *Meili) IndexResource(r ResourceRecord) error {
	_, err := m.client.Index(idxResources).AddDocuments([]ResourceRecord{r}, nil)
	return err
}

// IndexRisk adds or updates a risk in the search index.
func (m *Meili) IndexRisk(r RiskRecord) error {
	_, err := m.client.Index(idxRisks).AddDocuments([]RiskRecord{r}, nil)
	return err
}

// DeleteProject removes a project from the search index.
func (m *Meili) DeleteProject(id string) error {
	_, err := m.client.Index(idxProjects).DeleteDocument(id, nil)
	return err
}

// DeleteResource removes a resource from the search index.
func (m *Meili) DeleteResource(id string) error {
	_, err := m.client.Index(idxResources).DeleteDocument(id, nil)
	return err
}

// DeleteRisk removes a risk from the search index.
func (m *Meili) DeleteRisk(id string) error {
	_, err := m.client.Index(idxRisks).DeleteDocument(id, nil)
	return err
}
