package search

import (
	"context"
	"log"

	"compass/api/internal/store"
)

// Service tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili *Meili
	pg    *PG
}

// NewService creates a search service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili, pg *PG) *Service {
	return &Service{meili: meili, pg: pg}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(ctx, q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project to Meilisearch, fire-and-forget.
func (s *Service) IndexProject(p store.Project) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := ProjectRecord{ID: p.ID, Key: p.Key, Name: p.Name, Status: p.Status, Priority: p.Priority}
	go func() {
		if err := s.meili.IndexProject(record); err != nil {
			log.Printf("search: index project %s: %v", record.ID, err)
		}
	}()
}

// IndexResource pushes a resource to Meilisearch, fire-and-forget.
func (s *Service) IndexResource(r store.Resource) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := ResourceRecord{ID: r.ID, Name: r.Name, RoleLabel: r.RoleLabel, Skills: r.Skills}
	go func() {
		if err := s.meili.IndexResource(record); err != nil {
			log.Printf("search: index resource %s: %v", record.ID, err)
		}
	}()
}

// IndexRisk pushes a risk to Meilisearch, fire-and-forget.
func (s *Service) IndexRisk(r store.Risk) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RiskRecord{ID: r.ID, ProjectID: r.ProjectID, Title: r.Title, Status: r.Status}
	go func() {
		if err := s.meili.IndexRisk(record); err != nil {
			log.Printf("search: index risk %s: %v", record.ID, err)
		}
	}()
}

// Remove drops an entity from its Meilisearch index, fire-and-forget.
func (s *Service) Remove(kind Kind, id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		var err error
		switch kind {
		case KindProject:
			err = s.meili.DeleteProject(id)
		case KindResource:
			err = s.meili.DeleteResource(id)
		case KindRisk:
			err = s.meili.DeleteRisk(id)
		}
		if err != nil {
			log.Printf("search: delete %s %s: %v", kind, id, err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
