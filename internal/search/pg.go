package search

import (
	"context"

	"compass/api/internal/store"
)

// PortfolioSearcher is the Postgres fallback query, satisfied by
// *store.PostgresStore.
type PortfolioSearcher interface {
	SearchPortfolio(ctx context.Context, query string, limit int) ([]store.SearchHit, error)
}

// PG answers searches straight from Postgres with ILIKE matching. Less
// capable than Meilisearch (no typo tolerance, no highlighting) but
// always available.
type PG struct {
	store PortfolioSearcher
}

func NewPG(st PortfolioSearcher) *PG {
	return &PG{store: st}
}

func (p *PG) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	hits, err := p.store.SearchPortfolio(ctx, q.Text, limit)
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		kind := Kind(hit.Kind)
		if q.FilterKind != "" && q.FilterKind != kind {
			continue
		}
		results = append(results, Result{
			Kind:    kind,
			ID:      hit.ID,
			Title:   hit.Title,
			Snippet: hit.Extra,
		})
	}
	return results, len(results), nil
}
