package search

import (
	"context"
	"log/slog"
)

type primaryIndex interface {
	Searcher
	IndexLines(lines []LineRecord) error
	IndexTags(tags []TagRecord) error
}

type fallbackIndex interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]LineRecord, []TagRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  primaryIndex
	fallback fallbackIndex
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if pgfts != nil {
		s.fallback = pgfts
	}
	if meili != nil {
		s.primary = meili
	}
	return s
}

func (s *Service) usePrimary() bool {
	return s.primary != nil && s.primary.Healthy()
}

// SearchLines tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Failures degrade to an empty response.
func (s *Service) SearchLines(ctx context.Context, q LineQuery) LineResponse {
	if s.usePrimary() {
		results, total, err := s.primary.SearchLines(ctx, q)
		if err == nil {
			return LineResponse{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("meilisearch line search failed, falling back to pgfts", "error", err)
	}

	results, total, err := s.fallback.SearchLines(ctx, q)
	if err != nil {
		slog.Error("pgfts line search failed", "error", err)
		return LineResponse{Results: []LineHit{}, Query: q.Text}
	}
	return LineResponse{Results: nonNil(results), Total: total, Query: q.Text}
}

// SuggestTags returns autocomplete candidates for prefix. Unlike line search
// the Postgres error is returned, since an empty list would read as "no tags".
func (s *Service) SuggestTags(ctx context.Context, prefix string, limit int) ([]TagSuggestion, error) {
	if s.usePrimary() {
		out, err := s.primary.SuggestTags(ctx, prefix, limit)
		if err == nil {
			return out, nil
		}
		slog.Warn("meilisearch tag search failed, falling back to pgfts", "error", err)
	}
	return s.fallback.SuggestTags(ctx, prefix, limit)
}

// IndexLines indexes freshly imported lines (fire-and-forget to Meilisearch).
func (s *Service) IndexLines(lines []LineRecord) {
	if !s.usePrimary() || len(lines) == 0 {
		return
	}
	go func() {
		if err := s.primary.IndexLines(lines); err != nil {
			slog.Error("index lines", "count", len(lines), "error", err)
		}
	}()
}

// IndexTags indexes tags (fire-and-forget to Meilisearch).
func (s *Service) IndexTags(tags []TagRecord) {
	if !s.usePrimary() || len(tags) == 0 {
		return
	}
	go func() {
		if err := s.primary.IndexTags(tags); err != nil {
			slog.Error("index tags", "count", len(tags), "error", err)
		}
	}()
}

// ReindexAll reads every line and tag from Postgres and pushes them to
// Meilisearch. It is a no-op while Meilisearch is unavailable.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.usePrimary() || s.fallback == nil {
		return nil
	}
	lines, tags, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.primary.IndexLines(lines); err != nil {
		return err
	}
	if err := s.primary.IndexTags(tags); err != nil {
		return err
	}
	slog.Info("search reindexed", "lines", len(lines), "tags", len(tags))
	return nil
}

func nonNil(r []LineHit) []LineHit {
	if r == nil {
		return []LineHit{}
	}
	return r
}
