package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxLines = "annotext_lines"
	idxTags  = "annotext_tags"
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An unreachable
// server is not an error: the client reports unhealthy until it recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("meilisearch unavailable", "url", url, "error", err)
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
		sortable   []string
	}{
		{
			uid:        idxLines,
			filterable: []string{"text", "edition", "toc"},
			searchable: []string{"line"},
			sortable:   []string{"num"},
		},
		{
			uid:        idxTags,
			filterable: []string{"locked"},
			searchable: []string{"tag", "description"},
			sortable:   []string{"tag"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			slog.Debug("create index (may already exist)", "index", idx.uid, "error", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			slog.Warn("update filterable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			slog.Warn("update searchable attributes", "index", idx.uid, "error", err)
		}
		if _, err := index.UpdateSortableAttributes(&idx.sortable); err != nil {
			slog.Warn("update sortable attributes", "index", idx.uid, "error", err)
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
				slog.Info("meilisearch recovered, reconfiguring indexes")
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

// SearchLines runs a full-text query over line text.
func (m *Meili) SearchLines(ctx context.Context, q LineQuery) ([]LineHit, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	req := &meili.SearchRequest{
		Limit:                 int64(defaultLimit(q.Limit)),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"line"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.TextURL != "" {
		req.Filter = fmt.Sprintf("text = %q", q.TextURL)
	}

	resp, err := m.client.Index(idxLines).SearchWithContext(ctx, q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch line search: %w", err)
	}

	results := make([]LineHit, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToLine(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// SuggestTags returns unlocked tags whose name starts with prefix.
func (m *Meili) SuggestTags(ctx context.Context, prefix string, limit int) ([]TagSuggestion, error) {
	if !m.healthy.Load() {
		return nil, errUnhealthy
	}
	limit = defaultLimit(limit)

	// Typo tolerance can return near misses, so over-fetch and keep prefixes.
	resp, err := m.client.Index(idxTags).SearchWithContext(ctx, prefix, &meili.SearchRequest{
		Limit:                int64(limit * 3),
		Filter:               "locked = false",
		Sort:                 []string{"tag:asc"},
		AttributesToSearchOn: []string{"tag"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch tag search: %w", err)
	}

	out := make([]TagSuggestion, 0, limit)
	for _, hit := range resp.Hits {
		tag := decodeString(hit, "tag")
		if !strings.HasPrefix(tag, prefix) {
			continue
		}
		out = append(out, TagSuggestion{Tag: tag, Description: decodeString(hit, "description")})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func hitToLine(hit meili.Hit) LineHit {
	return LineHit{
		TextURL: decodeString(hit, "text"),
		Edition: decodeInt(hit, "edition"),
		Num:     decodeInt(hit, "num"),
		TOC:     decodeString(hit, "toc"),
		Snippet: firstNonBlank(decodeFormattedString(hit, "line"), decodeString(hit, "line")),
	}
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

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexLines bulk-indexes lines.
func (m *Meili) IndexLines(lines []LineRecord) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := m.client.Index(idxLines).AddDocuments(lines, nil)
	return err
}

// IndexTags bulk-indexes tags.
func (m *Meili) IndexTags(tags []TagRecord) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTags).AddDocuments(tags, nil)
	return err
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
