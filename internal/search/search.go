// Package search indexes edition lines and tags. Meilisearch serves queries
// while it is healthy; Postgres full-text search covers the rest.
package search

import (
	"context"
	"strconv"
)

// LineHit is a single line search result.
type LineHit struct {
	TextURL string `json:"text"`
	Edition int    `json:"edition"`
	Num     int    `json:"num"`
	TOC     string `json:"toc"`
	Snippet string `json:"snippet"`
}

// LineQuery describes a line search.
type LineQuery struct {
	Text    string
	TextURL string // empty = all texts
	Limit   int
	Offset  int
}

// LineResponse is the envelope returned by the line search endpoint.
type LineResponse struct {
	Results []LineHit `json:"results"`
	Total   int       `json:"total"`
	Query   string    `json:"query"`
}

// TagSuggestion is one autocomplete candidate.
type TagSuggestion struct {
	Tag         string `json:"tag"`
	Description string `json:"description"`
}

// Searcher answers line and tag queries.
type Searcher interface {
	SearchLines(ctx context.Context, q LineQuery) ([]LineHit, int, error)
	SuggestTags(ctx context.Context, prefix string, limit int) ([]TagSuggestion, error)
	Healthy() bool
}

// LineRecord is the data we index for a line.
type LineRecord struct {
	ID      string `json:"id"`
	TextURL string `json:"text"`
	Edition int    `json:"edition"`
	Num     int    `json:"num"`
	TOC     string `json:"toc"`
	Line    string `json:"line"`
}

// TagRecord is the data we index for a tag.
type TagRecord struct {
	ID          string `json:"id"`
	Tag         string `json:"tag"`
	Description string `json:"description"`
	Locked      bool   `json:"locked"`
}

// LineRecordID builds the index id of a line. Edition ids only use
// characters Meilisearch accepts in document ids.
func LineRecordID(editionID string, num int) string {
	return editionID + "-" + strconv.Itoa(num)
}
