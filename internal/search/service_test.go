package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	healthy     bool
	lines       []LineHit
	linesErr    error
	tags        []TagSuggestion
	tagsErr     error
	indexed     []LineRecord
	indexedTags []TagRecord
	records     []LineRecord
	recordTags  []TagRecord
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) SearchLines(ctx context.Context, q LineQuery) ([]LineHit, int, error) {
	return f.lines, len(f.lines), f.linesErr
}

func (f *fakeIndex) SuggestTags(ctx context.Context, prefix string, limit int) ([]TagSuggestion, error) {
	return f.tags, f.tagsErr
}

func (f *fakeIndex) IndexLines(lines []LineRecord) error {
	f.indexed = append(f.indexed, lines...)
	return nil
}

func (f *fakeIndex) IndexTags(tags []TagRecord) error {
	f.indexedTags = append(f.indexedTags, tags...)
	return nil
}

func (f *fakeIndex) LoadAllRecords(ctx context.Context) ([]LineRecord, []TagRecord, error) {
	return f.records, f.recordTags, nil
}

func TestSearchLinesPrefersPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, lines: []LineHit{{TextURL: "hamlet", Num: 3}}}
	fallback := &fakeIndex{healthy: true, lines: []LineHit{{TextURL: "lear", Num: 9}}}
	s := &Service{primary: primary, fallback: fallback}

	resp := s.SearchLines(context.Background(), LineQuery{Text: "rest"})
	assert.Equal(t, "hamlet", resp.Results[0].TextURL)
	assert.Equal(t, "rest", resp.Query)
}

func TestSearchLinesFallsBack(t *testing.T) {
	fallback := &fakeIndex{healthy: true, lines: []LineHit{{TextURL: "lear", Num: 9}}}

	t.Run("unhealthy primary", func(t *testing.T) {
		s := &Service{primary: &fakeIndex{}, fallback: fallback}
		resp := s.SearchLines(context.Background(), LineQuery{Text: "storm"})
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, "lear", resp.Results[0].TextURL)
	})
	t.Run("primary error", func(t *testing.T) {
		s := &Service{primary: &fakeIndex{healthy: true, linesErr: errors.New("boom")}, fallback: fallback}
		resp := s.SearchLines(context.Background(), LineQuery{Text: "storm"})
		assert.Equal(t, "lear", resp.Results[0].TextURL)
	})
	t.Run("no primary", func(t *testing.T) {
		s := NewService(nil, nil)
		s.fallback = fallback
		resp := s.SearchLines(context.Background(), LineQuery{Text: "storm"})
		assert.Len(t, resp.Results, 1)
	})
	t.Run("fallback error", func(t *testing.T) {
		s := &Service{fallback: &fakeIndex{linesErr: errors.New("down")}}
		resp := s.SearchLines(context.Background(), LineQuery{Text: "storm"})
		assert.NotNil(t, resp.Results)
		assert.Empty(t, resp.Results)
	})
}

func TestSuggestTags(t *testing.T) {
	fallback := &fakeIndex{tags: []TagSuggestion{{Tag: "metre"}}}

	s := &Service{primary: &fakeIndex{healthy: true, tagsErr: errors.New("boom")}, fallback: fallback}
	got, err := s.SuggestTags(context.Background(), "me", 6)
	require.NoError(t, err)
	assert.Equal(t, []TagSuggestion{{Tag: "metre"}}, got)

	s = &Service{fallback: &fakeIndex{tagsErr: errors.New("down")}}
	_, err = s.SuggestTags(context.Background(), "me", 6)
	assert.Error(t, err)
}

func TestReindexAll(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	fallback := &fakeIndex{
		records:    []LineRecord{{ID: LineRecordID("ed_1", 4), Num: 4}},
		recordTags: []TagRecord{{ID: "tag_1", Tag: "metre"}},
	}
	s := &Service{primary: primary, fallback: fallback}

	require.NoError(t, s.ReindexAll(context.Background()))
	assert.Equal(t, "ed_1-4", primary.indexed[0].ID)
	assert.Len(t, primary.indexedTags, 1)

	// Skipped while Meilisearch is down.
	primary.healthy = false
	primary.indexed = nil
	require.NoError(t, s.ReindexAll(context.Background()))
	assert.Empty(t, primary.indexed)
}
