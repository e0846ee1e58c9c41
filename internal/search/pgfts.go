package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// SearchLines matches lines.fts with plainto_tsquery, ranked by ts_rank and
// highlighted with ts_headline.
func (p *PgFTS) SearchLines(ctx context.Context, q LineQuery) ([]LineHit, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := defaultLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "l.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.TextURL != "" {
		where += " AND t.url = $2"
		args = append(args, q.TextURL)
	}
	from := `
		FROM lines l
		JOIN editions e ON e.id = l.edition_id
		JOIN texts t ON t.id = e.text_id
		WHERE ` + where

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*)"+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT t.url, e.num, l.num, l.toc,
			ts_headline('english', l.line, plainto_tsquery('english', $1), 'StartSel=<mark>,StopSel=</mark>,HighlightAll=true')
		%s
		ORDER BY ts_rank(l.fts, plainto_tsquery('english', $1)) DESC, t.url, e.num, l.num
		LIMIT %d OFFSET %d`, from, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []LineHit
	for rows.Next() {
		var hit LineHit
		if err := rows.Scan(&hit.TextURL, &hit.Edition, &hit.Num, &hit.TOC, &hit.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, hit)
	}
	return results, total, rows.Err()
}

// SuggestTags lists unlocked tags by name prefix.
func (p *PgFTS) SuggestTags(ctx context.Context, prefix string, limit int) ([]TagSuggestion, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tag, description
		FROM tags
		WHERE tag LIKE $1 || '%' AND NOT locked
		ORDER BY tag
		LIMIT $2
	`, escapeLike(prefix), defaultLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("pgfts tags: %w", err)
	}
	defer rows.Close()

	out := make([]TagSuggestion, 0)
	for rows.Next() {
		var s TagSuggestion
		if err := rows.Scan(&s.Tag, &s.Description); err != nil {
			return nil, fmt.Errorf("pgfts scan tag: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]LineRecord, []TagRecord, error) {
	lineRows, err := p.db.QueryContext(ctx, `
		SELECT l.edition_id, t.url, e.num, l.num, l.toc, l.line
		FROM lines l
		JOIN editions e ON e.id = l.edition_id
		JOIN texts t ON t.id = e.text_id
		WHERE l.enum <> 'hr'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load lines: %w", err)
	}
	defer lineRows.Close()

	lines := make([]LineRecord, 0)
	for lineRows.Next() {
		var editionID string
		var r LineRecord
		if err := lineRows.Scan(&editionID, &r.TextURL, &r.Edition, &r.Num, &r.TOC, &r.Line); err != nil {
			return nil, nil, fmt.Errorf("scan line: %w", err)
		}
		r.ID = LineRecordID(editionID, r.Num)
		lines = append(lines, r)
	}
	if err := lineRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate lines: %w", err)
	}

	tagRows, err := p.db.QueryContext(ctx, `SELECT id, tag, description, locked FROM tags`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tags: %w", err)
	}
	defer tagRows.Close()

	tags := make([]TagRecord, 0)
	for tagRows.Next() {
		var r TagRecord
		if err := tagRows.Scan(&r.ID, &r.Tag, &r.Description, &r.Locked); err != nil {
			return nil, nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, r)
	}
	if err := tagRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tags: %w", err)
	}

	return lines, tags, nil
}
