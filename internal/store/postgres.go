package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEntity is returned for a vote on an entity kind without a table.
var ErrUnknownEntity = errors.New("unknown vote entity")

// voteTables maps vote entity kinds to the table holding their weight.
var voteTables = map[string]string{
	"annotation": "annotations",
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, display_name, email, password_hash, reputation, locked, created_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Reputation, &user.Locked, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE display_name=$1`, name))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

// GetEdition resolves a text url and edition number. LineCount is the number
// of the edition's last line.
func (s *PostgresStore) GetEdition(ctx context.Context, textURL string, editionNum int) (Edition, error) {
	var item Edition
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.text_id, t.url, e.num, e.title, e.is_primary,
			COALESCE((SELECT MAX(l.num) FROM lines l WHERE l.edition_id = e.id), 0)
		FROM editions e
		JOIN texts t ON t.id = e.text_id
		WHERE t.url=$1 AND e.num=$2
	`, textURL, editionNum).Scan(&item.ID, &item.TextID, &item.TextURL, &item.Num, &item.Title, &item.IsPrimary, &item.LineCount)
	if err != nil {
		return Edition{}, err
	}
	return item, nil
}

// GetLine returns one line. A non-empty toc restricts the lookup to that
// section so a window never crosses a section boundary.
func (s *PostgresStore) GetLine(ctx context.Context, editionID string, num int, toc string) (Line, error) {
	query := `SELECT edition_id, num, toc, enum, line FROM lines WHERE edition_id=$1 AND num=$2`
	args := []any{editionID, num}
	if toc != "" {
		query += ` AND toc=$3`
		args = append(args, toc)
	}
	var line Line
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&line.EditionID, &line.Num, &line.TOC, &line.Enum, &line.Text)
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

func (s *PostgresStore) ListLines(ctx context.Context, editionID string, first, last int) ([]Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT edition_id, num, toc, enum, line
		FROM lines
		WHERE edition_id=$1 AND num BETWEEN $2 AND $3
		ORDER BY num
	`, editionID, first, last)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()

	items := make([]Line, 0)
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.EditionID, &line.Num, &line.TOC, &line.Enum, &line.Text); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lines: %w", err)
	}
	return items, nil
}

// ImportEdition creates a text (if new) and one edition with its lines.
func (s *PostgresStore) ImportEdition(ctx context.Context, text Text, edition Edition, lines []Line) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var textID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO texts (id, url, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET title=EXCLUDED.title
		RETURNING id
	`, text.ID, text.URL, text.Title).Scan(&textID)
	if err != nil {
		return fmt.Errorf("upsert text: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO editions (id, text_id, num, title, is_primary)
		VALUES ($1, $2, $3, $4, $5)
	`, edition.ID, textID, edition.Num, edition.Title, edition.IsPrimary); err != nil {
		return fmt.Errorf("insert edition: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO lines (edition_id, num, toc, enum, line) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare lines: %w", err)
	}
	defer stmt.Close()
	for _, line := range lines {
		if _, err := stmt.ExecContext(ctx, edition.ID, line.Num, line.TOC, line.Enum, line.Text); err != nil {
			return fmt.Errorf("insert line %d: %w", line.Num, err)
		}
	}
	return tx.Commit()
}

const annotationColumns = `
	a.id, a.edition_id, a.annotator_id, u.display_name,
	a.first_line, a.last_line, a.first_char, a.last_char,
	a.body, a.weight, a.active, a.locked, a.created_at, a.modified_at,
	COALESCE((
		SELECT string_agg(t.tag, ' ' ORDER BY t.tag)
		FROM annotation_tags at JOIN tags t ON t.id = at.tag_id
		WHERE at.annotation_id = a.id
	), '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var item Annotation
	var tags string
	err := row.Scan(&item.ID, &item.EditionID, &item.AnnotatorID, &item.Annotator,
		&item.FirstLine, &item.LastLine, &item.FirstChar, &item.LastChar,
		&item.Body, &item.Weight, &item.Active, &item.Locked, &item.CreatedAt, &item.ModifiedAt, &tags)
	if err != nil {
		return Annotation{}, err
	}
	item.Tags = strings.Fields(tags)
	return item, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, id int64) (Annotation, error) {
	return scanAnnotation(s.db.QueryRowContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations a
		JOIN users u ON u.id = a.annotator_id
		WHERE a.id=$1
	`, id))
}

// ListAnnotations returns the active annotations overlapping first..last,
// heaviest first.
func (s *PostgresStore) ListAnnotations(ctx context.Context, editionID string, first, last int) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations a
		JOIN users u ON u.id = a.annotator_id
		WHERE a.edition_id=$1 AND a.active AND a.first_line <= $3 AND a.last_line >= $2
		ORDER BY a.weight DESC, a.id
	`, editionID, first, last)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

// InsertAnnotation stores an annotation and its tag links and returns its id.
func (s *PostgresStore) InsertAnnotation(ctx context.Context, item Annotation, tagIDs []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin annotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO annotations (edition_id, annotator_id, first_line, last_line, first_char, last_char, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, item.EditionID, item.AnnotatorID, item.FirstLine, item.LastLine, item.FirstChar, item.LastChar, item.Body).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert annotation: %w", err)
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_tags (annotation_id, tag_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, id, tagID); err != nil {
			return 0, fmt.Errorf("link tag %s: %w", tagID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit annotation: %w", err)
	}
	return id, nil
}

// GetTagsByName returns the tags whose names are in names, in name order.
func (s *PostgresStore) GetTagsByName(ctx context.Context, names []string) ([]Tag, error) {
	if len(names) == 0 {
		return []Tag{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tag, description, locked
		FROM tags
		WHERE tag = ANY($1)
		ORDER BY tag
	`, names)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// UpsertTags creates tags by name or refreshes their description and lock.
func (s *PostgresStore) UpsertTags(ctx context.Context, tags []Tag) error {
	for _, tag := range tags {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO tags (id, tag, description, locked)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tag) DO UPDATE SET description=EXCLUDED.description, locked=EXCLUDED.locked
		`, tag.ID, tag.Name, tag.Description, tag.Locked); err != nil {
			return fmt.Errorf("upsert tag %s: %w", tag.Name, err)
		}
	}
	return nil
}

func scanTags(rows *sql.Rows) ([]Tag, error) {
	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.Locked); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

// GetVote returns the voter's current ballot on an entity or sql.ErrNoRows.
func (s *PostgresStore) GetVote(ctx context.Context, entity string, entityID int64, voterID string) (Vote, error) {
	var vote Vote
	err := s.db.QueryRowContext(ctx, `
		SELECT entity, entity_id, voter_id, delta, created_at
		FROM votes
		WHERE entity=$1 AND entity_id=$2 AND voter_id=$3
	`, entity, entityID, voterID).Scan(&vote.Entity, &vote.EntityID, &vote.VoterID, &vote.Delta, &vote.CreatedAt)
	if err != nil {
		return Vote{}, err
	}
	return vote, nil
}

// VoteChange describes one vote transition. Rollback, when set, is removed
// and its delta subtracted first; a non-zero Delta is then recorded.
type VoteChange struct {
	Entity   string
	EntityID int64
	VoterID  string
	Rollback *Vote
	Delta    int
}

// ApplyVote performs change atomically and returns the entity's new weight.
func (s *PostgresStore) ApplyVote(ctx context.Context, change VoteChange) (int, error) {
	table, ok := voteTables[change.Entity]
	if !ok {
		return 0, fmt.Errorf("apply vote on %q: %w", change.Entity, ErrUnknownEntity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	adjust := change.Delta
	if change.Rollback != nil {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM votes WHERE entity=$1 AND entity_id=$2 AND voter_id=$3
		`, change.Entity, change.EntityID, change.VoterID); err != nil {
			return 0, fmt.Errorf("delete vote: %w", err)
		}
		adjust -= change.Rollback.Delta
	}
	if change.Delta != 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (entity, entity_id, voter_id, delta)
			VALUES ($1, $2, $3, $4)
		`, change.Entity, change.EntityID, change.VoterID, change.Delta); err != nil {
			return 0, fmt.Errorf("insert vote: %w", err)
		}
	}

	var weight int
	// table comes from voteTables, never from input.
	err = tx.QueryRowContext(ctx, `UPDATE `+table+` SET weight = weight + $1 WHERE id=$2 RETURNING weight`,
		adjust, change.EntityID).Scan(&weight)
	if err != nil {
		return 0, fmt.Errorf("update weight: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit vote: %w", err)
	}
	return weight, nil
}
