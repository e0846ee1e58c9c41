package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"annotext/db"
)

func seededStore(t *testing.T) (*PostgresStore, Edition) {
	t.Helper()
	conn := testDatabase(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, conn, db.Migrations, "migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(conn)

	lines := []Line{
		{Num: 1, TOC: "act-1", Enum: "l", Text: "Who's there?"},
		{Num: 2, TOC: "act-1", Enum: "l", Text: "Nay, answer me."},
		{Num: 3, TOC: "act-1", Enum: "hr", Text: ""},
		{Num: 4, TOC: "act-2", Enum: "l", Text: "Long live the king!"},
	}
	err := s.ImportEdition(ctx, Text{ID: "txt_hamlet", URL: "hamlet", Title: "Hamlet"},
		Edition{ID: "ed_hamlet_1", Num: 1, Title: "First Folio", IsPrimary: true}, lines)
	if err != nil {
		t.Fatalf("ImportEdition() error = %v", err)
	}
	edition, err := s.GetEdition(ctx, "hamlet", 1)
	if err != nil {
		t.Fatalf("GetEdition() error = %v", err)
	}
	return s, edition
}

func TestEditionLinesPostgres(t *testing.T) {
	s, edition := seededStore(t)
	ctx := context.Background()

	if edition.LineCount != 4 {
		t.Fatalf("LineCount = %d, want 4", edition.LineCount)
	}
	line, err := s.GetLine(ctx, edition.ID, 2, "act-1")
	if err != nil {
		t.Fatalf("GetLine() error = %v", err)
	}
	if line.Text != "Nay, answer me." {
		t.Fatalf("unexpected line: %+v", line)
	}
	if _, err := s.GetLine(ctx, edition.ID, 4, "act-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected section boundary to hide line 4, got %v", err)
	}
	window, err := s.ListLines(ctx, edition.ID, 2, 10)
	if err != nil {
		t.Fatalf("ListLines() error = %v", err)
	}
	if len(window) != 3 || window[0].Num != 2 || window[2].Num != 4 {
		t.Fatalf("unexpected window: %+v", window)
	}
}

func TestApplyVotePostgres(t *testing.T) {
	s, edition := seededStore(t)
	ctx := context.Background()

	for _, u := range []User{{ID: "usr_author", DisplayName: "author"}, {ID: "usr_voter", DisplayName: "voter"}} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	id, err := s.InsertAnnotation(ctx, Annotation{
		EditionID: edition.ID, AnnotatorID: "usr_author", FirstLine: 1, LastLine: 2, LastChar: -1, Body: "Sentinels.",
	}, nil)
	if err != nil {
		t.Fatalf("InsertAnnotation() error = %v", err)
	}

	weight, err := s.ApplyVote(ctx, VoteChange{Entity: "annotation", EntityID: id, VoterID: "usr_voter", Delta: 1})
	if err != nil || weight != 1 {
		t.Fatalf("upvote: weight=%d err=%v", weight, err)
	}
	prior, err := s.GetVote(ctx, "annotation", id, "usr_voter")
	if err != nil {
		t.Fatalf("GetVote() error = %v", err)
	}
	weight, err = s.ApplyVote(ctx, VoteChange{Entity: "annotation", EntityID: id, VoterID: "usr_voter", Rollback: &prior, Delta: -1})
	if err != nil || weight != -1 {
		t.Fatalf("switch: weight=%d err=%v", weight, err)
	}
	prior, _ = s.GetVote(ctx, "annotation", id, "usr_voter")
	weight, err = s.ApplyVote(ctx, VoteChange{Entity: "annotation", EntityID: id, VoterID: "usr_voter", Rollback: &prior})
	if err != nil || weight != 0 {
		t.Fatalf("rollback: weight=%d err=%v", weight, err)
	}
	if _, err := s.GetVote(ctx, "annotation", id, "usr_voter"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected vote to be gone, got %v", err)
	}

	annotations, err := s.ListAnnotations(ctx, edition.ID, 2, 3)
	if err != nil || len(annotations) != 1 || annotations[0].Annotator != "author" {
		t.Fatalf("ListAnnotations() = %+v, %v", annotations, err)
	}

	if _, err := s.ApplyVote(ctx, VoteChange{Entity: "edit", EntityID: id, VoterID: "usr_voter", Delta: 1}); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}
