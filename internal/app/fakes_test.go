package app

import (
	"context"
	"database/sql"
	"time"

	"annotext/internal/auth"
	"annotext/internal/config"
	"annotext/internal/flash"
	"annotext/internal/search"
	"annotext/internal/store"
)

type fakeStore struct {
	pingFn             func(context.Context) error
	getUserByIDFn      func(context.Context, string) (store.User, error)
	getEditionFn       func(context.Context, string, int) (store.Edition, error)
	getLineFn          func(context.Context, string, int, string) (store.Line, error)
	listLinesFn        func(context.Context, string, int, int) ([]store.Line, error)
	listAnnotationsFn  func(context.Context, string, int, int) ([]store.Annotation, error)
	getAnnotationFn    func(context.Context, int64) (store.Annotation, error)
	insertAnnotationFn func(context.Context, store.Annotation, []string) (int64, error)
	getTagsByNameFn    func(context.Context, []string) ([]store.Tag, error)
	getVoteFn          func(context.Context, string, int64, string) (store.Vote, error)
	applyVoteFn        func(context.Context, store.VoteChange) (int, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "reader"}, nil
}
func (f *fakeStore) GetEdition(ctx context.Context, textURL string, num int) (store.Edition, error) {
	if f.getEditionFn != nil {
		return f.getEditionFn(ctx, textURL, num)
	}
	return store.Edition{ID: "ed_1", TextURL: textURL, Num: num, Title: "First Folio", LineCount: 100}, nil
}
func (f *fakeStore) GetLine(ctx context.Context, editionID string, num int, toc string) (store.Line, error) {
	if f.getLineFn != nil {
		return f.getLineFn(ctx, editionID, num, toc)
	}
	return store.Line{}, sql.ErrNoRows
}
func (f *fakeStore) ListLines(ctx context.Context, editionID string, first, last int) ([]store.Line, error) {
	if f.listLinesFn != nil {
		return f.listLinesFn(ctx, editionID, first, last)
	}
	return []store.Line{}, nil
}
func (f *fakeStore) ListAnnotations(ctx context.Context, editionID string, first, last int) ([]store.Annotation, error) {
	if f.listAnnotationsFn != nil {
		return f.listAnnotationsFn(ctx, editionID, first, last)
	}
	return []store.Annotation{}, nil
}
func (f *fakeStore) GetAnnotation(ctx context.Context, id int64) (store.Annotation, error) {
	if f.getAnnotationFn != nil {
		return f.getAnnotationFn(ctx, id)
	}
	return store.Annotation{}, sql.ErrNoRows
}
func (f *fakeStore) InsertAnnotation(ctx context.Context, item store.Annotation, tagIDs []string) (int64, error) {
	if f.insertAnnotationFn != nil {
		return f.insertAnnotationFn(ctx, item, tagIDs)
	}
	return 1, nil
}
func (f *fakeStore) GetTagsByName(ctx context.Context, names []string) ([]store.Tag, error) {
	if f.getTagsByNameFn != nil {
		return f.getTagsByNameFn(ctx, names)
	}
	return []store.Tag{}, nil
}
func (f *fakeStore) GetVote(ctx context.Context, entity string, id int64, voterID string) (store.Vote, error) {
	if f.getVoteFn != nil {
		return f.getVoteFn(ctx, entity, id, voterID)
	}
	return store.Vote{}, sql.ErrNoRows
}
func (f *fakeStore) ApplyVote(ctx context.Context, change store.VoteChange) (int, error) {
	if f.applyVoteFn != nil {
		return f.applyVoteFn(ctx, change)
	}
	return 0, nil
}

type fakeFlashes struct {
	pushed  map[string][]flash.Message
	locked  map[string]bool
	lockErr error
	pingErr error
}

func newFakeFlashes() *fakeFlashes {
	return &fakeFlashes{pushed: map[string][]flash.Message{}, locked: map[string]bool{}}
}

func (f *fakeFlashes) Push(ctx context.Context, userID string, msg flash.Message) error {
	f.pushed[userID] = append(f.pushed[userID], msg)
	return nil
}

func (f *fakeFlashes) Drain(ctx context.Context, userID string) ([]flash.Message, error) {
	out := f.pushed[userID]
	delete(f.pushed, userID)
	if out == nil {
		out = []flash.Message{}
	}
	return out, nil
}

func (f *fakeFlashes) Lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	if f.locked[name] {
		return nil, flash.ErrLocked
	}
	f.locked[name] = true
	return func() { delete(f.locked, name) }, nil
}

func (f *fakeFlashes) Ping(ctx context.Context) error { return f.pingErr }

type fakeSearch struct {
	lines      search.LineResponse
	lastQuery  search.LineQuery
	tags       []search.TagSuggestion
	tagsErr    error
	lastPrefix string
	lastLimit  int
}

func (f *fakeSearch) SearchLines(ctx context.Context, q search.LineQuery) search.LineResponse {
	f.lastQuery = q
	return f.lines
}

func (f *fakeSearch) SuggestTags(ctx context.Context, prefix string, limit int) ([]search.TagSuggestion, error) {
	f.lastPrefix, f.lastLimit = prefix, limit
	return f.tags, f.tagsErr
}

type fakePasswords struct {
	signInFn func(context.Context, string, string) (store.User, error)
}

func (f *fakePasswords) SignIn(ctx context.Context, name, password string) (store.User, error) {
	return f.signInFn(ctx, name, password)
}

var testNow = time.Date(2024, 4, 23, 12, 0, 0, 0, time.UTC)

func newTestService(fs *fakeStore) (*Service, *fakeFlashes, *fakeSearch) {
	flashes := newFakeFlashes()
	searcher := &fakeSearch{}
	return &Service{
		cfg:     config.Config{VoteLockTTL: time.Second},
		store:   fs,
		flashes: flashes,
		search:  searcher,
		signer:  auth.NewSigner([]byte("test-secret"), time.Hour),
		now:     func() time.Time { return testNow },
	}, flashes, searcher
}
