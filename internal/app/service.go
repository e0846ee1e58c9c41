package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"annotext/internal/auth"
	"annotext/internal/authpw"
	"annotext/internal/config"
	"annotext/internal/flash"
	"annotext/internal/search"
	"annotext/internal/store"
)

const (
	// contextLines surround an annotation target on the annotate view.
	contextLines     = 5
	maxTags          = 5
	tagSuggestLimit  = 6
	descriptionLimit = 500
	voteLockAge      = 24 * time.Hour

	entityAnnotation = "annotation"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetEdition(ctx context.Context, textURL string, editionNum int) (store.Edition, error)
	GetLine(ctx context.Context, editionID string, num int, toc string) (store.Line, error)
	ListLines(ctx context.Context, editionID string, first, last int) ([]store.Line, error)
	ListAnnotations(ctx context.Context, editionID string, first, last int) ([]store.Annotation, error)
	GetAnnotation(ctx context.Context, id int64) (store.Annotation, error)
	InsertAnnotation(ctx context.Context, item store.Annotation, tagIDs []string) (int64, error)
	GetTagsByName(ctx context.Context, names []string) ([]store.Tag, error)
	GetVote(ctx context.Context, entity string, entityID int64, voterID string) (store.Vote, error)
	ApplyVote(ctx context.Context, change store.VoteChange) (int, error)
}

type flashStore interface {
	Push(ctx context.Context, userID string, msg flash.Message) error
	Drain(ctx context.Context, userID string) ([]flash.Message, error)
	Lock(ctx context.Context, name string, ttl time.Duration) (func(), error)
	Ping(ctx context.Context) error
}

type searchService interface {
	SearchLines(ctx context.Context, q search.LineQuery) search.LineResponse
	SuggestTags(ctx context.Context, prefix string, limit int) ([]search.TagSuggestion, error)
}

type passwordAuth interface {
	SignIn(ctx context.Context, name, password string) (store.User, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	flashes   flashStore
	search    searchService
	signer    *auth.Signer
	passwords passwordAuth
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, flashes *flash.RedisStore, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		flashes:   flashes,
		search:    searchService,
		signer:    auth.NewSigner([]byte(cfg.TokenSecret), cfg.TokenTTL),
		passwords: authpw.NewService(dataStore),
		now:       time.Now,
	}
}

// Login checks credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, name, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, name, password)
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid name or password", nil)
	case errors.Is(err, authpw.ErrAccountLocked):
		return Session{}, errAccountLocked
	case err != nil:
		return Session{}, err
	}

	token, expires, err := s.signer.Issue(user.ID, user.DisplayName)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: user.ID, UserName: user.DisplayName, ExpiresAt: expires}, nil
}

// SessionFromToken verifies token and reloads the user it names.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if user.Locked {
		return Session{}, errAccountLocked
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// LineResult is the single-line payload used by context expansion.
type LineResult struct {
	Success bool   `json:"success"`
	Enum    string `json:"enum,omitempty"`
	Line    string `json:"line,omitempty"`
}

// Line returns one line of an edition. A missing edition or line is reported
// as an unsuccessful result rather than an error.
func (s *Service) Line(ctx context.Context, textURL string, editionNum int, toc string, num int) (LineResult, error) {
	edition, err := s.store.GetEdition(ctx, textURL, editionNum)
	if errors.Is(err, sql.ErrNoRows) {
		return LineResult{}, nil
	}
	if err != nil {
		return LineResult{}, err
	}
	if toc == "-" {
		toc = ""
	}
	line, err := s.store.GetLine(ctx, edition.ID, num, toc)
	if errors.Is(err, sql.ErrNoRows) {
		return LineResult{}, nil
	}
	if err != nil {
		return LineResult{}, err
	}
	return LineResult{Success: true, Enum: line.Enum, Line: line.Text}, nil
}

// VoteResult tells the client how to adjust its ballot. Change is the delta
// applied to the entity's weight.
type VoteResult struct {
	Rollback bool `json:"rollback"`
	Success  bool `json:"success"`
	Change   int  `json:"change"`
}

// Vote applies, removes or switches the user's vote on an entity. Refusals
// are reported through a flash message and an unsuccessful result.
func (s *Service) Vote(ctx context.Context, userID, entity string, entityID int64, up bool) (VoteResult, error) {
	if entity != entityAnnotation {
		return VoteResult{}, validationError("entity must be 'annotation'", map[string]any{"entity": entity})
	}

	release, err := s.flashes.Lock(ctx, fmt.Sprintf("vote:%s:%s:%d", userID, entity, entityID), s.cfg.VoteLockTTL)
	if errors.Is(err, flash.ErrLocked) {
		return VoteResult{}, errVoteInFlight
	}
	if err != nil {
		return VoteResult{}, err
	}
	defer release()

	annotation, err := s.store.GetAnnotation(ctx, entityID)
	if err != nil {
		return VoteResult{}, err
	}
	if !annotation.Active {
		return s.refuseVote(ctx, userID, "You cannot vote on deactivated annotations.")
	}
	if annotation.AnnotatorID == userID {
		return s.refuseVote(ctx, userID, "You cannot vote on your own annotations.")
	}

	delta := -1
	if up {
		delta = 1
	}
	change := store.VoteChange{Entity: entity, EntityID: entityID, VoterID: userID, Delta: delta}
	result := VoteResult{Success: true, Change: delta}

	prior, err := s.store.GetVote(ctx, entity, entityID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return VoteResult{}, err
	default:
		if s.now().Sub(prior.CreatedAt) > voteLockAge && annotation.ModifiedAt.Before(prior.CreatedAt) {
			return s.refuseVote(ctx, userID, "Your vote is locked until the annotation is modified.")
		}
		change.Rollback = &prior
		result.Rollback = true
		if prior.Delta == delta {
			// Same direction again withdraws the vote.
			change.Delta = 0
			result.Success = false
			result.Change = -prior.Delta
		} else {
			result.Change = delta - prior.Delta
		}
	}

	if _, err := s.store.ApplyVote(ctx, change); err != nil {
		return VoteResult{}, err
	}
	return result, nil
}

func (s *Service) refuseVote(ctx context.Context, userID, message string) (VoteResult, error) {
	s.pushFlash(ctx, userID, flash.CategoryError, message)
	return VoteResult{}, nil
}

func (s *Service) pushFlash(ctx context.Context, userID, category, message string) {
	if err := s.flashes.Push(ctx, userID, flash.Message{Category: category, Text: message}); err != nil {
		loggerFrom(ctx).Warn("push flash message failed", "user_id", userID, "error", err)
	}
}

// Flashed drains the user's pending messages. Anonymous readers have none.
func (s *Service) Flashed(ctx context.Context, userID string) ([]flash.Message, error) {
	if userID == "" {
		return []flash.Message{}, nil
	}
	return s.flashes.Drain(ctx, userID)
}

// TagSuggestions is the autocomplete payload. Descriptions parallel Tags.
type TagSuggestions struct {
	Success      bool     `json:"success"`
	Tags         []string `json:"tags"`
	Descriptions []string `json:"descriptions,omitempty"`
}

// SuggestTags completes the last word of the typed tag list.
func (s *Service) SuggestTags(ctx context.Context, typed string) (TagSuggestions, error) {
	words := strings.Fields(typed)
	if len(words) == 0 {
		return TagSuggestions{Tags: []string{}}, nil
	}
	found, err := s.search.SuggestTags(ctx, words[len(words)-1], tagSuggestLimit)
	if err != nil {
		return TagSuggestions{}, err
	}
	out := TagSuggestions{
		Success:      true,
		Tags:         make([]string, 0, len(found)),
		Descriptions: make([]string, 0, len(found)),
	}
	for _, tag := range found {
		out.Tags = append(out.Tags, tag.Tag)
		out.Descriptions = append(out.Descriptions, truncateRunes(tag.Description, descriptionLimit))
	}
	return out, nil
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

// EditionView describes the edition a response belongs to.
type EditionView struct {
	Text  string `json:"text"`
	Num   int    `json:"num"`
	Title string `json:"title"`
	Total int    `json:"total"`
}

type LineView struct {
	Num  int    `json:"num"`
	TOC  string `json:"toc,omitempty"`
	Enum string `json:"enum"`
	Line string `json:"line"`
}

type AnnotationView struct {
	ID        int64    `json:"id"`
	Annotator string   `json:"annotator"`
	FirstLine int      `json:"firstLine"`
	LastLine  int      `json:"lastLine"`
	FirstChar int      `json:"firstChar"`
	LastChar  int      `json:"lastChar"`
	Body      string   `json:"body"`
	Weight    int      `json:"weight"`
	Locked    bool     `json:"locked"`
	Tags      []string `json:"tags"`
}

// WindowView is the initial reading window of an edition.
type WindowView struct {
	Edition     EditionView      `json:"edition"`
	FirstLine   int              `json:"firstLine"`
	LastLine    int              `json:"lastLine"`
	Lines       []LineView       `json:"lines"`
	Annotations []AnnotationView `json:"annotations"`
}

// Window returns lines first..last of an edition with the annotations that
// touch them. The range is clamped to the edition.
func (s *Service) Window(ctx context.Context, textURL string, editionNum, first, last int) (WindowView, error) {
	edition, err := s.store.GetEdition(ctx, textURL, editionNum)
	if err != nil {
		return WindowView{}, err
	}
	first, last = lineCheck(first, last)
	if last > edition.LineCount {
		last = edition.LineCount
	}
	if first > last {
		return WindowView{}, errLineNotFound
	}

	lines, err := s.store.ListLines(ctx, edition.ID, first, last)
	if err != nil {
		return WindowView{}, err
	}
	annotations, err := s.store.ListAnnotations(ctx, edition.ID, first, last)
	if err != nil {
		return WindowView{}, err
	}
	return WindowView{
		Edition:     editionView(textURL, edition),
		FirstLine:   first,
		LastLine:    last,
		Lines:       lineViews(lines),
		Annotations: annotationViews(annotations),
	}, nil
}

// AnnotateView is what a reader sees before submitting an annotation.
type AnnotateView struct {
	Edition   EditionView `json:"edition"`
	FirstLine int         `json:"firstLine"`
	LastLine  int         `json:"lastLine"`
	FirstChar int         `json:"firstChar"`
	LastChar  int         `json:"lastChar"`
	Lines     []LineView  `json:"lines"`
	Context   []LineView  `json:"context"`
}

// Annotate loads the target lines and the surrounding context.
func (s *Service) Annotate(ctx context.Context, textURL string, editionNum, first, last, firstChar, lastChar int) (AnnotateView, error) {
	edition, err := s.store.GetEdition(ctx, textURL, editionNum)
	if err != nil {
		return AnnotateView{}, err
	}
	first, last = lineCheck(first, last)
	lines, err := s.store.ListLines(ctx, edition.ID, first, last)
	if err != nil {
		return AnnotateView{}, err
	}
	if len(lines) == 0 {
		return AnnotateView{}, errLineNotFound
	}
	around, err := s.store.ListLines(ctx, edition.ID, first-contextLines, last+contextLines)
	if err != nil {
		return AnnotateView{}, err
	}
	return AnnotateView{
		Edition:   editionView(textURL, edition),
		FirstLine: first,
		LastLine:  last,
		FirstChar: firstChar,
		LastChar:  lastChar,
		Lines:     lineViews(lines),
		Context:   lineViews(around),
	}, nil
}

type AnnotationInput struct {
	FirstLine int    `json:"firstLine"`
	LastLine  int    `json:"lastLine"`
	FirstChar int    `json:"firstChar"`
	LastChar  int    `json:"lastChar"`
	Body      string `json:"annotation"`
	Tags      string `json:"tags"`
}

func (in AnnotationInput) Validate() error {
	tags := strings.Fields(in.Tags)
	return validation.ValidateStruct(&in,
		validation.Field(&in.Body, validation.Required),
		validation.Field(&in.FirstChar, validation.Min(0)),
		validation.Field(&in.LastChar, validation.Min(-1)),
		validation.Field(&in.Tags, validation.By(func(any) error {
			if len(tags) > maxTags {
				return fmt.Errorf("there is a %d tag limit", maxTags)
			}
			return nil
		})),
	)
}

// CreateAnnotation stores a new annotation by userID. Every tag must exist.
func (s *Service) CreateAnnotation(ctx context.Context, userID, textURL string, editionNum int, input AnnotationInput) (AnnotationView, error) {
	input.Body = strings.TrimSpace(input.Body)
	if err := input.Validate(); err != nil {
		return AnnotationView{}, validationError("invalid annotation", err)
	}

	edition, err := s.store.GetEdition(ctx, textURL, editionNum)
	if err != nil {
		return AnnotationView{}, err
	}
	first, last := lineCheck(input.FirstLine, input.LastLine)
	if last > edition.LineCount {
		return AnnotationView{}, errLineNotFound
	}

	names := dedupe(strings.Fields(input.Tags))
	tags, err := s.store.GetTagsByName(ctx, names)
	if err != nil {
		return AnnotationView{}, err
	}
	if missing := missingTags(names, tags); len(missing) > 0 {
		return AnnotationView{}, validationError("unknown tags", map[string]any{"tags": missing})
	}
	tagIDs := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagIDs = append(tagIDs, tag.ID)
	}

	item := store.Annotation{
		EditionID:   edition.ID,
		AnnotatorID: userID,
		FirstLine:   first,
		LastLine:    last,
		FirstChar:   input.FirstChar,
		LastChar:    input.LastChar,
		Body:        input.Body,
		Active:      true,
	}
	id, err := s.store.InsertAnnotation(ctx, item, tagIDs)
	if err != nil {
		return AnnotationView{}, err
	}
	item.ID = id
	item.Tags = names
	s.pushFlash(ctx, userID, flash.CategoryMessage, "Annotation Submitted")
	return annotationView(item), nil
}

// SearchLines runs a line search, optionally within one text.
func (s *Service) SearchLines(ctx context.Context, query, textURL string, limit, offset int) search.LineResponse {
	return s.search.SearchLines(ctx, search.LineQuery{
		Text:    strings.TrimSpace(query),
		TextURL: textURL,
		Limit:   limit,
		Offset:  offset,
	})
}

// Ready checks every backing service and reports per-check status.
func (s *Service) Ready(ctx context.Context) (map[string]any, bool) {
	ready := true
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.store.Ping,
		"redis":    s.flashes.Ping,
	} {
		if err := ping(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return checks, ready
}

// lineCheck clamps line numbers to 1 and orders them.
func lineCheck(first, last int) (int, int) {
	first = max(first, 1)
	last = max(last, 1)
	if last < first {
		first, last = last, first
	}
	return first, last
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func missingTags(names []string, found []store.Tag) []string {
	known := make(map[string]struct{}, len(found))
	for _, tag := range found {
		known[tag.Name] = struct{}{}
	}
	missing := []string{}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func editionView(textURL string, edition store.Edition) EditionView {
	return EditionView{Text: textURL, Num: edition.Num, Title: edition.Title, Total: edition.LineCount}
}

func lineViews(lines []store.Line) []LineView {
	out := make([]LineView, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineView{Num: line.Num, TOC: line.TOC, Enum: line.Enum, Line: line.Text})
	}
	return out
}

func annotationView(a store.Annotation) AnnotationView {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return AnnotationView{
		ID:        a.ID,
		Annotator: a.Annotator,
		FirstLine: a.FirstLine,
		LastLine:  a.LastLine,
		FirstChar: a.FirstChar,
		LastChar:  a.LastChar,
		Body:      a.Body,
		Weight:    a.Weight,
		Locked:    a.Locked,
		Tags:      tags,
	}
}

func annotationViews(items []store.Annotation) []AnnotationView {
	out := make([]AnnotationView, 0, len(items))
	for _, item := range items {
		out = append(out, annotationView(item))
	}
	return out
}
