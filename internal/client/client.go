// Package client talks to the annotext server on behalf of the reader core.
// It implements the reader's line fetch, vote and flash collaborators.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"annotext/internal/reader"
)

const defaultTimeout = 15 * time.Second

// ErrUnauthorized is returned when the server rejects the session.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response in the server's error envelope.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("annotext %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	base   *url.URL
	hc     *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	token string

	lines singleflight.Group
}

// New returns a client for the server at baseURL. A nil httpClient gets a
// default with a request timeout.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, hc: httpClient, logger: logger}, nil
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

// Login exchanges credentials for a bearer token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, name, password string) (Session, error) {
	var out struct {
		Token     string `json:"token"`
		UserID    string `json:"userId"`
		UserName  string `json:"userName"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	body := map[string]string{"name": name, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", nil, body, &out); err != nil {
		return Session{}, err
	}
	c.SetToken(out.Token)
	return Session{
		Token:     out.Token,
		UserID:    out.UserID,
		UserName:  out.UserName,
		ExpiresAt: time.Unix(out.ExpiresAt, 0),
	}, nil
}

// FetchLine loads one line of ref. Identical concurrent fetches share a
// single request.
func (c *Client) FetchLine(ctx context.Context, ref reader.DocRef, num int) (reader.Line, bool, error) {
	toc := ref.TOC
	if toc == "" {
		toc = "-"
	}
	query := url.Values{
		"text":    {ref.Text},
		"edition": {ref.Edition},
		"toc":     {toc},
		"num":     {strconv.Itoa(num)},
	}
	key := query.Encode()
	value, err, shared := c.lines.Do(key, func() (any, error) {
		var out struct {
			Success bool   `json:"success"`
			Enum    string `json:"enum"`
			Line    string `json:"line"`
		}
		if err := c.do(ctx, http.MethodGet, "/ajax/line", query, nil, &out); err != nil {
			return nil, err
		}
		if !out.Success {
			return nil, nil
		}
		return reader.Line{Num: num, Enum: out.Enum, Text: out.Line}, nil
	})
	if shared {
		c.logger.Debug("line fetch shared", "text", ref.Text, "num", num)
	}
	if err != nil {
		return reader.Line{}, false, err
	}
	line, ok := value.(reader.Line)
	return line, ok, nil
}

// Vote sends a vote and normalizes whichever response shape comes back.
func (c *Client) Vote(ctx context.Context, req reader.VoteRequest) (reader.VoteResult, error) {
	query := url.Values{
		"id":     {req.ID},
		"entity": {req.Entity},
		"up":     {strconv.FormatBool(req.Up)},
	}
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/ajax/vote", query, nil, &raw)
	if errors.Is(err, ErrUnauthorized) {
		return reader.VoteResult{RequiresAuth: true}, nil
	}
	if err != nil {
		return reader.VoteResult{}, err
	}
	return decodeVote(raw)
}

// Flashed drains the pending flash messages as category/message pairs.
func (c *Client) Flashed(ctx context.Context) ([][2]string, error) {
	var out [][2]string
	if err := c.do(ctx, http.MethodGet, "/ajax/flashed", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Flasher returns a reader.Flasher that hands every drained message to show.
func (c *Client) Flasher(show func(category, message string)) reader.Flasher {
	return reader.FlasherFunc(func(ctx context.Context) error {
		messages, err := c.Flashed(ctx)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			show(msg[0], msg[1])
		}
		return nil
	})
}

// TagSuggestion pairs a tag with its (possibly truncated) description.
type TagSuggestion struct {
	Tag         string
	Description string
}

// SuggestTags completes the last word of typed.
func (c *Client) SuggestTags(ctx context.Context, typed string) ([]TagSuggestion, error) {
	var out struct {
		Success      bool     `json:"success"`
		Tags         []string `json:"tags"`
		Descriptions []string `json:"descriptions"`
	}
	form := url.Values{"tags": {typed}}
	if err := c.doForm(ctx, "/ajax/autocomplete/tags/", form, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return []TagSuggestion{}, nil
	}
	suggestions := make([]TagSuggestion, 0, len(out.Tags))
	for i, tag := range out.Tags {
		s := TagSuggestion{Tag: tag}
		if i < len(out.Descriptions) {
			s.Description = out.Descriptions[i]
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// Edition describes the edition a window belongs to.
type Edition struct {
	Text  string `json:"text"`
	Num   int    `json:"num"`
	Title string `json:"title"`
	Total int    `json:"total"`
}

// Annotation is an annotation as listed with a window.
type Annotation struct {
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

// WindowPage is the initial line window of an edition.
type WindowPage struct {
	Edition     Edition       `json:"edition"`
	FirstLine   int           `json:"firstLine"`
	LastLine    int           `json:"lastLine"`
	Lines       []reader.Line `json:"lines"`
	Annotations []Annotation  `json:"annotations"`
}

// Window loads lines first..last of an edition with their annotations.
func (c *Client) Window(ctx context.Context, text string, edition, first, last int) (WindowPage, error) {
	path := fmt.Sprintf("/text/%s/edition/%d/lines", url.PathEscape(text), edition)
	query := url.Values{"first": {strconv.Itoa(first)}, "last": {strconv.Itoa(last)}}
	var out WindowPage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return WindowPage{}, err
	}
	return out, nil
}

// LineHit is one line search result.
type LineHit struct {
	Text    string `json:"text"`
	Edition int    `json:"edition"`
	Num     int    `json:"num"`
	TOC     string `json:"toc"`
	Snippet string `json:"snippet"`
}

// SearchLines runs a full-text line search, optionally within one text.
func (c *Client) SearchLines(ctx context.Context, q, text string, limit int) ([]LineHit, int, error) {
	query := url.Values{"q": {q}}
	if text != "" {
		query.Set("text", text)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []LineHit `json:"results"`
		Total   int       `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/search/lines", query, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Results, out.Total, nil
}

// Annotate submits a new annotation over the anchor.
func (c *Client) Annotate(ctx context.Context, ref reader.DocRef, anchor reader.Anchor, body, tags string) (Annotation, error) {
	target, err := url.Parse(reader.AnnotateURL(ref, anchor))
	if err != nil {
		return Annotation{}, fmt.Errorf("annotate url: %w", err)
	}
	var out Annotation
	payload := map[string]string{"annotation": body, "tags": tags}
	if err := c.do(ctx, http.MethodPost, target.EscapedPath(), target.Query(), payload, &out); err != nil {
		return Annotation{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload io.Reader
	contentType := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		payload = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, payload, contentType, out)
}

func (c *Client) doForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.send(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded", out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	target := c.base.JoinPath(path)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
