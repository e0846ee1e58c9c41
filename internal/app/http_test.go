package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"annotext/internal/authpw"
	"annotext/internal/flash"
	"annotext/internal/search"
	"annotext/internal/store"
)

func serve(t *testing.T, svc *Service, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	NewHTTPServer(svc, nil).Handler().ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func authorized(t *testing.T, svc *Service, req *http.Request) *http.Request {
	t.Helper()
	token, _, err := svc.signer.Issue("reader", "Horatio")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthEndpoint(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ok := decodeMap(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	svc, flashes, _ := newTestService(&fakeStore{})
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	flashes.pingErr = errors.New("connection refused")
	rr = serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	checks := payload["checks"].(map[string]any)
	if checks["redis"].(map[string]any)["status"] != "error" {
		t.Errorf("unexpected checks %v", checks)
	}
	if checks["database"].(map[string]any)["status"] != "ok" {
		t.Errorf("unexpected checks %v", checks)
	}
}

func TestLoginEndpoint(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})
	svc.passwords = &fakePasswords{signInFn: func(_ context.Context, name, password string) (store.User, error) {
		if name == "horatio" && password == "wittenberg" {
			return store.User{ID: "reader", DisplayName: "horatio"}, nil
		}
		return store.User{}, authpw.ErrInvalidCredentials
	}}

	rr := serve(t, svc, httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"name":"horatio","password":"wittenberg"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	token, _ := payload["token"].(string)
	if token == "" || payload["userName"] != "horatio" {
		t.Fatalf("unexpected payload %v", payload)
	}

	// The token opens the session-only endpoints.
	req := httptest.NewRequest(http.MethodGet, "/ajax/flashed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rr := serve(t, svc, req); rr.Code != http.StatusOK {
		t.Fatalf("flashed with token: %d", rr.Code)
	}

	rr = serve(t, svc, httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"name":"horatio","password":"nope"}`)))
	if rr.Code != http.StatusUnauthorized || decodeMap(t, rr)["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, svc, httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestVoteEndpointRequiresLogin(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})

	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/vote?id=7&entity=annotation&up=true", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if status := decodeMap(t, rr)["status"]; status != "login" {
		t.Fatalf("expected status=login, got %v", status)
	}

	// A forged token counts as no session.
	req := httptest.NewRequest(http.MethodGet, "/ajax/vote?id=7&entity=annotation&up=true", nil)
	req.Header.Set("Authorization", "Bearer forged.token")
	if status := decodeMap(t, serve(t, svc, req))["status"]; status != "login" {
		t.Fatalf("expected status=login for a forged token, got %v", status)
	}
}

func TestVoteEndpoint(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{getAnnotationFn: annotationBy("author")})

	req := authorized(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/vote?id=7&entity=annotation&up=false", nil))
	rr := serve(t, svc, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["rollback"] != false || payload["success"] != true || payload["change"] != float64(-1) {
		t.Fatalf("unexpected payload %v", payload)
	}

	for _, query := range []string{"id=x&entity=annotation&up=true", "id=7&entity=annotation&up=maybe"} {
		req := authorized(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/vote?"+query, nil))
		if rr := serve(t, svc, req); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, rr.Code)
		}
	}

	req = authorized(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/vote?id=404&entity=annotation&up=true", nil))
	svc.store.(*fakeStore).getAnnotationFn = nil
	if rr := serve(t, svc, req); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestFlashedEndpoint(t *testing.T) {
	svc, flashes, _ := newTestService(&fakeStore{})
	flashes.pushed["reader"] = []flash.Message{
		{Category: flash.CategoryError, Text: "You cannot vote on your own annotations."},
	}

	rr := serve(t, svc, authorized(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/flashed", nil)))
	if got := strings.TrimSpace(rr.Body.String()); got != `[["error","You cannot vote on your own annotations."]]` {
		t.Fatalf("unexpected body %s", got)
	}

	rr = serve(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/flashed", nil))
	if got := strings.TrimSpace(rr.Body.String()); got != `[]` {
		t.Fatalf("anonymous readers get an empty list, got %s", got)
	}
}

func TestLineEndpoint(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{
		getLineFn: func(_ context.Context, _ string, num int, toc string) (store.Line, error) {
			return store.Line{Num: num, TOC: toc, Enum: "hr"}, nil
		},
	})

	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/line?text=hamlet&edition=1&toc=act-1&num=4", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	if payload["success"] != true || payload["enum"] != "hr" {
		t.Fatalf("unexpected payload %v", payload)
	}

	rr = serve(t, svc, httptest.NewRequest(http.MethodGet, "/ajax/line?text=hamlet&edition=first&num=4", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTagAutocompleteEndpoint(t *testing.T) {
	svc, _, searcher := newTestService(&fakeStore{})
	searcher.tags = []search.TagSuggestion{{Tag: "metre", Description: "Rhythm."}}

	form := url.Values{"tags": {"theme met"}}
	req := httptest.NewRequest(http.MethodPost, "/ajax/autocomplete/tags/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(t, svc, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload TagSuggestions
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !payload.Success || payload.Tags[0] != "metre" || payload.Descriptions[0] != "Rhythm." {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if searcher.lastPrefix != "met" {
		t.Fatalf("searched %q", searcher.lastPrefix)
	}
}

func TestAnnotateEndpoints(t *testing.T) {
	var inserted store.Annotation
	svc, _, _ := newTestService(&fakeStore{
		listLinesFn: func(_ context.Context, _ string, first, last int) ([]store.Line, error) {
			return linesBetween(first, last), nil
		},
		insertAnnotationFn: func(_ context.Context, item store.Annotation, _ []string) (int64, error) {
			inserted = item
			return 9, nil
		},
	})
	target := "/annotate/hamlet/edition/1/act-3/10/14?fc=3&lc=4"

	if rr := serve(t, svc, httptest.NewRequest(http.MethodGet, target, nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rr.Code)
	}

	rr := serve(t, svc, authorized(t, svc, httptest.NewRequest(http.MethodGet, target, nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var view AnnotateView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if view.FirstChar != 3 || view.LastChar != 4 || len(view.Context) != 15 {
		t.Fatalf("unexpected view %+v", view)
	}

	body := bytes.NewBufferString(`{"annotation":"Ay, there's the rub."}`)
	rr = serve(t, svc, authorized(t, svc, httptest.NewRequest(http.MethodPost, target, body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if inserted.AnnotatorID != "reader" || inserted.FirstLine != 10 || inserted.LastLine != 14 || inserted.FirstChar != 3 {
		t.Fatalf("unexpected annotation %+v", inserted)
	}

	rr = serve(t, svc, authorized(t, svc, httptest.NewRequest(http.MethodGet, "/annotate/hamlet/edition/1/-/x/14", nil)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWindowAndSearchEndpoints(t *testing.T) {
	svc, _, searcher := newTestService(&fakeStore{
		listLinesFn: func(_ context.Context, _ string, first, last int) ([]store.Line, error) {
			return linesBetween(first, last), nil
		},
	})
	searcher.lines = search.LineResponse{Results: []search.LineHit{{TextURL: "hamlet", Num: 57}}, Total: 1, Query: "be"}

	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/text/hamlet/edition/1/lines?first=10&last=12", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var view WindowView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(view.Lines) != 3 || view.Lines[0].Num != 10 {
		t.Fatalf("unexpected window %+v", view)
	}

	rr = serve(t, svc, httptest.NewRequest(http.MethodGet, "/search/lines?q=+be+&text=hamlet&limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if searcher.lastQuery != (search.LineQuery{Text: "be", TextURL: "hamlet", Limit: 5}) {
		t.Fatalf("unexpected query %+v", searcher.lastQuery)
	}
}

func TestUnknownRoute(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{})
	rr := serve(t, svc, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound || decodeMap(t, rr)["code"] != "NOT_FOUND" {
		t.Fatalf("expected JSON 404, got %d %s", rr.Code, rr.Body.String())
	}
}
