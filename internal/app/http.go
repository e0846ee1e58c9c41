package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"annotext/internal/auth"
	"annotext/internal/util"
)

type HTTPServer struct {
	service *Service
	logger  *slog.Logger
}

func NewHTTPServer(service *Service, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.withRequestLog)
	r.Use(middleware.Recoverer)
	r.Use(s.withSession)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Post("/login", s.handleLogin)

	r.Route("/ajax", func(r chi.Router) {
		r.Get("/line", s.handleLine)
		r.Get("/vote", s.handleVote)
		r.Get("/flashed", s.handleFlashed)
		r.Post("/autocomplete/tags/", s.handleTagSuggestions)
	})

	r.Get("/text/{text}/edition/{edition}/lines", s.handleWindow)
	r.Get("/search/lines", s.handleSearchLines)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/annotate/{text}/edition/{edition}/{toc}/{first}/{last}", s.handleAnnotateForm)
		r.Post("/annotate/{text}/edition/{edition}/{toc}/{first}/{last}", s.handleAnnotateSubmit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, ready := s.service.Ready(ctx)
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Name, body.Password)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"userId":    session.UserID,
		"userName":  session.UserName,
		"expiresAt": session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleLine(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	edition, err := strconv.Atoi(query.Get("edition"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EDITION", "edition must be a number", nil)
		return
	}
	num, err := strconv.Atoi(query.Get("num"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_LINE", "num must be a number", nil)
		return
	}
	result, err := s.service.Line(r.Context(), query.Get("text"), edition, query.Get("toc"), num)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleVote(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "login"})
		return
	}
	query := r.URL.Query()
	id, err := strconv.ParseInt(query.Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a number", nil)
		return
	}
	up, err := strconv.ParseBool(query.Get("up"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DIRECTION", "up must be true or false", nil)
		return
	}
	result, err := s.service.Vote(r.Context(), session.UserID, query.Get("entity"), id, up)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleFlashed(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	messages, err := s.service.Flashed(r.Context(), session.UserID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *HTTPServer) handleTagSuggestions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "invalid form body", nil)
		return
	}
	result, err := s.service.SuggestTags(r.Context(), r.PostForm.Get("tags"))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleWindow(w http.ResponseWriter, r *http.Request) {
	edition, err := strconv.Atoi(chi.URLParam(r, "edition"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EDITION", "edition must be a number", nil)
		return
	}
	first := queryInt(r, "first", 1)
	last := queryInt(r, "last", first+49)
	view, err := s.service.Window(r.Context(), chi.URLParam(r, "text"), edition, first, last)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSearchLines(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, s.service.SearchLines(r.Context(),
		query.Get("q"), query.Get("text"), queryInt(r, "limit", 20), queryInt(r, "offset", 0)))
}

type annotateTarget struct {
	text                 string
	edition, first, last int
	firstChar, lastChar  int
}

func parseAnnotateTarget(r *http.Request) (annotateTarget, error) {
	target := annotateTarget{
		text:      chi.URLParam(r, "text"),
		firstChar: queryInt(r, "fc", 0),
		lastChar:  queryInt(r, "lc", -1),
	}
	var err error
	if target.edition, err = strconv.Atoi(chi.URLParam(r, "edition")); err != nil {
		return target, fmt.Errorf("edition must be a number")
	}
	if target.first, err = strconv.Atoi(chi.URLParam(r, "first")); err != nil {
		return target, fmt.Errorf("first line must be a number")
	}
	if target.last, err = strconv.Atoi(chi.URLParam(r, "last")); err != nil {
		return target, fmt.Errorf("last line must be a number")
	}
	return target, nil
}

func (s *HTTPServer) handleAnnotateForm(w http.ResponseWriter, r *http.Request) {
	target, err := parseAnnotateTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error(), nil)
		return
	}
	view, err := s.service.Annotate(r.Context(), target.text, target.edition,
		target.first, target.last, target.firstChar, target.lastChar)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAnnotateSubmit(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFrom(r.Context())
	target, err := parseAnnotateTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error(), nil)
		return
	}
	input := AnnotationInput{
		FirstLine: target.first,
		LastLine:  target.last,
		FirstChar: target.firstChar,
		LastChar:  target.lastChar,
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.CreateAnnotation(r.Context(), session.UserID, target.text, target.edition, input)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(Session)
	return session, ok
}

// withSession attaches the session of a valid bearer token. Requests without
// one continue anonymously.
func (s *HTTPServer) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			var domainErr *DomainError
			if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrExpiredToken) && !errors.As(err, &domainErr) {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessionFrom(r.Context()); !ok {
			writeMappedError(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewRequestID()
		}
		logger := s.logger.With("request_id", requestID)
		ctx := context.WithValue(r.Context(), loggerKey{}, logger)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type loggerKey struct{}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
