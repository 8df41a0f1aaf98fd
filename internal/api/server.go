// Package api implements the HTTP surface: a message endpoint into the
// planner, rendered digest views, and a websocket feed of deliveries.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/planner"
	"github.com/valetlabs/valet/internal/profile"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.Debug("failed to write JSON error", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	logger   *slog.Logger
	planner  *planner.Planner
	cache    *digest.Cache
	profiles *profile.Store
	feed     *Feed
	server   *http.Server
}

// NewServer creates the API server. The feed may be nil when the
// websocket surface is not wanted.
func NewServer(address string, port int, logger *slog.Logger, p *planner.Planner, cache *digest.Cache, profiles *profile.Store, feed *Feed) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		logger:   logger,
		planner:  p,
		cache:    cache,
		profiles: profiles,
		feed:     feed,
	}
}

// Handler builds the route table. Split out of Start so tests can
// serve it from httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/message", s.handleMessage)
	mux.HandleFunc("GET /v1/digest/{user}/{kind}", s.handleDigest)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.feed != nil {
		mux.HandleFunc("GET /ws/events", s.feed.handleWS)
	}

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // planner turns can be slow
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

// handleMessage runs one planner turn for the caller.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required", s.logger)
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}

	reply, err := s.planner.Turn(r.Context(), req.UserID, req.Text)
	if err != nil {
		s.logger.Error("planner turn failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusBadGateway, "the model is unreachable", s.logger)
		return
	}
	writeJSON(w, messageResponse{Reply: reply}, s.logger)
}

var digestTitles = map[string]string{
	digest.KindBrief: "Daily brief",
	digest.KindNews:  "News pulse",
	digest.KindIdeas: "Idea spark",
}

// handleDigest renders the cached digest for a (user, kind) pair as a
// small standalone HTML page.
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	kind := r.PathValue("kind")

	title, ok := digestTitles[kind]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown digest kind %q", kind), s.logger)
		return
	}

	entry, err := s.cache.Get(r.Context(), userID, kind)
	if err != nil {
		s.logger.Error("digest cache read failed", "user_id", userID, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "cache unavailable", s.logger)
		return
	}
	if entry == nil || len(entry.Items) == 0 {
		writeError(w, http.StatusNotFound, "no cached digest", s.logger)
		return
	}

	html, err := digestHTML(title, entry)
	if err != nil {
		s.logger.Error("digest render failed", "user_id", userID, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "render failed", s.logger)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

// digestHTML renders a cached entry as markdown and converts it with
// goldmark, wrapped in a minimal envelope with no external resources.
func digestHTML(title string, e *digest.Entry) (string, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s — %s\n\n", title, e.DayKey)
	for _, item := range e.Items {
		fmt.Fprintf(&md, "- %s\n", strings.TrimPrefix(item, "• "))
	}
	if len(e.Topics) > 0 {
		fmt.Fprintf(&md, "\n*Topics: %s*\n", strings.Join(e.Topics, ", "))
	}
	fmt.Fprintf(&md, "\n*Captured %s*\n", e.CapturedAt.UTC().Format(time.RFC3339))

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &buf); err != nil {
		return "", err
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 40em; margin: 2em auto;">
%s
</body></html>`, title, buf.String()), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}
