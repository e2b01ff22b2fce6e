package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/feeds"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 100
	rssItems     = 50
)

// Server is the HTTP server that exposes the rendered-post archive.
type Server struct {
	archive    domain.ArchiveRepository
	metrics    http.Handler
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server over the given archive. metrics may be
// nil, in which case /metrics is not routed.
func NewServer(port int, archive domain.ArchiveRepository, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		archive: archive,
		metrics: metrics,
		logger:  logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return withLogging(s.logger, next) })

	r.Get("/health", s.handleHealth)
	r.Get("/timeline", s.handleTimeline)
	r.Get("/timeline.rss", s.handleRSS)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authorResponse struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
	Nick   string `json:"nick"`
}

type postResponse struct {
	URI       string         `json:"uri"`
	CID       string         `json:"cid"`
	Author    authorResponse `json:"author"`
	IndexedAt time.Time      `json:"indexedAt"`
	Lines     []string       `json:"lines"`
}

type timelineResponse struct {
	Posts  []postResponse `json:"posts"`
	Cursor string         `json:"cursor,omitempty"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxLimit {
			s.logger.Warn("invalid limit parameter", "limit", l, "error", err)
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	cursor := r.URL.Query().Get("cursor")

	posts, next, err := s.archive.GetRendered(r.Context(), limit, cursor)
	if err != nil {
		s.logger.Error("failed to get timeline",
			"limit", limit,
			"cursor", cursor,
			"error", err,
		)
		if errors.Is(err, domain.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get timeline")
		return
	}

	resp := timelineResponse{
		Posts:  make([]postResponse, 0, len(posts)),
		Cursor: next,
	}
	for _, p := range posts {
		resp.Posts = append(resp.Posts, postResponse{
			URI:       p.URI,
			CID:       p.CID,
			Author:    authorResponse{DID: p.AuthorDID, Handle: p.Handle, Nick: p.Nick},
			IndexedAt: p.IndexedAt,
			Lines:     p.Lines,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	posts, _, err := s.archive.GetRendered(r.Context(), rssItems, "")
	if err != nil {
		s.logger.Error("failed to get timeline for rss", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get timeline")
		return
	}

	rss, err := toRSS(posts, time.Now())
	if err != nil {
		s.logger.Error("failed to build rss", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to build feed")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rss))
}

func toRSS(posts []domain.ArchivedPost, now time.Time) (string, error) {
	feed := &feeds.Feed{
		Title:       "BlueSky home timeline",
		Link:        &feeds.Link{Href: "https://bsky.app/"},
		Description: "Rendered posts from the BlueSky home timeline",
		Created:     now,
	}

	for _, p := range posts {
		title := ""
		if len(p.Lines) > 0 {
			title = p.Lines[0]
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          p.URI,
			Title:       title,
			Link:        &feeds.Link{Href: webURL(p.URI)},
			Description: strings.Join(p.Lines, "\n"),
			Author:      &feeds.Author{Name: "@" + p.Handle},
			Created:     p.IndexedAt,
		})
	}

	return feed.ToRss()
}

// webURL maps at://<did>/app.bsky.feed.post/<rkey> to its bsky.app page.
func webURL(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return uri
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "app.bsky.feed.post" {
		return uri
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", parts[0], parts[2])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
