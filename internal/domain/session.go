package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// InitialPageSize is the page size of the cold-start load.
	InitialPageSize = 100

	// syncPageSize is one entry per page, so each admission decides whether
	// the next page is fetched at all.
	syncPageSize = 1

	defaultCallTimeout = 30 * time.Second
)

// Credentials are the account identifier and app password used to log in.
type Credentials struct {
	Identifier string
	Password   string
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Credentials Credentials

	// CallTimeout bounds every remote call. Zero means 30 seconds.
	CallTimeout time.Duration
}

// Session owns the authenticated profile, the pagination cursor and the
// Store, and keeps the Store in step with the remote home timeline.
type Session struct {
	client  FeedClient
	store   *Store
	cfg     SessionConfig
	logger  *slog.Logger
	metrics Recorder

	// mu serializes Initialize and Sync so novelty decisions never race.
	mu      sync.Mutex
	profile *Profile
	cursor  string
	ready   atomic.Bool
}

// NewSession creates a Session over the given client and store.
func NewSession(client FeedClient, store *Store, cfg SessionConfig, logger *slog.Logger, metrics Recorder) *Session {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if metrics == nil {
		metrics = NopRecorder()
	}
	return &Session{
		client:  client,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Store returns the session's post store.
func (s *Session) Store() *Store {
	return s.store
}

// Ready reports whether Initialize has completed.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Profile returns the authenticated profile, or nil before Initialize.
func (s *Session) Profile() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Initialize logs in and loads the first page of the timeline into the
// store. Any error is fatal to the session and is returned as-is wrapped.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loginCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	profile, err := s.client.Login(loginCtx, s.cfg.Credentials.Identifier, s.cfg.Credentials.Password)
	cancel()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.profile = profile
	s.logger.Info("logged in", "did", profile.DID, "handle", profile.Handle)

	pageCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	page, err := s.client.GetTimeline(pageCtx, InitialPageSize, "")
	cancel()
	if err != nil {
		return fmt.Errorf("load timeline: %w", err)
	}

	admitted := 0
	for _, entry := range page.Feed {
		adm, err := s.store.AdmitEntry(entry)
		if err != nil {
			return fmt.Errorf("admit initial entry: %w", err)
		}
		if adm.Admitted() {
			admitted++
		}
	}
	s.cursor = page.Cursor
	s.ready.Store(true)
	s.metrics.SetStoreSize(s.store.Len())

	s.logger.Info("initial timeline loaded", "entries", len(page.Feed), "admitted", admitted)
	return nil
}

// Sync pages backwards through the timeline one entry at a time, starting
// at the newest entry, and stops at the first entry that is already known
// or not newer than the store's watermark. It returns the newly discovered
// posts, newest first. On any remote or decoding failure the cycle is
// abandoned and nil is returned; posts admitted before the failure stay in
// the store.
func (s *Session) Sync(ctx context.Context) []*Post {
	if !s.ready.Load() {
		s.logger.Warn("sync requested before initialize")
		s.metrics.RecordSync(SyncNotReady, 0, 0)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger.With("cycle_id", uuid.NewString())
	start := time.Now()

	var (
		newPosts []*Post
		pages    int
	)
	s.cursor = ""

	for {
		page, err := s.fetchPage(ctx, s.cursor)
		if err != nil {
			logger.Error("timeline sync failed", "pages", pages, "error", err)
			s.cursor = ""
			s.metrics.RecordSync(SyncFailed, pages, 0)
			s.metrics.SetStoreSize(s.store.Len())
			return nil
		}
		pages++
		s.cursor = ""

		for _, entry := range page.Feed {
			adm, err := s.store.AdmitEntry(entry)
			if err != nil {
				logger.Error("timeline sync failed", "pages", pages, "error", err)
				s.metrics.RecordSync(SyncFailed, pages, 0)
				s.metrics.SetStoreSize(s.store.Len())
				return nil
			}

			if adm.IsNewer() {
				newPosts = append(newPosts, adm.Post)
				s.cursor = page.Cursor
			} else {
				s.cursor = ""
			}
		}

		if s.cursor == "" {
			break
		}
	}

	s.metrics.RecordSync(SyncOK, pages, len(newPosts))
	s.metrics.SetStoreSize(s.store.Len())
	logger.Debug("timeline sync complete",
		"pages", pages,
		"new_posts", len(newPosts),
		"duration", time.Since(start),
	)
	return newPosts
}

func (s *Session) fetchPage(ctx context.Context, cursor string) (*TimelinePage, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	page, err := s.client.GetTimeline(callCtx, syncPageSize, cursor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("get timeline: timed out after %s: %w", s.cfg.CallTimeout, err)
		}
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	if page == nil {
		return nil, errors.New("get timeline: empty response")
	}
	return page, nil
}
