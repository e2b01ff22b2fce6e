package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

const (
	cursorServiceName  = "jetstream"
	cursorSaveInterval = 5 * time.Second
	optionsInterval    = 15 * time.Second

	// maxWantedDIDs is the Jetstream limit on wantedDids.
	maxWantedDIDs = 10000
)

// wantedCollections is the set of AT Proto collection NSIDs this subscriber
// requests from Jetstream. New posts and reposts both surface in the home
// timeline.
var wantedCollections = []string{
	collectionPost,
	collectionRepost,
}

// DIDSource lists the accounts whose activity should trigger a sync.
// *domain.Store satisfies it.
type DIDSource interface {
	AuthorDIDs() []string
}

// Subscriber connects to the Jetstream firehose and signals trigger whenever
// a watched account creates a post or repost.
type Subscriber struct {
	url     string
	dids    DIDSource
	cursors domain.CursorRepository
	trigger chan<- struct{}
	logger  *slog.Logger

	mu      sync.RWMutex
	watched map[string]struct{}
	greeted bool
}

// NewSubscriber creates a new firehose subscriber. cursors may be nil, in
// which case every connection starts from live.
func NewSubscriber(
	firehoseURL string,
	dids DIDSource,
	cursors domain.CursorRepository,
	trigger chan<- struct{},
	logger *slog.Logger,
) *Subscriber {
	return &Subscriber{
		url:     firehoseURL,
		dids:    dids,
		cursors: cursors,
		trigger: trigger,
		logger:  logger,
		watched: make(map[string]struct{}),
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					// backoff before reconnecting
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse firehose url: %w", err)
	}
	q := u.Query()
	for _, c := range wantedCollections {
		q.Add("wantedCollections", c)
	}
	q.Set("requireHello", "true")
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	var cursor int64
	if s.cursors != nil {
		var err error
		cursor, err = s.cursors.GetCursor(ctx, cursorServiceName)
		if err != nil {
			s.logger.Warn("failed to load cursor, starting from live", "error", err)
		}
	}

	wsURL, err := s.buildURL(cursor)
	if err != nil {
		return err
	}
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	// requireHello holds events back until the first options update.
	s.mu.Lock()
	s.watched = make(map[string]struct{})
	s.greeted = false
	s.mu.Unlock()
	if _, err := s.sendOptions(conn); err != nil {
		return fmt.Errorf("send options: %w", err)
	}

	s.logger.Info("connected to firehose", "watched_dids", s.watchedCount())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go s.refreshOptions(connCtx, conn)

	lastCursorSave := time.Now()
	var latestCursor int64
	var eventsReceived, commitsReceived, triggers int64
	lastStatsLog := time.Now()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			s.logger.Error("failed to parse event", "error", err)
			continue
		}

		eventsReceived++
		latestCursor = event.TimeUS

		if event.Kind == "commit" && event.Commit != nil {
			commitsReceived++
			if s.handleCommit(event) {
				triggers++
			}
		}

		// Log stats every 30 seconds
		if time.Since(lastStatsLog) >= 30*time.Second {
			s.logger.Info("firehose stats",
				"events_received", eventsReceived,
				"commits_received", commitsReceived,
				"triggers", triggers,
			)
			lastStatsLog = time.Now()
		}

		// Periodically save cursor
		if s.cursors != nil && time.Since(lastCursorSave) >= cursorSaveInterval {
			if err := s.cursors.UpdateCursor(ctx, cursorServiceName, latestCursor); err != nil {
				s.logger.Error("failed to save cursor", "error", err)
			} else {
				lastCursorSave = time.Now()
			}
		}
	}
}

// refreshOptions re-sends the options update whenever new accounts show up
// in the timeline. It is the only writer on conn after the hello.
func (s *Subscriber) refreshOptions(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(optionsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := s.sendOptions(conn)
			if err != nil {
				s.logger.Error("failed to update firehose options", "error", err)
				return
			}
			if sent {
				s.logger.Debug("updated firehose options", "watched_dids", s.watchedCount())
			}
		}
	}
}

// sendOptions writes an options update when the watched DID set changed.
// The first call on a connection always writes.
func (s *Subscriber) sendOptions(conn *websocket.Conn) (bool, error) {
	msg, changed := s.nextOptions()
	if !changed {
		return false, nil
	}
	if err := conn.WriteJSON(msg); err != nil {
		return false, err
	}
	return true, nil
}

// nextOptions merges the current author DIDs into the watched set and
// returns the options update to send. changed is false when no new DID was
// added since the last call, unless nothing has been sent yet.
func (s *Subscriber) nextOptions() (subscriberMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := !s.greeted
	s.greeted = true
	for _, did := range s.dids.AuthorDIDs() {
		if len(s.watched) >= maxWantedDIDs {
			break
		}
		if _, ok := s.watched[did]; !ok {
			s.watched[did] = struct{}{}
			changed = true
		}
	}

	dids := make([]string, 0, len(s.watched))
	for did := range s.watched {
		dids = append(dids, did)
	}
	slices.Sort(dids)

	return subscriberMessage{
		Type: "options_update",
		Payload: optionsPayload{
			WantedCollections: wantedCollections,
			WantedDIDs:        dids,
		},
	}, changed
}

func (s *Subscriber) watchedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watched)
}

// handleCommit signals the trigger for creates by watched accounts. It
// never blocks: a pending trigger already covers this event.
func (s *Subscriber) handleCommit(event *jetstreamEvent) bool {
	commit := event.Commit
	if commit.Operation != "create" {
		return false
	}
	if commit.Collection != collectionPost && commit.Collection != collectionRepost {
		return false
	}

	s.mu.RLock()
	_, ok := s.watched[event.DID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	uri := fmt.Sprintf("at://%s/%s/%s", event.DID, commit.Collection, commit.RKey)
	s.logger.Debug("watched account activity", "uri", uri, "text_preview", truncate(commitText(commit), 100))

	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return true
}

func commitText(c *jetstreamCommit) string {
	switch {
	case c.Post != nil:
		return c.Post.Text
	case c.Repost != nil:
		return "repost of " + c.Repost.Subject.URI
	default:
		return ""
	}
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var raw struct {
		DID    string          `json:"did"`
		TimeUS int64           `json:"time_us"`
		Kind   string          `json:"kind"`
		Commit json.RawMessage `json:"commit,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	event := &jetstreamEvent{
		DID:    raw.DID,
		TimeUS: raw.TimeUS,
		Kind:   raw.Kind,
	}

	if raw.Kind == "commit" && len(raw.Commit) > 0 {
		var rc struct {
			Rev        string          `json:"rev"`
			Operation  string          `json:"operation"`
			Collection string          `json:"collection"`
			RKey       string          `json:"rkey"`
			Record     json.RawMessage `json:"record,omitempty"`
			CID        string          `json:"cid"`
		}
		if err := json.Unmarshal(raw.Commit, &rc); err != nil {
			return nil, fmt.Errorf("unmarshal commit: %w", err)
		}

		commit := &jetstreamCommit{
			Rev:        rc.Rev,
			Operation:  rc.Operation,
			Collection: rc.Collection,
			RKey:       rc.RKey,
			CID:        rc.CID,
		}

		if len(rc.Record) > 0 {
			switch rc.Collection {
			case collectionPost:
				var record postRecord
				if err := json.Unmarshal(rc.Record, &record); err != nil {
					return nil, fmt.Errorf("unmarshal post record: %w", err)
				}
				commit.Post = &record
			case collectionRepost:
				var record repostRecord
				if err := json.Unmarshal(rc.Record, &record); err != nil {
					return nil, fmt.Errorf("unmarshal repost record: %w", err)
				}
				commit.Repost = &record
			}
		}

		event.Commit = commit
	}

	return event, nil
}
