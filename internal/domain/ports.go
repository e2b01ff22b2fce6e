package domain

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCursor is returned by ArchiveRepository.GetRendered for a
// cursor it did not issue.
var ErrInvalidCursor = errors.New("invalid cursor")

// FeedClient is the remote timeline service.
type FeedClient interface {
	// Login authenticates and returns the account profile.
	Login(ctx context.Context, identifier, password string) (*Profile, error)

	// GetTimeline returns one page of the home timeline. An empty cursor
	// requests the newest page.
	GetTimeline(ctx context.Context, limit int, cursor string) (*TimelinePage, error)

	// GetPosts hydrates posts by AT-URI. Missing posts are omitted.
	GetPosts(ctx context.Context, uris []string) ([]*Post, error)
}

// Sink receives rendered posts for display or storage.
type Sink interface {
	Publish(ctx context.Context, post RenderedPost) error
}

// ArchiveRepository defines persistence operations for rendered posts.
type ArchiveRepository interface {
	// SaveRendered stores a rendered post. Saving the same URI twice is a no-op.
	SaveRendered(ctx context.Context, post RenderedPost) error

	// GetRendered retrieves rendered posts ordered by indexedAt descending.
	// The cursor is opaque; the returned cursor is empty when there are no
	// more results.
	GetRendered(ctx context.Context, limit int, cursor string) ([]ArchivedPost, string, error)

	// DeleteOldPosts removes posts older than maxAge and any excess rows beyond
	// maxRows, keeping the most recent posts. Returns the number of rows deleted.
	DeleteOldPosts(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error)
}

// CursorRepository defines persistence operations for firehose cursors.
type CursorRepository interface {
	// GetCursor retrieves the last-processed firehose cursor for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the firehose cursor so we can resume on restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}

// ArchivedPost is a rendered post as read back from the archive.
type ArchivedPost struct {
	URI        string
	CID        string
	AuthorDID  string
	Handle     string
	Nick       string
	IndexedAt  time.Time
	ArchivedAt time.Time
	Lines      []string
}

// Recorder collects operational metrics.
type Recorder interface {
	RecordSync(outcome string, pages, newPosts int)
	RecordResolve(found bool)
	RecordPublished(count int)
	RecordSinkFailure()
	SetStoreSize(n int)
}

// Sync outcomes reported to Recorder.RecordSync.
const (
	SyncOK       = "ok"
	SyncFailed   = "failed"
	SyncNotReady = "not_ready"
)

type nopRecorder struct{}

func (nopRecorder) RecordSync(string, int, int) {}
func (nopRecorder) RecordResolve(bool)          {}
func (nopRecorder) RecordPublished(int)         {}
func (nopRecorder) RecordSinkFailure()          {}
func (nopRecorder) SetStoreSize(int)            {}

// NopRecorder returns a Recorder that discards everything.
func NopRecorder() Recorder {
	return nopRecorder{}
}
