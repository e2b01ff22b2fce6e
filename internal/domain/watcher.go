package domain

import (
	"context"
	"log/slog"
	"time"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// PollInterval is the time between sync cycles when nothing triggers one.
	PollInterval time.Duration

	// Backlog is the number of posts from the initial load to publish when
	// Run starts. Zero publishes none.
	Backlog int
}

// Watcher drives the session: it syncs on a ticker or on demand, renders
// every new post and hands it to the sink.
type Watcher struct {
	session  *Session
	renderer *Renderer
	sink     Sink
	archive  ArchiveRepository
	cfg      WatcherConfig
	logger   *slog.Logger
	metrics  Recorder
}

// NewWatcher creates a Watcher. archive may be nil, in which case the
// cleanup job is a no-op.
func NewWatcher(session *Session, renderer *Renderer, sink Sink, archive ArchiveRepository, cfg WatcherConfig, logger *slog.Logger, metrics Recorder) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if metrics == nil {
		metrics = NopRecorder()
	}
	return &Watcher{
		session:  session,
		renderer: renderer,
		sink:     sink,
		archive:  archive,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run publishes the configured backlog, then syncs immediately, on every
// poll tick and whenever trigger fires. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, trigger <-chan struct{}) {
	if w.cfg.Backlog > 0 {
		n := w.PublishRecent(ctx, w.cfg.Backlog)
		w.logger.Info("published backlog", "posts", n)
	}

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-trigger:
			w.logger.Debug("sync triggered by firehose")
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs one sync cycle and publishes the new posts oldest first.
// It returns the number of posts published.
func (w *Watcher) RunOnce(ctx context.Context) int {
	posts := w.session.Sync(ctx)
	if len(posts) == 0 {
		return 0
	}
	w.logger.Info("new posts", "count", len(posts))

	oldestFirst := make([]*Post, len(posts))
	for i, p := range posts {
		oldestFirst[len(posts)-1-i] = p
	}
	return w.publish(ctx, oldestFirst)
}

// PublishRecent publishes up to n of the newest posts in the store, oldest
// first. n <= 0 publishes every post.
func (w *Watcher) PublishRecent(ctx context.Context, n int) int {
	recent := w.session.Store().Recent(n)
	oldestFirst := make([]*Post, len(recent))
	for i, p := range recent {
		oldestFirst[len(recent)-1-i] = p
	}
	return w.publish(ctx, oldestFirst)
}

func (w *Watcher) publish(ctx context.Context, posts []*Post) int {
	published := 0
	for _, p := range posts {
		if ctx.Err() != nil {
			break
		}

		lines := w.renderer.Render(ctx, p)
		if len(lines) == 0 {
			w.logger.Debug("post rendered no lines", "uri", p.URI)
			continue
		}

		rendered := RenderedPost{Post: p, Sender: sender(p), Lines: lines}
		if err := w.sink.Publish(ctx, rendered); err != nil {
			w.logger.Error("failed to publish post", "uri", p.URI, "error", err)
			w.metrics.RecordSinkFailure()
			continue
		}
		published++
	}
	w.metrics.RecordPublished(published)
	return published
}

// sender is who surfaced the post in the timeline: the reposter for a
// repost, the author otherwise.
func sender(p *Post) Author {
	if p.Reason != nil {
		return p.Reason.By
	}
	return p.Author
}

// StartCleanupJob runs a background loop that removes archived posts older
// than maxAge and caps the total at maxRows. It runs immediately on start
// and then repeats at the given interval. It blocks until ctx is cancelled.
func (w *Watcher) StartCleanupJob(ctx context.Context, interval time.Duration, maxAge time.Duration, maxRows int) {
	if w.archive == nil {
		return
	}

	w.runCleanup(ctx, maxAge, maxRows)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCleanup(ctx, maxAge, maxRows)
		}
	}
}

func (w *Watcher) runCleanup(ctx context.Context, maxAge time.Duration, maxRows int) {
	deleted, err := w.archive.DeleteOldPosts(ctx, maxAge, maxRows)
	if err != nil {
		w.logger.Error("archive cleanup failed", "error", err)
	} else if deleted > 0 {
		w.logger.Info("archive cleanup complete", "deleted", deleted)
	}
}
