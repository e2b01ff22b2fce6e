package domain

import (
	"context"
	"log/slog"
	"time"
)

// Resolver fetches single posts on demand, e.g. reply parents that are not
// in the store yet.
type Resolver struct {
	client  FeedClient
	timeout time.Duration
	logger  *slog.Logger
	metrics Recorder
}

// NewResolver creates a Resolver. A non-positive timeout means 30 seconds.
func NewResolver(client FeedClient, timeout time.Duration, logger *slog.Logger, metrics Recorder) *Resolver {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if metrics == nil {
		metrics = NopRecorder()
	}
	return &Resolver{
		client:  client,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve fetches the post at uri. It returns false when the service has no
// such post or the request fails; failures are logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, uri string) (*Post, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	posts, err := r.client.GetPosts(ctx, []string{uri})
	if err != nil {
		r.logger.Error("failed to resolve post", "uri", uri, "error", err)
		r.metrics.RecordResolve(false)
		return nil, false
	}
	if len(posts) == 0 || posts[0] == nil {
		r.logger.Debug("post not found", "uri", uri)
		r.metrics.RecordResolve(false)
		return nil, false
	}

	r.metrics.RecordResolve(true)
	return posts[0], true
}
