package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func discardLogger() *slog.Logger {
	return newTestLogger(io.Discard)
}

var alice = NewAuthor("did:plc:alice123", "alice.bsky.social", "Alice")

// newPost builds a text post by alice indexed minutes after baseTime.
func newPost(cid string, minutes int) *Post {
	return &Post{
		URI:       "at://did:plc:alice123/app.bsky.feed.post/" + cid,
		CID:       cid,
		Author:    alice,
		IndexedAt: baseTime.Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339Nano),
		Record:    Record{Text: "post " + cid},
	}
}

func entries(posts ...*Post) []FeedEntry {
	out := make([]FeedEntry, len(posts))
	for i, p := range posts {
		out[i] = FeedEntry{Post: p}
	}
	return out
}

type timelineCall struct {
	limit  int
	cursor string
}

// fakeClient serves a fixed initial page and then one scripted page per
// sync request.
type fakeClient struct {
	mu sync.Mutex

	profile  *Profile
	loginErr error

	initial    *TimelinePage
	initialErr error

	pages    []*TimelinePage
	pageErrs map[int]error

	posts       map[string]*Post
	getPostsErr error

	timelineCalls []timelineCall
	getPostsCalls [][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		profile: &Profile{DID: "did:plc:me", Handle: "me.bsky.social", DisplayName: "Me"},
		initial: &TimelinePage{},
		posts:   make(map[string]*Post),
	}
}

func (f *fakeClient) Login(ctx context.Context, identifier, password string) (*Profile, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.profile, nil
}

func (f *fakeClient) GetTimeline(ctx context.Context, limit int, cursor string) (*TimelinePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit == InitialPageSize {
		if f.initialErr != nil {
			return nil, f.initialErr
		}
		return f.initial, nil
	}

	idx := len(f.timelineCalls)
	f.timelineCalls = append(f.timelineCalls, timelineCall{limit: limit, cursor: cursor})
	if err, ok := f.pageErrs[idx]; ok {
		return nil, err
	}
	if idx >= len(f.pages) {
		return &TimelinePage{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeClient) GetPosts(ctx context.Context, uris []string) ([]*Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getPostsCalls = append(f.getPostsCalls, uris)
	if f.getPostsErr != nil {
		return nil, f.getPostsErr
	}
	var out []*Post
	for _, uri := range uris {
		if p, ok := f.posts[uri]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// singlePages wraps each post in its own one-entry page with a cursor.
func singlePages(posts ...*Post) []*TimelinePage {
	pages := make([]*TimelinePage, len(posts))
	for i, p := range posts {
		pages[i] = &TimelinePage{
			Feed:   entries(p),
			Cursor: fmt.Sprintf("cursor-%d", i+1),
		}
	}
	return pages
}

type recordingSink struct {
	mu        sync.Mutex
	published []RenderedPost
	err       error
}

func (s *recordingSink) Publish(ctx context.Context, post RenderedPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, post)
	return nil
}

type countingRecorder struct {
	nopRecorder
	outcomes []string
	resolves []bool
}

func (r *countingRecorder) RecordSync(outcome string, pages, newPosts int) {
	r.outcomes = append(r.outcomes, outcome)
}

func (r *countingRecorder) RecordResolve(found bool) {
	r.resolves = append(r.resolves, found)
}
