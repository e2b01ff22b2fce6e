package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	repo.now = func() time.Time { return baseTime }
	return repo
}

func rendered(cid string, minutes int, lines ...string) domain.RenderedPost {
	author := domain.NewAuthor("did:plc:alice", "alice.bsky.social", "Alice")
	at := baseTime.Add(time.Duration(minutes) * time.Minute)
	return domain.RenderedPost{
		Post: &domain.Post{
			URI:       "at://did:plc:alice/app.bsky.feed.post/" + cid,
			CID:       cid,
			Author:    author,
			IndexedAt: at.Format(time.RFC3339),
			At:        at,
		},
		Sender: author,
		Lines:  lines,
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSaveAndGetRendered(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRendered(ctx, rendered("a", 1, "hello", "🔗 https://example.com")))
	require.NoError(t, repo.Publish(ctx, rendered("b", 2, "second")))

	posts, cursor, err := repo.GetRendered(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, cursor, "short page has no cursor")
	require.Len(t, posts, 2)

	assert.Equal(t, "b", posts[0].CID)
	assert.Equal(t, "a", posts[1].CID)
	assert.Equal(t, []string{"hello", "🔗 https://example.com"}, posts[1].Lines)
	assert.Equal(t, "did:plc:alice", posts[1].AuthorDID)
	assert.Equal(t, "Alice", posts[1].Nick)
	assert.True(t, posts[1].IndexedAt.Equal(baseTime.Add(time.Minute)))
	assert.True(t, posts[1].ArchivedAt.Equal(baseTime))
}

func TestSaveRendered_DuplicateIsNoop(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRendered(ctx, rendered("a", 1, "first")))
	require.NoError(t, repo.SaveRendered(ctx, rendered("a", 1, "changed")))

	posts, _, err := repo.GetRendered(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, []string{"first"}, posts[0].Lines)
}

func TestSaveRendered_ParsesIndexedAtWhenUnset(t *testing.T) {
	repo := openTestRepo(t)
	p := rendered("z", 0, "x")
	p.Post.At = time.Time{}
	p.Post.IndexedAt = "2025-03-01T12:30:00Z"

	require.NoError(t, repo.SaveRendered(context.Background(), p))
	posts, _, err := repo.GetRendered(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.True(t, posts[0].IndexedAt.Equal(baseTime.Add(30*time.Minute)))

	p.Post.IndexedAt = "bogus"
	p.Post.URI += "-2"
	require.Error(t, repo.SaveRendered(context.Background(), p))
}

func TestGetRendered_Pagination(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveRendered(ctx, rendered(fmt.Sprintf("p%d", i), i, "line")))
	}

	page1, cursor, err := repo.GetRendered(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "p4", page1[0].CID)
	assert.Equal(t, "p3", page1[1].CID)
	assert.Equal(t, fmt.Sprintf("%d::p3", baseTime.Add(3*time.Minute).UnixMilli()), cursor)

	page2, cursor, err := repo.GetRendered(ctx, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "p2", page2[0].CID)
	assert.Equal(t, "p1", page2[1].CID)

	page3, cursor, err := repo.GetRendered(ctx, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "p0", page3[0].CID)
	assert.Empty(t, cursor)
}

func TestGetRendered_InvalidCursor(t *testing.T) {
	repo := openTestRepo(t)

	for _, cursor := range []string{"nocolons", "abc::cid"} {
		_, _, err := repo.GetRendered(context.Background(), 10, cursor)
		assert.ErrorIs(t, err, domain.ErrInvalidCursor, cursor)
	}
}

func TestDeleteOldPosts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// Two posts older than an hour, four recent ones.
	require.NoError(t, repo.SaveRendered(ctx, rendered("old1", -120)))
	require.NoError(t, repo.SaveRendered(ctx, rendered("old2", -90)))
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.SaveRendered(ctx, rendered(fmt.Sprintf("new%d", i), -i)))
	}

	deleted, err := repo.DeleteOldPosts(ctx, time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	posts, _, err := repo.GetRendered(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "new0", posts[0].CID)
	assert.Equal(t, "new2", posts[2].CID)
}

func TestDeleteOldPosts_NonPositiveBoundsKeepArchive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveRendered(ctx, rendered("old", -120)))
	require.NoError(t, repo.SaveRendered(ctx, rendered("fresh", 0)))

	tests := []struct {
		name    string
		maxAge  time.Duration
		maxRows int
	}{
		{"zero rows", 7 * 24 * time.Hour, 0},
		{"negative rows", 7 * 24 * time.Hour, -1},
		{"zero age", 0, 10},
		{"both zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deleted, err := repo.DeleteOldPosts(ctx, tt.maxAge, tt.maxRows)
			require.NoError(t, err)
			assert.Zero(t, deleted)

			posts, _, err := repo.GetRendered(ctx, 10, "")
			require.NoError(t, err)
			assert.Len(t, posts, 2)
		})
	}
}

func TestCursors(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, repo.UpdateCursor(ctx, "jetstream", 100))
	require.NoError(t, repo.UpdateCursor(ctx, "jetstream", 200))

	got, err = repo.GetCursor(ctx, "jetstream")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got)
}
