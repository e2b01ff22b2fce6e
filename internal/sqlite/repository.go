package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

var (
	_ domain.Sink              = (*Repository)(nil)
	_ domain.ArchiveRepository = (*Repository)(nil)
	_ domain.CursorRepository  = (*Repository)(nil)
)

// Repository implements domain.ArchiveRepository, domain.CursorRepository
// and domain.Sink using SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path, applies migrations
// and returns a new Repository. The caller should call Close when the
// repository is no longer needed.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Publish archives a rendered post. It makes the repository usable as a
// domain.Sink.
func (r *Repository) Publish(ctx context.Context, post domain.RenderedPost) error {
	return r.SaveRendered(ctx, post)
}

// SaveRendered inserts a rendered post. Existing URIs are left untouched.
func (r *Repository) SaveRendered(ctx context.Context, post domain.RenderedPost) error {
	if post.Post == nil {
		return errors.New("rendered post has no post")
	}

	indexedAt := post.Post.At
	if indexedAt.IsZero() {
		parsed, err := domain.ParseTimestamp(post.Post.IndexedAt)
		if err != nil {
			return fmt.Errorf("archive %s: %w", post.Post.URI, err)
		}
		indexedAt = parsed
	}

	lines, err := json.Marshal(post.Lines)
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rendered_posts (uri, cid, author_did, handle, nick, indexed_at, archived_at, lines)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO NOTHING`,
		post.Post.URI,
		post.Post.CID,
		post.Sender.DID,
		post.Sender.Handle,
		post.Sender.Nick,
		indexedAt.UnixMilli(),
		r.now().UTC().UnixMilli(),
		string(lines),
	)
	if err != nil {
		return fmt.Errorf("insert rendered post: %w", err)
	}
	return nil
}

// GetRendered retrieves rendered posts paginated by cursor.
// The cursor format is "indexedAt::cid" (unix millis::cid).
func (r *Repository) GetRendered(ctx context.Context, limit int, cursor string) ([]domain.ArchivedPost, string, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if cursor != "" {
		cursorTime, cursorCID, parseErr := parseCursor(cursor)
		if parseErr != nil {
			return nil, "", fmt.Errorf("%w '%s': %v", domain.ErrInvalidCursor, cursor, parseErr)
		}

		rows, err = r.db.QueryContext(ctx, `
			SELECT uri, cid, author_did, handle, nick, indexed_at, archived_at, lines
			FROM rendered_posts
			WHERE (indexed_at, cid) < (?, ?)
			ORDER BY indexed_at DESC, cid DESC
			LIMIT ?`,
			cursorTime.UnixMilli(), cursorCID, limit,
		)
		if err != nil {
			return nil, "", fmt.Errorf("query posts with cursor (time=%v, cid=%s, limit=%d): %w", cursorTime, cursorCID, limit, err)
		}
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT uri, cid, author_did, handle, nick, indexed_at, archived_at, lines
			FROM rendered_posts
			ORDER BY indexed_at DESC, cid DESC
			LIMIT ?`,
			limit,
		)
		if err != nil {
			return nil, "", fmt.Errorf("query posts without cursor (limit=%d): %w", limit, err)
		}
	}
	defer rows.Close()

	var posts []domain.ArchivedPost
	for rows.Next() {
		var (
			p                     domain.ArchivedPost
			indexedAt, archivedAt int64
			lines                 string
		)
		err := rows.Scan(
			&p.URI,
			&p.CID,
			&p.AuthorDID,
			&p.Handle,
			&p.Nick,
			&indexedAt,
			&archivedAt,
			&lines,
		)
		if err != nil {
			return nil, "", fmt.Errorf("scan post: %w", err)
		}
		if err := json.Unmarshal([]byte(lines), &p.Lines); err != nil {
			return nil, "", fmt.Errorf("decode lines of %s: %w", p.URI, err)
		}
		p.IndexedAt = time.UnixMilli(indexedAt).UTC()
		p.ArchivedAt = time.UnixMilli(archivedAt).UTC()
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate posts: %w", err)
	}

	var nextCursor string
	if len(posts) == limit {
		last := posts[len(posts)-1]
		nextCursor = fmt.Sprintf("%d::%s", last.IndexedAt.UnixMilli(), last.CID)
	}

	return posts, nextCursor, nil
}

// DeleteOldPosts removes posts older than maxAge and any excess rows beyond
// maxRows, keeping the most recent posts. A non-positive maxAge or maxRows
// disables that bound. Returns the total number of rows deleted.
func (r *Repository) DeleteOldPosts(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64

	if maxAge > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM rendered_posts WHERE indexed_at < ?`,
			r.now().UTC().Add(-maxAge).UnixMilli(),
		)
		if err != nil {
			return 0, fmt.Errorf("delete expired posts: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	// Keep the most recent maxRows.
	if maxRows > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM rendered_posts WHERE uri IN (
				SELECT uri FROM rendered_posts
				ORDER BY indexed_at DESC, cid DESC
				LIMIT -1 OFFSET ?
			)`, maxRows,
		)
		if err != nil {
			return 0, fmt.Errorf("delete excess posts: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return deleted, nil
}

// GetCursor retrieves the saved firehose cursor for a service.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

// UpdateCursor upserts the firehose cursor for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (service, cursor_value, updated_at)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (service) DO UPDATE SET cursor_value = ?2, updated_at = ?3`,
		service, cursor, r.now().UTC().UnixMilli(),
	)
	return err
}

func parseCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, "::", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("cursor must be in format 'timestamp::cid'")
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid timestamp in cursor: %w", err)
	}
	return time.UnixMilli(millis), parts[1], nil
}
