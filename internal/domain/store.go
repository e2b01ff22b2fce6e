package domain

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// zonelessLayout is accepted for indexedAt values that carry no zone; they
// are read as UTC.
const zonelessLayout = "2006-01-02T15:04:05.999999999"

// Admission is the outcome of a Store admission.
type Admission struct {
	// Post is the admitted post, or nil when its CID had already been seen.
	Post *Post

	// PrevOldest is the watermark as it was before this admission. It is
	// the zero time when no post had been admitted yet.
	PrevOldest time.Time
}

// Admitted reports whether the post was new to the store.
func (a Admission) Admitted() bool {
	return a.Post != nil
}

// IsNewer reports whether the admitted post is strictly newer than the
// watermark that was in place before it was admitted. Duplicates and
// admissions into an empty store are never newer.
func (a Admission) IsNewer() bool {
	if a.Post == nil || a.PrevOldest.IsZero() {
		return false
	}
	return a.Post.At.After(a.PrevOldest)
}

// Store holds every post seen during the session, in discovery order, with
// a CID index and the oldest-seen watermark. All mutations happen under a
// single lock so the sequence, the index and the watermark never disagree.
type Store struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	posts  []*Post
	oldest time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		seen: make(map[string]struct{}),
	}
}

// Admit records p unless its CID has already been seen. A duplicate is not
// an error: the returned Admission has a nil Post.
func (s *Store) Admit(p *Post) (Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(p)
}

// AdmitEntry admits the entry's post and, when it was new and the entry is
// a repost, attaches the repost reason to it.
func (s *Store) AdmitEntry(entry FeedEntry) (Admission, error) {
	if entry.Post == nil {
		return Admission{}, fmt.Errorf("feed entry has no post")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	adm, err := s.admitLocked(entry.Post)
	if err != nil {
		return adm, err
	}
	if adm.Post != nil && entry.Reason != nil {
		adm.Post.Reason = entry.Reason
	}
	return adm, nil
}

func (s *Store) admitLocked(p *Post) (Admission, error) {
	adm := Admission{PrevOldest: s.oldest}

	if _, ok := s.seen[p.CID]; ok {
		return adm, nil
	}

	at, err := ParseTimestamp(p.IndexedAt)
	if err != nil {
		return adm, fmt.Errorf("post %s: %w", p.URI, err)
	}
	p.At = at

	if s.oldest.IsZero() || at.Before(s.oldest) {
		s.oldest = at
	}
	s.posts = append(s.posts, p)
	s.seen[p.CID] = struct{}{}

	adm.Post = p
	return adm, nil
}

// Seen reports whether a post with the given CID has been admitted.
func (s *Store) Seen(cid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[cid]
	return ok
}

// Oldest returns the watermark. ok is false while the store is empty.
func (s *Store) Oldest() (oldest time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oldest, !s.oldest.IsZero()
}

// Len returns the number of admitted posts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// Posts returns a copy of the admitted posts in discovery order.
func (s *Store) Posts() []*Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Post, len(s.posts))
	copy(out, s.posts)
	return out
}

// Recent returns up to n posts, newest first by derived timestamp. n <= 0
// returns every post.
func (s *Store) Recent(n int) []*Post {
	posts := s.Posts()
	sortNewestFirst(posts)
	if n > 0 && n < len(posts) {
		posts = posts[:n]
	}
	return posts
}

// AuthorDIDs returns the distinct DIDs of every author and reposter seen.
func (s *Store) AuthorDIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	var dids []string
	add := func(did string) {
		if did == "" {
			return
		}
		if _, ok := set[did]; ok {
			return
		}
		set[did] = struct{}{}
		dids = append(dids, did)
	}
	for _, p := range s.posts {
		add(p.Author.DID)
		if p.Reason != nil {
			add(p.Reason.By.DID)
		}
	}
	return dids
}

// ParseTimestamp parses an indexedAt value. A trailing Z is UTC; values
// without any zone are read as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(zonelessLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse indexedAt %q: %w", v, err)
	}
	return t, nil
}

func sortNewestFirst(posts []*Post) {
	slices.SortStableFunc(posts, func(a, b *Post) int {
		return b.At.Compare(a.At)
	})
}
