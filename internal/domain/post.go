package domain

import "time"

// Post is a timeline post as returned by the remote service. Posts are
// treated as immutable once fetched; the Store only fills in At and, for
// repost entries, Reason.
type Post struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content identifier of the record. It is the dedup key.
	CID string

	Author Author

	// IndexedAt is the indexing timestamp exactly as reported by the service.
	IndexedAt string

	Record Record

	// Embed is the hydrated embed view, or nil.
	Embed Embed

	// Reason is set when the post surfaced in the timeline through a repost.
	Reason *Repost

	// At is the parsed IndexedAt, set by the Store on admission.
	At time.Time
}

// Record is the post body.
type Record struct {
	Text   string
	Reply  *ReplyRef
	Facets []Facet
}

// ReplyRef points at the parent and root of a reply chain. A nil *ReplyRef
// means the post is not a reply.
type ReplyRef struct {
	Parent PostRef
	Root   PostRef
}

// PostRef is a reference to a specific post. CID may be empty when the
// reference only carries a URI.
type PostRef struct {
	URI string
	CID string
}

// Resolved reports whether the reference carries a content identifier.
func (r PostRef) Resolved() bool {
	return r.CID != ""
}

// FeatureKind classifies a rich-text facet feature.
type FeatureKind int

const (
	FeatureUnknown FeatureKind = iota
	FeatureLink
	FeatureMention
	FeatureTag
)

// Facet is a rich-text annotation over a byte range of the post text.
type Facet struct {
	Features []FacetFeature
}

// FacetFeature is one annotation of a facet. Only the field matching Kind
// is populated.
type FacetFeature struct {
	Kind FeatureKind
	URI  string
	DID  string
	Tag  string
}

// Repost marks a feed entry that was surfaced because By reposted it.
type Repost struct {
	By        Author
	IndexedAt string
}

// FeedEntry is one item of a timeline page.
type FeedEntry struct {
	Post   *Post
	Reason *Repost
}

// TimelinePage is one page of the home timeline. Cursor is empty when the
// service has no further page.
type TimelinePage struct {
	Feed   []FeedEntry
	Cursor string
}

// Profile is the authenticated account.
type Profile struct {
	DID         string
	Handle      string
	DisplayName string
}

// RenderedPost is a post together with its display lines, as handed to a Sink.
type RenderedPost struct {
	Post   *Post
	Sender Author
	Lines  []string
}
