package domain

// Embed is the closed set of embed views the renderer understands. Unknown
// embed kinds are decoded as a nil Embed.
type Embed interface {
	embed()
}

// Images is an app.bsky.embed.images#view.
type Images struct {
	Images []Image
}

// Image is a single image of an Images embed.
type Image struct {
	Alt      string
	Fullsize string
	Thumb    string
}

// URL returns the full-size URL, falling back to the thumbnail.
func (i Image) URL() string {
	if i.Fullsize != "" {
		return i.Fullsize
	}
	return i.Thumb
}

// QuotedPost is an app.bsky.embed.record#view. Record is nil when the
// quoted record is not available inline (not found, blocked, detached, or
// not a post).
type QuotedPost struct {
	URI    string
	CID    string
	Author Author
	Record *Record
	Embed  Embed
}

// Video is an app.bsky.embed.video#view.
type Video struct {
	CID string
	Alt string
}

// External is an app.bsky.embed.external#view (link card).
type External struct {
	URI         string
	Title       string
	Description string
}

func (*Images) embed()     {}
func (*QuotedPost) embed() {}
func (*Video) embed()      {}
func (*External) embed()   {}
