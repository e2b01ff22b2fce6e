package bluesky

import "encoding/json"

// Lexicon type identifiers the decoder dispatches on.
const (
	typePost         = "app.bsky.feed.post"
	typeReasonRepost = "app.bsky.feed.defs#reasonRepost"
	typeLinkFacet    = "app.bsky.richtext.facet#link"
	typeMentionFacet = "app.bsky.richtext.facet#mention"
	typeTagFacet     = "app.bsky.richtext.facet#tag"
	typeImagesView   = "app.bsky.embed.images#view"
	typeRecordView   = "app.bsky.embed.record#view"
	typeViewRecord   = "app.bsky.embed.record#viewRecord"
	typeVideoView    = "app.bsky.embed.video#view"
	typeExternalView = "app.bsky.embed.external#view"
)

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

type timelineResponse struct {
	Feed   []feedViewPost `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

type postsResponse struct {
	Posts []postView `json:"posts"`
}

type feedViewPost struct {
	Post   postView        `json:"post"`
	Reason json.RawMessage `json:"reason,omitempty"`
}

type profileViewBasic struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
}

type postView struct {
	URI       string           `json:"uri"`
	CID       string           `json:"cid"`
	Author    profileViewBasic `json:"author"`
	Record    postRecord       `json:"record"`
	Embed     json.RawMessage  `json:"embed,omitempty"`
	IndexedAt string           `json:"indexedAt"`
}

// postRecord is the parsed content of an app.bsky.feed.post record.
type postRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs,omitempty"`
	Reply     *replyRef `json:"reply,omitempty"`
	Facets    []facet   `json:"facets,omitempty"`
}

// replyRef contains references to the parent and root of a reply chain.
type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

// strongRef is a reference to a specific version of a record.
type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type facet struct {
	Features []facetFeature `json:"features"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

type reasonRepost struct {
	Type      string           `json:"$type"`
	By        profileViewBasic `json:"by"`
	IndexedAt string           `json:"indexedAt"`
}

// typed peeks at the $type of a union member.
type typed struct {
	Type string `json:"$type"`
}

type imagesView struct {
	Images []viewImage `json:"images"`
}

type viewImage struct {
	Thumb    string `json:"thumb"`
	Fullsize string `json:"fullsize"`
	Alt      string `json:"alt"`
}

type recordView struct {
	Record json.RawMessage `json:"record"`
}

type viewRecord struct {
	URI       string            `json:"uri"`
	CID       string            `json:"cid"`
	Author    profileViewBasic  `json:"author"`
	Value     postRecord        `json:"value"`
	Embeds    []json.RawMessage `json:"embeds,omitempty"`
	IndexedAt string            `json:"indexedAt"`
}

type videoView struct {
	CID       string `json:"cid"`
	Playlist  string `json:"playlist"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Alt       string `json:"alt,omitempty"`
}

type externalView struct {
	External struct {
		URI         string `json:"uri"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"external"`
}
