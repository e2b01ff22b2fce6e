package domain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(client *fakeClient) (*Renderer, *Store) {
	store := NewStore()
	resolver := NewResolver(client, 0, discardLogger(), nil)
	return NewRenderer(store, resolver, discardLogger()), store
}

func TestFlattenText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"mixed line breaks", "line1\r\n\r\nline2\r  \r\nline3", []string{"line1", "line2", "line3"}},
		{"empty", "", nil},
		{"whitespace only", " \n\t\n ", nil},
		{"trims", "  hello  \n  world ", []string{"hello", "world"}},
		{"single line", "just one", []string{"just one"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlattenText(tt.input))
		})
	}
}

func TestRender_PlainPostRoundTrip(t *testing.T) {
	r, _ := newTestRenderer(newFakeClient())
	p := newPost("plain", 0)
	p.Record.Text = "first line\nsecond line"

	lines := r.Render(context.Background(), p)
	assert.Equal(t, []string{"first line", "second line"}, lines)
}

func TestRender_EmptyPost(t *testing.T) {
	r, _ := newTestRenderer(newFakeClient())
	p := newPost("empty", 0)
	p.Record.Text = ""

	assert.Empty(t, r.Render(context.Background(), p))
}

func TestRender_Links(t *testing.T) {
	r, _ := newTestRenderer(newFakeClient())
	p := newPost("links", 0)
	p.Record.Text = "read https://example.com/a today"
	p.Record.Facets = []Facet{
		{Features: []FacetFeature{{Kind: FeatureLink, URI: "https://example.com/a"}}},
		{Features: []FacetFeature{{Kind: FeatureMention, DID: "did:plc:bob"}}},
		{Features: []FacetFeature{{Kind: FeatureLink, URI: "https://example.com/b"}}},
		{Features: []FacetFeature{{Kind: FeatureLink, URI: "https://example.com/b"}}},
	}
	p.Embed = &External{URI: "https://example.com/card", Title: "Card"}

	lines := r.Render(context.Background(), p)
	assert.Equal(t, []string{
		"read https://example.com/a today",
		"🔗 https://example.com/b",
		"🔗 https://example.com/card",
	}, lines)
}

func TestRender_LinkAlreadyInTextIsNotRepeated(t *testing.T) {
	r, _ := newTestRenderer(newFakeClient())
	p := newPost("card", 0)
	p.Record.Text = "https://news.example.org/story"
	p.Embed = &External{URI: "https://news.example.org/story"}

	assert.Equal(t, []string{"https://news.example.org/story"}, r.Render(context.Background(), p))
}

func TestRenderEmbed_Images(t *testing.T) {
	sixty := strings.Repeat("x", 60)

	tests := []struct {
		name  string
		image Image
		want  string
	}{
		{"no alt", Image{Fullsize: "https://cdn/full.jpg", Thumb: "https://cdn/thumb.jpg"}, "📷 https://cdn/full.jpg "},
		{"thumb fallback", Image{Thumb: "https://cdn/thumb.jpg"}, "📷 https://cdn/thumb.jpg "},
		{"short alt", Image{Alt: "a cat", Fullsize: "https://cdn/cat.jpg"}, "📷 a cat https://cdn/cat.jpg "},
		{"newlines collapsed", Image{Alt: " a\ncat\r\nsleeping ", Fullsize: "u"}, "📷 a cat sleeping u "},
		{"long alt truncated", Image{Alt: sixty, Fullsize: "u"}, "📷 " + strings.Repeat("x", 47) + "...u "},
		{"forty-nine chars kept", Image{Alt: strings.Repeat("y", 49), Fullsize: "u"}, "📷 " + strings.Repeat("y", 49) + " u "},
		{"fifty chars truncated", Image{Alt: strings.Repeat("z", 50), Fullsize: "u"}, "📷 " + strings.Repeat("z", 47) + "...u "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := RenderEmbed(&Images{Images: []Image{tt.image}}, "at://did:plc:a/app.bsky.feed.post/1")
			require.Len(t, lines, 1)
			assert.Equal(t, tt.want, lines[0])
		})
	}
}

func TestRenderEmbed_ImageAltTruncatesByCharacter(t *testing.T) {
	alt := strings.Repeat("é", 60)
	lines := RenderEmbed(&Images{Images: []Image{{Alt: alt, Fullsize: "u"}}}, "")
	require.Len(t, lines, 1)
	assert.Equal(t, "📷 "+strings.Repeat("é", 47)+"...u ", lines[0])
}

func TestRenderEmbed_Video(t *testing.T) {
	uri := "at://did:plc:abc123/app.bsky.feed.post/3k"

	lines := RenderEmbed(&Video{CID: "bafyvideo", Alt: "my\nclip"}, uri)
	assert.Equal(t, []string{"🎥 my clip https://atproto-browser.vercel.app/blob/did:plc:abc123/bafyvideo"}, lines)

	lines = RenderEmbed(&Video{CID: "bafyvideo"}, uri)
	assert.Equal(t, []string{"🎥 https://atproto-browser.vercel.app/blob/did:plc:abc123/bafyvideo"}, lines)

	assert.Empty(t, RenderEmbed(&Video{CID: ""}, uri), "no cid")
	assert.Empty(t, RenderEmbed(&Video{CID: "bafy"}, "at://did:web:example.com/app.bsky.feed.post/3k"), "no plc did")
}

func TestRenderEmbed_QuotedPost(t *testing.T) {
	bob := NewAuthor("did:plc:bob", "bob.bsky.social", "Bob")
	q := &QuotedPost{
		URI:    "at://did:plc:bob/app.bsky.feed.post/q1",
		Author: bob,
		Record: &Record{Text: "quoted text\nsecond"},
		Embed:  &Video{CID: "bafyq"},
	}

	lines := RenderEmbed(q, "at://did:plc:alice123/app.bsky.feed.post/outer")
	assert.Equal(t, []string{
		"💬 Bob (@bob.bsky.social):",
		" | quoted text",
		" | second",
		" | 🎥 https://atproto-browser.vercel.app/blob/did:plc:bob/bafyq",
	}, lines)
}

func TestRenderEmbed_QuotedPostNotInline(t *testing.T) {
	q := &QuotedPost{URI: "at://did:plc:bob/app.bsky.feed.post/gone"}
	assert.Empty(t, RenderEmbed(q, ""))
}

func TestRenderEmbed_Unknown(t *testing.T) {
	assert.Empty(t, RenderEmbed(nil, ""))
	assert.Empty(t, RenderEmbed(&External{URI: "https://example.com"}, ""), "external cards render as links, not embeds")
}

func TestRender_Repost(t *testing.T) {
	r, _ := newTestRenderer(newFakeClient())
	carol := NewAuthor("did:plc:carol", "carol.bsky.social", "")
	p := newPost("rp", 0)
	p.Record.Text = "original words"
	p.Reason = &Repost{By: carol}

	lines := r.Render(context.Background(), p)
	assert.Equal(t, []string{
		"↻ carol.bsky.social (@carol.bsky.social):",
		" | original words",
	}, lines)
}

func TestRender_ReplyInContext(t *testing.T) {
	client := newFakeClient()
	r, store := newTestRenderer(client)

	parent := newPost("parent", 0)
	_, err := store.Admit(parent)
	require.NoError(t, err)

	reply := newPost("reply", 1)
	reply.Record.Text = "agreed\nfully"
	reply.Record.Reply = &ReplyRef{Parent: PostRef{URI: parent.URI, CID: parent.CID}}

	lines := r.Render(context.Background(), reply)
	assert.Equal(t, []string{"↪ agreed", "fully"}, lines)
	assert.Empty(t, client.getPostsCalls, "no fetch for a known parent")
}

func TestRender_ReplyParentFetched(t *testing.T) {
	client := newFakeClient()
	r, store := newTestRenderer(client)

	dave := NewAuthor("did:plc:dave", "dave.bsky.social", "Dave")
	parent := &Post{
		URI:       "at://did:plc:dave/app.bsky.feed.post/p",
		CID:       "pcid",
		Author:    dave,
		IndexedAt: "2025-03-01T11:00:00Z",
		Record:    Record{Text: "question?\nreally"},
	}
	client.posts[parent.URI] = parent

	reply := newPost("reply", 1)
	reply.Record.Text = "answer"
	reply.Record.Reply = &ReplyRef{Parent: PostRef{URI: parent.URI, CID: parent.CID}}

	lines := r.Render(context.Background(), reply)
	assert.Equal(t, []string{
		"↩ Dave (@dave.bsky.social):",
		" | question?",
		" | really",
		"answer",
	}, lines)
	assert.True(t, store.Seen("pcid"), "fetched parent is admitted")
}

func TestRender_ReplyParentUnresolvable(t *testing.T) {
	client := newFakeClient()
	client.getPostsErr = errors.New("timeout")
	r, _ := newTestRenderer(client)

	reply := newPost("reply", 1)
	reply.Record.Text = "orphan"
	reply.Record.Reply = &ReplyRef{Parent: PostRef{URI: "at://did:plc:x/app.bsky.feed.post/gone"}}

	assert.Equal(t, []string{"orphan"}, r.Render(context.Background(), reply))
	require.Len(t, client.getPostsCalls, 1)
}

func TestRender_RepostOfFetchedReply(t *testing.T) {
	client := newFakeClient()
	r, _ := newTestRenderer(client)

	dave := NewAuthor("did:plc:dave", "dave.bsky.social", "Dave")
	parent := &Post{
		URI:       "at://did:plc:dave/app.bsky.feed.post/p",
		CID:       "pcid",
		Author:    dave,
		IndexedAt: "2025-03-01T11:00:00Z",
		Record:    Record{Text: "parent"},
	}
	client.posts[parent.URI] = parent

	bob := NewAuthor("did:plc:bob", "bob.bsky.social", "Bob")
	p := newPost("rr", 2)
	p.Record.Text = "child"
	p.Record.Reply = &ReplyRef{Parent: PostRef{URI: parent.URI, CID: parent.CID}}
	p.Reason = &Repost{By: bob}

	assert.Equal(t, []string{
		"↩ Dave (@dave.bsky.social):",
		" | parent",
		"↻ Bob (@bob.bsky.social):",
		" | child",
	}, r.Render(context.Background(), p))
}

func TestRender_InContextRepostHasNoReplyMarker(t *testing.T) {
	r, store := newTestRenderer(newFakeClient())
	parent := newPost("parent", 0)
	_, _ = store.Admit(parent)

	bob := NewAuthor("did:plc:bob", "bob.bsky.social", "Bob")
	p := newPost("child", 1)
	p.Record.Text = "child"
	p.Record.Reply = &ReplyRef{Parent: PostRef{URI: parent.URI, CID: parent.CID}}
	p.Reason = &Repost{By: bob}

	assert.Equal(t, []string{"↻ Bob (@bob.bsky.social):", " | child"}, r.Render(context.Background(), p))
}

func TestRender_FullPost(t *testing.T) {
	r, _ := newTestRenderer(newFakeClient())
	p := newPost("full", 0)
	p.Record.Text = "look"
	p.Record.Facets = []Facet{{Features: []FacetFeature{{Kind: FeatureLink, URI: "https://example.com"}}}}
	p.Embed = &Images{Images: []Image{{Alt: "one", Fullsize: "https://cdn/1"}, {Fullsize: "https://cdn/2"}}}

	assert.Equal(t, []string{
		"look",
		"🔗 https://example.com",
		"📷 one https://cdn/1 ",
		"📷 https://cdn/2 ",
	}, r.Render(context.Background(), p))
}
