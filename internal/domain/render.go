package domain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	maxAltLen       = 50
	truncatedAltLen = 47

	videoViewerBase = "https://atproto-browser.vercel.app/blob"

	quoteIndent = " | "
)

var (
	lineBreak = regexp.MustCompile(`\r\n|\r|\n`)
	plcDID    = regexp.MustCompile(`did:plc:[^/]+`)
)

// PostResolver fetches a single post by AT-URI.
type PostResolver interface {
	Resolve(ctx context.Context, uri string) (*Post, bool)
}

// Renderer flattens posts into display lines. Reply parents that are not in
// the store are fetched through the resolver and admitted.
type Renderer struct {
	store    *Store
	resolver PostResolver
	logger   *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(store *Store, resolver PostResolver, logger *slog.Logger) *Renderer {
	return &Renderer{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// Render returns the display lines of post: the reply parent (when it had
// to be fetched), then the post body with links and embeds, wrapped in a
// repost header when the post was reposted.
func (r *Renderer) Render(ctx context.Context, post *Post) []string {
	var lines []string

	replyInContext := false
	if reply := post.Record.Reply; reply != nil {
		if reply.Parent.Resolved() && r.store.Seen(reply.Parent.CID) {
			replyInContext = true
		} else {
			lines = append(lines, r.renderParent(ctx, reply.Parent.URI)...)
		}
	}

	r.logger.Debug("rendering post", "uri", post.URI, "post", post)

	body := FlattenText(post.Record.Text)
	body = append(body, linkLines(post, body)...)
	body = append(body, RenderEmbed(post.Embed, post.URI)...)

	switch {
	case post.Reason != nil:
		by := post.Reason.By
		lines = append(lines, fmt.Sprintf("↻ %s (@%s):", by.Name(), by.Handle))
		lines = append(lines, indent(body)...)
	default:
		if replyInContext && len(body) > 0 {
			body[0] = "↪ " + body[0]
		}
		lines = append(lines, body...)
	}

	return lines
}

func (r *Renderer) renderParent(ctx context.Context, uri string) []string {
	if uri == "" {
		return nil
	}
	parent, ok := r.resolver.Resolve(ctx, uri)
	if !ok {
		return nil
	}
	if _, err := r.store.Admit(parent); err != nil {
		r.logger.Warn("failed to admit reply parent", "uri", uri, "error", err)
	}

	lines := []string{fmt.Sprintf("↩ %s (@%s):", parent.Author.Name(), parent.Author.Handle)}
	return append(lines, indent(FlattenText(parent.Record.Text))...)
}

// FlattenText splits text on any line break, trims every line and drops the
// blank ones.
func FlattenText(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for _, line := range lineBreak.Split(text, -1) {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// RenderEmbed renders an embed view. uri is the AT-URI of the post that
// carries the embed; video links are built from its DID.
func RenderEmbed(e Embed, uri string) []string {
	switch e := e.(type) {
	case *Images:
		lines := make([]string, 0, len(e.Images))
		for _, img := range e.Images {
			lines = append(lines, fmt.Sprintf("📷 %s%s ", imageAlt(img.Alt), img.URL()))
		}
		return lines

	case *QuotedPost:
		if e.Record == nil {
			return nil
		}
		quoted := FlattenText(e.Record.Text)
		quoted = append(quoted, RenderEmbed(e.Embed, e.URI)...)
		lines := []string{fmt.Sprintf("💬 %s (@%s):", e.Author.Name(), e.Author.Handle)}
		return append(lines, indent(quoted)...)

	case *Video:
		did := plcDID.FindString(uri)
		if did == "" || e.CID == "" {
			return nil
		}
		return []string{fmt.Sprintf("🎥 %s%s/%s/%s", altText(e.Alt), videoViewerBase, did, e.CID)}

	default:
		return nil
	}
}

// linkLines collects link facets and the external card URI, in that order,
// and returns one line per link that does not already appear in lines.
func linkLines(post *Post, lines []string) []string {
	var links []string
	seen := make(map[string]struct{})
	add := func(uri string) {
		if uri == "" {
			return
		}
		if _, ok := seen[uri]; ok {
			return
		}
		seen[uri] = struct{}{}
		links = append(links, uri)
	}

	for _, facet := range post.Record.Facets {
		for _, feature := range facet.Features {
			if feature.Kind == FeatureLink {
				add(feature.URI)
			}
		}
	}
	if ext, ok := post.Embed.(*External); ok {
		add(ext.URI)
	}

	var out []string
	for _, link := range links {
		if !containsAny(lines, link) {
			out = append(out, "🔗 "+link)
		}
	}
	return out
}

// altText collapses line breaks, trims, and appends a separating space.
// Empty alt text yields "".
func altText(alt string) string {
	alt = strings.TrimSpace(lineBreak.ReplaceAllString(alt, " "))
	if alt == "" {
		return ""
	}
	return alt + " "
}

func imageAlt(alt string) string {
	alt = altText(alt)
	if r := []rune(alt); len(r) > maxAltLen {
		return string(r[:truncatedAltLen]) + "..."
	}
	return alt
}

func indent(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = quoteIndent + line
	}
	return out
}

func containsAny(lines []string, s string) bool {
	for _, line := range lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}
