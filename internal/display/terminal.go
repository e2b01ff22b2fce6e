// Package display writes rendered posts to a terminal.
package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

const (
	nickWidth = 16
	separator = " │ "
)

const (
	colorNick      = "#00AFFF"
	colorSeparator = "#5F5F5F"
	colorMarker    = "#AF87FF"
)

// markers are the line prefixes that get the accent color.
var markers = []string{"↩ ", "↻ ", "↪ ", "💬 ", "📷 ", "🎥 ", "🔗 "}

// Terminal is a domain.Sink that prints each post as a nick column followed
// by its lines. Colors are dropped when w is not a terminal.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer

	nickStyle      lipgloss.Style
	separatorStyle lipgloss.Style
	markerStyle    lipgloss.Style
}

// NewTerminal creates a Terminal writing to w.
func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		w: w,
		nickStyle: r.NewStyle().
			Foreground(lipgloss.Color(colorNick)).
			Bold(true),
		separatorStyle: r.NewStyle().
			Foreground(lipgloss.Color(colorSeparator)),
		markerStyle: r.NewStyle().
			Foreground(lipgloss.Color(colorMarker)),
	}
}

// Publish writes the post. The nick is shown on the first line only.
func (t *Terminal) Publish(_ context.Context, post domain.RenderedPost) error {
	if len(post.Lines) == 0 {
		return nil
	}

	var b strings.Builder
	blank := strings.Repeat(" ", nickWidth)
	for i, line := range post.Lines {
		nick := blank
		if i == 0 {
			nick = t.nickStyle.Render(PadNick(post.Sender.Nick))
		}
		b.WriteString(nick)
		b.WriteString(t.separatorStyle.Render(separator))
		b.WriteString(t.styleLine(line))
		b.WriteByte('\n')
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		return fmt.Errorf("write post %s: %w", post.Post.URI, err)
	}
	return nil
}

func (t *Terminal) styleLine(line string) string {
	rest := strings.TrimPrefix(line, " | ")
	quoted := rest != line
	for _, m := range markers {
		if strings.HasPrefix(rest, m) {
			rest = t.markerStyle.Render(m) + rest[len(m):]
			break
		}
	}
	if quoted {
		return " | " + rest
	}
	return rest
}

// PadNick truncates or pads nick to exactly 16 display cells.
func PadNick(nick string) string {
	return runewidth.FillRight(runewidth.Truncate(nick, nickWidth, ""), nickWidth)
}

// MultiSink fans a post out to several sinks. Every sink is tried; the
// errors are joined.
type MultiSink []domain.Sink

func (m MultiSink) Publish(ctx context.Context, post domain.RenderedPost) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, post); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
