package domain

import (
	"regexp"
	"strings"
)

const (
	maxNickLen   = 16
	fallbackNick = "_nohandle"
)

var (
	handleSuffix  = regexp.MustCompile(`\.bsky\.social$`)
	nickForbidden = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Author identifies the account that wrote or reposted a post.
type Author struct {
	// DID is the durable account identifier (e.g. did:plc:abc123).
	DID string

	// Handle is the mutable human-readable name (e.g. alice.bsky.social).
	Handle string

	// DisplayName is optional and may be empty.
	DisplayName string

	// Nick is a short identifier-safe token derived from DisplayName or Handle.
	Nick string
}

// NewAuthor builds an Author and computes its Nick once.
func NewAuthor(did, handle, displayName string) Author {
	source := displayName
	if source == "" {
		source = handle
	}
	return Author{
		DID:         did,
		Handle:      handle,
		DisplayName: displayName,
		Nick:        Sanitize(source),
	}
}

// Name returns the display name, or the handle when no display name is set.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Handle
}

// Sanitize turns a display name or handle into a token of at most 16
// characters drawn from [A-Za-z0-9_] that never starts with a digit.
func Sanitize(field string) string {
	field = handleSuffix.ReplaceAllString(field, "")
	field = strings.NewReplacer(".", "_", " ", "_").Replace(field)

	base := nickForbidden.ReplaceAllString(field, "")
	base = strings.TrimRight(base, "_")
	if base == "" {
		base = fallbackNick
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "_" + base
	}
	if len(base) > maxNickLen {
		base = base[:maxNickLen]
	}
	return base
}
