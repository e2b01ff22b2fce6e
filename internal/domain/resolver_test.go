package domain

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Found(t *testing.T) {
	client := newFakeClient()
	p := newPost("x", 0)
	client.posts[p.URI] = p
	rec := &countingRecorder{}

	got, ok := NewResolver(client, 0, discardLogger(), rec).Resolve(context.Background(), p.URI)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, [][]string{{p.URI}}, client.getPostsCalls)
	assert.Equal(t, []bool{true}, rec.resolves)
}

func TestResolver_NotFound(t *testing.T) {
	client := newFakeClient()
	rec := &countingRecorder{}

	got, ok := NewResolver(client, 0, discardLogger(), rec).Resolve(context.Background(), "at://did:plc:x/app.bsky.feed.post/none")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, []bool{false}, rec.resolves)
}

func TestResolver_TransportErrorIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	client := newFakeClient()
	client.getPostsErr = errors.New("dial tcp: no route to host")

	got, ok := NewResolver(client, 0, newTestLogger(&buf), nil).Resolve(context.Background(), "at://did:plc:x/app.bsky.feed.post/y")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Contains(t, buf.String(), "no route to host")
}
