package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blackmichael/bluesky-timeline/internal/domain"
)

const (
	defaultPDS = "https://bsky.social"

	// maxGetPosts is the largest batch app.bsky.feed.getPosts accepts.
	maxGetPosts = 25
)

// ErrExpiredToken is matched by an *APIError whose error name is
// ExpiredToken.
var ErrExpiredToken = errors.New("expired token")

// APIError is a non-2xx XRPC response.
type APIError struct {
	Status  int
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s: %s", e.Status, e.Name, e.Message)
}

// Is reports ExpiredToken responses as ErrExpiredToken.
func (e *APIError) Is(target error) bool {
	return target == ErrExpiredToken && e.Name == "ExpiredToken"
}

// Client is a minimal BlueSky/AT Protocol API client for reading the home
// timeline. It implements domain.FeedClient.
type Client struct {
	pds        string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// populated after Login
	mu         sync.RWMutex
	accessJwt  string
	refreshJwt string
	did        string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests at rps per second. A non-positive
// rps disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for session refresh events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new BlueSky API client. If pds is empty, it defaults to
// https://bsky.social.
func NewClient(pds string, opts ...Option) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	c := &Client{
		pds: pds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates with the PDS, stores the session tokens and fetches
// the account profile. Use an App Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) (*domain.Profile, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "com.atproto.server.createSession", nil, body, "", &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.setSession(resp)

	var profile profileViewBasic
	query := url.Values{"actor": {resp.DID}}
	if err := c.call(ctx, http.MethodGet, "app.bsky.actor.getProfile", query, nil, &profile); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	return &domain.Profile{
		DID:         profile.DID,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
	}, nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.did
}

// GetTimeline fetches one page of the authenticated user's home timeline.
func (c *Client) GetTimeline(ctx context.Context, limit int, cursor string) (*domain.TimelinePage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp timelineResponse
	if err := c.call(ctx, http.MethodGet, "app.bsky.feed.getTimeline", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}

	page, err := toTimelinePage(resp)
	if err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	return page, nil
}

// GetPosts hydrates posts by AT-URI, in batches of 25. Posts the service
// cannot find are omitted.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]*domain.Post, error) {
	var posts []*domain.Post
	for start := 0; start < len(uris); start += maxGetPosts {
		end := min(start+maxGetPosts, len(uris))

		var resp postsResponse
		query := url.Values{"uris": uris[start:end]}
		if err := c.call(ctx, http.MethodGet, "app.bsky.feed.getPosts", query, nil, &resp); err != nil {
			return nil, fmt.Errorf("get posts: %w", err)
		}

		for _, pv := range resp.Posts {
			p, err := toPost(pv)
			if err != nil {
				return nil, fmt.Errorf("decode post %s: %w", pv.URI, err)
			}
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// call performs an authenticated request. An ExpiredToken response triggers
// one session refresh and one retry.
func (c *Client) call(ctx context.Context, method, nsid string, query url.Values, body any, result any) error {
	c.mu.RLock()
	token := c.accessJwt
	c.mu.RUnlock()
	if token == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}

	err := c.do(ctx, method, nsid, query, body, token, result)
	if !errors.Is(err, ErrExpiredToken) {
		return err
	}

	c.logger.Info("access token expired, refreshing session")
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	c.mu.RLock()
	token = c.accessJwt
	c.mu.RUnlock()
	return c.do(ctx, method, nsid, query, body, token, result)
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.RLock()
	refreshJwt := c.refreshJwt
	c.mu.RUnlock()
	if refreshJwt == "" {
		return errors.New("no refresh token")
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, refreshJwt, &resp); err != nil {
		return err
	}
	c.setSession(resp)
	return nil
}

func (c *Client) setSession(resp sessionResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessJwt = resp.AccessJwt
	c.refreshJwt = resp.RefreshJwt
	c.did = resp.DID
}

func (c *Client) do(ctx context.Context, method, nsid string, query url.Values, body any, token string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	endpoint := c.pds + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Name == "" && apiErr.Message == "") {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
