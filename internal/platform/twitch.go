package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/rotarr/internal/version"
)

// Twitch endpoint defaults. Overridable for tests.
const (
	DefaultTwitchAuthURL = "https://id.twitch.tv/oauth2/token"
	DefaultTwitchAPIURL  = "https://api.twitch.tv/helix"

	// tokenExpiryMargin refreshes app tokens slightly before Twitch would
	// reject them.
	tokenExpiryMargin = 60 * time.Second

	defaultCategoryCacheTTL = 24 * time.Hour

	maxErrorBodyReadSize = 1024
)

// TwitchOptions configures a Twitch adapter.
type TwitchOptions struct {
	// ClientID and ClientSecret identify the registered application used
	// for the client-credentials grant.
	ClientID     string
	ClientSecret string

	// Broadcaster is the login of the channel whose title/category is
	// managed.
	Broadcaster string

	// TargetStreamer is the login polled for liveness. Empty disables
	// live checks on this adapter.
	TargetStreamer string

	// AuthURL and APIURL default to the public Twitch endpoints.
	AuthURL string
	APIURL  string

	// HTTPClient is the client used for all requests. If nil a default
	// client with the package request timeout is used.
	HTTPClient *http.Client

	// CategoryCacheTTL bounds how long resolved game ids are reused.
	CategoryCacheTTL time.Duration

	Logger *slog.Logger
}

// Twitch updates stream information through the Helix API using an
// app-access token obtained via the client-credentials grant.
type Twitch struct {
	opts   TwitchOptions
	client *http.Client
	log    *slog.Logger

	mu            sync.Mutex
	token         string
	tokenExpiry   time.Time
	broadcasterID string
	categories    map[string]categoryEntry
}

type categoryEntry struct {
	id      string
	expires time.Time
}

// NewTwitch creates a Twitch adapter.
func NewTwitch(opts TwitchOptions) *Twitch {
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultTwitchAuthURL
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultTwitchAPIURL
	}
	if opts.CategoryCacheTTL <= 0 {
		opts.CategoryCacheTTL = defaultCategoryCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &Twitch{
		opts:       opts,
		client:     client,
		log:        opts.Logger,
		categories: make(map[string]categoryEntry),
	}
}

// Name implements Adapter.
func (t *Twitch) Name() string { return "twitch" }

// UpdateTitle implements Adapter.
func (t *Twitch) UpdateTitle(ctx context.Context, title string) error {
	return t.patchChannel(ctx, map[string]string{"title": title})
}

// UpdateCategory implements Adapter.
func (t *Twitch) UpdateCategory(ctx context.Context, category string) error {
	gameID, err := t.resolveCategory(ctx, category)
	if err != nil {
		return err
	}
	return t.patchChannel(ctx, map[string]string{"game_id": gameID})
}

// UpdateStreamInfo implements Adapter. Title and category go out in one
// PATCH; an unresolvable category degrades to a title-only update.
func (t *Twitch) UpdateStreamInfo(ctx context.Context, title, category string) error {
	body := map[string]string{"title": title}

	if category != "" {
		gameID, err := t.resolveCategory(ctx, category)
		if err != nil {
			t.log.Warn("twitch category not resolved, updating title only",
				slog.String("category", category),
				slog.String("error", err.Error()),
			)
		} else {
			body["game_id"] = gameID
		}
	}

	return t.patchChannel(ctx, body)
}

// IsLive implements LiveChecker against the configured target streamer.
func (t *Twitch) IsLive(ctx context.Context) (bool, error) {
	if t.opts.TargetStreamer == "" {
		return false, nil
	}

	token, err := t.appToken(ctx)
	if err != nil {
		return false, err
	}

	reqURL := fmt.Sprintf("%s/streams?user_login=%s", t.opts.APIURL, url.QueryEscape(t.opts.TargetStreamer))
	var out struct {
		Data []struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := t.doJSON(ctx, http.MethodGet, reqURL, token, nil, &out); err != nil {
		return false, fmt.Errorf("checking stream status: %w", err)
	}

	return len(out.Data) > 0, nil
}

// appToken returns a cached app-access token, fetching a fresh one via the
// client-credentials grant when the cached token is missing or near expiry.
func (t *Twitch) appToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.tokenExpiry) {
		return t.token, nil
	}

	form := url.Values{
		"client_id":     {t.opts.ClientID},
		"client_secret": {t.opts.ClientSecret},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	t.token = tok.AccessToken
	t.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryMargin)
	t.log.Debug("twitch app token refreshed",
		slog.Time("expires", t.tokenExpiry),
	)

	return t.token, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (t *Twitch) invalidateToken() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}

// broadcasterUserID resolves and caches the numeric id of the managed
// channel.
func (t *Twitch) broadcasterUserID(ctx context.Context) (string, error) {
	t.mu.Lock()
	cached := t.broadcasterID
	t.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	token, err := t.appToken(ctx)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/users?login=%s", t.opts.APIURL, url.QueryEscape(t.opts.Broadcaster))
	var out struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := t.doJSON(ctx, http.MethodGet, reqURL, token, nil, &out); err != nil {
		return "", fmt.Errorf("looking up broadcaster %q: %w", t.opts.Broadcaster, err)
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("broadcaster %q not found", t.opts.Broadcaster)
	}

	t.mu.Lock()
	t.broadcasterID = out.Data[0].ID
	t.mu.Unlock()

	return out.Data[0].ID, nil
}

// resolveCategory maps a human category name to a Twitch game id, caching
// hits for the configured TTL.
func (t *Twitch) resolveCategory(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(name)

	t.mu.Lock()
	if entry, ok := t.categories[key]; ok && time.Now().Before(entry.expires) {
		t.mu.Unlock()
		return entry.id, nil
	}
	t.mu.Unlock()

	token, err := t.appToken(ctx)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/games?name=%s", t.opts.APIURL, url.QueryEscape(name))
	var out struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := t.doJSON(ctx, http.MethodGet, reqURL, token, nil, &out); err != nil {
		return "", fmt.Errorf("resolving category %q: %w", name, err)
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("category %q not found", name)
	}

	t.mu.Lock()
	t.categories[key] = categoryEntry{
		id:      out.Data[0].ID,
		expires: time.Now().Add(t.opts.CategoryCacheTTL),
	}
	t.mu.Unlock()

	return out.Data[0].ID, nil
}

// patchChannel applies the given channel fields via PATCH /channels.
func (t *Twitch) patchChannel(ctx context.Context, fields map[string]string) error {
	token, err := t.appToken(ctx)
	if err != nil {
		return err
	}

	broadcasterID, err := t.broadcasterUserID(ctx)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s/channels?broadcaster_id=%s", t.opts.APIURL, url.QueryEscape(broadcasterID))
	if err := t.doJSON(ctx, http.MethodPatch, reqURL, token, fields, nil); err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// doJSON performs one authenticated Helix request. A nil body sends no
// payload; a nil target discards the response body. Any 2xx status is
// success, matching the 204-with-empty-body contract.
func (t *Twitch) doJSON(ctx context.Context, method, reqURL, token string, body any, target any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Client-Id", t.opts.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		t.invalidateToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
