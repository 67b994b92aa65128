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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/rotarr/internal/version"
)

// Kick endpoint defaults. Overridable for tests.
const (
	DefaultKickAuthURL = "https://id.kick.com/oauth/token"
	DefaultKickAPIURL  = "https://api.kick.com/public/v1"
)

// KickOptions configures a Kick adapter.
type KickOptions struct {
	// ClientID and ClientSecret identify the registered application used
	// for the refresh-token grant.
	ClientID     string
	ClientSecret string

	// Channel is the slug of the managed channel.
	Channel string

	// TargetStreamer is the channel slug polled for liveness. Empty
	// disables live checks on this adapter.
	TargetStreamer string

	// TokenFile is the JSON token cache produced by the one-time
	// authorization tool. The adapter refreshes it in place.
	TokenFile string

	// AuthURL and APIURL default to the public Kick endpoints.
	AuthURL string
	APIURL  string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// kickToken is the on-disk token cache document.
type kickToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Kick updates stream information through the Kick public API using an
// OAuth refresh token cached on disk.
type Kick struct {
	opts   KickOptions
	client *http.Client
	log    *slog.Logger

	mu    sync.Mutex
	token kickToken
}

// NewKick creates a Kick adapter.
func NewKick(opts KickOptions) *Kick {
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultKickAuthURL
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultKickAPIURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &Kick{opts: opts, client: client, log: opts.Logger}
}

// Name implements Adapter.
func (k *Kick) Name() string { return "kick" }

// kickChannelPatch is the PATCH /channels payload. Zero values are
// omitted so title-only and category-only updates stay minimal.
type kickChannelPatch struct {
	StreamTitle string `json:"stream_title,omitempty"`
	CategoryID  int64  `json:"category_id,omitempty"`
}

// UpdateTitle implements Adapter.
func (k *Kick) UpdateTitle(ctx context.Context, title string) error {
	return k.patchChannel(ctx, kickChannelPatch{StreamTitle: title})
}

// UpdateCategory implements Adapter.
func (k *Kick) UpdateCategory(ctx context.Context, category string) error {
	id, err := k.searchCategory(ctx, category)
	if err != nil {
		return err
	}
	return k.patchChannel(ctx, kickChannelPatch{CategoryID: id})
}

// UpdateStreamInfo implements Adapter. An unresolvable category degrades
// to a title-only update.
func (k *Kick) UpdateStreamInfo(ctx context.Context, title, category string) error {
	patch := kickChannelPatch{StreamTitle: title}

	if category != "" {
		id, err := k.searchCategory(ctx, category)
		if err != nil {
			k.log.Warn("kick category not resolved, updating title only",
				slog.String("category", category),
				slog.String("error", err.Error()),
			)
		} else {
			patch.CategoryID = id
		}
	}

	return k.patchChannel(ctx, patch)
}

// IsLive implements LiveChecker against the configured target streamer.
func (k *Kick) IsLive(ctx context.Context) (bool, error) {
	if k.opts.TargetStreamer == "" {
		return false, nil
	}

	reqURL := fmt.Sprintf("%s/channels?slug=%s", k.opts.APIURL, url.QueryEscape(k.opts.TargetStreamer))
	var out struct {
		Data []struct {
			Slug   string `json:"slug"`
			Stream struct {
				IsLive bool `json:"is_live"`
			} `json:"stream"`
		} `json:"data"`
	}
	if err := k.doJSON(ctx, http.MethodGet, reqURL, nil, &out); err != nil {
		return false, fmt.Errorf("checking channel status: %w", err)
	}
	if len(out.Data) == 0 {
		return false, fmt.Errorf("channel %q not found", k.opts.TargetStreamer)
	}

	return out.Data[0].Stream.IsLive, nil
}

// searchCategory resolves a category name to its numeric id. A
// case-insensitive exact match wins; otherwise the first search result is
// used.
func (k *Kick) searchCategory(ctx context.Context, name string) (int64, error) {
	reqURL := fmt.Sprintf("%s/categories?q=%s", k.opts.APIURL, url.QueryEscape(name))
	var out struct {
		Data []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := k.doJSON(ctx, http.MethodGet, reqURL, nil, &out); err != nil {
		return 0, fmt.Errorf("searching category %q: %w", name, err)
	}
	if len(out.Data) == 0 {
		return 0, fmt.Errorf("category %q not found", name)
	}

	for _, c := range out.Data {
		if strings.EqualFold(c.Name, name) {
			return c.ID, nil
		}
	}
	return out.Data[0].ID, nil
}

// patchChannel applies the given fields to the managed channel.
func (k *Kick) patchChannel(ctx context.Context, patch kickChannelPatch) error {
	if err := k.doJSON(ctx, http.MethodPatch, k.opts.APIURL+"/channels", patch, nil); err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// accessToken returns a valid access token, refreshing and persisting the
// on-disk cache when the stored token is missing or near expiry.
func (k *Kick) accessToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.token.AccessToken == "" {
		if err := k.loadTokenLocked(); err != nil {
			return "", err
		}
	}

	if time.Now().Before(k.token.ExpiresAt.Add(-tokenExpiryMargin)) {
		return k.token.AccessToken, nil
	}

	return k.refreshTokenLocked(ctx)
}

// loadTokenLocked reads the token cache file. Callers hold k.mu.
func (k *Kick) loadTokenLocked() error {
	data, err := os.ReadFile(k.opts.TokenFile)
	if err != nil {
		return fmt.Errorf("reading token file (authorize the application first): %w", err)
	}
	if err := json.Unmarshal(data, &k.token); err != nil {
		return fmt.Errorf("parsing token file %s: %w", k.opts.TokenFile, err)
	}
	if k.token.RefreshToken == "" {
		return fmt.Errorf("token file %s contains no refresh token", k.opts.TokenFile)
	}
	return nil
}

// refreshTokenLocked exchanges the refresh token for a new pair and writes
// the cache back atomically. Callers hold k.mu.
func (k *Kick) refreshTokenLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {k.token.RefreshToken},
		"client_id":     {k.opts.ClientID},
		"client_secret": {k.opts.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.opts.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("refresh response contained no access token")
	}

	k.token.AccessToken = tok.AccessToken
	// Kick rotates refresh tokens; keep the old one only if none came back.
	if tok.RefreshToken != "" {
		k.token.RefreshToken = tok.RefreshToken
	}
	k.token.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	if err := k.persistTokenLocked(); err != nil {
		// The refreshed token still works in memory; losing the cache only
		// hurts after a restart.
		k.log.Warn("persisting kick token cache failed",
			slog.String("file", k.opts.TokenFile),
			slog.String("error", err.Error()),
		)
	}

	k.log.Debug("kick token refreshed", slog.Time("expires", k.token.ExpiresAt))
	return k.token.AccessToken, nil
}

// persistTokenLocked writes the token cache atomically. Callers hold k.mu.
func (k *Kick) persistTokenLocked() error {
	data, err := json.MarshalIndent(k.token, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token cache: %w", err)
	}
	if err := renameio.WriteFile(k.opts.TokenFile, data, 0o600); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}
	return nil
}

// doJSON performs one authenticated API request. Any 2xx status is
// success, matching the 204-with-empty-body contract.
func (k *Kick) doJSON(ctx context.Context, method, reqURL string, body any, target any) error {
	token, err := k.accessToken(ctx)
	if err != nil {
		return err
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

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
