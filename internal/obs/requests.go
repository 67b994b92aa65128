package obs

import (
	"context"
	"fmt"
)

// Media input action identifiers accepted by TriggerMediaInputAction.
const (
	MediaActionNext    = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_NEXT"
	MediaActionRestart = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_RESTART"
)

// MediaStatePlaying is the mediaState value reported while a file plays.
const MediaStatePlaying = "OBS_MEDIA_STATE_PLAYING"

// MediaStatus is the playback state of the configured media input.
type MediaStatus struct {
	State      string `json:"mediaState"`
	CursorMS   int64  `json:"mediaCursor"`
	DurationMS int64  `json:"mediaDuration"`
}

// IsPlaying reports whether a file is actively playing.
func (s MediaStatus) IsPlaying() bool {
	return s.State == MediaStatePlaying
}

// Stats carries the render counters used by the freeze monitor.
type Stats struct {
	RenderTotalFrames int64   `json:"renderTotalFrames"`
	ActiveFPS         float64 `json:"activeFps"`
}

// StreamStatus is the broadcast output state.
type StreamStatus struct {
	Active   bool   `json:"outputActive"`
	Timecode string `json:"outputTimecode"`
}

// playlistItem is one entry of the VLC source playlist setting.
type playlistItem struct {
	Hidden   bool   `json:"hidden"`
	Selected bool   `json:"selected"`
	Value    string `json:"value"`
}

// CurrentProgramScene fetches the active scene and refreshes the cache.
func (c *Client) CurrentProgramScene(ctx context.Context) (string, error) {
	var out struct {
		SceneName string `json:"currentProgramSceneName"`
	}
	if err := c.request(ctx, "GetCurrentProgramScene", nil, &out); err != nil {
		return "", err
	}
	c.setCachedScene(out.SceneName)
	return out.SceneName, nil
}

// SetScene switches the program scene.
func (c *Client) SetScene(ctx context.Context, name string) error {
	payload := map[string]any{"sceneName": name}
	if err := c.request(ctx, "SetCurrentProgramScene", payload, nil); err != nil {
		return err
	}
	c.setCachedScene(name)
	return nil
}

// SceneList returns the names of every scene in the active collection.
func (c *Client) SceneList(ctx context.Context) ([]string, error) {
	var out struct {
		Scenes []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := c.request(ctx, "GetSceneList", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Scenes))
	for _, s := range out.Scenes {
		names = append(names, s.SceneName)
	}
	return names, nil
}

// ConfigureMediaInput replaces the media input's playlist and loop/shuffle
// flags. Paths must be absolute.
func (c *Client) ConfigureMediaInput(ctx context.Context, paths []string, loop, shuffle bool) error {
	items := make([]playlistItem, 0, len(paths))
	for _, p := range paths {
		items = append(items, playlistItem{Value: p})
	}
	payload := map[string]any{
		"inputName": c.cfg.VLCSourceName,
		"inputSettings": map[string]any{
			"loop":     loop,
			"shuffle":  shuffle,
			"playlist": items,
		},
		"overlay": true,
	}
	return c.request(ctx, "SetInputSettings", payload, nil)
}

// ClearMediaInput empties the media input's playlist, stopping playback.
func (c *Client) ClearMediaInput(ctx context.Context) error {
	return c.ConfigureMediaInput(ctx, nil, false, false)
}

// TriggerMediaAction sends a media control action to the media input.
func (c *Client) TriggerMediaAction(ctx context.Context, action string) error {
	payload := map[string]any{
		"inputName":   c.cfg.VLCSourceName,
		"mediaAction": action,
	}
	return c.request(ctx, "TriggerMediaInputAction", payload, nil)
}

// SkipMedia advances the media input to the next playlist item.
func (c *Client) SkipMedia(ctx context.Context) error {
	return c.TriggerMediaAction(ctx, MediaActionNext)
}

// SetMediaCursor seeks the current file to the given position.
func (c *Client) SetMediaCursor(ctx context.Context, cursorMS int64) error {
	payload := map[string]any{
		"inputName":   c.cfg.VLCSourceName,
		"mediaCursor": cursorMS,
	}
	return c.request(ctx, "SetMediaInputCursor", payload, nil)
}

// MediaStatus reads the media input's playback state and cursor.
func (c *Client) MediaStatus(ctx context.Context) (MediaStatus, error) {
	payload := map[string]any{"inputName": c.cfg.VLCSourceName}
	var out MediaStatus
	if err := c.request(ctx, "GetMediaInputStatus", payload, &out); err != nil {
		return MediaStatus{}, err
	}
	return out, nil
}

// Stats reads the compositor's render counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	if err := c.request(ctx, "GetStats", nil, &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// StreamStatus reads the broadcast output state.
func (c *Client) StreamStatus(ctx context.Context) (StreamStatus, error) {
	var out StreamStatus
	if err := c.request(ctx, "GetStreamStatus", nil, &out); err != nil {
		return StreamStatus{}, err
	}
	return out, nil
}

// StartStream starts the broadcast output.
func (c *Client) StartStream(ctx context.Context) error {
	return c.request(ctx, "StartStream", nil, nil)
}

// SetSourceVisible toggles a scene item's visibility, resolving the item id
// by source name first.
func (c *Client) SetSourceVisible(ctx context.Context, scene, source string, visible bool) error {
	var idOut struct {
		SceneItemID int `json:"sceneItemId"`
	}
	idPayload := map[string]any{
		"sceneName":  scene,
		"sourceName": source,
	}
	if err := c.request(ctx, "GetSceneItemId", idPayload, &idOut); err != nil {
		return fmt.Errorf("resolving scene item %q in %q: %w", source, scene, err)
	}
	payload := map[string]any{
		"sceneName":        scene,
		"sceneItemId":      idOut.SceneItemID,
		"sceneItemEnabled": visible,
	}
	return c.request(ctx, "SetSceneItemEnabled", payload, nil)
}
