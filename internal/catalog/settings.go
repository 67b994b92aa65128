package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// settingUpdaters is the allow-list of owner-tunable setting keys. Anything
// outside this map is rejected, so a typo in a dashboard command can't grow
// the document.
var settingUpdaters = map[string]func(*Settings, any) error{
	"rotation_hours": func(s *Settings, v any) error {
		f, err := asFloat(v)
		if err != nil {
			return err
		}
		s.RotationHours = f
		return nil
	},
	"video_folder": func(s *Settings, v any) error {
		str, err := asString(v)
		if err != nil {
			return err
		}
		s.VideoFolder = str
		return nil
	},
	"next_rotation_folder": func(s *Settings, v any) error {
		str, err := asString(v)
		if err != nil {
			return err
		}
		s.NextRotationFolder = str
		return nil
	},
	"min_playlists_per_rotation": func(s *Settings, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		s.MinPlaylistsPerRotation = n
		return nil
	},
	"max_playlists_per_rotation": func(s *Settings, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		s.MaxPlaylistsPerRotation = n
		return nil
	},
	"download_retry_attempts": func(s *Settings, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("download_retry_attempts must not be negative")
		}
		s.DownloadRetryAttempts = n
		return nil
	},
	"stream_title_template": func(s *Settings, v any) error {
		str, err := asString(v)
		if err != nil {
			return err
		}
		s.StreamTitleTemplate = str
		return nil
	},
	"ignore_streamer": func(s *Settings, v any) error {
		b, err := asBool(v)
		if err != nil {
			return err
		}
		s.IgnoreStreamer = b
		return nil
	},
	"notify_video_transitions": func(s *Settings, v any) error {
		b, err := asBool(v)
		if err != nil {
			return err
		}
		s.NotifyVideoTransitions = b
		return nil
	},
	"live_check_interval_seconds": func(s *Settings, v any) error {
		n, err := asInt(v)
		if err != nil {
			return err
		}
		s.LiveCheckIntervalSeconds = n
		return nil
	},
	"yt_dlp_use_cookies": func(s *Settings, v any) error {
		b, err := asBool(v)
		if err != nil {
			return err
		}
		s.YtDlpUseCookies = b
		return nil
	},
	"yt_dlp_browser_for_cookies": func(s *Settings, v any) error {
		str, err := asString(v)
		if err != nil {
			return err
		}
		s.YtDlpBrowserForCookies = str
		return nil
	},
	"yt_dlp_verbose": func(s *Settings, v any) error {
		b, err := asBool(v)
		if err != nil {
			return err
		}
		s.YtDlpVerbose = b
		return nil
	},
}

// SettingKeys returns the sorted allow-list of updatable setting keys.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingUpdaters))
	for k := range settingUpdaters {
		keys = append(keys, k)
	}
	return keys
}

// UpdateSetting applies one allow-listed setting change, validates the
// resulting settings, and persists the document. The updated settings take
// effect on the next orchestrator tick.
func (p *Provider) UpdateSetting(key string, value any) error {
	update, ok := settingUpdaters[strings.TrimSpace(key)]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.doc.Settings
	if err := update(&next, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}

	p.doc.Settings = next
	return p.saveLocked()
}

// Dashboard commands arrive as decoded JSON, so values show up as float64,
// bool, or string. The coercers also accept strings for everything because
// that is what HTML form inputs produce.

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func asInt(v any) (int, error) {
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, fmt.Errorf("not a boolean: %q", x)
		}
		return b, nil
	default:
		return false, fmt.Errorf("not a boolean: %v", v)
	}
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a string: %v", v)
	}
	return strings.TrimSpace(s), nil
}
