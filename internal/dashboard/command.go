package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Command names accepted over the dashboard wire. The orchestrator executes
// them between ticks; the dashboard only validates shape and queues.
const (
	CmdSkipVideo              = "skip_video"
	CmdTriggerRotation        = "trigger_rotation"
	CmdPauseStream            = "pause_stream"
	CmdResumeStream           = "resume_stream"
	CmdUpdateSetting          = "update_setting"
	CmdAddPlaylist            = "add_playlist"
	CmdUpdatePlaylist         = "update_playlist"
	CmdRemovePlaylist         = "remove_playlist"
	CmdRenamePlaylist         = "rename_playlist"
	CmdTogglePlaylist         = "toggle_playlist"
	CmdCreatePrepared         = "create_prepared"
	CmdDownloadPrepared       = "download_prepared"
	CmdExecutePrepared        = "execute_prepared"
	CmdDeletePrepared         = "delete_prepared"
	CmdSchedulePrepared       = "schedule_prepared"
	CmdCancelPreparedSchedule = "cancel_prepared_schedule"
	CmdClearCompletedPrepared = "clear_completed_prepared"
	CmdReloadEnv              = "reload_env"
	CmdUpdateEnv              = "update_env"
)

var knownCommands = map[string]bool{
	CmdSkipVideo:              true,
	CmdTriggerRotation:        true,
	CmdPauseStream:            true,
	CmdResumeStream:           true,
	CmdUpdateSetting:          true,
	CmdAddPlaylist:            true,
	CmdUpdatePlaylist:         true,
	CmdRemovePlaylist:         true,
	CmdRenamePlaylist:         true,
	CmdTogglePlaylist:         true,
	CmdCreatePrepared:         true,
	CmdDownloadPrepared:       true,
	CmdExecutePrepared:        true,
	CmdDeletePrepared:         true,
	CmdSchedulePrepared:       true,
	CmdCancelPreparedSchedule: true,
	CmdClearCompletedPrepared: true,
	CmdReloadEnv:              true,
	CmdUpdateEnv:              true,
}

// KnownCommand reports whether the name is an accepted command.
func KnownCommand(name string) bool {
	return knownCommands[name]
}

// Command is one dashboard instruction. On the wire it is a JSON object with
// a "command" field naming the action; every other field becomes an argument.
type Command struct {
	Name string
	Args map[string]any
}

// UnmarshalJSON decodes the wire shape, splitting the command name from its
// arguments.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name, _ := raw["command"].(string)
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("command field is required")
	}
	delete(raw, "command")

	c.Name = name
	c.Args = raw
	return nil
}

// MarshalJSON restores the wire shape.
func (c Command) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Args)+1)
	for k, v := range c.Args {
		out[k] = v
	}
	out["command"] = c.Name
	return json.Marshal(out)
}

// String returns the named argument as a trimmed string. Missing or
// non-string arguments return "".
func (c Command) String(key string) string {
	s, _ := c.Args[key].(string)
	return strings.TrimSpace(s)
}

// Bool returns the named argument as a boolean. JSON booleans and the
// strings "true"/"false" are accepted.
func (c Command) Bool(key string) bool {
	switch v := c.Args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// Int returns the named argument as an int. Decoded JSON numbers arrive as
// float64.
func (c Command) Int(key string) int {
	switch v := c.Args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Value returns the raw named argument, used when the receiver does its own
// coercion.
func (c Command) Value(key string) any {
	return c.Args[key]
}

// StringSlice returns the named argument as a string slice. A single string
// is treated as a one-element slice.
func (c Command) StringSlice(key string) []string {
	switch v := c.Args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

// Time parses the named argument as RFC 3339.
func (c Command) Time(key string) (time.Time, error) {
	s := c.String(key)
	if s == "" {
		return time.Time{}, fmt.Errorf("argument %q is required", key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("argument %q: %w", key, err)
	}
	return t, nil
}
