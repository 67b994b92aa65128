package dashboard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_UnmarshalJSON(t *testing.T) {
	var cmd Command
	err := json.Unmarshal([]byte(`{"command":"update_setting","key":"rotation_hours","value":8}`), &cmd)
	require.NoError(t, err)

	assert.Equal(t, CmdUpdateSetting, cmd.Name)
	assert.Equal(t, "rotation_hours", cmd.String("key"))
	assert.Equal(t, 8, cmd.Int("value"))
	assert.Equal(t, float64(8), cmd.Value("value"))
}

func TestCommand_UnmarshalNormalisesName(t *testing.T) {
	var cmd Command
	err := json.Unmarshal([]byte(`{"command":"  Skip_Video  "}`), &cmd)
	require.NoError(t, err)
	assert.Equal(t, CmdSkipVideo, cmd.Name)
}

func TestCommand_UnmarshalRequiresName(t *testing.T) {
	var cmd Command
	err := json.Unmarshal([]byte(`{"key":"value"}`), &cmd)
	require.ErrorContains(t, err, "command field is required")
}

func TestCommand_MarshalRoundTrip(t *testing.T) {
	in := Command{Name: CmdRenamePlaylist, Args: map[string]any{"old": "a", "new": "b"}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Command
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, "a", out.String("old"))
	assert.Equal(t, "b", out.String("new"))
}

func TestCommand_Accessors(t *testing.T) {
	var cmd Command
	payload := `{
		"command": "create_prepared",
		"slug": " weekend ",
		"is_fallback": true,
		"flagged": "true",
		"playlists": ["alpha", "beta"],
		"single": "gamma",
		"count": 3.0
	}`
	require.NoError(t, json.Unmarshal([]byte(payload), &cmd))

	assert.Equal(t, "weekend", cmd.String("slug"))
	assert.True(t, cmd.Bool("is_fallback"))
	assert.True(t, cmd.Bool("flagged"))
	assert.False(t, cmd.Bool("missing"))
	assert.Equal(t, []string{"alpha", "beta"}, cmd.StringSlice("playlists"))
	assert.Equal(t, []string{"gamma"}, cmd.StringSlice("single"))
	assert.Nil(t, cmd.StringSlice("missing"))
	assert.Equal(t, 3, cmd.Int("count"))
	assert.Equal(t, 0, cmd.Int("missing"))
}

func TestCommand_Time(t *testing.T) {
	var cmd Command
	require.NoError(t, json.Unmarshal(
		[]byte(`{"command":"schedule_prepared","slug":"weekend","at":"2026-09-01T18:00:00Z"}`), &cmd))

	at, err := cmd.Time("at")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC), at)

	_, err = cmd.Time("missing")
	require.ErrorContains(t, err, "required")

	cmd.Args["at"] = "tomorrow"
	_, err = cmd.Time("at")
	require.Error(t, err)
}

func TestKnownCommand(t *testing.T) {
	assert.True(t, KnownCommand(CmdTriggerRotation))
	assert.True(t, KnownCommand(CmdClearCompletedPrepared))
	assert.False(t, KnownCommand("reboot_server"))
	assert.False(t, KnownCommand(""))
}
