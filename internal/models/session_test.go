package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotationSession_TableName(t *testing.T) {
	s := RotationSession{}
	assert.Equal(t, "rotation_sessions", s.TableName())
}

func TestRotationSession_Validate(t *testing.T) {
	tests := []struct {
		name    string
		session RotationSession
		wantErr error
	}{
		{
			"valid",
			RotationSession{PlaylistsSelected: StringList{"01ABC"}},
			nil,
		},
		{
			"no playlists",
			RotationSession{},
			ErrSessionPlaylistsRequired,
		},
		{
			"temp playback without folder",
			RotationSession{
				PlaylistsSelected:    StringList{"01ABC"},
				TempPlaybackActive:   true,
				TempPlaybackPlaylist: StringList{"x"},
			},
			ErrTempPlaybackIncomplete,
		},
		{
			"temp playback without playlist",
			RotationSession{
				PlaylistsSelected:  StringList{"01ABC"},
				TempPlaybackActive: true,
				TempPlaybackFolder: "/content/pending",
			},
			ErrTempPlaybackIncomplete,
		},
		{
			"temp playback complete",
			RotationSession{
				PlaylistsSelected:    StringList{"01ABC"},
				TempPlaybackActive:   true,
				TempPlaybackFolder:   "/content/pending",
				TempPlaybackPlaylist: StringList{"x"},
			},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRotationSession_MarkEnded(t *testing.T) {
	s := RotationSession{IsCurrent: true}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.MarkEnded(at)

	assert.False(t, s.IsCurrent)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, at, *s.EndedAt)
	assert.True(t, s.HasEnded())
}

func TestRotationSession_SetNextPlaylists(t *testing.T) {
	s := RotationSession{}
	s.SetNextPlaylists([]string{"alpha", "beta"})

	assert.Equal(t, StringList{"alpha", "beta"}, s.NextPlaylists)
	assert.Equal(t, NextStatusPending, s.NextPlaylistsStatus["alpha"])
	assert.Equal(t, NextStatusPending, s.NextPlaylistsStatus["beta"])
	assert.True(t, s.HasNextPlaylists())
	assert.False(t, s.AllNextCompleted())
	assert.Equal(t, []string{"alpha", "beta"}, s.PendingNext())
}

func TestRotationSession_AllNextCompleted(t *testing.T) {
	s := RotationSession{}

	// No next rotation at all is not "completed"
	assert.False(t, s.AllNextCompleted())

	s.SetNextPlaylists([]string{"alpha", "beta"})
	s.SetNextStatus("alpha", NextStatusCompleted)
	assert.False(t, s.AllNextCompleted())
	assert.Equal(t, []string{"beta"}, s.PendingNext())

	s.SetNextStatus("beta", NextStatusCompleted)
	assert.True(t, s.AllNextCompleted())
	assert.Empty(t, s.PendingNext())
}

func TestRotationSession_ClearNextPlaylists(t *testing.T) {
	s := RotationSession{}
	s.SetNextPlaylists([]string{"alpha"})
	s.ClearNextPlaylists()

	assert.Empty(t, s.NextPlaylists)
	assert.Empty(t, s.NextPlaylistsStatus)
	assert.False(t, s.HasNextPlaylists())
}

func TestRotationSession_TempPlayback(t *testing.T) {
	s := RotationSession{PlaylistsSelected: StringList{"01ABC"}}

	s.ActivateTempPlayback([]string{"x", "y"}, 0, "/content/pending", 27000)

	assert.True(t, s.TempPlaybackActive)
	assert.Equal(t, StringList{"x", "y"}, s.TempPlaybackPlaylist)
	assert.Equal(t, "/content/pending", s.TempPlaybackFolder)
	assert.EqualValues(t, 27000, s.TempPlaybackCursorMS)
	assert.NoError(t, s.Validate())

	s.ClearTempPlayback()

	assert.False(t, s.TempPlaybackActive)
	assert.Empty(t, s.TempPlaybackPlaylist)
	assert.Empty(t, s.TempPlaybackFolder)
	assert.Zero(t, s.TempPlaybackCursorMS)
}

func TestStringList_Contains(t *testing.T) {
	l := StringList{"a", "b"}
	assert.True(t, l.Contains("a"))
	assert.False(t, l.Contains("c"))
	assert.False(t, StringList(nil).Contains("a"))
}
