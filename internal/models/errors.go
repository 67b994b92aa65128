package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrFilenameRequired indicates a required filename field is empty.
	ErrFilenameRequired = errors.New("filename is required")

	// ErrPlaylistIDRequired indicates a required playlist ID field is zero.
	ErrPlaylistIDRequired = errors.New("playlist_id is required")

	// ErrSessionPlaylistsRequired indicates a session was created without playlists.
	ErrSessionPlaylistsRequired = errors.New("at least one playlist is required")

	// ErrInvalidNextStatus indicates an unknown next-playlist status value.
	ErrInvalidNextStatus = errors.New("invalid next playlist status: must be 'PENDING' or 'COMPLETED'")

	// ErrTempPlaybackIncomplete indicates temp playback was activated without
	// a folder or playlist set.
	ErrTempPlaybackIncomplete = errors.New("temp playback requires folder and playlist")

	// ErrSessionEnded indicates an operation on a session that already ended.
	ErrSessionEnded = errors.New("session already ended")
)
