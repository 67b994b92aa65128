package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// Override is the manual-override document: an operator edits it (or the
// dashboard writes it) to force a rotation with hand-picked playlists.
type Override struct {
	OverrideActive    bool     `json:"override_active"`
	SelectedPlaylists []string `json:"selected_playlists"`
	TriggerNow        bool     `json:"trigger_now"`
}

// OverrideStore reads and clears the manual-override document.
type OverrideStore struct {
	path string
}

// NewOverrideStore creates an override store for the given path.
func NewOverrideStore(path string) *OverrideStore {
	return &OverrideStore{path: path}
}

// Path returns the document location.
func (o *OverrideStore) Path() string {
	return o.path
}

// Peek reads the override document without clearing it. A missing file
// returns nil.
func (o *OverrideStore) Peek() (*Override, error) {
	data, err := os.ReadFile(o.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading override document: %w", err)
	}

	var ov Override
	if err := json.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parsing override document: %w", err)
	}
	return &ov, nil
}

// Consume returns the override when it is both active and armed, clearing
// the document so the trigger fires exactly once. Inactive or unarmed
// documents are left alone and return nil.
func (o *OverrideStore) Consume() (*Override, error) {
	ov, err := o.Peek()
	if err != nil {
		return nil, err
	}
	if ov == nil || !ov.OverrideActive || !ov.TriggerNow {
		return nil, nil
	}

	if err := o.Clear(); err != nil {
		return nil, err
	}
	return ov, nil
}

// Clear rewrites the document to its inactive state.
func (o *OverrideStore) Clear() error {
	data, err := json.MarshalIndent(Override{}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding override document: %w", err)
	}
	if err := renameio.WriteFile(o.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("clearing override document: %w", err)
	}
	return nil
}

// Write persists an override document, used by the dashboard trigger path.
func (o *OverrideStore) Write(ov Override) error {
	data, err := json.MarshalIndent(ov, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding override document: %w", err)
	}
	if err := renameio.WriteFile(o.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing override document: %w", err)
	}
	return nil
}
