package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/rotarr/internal/catalog"
	"github.com/jmylchreest/rotarr/internal/config"
	"github.com/jmylchreest/rotarr/internal/models"
	"github.com/jmylchreest/rotarr/internal/observability"
	"github.com/jmylchreest/rotarr/internal/prepared"
)

// registerOperations wires every REST operation onto the API.
func (s *Server) registerOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, s.getHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Current playback state snapshot",
		Tags:        []string{"State"},
	}, s.getStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPlaylists",
		Method:      http.MethodGet,
		Path:        "/api/v1/playlists",
		Summary:     "All playlists with play history",
		Tags:        []string{"Playlists"},
	}, s.listPlaylists)

	huma.Register(s.api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "Recent rotation sessions",
		Tags:        []string{"Sessions"},
	}, s.listSessions)

	huma.Register(s.api, huma.Operation{
		OperationID: "listHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/history",
		Summary:     "Recent playback history",
		Tags:        []string{"Sessions"},
	}, s.listHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPrepared",
		Method:      http.MethodGet,
		Path:        "/api/v1/prepared",
		Summary:     "Prepared rotations",
		Tags:        []string{"Prepared"},
	}, s.listPrepared)

	huma.Register(s.api, huma.Operation{
		OperationID: "listLogs",
		Method:      http.MethodGet,
		Path:        "/api/v1/logs",
		Summary:     "Recent log entries",
		Tags:        []string{"System"},
	}, s.listLogs)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSettings",
		Method:      http.MethodGet,
		Path:        "/api/v1/settings",
		Summary:     "Owner-tunable settings and environment",
		Tags:        []string{"Settings"},
	}, s.getSettings)

	huma.Register(s.api, huma.Operation{
		OperationID:   "postCommand",
		Method:        http.MethodPost,
		Path:          "/api/v1/commands",
		Summary:       "Queue a control command",
		Description:   "Commands are executed asynchronously by the rotation loop; the response only confirms queueing.",
		Tags:          []string{"Commands"},
		DefaultStatus: http.StatusAccepted,
	}, s.postCommand)
}

// HealthBody is the health endpoint response.
type HealthBody struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	Timestamp     string         `json:"timestamp"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Database      string         `json:"database"`
	System        SystemSnapshot `json:"system"`
}

// HealthOutput wraps the health response.
type HealthOutput struct {
	Body HealthBody
}

func (s *Server) getHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(s.startTime)

	dbStatus := "not_configured"
	if s.deps.DB != nil {
		dbStatus = "ok"
		if sqlDB, err := s.deps.DB.DB(); err != nil {
			dbStatus = "error"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}
	}

	status := "healthy"
	if dbStatus == "error" {
		status = "degraded"
	}

	return &HealthOutput{Body: HealthBody{
		Status:        status,
		Version:       s.deps.Version,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Database:      dbStatus,
		System:        CollectSystem(s.startTime),
	}}, nil
}

// StatusOutput wraps the state snapshot.
type StatusOutput struct {
	Body Snapshot
}

func (s *Server) getStatus(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
	if snap := s.CurrentSnapshot(); snap != nil {
		return &StatusOutput{Body: *snap}, nil
	}
	// Nothing pushed yet; the daemon is still starting up.
	return &StatusOutput{Body: Snapshot{Timestamp: time.Now()}}, nil
}

// PlaylistsOutput wraps the playlist listing.
type PlaylistsOutput struct {
	Body struct {
		Playlists []PlaylistSnapshot `json:"playlists"`
	}
}

func (s *Server) listPlaylists(ctx context.Context, _ *struct{}) (*PlaylistsOutput, error) {
	rows, err := s.deps.Playlists.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing playlists", err)
	}

	out := &PlaylistsOutput{}
	out.Body.Playlists = make([]PlaylistSnapshot, 0, len(rows))
	for _, p := range rows {
		out.Body.Playlists = append(out.Body.Playlists, PlaylistSnapshot{
			Name:       p.Name,
			URL:        p.URL,
			Enabled:    models.BoolVal(p.Enabled),
			Priority:   p.Priority,
			IsShort:    p.IsShort,
			Category:   p.Category,
			PlayCount:  p.PlayCount,
			LastPlayed: p.LastPlayed,
		})
	}
	return out, nil
}

// SessionsInput selects how many recent sessions to return.
type SessionsInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Number of sessions to return"`
}

// SessionInfo is one rotation session in API responses.
type SessionInfo struct {
	ID                   string     `json:"id"`
	StartedAt            time.Time  `json:"started_at"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	Playlists            []string   `json:"playlists"`
	StreamTitle          string     `json:"stream_title"`
	TotalDurationSeconds float64    `json:"total_duration_seconds"`
	IsCurrent            bool       `json:"is_current"`
	OverrideActive       bool       `json:"override_active"`
}

// SessionsOutput wraps the session listing.
type SessionsOutput struct {
	Body struct {
		Sessions []SessionInfo `json:"sessions"`
	}
}

func (s *Server) listSessions(ctx context.Context, input *SessionsInput) (*SessionsOutput, error) {
	rows, err := s.deps.Sessions.Recent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sessions", err)
	}

	out := &SessionsOutput{}
	out.Body.Sessions = make([]SessionInfo, 0, len(rows))
	for _, sess := range rows {
		out.Body.Sessions = append(out.Body.Sessions, SessionInfo{
			ID:                   sess.ID.String(),
			StartedAt:            sess.StartedAt,
			EndedAt:              sess.EndedAt,
			Playlists:            sess.CurrentPlaylists,
			StreamTitle:          sess.StreamTitle,
			TotalDurationSeconds: sess.TotalDurationSeconds,
			IsCurrent:            sess.IsCurrent,
			OverrideActive:       sess.OverrideActive,
		})
	}
	return out, nil
}

// HistoryInput selects how many playback entries to return.
type HistoryInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Number of entries to return"`
}

// PlaybackEntry is one played video in API responses.
type PlaybackEntry struct {
	VideoFilename string    `json:"video_filename"`
	PlaylistName  string    `json:"playlist_name,omitempty"`
	PlayedAt      time.Time `json:"played_at"`
}

// HistoryOutput wraps the playback history listing.
type HistoryOutput struct {
	Body struct {
		Entries []PlaybackEntry `json:"entries"`
	}
}

func (s *Server) listHistory(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	rows, err := s.deps.History.Recent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing playback history", err)
	}

	out := &HistoryOutput{}
	out.Body.Entries = make([]PlaybackEntry, 0, len(rows))
	for _, e := range rows {
		out.Body.Entries = append(out.Body.Entries, PlaybackEntry{
			VideoFilename: e.VideoFilename,
			PlaylistName:  e.PlaylistName,
			PlayedAt:      e.PlayedAt,
		})
	}
	return out, nil
}

// PreparedOutput wraps the prepared rotation listing.
type PreparedOutput struct {
	Body struct {
		Prepared []*prepared.Rotation `json:"prepared"`
	}
}

func (s *Server) listPrepared(ctx context.Context, _ *struct{}) (*PreparedOutput, error) {
	out := &PreparedOutput{}
	out.Body.Prepared = s.deps.Prepared.List()
	return out, nil
}

// LogsInput selects how many log entries to return.
type LogsInput struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"500" doc:"Number of entries to return"`
}

// LogsOutput wraps the log listing.
type LogsOutput struct {
	Body struct {
		Logs  []observability.LogEntry `json:"logs"`
		Total int64                    `json:"total"`
	}
}

func (s *Server) listLogs(ctx context.Context, input *LogsInput) (*LogsOutput, error) {
	out := &LogsOutput{}
	if s.deps.LogRing != nil {
		out.Body.Logs = s.deps.LogRing.Recent(input.Limit)
		out.Body.Total = s.deps.LogRing.Total()
	}
	return out, nil
}

// EnvVar is one allow-listed environment variable. Secret values are never
// echoed; Set tells the dashboard whether anything is configured.
type EnvVar struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Secret bool   `json:"secret"`
	Set    bool   `json:"set"`
}

// SettingsBody is the settings endpoint response.
type SettingsBody struct {
	Settings    any      `json:"settings"`
	SettingKeys []string `json:"setting_keys"`
	Env         []EnvVar `json:"env"`
}

// SettingsOutput wraps the settings response.
type SettingsOutput struct {
	Body SettingsBody
}

func (s *Server) getSettings(ctx context.Context, _ *struct{}) (*SettingsOutput, error) {
	env := make([]EnvVar, 0)
	for _, key := range config.AllowedEnvKeys() {
		value := os.Getenv(key)
		v := EnvVar{Key: key, Set: value != "", Secret: config.IsSecretEnvKey(key)}
		if !v.Secret {
			v.Value = value
		}
		env = append(env, v)
	}

	body := SettingsBody{SettingKeys: catalog.SettingKeys(), Env: env}
	if s.deps.Catalog != nil {
		body.Settings = s.deps.Catalog.Settings()
	}
	return &SettingsOutput{Body: body}, nil
}

// CommandInput carries the raw command payload. The wire shape matches the
// websocket protocol exactly, so the body is parsed by Command itself rather
// than a generated schema.
type CommandInput struct {
	RawBody []byte `contentType:"application/json"`
}

// CommandResult confirms command queueing.
type CommandResult struct {
	Accepted bool   `json:"accepted"`
	Command  string `json:"command"`
}

// CommandOutput wraps the command result.
type CommandOutput struct {
	Body CommandResult
}

func (s *Server) postCommand(ctx context.Context, input *CommandInput) (*CommandOutput, error) {
	var cmd Command
	if err := json.Unmarshal(input.RawBody, &cmd); err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid command payload", err)
	}
	if !KnownCommand(cmd.Name) {
		return nil, huma.Error422UnprocessableEntity("unknown command: " + cmd.Name)
	}
	if !s.hub.Enqueue(cmd) {
		return nil, huma.Error503ServiceUnavailable("command queue is full")
	}
	return &CommandOutput{Body: CommandResult{Accepted: true, Command: cmd.Name}}, nil
}
