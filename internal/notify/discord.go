// Package notify delivers operator notifications as Discord webhook embeds.
// Delivery is best-effort: a dead webhook never stalls the rotation loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jmylchreest/rotarr/internal/httpclient"
)

// Severity selects the embed colour.
type Severity int

const (
	// Severitysuccess renders green.
	SeveritySuccess Severity = iota
	// SeverityWarning renders orange.
	SeverityWarning
	// SeverityError renders red.
	SeverityError
	// SeverityStreamerLive renders purple.
	SeverityStreamerLive
)

// Discord embed colours (decimal RGB).
const (
	colourGreen  = 0x2ECC71
	colourOrange = 0xE67E22
	colourRed    = 0xE74C3C
	colourPurple = 0x9B59B6
)

func (s Severity) colour() int {
	switch s {
	case SeverityWarning:
		return colourOrange
	case SeverityError:
		return colourRed
	case SeverityStreamerLive:
		return colourPurple
	default:
		return colourGreen
	}
}

// sendTimeout bounds one webhook delivery.
const sendTimeout = 10 * time.Second

// minInterval throttles deliveries so a failure storm cannot trip Discord's
// rate limiter. Messages arriving faster are dropped, not queued.
const minInterval = 2 * time.Second

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookPayload struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

// Field is an optional name/value pair rendered inside the embed.
type Field struct {
	Name  string
	Value string
}

// Notifier posts embeds to a Discord webhook. A Notifier with an empty URL
// is valid and silently drops everything, so callers never branch.
type Notifier struct {
	log        *slog.Logger
	webhookURL string
	client     *httpclient.Client

	mu       sync.Mutex
	lastSend time.Time
}

// NewNotifier creates a Discord notifier. An empty webhookURL disables
// delivery.
func NewNotifier(webhookURL string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = sendTimeout
	cfg.RetryAttempts = 1
	cfg.Logger = log

	return &Notifier{
		log:        log,
		webhookURL: webhookURL,
		client:     httpclient.New(cfg),
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Send posts one embed asynchronously. It never blocks the caller beyond
// the throttle check and never returns delivery errors; failures are logged.
func (n *Notifier) Send(title, description string, severity Severity, fields ...Field) {
	if !n.Enabled() {
		return
	}

	n.mu.Lock()
	if time.Since(n.lastSend) < minInterval {
		n.mu.Unlock()
		n.log.Debug("notification throttled", slog.String("title", title))
		return
	}
	n.lastSend = time.Now()
	n.mu.Unlock()

	go n.deliver(title, description, severity, fields)
}

// Success posts a green embed.
func (n *Notifier) Success(title, description string, fields ...Field) {
	n.Send(title, description, SeveritySuccess, fields...)
}

// Warning posts an orange embed.
func (n *Notifier) Warning(title, description string, fields ...Field) {
	n.Send(title, description, SeverityWarning, fields...)
}

// Error posts a red embed.
func (n *Notifier) Error(title, description string, fields ...Field) {
	n.Send(title, description, SeverityError, fields...)
}

// StreamerLive posts a purple embed for upstream liveness transitions.
func (n *Notifier) StreamerLive(title, description string, fields ...Field) {
	n.Send(title, description, SeverityStreamerLive, fields...)
}

func (n *Notifier) deliver(title, description string, severity Severity, fields []Field) {
	e := embed{
		Title:       title,
		Description: description,
		Color:       severity.colour(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, f := range fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: true})
	}

	body, err := json.Marshal(webhookPayload{Username: "rotarr", Embeds: []embed{e}})
	if err != nil {
		n.log.Error("encoding notification failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.log.Error("building notification request failed", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("notification delivery failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	// Discord answers 204 on success; anything else is worth a log line.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.Warn("notification rejected",
			slog.String("title", title),
			slog.String("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
	}
}
