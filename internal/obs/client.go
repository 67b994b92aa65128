package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmylchreest/rotarr/internal/config"
)

// ErrNotConnected is returned by requests issued while the socket is down.
var ErrNotConnected = errors.New("compositor not connected")

// connectionKeywords are the error fragments that indicate a dead socket
// rather than a request-level failure.
var connectionKeywords = []string{"timeout", "forcibly closed", "websocket", "connection"}

// IsConnectionError reports whether the error text points at a dead socket.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range connectionKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// RequestError is a request the compositor accepted on the wire but refused.
type RequestError struct {
	Type    string
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("%s failed: code %d", e.Type, e.Code)
	}
	return fmt.Sprintf("%s failed: code %d: %s", e.Type, e.Code, e.Comment)
}

// mediaEventQueueSize bounds the event queue between the socket reader and
// the playback monitor. A full queue drops the oldest token.
const mediaEventQueueSize = 256

// Client is an obs-websocket v5 client. One reader goroutine owns the
// socket reads; writes and the pending-request map are mutex guarded, so
// requests may be issued from any goroutine.
type Client struct {
	log *slog.Logger
	cfg config.OBSConfig

	mu           sync.Mutex
	conn         *websocket.Conn
	pending      map[string]chan responseEnvelope
	currentScene string

	connected atomic.Bool
	events    chan MediaEvent
}

// NewClient creates a compositor client. Call Connect before issuing
// requests.
func NewClient(cfg config.OBSConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:    log,
		cfg:    cfg,
		events: make(chan MediaEvent, mediaEventQueueSize),
	}
}

// Connected reports whether the client holds an identified connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SourceName returns the configured media input name.
func (c *Client) SourceName() string {
	return c.cfg.VLCSourceName
}

// Connect dials the compositor, performs the Hello/Identify handshake, and
// starts the reader. Connecting an already-connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, c.cfg.URL(), nil)
	if err != nil {
		return fmt.Errorf("dialing compositor at %s: %w", c.cfg.URL(), err)
	}

	if err := c.identify(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[string]chan responseEnvelope)
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	// Prime the scene cache so the monitor's scene gate works immediately.
	if scene, err := c.CurrentProgramScene(ctx); err == nil {
		c.log.Info("compositor connected",
			slog.String("url", c.cfg.URL()),
			slog.String("scene", scene),
		)
	} else {
		c.log.Info("compositor connected", slog.String("url", c.cfg.URL()))
	}
	return nil
}

// identify runs the opcode 0/1/2 handshake on a fresh socket.
func (c *Client) identify(conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("expected hello, got opcode %d", env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}

	identify := identifyData{
		RPCVersion:         rpcVersion,
		EventSubscriptions: subGeneral | subScenes | subMediaInputs,
	}
	if hello.Authentication != nil {
		if c.cfg.Password == "" {
			return fmt.Errorf("compositor requires authentication but no password is configured")
		}
		identify.Authentication = authResponse(c.cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	data, err := marshalEnvelope(opIdentify, identify)
	if err != nil {
		return fmt.Errorf("encoding identify: %w", err)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("reading identified: %w", err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("identify rejected (opcode %d); check the compositor password", env.Op)
	}
	var identified identifiedData
	if err := json.Unmarshal(env.D, &identified); err != nil {
		return fmt.Errorf("decoding identified: %w", err)
	}
	if identified.NegotiatedRPCVersion != rpcVersion {
		return fmt.Errorf("unsupported rpc version %d", identified.NegotiatedRPCVersion)
	}
	return nil
}

// Close tears down the connection. Pending requests fail with
// ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.dropConn(conn, nil)
	return nil
}

// readLoop owns socket reads until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("discarding malformed compositor message", slog.String("error", err.Error()))
			continue
		}

		switch env.Op {
		case opRequestResponse:
			var resp responseEnvelope
			if err := json.Unmarshal(env.D, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			if ok {
				delete(c.pending, resp.RequestID)
			}
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case opEvent:
			var ev eventEnvelope
			if err := json.Unmarshal(env.D, &ev); err != nil {
				continue
			}
			c.handleEvent(ev)
		}
	}
}

// dropConn marks the client disconnected and fails every pending request.
// Stale calls for an already-replaced connection are ignored.
func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected.Store(false)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	_ = conn.Close()
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.log.Warn("compositor connection lost", slog.String("error", cause.Error()))
	}
}

// request issues one request and waits for its response or timeout.
func (c *Client) request(ctx context.Context, reqType string, payload any, out any) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.connected.Load() {
		c.mu.Unlock()
		return ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan responseEnvelope, 1)
	c.pending[id] = ch

	data, err := marshalEnvelope(opRequest, requestEnvelope{
		RequestType: reqType,
		RequestID:   id,
		RequestData: payload,
	})
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("encoding %s: %w", reqType, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if err != nil {
		c.unregister(id)
		c.noteError(conn, err)
		return fmt.Errorf("sending %s: %w", reqType, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return &RequestError{Type: reqType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("decoding %s response: %w", reqType, err)
			}
		}
		return nil
	case <-timer.C:
		c.unregister(id)
		err := fmt.Errorf("%s: request timeout after %s", reqType, c.cfg.RequestTimeout)
		c.noteError(conn, err)
		return err
	case <-ctx.Done():
		c.unregister(id)
		return ctx.Err()
	}
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// noteError drops the connection when the error looks like a dead socket.
func (c *Client) noteError(conn *websocket.Conn, err error) {
	if IsConnectionError(err) {
		c.dropConn(conn, err)
	}
}

// handleEvent normalises compositor events: media playback events for the
// configured input become queue tokens, scene changes update the cache.
func (c *Client) handleEvent(ev eventEnvelope) {
	switch ev.EventType {
	case "MediaInputPlaybackStarted", "MediaInputPlaybackEnded":
		var d struct {
			InputName string `json:"inputName"`
		}
		if err := json.Unmarshal(ev.EventData, &d); err != nil || d.InputName != c.cfg.VLCSourceName {
			return
		}
		token := MediaStarted
		if ev.EventType == "MediaInputPlaybackEnded" {
			token = MediaEnded
		}
		c.pushEvent(token)
	case "CurrentProgramSceneChanged":
		var d struct {
			SceneName string `json:"sceneName"`
		}
		if err := json.Unmarshal(ev.EventData, &d); err != nil {
			return
		}
		c.setCachedScene(d.SceneName)
	}
}

// pushEvent enqueues a media event token, dropping the oldest token when
// the monitor has fallen behind.
func (c *Client) pushEvent(ev MediaEvent) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case dropped := <-c.events:
		c.log.Warn("media event queue full, dropping oldest", slog.String("dropped", string(dropped)))
	default:
	}
	select {
	case c.events <- ev:
	default:
	}
}

// DrainMediaEvents removes and returns every queued media event token in
// arrival order.
func (c *Client) DrainMediaEvents() []MediaEvent {
	var out []MediaEvent
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// EventQueueDepth returns the number of undrained media events.
func (c *Client) EventQueueDepth() int {
	return len(c.events)
}

// CachedScene returns the last known program scene without a round trip.
func (c *Client) CachedScene() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentScene
}

func (c *Client) setCachedScene(scene string) {
	c.mu.Lock()
	c.currentScene = scene
	c.mu.Unlock()
}
