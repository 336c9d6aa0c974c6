// Package realtime is a client for the OpenAI Realtime websocket protocol.
//
// A Client owns one websocket at a time. Connect dials, sends the session
// configuration and starts a network goroutine that decodes inbound events
// and hands them to a Handler in wire order. Application events can only be
// sent once the service has confirmed the session (session.updated); until
// then they are dropped with ErrNotReady.
//
// The client never reconnects on its own. Reconnect policy belongs to the
// caller, which learns about a lost connection through
// Handler.HandleDisconnect.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler receives inbound traffic. Both methods run on the client's
// network goroutine and must not block; in particular they must not call
// Close.
type Handler interface {
	// HandleEvent is called for every decoded event, in wire order.
	HandleEvent(ev Event)

	// HandleDisconnect is called once when a connection is lost without
	// Close having been called.
	HandleDisconnect(err error)
}

// Stats is a snapshot of client counters.
type Stats struct {
	State            string    `json:"state"`
	SessionID        string    `json:"session_id,omitempty"`
	ConnectedAt      time.Time `json:"connected_at"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	Malformed        int64     `json:"malformed"`
	DroppedNotReady  int64     `json:"dropped_not_ready"`
}

// Client manages the websocket connection to the Realtime API.
type Client struct {
	config *Config
	logger *slog.Logger

	mu          sync.RWMutex
	state       State
	conn        *websocket.Conn
	handler     Handler
	closeCh     chan struct{}
	done        chan struct{}
	readyCh     chan struct{}
	everReady   bool
	sessionID   string
	lastErr     error
	connectedAt time.Time

	// sendMu serializes websocket writes; gorilla allows one writer.
	sendMu sync.Mutex

	throttleMu sync.Mutex
	nextAppend time.Time

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	malformed        atomic.Int64
	droppedNotReady  atomic.Int64
}

// NewClient creates a Realtime client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}

	return &Client{
		config: cfg,
		logger: cfg.Logger.With("component", "realtime"),
		state:  StateDisconnected,
	}, nil
}

// SetHandler installs the inbound event handler. It may be called at any
// time; events are delivered to the handler installed when they arrive.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect dials the service and sends session.update. It returns once the
// socket is open, without waiting for the session to be confirmed; use
// WaitReady for that.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.closeCh = make(chan struct{})
	c.done = make(chan struct{})
	c.readyCh = make(chan struct{})
	c.everReady = false
	c.sessionID = ""
	c.lastErr = nil
	closeCh, done := c.closeCh, c.done
	session := c.config.Session
	c.mu.Unlock()

	c.logger.Info("connecting to OpenAI Realtime API", "model", c.config.Model)

	conn, err := c.dial(ctx)
	if err != nil {
		c.abortConnect(err, done)
		return err
	}

	// session.update is exempt from the readiness gate: it is what makes
	// the session ready.
	if err := c.write(conn, SessionUpdate{Session: session}); err != nil {
		_ = conn.Close()
		c.abortConnect(err, done)
		return err
	}

	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		_ = conn.Close()
		err := NewConnectionError("closed while connecting", nil, false)
		c.abortConnect(err, done)
		return err
	}
	c.conn = conn
	c.state = StateConnected
	c.connectedAt = time.Now()
	c.mu.Unlock()

	go c.run(conn, closeCh, done)

	c.logger.Info("connected to OpenAI Realtime API")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	timeout := c.config.ConnectTimeout
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s?model=%s", c.config.URL, url.QueryEscape(c.config.Model))

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, headers)
	if err == nil {
		return conn, nil
	}

	if ctx.Err() == nil && (errors.Is(dialCtx.Err(), context.DeadlineExceeded) || isTimeout(err)) {
		return nil, NewConnectionError("dial", fmt.Errorf("%w after %v", ErrConnectTimeout, timeout), true)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if resp != nil {
		return nil, NewConnectionError(
			fmt.Sprintf("dial failed with status %d", resp.StatusCode),
			err,
			resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		)
	}
	return nil, NewConnectionError("dial failed", err, true)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) abortConnect(err error, done chan struct{}) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.conn = nil
	c.lastErr = err
	c.mu.Unlock()
	close(done)
	c.logger.Warn("connect failed", "error", err)
}

// run is the network goroutine. It owns decoding and handler delivery and
// observes Close through closeCh rather than a read deadline.
func (c *Client) run(conn *websocket.Conn, closeCh <-chan struct{}, done chan struct{}) {
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	go readPump(conn, msgs, readErr, stop)

	var pings <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	var cause error
loop:
	for {
		select {
		case <-closeCh:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			break loop

		case data := <-msgs:
			if err := c.dispatch(data); err != nil {
				cause = err
				break loop
			}

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = NewConnectionError("closed by server", err, true)
			} else {
				cause = NewConnectionError("read failed", err, true)
			}
			break loop

		case <-pings:
			timeout := c.config.WriteTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				cause = NewConnectionError("ping failed", err, true)
				break loop
			}
		}
	}

	close(stop)
	_ = conn.Close()
	c.finish(cause, done)
}

// readPump blocks in ReadMessage so the network goroutine never has to set
// a read deadline; a timed-out gorilla connection cannot be read again.
func readPump(conn *websocket.Conn, msgs chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case msgs <- data:
		case <-stop:
			return
		}
	}
}

func (c *Client) finish(cause error, done chan struct{}) {
	c.mu.Lock()
	closing := c.state == StateClosing
	c.state = StateDisconnected
	c.conn = nil
	c.lastErr = cause
	h := c.handler
	c.mu.Unlock()

	close(done)

	if closing {
		c.logger.Info("disconnected from OpenAI Realtime API")
		return
	}
	c.logger.Warn("connection lost", "error", cause)
	if h != nil && cause != nil {
		h.HandleDisconnect(cause)
	}
}

// dispatch decodes one message and delivers it. A non-nil return tears
// the connection down.
func (c *Client) dispatch(data []byte) error {
	c.messagesReceived.Add(1)

	ev, err := Decode(data)
	if err != nil {
		c.malformed.Add(1)
		c.logger.Warn("dropping malformed event", "error", err, "bytes", len(data))
		return nil
	}

	switch ev.Type {
	case EventSessionCreated:
		c.mu.Lock()
		if ev.Session != nil {
			c.sessionID = ev.Session.ID
		}
		c.mu.Unlock()
		c.logger.Info("session created", "session_id", c.SessionID())

	case EventSessionUpdated:
		if c.markReady() {
			c.logger.Info("session ready")
		}

	case EventError:
		c.mu.RLock()
		ready := c.everReady
		c.mu.RUnlock()
		if !ready {
			c.logger.Error("service rejected the session", "error", ev.Error)
			return ev.Error
		}
		c.logger.Warn("service error", "error", ev.Error)
	}

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h.HandleEvent(ev)
	}
	return nil
}

func (c *Client) markReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return false
	}
	c.state = StateReady
	if !c.everReady {
		c.everReady = true
		close(c.readyCh)
	}
	return true
}

// WaitReady blocks until the session is confirmed, the connection is lost
// or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.RLock()
	state, readyCh, done := c.state, c.readyCh, c.done
	c.mu.RUnlock()

	switch state {
	case StateReady:
		return nil
	case StateDisconnected, StateClosing:
		return ErrNotConnected
	}

	select {
	case <-readyCh:
		return nil
	case <-done:
		if err := c.lastError(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) lastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Send writes an application event. Events are written in call order.
// Before the session is ready the event is dropped and ErrNotReady
// returned.
func (c *Client) Send(ev OutboundEvent) error {
	c.mu.RLock()
	state, conn := c.state, c.conn
	c.mu.RUnlock()

	switch state {
	case StateDisconnected, StateClosing:
		return ErrNotConnected
	case StateConnecting, StateConnected:
		c.droppedNotReady.Add(1)
		c.logger.Warn("dropping event before session is ready", "type", ev.EventType())
		return ErrNotReady
	}

	switch ev.(type) {
	case InputAudioBufferAppend, *InputAudioBufferAppend:
		c.throttle()
	}
	return c.write(conn, ev)
}

// throttle spaces audio appends by SendInterval without holding a lock
// while it sleeps.
func (c *Client) throttle() {
	interval := c.config.SendInterval
	if interval <= 0 {
		return
	}

	c.throttleMu.Lock()
	now := time.Now()
	slot := c.nextAppend
	if slot.Before(now) {
		slot = now
	}
	c.nextAppend = slot.Add(interval)
	c.throttleMu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		time.Sleep(wait)
	}
}

// write marshals outside the send lock and writes under it.
func (c *Client) write(conn *websocket.Conn, ev OutboundEvent) error {
	data, err := marshalEvent(ev, uuid.NewString())
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Closing wakes the reader so the loss is reported exactly once.
		_ = conn.Close()
		return NewConnectionError("send "+ev.EventType(), err, true)
	}

	c.messagesSent.Add(1)
	return nil
}

// AppendAudio sends one chunk of PCM16 samples.
func (c *Client) AppendAudio(samples []int16) error {
	return c.Send(InputAudioBufferAppend{Audio: EncodeSamples(samples)})
}

// CommitAudio ends the user's utterance.
func (c *Client) CommitAudio() error {
	return c.Send(InputAudioBufferCommit{})
}

// ClearAudio discards uncommitted input audio.
func (c *Client) ClearAudio() error {
	return c.Send(InputAudioBufferClear{})
}

// CreateResponse asks the service to reply.
func (c *Client) CreateResponse() error {
	return c.Send(ResponseCreate{})
}

// CancelResponse interrupts the reply in progress.
func (c *Client) CancelResponse() error {
	return c.Send(ResponseCancel{})
}

// SendFunctionOutput returns the result of a function call.
func (c *Client) SendFunctionOutput(callID, output string) error {
	err := c.Send(ConversationItemCreate{Item: ConversationItem{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}})
	if err == nil {
		c.logger.Debug("submitted function output", "call_id", callID, "output_len", len(output))
	}
	return err
}

// UpdateSession replaces the session configuration. It is stored for
// future connections and, if connected, sent immediately.
func (c *Client) UpdateSession(s SessionConfig) error {
	c.mu.Lock()
	c.config.Session = s
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != StateConnected && state != StateReady {
		return nil
	}
	return c.write(conn, SessionUpdate{Session: s})
}

// Close shuts the connection down and waits for the network goroutine to
// exit. It is idempotent and must not be called from a Handler.
func (c *Client) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil
	case StateConnected, StateReady:
		close(c.closeCh)
	}
	c.state = StateClosing
	done := c.done
	c.mu.Unlock()

	<-done
	return nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsReady reports whether application events can be sent.
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

// SessionID returns the id from the last session.created.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Stats returns a snapshot of client counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	state, sessionID, connectedAt := c.state, c.sessionID, c.connectedAt
	c.mu.RUnlock()

	return Stats{
		State:            state.String(),
		SessionID:        sessionID,
		ConnectedAt:      connectedAt,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Malformed:        c.malformed.Load(),
		DroppedNotReady:  c.droppedNotReady.Load(),
	}
}
