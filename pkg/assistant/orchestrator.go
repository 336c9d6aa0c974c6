// Package assistant runs Deskman's conversation loop.
//
// An Orchestrator owns one protocol client, one audio device, one wake word
// detector and one function dispatcher. Its control goroutine (Run) waits
// for a start request, listens for the wake word, records and streams a
// fixed number of capture frames, commits them, asks for a response and
// plays the reply. Inbound protocol events reach the control goroutine
// through a mailbox; the network goroutine never changes State.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-deskman/internal/observe"
	"github.com/teslashibe/go-deskman/pkg/actuator"
	"github.com/teslashibe/go-deskman/pkg/audioio"
	"github.com/teslashibe/go-deskman/pkg/realtime"
	"github.com/teslashibe/go-deskman/pkg/robot"
	"github.com/teslashibe/go-deskman/pkg/wakeword"
)

var (
	// ErrBusy is returned by RequestConversation when a turn is already
	// in progress or pending.
	ErrBusy = errors.New("assistant: conversation already in progress")

	// ErrResponseTimeout is recorded when no response.done arrives within
	// ResponseTimeout.
	ErrResponseTimeout = errors.New("assistant: response timed out")
)

// Protocol is the realtime connection as used by the orchestrator.
// *realtime.Client implements it.
type Protocol interface {
	SetHandler(h realtime.Handler)
	Connect(ctx context.Context) error
	WaitReady(ctx context.Context) error
	IsReady() bool
	State() realtime.State
	AppendAudio(samples []int16) error
	CommitAudio() error
	CreateResponse() error
	CancelResponse() error
	SendFunctionOutput(callID, output string) error
	Close() error
}

// AudioDevice is the duplex device as used by the orchestrator.
// *audioio.Device implements it.
type AudioDevice interface {
	Capture(ctx context.Context, n int) (audioio.Frame, error)
	EnqueuePlayback(f audioio.Frame)
	ClearPlayback() int
	StartPlayback() error
	StopPlayback() error
	PlaybackEnabled() bool
}

// WakeDetector blocks until the wake word is heard. *wakeword.Detector
// implements it.
type WakeDetector interface {
	Listen(ctx context.Context) (wakeword.Event, error)
	Stop()
	Available() bool
}

// Dispatcher executes function calls. *actuator.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(name, arguments string) (string, error)
}

var (
	_ Protocol     = (*realtime.Client)(nil)
	_ AudioDevice  = (*audioio.Device)(nil)
	_ WakeDetector = (*wakeword.Detector)(nil)
	_ Dispatcher   = (*actuator.Dispatcher)(nil)
)

// Snapshot is a point-in-time view of the orchestrator for the dashboard.
type Snapshot struct {
	State              State     `json:"state"`
	StateSince         time.Time `json:"state_since"`
	TurnID             string    `json:"turn_id,omitempty"`
	CompletedTurns     int64     `json:"completed_turns"`
	AbandonedTurns     int64     `json:"abandoned_turns"`
	Protocol           string    `json:"protocol"`
	WakewordAvailable  bool      `json:"wakeword_available"`
	PlaybackEnabled    bool      `json:"playback_enabled"`
	LastTranscript     string    `json:"last_transcript,omitempty"`
	LastUserTranscript string    `json:"last_user_transcript,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
	ReconnectAttempt   int       `json:"reconnect_attempt,omitempty"`
}

// Orchestrator drives the conversation state machine.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *observe.Metrics
	proto    Protocol
	audio    AudioDevice
	wake     WakeDetector
	dispatch Dispatcher

	mbox    *mailbox
	startCh chan struct{}

	// mu guards the fields read by Snapshot and State.
	mu         sync.RWMutex
	state      State
	stateSince time.Time
	turnID     string
	completed  int64
	abandoned  int64
	lastText   string
	lastUser   string
	lastErr    string
	reconnects int

	// Control goroutine only.
	transcript      strings.Builder
	turnStart       time.Time
	commitAt        time.Time
	gotAudio        bool
	greetingPending bool
	deadline        time.Time
	reconnectAt     time.Time
	playbackWarned  bool
	autoDelay       time.Duration

	shutdownOnce sync.Once
}

// New creates an orchestrator. wake and dispatch may be nil: without a
// detector a turn starts recording right away, without a dispatcher every
// function call is unknown.
func New(proto Protocol, audio AudioDevice, wake WakeDetector, dispatch Dispatcher, opts ...Option) (*Orchestrator, error) {
	if proto == nil || audio == nil {
		return nil, errors.New("assistant: protocol and audio device are required")
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Nop()
	}

	o := &Orchestrator{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "assistant"),
		metrics:    cfg.Metrics,
		proto:      proto,
		audio:      audio,
		wake:       wake,
		dispatch:   dispatch,
		mbox:       newMailbox(),
		startCh:    make(chan struct{}, 1),
		state:      StateIdle,
		stateSince: time.Now(),
	}
	proto.SetHandler(o)
	return o, nil
}

// HandleEvent implements realtime.Handler. It only queues the event.
func (o *Orchestrator) HandleEvent(ev realtime.Event) {
	o.mbox.post(message{event: ev})
}

// HandleDisconnect implements realtime.Handler. It only queues the loss.
func (o *Orchestrator) HandleDisconnect(err error) {
	if err == nil {
		err = realtime.ErrNotConnected
	}
	o.mbox.post(message{disconnect: err})
}

// RequestConversation asks the control loop to start a turn. It returns
// ErrBusy unless the orchestrator is idle with no request pending.
func (o *Orchestrator) RequestConversation() error {
	o.mu.RLock()
	idle := o.state == StateIdle
	o.mu.RUnlock()
	if !idle {
		return ErrBusy
	}

	select {
	case o.startCh <- struct{}{}:
		o.logger.Info("conversation requested")
		return nil
	default:
		return ErrBusy
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Snapshot returns a consistent view for status reporting.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	s := Snapshot{
		State:              o.state,
		StateSince:         o.stateSince,
		TurnID:             o.turnID,
		CompletedTurns:     o.completed,
		AbandonedTurns:     o.abandoned,
		LastTranscript:     o.lastText,
		LastUserTranscript: o.lastUser,
		LastError:          o.lastErr,
		ReconnectAttempt:   o.reconnects,
	}
	o.mu.RUnlock()

	s.Protocol = o.proto.State().String()
	s.WakewordAvailable = o.wake != nil && o.wake.Available()
	s.PlaybackEnabled = o.audio.PlaybackEnabled()
	return s
}

// Run is the control loop. It returns nil when ctx is cancelled, after
// Shutdown has run.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.Shutdown()

	o.logger.Info("assistant started",
		"frames_per_turn", o.cfg.FramesPerTurn,
		"frame_samples", o.cfg.FrameSamples,
		"greeting", o.cfg.Greeting,
	)

	for ctx.Err() == nil {
		switch o.State() {
		case StateIdle:
			o.idle(ctx)
		case StateWaitingForWakeword:
			o.waitForWakeword(ctx)
		case StateRecording:
			o.record(ctx)
		case StateCommitting:
			o.commit()
		case StateAwaitingResponse, StatePlaying:
			o.awaitResponse(ctx)
		}
	}

	if o.State() != StateIdle {
		o.abandon(observe.OutcomeCancelled, ctx.Err())
	}
	o.logger.Info("assistant stopped")
	return nil
}

// Shutdown stops listening, lets queued playback finish and closes the
// protocol client. Run calls it on exit; it is safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		if o.wake != nil {
			o.wake.Stop()
		}
		if err := o.audio.StopPlayback(); err != nil {
			o.logger.Warn("stop playback", "error", err)
		}
		if err := o.proto.Close(); err != nil {
			o.logger.Warn("close protocol client", "error", err)
		}
	})
}

func (o *Orchestrator) idle(ctx context.Context) {
	var reconnect <-chan time.Time
	if !o.reconnectAt.IsZero() {
		t := time.NewTimer(time.Until(o.reconnectAt))
		defer t.Stop()
		reconnect = t.C
	}

	var auto <-chan time.Time
	if o.cfg.AutoListen && o.wake != nil && o.wake.Available() {
		t := time.NewTimer(o.autoDelay)
		defer t.Stop()
		auto = t.C
	}

	select {
	case <-ctx.Done():
	case <-o.startCh:
		o.beginTurn(ctx)
	case <-auto:
		o.beginTurn(ctx)
	case <-o.mbox.ready():
		o.drain(ctx)
	case <-reconnect:
		o.reconnectAt = time.Time{}
		o.backgroundReconnect(ctx)
	}
}

func (o *Orchestrator) beginTurn(ctx context.Context) {
	o.turnStart = time.Now()
	o.mu.Lock()
	o.turnID = uuid.NewString()
	o.lastErr = ""
	o.mu.Unlock()
	o.setState(StateWaitingForWakeword)

	if err := o.ensureConnected(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.abandon(observe.OutcomeError, fmt.Errorf("connect: %w", err))
	}
}

type listenResult struct {
	ev  wakeword.Event
	err error
}

func (o *Orchestrator) waitForWakeword(ctx context.Context) {
	if o.wake == nil || !o.wake.Available() {
		o.logger.Warn("wake word detector unavailable, recording immediately")
		o.startRecording()
		return
	}

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan listenResult, 1)
	go func() {
		ev, err := o.wake.Listen(listenCtx)
		results <- listenResult{ev, err}
	}()

	for {
		select {
		case r := <-results:
			switch {
			case r.err == nil && r.ev.Result == wakeword.Detected:
				o.metrics.RecordWakeword(ctx, r.ev.Name)
				o.logger.Info("wake word heard", "keyword", r.ev.Name)
				o.startRecording()
			case ctx.Err() != nil:
			case r.err != nil:
				o.abandon(observe.OutcomeError, fmt.Errorf("wake word: %w", r.err))
			default:
				o.abandon(observe.OutcomeCancelled, errors.New("wake word listening cancelled"))
			}
			return

		case <-o.mbox.ready():
			o.drain(ctx)
			if o.State() != StateWaitingForWakeword {
				cancel()
				<-results
				return
			}

		case <-ctx.Done():
			<-results
			return
		}
	}
}

func (o *Orchestrator) startRecording() {
	o.setState(StateRecording)

	if o.cfg.Greeting {
		if err := o.proto.CreateResponse(); err != nil {
			o.abandon(observe.OutcomeError, fmt.Errorf("greeting: %w", err))
			return
		}
		o.greetingPending = true
	}
}

func (o *Orchestrator) record(ctx context.Context) {
	for i := 0; i < o.cfg.FramesPerTurn; i++ {
		o.drainPending(ctx)
		if o.State() != StateRecording {
			return
		}

		f, err := o.audio.Capture(ctx, o.cfg.FrameSamples)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.abandon(observe.OutcomeError, fmt.Errorf("capture: %w", err))
			return
		}
		if err := o.proto.AppendAudio(f.Samples); err != nil {
			o.abandon(observe.OutcomeError, fmt.Errorf("append audio: %w", err))
			return
		}
	}

	o.drainPending(ctx)
	if o.State() == StateRecording {
		o.setState(StateCommitting)
	}
}

// commit ends the user's utterance. The commit is not acknowledged; the
// response is requested right after it.
func (o *Orchestrator) commit() {
	if o.greetingPending {
		// Only one response may be active; cut the greeting short.
		if err := o.proto.CancelResponse(); err != nil {
			o.logger.Debug("cancel greeting", "error", err)
		}
	}
	if err := o.proto.CommitAudio(); err != nil {
		o.abandon(observe.OutcomeError, fmt.Errorf("commit: %w", err))
		return
	}
	o.awaitingResponse()
	if err := o.proto.CreateResponse(); err != nil {
		o.abandon(observe.OutcomeError, fmt.Errorf("request response: %w", err))
	}
}

func (o *Orchestrator) awaitingResponse() {
	o.commitAt = time.Now()
	o.gotAudio = false
	o.deadline = o.commitAt.Add(o.cfg.ResponseTimeout)
	o.setState(StateAwaitingResponse)
}

func (o *Orchestrator) awaitResponse(ctx context.Context) {
	t := time.NewTimer(time.Until(o.deadline))
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-o.mbox.ready():
		o.drain(ctx)
	case <-t.C:
		o.abandon(observe.OutcomeTimeout, ErrResponseTimeout)
	}
}

func (o *Orchestrator) drain(ctx context.Context) {
	for _, msg := range o.mbox.take() {
		if msg.disconnect != nil {
			o.onDisconnect(ctx, msg.disconnect)
			continue
		}
		o.handleEvent(ctx, msg.event)
	}
}

// drainPending handles queued messages without waiting for the notify
// channel, for use between capture frames.
func (o *Orchestrator) drainPending(ctx context.Context) {
	if o.mbox.len() > 0 {
		o.drain(ctx)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev realtime.Event) {
	state := o.State()

	switch ev.Type {
	case realtime.EventSessionCreated:
		o.startPlayback()

	case realtime.EventAudioDelta:
		if !state.receivingResponse() {
			o.logger.Debug("dropping audio outside a turn", "state", state)
			return
		}
		samples, err := ev.Samples()
		if err != nil {
			o.metrics.RecordProtocolError(ctx, "decode")
			o.logger.Warn("dropping undecodable audio delta", "error", err)
			return
		}
		if len(samples) == 0 {
			return
		}
		if state != StateRecording && !o.gotAudio {
			o.gotAudio = true
			o.metrics.FirstAudio.Record(ctx, time.Since(o.commitAt).Seconds())
		}
		if !o.audio.PlaybackEnabled() {
			o.metrics.PlaybackDropped.Add(ctx, 1)
		}
		o.audio.EnqueuePlayback(audioio.Frame{Samples: samples})

	case realtime.EventAudioTranscriptDelta:
		if !state.receivingResponse() {
			return
		}
		o.transcript.WriteString(ev.Delta)
		if o.cfg.Face != nil {
			o.cfg.Face.SetMouth(robot.MouthShapeFor(ev.Delta))
		}

	case realtime.EventAudioDone:
		o.finishTranscript()
		if state == StateAwaitingResponse {
			o.setState(StatePlaying)
		}

	case realtime.EventResponseDone:
		o.onResponseDone(ctx, ev, state)

	case realtime.EventFunctionArgumentsDone:
		o.callFunction(ctx, ev)

	case realtime.EventSpeechStopped:
		if state != StateRecording {
			return
		}
		o.logger.Info("speech stopped")
		if o.cfg.ServerVAD {
			// The service has committed the buffer and is responding.
			o.setState(StateCommitting)
			o.awaitingResponse()
			return
		}
		o.setState(StateCommitting)

	case realtime.EventSpeechStarted:
		o.logger.Debug("speech started", "state", state)

	case realtime.EventInputTranscription:
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			return
		}
		o.mu.Lock()
		o.lastUser = text
		o.mu.Unlock()
		o.logger.Info("user said", "text", text)
		o.notify()

	case realtime.EventError:
		if ev.Error != nil && ev.Error.Code == errCodeCancelNotActive {
			// A cancel crossed the response.done it was meant to cut short,
			// e.g. the greeting finishing while the commit was sent.
			o.logger.Debug("cancel arrived after the response finished", "state", state)
			return
		}
		o.metrics.RecordProtocolError(ctx, "service")
		o.logger.Warn("service error", "error", ev.Error, "state", state)
		if state.Active() {
			var cause error = errors.New("service error")
			if ev.Error != nil {
				cause = ev.Error
			}
			o.abandon(observe.OutcomeError, cause)
		}
	}
}

const errCodeCancelNotActive = "response_cancel_not_active"

func (o *Orchestrator) onResponseDone(ctx context.Context, ev realtime.Event, state State) {
	if o.greetingPending {
		o.greetingPending = false
		o.logger.Debug("greeting finished")
		return
	}
	if state != StateAwaitingResponse && state != StatePlaying {
		return
	}

	o.finishTranscript()
	if ev.Response != nil && ev.Response.Status == "failed" {
		o.abandon(observe.OutcomeError, errors.New("response failed"))
		return
	}

	o.metrics.RecordTurn(ctx, observe.OutcomeCompleted, time.Since(o.turnStart).Seconds())
	o.mu.Lock()
	o.completed++
	o.mu.Unlock()
	o.logger.Info("turn complete", "duration", time.Since(o.turnStart).Round(time.Millisecond))
	o.autoDelay = 0
	o.endTurn()
}

// callFunction runs a function call. Failures are logged and never change
// the conversation state.
func (o *Orchestrator) callFunction(ctx context.Context, ev realtime.Event) {
	if !json.Valid([]byte(ev.Arguments)) {
		o.metrics.RecordFunctionCall(ctx, ev.Name, "malformed")
		o.logger.Warn("ignoring function call with malformed arguments",
			"function", ev.Name,
			"arguments", ev.Arguments,
		)
		return
	}
	if o.dispatch == nil {
		o.metrics.RecordFunctionCall(ctx, ev.Name, "unknown")
		o.logger.Warn("no dispatcher for function call", "function", ev.Name)
		return
	}

	output, err := o.dispatch.Dispatch(ev.Name, ev.Arguments)
	switch {
	case errors.Is(err, actuator.ErrUnknownFunction):
		o.metrics.RecordFunctionCall(ctx, ev.Name, "unknown")
		o.logger.Warn("unknown function", "function", ev.Name)
		return
	case errors.Is(err, actuator.ErrBadArguments):
		o.metrics.RecordFunctionCall(ctx, ev.Name, "bad_arguments")
		o.logger.Warn("bad function arguments", "function", ev.Name, "error", err)
		return
	case err != nil:
		o.metrics.RecordFunctionCall(ctx, ev.Name, "failed")
		o.logger.Error("function call failed", "function", ev.Name, "error", err)
		return
	}

	o.metrics.RecordFunctionCall(ctx, ev.Name, "ok")
	if ev.CallID == "" {
		return
	}
	if err := o.proto.SendFunctionOutput(ev.CallID, output); err != nil {
		o.logger.Warn("could not send function output", "function", ev.Name, "error", err)
	}
}

func (o *Orchestrator) onDisconnect(ctx context.Context, err error) {
	if o.proto.IsReady() {
		// Posted by a connection that has since been replaced, e.g. a
		// failed attempt inside ensureConnected.
		o.logger.Debug("ignoring stale disconnect", "error", err, "state", o.State())
		return
	}
	o.metrics.RecordProtocolError(ctx, "transport")
	o.logger.Warn("connection lost", "error", err, "state", o.State())

	if o.State().Active() {
		o.abandon(observe.OutcomeError, fmt.Errorf("connection lost: %w", err))
	}
	o.scheduleReconnect()
}

func (o *Orchestrator) startPlayback() {
	if err := o.audio.StartPlayback(); err != nil {
		if !o.playbackWarned {
			o.playbackWarned = true
			o.logger.Warn("playback unavailable, continuing text-only", "error", err)
		}
	}
}

func (o *Orchestrator) finishTranscript() {
	if o.cfg.Face != nil {
		o.cfg.Face.SetMouth(robot.MouthRest)
	}
	text := strings.TrimSpace(o.transcript.String())
	o.transcript.Reset()
	if text == "" {
		return
	}

	o.mu.Lock()
	o.lastText = text
	o.mu.Unlock()
	o.logger.Info("assistant said", "text", text)
	o.notify()
}

// abandon ends the current turn early and returns to idle.
func (o *Orchestrator) abandon(outcome string, cause error) {
	state := o.State()
	if state == StateAwaitingResponse || state == StatePlaying {
		if err := o.proto.CancelResponse(); err != nil {
			o.logger.Debug("cancel response", "error", err)
		}
	}
	if n := o.audio.ClearPlayback(); n > 0 {
		o.logger.Debug("cleared playback", "frames", n)
	}
	o.transcript.Reset()
	if o.cfg.Face != nil {
		o.cfg.Face.SetMouth(robot.MouthRest)
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	o.mu.Lock()
	o.abandoned++
	o.lastErr = msg
	o.mu.Unlock()

	o.metrics.RecordTurn(context.Background(), outcome, time.Since(o.turnStart).Seconds())
	o.logger.Warn("turn abandoned", "state", state, "outcome", outcome, "error", cause)
	// Pause before listening again so a persistent fault does not spin.
	o.autoDelay = o.cfg.ReconnectBase
	o.endTurn()
}

func (o *Orchestrator) endTurn() {
	o.greetingPending = false
	o.gotAudio = false
	o.setState(StateIdle)
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		o.mu.Unlock()
		o.logger.Error("illegal state transition ignored", "from", from, "to", to)
		return
	}
	o.state = to
	o.stateSince = time.Now()
	if to == StateIdle {
		o.turnID = ""
	}
	o.mu.Unlock()

	o.logger.Debug("state changed", "from", from, "to", to)
	o.notify()
}

func (o *Orchestrator) notify() {
	if o.cfg.Observer != nil {
		o.cfg.Observer(o.Snapshot())
	}
}
