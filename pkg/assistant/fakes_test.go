package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-deskman/pkg/audioio"
	"github.com/teslashibe/go-deskman/pkg/realtime"
	"github.com/teslashibe/go-deskman/pkg/robot"
	"github.com/teslashibe/go-deskman/pkg/wakeword"
)

// fakeProtocol records outbound calls in order and lets tests inject
// inbound traffic through the installed handler.
type fakeProtocol struct {
	mu         sync.Mutex
	handler    realtime.Handler
	ready      bool
	ops        []string
	appended   []int
	connects   int
	connectErr error
	// rejectFirst makes the first Connect lose its session before it is
	// ready, posting a disconnect the way the real client does.
	rejectFirst error
	sendErr     error
	closed      bool
}

func (p *fakeProtocol) SetHandler(h realtime.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *fakeProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connects++
	if p.connectErr != nil {
		err := p.connectErr
		p.mu.Unlock()
		return err
	}
	if p.rejectFirst != nil && p.connects == 1 {
		err := p.rejectFirst
		p.ready = false
		h := p.handler
		p.mu.Unlock()
		if h != nil {
			h.HandleDisconnect(err)
		}
		return nil
	}
	p.ready = true
	h := p.handler
	p.mu.Unlock()

	if h != nil {
		h.HandleEvent(realtime.Event{Type: realtime.EventSessionCreated})
		h.HandleEvent(realtime.Event{Type: realtime.EventSessionUpdated})
	}
	return nil
}

func (p *fakeProtocol) WaitReady(ctx context.Context) error {
	if p.IsReady() {
		return nil
	}
	return realtime.ErrNotConnected
}

func (p *fakeProtocol) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakeProtocol) State() realtime.State {
	if p.IsReady() {
		return realtime.StateReady
	}
	return realtime.StateDisconnected
}

func (p *fakeProtocol) record(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return realtime.ErrNotConnected
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.ops = append(p.ops, op)
	return nil
}

func (p *fakeProtocol) AppendAudio(samples []int16) error {
	if err := p.record("append"); err != nil {
		return err
	}
	p.mu.Lock()
	p.appended = append(p.appended, len(samples))
	p.mu.Unlock()
	return nil
}

func (p *fakeProtocol) CommitAudio() error    { return p.record("commit") }
func (p *fakeProtocol) CreateResponse() error { return p.record("response.create") }
func (p *fakeProtocol) CancelResponse() error { return p.record("response.cancel") }

func (p *fakeProtocol) SendFunctionOutput(callID, output string) error {
	return p.record("function_output:" + callID + ":" + output)
}

func (p *fakeProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.ready = false
	return nil
}

func (p *fakeProtocol) emit(ev realtime.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	h.HandleEvent(ev)
}

func (p *fakeProtocol) drop(err error) {
	p.mu.Lock()
	p.ready = false
	h := p.handler
	p.mu.Unlock()
	h.HandleDisconnect(err)
}

func (p *fakeProtocol) opsSnapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

// withoutAppends returns the ops other than audio appends.
func (p *fakeProtocol) withoutAppends() []string {
	var out []string
	for _, op := range p.opsSnapshot() {
		if op != "append" {
			out = append(out, op)
		}
	}
	return out
}

func (p *fakeProtocol) count(op string) int {
	n := 0
	for _, o := range p.opsSnapshot() {
		if o == op || strings.HasPrefix(o, op+":") {
			n++
		}
	}
	return n
}

func (p *fakeProtocol) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// fakeAudio produces silent frames and records playback.
type fakeAudio struct {
	mu              sync.Mutex
	captures        []int
	enqueued        []audioio.Frame
	cleared         int
	playbackStarts  int
	playbackStopped bool
	captureErr      error
	captureDelay    time.Duration
	noPlayback      bool
}

func (a *fakeAudio) Capture(ctx context.Context, n int) (audioio.Frame, error) {
	if a.captureDelay > 0 {
		select {
		case <-ctx.Done():
			return audioio.Frame{}, ctx.Err()
		case <-time.After(a.captureDelay):
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.captureErr != nil {
		return audioio.Frame{}, a.captureErr
	}
	a.captures = append(a.captures, n)
	return audioio.Frame{Samples: make([]int16, n), SampleRate: 24000}, nil
}

func (a *fakeAudio) EnqueuePlayback(f audioio.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enqueued = append(a.enqueued, f)
}

func (a *fakeAudio) ClearPlayback() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.enqueued)
	a.enqueued = nil
	a.cleared++
	return n
}

func (a *fakeAudio) StartPlayback() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playbackStarts++
	if a.noPlayback {
		return audioio.ErrPlaybackDisabled
	}
	return nil
}

func (a *fakeAudio) StopPlayback() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playbackStopped = true
	return nil
}

func (a *fakeAudio) PlaybackEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.noPlayback
}

func (a *fakeAudio) enqueuedFrames() []audioio.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audioio.Frame(nil), a.enqueued...)
}

func (a *fakeAudio) captureSizes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.captures...)
}

func (a *fakeAudio) clearCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleared
}

// fakeWake returns whatever the test pushes into results.
type fakeWake struct {
	results     chan wakeword.Event
	unavailable bool
	listens     atomic.Int32
	stopped     atomic.Bool
}

func newFakeWake() *fakeWake {
	return &fakeWake{results: make(chan wakeword.Event, 1)}
}

func (w *fakeWake) Listen(ctx context.Context) (wakeword.Event, error) {
	w.listens.Add(1)
	select {
	case ev := <-w.results:
		return ev, nil
	case <-ctx.Done():
		return wakeword.Event{Result: wakeword.Cancelled}, ctx.Err()
	}
}

func (w *fakeWake) Stop()           { w.stopped.Store(true) }
func (w *fakeWake) Available() bool { return !w.unavailable }

func (w *fakeWake) detect() {
	w.results <- wakeword.Event{Result: wakeword.Detected, Name: "deskman", Timestamp: time.Now()}
}

// fakeHead records head moves for the real actuator dispatcher.
type fakeHead struct {
	mu    sync.Mutex
	moves [][2]int
}

func (h *fakeHead) MoveHead(dx, dy int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, [2]int{dx, dy})
	return nil
}

func (h *fakeHead) calls() [][2]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][2]int(nil), h.moves...)
}

// countingDispatcher wraps a dispatcher and counts calls.
type countingDispatcher struct {
	inner Dispatcher
	calls atomic.Int32
}

func (d *countingDispatcher) Dispatch(name, arguments string) (string, error) {
	d.calls.Add(1)
	return d.inner.Dispatch(name, arguments)
}

// fakeFace records mouth shapes.
type fakeFace struct {
	mu     sync.Mutex
	shapes []robot.MouthShape
}

func (f *fakeFace) SetExpression(eyes, smile int) error { return nil }

func (f *fakeFace) SetMouth(shape robot.MouthShape) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shapes = append(f.shapes, shape)
}

func (f *fakeFace) mouths() []robot.MouthShape {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]robot.MouthShape(nil), f.shapes...)
}

var errBoom = errors.New("boom")
