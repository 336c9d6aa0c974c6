package assistant

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-deskman/pkg/realtime"
)

func TestEveryStateReturnsToIdle(t *testing.T) {
	for _, s := range States() {
		if s == StateIdle {
			continue
		}
		assert.True(t, CanTransition(s, StateIdle), "%s cannot fall back to idle", s)
	}
}

func TestEveryStateReachable(t *testing.T) {
	seen := map[State]bool{StateIdle: true}
	queue := []State{StateIdle}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range transitions[s] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, s := range States() {
		assert.True(t, seen[s], "%s unreachable from idle", s)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateWaitingForWakeword, true},
		{StateIdle, StateRecording, false},
		{StateWaitingForWakeword, StateRecording, true},
		{StateRecording, StateCommitting, true},
		{StateRecording, StateAwaitingResponse, false},
		{StateCommitting, StateAwaitingResponse, true},
		{StateAwaitingResponse, StatePlaying, true},
		{StatePlaying, StateAwaitingResponse, false},
		{StatePlaying, StateRecording, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(Snapshot{State: StateAwaitingResponse})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"awaiting_response"`)
	assert.Equal(t, "unknown", State(42).String())
}

func TestMailboxKeepsOrder(t *testing.T) {
	m := newMailbox()
	for _, typ := range []string{"a", "b", "c"} {
		m.post(message{event: realtime.Event{Type: typ}})
	}
	m.post(message{disconnect: errBoom})

	select {
	case <-m.ready():
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	got := m.take()
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0].event.Type)
	assert.Equal(t, "b", got[1].event.Type)
	assert.Equal(t, "c", got[2].event.Type)
	assert.ErrorIs(t, got[3].disconnect, errBoom)

	assert.Empty(t, m.take())
	assert.Zero(t, m.len())
}

func TestMailboxPostNeverBlocks(t *testing.T) {
	m := newMailbox()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			m.post(message{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post blocked without a reader")
	}
	assert.Equal(t, 1000, m.len())
}

func TestBackoff(t *testing.T) {
	c := DefaultConfig()
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, c.backoff(i+1), "attempt %d", i+1)
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())

	c.FramesPerTurn = 0
	c.ReconnectMax = time.Millisecond
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frames per turn")
	assert.Contains(t, err.Error(), "reconnect backoff")
}
