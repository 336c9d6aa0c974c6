package assistant

import (
	"sync"

	"github.com/teslashibe/go-deskman/pkg/realtime"
)

// message is one item handed from the network goroutine to the control
// goroutine: an inbound event or a lost connection.
type message struct {
	event      realtime.Event
	disconnect error
}

// mailbox is an unbounded FIFO with a one-slot notify channel. Post never
// blocks, so the network goroutine is never stalled by the control loop.
type mailbox struct {
	mu     sync.Mutex
	items  []message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg message) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// ready fires after one or more posts. A wakeup may find take empty if a
// non-blocking take already consumed the messages.
func (m *mailbox) ready() <-chan struct{} {
	return m.notify
}

// take removes and returns everything posted so far, in order.
func (m *mailbox) take() []message {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
