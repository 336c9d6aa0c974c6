package audioio

import "sync"

// PlaybackQueue is an unbounded FIFO of frames awaiting playback.
//
// Push never blocks. Pop blocks on a condition variable until a frame is
// available or the queue is closed. A closed queue still hands out the
// frames it holds, so a consumer draining until Pop reports false plays
// everything that was enqueued before Close.
type PlaybackQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []Frame
	closed bool
}

// NewPlaybackQueue returns an open, empty queue.
func NewPlaybackQueue() *PlaybackQueue {
	q := &PlaybackQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a frame and wakes one waiting consumer.
func (q *PlaybackQueue) Push(f Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop removes the oldest frame. It blocks while the queue is open and
// empty, and returns false once the queue is closed and drained.
func (q *PlaybackQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return Frame{}, false
	}

	f := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	return f, true
}

// Close marks the queue closed and wakes every waiting consumer.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Open reopens a closed queue. Frames pushed while closed are kept.
func (q *PlaybackQueue) Open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Clear discards all queued frames and returns how many were dropped.
func (q *PlaybackQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.frames)
	q.frames = nil
	return n
}

// Len returns the number of queued frames.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
