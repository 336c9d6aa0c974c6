package audioio

import (
	"testing"
	"time"
)

func TestPlaybackQueue_Order(t *testing.T) {
	q := NewPlaybackQueue()
	for i := 0; i < 3; i++ {
		q.Push(Frame{Samples: []int16{int16(i)}})
	}

	for i := 0; i < 3; i++ {
		f, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d: queue reported closed", i)
		}
		if f.Samples[0] != int16(i) {
			t.Errorf("Pop %d: got %d", i, f.Samples[0])
		}
	}
}

func TestPlaybackQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewPlaybackQueue()
	got := make(chan Frame, 1)

	go func() {
		f, _ := q.Pop()
		got <- f
	}()

	select {
	case <-got:
		t.Fatal("Pop returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(Frame{Samples: []int16{42}})

	select {
	case f := <-got:
		if f.Samples[0] != 42 {
			t.Errorf("Expected 42, got %d", f.Samples[0])
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestPlaybackQueue_CloseDrains(t *testing.T) {
	q := NewPlaybackQueue()
	q.Push(Frame{Samples: []int16{1}})
	q.Push(Frame{Samples: []int16{2}})
	q.Close()

	for i := 0; i < 2; i++ {
		if _, ok := q.Pop(); !ok {
			t.Fatalf("Pop %d: expected queued frame after Close", i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Expected closed and drained queue to report false")
	}

	q.Open()
	q.Push(Frame{Samples: []int16{3}})
	if f, ok := q.Pop(); !ok || f.Samples[0] != 3 {
		t.Errorf("Reopened queue: got %v, %v", f, ok)
	}
}

func TestPlaybackQueue_CloseWakesWaiter(t *testing.T) {
	q := NewPlaybackQueue()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected Pop to report false after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the waiting consumer")
	}
}

func TestPlaybackQueue_Clear(t *testing.T) {
	q := NewPlaybackQueue()
	q.Push(Frame{})
	q.Push(Frame{})

	if n := q.Clear(); n != 2 {
		t.Errorf("Expected 2 cleared, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}
}
