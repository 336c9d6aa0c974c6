package robot

import (
	"testing"
	"time"

	"github.com/teslashibe/go-deskman/internal/log"
)

func TestMouthShapeFor(t *testing.T) {
	tests := []struct {
		text string
		want MouthShape
	}{
		{"", MouthRest},
		{"   ", MouthRest},
		{"ok", MouthRest},
		{"Hmm", MouthM},
		{"time", MouthM}, // M beats T and E
		{"fun", MouthF},
		{"hi", MouthF},
		{" the", MouthF},
		{"all", MouthL},
		{"it", MouthT},
		{"LIT", MouthL},
		{"ma", MouthM},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := MouthShapeFor(tt.text); got != tt.want {
				t.Errorf("MouthShapeFor(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func recvFace(t *testing.T, ch <-chan FaceState) FaceState {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no face update")
		return FaceState{}
	}
}

func TestFace_SubscribeGetsCurrentState(t *testing.T) {
	f := NewFace(log.Discard())
	_ = f.SetExpression(5, 1)

	ch, cancel := f.Subscribe()
	defer cancel()

	s := recvFace(t, ch)
	if s.Eyes != 5 || s.Smile != 1 || s.Mouth != MouthRest {
		t.Errorf("initial state = %+v", s)
	}
}

func TestFace_PublishesChanges(t *testing.T) {
	f := NewFace(log.Discard())
	ch, cancel := f.Subscribe()
	defer cancel()
	recvFace(t, ch)

	f.SetMouth(MouthM)
	if s := recvFace(t, ch); s.Mouth != MouthM {
		t.Errorf("mouth = %q, want M", s.Mouth)
	}

	// Same shape again does not publish.
	f.SetMouth(MouthM)
	select {
	case s := <-ch:
		t.Errorf("unexpected update %+v", s)
	default:
	}
}

func TestFace_SlowSubscriberSeesLatest(t *testing.T) {
	f := NewFace(log.Discard())
	ch, cancel := f.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		_ = f.SetExpression(i, 0)
	}

	s := recvFace(t, ch)
	if s.Eyes != 9 {
		t.Errorf("eyes = %d, want latest 9", s.Eyes)
	}
}

func TestFace_Cancel(t *testing.T) {
	f := NewFace(log.Discard())
	ch, cancel := f.Subscribe()
	recvFace(t, ch)

	cancel()
	cancel()
	_ = f.SetExpression(1, 1)

	select {
	case s := <-ch:
		t.Errorf("update after cancel: %+v", s)
	default:
	}
	if got := f.State(); got.Eyes != 1 {
		t.Errorf("State().Eyes = %d", got.Eyes)
	}
}
