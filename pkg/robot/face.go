package robot

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MouthShape is the viseme drawn on the face while speaking.
type MouthShape string

const (
	MouthRest MouthShape = "_"
	MouthM    MouthShape = "M" // lips closed: m, b, p
	MouthF    MouthShape = "F" // teeth on lip, also open vowels
	MouthL    MouthShape = "L"
	MouthT    MouthShape = "T"
)

// MouthShapeFor picks a mouth shape for a fragment of spoken text. The
// check is case-insensitive and ordered: M, then any of F/H/E, then L,
// then T.
func MouthShapeFor(text string) MouthShape {
	upper := strings.ToUpper(text)
	switch {
	case strings.ContainsRune(upper, 'M'):
		return MouthM
	case strings.ContainsAny(upper, "FHE"):
		return MouthF
	case strings.ContainsRune(upper, 'L'):
		return MouthL
	case strings.ContainsRune(upper, 'T'):
		return MouthT
	default:
		return MouthRest
	}
}

// FaceState is what the face renderer draws.
type FaceState struct {
	Eyes      int        `json:"eyes"`
	Smile     int        `json:"smile"`
	Mouth     MouthShape `json:"mouth"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Face holds the current face state and fans changes out to subscribers.
// Slow subscribers miss intermediate states but always see the latest.
type Face struct {
	logger *slog.Logger

	mu     sync.Mutex
	state  FaceState
	subs   map[int]chan FaceState
	nextID int
}

// NewFace creates a neutral face.
func NewFace(logger *slog.Logger) *Face {
	if logger == nil {
		logger = slog.Default()
	}
	return &Face{
		logger: logger.With("component", "robot.face"),
		state:  FaceState{Mouth: MouthRest, UpdatedAt: time.Now()},
		subs:   make(map[int]chan FaceState),
	}
}

// SetExpression sets the eye and smile parameters.
func (f *Face) SetExpression(eyes, smile int) error {
	f.update(func(s *FaceState) {
		s.Eyes = eyes
		s.Smile = smile
	})
	f.logger.Info("face expression", "eyes", eyes, "smile", smile)
	return nil
}

// SetMouth sets the mouth shape. Repeating the current shape is a no-op.
func (f *Face) SetMouth(shape MouthShape) {
	f.mu.Lock()
	same := f.state.Mouth == shape
	f.mu.Unlock()
	if same {
		return
	}
	f.update(func(s *FaceState) { s.Mouth = shape })
}

func (f *Face) update(mutate func(*FaceState)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	mutate(&f.state)
	f.state.UpdatedAt = time.Now()
	for _, ch := range f.subs {
		publishLatest(ch, f.state)
	}
}

// publishLatest replaces whatever the subscriber has not read yet.
func publishLatest(ch chan FaceState, s FaceState) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// State returns the current face state.
func (f *Face) State() FaceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe returns a channel that receives the current state immediately
// and every change after it. Call cancel to unsubscribe.
func (f *Face) Subscribe() (updates <-chan FaceState, cancel func()) {
	ch := make(chan FaceState, 1)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	ch <- f.state
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}
