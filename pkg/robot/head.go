package robot

import (
	"fmt"
	"log/slog"
	"sync"
)

// Servo limits and the resting position, in servo steps.
const (
	HomeX = 950
	HomeY = 1680

	MinPosition = 0
	MaxPosition = 2000
)

// Position is an absolute head position in servo steps.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Clamp restricts both axes to the servo range.
func (p Position) Clamp() Position {
	return Position{
		X: clamp(p.X, MinPosition, MaxPosition),
		Y: clamp(p.Y, MinPosition, MaxPosition),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Head tracks the absolute head position and turns relative moves into
// clamped servo commands.
type Head struct {
	driver ServoDriver
	logger *slog.Logger

	mu       sync.Mutex
	pos      Position
	lastSent *Position
	moves    uint64
	skipped  uint64
	errors   uint64
}

// NewHead creates a head resting at the home position.
func NewHead(driver ServoDriver, logger *slog.Logger) *Head {
	if logger == nil {
		logger = slog.Default()
	}
	return &Head{
		driver: driver,
		logger: logger.With("component", "robot.head"),
		pos:    Position{X: HomeX, Y: HomeY},
	}
}

// MoveHead adds (dx, dy) to the current position, clamps the result to
// the servo range and sends it. A move that lands on the position already
// sent (for example, pushing against a limit) is skipped.
func (h *Head) MoveHead(dx, dy int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	target := Position{X: h.pos.X + dx, Y: h.pos.Y + dy}.Clamp()
	h.pos = target
	h.moves++

	if h.lastSent != nil && *h.lastSent == target {
		h.skipped++
		h.logger.Debug("head already at target", "x", target.X, "y", target.Y)
		return nil
	}
	if h.driver == nil {
		return nil
	}

	if err := h.driver.SetPosition(target.X, target.Y); err != nil {
		h.errors++
		return fmt.Errorf("move head to (%d, %d): %w", target.X, target.Y, err)
	}
	sent := target
	h.lastSent = &sent

	h.logger.Info("head moved", "dx", dx, "dy", dy, "x", target.X, "y", target.Y)
	return nil
}

// Home returns the head to its resting position.
func (h *Head) Home() error {
	pos := h.Position()
	return h.MoveHead(HomeX-pos.X, HomeY-pos.Y)
}

// Position returns the current absolute position.
func (h *Head) Position() Position {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// HeadStats is a snapshot of head counters.
type HeadStats struct {
	Position Position `json:"position"`
	Moves    uint64   `json:"moves"`
	Skipped  uint64   `json:"skipped"`
	Errors   uint64   `json:"errors"`
}

// Stats returns head counters.
func (h *Head) Stats() HeadStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeadStats{Position: h.pos, Moves: h.moves, Skipped: h.skipped, Errors: h.errors}
}
