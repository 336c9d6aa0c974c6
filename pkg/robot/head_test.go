package robot

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/teslashibe/go-deskman/internal/log"
)

// mockDriver records every position sent.
type mockDriver struct {
	mu    sync.Mutex
	calls []Position
	err   error
}

func (m *mockDriver) SetPosition(x, y int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, Position{X: x, Y: y})
	return nil
}

func (m *mockDriver) last() (Position, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Position{}, 0
	}
	return m.calls[len(m.calls)-1], len(m.calls)
}

func TestHead_StartsAtHome(t *testing.T) {
	h := NewHead(&mockDriver{}, log.Discard())
	if got := h.Position(); got != (Position{X: HomeX, Y: HomeY}) {
		t.Errorf("Position() = %+v, want home", got)
	}
}

func TestHead_MoveIsRelative(t *testing.T) {
	drv := &mockDriver{}
	h := NewHead(drv, log.Discard())

	if err := h.MoveHead(800, 0); err != nil {
		t.Fatalf("MoveHead: %v", err)
	}
	if err := h.MoveHead(0, -200); err != nil {
		t.Fatalf("MoveHead: %v", err)
	}

	got, n := drv.last()
	if n != 2 {
		t.Fatalf("driver calls = %d, want 2", n)
	}
	if want := (Position{X: 1750, Y: 1480}); got != want {
		t.Errorf("last position = %+v, want %+v", got, want)
	}
}

func TestHead_Clamps(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy int
		want   Position
	}{
		{"right past zero", -2000, 0, Position{X: 0, Y: HomeY}},
		{"up past max", 0, 1000, Position{X: HomeX, Y: 2000}},
		{"both past max", 5000, 5000, Position{X: 2000, Y: 2000}},
		{"within range", 100, -100, Position{X: 1050, Y: 1580}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &mockDriver{}
			h := NewHead(drv, log.Discard())
			if err := h.MoveHead(tt.dx, tt.dy); err != nil {
				t.Fatalf("MoveHead: %v", err)
			}
			got, _ := drv.last()
			if got != tt.want {
				t.Errorf("sent %+v, want %+v", got, tt.want)
			}
			if h.Position() != tt.want {
				t.Errorf("Position() = %+v, want %+v", h.Position(), tt.want)
			}
		})
	}
}

func TestHead_SkipsRepeatAtLimit(t *testing.T) {
	drv := &mockDriver{}
	h := NewHead(drv, log.Discard())

	for i := 0; i < 3; i++ {
		if err := h.MoveHead(0, 200); err != nil {
			t.Fatalf("MoveHead: %v", err)
		}
	}
	// 1680 -> 1880 -> 2000 -> 2000 (skipped)
	if _, n := drv.last(); n != 2 {
		t.Errorf("driver calls = %d, want 2", n)
	}
	if s := h.Stats(); s.Moves != 3 || s.Skipped != 1 {
		t.Errorf("stats = %+v, want 3 moves, 1 skipped", s)
	}
}

func TestHead_DriverError(t *testing.T) {
	drv := &mockDriver{err: errors.New("bus timeout")}
	h := NewHead(drv, log.Discard())

	err := h.MoveHead(0, 200)
	if err == nil || !errors.Is(err, drv.err) {
		t.Fatalf("MoveHead error = %v, want wrapped driver error", err)
	}
	if h.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", h.Stats().Errors)
	}

	// A failed send is retried on the next move to the same target.
	drv.err = nil
	if err := h.MoveHead(0, 0); err != nil {
		t.Fatalf("MoveHead: %v", err)
	}
	if _, n := drv.last(); n != 1 {
		t.Errorf("driver calls = %d, want 1", n)
	}
}

func TestHead_Home(t *testing.T) {
	drv := &mockDriver{}
	h := NewHead(drv, log.Discard())
	_ = h.MoveHead(-800, 200)

	if err := h.Home(); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if got, _ := drv.last(); got != (Position{X: HomeX, Y: HomeY}) {
		t.Errorf("after Home sent %+v", got)
	}
}

func TestHTTPServoDriver(t *testing.T) {
	var got servoCommand
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewHTTPServoDriver(srv.URL + "/")
	if err := d.SetPosition(1200, 1500); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	if path != "/api/servos/position" {
		t.Errorf("path = %q", path)
	}
	want := servoCommand{X: 1200, Y: 1500, Speed: DefaultServoSpeed, Acc: DefaultServoAcc}
	if got != want {
		t.Errorf("body = %+v, want %+v", got, want)
	}
}

func TestHTTPServoDriver_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "serial port busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPServoDriver(srv.URL).SetPosition(0, 0)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLogServoDriver(t *testing.T) {
	d := &LogServoDriver{Logger: log.Discard()}
	if err := d.SetPosition(1, 2); err != nil {
		t.Errorf("SetPosition: %v", err)
	}
}
