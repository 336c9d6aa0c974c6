package robot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-deskman/internal/httpc"
)

// Servo motion profile used for every head move.
const (
	DefaultServoSpeed = 300
	DefaultServoAcc   = 10
)

// HTTPServoDriver sends positions to the servo bridge daemon, which owns
// the serial link to the bus servos.
type HTTPServoDriver struct {
	BaseURL string
	Speed   int
	Acc     int
	Timeout time.Duration

	client *http.Client
}

// NewHTTPServoDriver creates a driver for the bridge at baseURL
// (for example "http://localhost:8100").
func NewHTTPServoDriver(baseURL string) *HTTPServoDriver {
	return &HTTPServoDriver{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Speed:   DefaultServoSpeed,
		Acc:     DefaultServoAcc,
		Timeout: 2 * time.Second,
		client:  httpc.NewClient(2 * time.Second),
	}
}

type servoCommand struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Speed int `json:"speed"`
	Acc   int `json:"acc"`
}

// SetPosition posts the absolute position to /api/servos/position.
func (d *HTTPServoDriver) SetPosition(x, y int) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	err := httpc.PostJSON(ctx, d.client, d.BaseURL+"/api/servos/position", servoCommand{
		X:     x,
		Y:     y,
		Speed: d.Speed,
		Acc:   d.Acc,
	})
	if err != nil {
		return fmt.Errorf("servo bridge: %w", err)
	}
	return nil
}

// LogServoDriver logs positions instead of moving anything. It is used
// when no servo bridge is configured.
type LogServoDriver struct {
	Logger *slog.Logger
}

// SetPosition logs the requested position.
func (d *LogServoDriver) SetPosition(x, y int) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("servo position (dry run)", "x", x, "y", y)
	return nil
}
