package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/teslashibe/go-deskman/pkg/audioio"
)

func TestOpenAudio_DegradesOnMissingSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.SinkBackend = "no-such-backend"

	device := openAudio(cfg, logger)
	if device == nil {
		t.Fatal("openAudio returned nil")
	}
	defer device.Close()

	if !device.CaptureEnabled() {
		t.Error("capture should still work")
	}
	if device.PlaybackEnabled() {
		t.Error("playback should be disabled")
	}
	if err := device.StartPlayback(); err == nil {
		t.Error("StartPlayback() should report the disabled sink")
	}
	if n := strings.Count(buf.String(), "audio degraded"); n != 1 {
		t.Errorf("warned %d times, want once:\n%s", n, buf.String())
	}
}

func TestOpenAudio_Healthy(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock

	device := openAudio(cfg, logger)
	defer device.Close()

	if !device.CaptureEnabled() || !device.PlaybackEnabled() {
		t.Error("mock device should be fully enabled")
	}
	if strings.Contains(buf.String(), "audio degraded") {
		t.Errorf("unexpected warning:\n%s", buf.String())
	}
}
