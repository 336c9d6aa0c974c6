package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting again should be a no-op
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestMockSource_Read(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(chunk.Samples) != cfg.BufferSize() {
		t.Errorf("Expected %d samples, got %d", cfg.BufferSize(), len(chunk.Samples))
	}
	if chunk.SampleRate != cfg.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, chunk.SampleRate)
	}
}

func TestMockSource_ReadAfterStop(t *testing.T) {
	cfg := DefaultConfig()
	src := NewMockSource(cfg, nil, WithUnpaced())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Buffered chunks may still drain; the stream must end with EOF.
	for {
		_, err := src.Read(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Expected io.EOF after stop, got %v", err)
		}
		break
	}
}

func TestMockSource_SineWave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	hasNonZero := false
	for _, s := range chunk.Samples {
		if s != 0 {
			hasNonZero = true
			break
		}
	}
	if !hasNonZero {
		t.Error("Expected non-zero samples from sine wave generator")
	}
}

func TestMockSource_Close(t *testing.T) {
	cfg := DefaultConfig()
	src := NewMockSource(cfg, nil)

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Start after close should fail
	if err := src.Start(ctx); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after close, got: %v", err)
	}

	// Closing again should be a no-op
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestMockSource_Stats(t *testing.T) {
	cfg := DefaultConfig()
	src := NewMockSource(cfg, nil, WithUnpaced())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := src.Read(ctx); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}

	stats := src.Stats()
	if stats.ChunksRead < 3 {
		t.Errorf("Expected at least 3 chunks read, got %d", stats.ChunksRead)
	}
	if stats.Backend != "mock" {
		t.Errorf("Expected backend 'mock', got '%s'", stats.Backend)
	}
}

func TestMockSink_Write(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMockSink(cfg, nil)
	defer sink.Close()

	ctx := context.Background()
	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frame := Frame{Samples: []int16{1, 2, 3}, SampleRate: 24000}
	if err := sink.Write(ctx, frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Write(ctx, Frame{Samples: []int16{4}, SampleRate: 24000}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	frames := sink.Frames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames recorded, got %d", len(frames))
	}
	if frames[1].Samples[0] != 4 {
		t.Errorf("Frames out of order: %v", frames)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 2 || stats.SamplesWritten != 4 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestMockSink_NotRunning(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMockSink(cfg, nil)
	defer sink.Close()

	err := sink.Write(context.Background(), Frame{Samples: make([]int16, 480), SampleRate: 24000})
	if err == nil {
		t.Error("Expected error when writing to non-running sink")
	}
}

func TestFrame_Bytes(t *testing.T) {
	frame := Frame{Samples: []int16{0x0102, 0x0304, -1}, SampleRate: 24000}

	b := frame.Bytes()
	if len(b) != 6 {
		t.Fatalf("Expected 6 bytes, got %d", len(b))
	}
	// little-endian
	if b[0] != 0x02 || b[1] != 0x01 {
		t.Errorf("First sample not encoded correctly: %v", b[0:2])
	}
	if b[4] != 0xFF || b[5] != 0xFF {
		t.Errorf("Negative sample not encoded correctly: %v", b[4:6])
	}
}

func TestFrameFromBytes(t *testing.T) {
	frame := FrameFromBytes([]byte{0x02, 0x01, 0x04, 0x03, 0xFF, 0xFF, 0x7F}, 24000)

	if len(frame.Samples) != 3 {
		t.Fatalf("Expected 3 samples (odd byte dropped), got %d", len(frame.Samples))
	}
	if frame.Samples[0] != 0x0102 {
		t.Errorf("First sample incorrect: got %d, expected %d", frame.Samples[0], 0x0102)
	}
	if frame.Samples[2] != -1 {
		t.Errorf("Third sample incorrect: got %d, expected -1", frame.Samples[2])
	}
}

func TestFrame_Duration(t *testing.T) {
	frame := Frame{Samples: make([]int16, 480), SampleRate: 24000}

	if got := frame.Duration(); got != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", got)
	}
	if got := (Frame{Samples: make([]int16, 10)}).Duration(); got != 0 {
		t.Errorf("Expected 0 for unknown sample rate, got %v", got)
	}
}
