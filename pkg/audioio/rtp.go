package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

const (
	rtpPayloadTypeOpus = 111
	rtpOpusClockRate   = 48000
	rtpFrameDuration   = 20 * time.Millisecond
	maxOpusPacket      = 4000
)

// RTPSink encodes playback audio as Opus and streams it as RTP over UDP,
// for robots whose speaker is attached to a separate media endpoint.
//
// Frames are cut into 20ms Opus frames and paced in real time so the
// receiver's jitter buffer stays shallow.
type RTPSink struct {
	cfg    Config
	logger *slog.Logger
	addr   string

	mu       sync.Mutex
	running  bool
	closed   bool
	conn     net.Conn
	enc      *opus.Encoder
	pending  []int16
	seq      uint16
	ts       uint32
	ssrc     uint32
	nextSend time.Time
	opusBuf  []byte

	packetsSent    atomic.Int64
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
}

func newRTPSink(cfg Config, logger *slog.Logger) (Sink, error) {
	addr := cfg.sinkDevice()
	if addr == "" {
		return nil, errors.New("rtp: sink_device must be host:port")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("rtp: sink_device %q: %w", addr, err)
	}
	return &RTPSink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.rtp"),
		addr:   addr,
	}, nil
}

// frameSamples returns the number of samples in one 20ms Opus frame.
func (s *RTPSink) frameSamples() int {
	return s.cfg.SampleRate * int(rtpFrameDuration/time.Millisecond) / 1000
}

// Start dials the UDP destination and creates the encoder.
func (s *RTPSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	enc, err := opus.NewEncoder(s.cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("rtp: opus encoder: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("rtp: dial %s: %w", s.addr, err)
	}

	s.conn = conn
	s.enc = enc
	s.ssrc = rand.Uint32()
	s.seq = uint16(rand.Uint32())
	s.ts = rand.Uint32()
	s.opusBuf = make([]byte, maxOpusPacket)
	s.nextSend = time.Time{}
	s.running = true

	s.logger.Info("RTP playback started", "dest", s.addr, "ssrc", s.ssrc)
	return nil
}

// Write encodes whole 20ms frames and sends them. A partial tail is kept
// until the next Write or zero-padded on Stop.
func (s *RTPSink) Write(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return io.ErrClosedPipe
	}

	s.pending = append(s.pending, frame.Samples...)
	n := s.frameSamples()
	for len(s.pending) >= n {
		if err := s.sendFrameLocked(ctx, s.pending[:n]); err != nil {
			return err
		}
		s.pending = s.pending[n:]
	}

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(frame.Samples)))
	return nil
}

func (s *RTPSink) sendFrameLocked(ctx context.Context, pcm []int16) error {
	if err := s.pace(ctx); err != nil {
		return err
	}

	n, err := s.enc.Encode(pcm, s.opusBuf)
	if err != nil {
		return fmt.Errorf("rtp: opus encode: %w", err)
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayloadTypeOpus,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: s.opusBuf[:n],
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtp: marshal: %w", err)
	}
	if _, err := s.conn.Write(raw); err != nil {
		return fmt.Errorf("rtp: send: %w", err)
	}

	s.seq++
	s.ts += uint32(rtpOpusClockRate * rtpFrameDuration / time.Second)
	s.packetsSent.Add(1)
	return nil
}

// pace waits until the next 20ms slot. After an idle gap the schedule
// restarts from now instead of bursting to catch up.
func (s *RTPSink) pace(ctx context.Context) error {
	now := time.Now()
	if s.nextSend.Before(now) {
		s.nextSend = now
	}
	if wait := s.nextSend.Sub(now); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.nextSend = s.nextSend.Add(rtpFrameDuration)
	return nil
}

// Stop flushes the zero-padded tail and closes the socket.
func (s *RTPSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var flushErr error
	if len(s.pending) > 0 {
		tail := make([]int16, s.frameSamples())
		copy(tail, s.pending)
		flushErr = s.sendFrameLocked(context.Background(), tail)
		s.pending = nil
	}

	s.running = false
	closeErr := s.conn.Close()
	s.conn = nil
	return errors.Join(flushErr, closeErr)
}

// Config returns the audio configuration.
func (s *RTPSink) Config() Config { return s.cfg }

// Name returns "rtp".
func (s *RTPSink) Name() string { return "rtp" }

// Close stops playback and prevents restarts.
func (s *RTPSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *RTPSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        "rtp",
	}
}

var _ SinkWithStats = (*RTPSink)(nil)
