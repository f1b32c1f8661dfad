// Package vadgate is the glasses-companion voice gate: it watches the
// microphone with a VAD and only lets audio travel to the cloud while
// someone is speaking, prefixed with the last few hundred milliseconds
// from before the trigger so word onsets are not clipped.
package vadgate

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/OkGoDoIt/AugmentOS/internal/clock"
)

// Sink receives the gate's output: vad control messages and the audio
// frames worth transmitting.
type Sink interface {
	SendVAD(speaking bool) error
	SendAudio(frame []byte) error
}

// Gate defaults.
const (
	DefaultSampleRate      = 16000
	DefaultFrameSamples    = 512
	DefaultPrebufferFrames = 22 // ~220 ms at 10 ms per frame
	DefaultPollInterval    = 100 * time.Millisecond
)

// Config wires a Gate.
type Config struct {
	Detector Detector
	Sink     Sink
	Clock    clock.Clock

	SampleRate      int
	FrameSamples    int
	PrebufferFrames int
	PollInterval    time.Duration

	// EncodedAudio selects passthrough of encoded frames from
	// IngestEncoded. PCM then only feeds the detector. Off, the gate
	// buffers and forwards the PCM itself.
	EncodedAudio bool
}

// Gate sits between the microphone and the uplink. PCM always feeds the
// detector; whichever representation is being transmitted (PCM or
// encoded) rolls through a small prebuffer that is flushed when speech
// starts, then streams live until speech ends.
type Gate struct {
	det  Detector
	sink Sink
	clk  clock.Clock

	sampleRate   int
	frameSamples int
	prebufMax    int
	pollEvery    time.Duration
	encodedMode  bool

	mu       sync.Mutex
	samples  []int16
	prebuf   [][]byte
	speaking bool
	detected bool
	bypass   bool
}

func New(cfg Config) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	if cfg.PrebufferFrames <= 0 {
		cfg.PrebufferFrames = DefaultPrebufferFrames
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Gate{
		det:          cfg.Detector,
		sink:         cfg.Sink,
		clk:          cfg.Clock,
		sampleRate:   cfg.SampleRate,
		frameSamples: cfg.FrameSamples,
		prebufMax:    cfg.PrebufferFrames,
		pollEvery:    cfg.PollInterval,
		encodedMode:  cfg.EncodedAudio,
	}
}

// SetBypass streams audio regardless of VAD state, for debugging.
func (g *Gate) SetBypass(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bypass = on
}

// Speaking reports the gate's current state.
func (g *Gate) Speaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speaking
}

// IngestPCM feeds one chunk of 16-bit little-endian PCM. The samples
// queue for the detector; in PCM mode the chunk also rolls through the
// prebuffer and streams live while speaking.
func (g *Gate) IngestPCM(chunk []byte) {
	if !g.det.IsReady() {
		slog.Debug("vad not ready, dropping audio", "bytes", len(chunk))
		return
	}

	g.mu.Lock()
	for i := 0; i+1 < len(chunk); i += 2 {
		if len(g.samples) >= g.sampleRate {
			g.samples = g.samples[1:]
		}
		g.samples = append(g.samples, int16(binary.LittleEndian.Uint16(chunk[i:])))
	}
	if g.encodedMode {
		g.mu.Unlock()
		return
	}
	g.bufferLocked(chunk)
	live := g.bypass || g.speaking
	g.mu.Unlock()

	if live {
		g.forward(chunk)
	}
}

// IngestEncoded feeds one already-encoded frame. It participates in
// buffering and forwarding only in encoded mode.
func (g *Gate) IngestEncoded(frame []byte) {
	if !g.encodedMode {
		return
	}
	g.mu.Lock()
	g.bufferLocked(frame)
	live := g.bypass || g.speaking
	g.mu.Unlock()

	if live {
		g.forward(frame)
	}
}

// bufferLocked appends a copy of chunk to the rolling prebuffer.
func (g *Gate) bufferLocked(chunk []byte) {
	g.prebuf = append(g.prebuf, append([]byte(nil), chunk...))
	for len(g.prebuf) > g.prebufMax {
		g.prebuf = g.prebuf[1:]
	}
}

// Poll drains queued samples through the detector and announces state
// transitions: speech start sends vad:true and flushes the prebuffer,
// speech end sends vad:false.
func (g *Gate) Poll() {
	if !g.det.IsReady() {
		return
	}

	g.mu.Lock()
	for len(g.samples) >= g.frameSamples {
		frame := g.samples[:g.frameSamples]
		g.detected = g.det.Detect(frame)
		g.samples = append(g.samples[:0], g.samples[g.frameSamples:]...)
	}
	if g.detected == g.speaking {
		g.mu.Unlock()
		return
	}
	g.speaking = g.detected
	speaking := g.speaking
	var flush [][]byte
	if speaking {
		flush = append(flush, g.prebuf...)
	}
	g.mu.Unlock()

	if err := g.sink.SendVAD(speaking); err != nil {
		slog.Warn("send vad status", "speaking", speaking, "error", err)
	}
	slog.Debug("vad state changed", "speaking", speaking)
	for _, frame := range flush {
		g.forward(frame)
	}
}

// Run polls until ctx is canceled.
func (g *Gate) Run(ctx context.Context) {
	ticker := g.clk.NewTicker(g.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			g.Poll()
		}
	}
}

func (g *Gate) forward(frame []byte) {
	if err := g.sink.SendAudio(frame); err != nil {
		slog.Debug("send audio frame", "bytes", len(frame), "error", err)
	}
}
