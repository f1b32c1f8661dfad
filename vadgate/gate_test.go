package vadgate

import (
	"context"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/OkGoDoIt/AugmentOS/internal/clock"
)

// stubDetector reports whatever the test scripts.
type stubDetector struct {
	mu       sync.Mutex
	ready    bool
	speaking bool
}

func (d *stubDetector) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *stubDetector) Detect([]int16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *stubDetector) set(ready, speaking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = ready
	d.speaking = speaking
}

// fakeSink logs vad transitions and forwarded frames in order. Frames
// are identified by their first byte.
type fakeSink struct {
	mu  sync.Mutex
	log []string
}

func (s *fakeSink) SendVAD(speaking bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("vad:%v", speaking))
	return nil
}

func (s *fakeSink) SendAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf("audio:%d", p[0]))
	return nil
}

func (s *fakeSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// pcmChunk builds one detector frame of little-endian PCM whose first
// byte tags the chunk.
func pcmChunk(tag byte, samples int) []byte {
	p := make([]byte, samples*2)
	binary.LittleEndian.PutUint16(p, uint16(tag))
	return p
}

func newTestGate(cfg Config) (*Gate, *stubDetector, *fakeSink) {
	det := &stubDetector{ready: true}
	sink := &fakeSink{}
	cfg.Detector = det
	cfg.Sink = sink
	return New(cfg), det, sink
}

func TestSilentToSpeakingFlushesPrebuffer(t *testing.T) {
	g, det, sink := newTestGate(Config{})

	for i := 0; i < 3; i++ {
		g.IngestPCM(pcmChunk(byte(i), 512))
	}
	g.Poll()
	if got := sink.events(); len(got) != 0 {
		t.Fatalf("silent audio leaked: %v", got)
	}

	det.set(true, true)
	g.IngestPCM(pcmChunk(9, 512))
	g.Poll()

	want := []string{"vad:true", "audio:0", "audio:1", "audio:2", "audio:9"}
	if got := sink.events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("speech start = %v, want %v", got, want)
	}
	if !g.Speaking() {
		t.Fatal("gate should report speaking")
	}

	g.IngestPCM(pcmChunk(7, 512))
	if got := sink.events(); got[len(got)-1] != "audio:7" {
		t.Fatalf("live audio not forwarded: %v", got)
	}
}

func TestSpeakingToSilentStopsForwarding(t *testing.T) {
	g, det, sink := newTestGate(Config{})

	det.set(true, true)
	g.IngestPCM(pcmChunk(1, 512))
	g.Poll()

	det.set(true, false)
	// The chunk carrying the silence still goes out live; the state only
	// flips at the next poll.
	g.IngestPCM(pcmChunk(2, 512))
	g.Poll()
	if got := sink.events(); got[len(got)-1] != "vad:false" {
		t.Fatalf("speech end = %v, want trailing vad:false", got)
	}

	n := len(sink.events())
	g.IngestPCM(pcmChunk(3, 512))
	if got := sink.events(); len(got) != n {
		t.Fatalf("silent audio forwarded after speech end: %v", got[n:])
	}
	if g.Speaking() {
		t.Fatal("gate should report silent")
	}
}

func TestBypassForwardsWhileSilent(t *testing.T) {
	g, _, sink := newTestGate(Config{})
	g.SetBypass(true)

	g.IngestPCM(pcmChunk(1, 512))
	g.Poll()

	want := []string{"audio:1"}
	if got := sink.events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("bypass = %v, want %v", got, want)
	}
}

func TestPrebufferKeepsMostRecentFrames(t *testing.T) {
	g, det, sink := newTestGate(Config{PrebufferFrames: 4})

	for i := 0; i < 10; i++ {
		g.IngestPCM(pcmChunk(byte(i), 512))
	}
	det.set(true, true)
	g.Poll()

	want := []string{"vad:true", "audio:6", "audio:7", "audio:8", "audio:9"}
	if got := sink.events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("flush = %v, want %v", got, want)
	}
}

func TestNotReadyDropsAudio(t *testing.T) {
	g, det, sink := newTestGate(Config{})
	det.set(false, false)

	g.IngestPCM(pcmChunk(1, 512))
	g.Poll()
	if got := sink.events(); len(got) != 0 {
		t.Fatalf("audio before readiness leaked: %v", got)
	}

	det.set(true, true)
	g.IngestPCM(pcmChunk(2, 512))
	g.Poll()

	// Only audio ingested after readiness is buffered.
	want := []string{"vad:true", "audio:2"}
	if got := sink.events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("flush = %v, want %v", got, want)
	}
}

func TestEncodedModePassesEncodedFramesOnly(t *testing.T) {
	g, det, sink := newTestGate(Config{EncodedAudio: true})

	g.IngestEncoded([]byte{50})
	g.IngestPCM(pcmChunk(1, 512)) // detector feed only
	g.Poll()
	if got := sink.events(); len(got) != 0 {
		t.Fatalf("silent encoded audio leaked: %v", got)
	}

	det.set(true, true)
	g.IngestPCM(pcmChunk(2, 512))
	g.Poll()
	g.IngestEncoded([]byte{51})

	want := []string{"vad:true", "audio:50", "audio:51"}
	if got := sink.events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("encoded flow = %v, want %v", got, want)
	}
}

func TestEnergyDetectorHangover(t *testing.T) {
	d := NewEnergyDetector(0.1, 2)

	loud := make([]int16, 512)
	for i := range loud {
		loud[i] = 16000
	}
	quiet := make([]int16, 512)

	if !d.Detect(loud) {
		t.Fatal("loud frame should detect speech")
	}
	if !d.Detect(quiet) || !d.Detect(quiet) {
		t.Fatal("hangover frames should stay in speech")
	}
	if d.Detect(quiet) {
		t.Fatal("hangover exhausted, frame should be silent")
	}
	if !d.IsReady() {
		t.Fatal("energy detector is always ready")
	}
}

func TestRunPollsOnTicker(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	g, det, sink := newTestGate(Config{Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	det.set(true, true)
	g.IngestPCM(pcmChunk(1, 512))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		clk.Advance(100 * time.Millisecond)
		if len(sink.events()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := sink.events(); len(got) == 0 || got[0] != "vad:true" {
		t.Fatalf("ticker-driven poll produced %v", got)
	}

	cancel()
	<-done
}
