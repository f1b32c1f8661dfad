// Package speech runs the cloud half of a session's speech pipeline: one
// recognizer stream per language pair the session's subscriptions need,
// all fed from the same glasses audio, results fanned out with their
// effective stream key.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/OkGoDoIt/AugmentOS/asr"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/stream"
)

// EventHandler receives every recognizer result together with the stream
// key it belongs to. Handlers must not block.
type EventHandler func(key stream.Key, ev asr.Event)

// Config assembles a session pipeline.
type Config struct {
	SessionID  string
	Provider   asr.Provider
	Clock      clock.Clock
	SampleRate int
	// Retention bounds the transcript buffer window.
	Retention time.Duration
	OnEvent   EventHandler
}

// DefaultSampleRate is the glasses microphone rate.
const DefaultSampleRate = 16000

// Pipeline owns a session's recognizer streams. The stream set always
// converges to the language keys handed to UpdateStreams; audio written
// while transcribing is copied into every stream.
type Pipeline struct {
	sessionID  string
	provider   asr.Provider
	sampleRate int
	onEvent    EventHandler

	mu           sync.Mutex
	streams      map[stream.Key]*managedStream
	transcribing bool
	closed       bool

	transcript *TranscriptBuffer
}

type managedStream struct {
	key stream.Key
	s   asr.Stream
	// lastInterim backs the synthesized final when the stream is torn
	// down mid-utterance.
	lastInterim *asr.Event
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Pipeline{
		sessionID:  cfg.SessionID,
		provider:   cfg.Provider,
		sampleRate: cfg.SampleRate,
		onEvent:    cfg.OnEvent,
		streams:    make(map[stream.Key]*managedStream),
		transcript: NewTranscriptBuffer(cfg.Clock, cfg.Retention),
	}
}

// Transcript exposes the session transcript buffer.
func (p *Pipeline) Transcript() *TranscriptBuffer { return p.transcript }

// UpdateStreams converges the recognizer streams onto keys. Keys without
// a language are ignored. A stream removed mid-utterance first emits its
// pending interim as a final so subscribers are not left dangling.
func (p *Pipeline) UpdateStreams(ctx context.Context, keys []stream.Key) {
	desired := make(map[stream.Key]bool, len(keys))
	for _, k := range keys {
		if k.HasLanguage() {
			desired[k] = true
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var toClose []*managedStream
	for k, ms := range p.streams {
		if !desired[k] {
			delete(p.streams, k)
			toClose = append(toClose, ms)
		}
	}

	var toOpen []stream.Key
	for k := range desired {
		if _, ok := p.streams[k]; !ok {
			toOpen = append(toOpen, k)
		}
	}
	p.mu.Unlock()

	for _, ms := range toClose {
		p.closeStream(ms)
	}

	for _, k := range toOpen {
		s, err := p.provider.Open(ctx, asr.StreamConfig{
			Transcribe: k.Language,
			Translate:  k.Target,
			SampleRate: p.sampleRate,
		})
		if err != nil {
			slog.Error("open recognizer stream",
				"sessionId", p.sessionID, "stream", k.String(), "error", err)
			continue
		}
		ms := &managedStream{key: k, s: s}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			s.Close()
			return
		}
		p.streams[k] = ms
		p.mu.Unlock()
		slog.Info("recognizer stream opened",
			"sessionId", p.sessionID, "stream", k.String())
		go p.consume(ms)
	}
}

// closeStream finishes a dangling utterance and closes the stream.
func (p *Pipeline) closeStream(ms *managedStream) {
	p.mu.Lock()
	interim := ms.lastInterim
	ms.lastInterim = nil
	p.mu.Unlock()

	if interim != nil {
		fin := *interim
		fin.IsFinal = true
		p.dispatch(ms.key, fin)
	}
	if err := ms.s.Close(); err != nil {
		slog.Warn("close recognizer stream",
			"sessionId", p.sessionID, "stream", ms.key.String(), "error", err)
	}
	slog.Info("recognizer stream closed",
		"sessionId", p.sessionID, "stream", ms.key.String())
}

// consume pumps one stream's results until it closes.
func (p *Pipeline) consume(ms *managedStream) {
	for ev := range ms.s.Events() {
		p.mu.Lock()
		if ev.IsFinal {
			ms.lastInterim = nil
		} else {
			interim := ev
			ms.lastInterim = &interim
		}
		p.mu.Unlock()
		p.dispatch(ms.key, ev)
	}

	// A nil error here means we closed it ourselves.
	if err := ms.s.Err(); err != nil {
		slog.Warn("recognizer stream died",
			"sessionId", p.sessionID, "stream", ms.key.String(), "error", err)
		p.mu.Lock()
		if p.streams[ms.key] == ms {
			delete(p.streams, ms.key)
		}
		p.mu.Unlock()
	}
}

// dispatch records base-language transcription and hands the event out.
func (p *Pipeline) dispatch(key stream.Key, ev asr.Event) {
	if key == stream.DefaultTranscription {
		p.transcript.Add(ev)
	}
	if p.onEvent != nil {
		p.onEvent(key, ev)
	}
}

// HandleAudio copies one audio frame into every live recognizer stream.
// Frames arriving while transcription is stopped are dropped.
func (p *Pipeline) HandleAudio(data []byte) {
	p.mu.Lock()
	if p.closed || !p.transcribing || len(p.streams) == 0 {
		p.mu.Unlock()
		return
	}
	streams := make([]*managedStream, 0, len(p.streams))
	for _, ms := range p.streams {
		streams = append(streams, ms)
	}
	p.mu.Unlock()

	for _, ms := range streams {
		if err := ms.s.WriteAudio(data); err != nil && !errors.Is(err, asr.ErrClosed) {
			slog.Debug("write audio",
				"sessionId", p.sessionID, "stream", ms.key.String(), "error", err)
		}
	}
}

func (p *Pipeline) StartTranscription() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcribing = true
}

func (p *Pipeline) StopTranscription() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcribing = false
}

func (p *Pipeline) IsTranscribing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transcribing
}

// ActiveStreams returns the current stream keys in stable order.
func (p *Pipeline) ActiveStreams() []stream.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]stream.Key, 0, len(p.streams))
	for k := range p.streams {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close tears down every stream. No cancellation finals are emitted; the
// session is going away with its subscribers.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	streams := make([]*managedStream, 0, len(p.streams))
	for _, ms := range p.streams {
		streams = append(streams, ms)
	}
	p.streams = make(map[stream.Key]*managedStream)
	p.mu.Unlock()

	for _, ms := range streams {
		if err := ms.s.Close(); err != nil {
			slog.Warn("close recognizer stream",
				"sessionId", p.sessionID, "stream", ms.key.String(), "error", err)
		}
	}
}
