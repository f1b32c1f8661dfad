// Package asr abstracts streaming speech recognition providers. A
// provider opens one stream per (language, target) pair; the cloud
// pipeline pushes raw audio in and consumes interim and final results.
package asr

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	ErrNotReady = errors.New("provider not ready")
	ErrClosed   = errors.New("stream closed")
)

// Event is one recognizer result. Interim events of an utterance share a
// ResultID until the final for that utterance arrives. Offsets are
// measured from stream start.
type Event struct {
	ResultID  string
	Text      string
	IsFinal   bool
	Start     time.Duration
	End       time.Duration
	SpeakerID string
}

// StreamConfig describes one recognizer stream. Translate is empty for
// plain transcription. Audio pushed into the stream is little-endian
// 16-bit mono PCM at SampleRate.
type StreamConfig struct {
	Transcribe string // BCP-47 spoken language
	Translate  string // BCP-47 target language, translation streams only
	SampleRate int
}

// Stream is one live recognizer stream. WriteAudio never blocks on the
// network. Events closes when the stream dies or is closed; Err reports
// why after that.
type Stream interface {
	WriteAudio(p []byte) error
	Events() <-chan Event
	Err() error
	Close() error
}

// Provider opens recognizer streams.
type Provider interface {
	Name() string
	// IsReady reports whether the provider is configured well enough to
	// open streams.
	IsReady() bool
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
