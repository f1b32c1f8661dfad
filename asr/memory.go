package asr

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Provider for tests. Streams record the audio
// written to them and emit whatever events the test scripts.
type Memory struct {
	mu      sync.Mutex
	streams []*MemoryStream
	openErr error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string  { return "memory" }
func (m *Memory) IsReady() bool { return true }

// FailOpens makes every subsequent Open return err. Pass nil to heal.
func (m *Memory) FailOpens(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

func (m *Memory) Open(_ context.Context, cfg StreamConfig) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	st := &MemoryStream{
		cfg:    cfg,
		events: make(chan Event, 64),
	}
	m.streams = append(m.streams, st)
	return st, nil
}

// Streams returns every stream ever opened, in order.
func (m *Memory) Streams() []*MemoryStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MemoryStream(nil), m.streams...)
}

// OpenStreams returns the streams not yet closed.
func (m *Memory) OpenStreams() []*MemoryStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*MemoryStream
	for _, st := range m.streams {
		if !st.Closed() {
			open = append(open, st)
		}
	}
	return open
}

// StreamFor returns the open stream for a language pair, or an error.
func (m *Memory) StreamFor(transcribe, translate string) (*MemoryStream, error) {
	for _, st := range m.OpenStreams() {
		if st.cfg.Transcribe == transcribe && st.cfg.Translate == translate {
			return st, nil
		}
	}
	return nil, fmt.Errorf("no open stream for %s->%s", transcribe, translate)
}

// MemoryStream records writes and lets tests script events and failures.
type MemoryStream struct {
	cfg    StreamConfig
	events chan Event

	mu      sync.Mutex
	written int
	closed  bool
	err     error
}

func (s *MemoryStream) Config() StreamConfig { return s.cfg }

func (s *MemoryStream) WriteAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.written += len(p)
	return nil
}

func (s *MemoryStream) Events() <-chan Event { return s.events }

func (s *MemoryStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Emit delivers a scripted event to the consumer.
func (s *MemoryStream) Emit(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.events <- ev
}

// Fail kills the stream the way a provider-side cancellation does.
func (s *MemoryStream) Fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
	s.mu.Unlock()
}

// BytesWritten reports how much audio the stream received.
func (s *MemoryStream) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Closed reports whether the stream was closed or failed.
func (s *MemoryStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
