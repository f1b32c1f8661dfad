package speech

import (
	"sync"
	"time"

	"github.com/OkGoDoIt/AugmentOS/asr"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/stream"
)

// DefaultRetention bounds the transcript window when none is configured.
const DefaultRetention = 30 * time.Minute

// Segment is one transcript entry. An interim segment is provisional and
// will be replaced in place by the next result of its utterance.
type Segment struct {
	ResultID  string
	SpeakerID string
	Text      string
	IsFinal   bool
	Timestamp time.Time
	Language  string
}

// TranscriptBuffer holds the rolling transcript of a session's base
// transcription stream. Interim results replace the previous interim; a
// final replaces the trailing interim and then sticks. Segments older
// than the retention window are pruned on every insert, so timestamps
// are monotone and the window never exceeds retention.
type TranscriptBuffer struct {
	clk       clock.Clock
	retention time.Duration

	mu       sync.Mutex
	segments []Segment
}

func NewTranscriptBuffer(clk clock.Clock, retention time.Duration) *TranscriptBuffer {
	if clk == nil {
		clk = clock.Real()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &TranscriptBuffer{clk: clk, retention: retention}
}

// Add inserts one recognizer result, stamped with the current time.
func (b *TranscriptBuffer) Add(ev asr.Event) {
	now := b.clk.Now()
	seg := Segment{
		ResultID:  ev.ResultID,
		SpeakerID: ev.SpeakerID,
		Text:      ev.Text,
		IsFinal:   ev.IsFinal,
		Timestamp: now,
		Language:  stream.DefaultLanguage,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(now)

	if n := len(b.segments); n > 0 && !b.segments[n-1].IsFinal {
		b.segments[n-1] = seg
		return
	}
	b.segments = append(b.segments, seg)
}

// pruneLocked drops segments that fell out of the retention window.
func (b *TranscriptBuffer) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.retention)
	i := 0
	for i < len(b.segments) && b.segments[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.segments = append(b.segments[:0], b.segments[i:]...)
	}
}

// Segments returns a snapshot of the buffer, oldest first.
func (b *TranscriptBuffer) Segments() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Segment(nil), b.segments...)
}

// Len reports how many segments the buffer holds.
func (b *TranscriptBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}
