package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/OkGoDoIt/AugmentOS/asr"
)

const realtimeURL = "wss://api.openai.com/v1/realtime"

// realtimeInputRate is the PCM16 rate the realtime socket expects.
const realtimeInputRate = 24000

// translateStream is one realtime WebSocket session instructed to act as
// a speech translator. Audio goes up as base64 PCM16 appends; translated
// text comes back as response deltas.
type translateStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	opened time.Time
	inRate int

	out chan asr.Event

	mu     sync.Mutex
	closed bool
	err    error

	// response accumulation, touched only by readLoop
	curID   string
	curText string
	seq     int
}

func openTranslateStream(ctx context.Context, apiKey string, cfg asr.StreamConfig) (asr.Stream, error) {
	conn, _, err := websocket.Dial(ctx, realtimeURL+"?model="+translateModel, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": {"Bearer " + apiKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &translateStream{
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		opened: time.Now(),
		inRate: cfg.SampleRate,
		out:    make(chan asr.Event, 32),
	}

	instructions := fmt.Sprintf(
		"You are a real-time speech translator. Listen to %s speech and translate it into %s. "+
			"Reply with ONLY the translated text, no explanations or commentary. "+
			"Keep the original meaning, tone, and register.",
		languageName(cfg.Transcribe), languageName(cfg.Translate),
	)
	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":         []string{"text"},
			"instructions":       instructions,
			"input_audio_format": "pcm16",
			"turn_detection":     map[string]any{"type": "server_vad"},
		},
	}
	if err := s.send(update); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		cancel()
		return nil, fmt.Errorf("configure translation session: %w", err)
	}

	go s.readLoop()
	return s, nil
}

func (s *translateStream) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// WriteAudio resamples to the socket rate and appends to the input
// buffer. Commits happen server-side via VAD.
func (s *translateStream) WriteAudio(p []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return asr.ErrClosed
	}
	s.mu.Unlock()

	samples := pcm16ToSamples(p)
	if s.inRate != realtimeInputRate {
		samples = resampleLinear(samples, s.inRate, realtimeInputRate)
	}
	return s.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(samplesToPCM16(samples)),
	})
}

func (s *translateStream) readLoop() {
	defer close(s.out)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.closed = true
				s.err = err
			}
			s.mu.Unlock()
			return
		}
		ev, err := parseEvent(data)
		if err != nil {
			slog.Warn("unparseable translation event", "error", err)
			continue
		}
		switch e := ev.(type) {
		case responseTextDeltaEvent:
			if s.curID == "" {
				s.seq++
				s.curID = e.ResponseID
				if s.curID == "" {
					s.curID = fmt.Sprintf("tr-%d", s.seq)
				}
			}
			s.curText += e.Delta
			s.emit(asr.Event{
				ResultID: s.curID,
				Text:     s.curText,
				Start:    time.Since(s.opened),
				End:      time.Since(s.opened),
			})
		case responseTextDoneEvent:
			id := s.curID
			if id == "" {
				s.seq++
				id = fmt.Sprintf("tr-%d", s.seq)
			}
			s.emit(asr.Event{
				ResultID: id,
				Text:     e.Text,
				IsFinal:  true,
				Start:    time.Since(s.opened),
				End:      time.Since(s.opened),
			})
			s.curID = ""
			s.curText = ""
		case errorEvent:
			slog.Warn("translation session error",
				"code", e.Error.Code, "message", e.Error.Message)
		}
	}
}

func (s *translateStream) emit(ev asr.Event) {
	select {
	case s.out <- ev:
	default:
		slog.Warn("translation result dropped", "resultId", ev.ResultID)
	}
}

func (s *translateStream) Events() <-chan asr.Event { return s.out }

func (s *translateStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *translateStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.cancel()
	return err
}
