package openairt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/OkGoDoIt/AugmentOS/asr"
)

// frameDuration is the opus frame size pushed onto the audio track.
const frameDuration = 20 * time.Millisecond

// transcribeStream is one WebRTC call: microphone audio goes up the opus
// track, transcription events come back over the data channel.
type transcribeStream struct {
	mu      sync.Mutex
	closed  bool
	err     error
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	enc     *opuscodec.Encoder
	opusBuf []byte
	pending []float32
	frame   int // samples per opus frame

	raw   chan event
	errCh chan error
	out   chan asr.Event
	done  chan struct{}
}

func openTranscribeStream(ctx context.Context, apiKey, model string, cfg asr.StreamConfig) (asr.Stream, error) {
	token, err := createTranscriptionToken(ctx, apiKey, model, cfg.Transcribe)
	if err != nil {
		return nil, fmt.Errorf("create transcription session: %w", err)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"augmentos-audio",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	enc, err := opuscodec.NewEncoder(cfg.SampleRate, 1, opuscodec.AppRestrictedLowdelay)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	s := &transcribeStream{
		pc:    pc,
		track: track,
		enc:   enc,
		// max opus packet size
		opusBuf: make([]byte, 1275),
		frame:   cfg.SampleRate / 50,
		raw:     make(chan event, 100),
		errCh:   make(chan error, 1),
		out:     make(chan asr.Event, 32),
		done:    make(chan struct{}),
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc.OnMessage(s.handleDataMessage)

	// Return audio is irrelevant; drain it.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := remote.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			select {
			case s.errCh <- fmt.Errorf("ice connection %s", state):
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-webrtc.GatheringCompletePromise(pc)

	answer, err := exchangeSDP(ctx, pc.LocalDescription().SDP, token.Value)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("exchange sdp: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	go s.pump()
	return s, nil
}

func (s *transcribeStream) handleDataMessage(msg webrtc.DataChannelMessage) {
	ev, err := parseEvent(msg.Data)
	if err != nil {
		slog.Warn("unparseable recognizer event", "error", err)
		return
	}
	select {
	case s.raw <- ev:
	default:
		slog.Warn("recognizer event dropped", "type", ev.eventType())
	}
}

// utterance accumulates one item's interim state.
type utterance struct {
	startMs int
	endMs   int
	text    string
}

// pump converts provider events into asr events. It is the only writer
// of out.
func (s *transcribeStream) pump() {
	defer close(s.out)
	utts := make(map[string]*utterance)
	for {
		select {
		case <-s.done:
			return
		case err := <-s.errCh:
			s.recordErr(err)
			return
		case ev := <-s.raw:
			if err := s.handleEvent(ev, utts); err != nil {
				s.recordErr(err)
				return
			}
		}
	}
}

func (s *transcribeStream) handleEvent(ev event, utts map[string]*utterance) error {
	switch e := ev.(type) {
	case speechStartedEvent:
		utts[e.ItemID] = &utterance{startMs: e.AudioStartMs, endMs: e.AudioStartMs}
	case speechStoppedEvent:
		if u := utts[e.ItemID]; u != nil {
			u.endMs = e.AudioEndMs
		}
	case transcriptDeltaEvent:
		u := utts[e.ItemID]
		if u == nil {
			u = &utterance{}
			utts[e.ItemID] = u
		}
		u.text += e.Delta
		s.emit(asr.Event{
			ResultID: e.ItemID,
			Text:     u.text,
			Start:    time.Duration(u.startMs) * time.Millisecond,
			End:      time.Duration(max(u.startMs, u.endMs)) * time.Millisecond,
		})
	case transcriptCompletedEvent:
		u := utts[e.ItemID]
		if u == nil {
			u = &utterance{}
		}
		s.emit(asr.Event{
			ResultID: e.ItemID,
			Text:     e.Transcript,
			IsFinal:  true,
			Start:    time.Duration(u.startMs) * time.Millisecond,
			End:      time.Duration(max(u.startMs, u.endMs)) * time.Millisecond,
		})
		delete(utts, e.ItemID)
	case errorEvent:
		return fmt.Errorf("recognizer error [%s]: %s", e.Error.Code, e.Error.Message)
	case unknownEvent:
		slog.Debug("ignoring recognizer event", "type", e.Type)
	}
	return nil
}

func (s *transcribeStream) emit(ev asr.Event) {
	select {
	case s.out <- ev:
	default:
		slog.Warn("recognizer result dropped", "resultId", ev.ResultID)
	}
}

// WriteAudio buffers PCM16 mono samples and pushes full opus frames onto
// the track.
func (s *transcribeStream) WriteAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return asr.ErrClosed
	}

	for i := 0; i+1 < len(p); i += 2 {
		v := int16(uint16(p[i]) | uint16(p[i+1])<<8)
		s.pending = append(s.pending, float32(v)/32768)
	}

	consumed := 0
	for len(s.pending)-consumed >= s.frame {
		n, err := s.enc.EncodeFloat32(s.pending[consumed:consumed+s.frame], s.opusBuf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		if err := s.track.WriteSample(media.Sample{
			Data:     s.opusBuf[:n],
			Duration: frameDuration,
		}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		consumed += s.frame
	}
	if consumed > 0 {
		s.pending = append(s.pending[:0], s.pending[consumed:]...)
	}
	return nil
}

func (s *transcribeStream) Events() <-chan asr.Event { return s.out }

func (s *transcribeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *transcribeStream) recordErr(err error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.err = err
	}
	s.mu.Unlock()
	_ = s.pc.Close()
}

func (s *transcribeStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	return s.pc.Close()
}
