package openairt

import (
	"testing"
	"time"

	"github.com/OkGoDoIt/AugmentOS/asr"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "speech started",
			in:   `{"type":"input_audio_buffer.speech_started","audio_start_ms":420,"item_id":"item_1"}`,
			want: eventSpeechStarted,
		},
		{
			name: "transcript delta",
			in:   `{"type":"conversation.item.input_audio_transcription.delta","item_id":"item_1","delta":"hel"}`,
			want: eventTranscriptDelta,
		},
		{
			name: "transcript completed",
			in:   `{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_1","transcript":"hello"}`,
			want: eventTranscriptCompleted,
		},
		{
			name: "response text delta",
			in:   `{"type":"response.text.delta","response_id":"resp_1","delta":"hola"}`,
			want: eventResponseTextDelta,
		},
		{
			name: "error",
			in:   `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`,
			want: eventError,
		},
		{
			name: "unknown passes through",
			in:   `{"type":"rate_limits.updated"}`,
			want: "rate_limits.updated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := parseEvent([]byte(tt.in))
			if err != nil {
				t.Fatalf("parseEvent: %v", err)
			}
			if ev.eventType() != tt.want {
				t.Errorf("eventType = %q, want %q", ev.eventType(), tt.want)
			}
		})
	}

	if _, err := parseEvent([]byte(`{"type":`)); err == nil {
		t.Error("want error for invalid json")
	}
}

func TestTranscribeEventMapping(t *testing.T) {
	s := &transcribeStream{
		out:  make(chan asr.Event, 8),
		done: make(chan struct{}),
	}
	utts := make(map[string]*utterance)

	steps := []event{
		speechStartedEvent{ItemID: "item_1", AudioStartMs: 1000},
		transcriptDeltaEvent{ItemID: "item_1", Delta: "hello"},
		transcriptDeltaEvent{ItemID: "item_1", Delta: " world"},
		speechStoppedEvent{ItemID: "item_1", AudioEndMs: 2400},
		transcriptCompletedEvent{ItemID: "item_1", Transcript: "hello world"},
	}
	for _, ev := range steps {
		if err := s.handleEvent(ev, utts); err != nil {
			t.Fatalf("handleEvent(%T): %v", ev, err)
		}
	}
	close(s.out)

	var events []asr.Event
	for ev := range s.out {
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].IsFinal || events[0].Text != "hello" {
		t.Errorf("first interim = %+v", events[0])
	}
	if events[1].Text != "hello world" || events[1].IsFinal {
		t.Errorf("second interim = %+v", events[1])
	}
	final := events[2]
	if !final.IsFinal || final.Text != "hello world" {
		t.Errorf("final = %+v", final)
	}
	if final.Start != time.Second || final.End != 2400*time.Millisecond {
		t.Errorf("final times = %v..%v", final.Start, final.End)
	}
	if len(utts) != 0 {
		t.Errorf("utterance state leaked: %v", utts)
	}
}

func TestTranscribeErrorEventKillsStream(t *testing.T) {
	s := &transcribeStream{out: make(chan asr.Event, 8)}
	err := s.handleEvent(errorEvent{}, map[string]*utterance{})
	if err == nil {
		t.Fatal("handleEvent(error) = nil, want error")
	}
}

func TestResampleLinear(t *testing.T) {
	in := []int16{0, 100, 200, 300}

	same := resampleLinear(in, 16000, 16000)
	if len(same) != len(in) {
		t.Errorf("identity resample changed length: %d", len(same))
	}

	up := resampleLinear(in, 16000, 24000)
	if len(up) != 6 {
		t.Fatalf("upsample length = %d, want 6", len(up))
	}
	// Interpolated values stay within source range and keep order.
	for i := 1; i < len(up); i++ {
		if up[i] < up[i-1] {
			t.Fatalf("upsample not monotone: %v", up)
		}
	}
	if up[0] != 0 {
		t.Errorf("first sample = %d, want 0", up[0])
	}
}

func TestPCMRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345}
	got := pcm16ToSamples(samplesToPCM16(in))
	if len(got) != len(in) {
		t.Fatalf("length = %d", len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestBaseLanguage(t *testing.T) {
	tests := []struct{ in, want string }{
		{"en-US", "en"},
		{"es-ES", "es"},
		{"zh-CN", "zh"},
		{"en", "en"},
		{"not-a-tag!!", "not-a-tag!!"},
	}
	for _, tt := range tests {
		if got := baseLanguage(tt.in); got != tt.want {
			t.Errorf("baseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProviderReadiness(t *testing.T) {
	if New(Config{}).IsReady() {
		t.Error("provider without api key reports ready")
	}
	if !New(Config{APIKey: "sk-test"}).IsReady() {
		t.Error("provider with api key reports not ready")
	}
}
