package openairt

import "encoding/json"

// Server event types seen on transcription data channels and translation
// sockets.
const (
	eventTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	eventTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	eventSpeechStarted       = "input_audio_buffer.speech_started"
	eventSpeechStopped       = "input_audio_buffer.speech_stopped"
	eventResponseTextDelta   = "response.text.delta"
	eventResponseTextDone    = "response.text.done"
	eventError               = "error"
)

// event is a discriminated union of realtime server events. Check the
// concrete type via type switch.
type event interface {
	eventType() string
}

type speechStartedEvent struct {
	EventID      string `json:"event_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

func (speechStartedEvent) eventType() string { return eventSpeechStarted }

type speechStoppedEvent struct {
	EventID    string `json:"event_id"`
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

func (speechStoppedEvent) eventType() string { return eventSpeechStopped }

type transcriptDeltaEvent struct {
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`
	Delta   string `json:"delta"`
}

func (transcriptDeltaEvent) eventType() string { return eventTranscriptDelta }

type transcriptCompletedEvent struct {
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (transcriptCompletedEvent) eventType() string { return eventTranscriptCompleted }

type responseTextDeltaEvent struct {
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
}

func (responseTextDeltaEvent) eventType() string { return eventResponseTextDelta }

type responseTextDoneEvent struct {
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	Text       string `json:"text"`
}

func (responseTextDoneEvent) eventType() string { return eventResponseTextDone }

type errorEvent struct {
	EventID string `json:"event_id"`
	Error   struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func (errorEvent) eventType() string { return eventError }

type unknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e unknownEvent) eventType() string { return e.Type }

// parseEvent unmarshals one server event.
func parseEvent(data []byte) (event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	switch header.Type {
	case eventSpeechStarted:
		var e speechStartedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventSpeechStopped:
		var e speechStoppedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventTranscriptDelta:
		var e transcriptDeltaEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventTranscriptCompleted:
		var e transcriptCompletedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventResponseTextDelta:
		var e responseTextDeltaEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventResponseTextDone:
		var e responseTextDoneEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventError:
		var e errorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return unknownEvent{Type: header.Type, Raw: data}, nil
	}
}
