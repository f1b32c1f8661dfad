package wire

// Payloads carried inside data_stream frames.

// TranscriptionData is one recognizer result on a transcription stream.
// Interim results for one utterance share a ResultID; the final result
// replaces them. Times are milliseconds from recognizer stream start.
type TranscriptionData struct {
	Type               string `json:"type"`
	Text               string `json:"text"`
	IsFinal            bool   `json:"isFinal"`
	TranscribeLanguage string `json:"transcribeLanguage,omitempty"`
	StartTime          int64  `json:"startTime"`
	EndTime            int64  `json:"endTime"`
	SpeakerID          string `json:"speakerId,omitempty"`
	ResultID           string `json:"resultId,omitempty"`
}

// TranslationData is one recognizer result on a translation stream.
type TranslationData struct {
	Type               string `json:"type"`
	Text               string `json:"text"`
	IsFinal            bool   `json:"isFinal"`
	TranscribeLanguage string `json:"transcribeLanguage,omitempty"`
	TranslateLanguage  string `json:"translateLanguage,omitempty"`
	StartTime          int64  `json:"startTime"`
	EndTime            int64  `json:"endTime"`
	SpeakerID          string `json:"speakerId,omitempty"`
	ResultID           string `json:"resultId,omitempty"`
}

// Webhook payloads. These cross HTTP POST to the TPA server, not the
// WebSocket, so they are plain structs rather than Messages.

// SessionRequest asks a TPA server to open a session for a user.
type SessionRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	Timestamp    int64  `json:"timestamp"`
	WebSocketURL string `json:"augmentOSWebsocketUrl,omitempty"`
}

// StopRequest tells a TPA server a session stopped.
type StopRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SessionRecovery asks a restarted TPA server to re-open a session that
// was live before it went down.
type SessionRecovery struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	Timestamp    int64  `json:"timestamp"`
	WebSocketURL string `json:"augmentOSWebsocketUrl,omitempty"`
}
