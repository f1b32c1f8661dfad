package wire

import "encoding/json"

// Messages crossing a TPA WebSocket, both directions, plus the display
// types shared with the glasses channel.

// TPAConnectionInit must be the first frame on a TPA connection. The
// session id is the composite "<sessionId>-<packageName>" handed to the
// TPA in its webhook.
type TPAConnectionInit struct {
	SessionID   string `json:"sessionId"`
	PackageName string `json:"packageName"`
	APIKey      string `json:"apiKey"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

func (TPAConnectionInit) messageType() string { return TypeTPAConnectionInit }

// SubscriptionUpdate atomically replaces a TPA's subscription set.
type SubscriptionUpdate struct {
	PackageName   string   `json:"packageName"`
	SessionID     string   `json:"sessionId,omitempty"`
	Subscriptions []string `json:"subscriptions"`
}

func (SubscriptionUpdate) messageType() string { return TypeSubscriptionUpdate }

// DisplayEvent is a display request. TPAs send it to the cloud; the
// display arbiter forwards the winning request to the glasses.
type DisplayEvent struct {
	PackageName string `json:"packageName,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	View        string `json:"view"`
	Layout      Layout `json:"layout"`
	DurationMs  int64  `json:"durationMs,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

func (DisplayEvent) messageType() string { return TypeDisplayEvent }

// Display views.
const (
	ViewMain      = "main"
	ViewDashboard = "dashboard"
)

// Layout types.
const (
	LayoutTextWall       = "text_wall"
	LayoutDoubleTextWall = "double_text_wall"
	LayoutReferenceCard  = "reference_card"
	LayoutDashboardCard  = "dashboard_card"
)

// Layout is the renderable content of a display request. Fields are used
// according to LayoutType: text_wall reads Text, double_text_wall reads
// TopText and BottomText, reference_card reads Title and Text,
// dashboard_card reads LeftText and RightText.
type Layout struct {
	LayoutType string `json:"layoutType"`
	Text       string `json:"text,omitempty"`
	TopText    string `json:"topText,omitempty"`
	BottomText string `json:"bottomText,omitempty"`
	Title      string `json:"title,omitempty"`
	LeftText   string `json:"leftText,omitempty"`
	RightText  string `json:"rightText,omitempty"`
}

// TPAConnectionAck accepts a TPA connection and carries the user's
// settings for that app.
type TPAConnectionAck struct {
	SessionID string       `json:"sessionId"`
	Settings  []AppSetting `json:"settings,omitempty"`
	Timestamp int64        `json:"timestamp,omitempty"`
}

func (TPAConnectionAck) messageType() string { return TypeTPAConnectionAck }

// TPAConnectionError rejects a TPA connection.
type TPAConnectionError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (TPAConnectionError) messageType() string { return TypeTPAConnectionError }

// AppStopped tells a TPA its app session ended.
type AppStopped struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (AppStopped) messageType() string { return TypeAppStopped }

// SettingsUpdate pushes changed settings to a connected TPA.
type SettingsUpdate struct {
	PackageName string       `json:"packageName"`
	Settings    []AppSetting `json:"settings"`
}

func (SettingsUpdate) messageType() string { return TypeSettingsUpdate }

// AppSetting is one user-adjustable setting for an app.
type AppSetting struct {
	Key   string          `json:"key"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value"`
}

// DataStream wraps one event payload for delivery to a subscribed TPA.
// StreamType is the wire form of the stream key the payload matched.
type DataStream struct {
	StreamType string          `json:"streamType"`
	SessionID  string          `json:"sessionId,omitempty"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

func (DataStream) messageType() string { return TypeDataStream }

// CommandActivate fires a voice command a TPA declared, after its phrase
// matched a final transcript.
type CommandActivate struct {
	CommandID    string            `json:"commandId"`
	SpokenPhrase string            `json:"spokenPhrase"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	SessionID    string            `json:"sessionId"`
	Timestamp    int64             `json:"timestamp,omitempty"`
}

func (CommandActivate) messageType() string { return TypeCommandActivate }
