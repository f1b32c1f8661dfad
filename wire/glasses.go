package wire

// Messages crossing the glasses WebSocket, both directions.

// ConnectionInit is the first text frame a glasses client sends after the
// upgrade. Identity comes from the bearer token, not from this message.
type ConnectionInit struct {
	UserID string `json:"userId,omitempty"`
}

func (ConnectionInit) messageType() string { return TypeConnectionInit }

// StartApp asks the cloud to start a TPA for this session.
type StartApp struct {
	PackageName string `json:"packageName"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

func (StartApp) messageType() string { return TypeStartApp }

// StopApp asks the cloud to stop a running TPA.
type StopApp struct {
	PackageName string `json:"packageName"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

func (StopApp) messageType() string { return TypeStopApp }

// VAD reports a speech boundary detected on the glasses side.
type VAD struct {
	Status    FlexBool `json:"status"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

func (VAD) messageType() string { return TypeVAD }

// LocationUpdate carries the latest device fix. The session caches the
// most recent one and replays it to newly subscribed TPAs.
type LocationUpdate struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

func (LocationUpdate) messageType() string { return TypeLocationUpdate }

// CalendarEvent mirrors one phone calendar entry.
type CalendarEvent struct {
	EventID   string `json:"eventId"`
	Title     string `json:"title"`
	DTStart   string `json:"dtStart"`
	DTEnd     string `json:"dtEnd"`
	TimeZone  string `json:"timeZone,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (CalendarEvent) messageType() string { return TypeCalendarEvent }

// HeadPosition reports head-up or head-down.
type HeadPosition struct {
	Position  string `json:"position"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (HeadPosition) messageType() string { return TypeHeadPosition }

// ButtonPress reports a hardware button event.
type ButtonPress struct {
	ButtonID  string `json:"buttonId"`
	PressType string `json:"pressType"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (ButtonPress) messageType() string { return TypeButtonPress }

// PhoneNotification mirrors a phone notification to interested TPAs.
type PhoneNotification struct {
	App       string `json:"app"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Priority  string `json:"priority,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (PhoneNotification) messageType() string { return TypePhoneNotification }

// NotificationDismissed reports a dismissed phone notification.
type NotificationDismissed struct {
	NotificationID string `json:"notificationId"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

func (NotificationDismissed) messageType() string { return TypeNotificationDismissed }

// GlassesBatteryUpdate reports the glasses battery level.
type GlassesBatteryUpdate struct {
	Level     int      `json:"level"`
	Charging  FlexBool `json:"charging,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

func (GlassesBatteryUpdate) messageType() string { return TypeGlassesBatteryUpdate }

// PhoneBatteryUpdate reports the phone battery level.
type PhoneBatteryUpdate struct {
	Level     int      `json:"level"`
	Charging  FlexBool `json:"charging,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

func (PhoneBatteryUpdate) messageType() string { return TypePhoneBatteryUpdate }

// GlassesConnectionState reports the phone-to-glasses link state.
type GlassesConnectionState struct {
	ModelName string `json:"modelName,omitempty"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (GlassesConnectionState) messageType() string { return TypeGlassesConnectionState }

// ConnectionAck confirms a glasses connection and names its session. On
// reconnect inside the grace window it carries the original session id.
type ConnectionAck struct {
	SessionID   string          `json:"sessionId"`
	UserSession UserSessionInfo `json:"userSession"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

func (ConnectionAck) messageType() string { return TypeConnectionAck }

// ConnectionError rejects a single glasses message without closing the
// channel.
type ConnectionError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (ConnectionError) messageType() string { return TypeConnectionError }

// AuthError rejects the connection before any session exists.
type AuthError struct {
	Message string `json:"message"`
}

func (AuthError) messageType() string { return TypeAuthError }

// AppStateChange pushes the new app membership after any lifecycle
// transition.
type AppStateChange struct {
	SessionID   string          `json:"sessionId"`
	UserSession UserSessionInfo `json:"userSession"`
	Error       string          `json:"error,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

func (AppStateChange) messageType() string { return TypeAppStateChange }

// MicrophoneStateChange tells the glasses to open or close the
// microphone. Sends are debounced cloud-side.
type MicrophoneStateChange struct {
	Enabled   bool  `json:"isMicrophoneEnabled"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (MicrophoneStateChange) messageType() string { return TypeMicrophoneState }

// UserSessionInfo is the session snapshot carried by connection_ack and
// app_state_change.
type UserSessionInfo struct {
	SessionID      string   `json:"sessionId"`
	UserID         string   `json:"userId"`
	StartTime      int64    `json:"startTime"`
	ActiveApps     []string `json:"activeAppSessions"`
	LoadingApps    []string `json:"loadingApps,omitempty"`
	IsTranscribing bool     `json:"isTranscribing"`
}
