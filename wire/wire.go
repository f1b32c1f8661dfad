// Package wire defines the JSON messages exchanged with glasses clients,
// TPA servers, and TPA webhooks, and the codec that parses them.
//
// Every message is a JSON object with a "type" discriminant. Binary
// WebSocket frames carry raw audio and never enter this codec. Timestamps
// are milliseconds since the Unix epoch.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message is one protocol message. Concrete types live in this package;
// parse inbound bytes with ParseGlassesMessage or ParseTPAMessage and
// encode with Marshal.
type Message interface {
	messageType() string
}

// Glasses to cloud.
const (
	TypeConnectionInit         = "connection_init"
	TypeStartApp               = "start_app"
	TypeStopApp                = "stop_app"
	TypeVAD                    = "vad"
	TypeLocationUpdate         = "location_update"
	TypeCalendarEvent          = "calendar_event"
	TypeHeadPosition           = "head_position"
	TypeButtonPress            = "button_press"
	TypePhoneNotification      = "phone_notification"
	TypeNotificationDismissed  = "notification_dismissed"
	TypeGlassesBatteryUpdate   = "glasses_battery_update"
	TypePhoneBatteryUpdate     = "phone_battery_update"
	TypeGlassesConnectionState = "glasses_connection_state"
)

// Cloud to glasses.
const (
	TypeConnectionAck   = "connection_ack"
	TypeConnectionError = "connection_error"
	TypeAuthError       = "auth_error"
	TypeAppStateChange  = "app_state_change"
	TypeDisplayEvent    = "display_event"
	TypeMicrophoneState = "microphone_state_change"
)

// TPA to cloud.
const (
	TypeTPAConnectionInit  = "tpa_connection_init"
	TypeSubscriptionUpdate = "subscription_update"
)

// Cloud to TPA.
const (
	TypeTPAConnectionAck   = "tpa_connection_ack"
	TypeTPAConnectionError = "tpa_connection_error"
	TypeAppStopped         = "app_stopped"
	TypeSettingsUpdate     = "settings_update"
	TypeDataStream         = "data_stream"
	TypeCommandActivate    = "command_activate"
)

// Webhook payloads (HTTP POST, not WebSocket).
const (
	TypeWebhookSessionRequest  = "session_request"
	TypeWebhookStopRequest     = "stop_request"
	TypeWebhookSessionRecovery = "session_recovery"
)

// Marshal encodes m with its type discriminant set.
func Marshal(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.messageType(), err)
	}
	data, err = sjson.SetBytes(data, "type", m.messageType())
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.messageType(), err)
	}
	return data, nil
}

// ParseGlassesMessage parses one text frame from a glasses client.
func ParseGlassesMessage(data []byte) (Message, error) {
	typ, err := header(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeConnectionInit:
		return decode[ConnectionInit](data, typ)
	case TypeStartApp:
		return decode[StartApp](data, typ)
	case TypeStopApp:
		return decode[StopApp](data, typ)
	case TypeVAD:
		return decode[VAD](data, typ)
	case TypeLocationUpdate:
		return decode[LocationUpdate](data, typ)
	case TypeCalendarEvent:
		return decode[CalendarEvent](data, typ)
	case TypeHeadPosition:
		return decode[HeadPosition](data, typ)
	case TypeButtonPress:
		return decode[ButtonPress](data, typ)
	case TypePhoneNotification:
		return decode[PhoneNotification](data, typ)
	case TypeNotificationDismissed:
		return decode[NotificationDismissed](data, typ)
	case TypeGlassesBatteryUpdate:
		return decode[GlassesBatteryUpdate](data, typ)
	case TypePhoneBatteryUpdate:
		return decode[PhoneBatteryUpdate](data, typ)
	case TypeGlassesConnectionState:
		return decode[GlassesConnectionState](data, typ)
	}
	return nil, &ProtocolError{MessageType: typ, Err: errUnknownType}
}

// ParseTPAMessage parses one text frame from a TPA connection.
func ParseTPAMessage(data []byte) (Message, error) {
	typ, err := header(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeTPAConnectionInit:
		return decode[TPAConnectionInit](data, typ)
	case TypeSubscriptionUpdate:
		return decode[SubscriptionUpdate](data, typ)
	case TypeDisplayEvent:
		return decode[DisplayEvent](data, typ)
	}
	return nil, &ProtocolError{MessageType: typ, Err: errUnknownType}
}

func header(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", &ProtocolError{Err: errors.New("invalid json")}
	}
	t := gjson.GetBytes(data, "type")
	if t.Type != gjson.String || t.String() == "" {
		return "", &ProtocolError{Err: errors.New("missing type")}
	}
	return t.String(), nil
}

func decode[T Message](data []byte, typ string) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ProtocolError{MessageType: typ, Err: err}
	}
	return m, nil
}

var errUnknownType = errors.New("unknown message type")

// ProtocolError reports a malformed or unrecognized message. The
// connection survives; only the offending message is rejected.
type ProtocolError struct {
	MessageType string
	Err         error
}

func (e *ProtocolError) Error() string {
	if e.MessageType == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error in %q: %v", e.MessageType, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FlexBool accepts JSON booleans and the "true"/"false" strings older
// glasses firmware sends.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", `"true"`:
		*b = true
	case "false", `"false"`:
		*b = false
	default:
		return fmt.Errorf("not a boolean: %s", data)
	}
	return nil
}

func (b FlexBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}
