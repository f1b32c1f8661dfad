package wire

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
)

func TestGlassesMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"connection_init", ConnectionInit{UserID: "isaiah@example.com"}},
		{"start_app", StartApp{PackageName: "org.example.captions", Timestamp: 1700000000000}},
		{"stop_app", StopApp{PackageName: "org.example.captions"}},
		{"vad", VAD{Status: true, Timestamp: 1700000000000}},
		{"location_update", LocationUpdate{Lat: 37.77, Lng: -122.42, Accuracy: 5}},
		{"head_position", HeadPosition{Position: "up"}},
		{"button_press", ButtonPress{ButtonID: "main", PressType: "short"}},
		{"phone_notification", PhoneNotification{App: "mail", Title: "hi", Content: "body"}},
		{"glasses_battery_update", GlassesBatteryUpdate{Level: 82, Charging: true}},
		{"glasses_connection_state", GlassesConnectionState{ModelName: "G1", Status: "CONNECTED"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := ParseGlassesMessage(data)
			if err != nil {
				t.Fatalf("ParseGlassesMessage: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestTPAMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"tpa_connection_init", TPAConnectionInit{
			SessionID:   "abc-org.example.captions",
			PackageName: "org.example.captions",
			APIKey:      "key",
		}},
		{"subscription_update", SubscriptionUpdate{
			PackageName:   "org.example.captions",
			Subscriptions: []string{"transcription:en-US", "head_position"},
		}},
		{"display_event", DisplayEvent{
			PackageName: "org.example.captions",
			View:        ViewMain,
			Layout:      Layout{LayoutType: LayoutTextWall, Text: "hello"},
			DurationMs:  3000,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := ParseTPAMessage(data)
			if err != nil {
				t.Fatalf("ParseTPAMessage: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestMarshalSetsType(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{AppStopped{Reason: "user_disconnected"}, TypeAppStopped},
		{SettingsUpdate{PackageName: "org.example.captions"}, TypeSettingsUpdate},
	}
	for _, tt := range tests {
		data, err := Marshal(tt.msg)
		if err != nil {
			t.Fatalf("Marshal(%T): %v", tt.msg, err)
		}
		if got := gjson.GetBytes(data, "type").String(); got != tt.want {
			t.Errorf("type = %q, want %q", got, tt.want)
		}
	}
}

func TestVADAcceptsStringStatus(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"bool true", `{"type":"vad","status":true}`, true},
		{"bool false", `{"type":"vad","status":false}`, false},
		{"string true", `{"type":"vad","status":"true"}`, true},
		{"string false", `{"type":"vad","status":"false"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseGlassesMessage([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseGlassesMessage: %v", err)
			}
			vad, ok := msg.(VAD)
			if !ok {
				t.Fatalf("parsed %T, want VAD", msg)
			}
			if bool(vad.Status) != tt.want {
				t.Errorf("status = %v, want %v", vad.Status, tt.want)
			}
		})
	}
}

func TestVADRejectsNonBoolean(t *testing.T) {
	_, err := ParseGlassesMessage([]byte(`{"type":"vad","status":"loud"}`))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"invalid json", `{"type":`},
		{"missing type", `{"packageName":"x"}`},
		{"numeric type", `{"type":42}`},
		{"unknown type", `{"type":"warp_drive"}`},
		{"tpa message on glasses channel", `{"type":"subscription_update","subscriptions":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGlassesMessage([]byte(tt.in))
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("ParseGlassesMessage(%q) err = %v, want ProtocolError", tt.in, err)
			}
		})
	}
}

func TestDataStreamPayload(t *testing.T) {
	payload, err := json.Marshal(TranscriptionData{
		Type:               "transcription",
		Text:               "hello world",
		IsFinal:            true,
		TranscribeLanguage: "en-US",
		StartTime:          120,
		EndTime:            880,
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(DataStream{
		StreamType: "transcription:en-US",
		Data:       payload,
		Timestamp:  1700000000000,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := gjson.GetBytes(data, "data.text").String(); got != "hello world" {
		t.Errorf("data.text = %q", got)
	}
	if got := gjson.GetBytes(data, "streamType").String(); got != "transcription:en-US" {
		t.Errorf("streamType = %q", got)
	}
}
