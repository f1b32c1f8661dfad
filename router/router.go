// Package router fans one session's inbound events out to the TPAs
// subscribed to them.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/OkGoDoIt/AugmentOS/apps"
	"github.com/OkGoDoIt/AugmentOS/asr"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/session"
	"github.com/OkGoDoIt/AugmentOS/stream"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// Subscriptions answers who gets an event.
type Subscriptions interface {
	Subscribers(sessionID string, key stream.Key) []string
}

// Router wraps payloads in data_stream frames and delivers them in
// subscriber order. Delivery is droppable: a TPA whose queue is full
// loses data frames, never control frames.
type Router struct {
	subs Subscriptions
	dir  apps.Directory
	clk  clock.Clock
}

func New(subs Subscriptions, dir apps.Directory, clk clock.Clock) *Router {
	if clk == nil {
		clk = clock.Real()
	}
	return &Router{subs: subs, dir: dir, clk: clk}
}

// DeliverEvent fans a glasses event out under its stream key.
func (r *Router) DeliverEvent(s *session.UserSession, key stream.Key, m wire.Message) {
	data, err := wire.Marshal(m)
	if err != nil {
		slog.Warn("marshal event for fan-out",
			"sessionId", s.SessionID, "stream", key.String(), "error", err)
		return
	}
	r.deliver(s, key, data)
}

// DeliverAudio forwards one opaque audio frame to every audio_chunk
// subscriber as a binary frame.
func (r *Router) DeliverAudio(s *session.UserSession, frame []byte) {
	for _, pkg := range r.subs.Subscribers(s.SessionID, stream.Of(stream.KindAudioChunk)) {
		if conn := s.AppConn(pkg); conn != nil {
			conn.SendBinary(frame)
		}
	}
}

// DeliverTranscript fans one recognizer event out under its language key
// and runs voice-command matching on final default-language transcripts.
func (r *Router) DeliverTranscript(s *session.UserSession, key stream.Key, ev asr.Event) {
	var payload any
	switch key.Kind {
	case stream.KindTranslation:
		payload = &wire.TranslationData{
			Type:               string(stream.KindTranslation),
			Text:               ev.Text,
			IsFinal:            ev.IsFinal,
			TranscribeLanguage: key.Language,
			TranslateLanguage:  key.Target,
			StartTime:          ev.Start.Milliseconds(),
			EndTime:            ev.End.Milliseconds(),
			SpeakerID:          ev.SpeakerID,
			ResultID:           ev.ResultID,
		}
	default:
		payload = &wire.TranscriptionData{
			Type:               string(stream.KindTranscription),
			Text:               ev.Text,
			IsFinal:            ev.IsFinal,
			TranscribeLanguage: key.Language,
			StartTime:          ev.Start.Milliseconds(),
			EndTime:            ev.End.Milliseconds(),
			SpeakerID:          ev.SpeakerID,
			ResultID:           ev.ResultID,
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("marshal transcript for fan-out",
			"sessionId", s.SessionID, "stream", key.String(), "error", err)
		return
	}
	r.deliver(s, key, data)

	if ev.IsFinal && key == stream.DefaultTranscription {
		r.matchCommands(s, ev)
	}
}

// ReplayLocation re-sends the session's cached location fix to one
// package, the one whose subscription update just added the stream.
func (r *Router) ReplayLocation(s *session.UserSession, pkg string) {
	loc, ok := s.Location()
	if !ok {
		return
	}
	conn := s.AppConn(pkg)
	if conn == nil {
		return
	}
	data, err := wire.Marshal(loc)
	if err != nil {
		slog.Warn("marshal cached location", "sessionId", s.SessionID, "error", err)
		return
	}
	conn.SendData(&wire.DataStream{
		StreamType: string(stream.KindLocationUpdate),
		SessionID:  s.CompositeID(pkg),
		Data:       data,
		Timestamp:  r.clk.Now().UnixMilli(),
	})
}

func (r *Router) deliver(s *session.UserSession, key stream.Key, data []byte) {
	now := r.clk.Now().UnixMilli()
	for _, pkg := range r.subs.Subscribers(s.SessionID, key) {
		conn := s.AppConn(pkg)
		if conn == nil {
			continue
		}
		conn.SendData(&wire.DataStream{
			StreamType: key.String(),
			SessionID:  s.CompositeID(pkg),
			Data:       json.RawMessage(data),
			Timestamp:  now,
		})
	}
}

// matchCommands scans active packages in order. The first command of a
// package whose phrase occurs in the lower-cased transcript fires one
// command_activate; remaining commands of that package are skipped.
func (r *Router) matchCommands(s *session.UserSession, ev asr.Event) {
	lower := strings.ToLower(ev.Text)
	for _, pkg := range s.ActiveApps() {
		app, err := r.dir.Get(context.Background(), pkg)
		if err != nil {
			continue
		}
		for _, cmd := range app.Commands {
			if cmd.Phrase == "" || !strings.Contains(lower, strings.ToLower(cmd.Phrase)) {
				continue
			}
			conn := s.AppConn(pkg)
			if conn == nil {
				break
			}
			err := conn.Send(&wire.CommandActivate{
				CommandID:    cmd.ID,
				SpokenPhrase: ev.Text,
				Parameters:   cmd.Parameters,
				SessionID:    s.CompositeID(pkg),
				Timestamp:    r.clk.Now().UnixMilli(),
			})
			if err != nil {
				slog.Debug("command_activate send failed",
					"sessionId", s.SessionID, "packageName", pkg, "error", err)
			}
			break
		}
	}
}

// KeyForGlassesMessage maps a parsed glasses event to the stream key it
// is routed under. Control messages have no key.
func KeyForGlassesMessage(m wire.Message) (stream.Key, bool) {
	switch m.(type) {
	case wire.VAD:
		return stream.Of(stream.KindVAD), true
	case wire.LocationUpdate:
		return stream.Of(stream.KindLocationUpdate), true
	case wire.CalendarEvent:
		return stream.Of(stream.KindCalendarEvent), true
	case wire.HeadPosition:
		return stream.Of(stream.KindHeadPosition), true
	case wire.ButtonPress:
		return stream.Of(stream.KindButtonPress), true
	case wire.PhoneNotification:
		return stream.Of(stream.KindPhoneNotification), true
	case wire.NotificationDismissed:
		return stream.Of(stream.KindNotificationDismissed), true
	case wire.GlassesBatteryUpdate:
		return stream.Of(stream.KindGlassesBattery), true
	case wire.PhoneBatteryUpdate:
		return stream.Of(stream.KindPhoneBattery), true
	case wire.GlassesConnectionState:
		return stream.Of(stream.KindGlassesConnectionState), true
	}
	return stream.Key{}, false
}
