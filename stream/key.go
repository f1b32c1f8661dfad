// Package stream defines the typed keys that glasses events, audio, and
// recognizer output are routed under.
package stream

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Kind identifies a stream family.
type Kind string

const (
	KindButtonPress            Kind = "button_press"
	KindHeadPosition           Kind = "head_position"
	KindPhoneNotification      Kind = "phone_notification"
	KindNotificationDismissed  Kind = "notification_dismissed"
	KindVAD                    Kind = "vad"
	KindLocationUpdate         Kind = "location_update"
	KindCalendarEvent          Kind = "calendar_event"
	KindAudioChunk             Kind = "audio_chunk"
	KindGlassesBattery         Kind = "glasses_battery"
	KindPhoneBattery           Kind = "phone_battery"
	KindGlassesConnectionState Kind = "glasses_connection_state"
	KindTranscription          Kind = "transcription"
	KindTranslation            Kind = "translation"

	// KindAll subscribes to every non-media stream of a session.
	KindAll Kind = "all"
)

var simpleKinds = map[Kind]bool{
	KindButtonPress:            true,
	KindHeadPosition:           true,
	KindPhoneNotification:      true,
	KindNotificationDismissed:  true,
	KindVAD:                    true,
	KindLocationUpdate:         true,
	KindCalendarEvent:          true,
	KindAudioChunk:             true,
	KindGlassesBattery:         true,
	KindPhoneBattery:           true,
	KindGlassesConnectionState: true,
	KindAll:                    true,
}

// Key identifies one subscribable stream. Transcription keys carry the
// spoken language; translation keys carry the spoken and target languages.
// Keys compare structurally.
type Key struct {
	Kind     Kind
	Language string // BCP-47 spoken language, transcription and translation only
	Target   string // BCP-47 target language, translation only
}

// DefaultLanguage is the language assumed when a transcription
// subscription or payload names none.
const DefaultLanguage = "en-US"

// DefaultTranscription is the base transcription stream.
var DefaultTranscription = Key{Kind: KindTranscription, Language: DefaultLanguage}

// Of returns the key for a plain, non-language stream kind.
func Of(kind Kind) Key { return Key{Kind: kind} }

// Transcription returns the transcription key for a BCP-47 language tag.
func Transcription(lang string) (Key, error) {
	c, err := canonical(lang)
	if err != nil {
		return Key{}, err
	}
	return Key{Kind: KindTranscription, Language: c}, nil
}

// Translation returns the translation key for a source and target pair.
func Translation(src, tgt string) (Key, error) {
	cs, err := canonical(src)
	if err != nil {
		return Key{}, err
	}
	ct, err := canonical(tgt)
	if err != nil {
		return Key{}, err
	}
	return Key{Kind: KindTranslation, Language: cs, Target: ct}, nil
}

// ParseKey parses the wire form of a stream key. Language tags are
// canonicalized, so "transcription:en-us" and "transcription:en-US" name
// the same stream. A bare "transcription" means the default language.
func ParseKey(s string) (Key, error) {
	if k := Kind(s); simpleKinds[k] {
		return Key{Kind: k}, nil
	}
	switch {
	case s == string(KindTranscription):
		return DefaultTranscription, nil
	case strings.HasPrefix(s, string(KindTranscription)+":"):
		return Transcription(s[len(KindTranscription)+1:])
	case strings.HasPrefix(s, string(KindTranslation)+":"):
		pair := s[len(KindTranslation)+1:]
		src, tgt, ok := strings.Cut(pair, "-to-")
		if !ok || src == "" || tgt == "" {
			return Key{}, fmt.Errorf("parse stream key %q: want translation:<src>-to-<tgt>", s)
		}
		return Translation(src, tgt)
	}
	return Key{}, fmt.Errorf("parse stream key %q: unknown stream", s)
}

// String returns the wire form of the key.
func (k Key) String() string {
	switch k.Kind {
	case KindTranscription:
		return string(KindTranscription) + ":" + k.Language
	case KindTranslation:
		return string(KindTranslation) + ":" + k.Language + "-to-" + k.Target
	}
	return string(k.Kind)
}

// RequiresAudio reports whether the stream only carries data while the
// glasses microphone is streaming.
func (k Key) RequiresAudio() bool {
	switch k.Kind {
	case KindTranscription, KindTranslation, KindAudioChunk, KindVAD:
		return true
	}
	return false
}

// HasLanguage reports whether the key is language-parameterized.
func (k Key) HasLanguage() bool {
	return k.Kind == KindTranscription || k.Kind == KindTranslation
}

// canonical normalizes a BCP-47 tag ("en-us" -> "en-US").
func canonical(lang string) (string, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", lang, err)
	}
	return tag.String(), nil
}
