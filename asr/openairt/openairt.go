// Package openairt implements asr.Provider on the OpenAI realtime API.
// Transcription streams ride WebRTC with an opus audio track and receive
// results over the data channel; translation streams ride a realtime
// WebSocket session instructed to emit only the translated text.
package openairt

import (
	"context"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/OkGoDoIt/AugmentOS/asr"
)

const (
	// DefaultTranscribeModel is used when no model is configured.
	DefaultTranscribeModel = "gpt-4o-mini-transcribe"
	// translateModel serves translation sessions.
	translateModel = "gpt-4o-realtime-preview"
)

// Config for the provider.
type Config struct {
	APIKey string
	Model  string // transcription model
}

// Provider opens OpenAI realtime recognizer streams.
type Provider struct {
	apiKey string
	model  string
}

func New(cfg Config) *Provider {
	model := cfg.Model
	if model == "" {
		model = DefaultTranscribeModel
	}
	return &Provider{apiKey: cfg.APIKey, model: model}
}

func (p *Provider) Name() string { return "openai-realtime" }

func (p *Provider) IsReady() bool { return p.apiKey != "" }

func (p *Provider) Open(ctx context.Context, cfg asr.StreamConfig) (asr.Stream, error) {
	if !p.IsReady() {
		return nil, asr.ErrNotReady
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Translate != "" {
		return openTranslateStream(ctx, p.apiKey, cfg)
	}
	return openTranscribeStream(ctx, p.apiKey, p.model, cfg)
}

// baseLanguage reduces a BCP-47 tag to the bare language the realtime
// API expects ("en-US" -> "en").
func baseLanguage(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, _ := t.Base()
	return base.String()
}

// languageName renders a BCP-47 tag as an English display name for the
// translator instructions.
func languageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Languages().Name(t); name != "" {
		return name
	}
	return tag
}
