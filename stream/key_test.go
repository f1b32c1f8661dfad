package stream

import "testing"

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Key
		wantErr bool
	}{
		{
			name: "simple kind",
			in:   "button_press",
			want: Key{Kind: KindButtonPress},
		},
		{
			name: "bare transcription defaults to en-US",
			in:   "transcription",
			want: Key{Kind: KindTranscription, Language: "en-US"},
		},
		{
			name: "transcription with language",
			in:   "transcription:fr-FR",
			want: Key{Kind: KindTranscription, Language: "fr-FR"},
		},
		{
			name: "language tag is canonicalized",
			in:   "transcription:en-us",
			want: Key{Kind: KindTranscription, Language: "en-US"},
		},
		{
			name: "translation pair",
			in:   "translation:es-ES-to-en-US",
			want: Key{Kind: KindTranslation, Language: "es-ES", Target: "en-US"},
		},
		{
			name: "translation pair canonicalized",
			in:   "translation:es-es-to-en-us",
			want: Key{Kind: KindTranslation, Language: "es-ES", Target: "en-US"},
		},
		{
			name: "wildcard",
			in:   "all",
			want: Key{Kind: KindAll},
		},
		{
			name:    "unknown kind",
			in:      "video_feed",
			wantErr: true,
		},
		{
			name:    "translation missing target",
			in:      "translation:es-ES",
			wantErr: true,
		},
		{
			name:    "garbage language",
			in:      "transcription:!!",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	keys := []string{
		"head_position",
		"vad",
		"transcription:en-US",
		"transcription:ja-JP",
		"translation:fr-FR-to-en-US",
		"all",
	}
	for _, s := range keys {
		k, err := ParseKey(s)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", s, err)
		}
		if k.String() != s {
			t.Errorf("ParseKey(%q).String() = %q", s, k.String())
		}
	}
}

func TestKeyEquality(t *testing.T) {
	a, err := ParseKey("transcription:en-us")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseKey("transcription:en-US")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("canonicalized keys differ: %+v vs %+v", a, b)
	}
	if a != DefaultTranscription {
		t.Errorf("ParseKey(transcription:en-us) = %+v, want default transcription", a)
	}
}

func TestRequiresAudio(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"transcription:en-US", true},
		{"translation:es-ES-to-en-US", true},
		{"audio_chunk", true},
		{"vad", true},
		{"button_press", false},
		{"location_update", false},
		{"all", false},
	}
	for _, tt := range tests {
		k, err := ParseKey(tt.in)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tt.in, err)
		}
		if got := k.RequiresAudio(); got != tt.want {
			t.Errorf("RequiresAudio(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
