package openairt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/realtime"
)

// sdpEndpoint is where WebRTC offers are exchanged.
const sdpEndpoint = "https://api.openai.com/v1/realtime/calls"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// sessionToken is the ephemeral key backing one WebRTC call.
type sessionToken struct {
	Value     string
	ExpiresAt int64
}

// createTranscriptionToken mints an ephemeral token for a transcription
// session in the given language.
func createTranscriptionToken(ctx context.Context, apiKey, model, lang string) (*sessionToken, error) {
	client := openai.NewClient(option.WithAPIKey(apiKey))

	transcription := realtime.AudioTranscriptionParam{
		Model:    realtime.AudioTranscriptionModel(model),
		Language: openai.String(baseLanguage(lang)),
	}

	params := realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{
			OfTranscription: &realtime.RealtimeTranscriptionSessionCreateRequestParam{
				Audio: realtime.RealtimeTranscriptionSessionAudioParam{
					Input: realtime.RealtimeTranscriptionSessionAudioInputParam{
						TurnDetection: realtime.RealtimeTranscriptionSessionAudioInputTurnDetectionUnionParam{
							OfSemanticVad: &realtime.RealtimeTranscriptionSessionAudioInputTurnDetectionSemanticVadParam{
								Type:      "semantic_vad",
								Eagerness: "high",
							},
						},
						Transcription: transcription,
					},
				},
			},
		},
	}
	resp, err := client.Realtime.ClientSecrets.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create client secret: %w", err)
	}
	return &sessionToken{Value: resp.Value, ExpiresAt: resp.ExpiresAt}, nil
}

// exchangeSDP posts the local offer and returns the remote answer.
func exchangeSDP(ctx context.Context, offer, ephemeralKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sdpEndpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("sdp exchange failed (status %d): %s", resp.StatusCode, body)
	}
	return string(body), nil
}
