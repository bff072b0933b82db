// Package voice renders a validated explanation to speech. Prosody is a
// deterministic function of confidence — never the model's own choice —
// so the spoken delivery can't drift from the system's calibrated stance.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Prosody controls how an explanation is spoken.
type Prosody struct {
	Stability float64 `json:"stability"`
	Style     float64 `json:"style"`
	Tone      string  `json:"tone"`
}

// ProsodyFromConfidence maps a belief's confidence to prosody controls,
// the same three-band calibration the promoter's thresholds use: a
// confident belief is read stable and direct, an uncertain one hedged.
func ProsodyFromConfidence(confidence float64) Prosody {
	switch {
	case confidence >= 0.85:
		return Prosody{Stability: 0.70, Style: 0.25, Tone: "confident"}
	case confidence >= 0.60:
		return Prosody{Stability: 0.80, Style: 0.20, Tone: "measured"}
	default:
		return Prosody{Stability: 0.90, Style: 0.10, Tone: "uncertain"}
	}
}

// Synthesizer renders text to audio bytes at a given confidence.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, confidence float64) ([]byte, error)
}

// StubSynthesizer is used when no ElevenLabs credentials are configured —
// it returns a deterministic placeholder instead of audio, so the pipeline
// runs end to end without an external voice provider.
type StubSynthesizer struct{}

func (StubSynthesizer) Synthesize(ctx context.Context, text string, confidence float64) ([]byte, error) {
	return []byte(fmt.Sprintf("STUB-AUDIO: %s", text)), nil
}

// ElevenLabsSynthesizer calls the ElevenLabs text-to-speech REST API.
type ElevenLabsSynthesizer struct {
	apiKey     string
	voiceID    string
	httpClient *http.Client
	baseURL    string
}

func NewElevenLabsSynthesizer(apiKey, voiceID string) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		apiKey:     apiKey,
		voiceID:    voiceID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.elevenlabs.io/v1/text-to-speech",
	}
}

type voiceSettings struct {
	Stability        float64 `json:"stability"`
	SimilarityBoost  float64 `json:"similarity_boost"`
	Style            float64 `json:"style"`
	UseSpeakerBoost  bool    `json:"use_speaker_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize posts text to ElevenLabs with prosody derived from
// confidence and returns the rendered audio bytes.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string, confidence float64) ([]byte, error) {
	prosody := ProsodyFromConfidence(confidence)

	reqBody := ttsRequest{
		Text:    text,
		ModelID: "eleven_multilingual_v2",
		VoiceSettings: voiceSettings{
			Stability:       prosody.Stability,
			SimilarityBoost: 0.85,
			Style:           prosody.Style,
			UseSpeakerBoost: true,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("voice: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", s.baseURL, s.voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voice: elevenlabs returned status %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("voice: read response: %w", err)
	}
	return buf.Bytes(), nil
}

// NewSynthesizer returns an ElevenLabsSynthesizer if both credentials are
// configured, else the stub.
func NewSynthesizer(apiKey, voiceID string) Synthesizer {
	if apiKey == "" || voiceID == "" {
		return StubSynthesizer{}
	}
	return NewElevenLabsSynthesizer(apiKey, voiceID)
}
