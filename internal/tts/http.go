package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClient implements Client against the synthesis backend's streaming API.
// The response body is raw PCM16LE mono at the engine's playback rate,
// consumable incrementally.
type HTTPClient struct {
	url        string
	apiKey     string
	voiceID    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// HTTPConfig holds configuration for the synthesis client.
type HTTPConfig struct {
	URL        string
	APIKey     string
	VoiceID    string
	Stability  float64 // voice stability (0.0-1.0)
	Similarity float64 // voice similarity boost (0.0-1.0)
	HTTPClient *http.Client // optional; shared pooled client recommended
}

// NewHTTPClient creates a synthesis client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	stability := cfg.Stability
	if stability == 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity == 0 {
		similarity = 0.75
	}
	return &HTTPClient{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		stability:  stability,
		similarity: similarity,
		httpClient: httpClient,
	}
}

// synthesisRequest carries the sentence plus delivery parameters.
type synthesisRequest struct {
	Text          string        `json:"text"`
	VoiceID       string        `json:"voice_id,omitempty"`
	OutputFormat  string        `json:"output_format"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// SynthesizeStream issues one streaming synthesis request and forwards the
// PCM body in chunks as it arrives.
func (c *HTTPClient) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	req := synthesisRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		OutputFormat: "pcm_24000",
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis backend: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("synthesis backend: %s - %s", resp.Status, respBody)
	}

	ch := make(chan []byte, 100)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return ch, nil
}
