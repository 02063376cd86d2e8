package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// HTTPClient implements Client against the chat backend's HTTP API.
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// HTTPConfig holds configuration for the chat backend client.
type HTTPConfig struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client // optional; shared pooled client recommended
}

// NewHTTPClient creates a chat backend client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// Converse sends one turn and classifies the response shape: a
// text/event-stream body is surfaced as a token channel, an application/json
// body as a structured event. Anything else is an error.
func (c *HTTPClient) Converse(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat backend: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat backend: %s - %s", resp.Status, respBody)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		return &Reply{Tokens: streamTokens(ctx, resp.Body)}, nil

	case "application/json":
		defer resp.Body.Close()
		var ev Event
		if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
			return nil, fmt.Errorf("chat backend: decode event: %w", err)
		}
		if ev.Type != EventPhaseTransition && ev.Type != EventComplete {
			return nil, fmt.Errorf("chat backend: unknown event type %q", ev.Type)
		}
		return &Reply{Event: &ev}, nil

	default:
		resp.Body.Close()
		return nil, fmt.Errorf("chat backend: unexpected content type %q", mediaType)
	}
}

// streamTokens reads SSE "data:" frames off the body and forwards the token
// payloads. The channel closes at stream end or when ctx is cancelled.
func streamTokens(ctx context.Context, body io.ReadCloser) <-chan string {
	ch := make(chan string, 100)

	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var frame struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			if frame.Token == "" {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case ch <- frame.Token:
			}
		}
	}()

	return ch
}
