package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// StreamConfig holds configuration for the streaming transcription client.
type StreamConfig struct {
	TokenURL   string // one-shot token-issuing endpoint, called before dialing
	SocketURL  string // websocket endpoint for the live channel
	APIKey     string
	Language   string // e.g. "en"
	SampleRate int    // mic sample rate, e.g. 16000
	HTTPClient *http.Client
}

// StreamClient implements Client over the provider's websocket protocol:
// a short-lived token is fetched with a single POST, then the socket is
// dialed with that token and raw PCM frames are streamed up while transcript
// events stream down.
type StreamClient struct {
	conn      *websocket.Conn
	results   chan Result
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// transcriptEvent is the provider's inbound event shape.
type transcriptEvent struct {
	Type       string  `json:"type"` // "transcript" or "utterance_end"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// Dial fetches a session token and opens the transcription channel.
func Dial(ctx context.Context, cfg StreamConfig) (*StreamClient, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	token, err := fetchToken(ctx, httpClient, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcription token: %w", err)
	}

	url := fmt.Sprintf("%s?sample_rate=%d&encoding=pcm_s16le&language=%s",
		cfg.SocketURL, cfg.SampleRate, cfg.Language)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("dial transcription channel: %w", err)
	}

	c := &StreamClient{
		conn:    conn,
		results: make(chan Result, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

func fetchToken(ctx context.Context, client *http.Client, cfg StreamConfig) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %s: %s", resp.Status, body)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("empty token in response")
	}
	return tok.Token, nil
}

// SendAudio forwards one mic frame to the provider.
func (c *StreamClient) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("transcription channel is closed")
	default:
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Results returns the channel for receiving transcription events.
func (c *StreamClient) Results() <-chan Result {
	return c.results
}

// Errors returns the channel for receiving transport errors.
func (c *StreamClient) Errors() <-chan error {
	return c.errors
}

// Close closes the transcription channel exactly once.
func (c *StreamClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"close"}`))
		c.mu.Unlock()

		err = c.conn.Close()

		// Wait for readLoop to finish before closing channels.
		c.wg.Wait()
		close(c.results)
		close(c.errors)
	})
	return err
}

func (c *StreamClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case c.errors <- fmt.Errorf("transcription read: %w", err):
			default:
			}
			return
		}

		var ev transcriptEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Printf("stt: failed to parse event: %v", err)
			continue
		}

		var result Result
		switch ev.Type {
		case "transcript":
			if ev.Text == "" {
				continue
			}
			result = Result{Text: ev.Text, Confidence: ev.Confidence, Final: ev.Final}
		case "utterance_end":
			result = Result{UtteranceEnd: true}
		default:
			continue
		}

		select {
		case <-c.done:
			return
		case c.results <- result:
		}
	}
}
