// Command demo exercises a running server end to end: it obtains a session
// token, opens the converse socket, paces a raw PCM file up as mic input and
// plays the assistant's reply on the local output device.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/mhanzl/vera/internal/audio"
)

const (
	micSampleRate = 16000
	frameInterval = 20 * time.Millisecond
)

// frameBytes is one frameInterval of 16-bit mono mic audio.
const frameBytes = micSampleRate * 2 / 50

// wsWriter serializes frame writes; gorilla allows one concurrent writer and
// the mic pump and the interrupt path share the connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(f clientFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(f)
}

type clientFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Muted   bool   `json:"muted,omitempty"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Phase   string `json:"phase,omitempty"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server", envOr("VERA_SERVER", "http://localhost:8080"), "server base URL")
	micFile := flag.String("mic", "", "raw PCM16 16kHz mono file streamed as mic input")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	if *micFile == "" {
		logger.Fatal("usage: demo -mic speech.pcm [-server http://host:port]")
	}
	mic, err := os.ReadFile(*micFile)
	if err != nil {
		logger.Fatalf("read mic file: %v", err)
	}

	token, err := fetchToken(*serverURL)
	if err != nil {
		logger.Fatalf("fetch token: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(*serverURL, "http") + "/v1/converse?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalf("dial converse: %v", err)
	}
	defer conn.Close()

	sink, err := audio.NewDeviceSink()
	if err != nil {
		logger.Fatalf("open audio device: %v", err)
	}
	defer sink.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	writer := &wsWriter{conn: conn}
	done := make(chan struct{})
	go readLoop(conn, sink, logger, done)
	go streamMic(writer, mic, logger)

	select {
	case <-interrupt:
		_ = writer.send(clientFrame{Type: "stop"})
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}

func fetchToken(serverURL string) (string, error) {
	resp, err := http.Post(serverURL+"/v1/token", "application/json", bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// streamMic paces the file up in real time, the way a live mic would.
func streamMic(writer *wsWriter, mic []byte, logger *log.Logger) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for off := 0; off < len(mic); off += frameBytes {
		<-ticker.C
		end := off + frameBytes
		if end > len(mic) {
			end = len(mic)
		}
		frame := clientFrame{
			Type:    "audio",
			Payload: base64.StdEncoding.EncodeToString(mic[off:end]),
		}
		if err := writer.send(frame); err != nil {
			logger.Printf("send mic frame: %v", err)
			return
		}
	}
}

func readLoop(conn *websocket.Conn, sink *audio.DeviceSink, logger *log.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		var f serverFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(f.Payload)
			if err != nil {
				logger.Printf("bad audio payload: %v", err)
				continue
			}
			if err := sink.Write(pcm); err != nil {
				logger.Printf("play: %v", err)
			}

		case "clear":
			// Barge-in: drop whatever is still buffered locally.
			if err := sink.Clear(); err != nil {
				logger.Printf("clear: %v", err)
			}

		case "transcript":
			marker := "…"
			if f.Final {
				marker = ""
			}
			fmt.Printf("you: %s%s\n", f.Text, marker)

		case "assistant":
			if f.Final {
				fmt.Printf("assistant: %s\n", f.Text)
			} else {
				fmt.Print(f.Text)
			}

		case "phase":
			fmt.Printf("[phase: %s]\n", f.Phase)

		case "status":
			if f.Error != "" {
				logger.Printf("server error: %s", f.Error)
			} else {
				fmt.Printf("[%s]\n", f.State)
			}
		}
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
