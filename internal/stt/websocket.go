package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/jetbot/interview-gateway/internal/config"
)

// WebSocketDialer opens a provider stream over a plain websocket. Audio is
// sent as binary frames and provider messages arrive as JSON text frames.
type WebSocketDialer struct {
	Name   string
	URL    string
	Header http.Header
	// Init, when set, is written as a text frame right after the handshake.
	Init []byte
	// Terminate is the text frame that asks the provider to flush and end.
	Terminate []byte
	Dialer    *websocket.Dialer
}

// NewAssemblyAIDialer builds the AssemblyAI v3 streaming dialer.
func NewAssemblyAIDialer(cfg *config.Config) *WebSocketDialer {
	u, err := url.Parse(cfg.AssemblyAIURL)
	if err != nil {
		u = &url.URL{Scheme: "wss", Host: "streaming.assemblyai.com", Path: "/v3/ws"}
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.STTSampleRate))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", cfg.AssemblyAIAPIKey)

	begin, _ := json.Marshal(map[string]any{"type": "Begin", "sample_rate": cfg.STTSampleRate})

	return &WebSocketDialer{
		Name:      config.STTProviderAssemblyAI,
		URL:       u.String(),
		Header:    header,
		Init:      begin,
		Terminate: []byte(`{"type":"Terminate"}`),
	}
}

func (d *WebSocketDialer) Provider() string {
	return d.Name
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	if len(d.Init) > 0 {
		if err := ws.WriteMessage(websocket.TextMessage, d.Init); err != nil {
			ws.Close()
			return nil, fmt.Errorf("failed to send session init: %w", err)
		}
	}

	return &wsConn{ws: ws, terminate: d.Terminate}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	terminate []byte
}

func (c *wsConn) Send(audio []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, audio)
}

// Receive ignores ctx; Close unblocks a pending read.
func (c *wsConn) Receive(ctx context.Context) (Event, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return ev, nil
	}
}

func (c *wsConn) Terminate() error {
	if len(c.terminate) == 0 {
		return nil
	}
	return c.ws.WriteMessage(websocket.TextMessage, c.terminate)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
