package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/jetbot/interview-gateway/internal/config"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	conn *deepgramConn
}

func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	m.conn.push(ev)
	return nil
}

func (m *messageCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	ev := Event{"type": "Error"}
	if er != nil {
		ev["error"] = er.ErrMsg
		ev["description"] = er.Description
	}
	m.conn.push(ev)
	return nil
}

func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	m.conn.markClosed()
	return nil
}

// DeepgramDialer opens Deepgram live transcription streams through the SDK.
type DeepgramDialer struct {
	cfg *config.Config
}

func NewDeepgramDialer(cfg *config.Config) *DeepgramDialer {
	return &DeepgramDialer{cfg: cfg}
}

func (d *DeepgramDialer) Provider() string {
	return config.STTProviderDeepgram
}

func (d *DeepgramDialer) Dial(ctx context.Context) (Conn, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		Encoding:       d.cfg.DeepgramEncoding,
		Channels:       1,
		SampleRate:     d.cfg.DeepgramRate,
	}

	conn := &deepgramConn{
		events: make(chan Event, 100),
		closed: make(chan struct{}),
	}
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		conn:                   conn,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.DeepgramAPIKey, &interfaces.ClientOptions{}, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, errors.New("deepgram websocket handshake failed")
	}
	conn.client = client
	return conn, nil
}

type deepgramConn struct {
	client *listenClient.WSCallback
	events chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *deepgramConn) push(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *deepgramConn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *deepgramConn) Send(audio []byte) error {
	_, err := c.client.Write(audio)
	return err
}

func (c *deepgramConn) Receive(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		// Drain anything delivered before the close notification.
		select {
		case ev := <-c.events:
			return ev, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate sends CloseStream; Deepgram flushes pending results before it
// closes the socket.
func (c *deepgramConn) Terminate() error {
	c.client.Finish()
	return nil
}

func (c *deepgramConn) Close() error {
	c.markClosed()
	return nil
}
