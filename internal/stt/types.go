package stt

import (
	"context"
	"errors"
	"fmt"
)

// StreamClosedType is the event type delivered to the callback when the
// provider stream ends without being closed by the bridge.
const StreamClosedType = "_stream_closed"

// ErrMalformedMessage is returned by Conn.Receive for a frame that could not
// be decoded. The bridge logs it and keeps reading.
var ErrMalformedMessage = errors.New("stt: malformed provider message")

// Event is one decoded provider message.
type Event map[string]any

// Type returns the provider message type, or "" when absent.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Callback receives every provider event. Returned errors and panics are
// logged and never stop the stream.
type Callback func(ctx context.Context, ev Event) error

// Conn is one open provider stream.
type Conn interface {
	// Send forwards one audio frame as-is.
	Send(audio []byte) error
	// Receive blocks for the next provider message. It returns an error once
	// the stream is closed.
	Receive(ctx context.Context) (Event, error)
	// Terminate sends the provider's end-of-stream control message.
	Terminate() error
	Close() error
}

// Dialer opens provider streams.
type Dialer interface {
	Provider() string
	Dial(ctx context.Context) (Conn, error)
}

// ConnectError reports a failed provider handshake.
type ConnectError struct {
	Provider string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("stt: connect to %s: %v", e.Provider, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Transcript is the text carried by a transcript event.
type Transcript struct {
	Text  string
	Final bool
}

// ParseTranscript extracts a transcript from AssemblyAI "Turn", Deepgram
// "Results" or Google "Recognition" events. Events without text report
// ok=false.
func ParseTranscript(ev Event) (Transcript, bool) {
	switch ev.Type() {
	case "Turn":
		text, _ := ev["transcript"].(string)
		final, _ := ev["end_of_turn"].(bool)
		return Transcript{Text: text, Final: final}, text != ""

	case RecognitionType:
		text, _ := ev["transcript"].(string)
		final, _ := ev["is_final"].(bool)
		return Transcript{Text: text, Final: final}, text != ""

	case "Results":
		channel, _ := ev["channel"].(map[string]any)
		alts, _ := channel["alternatives"].([]any)
		if len(alts) == 0 {
			return Transcript{}, false
		}
		first, _ := alts[0].(map[string]any)
		text, _ := first["transcript"].(string)
		final, _ := ev["is_final"].(bool)
		return Transcript{Text: text, Final: final}, text != ""
	}
	return Transcript{}, false
}

// ProviderError returns the message of a provider "Error" event.
func ProviderError(ev Event) (string, bool) {
	if ev.Type() != "Error" {
		return "", false
	}
	for _, key := range []string{"error", "message", "description"} {
		if msg, ok := ev[key].(string); ok && msg != "" {
			return msg, true
		}
	}
	return "provider reported an error", true
}

// StreamClosed returns the cause carried by a stream-closed sentinel event.
func StreamClosed(ev Event) (string, bool) {
	if ev.Type() != StreamClosedType {
		return "", false
	}
	cause, _ := ev["cause"].(string)
	return cause, true
}
