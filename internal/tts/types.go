package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrIncomplete is returned when the provider stops before signalling that
// synthesis finished.
var ErrIncomplete = errors.New("tts: stream ended before final chunk")

// ChunkFunc receives base64 audio as delivered by the provider. isFinal is
// true exactly once for a synthesis that completes, on its last call.
type ChunkFunc func(ctx context.Context, audioB64 string, isFinal bool) error

// Synthesizer converts one text into streamed audio. Each call owns its own
// upstream connection and releases it before returning.
type Synthesizer interface {
	Provider() string
	Synthesize(ctx context.Context, text string, onChunk ChunkFunc) error
}

// ConnectError reports a failed provider connection.
type ConnectError struct {
	Provider string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("tts: connect to %s: %v", e.Provider, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProviderError is an error reported by the provider mid-stream.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts: %s reported: %s", e.Provider, e.Message)
}
