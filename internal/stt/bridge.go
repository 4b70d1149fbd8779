package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/resilience"
)

var (
	ErrAlreadyStarted = errors.New("stt: bridge already started")
	ErrBridgeClosed   = errors.New("stt: bridge closed")
)

// State is the bridge lifecycle position. CLOSED is terminal.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Options configure a Bridge.
type Options struct {
	// CloseWait bounds how long FlushAndClose waits for the provider to
	// flush after the termination message.
	CloseWait time.Duration
	// Breaker, when set, guards the provider handshake.
	Breaker *resilience.CircuitBreaker
	Logger  zerolog.Logger
}

// Bridge relays one session's audio to a streaming STT provider and hands
// every provider event to a callback. It owns exactly one provider
// connection for its whole life and is never reopened.
type Bridge struct {
	dialer    Dialer
	callback  Callback
	closeWait time.Duration
	breaker   *resilience.CircuitBreaker
	logger    zerolog.Logger

	mu     sync.Mutex
	state  State
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	// sendMu serializes writes to the provider socket.
	sendMu sync.Mutex
}

// NewBridge creates an idle bridge.
func NewBridge(dialer Dialer, callback Callback, opts Options) *Bridge {
	return &Bridge{
		dialer:    dialer,
		callback:  callback,
		closeWait: opts.CloseWait,
		breaker:   opts.Breaker,
		logger:    opts.Logger.With().Str("component", "stt").Str("provider", dialer.Provider()).Logger(),
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start opens the provider stream and spawns the read loop. A failed
// handshake leaves the bridge CLOSED; callers must treat the session as
// failed. There is no automatic retry.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.state = StateConnecting
	b.mu.Unlock()

	started := time.Now()
	var conn Conn
	dial := func() error {
		c, err := b.dialer.Dial(ctx)
		conn = c
		return err
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Call(dial)
	} else {
		err = dial()
	}
	observability.RecordSTTConnect(b.dialer.Provider(), started, err)

	if err != nil {
		b.mu.Lock()
		b.state = StateClosed
		b.mu.Unlock()
		return &ConnectError{Provider: b.dialer.Provider(), Err: err}
	}

	// The read loop outlives ctx so FlushAndClose can still collect
	// trailing transcripts during shutdown.
	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	b.mu.Lock()
	if b.state != StateConnecting {
		// FlushAndClose ran while the handshake was in flight.
		b.mu.Unlock()
		cancel()
		conn.Close()
		return ErrBridgeClosed
	}
	b.state = StateStreaming
	b.conn = conn
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go b.readLoop(readCtx, conn, done)

	b.logger.Info().Dur("handshake", time.Since(started)).Msg("STT stream connected")
	return nil
}

// SendAudio forwards chunk upstream. Outside STREAMING it does nothing, so
// frames racing teardown are tolerated.
func (b *Bridge) SendAudio(chunk []byte) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	state, conn := b.state, b.conn
	b.mu.Unlock()

	if state != StateStreaming {
		return nil
	}
	if err := conn.Send(chunk); err != nil {
		return fmt.Errorf("stt: send audio: %w", err)
	}
	return nil
}

// FlushAndClose sends the provider termination message, waits up to the
// configured close wait for trailing results, closes the socket and waits
// for the read loop to exit. Calls after the first are no-ops.
func (b *Bridge) FlushAndClose() error {
	b.mu.Lock()
	switch b.state {
	case StateIdle, StateConnecting:
		b.state = StateClosed
		b.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosing
	conn, cancel, done := b.conn, b.cancel, b.done
	b.mu.Unlock()

	b.sendMu.Lock()
	termErr := conn.Terminate()
	b.sendMu.Unlock()

	if termErr != nil {
		b.logger.Debug().Err(termErr).Msg("STT termination message not sent")
	} else if b.closeWait > 0 {
		select {
		case <-done:
		case <-time.After(b.closeWait):
		}
	}

	closeErr := conn.Close()
	cancel()
	<-done

	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()

	b.logger.Info().Msg("STT stream closed")
	return closeErr
}

func (b *Bridge) readLoop(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)

	for {
		ev, err := conn.Receive(ctx)
		if errors.Is(err, ErrMalformedMessage) {
			b.logger.Warn().Err(err).Msg("Skipping undecodable STT message")
			continue
		}
		if err != nil {
			if b.closingOrDone(ctx) {
				return
			}
			b.logger.Warn().Err(err).Msg("STT stream ended unexpectedly")
			b.dispatch(ctx, Event{"type": StreamClosedType, "cause": err.Error()})
			return
		}
		b.dispatch(ctx, ev)
	}
}

func (b *Bridge) closingOrDone(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	state := b.State()
	return state == StateClosing || state == StateClosed
}

func (b *Bridge) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event_type", ev.Type()).Msg("STT callback panicked")
		}
	}()

	if err := b.callback(ctx, ev); err != nil {
		b.logger.Warn().Err(err).Str("event_type", ev.Type()).Msg("STT callback failed")
	}
}
