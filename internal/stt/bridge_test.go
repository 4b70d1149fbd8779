package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/resilience"
)

// stubProvider is a websocket STT provider that answers each binary frame
// with an interim Turn and each Terminate with a final Turn.
type stubProvider struct {
	mu        sync.Mutex
	audio     [][]byte
	texts     []string
	closeAt   int
	connected int
}

func (p *stubProvider) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		p.mu.Lock()
		p.connected++
		p.mu.Unlock()

		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			p.mu.Lock()
			if mt == websocket.BinaryMessage {
				p.audio = append(p.audio, data)
			} else {
				p.texts = append(p.texts, string(data))
			}
			n := len(p.audio)
			p.mu.Unlock()

			switch {
			case mt == websocket.BinaryMessage && p.closeAt > 0 && n == p.closeAt:
				return
			case mt == websocket.BinaryMessage:
				ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Turn","transcript":"hello","end_of_turn":false}`))
				ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
			case strings.Contains(string(data), "Terminate"):
				ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Turn","transcript":"hello world","end_of_turn":true}`))
				ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Termination"}`))
				return
			}
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) callback(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type())
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, eventType string) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, ev := range r.events {
			if ev.Type() == eventType {
				r.mu.Unlock()
				return ev
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %s event, got %v", eventType, r.types())
	return nil
}

func newTestDialer(srv *httptest.Server) *WebSocketDialer {
	return &WebSocketDialer{
		Name:      "stub",
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Init:      []byte(`{"type":"Begin","sample_rate":16000}`),
		Terminate: []byte(`{"type":"Terminate"}`),
	}
}

func TestBridge_StreamAndFlush(t *testing.T) {
	provider := &stubProvider{}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	rec := &recorder{}
	bridge := NewBridge(newTestDialer(srv), rec.callback, Options{CloseWait: 500 * time.Millisecond, Logger: zerolog.Nop()})

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if bridge.State() != StateStreaming {
		t.Errorf("Expected state STREAMING, got %s", bridge.State())
	}

	if err := bridge.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio() failed: %v", err)
	}
	rec.waitFor(t, "Turn")

	if err := bridge.FlushAndClose(); err != nil {
		t.Logf("FlushAndClose() returned %v", err)
	}
	if bridge.State() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", bridge.State())
	}

	var final *Transcript
	rec.mu.Lock()
	for _, ev := range rec.events {
		if tr, ok := ParseTranscript(ev); ok && tr.Final {
			final = &tr
		}
		if _, closed := StreamClosed(ev); closed {
			t.Error("Expected no stream-closed event after a requested close")
		}
	}
	rec.mu.Unlock()
	if final == nil || final.Text != "hello world" {
		t.Errorf("Expected trailing final transcript 'hello world', got %+v", final)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.texts) < 2 || !strings.Contains(provider.texts[0], "Begin") {
		t.Errorf("Expected Begin then Terminate control frames, got %v", provider.texts)
	}
	if len(provider.audio) != 1 || len(provider.audio[0]) != 3 {
		t.Errorf("Expected one 3-byte audio frame forwarded unchanged, got %v", provider.audio)
	}
}

func TestBridge_FlushAndCloseIdempotent(t *testing.T) {
	provider := &stubProvider{}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	rec := &recorder{}
	bridge := NewBridge(newTestDialer(srv), rec.callback, Options{CloseWait: 100 * time.Millisecond, Logger: zerolog.Nop()})
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	bridge.FlushAndClose()
	if err := bridge.FlushAndClose(); err != nil {
		t.Errorf("Expected second FlushAndClose to be a no-op, got %v", err)
	}

	provider.mu.Lock()
	terminates := 0
	for _, text := range provider.texts {
		if strings.Contains(text, "Terminate") {
			terminates++
		}
	}
	provider.mu.Unlock()
	if terminates != 1 {
		t.Errorf("Expected exactly one Terminate, got %d", terminates)
	}
}

func TestBridge_SendAfterCloseIsNoop(t *testing.T) {
	provider := &stubProvider{}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	bridge := NewBridge(newTestDialer(srv), (&recorder{}).callback, Options{Logger: zerolog.Nop()})
	if err := bridge.SendAudio([]byte{1}); err != nil {
		t.Errorf("Expected SendAudio before Start to be a no-op, got %v", err)
	}
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	bridge.FlushAndClose()

	if err := bridge.SendAudio([]byte{1}); err != nil {
		t.Errorf("Expected SendAudio after close to be a no-op, got %v", err)
	}
	if err := bridge.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted on reopen, got %v", err)
	}
}

func TestBridge_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	bridge := NewBridge(newTestDialer(srv), (&recorder{}).callback, Options{Logger: zerolog.Nop()})
	err := bridge.Start(context.Background())

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectError, got %v", err)
	}
	if connErr.Provider != "stub" {
		t.Errorf("Expected provider 'stub', got '%s'", connErr.Provider)
	}
	if bridge.State() != StateClosed {
		t.Errorf("Expected state CLOSED after failed connect, got %s", bridge.State())
	}
}

func TestBridge_OpenCircuitSkipsDial(t *testing.T) {
	cb := resilience.NewCircuitBreaker("stub", 1, time.Minute)
	cb.Call(func() error { return errors.New("boom") })

	dialer := &WebSocketDialer{Name: "stub", URL: "ws://127.0.0.1:1/never"}
	bridge := NewBridge(dialer, (&recorder{}).callback, Options{Breaker: cb, Logger: zerolog.Nop()})

	err := bridge.Start(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestBridge_UnexpectedCloseEmitsSentinel(t *testing.T) {
	provider := &stubProvider{closeAt: 1}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	rec := &recorder{}
	bridge := NewBridge(newTestDialer(srv), rec.callback, Options{Logger: zerolog.Nop()})
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer bridge.FlushAndClose()

	bridge.SendAudio([]byte{9})
	ev := rec.waitFor(t, StreamClosedType)
	if cause, ok := StreamClosed(ev); !ok || cause == "" {
		t.Errorf("Expected sentinel with a cause, got %v", ev)
	}
}

func TestBridge_CallbackPanicDoesNotStopStream(t *testing.T) {
	provider := &stubProvider{}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	var mu sync.Mutex
	calls := 0
	cb := func(ctx context.Context, ev Event) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("first event")
		}
		return errors.New("callback failed")
	}

	bridge := NewBridge(newTestDialer(srv), cb, Options{CloseWait: 200 * time.Millisecond, Logger: zerolog.Nop()})
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	bridge.SendAudio([]byte{1})
	bridge.SendAudio([]byte{2})
	bridge.FlushAndClose()

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("Expected callback to keep receiving events after a panic, got %d calls", calls)
	}
}

func TestParseTranscript(t *testing.T) {
	tests := []struct {
		name  string
		ev    Event
		text  string
		final bool
		ok    bool
	}{
		{"assemblyai turn", Event{"type": "Turn", "transcript": "hi there", "end_of_turn": true}, "hi there", true, true},
		{"assemblyai empty", Event{"type": "Turn", "transcript": ""}, "", false, false},
		{"deepgram results", Event{
			"type":     "Results",
			"is_final": false,
			"channel":  map[string]any{"alternatives": []any{map[string]any{"transcript": "partial"}}},
		}, "partial", false, true},
		{"google final", Event{"type": RecognitionType, "transcript": "done", "is_final": true}, "done", true, true},
		{"deepgram no alternatives", Event{"type": "Results", "channel": map[string]any{}}, "", false, false},
		{"other", Event{"type": "Begin"}, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ok := ParseTranscript(tt.ev)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if tr.Text != tt.text || tr.Final != tt.final {
				t.Errorf("Expected {%q %v}, got {%q %v}", tt.text, tt.final, tr.Text, tr.Final)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	msg, ok := ProviderError(Event{"type": "Error", "error": "bad key"})
	if !ok || msg != "bad key" {
		t.Errorf("Expected 'bad key', got '%s' (ok=%v)", msg, ok)
	}
	if _, ok := ProviderError(Event{"type": "Turn"}); ok {
		t.Error("Expected non-error event to be ignored")
	}
}
