package session

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jetbot/interview-gateway/internal/auth"
	"github.com/jetbot/interview-gateway/internal/resilience"
	"github.com/jetbot/interview-gateway/internal/store"
	"github.com/jetbot/interview-gateway/internal/stt"
	"github.com/jetbot/interview-gateway/internal/tts"
)

const testSecret = "session-test-secret"

// fakeConn is an in-memory STT provider stream.
type fakeConn struct {
	events     chan stt.Event
	closed     chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
	audio      [][]byte
	terminated int
}

func (c *fakeConn) Send(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, audio)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (stt.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated++
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

// fakeDialer records every connection attempt.
type fakeDialer struct {
	mu       sync.Mutex
	attempts int
	conns    []*fakeConn
	fail     error
}

func (d *fakeDialer) Provider() string { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context) (stt.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.fail != nil {
		return nil, d.fail
	}
	c := &fakeConn{events: make(chan stt.Event, 16), closed: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) conn(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatal("Expected an STT connection")
	}
	return d.conns[len(d.conns)-1]
}

// fakeSynth emits one audio chunk and then a final chunk. With hold set it
// blocks between the two until released or cancelled.
type fakeSynth struct {
	mu        sync.Mutex
	texts     []string
	active    int32
	maxActive int32
	hold      chan struct{}
	fail      error
}

func (s *fakeSynth) Provider() string { return "fake" }

func (s *fakeSynth) Synthesize(ctx context.Context, text string, onChunk tts.ChunkFunc) error {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, n) {
			break
		}
	}

	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}
	if err := onChunk(ctx, "QUFB", false); err != nil {
		return err
	}
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return onChunk(ctx, "", true)
}

// countingStore counts transcript writes.
type countingStore struct {
	*store.MemoryStore
	saves   int32
	saveErr error
}

func (s *countingStore) SaveTranscript(ctx context.Context, id, text string) error {
	atomic.AddInt32(&s.saves, 1)
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.SaveTranscript(ctx, id, text)
}

type harness struct {
	server *httptest.Server
	store  *countingStore
	dialer *fakeDialer
	synth  *fakeSynth
	auth   *auth.Authenticator
	deps   Deps
}

func newHarness(t *testing.T, questions []string, opts Options) *harness {
	t.Helper()

	h := &harness{
		store:  &countingStore{MemoryStore: store.NewMemoryStore()},
		dialer: &fakeDialer{},
		synth:  &fakeSynth{},
		auth:   auth.NewAuthenticator(testSecret),
	}
	err := h.store.CreateInterview(context.Background(), &store.Interview{
		ID:        "iv-1",
		StudentID: "student-1",
		Status:    store.StatusPending,
		Questions: questions,
	})
	if err != nil {
		t.Fatalf("Failed to seed interview: %v", err)
	}

	if opts.MaxChunkSize == 0 {
		opts.MaxChunkSize = 1024
	}
	if opts.Retry == nil {
		opts.Retry = &resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	}

	h.deps = Deps{
		Auth:        h.auth,
		Store:       h.store,
		STTDialer:   h.dialer,
		Synthesizer: h.synth,
	}
	h.start(t, opts)
	return h
}

func (h *harness) start(t *testing.T, opts Options) {
	r := chi.NewRouter()
	r.Get("/ws/interview/{interviewID}", func(w http.ResponseWriter, req *http.Request) {
		NewHandler(h.deps, opts).ServeHTTP(w, req)
	})
	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
}

func (h *harness) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := h.auth.Issue(auth.Identity{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	return token
}

func (h *harness) dial(t *testing.T, interviewID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/interview/" + interviewID
	if token != "" {
		url += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (h *harness) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	ws := h.dial(t, "iv-1", h.token(t, "student-1", auth.RoleStudent))
	msg := readUntil(t, ws, TypeInfo)
	if msg["message"] != "Interview iv-1 connected" {
		t.Fatalf("Expected connected info, got %v", msg)
	}
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) (map[string]any, error) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	err := ws.ReadJSON(&msg)
	return msg, err
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	for {
		msg, err := readMessage(t, ws)
		if err != nil {
			t.Fatalf("Expected %s message, got error %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

// readClose reads until the server closes and returns the close code.
func readClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	for {
		_, err := readMessage(t, ws)
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		t.Fatalf("Expected close frame, got %v", err)
	}
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func control(action string) map[string]string {
	return map[string]string{"type": TypeControl, "action": action}
}

func finalTurn(text string) stt.Event {
	return stt.Event{"type": "Turn", "transcript": text, "end_of_turn": true}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func storedTranscript(t *testing.T, h *harness) string {
	t.Helper()
	iv, err := h.store.GetInterview(context.Background(), "iv-1")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	return iv.FullTranscript
}

func TestSession_RejectionsOpenNoUpstream(t *testing.T) {
	tests := []struct {
		name      string
		questions []string
		interview string
		userID    string
		role      auth.Role
		noToken   bool
		code      int
	}{
		{"missing token", []string{"Q"}, "iv-1", "", auth.RoleStudent, true, CloseUnauthorized},
		{"admin role", []string{"Q"}, "iv-1", "admin-1", auth.RoleAdmin, false, CloseUnauthorized},
		{"not owner", []string{"Q"}, "iv-1", "student-2", auth.RoleStudent, false, CloseForbidden},
		{"unknown interview", []string{"Q"}, "iv-missing", "student-1", auth.RoleStudent, false, CloseNotFound},
		{"no questions", nil, "iv-1", "student-1", auth.RoleStudent, false, CloseNoQuestions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.questions, Options{})
			token := ""
			if !tt.noToken {
				token = h.token(t, tt.userID, tt.role)
			}
			ws := h.dial(t, tt.interview, token)

			msg := readUntil(t, ws, TypeError)
			if msg["message"] == "" {
				t.Error("Expected an explanatory error message")
			}
			if code := readClose(t, ws); code != tt.code {
				t.Errorf("Expected close code %d, got %d", tt.code, code)
			}
			if n := h.dialer.attemptCount(); n != 0 {
				t.Errorf("Expected no STT connection attempts, got %d", n)
			}
		})
	}
}

func TestSession_MissingCredential(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	h.deps.Credentials = func() error { return ErrMissingCredential }

	ws := h.dial(t, "iv-1", h.token(t, "student-1", auth.RoleStudent))
	msg := readUntil(t, ws, TypeError)
	if msg["message"] != ErrMissingCredential.Error() {
		t.Errorf("Expected missing credential message, got %v", msg["message"])
	}
	if code := readClose(t, ws); code != CloseUpstreamFailed {
		t.Errorf("Expected close code %d, got %d", CloseUpstreamFailed, code)
	}
	if h.dialer.attemptCount() != 0 {
		t.Error("Expected no STT connection attempts")
	}
}

func TestSession_STTConnectFailureClosesSession(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	h.dialer.fail = errors.New("handshake rejected")

	ws := h.dial(t, "iv-1", h.token(t, "student-1", auth.RoleStudent))
	readUntil(t, ws, TypeError)
	if code := readClose(t, ws); code != CloseUpstreamFailed {
		t.Errorf("Expected close code %d, got %d", CloseUpstreamFailed, code)
	}
	if h.dialer.attemptCount() != 1 {
		t.Errorf("Expected exactly one connection attempt, got %d", h.dialer.attemptCount())
	}
}

func TestSession_QuestionFlowAndStop(t *testing.T) {
	h := newHarness(t, []string{"What is your experience with Go?", "Describe a hard bug."}, Options{})
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	q := readUntil(t, ws, TypeQuestion)
	if q["text"] != "What is your experience with Go?" {
		t.Errorf("Expected first question, got %v", q["text"])
	}

	var final map[string]any
	for final == nil {
		chunk := readUntil(t, ws, TypeTTSChunk)
		if chunk["isFinal"] == true {
			final = chunk
		} else if chunk["text"] != nil {
			t.Errorf("Expected null text on non-final chunk, got %v", chunk["text"])
		}
	}
	if final["text"] != "What is your experience with Go?" {
		t.Errorf("Expected question text on final chunk, got %v", final["text"])
	}

	h.dialer.conn(t).events <- finalTurn("What is your experience with Go? I have used it for three years.")
	tr := readUntil(t, ws, TypeTranscript)
	if tr["final"] != true {
		t.Errorf("Expected final transcript, got %v", tr)
	}
	ac := readUntil(t, ws, TypeAnswerComplete)
	if ac["message"] != answerCompleteMessage {
		t.Errorf("Unexpected answer_complete message: %v", ac["message"])
	}

	send(t, ws, control(ActionNextQuestion))
	q = readUntil(t, ws, TypeQuestion)
	if q["text"] != "Describe a hard bug." {
		t.Errorf("Expected second question, got %v", q["text"])
	}

	send(t, ws, control(ActionStop))
	info := readUntil(t, ws, TypeInfo)
	if info["message"] != "Stopping interview" {
		t.Errorf("Expected stop info, got %v", info["message"])
	}
	if code := readClose(t, ws); code != CloseNormal {
		t.Errorf("Expected normal close, got %d", code)
	}

	want := "Q1: What is your experience with Go?\nA1: I have used it for three years."
	waitFor(t, "transcript flush", func() bool { return storedTranscript(t, h) == want })
	if n := atomic.LoadInt32(&h.store.saves); n != 1 {
		t.Errorf("Expected one transcript write, got %d", n)
	}
	conn := h.dialer.conn(t)
	conn.mu.Lock()
	terminated := conn.terminated
	conn.mu.Unlock()
	if terminated != 1 {
		t.Errorf("Expected STT stream terminated once, got %d", terminated)
	}
}

func TestSession_PendingAnswerFlushedOnDisconnect(t *testing.T) {
	h := newHarness(t, []string{"Tell me about yourself"}, Options{})
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	h.dialer.conn(t).events <- finalTurn("hello")
	readUntil(t, ws, TypeAnswerComplete)
	h.dialer.conn(t).events <- finalTurn("world")
	readUntil(t, ws, TypeAnswerComplete)

	ws.Close()

	want := "Q1: Tell me about yourself\nA1: Hello world"
	waitFor(t, "transcript flush", func() bool { return storedTranscript(t, h) == want })
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&h.store.saves); n != 1 {
		t.Errorf("Expected exactly one transcript write, got %d", n)
	}
}

func TestHandler_DrainFlushesOnShutdown(t *testing.T) {
	h := newHarness(t, []string{"Tell me about yourself"}, Options{})
	handler := NewHandler(h.deps, Options{
		MaxChunkSize: 1024,
		Retry:        &resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := chi.NewRouter()
	r.Get("/ws/interview/{interviewID}", handler.ServeHTTP)
	srv := httptest.NewUnstartedServer(r)
	srv.Config.BaseContext = func(net.Listener) context.Context { return base }
	srv.Start()
	t.Cleanup(srv.Close)
	h.server = srv

	ws := h.connect(t)
	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	h.dialer.conn(t).events <- finalTurn("hello")
	readUntil(t, ws, TypeAnswerComplete)

	cancel()
	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := handler.Drain(ctx); err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if got := storedTranscript(t, h); got != "Q1: Tell me about yourself\nA1: Hello" {
		t.Errorf("Expected transcript persisted on shutdown, got %q", got)
	}
}

func TestSession_DisconnectWithoutAnswersWritesNothing(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	ws := h.connect(t)
	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	ws.Close()

	waitFor(t, "STT close", func() bool {
		c := h.dialer.conn(t)
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.terminated == 1
	})
	if n := atomic.LoadInt32(&h.store.saves); n != 0 {
		t.Errorf("Expected no transcript write, got %d", n)
	}
}

func TestSession_InterviewComplete(t *testing.T) {
	h := newHarness(t, []string{"Only question"}, Options{})
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	h.dialer.conn(t).events <- finalTurn("my answer")
	readUntil(t, ws, TypeAnswerComplete)

	send(t, ws, control(ActionNextQuestion))
	done := readUntil(t, ws, TypeInterviewComplete)
	if done["message"] != "Interview complete" {
		t.Errorf("Expected completion message, got %v", done["message"])
	}
	if got := storedTranscript(t, h); got != "Q1: Only question\nA1: My answer" {
		t.Errorf("Unexpected transcript %q", got)
	}

	send(t, ws, control(ActionStop))
	readClose(t, ws)
	if n := atomic.LoadInt32(&h.store.saves); n != 1 {
		t.Errorf("Expected no second write after completion, got %d writes", n)
	}
}

func TestSession_CompleteWithoutAnswersKeepsStoredTranscript(t *testing.T) {
	h := newHarness(t, []string{"Q1", "Q2"}, Options{})
	if err := h.store.MemoryStore.SaveTranscript(context.Background(), "iv-1", "Q1: Q1\nA1: Earlier answer"); err != nil {
		t.Fatalf("Failed to seed transcript: %v", err)
	}
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	send(t, ws, control(ActionNextQuestion))
	readUntil(t, ws, TypeQuestion)
	send(t, ws, control(ActionNextQuestion))
	readUntil(t, ws, TypeInterviewComplete)

	if n := atomic.LoadInt32(&h.store.saves); n != 0 {
		t.Errorf("Expected no transcript write, got %d", n)
	}
	if got := storedTranscript(t, h); got != "Q1: Q1\nA1: Earlier answer" {
		t.Errorf("Expected earlier transcript kept, got %q", got)
	}
}

func TestSession_FlushFailureReported(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	h.store.saveErr = errors.New("disk full")
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	h.dialer.conn(t).events <- finalTurn("answer")
	readUntil(t, ws, TypeAnswerComplete)

	send(t, ws, control(ActionStop))
	readUntil(t, ws, TypeInfo)
	msg := readUntil(t, ws, TypeError)
	if msg["message"] != "Failed to save transcript" {
		t.Errorf("Expected save failure message, got %v", msg["message"])
	}
}

func TestSession_OversizeChunkDropped(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{MaxChunkSize: 16})
	ws := h.connect(t)

	if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 17)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	send(t, ws, map[string]string{"type": TypeAudio, "chunk": "BAUG"})

	send(t, ws, control(ActionContinueAnswer))
	info := readUntil(t, ws, TypeInfo)
	if info["message"] != "Continuing same answer..." {
		t.Errorf("Expected session to stay active, got %v", info["message"])
	}

	frames := h.dialer.conn(t).frames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 forwarded frames, got %d", len(frames))
	}
	if len(frames[0]) != 3 || len(frames[1]) != 3 {
		t.Errorf("Expected only the small chunks forwarded, got %v", frames)
	}
}

func TestSession_MalformedInput(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	ws := h.connect(t)

	tests := []struct {
		payload string
		want    string
	}{
		{`{not json`, "Invalid JSON"},
		{`{"type":"audio","chunk":"%%%"}`, "Invalid audio chunk"},
		{`{"type":"control"}`, "Missing control action"},
		{`{"action":"stop"}`, "Missing message type"},
		{`{"type":"video"}`, "Unsupported message type: video"},
	}
	for _, tt := range tests {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		msg := readUntil(t, ws, TypeError)
		if msg["message"] != tt.want {
			t.Errorf("For %s expected %q, got %v", tt.payload, tt.want, msg["message"])
		}
	}

	send(t, ws, control("rewind"))
	info := readUntil(t, ws, TypeInfo)
	if info["message"] != "Unknown control: rewind" {
		t.Errorf("Expected unknown control info, got %v", info["message"])
	}
}

func TestSession_RapidNextRunsOneSynthesis(t *testing.T) {
	h := newHarness(t, []string{"Q1", "Q2", "Q3"}, Options{})
	h.synth.hold = make(chan struct{})
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	send(t, ws, control(ActionNextQuestion))
	send(t, ws, control(ActionNextQuestion))

	for _, want := range []string{"Q1", "Q2", "Q3"} {
		q := readUntil(t, ws, TypeQuestion)
		if q["text"] != want {
			t.Errorf("Expected %s, got %v", want, q["text"])
		}
	}
	close(h.synth.hold)
	for {
		chunk := readUntil(t, ws, TypeTTSChunk)
		if chunk["isFinal"] == true {
			if chunk["text"] != "Q3" {
				t.Errorf("Expected final chunk for Q3, got %v", chunk["text"])
			}
			break
		}
	}

	if max := atomic.LoadInt32(&h.synth.maxActive); max != 1 {
		t.Errorf("Expected at most one synthesis at a time, got %d", max)
	}
}

func TestSession_SynthesisFailureKeepsSession(t *testing.T) {
	h := newHarness(t, []string{"Q1", "Q2"}, Options{})
	h.synth.fail = &tts.ProviderError{Provider: "fake", Message: "quota"}
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	msg := readUntil(t, ws, TypeError)
	if msg["message"] != "Speech synthesis failed" {
		t.Errorf("Expected synthesis failure, got %v", msg["message"])
	}

	send(t, ws, control(ActionNextQuestion))
	q := readUntil(t, ws, TypeQuestion)
	if q["text"] != "Q2" {
		t.Errorf("Expected session to continue to Q2, got %v", q["text"])
	}
}

func TestSession_ClientAnswerSource(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{AnswerFromClient: true})
	ws := h.connect(t)

	send(t, ws, control(ActionStartInterview))
	readUntil(t, ws, TypeQuestion)
	send(t, ws, map[string]string{"type": TypeAnswer, "text": "typed"})
	send(t, ws, map[string]string{"type": TypeAnswer, "text": "answer"})
	h.dialer.conn(t).events <- finalTurn("spoken words")
	readUntil(t, ws, TypeAnswerComplete)

	send(t, ws, control(ActionNextQuestion))
	readUntil(t, ws, TypeInterviewComplete)

	if got := storedTranscript(t, h); got != "Q1: Q1\nA1: Typed answer" {
		t.Errorf("Expected only client answers recorded, got %q", got)
	}
}

func TestSession_STTStreamLossReported(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	ws := h.connect(t)

	h.dialer.conn(t).Close()
	msg := readUntil(t, ws, TypeError)
	if msg["message"] != "Transcription stream closed" {
		t.Errorf("Expected stream loss message, got %v", msg["message"])
	}
}

func TestSession_ProviderErrorReported(t *testing.T) {
	h := newHarness(t, []string{"Q1"}, Options{})
	ws := h.connect(t)

	h.dialer.conn(t).events <- stt.Event{"type": "Error", "error": "bad audio"}
	msg := readUntil(t, ws, TypeError)
	if msg["message"] != "Transcription error: bad audio" {
		t.Errorf("Unexpected message %v", msg["message"])
	}
}

func TestState_String(t *testing.T) {
	if StateCompleting.String() != "COMPLETING" {
		t.Errorf("Expected COMPLETING, got %s", StateCompleting)
	}
	if State(42).String() != "UNKNOWN" {
		t.Errorf("Expected UNKNOWN, got %s", State(42))
	}
}
