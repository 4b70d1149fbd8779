package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/events"
	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/resilience"
	"github.com/jetbot/interview-gateway/internal/store"
	"github.com/jetbot/interview-gateway/internal/stt"
	"github.com/jetbot/interview-gateway/internal/transcript"
	"github.com/jetbot/interview-gateway/internal/tts"
)

const (
	writeWait      = 10 * time.Second
	persistTimeout = 15 * time.Second
	publishTimeout = 2 * time.Second
	sttEventBuffer = 64
)

// Publisher receives session events.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev events.TranscriptEvent) error
	PublishLifecycle(ctx context.Context, ev events.LifecycleEvent) error
}

// Options tune one session.
type Options struct {
	// AnswerFromClient accumulates answers from client "answer" frames
	// instead of final STT transcripts.
	AnswerFromClient bool
	MaxChunkSize     int
	STTCloseWait     time.Duration
	Retry            *resilience.RetryConfig
}

type clientFrame struct {
	messageType int
	data        []byte
}

// Controller owns one interview session. All session state is mutated from
// the goroutine running Run; the client reader, the STT read loop and the
// TTS worker only hand it messages.
type Controller struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	interview *store.Interview
	store     store.InterviewStore
	dialer    stt.Dialer
	breaker   *resilience.CircuitBreaker
	synth     tts.Synthesizer
	publisher Publisher
	opts      Options
	logger    zerolog.Logger
	metrics   *observability.Metrics

	state        State
	currentIndex int
	answer       string
	pairs        []transcript.Pair
	dirty        bool
	clientGone   bool

	bridge    *stt.Bridge
	sttEvents chan stt.Event
	sttStop   chan struct{}

	ttsCancel context.CancelFunc
	ttsDone   chan struct{}
}

// NewController creates a session for an authorized caller and a loaded
// interview. The client connection must already be upgraded.
func NewController(conn *websocket.Conn, iv *store.Interview, deps Deps, opts Options, logger zerolog.Logger) *Controller {
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &Controller{
		conn:      conn,
		interview: iv,
		store:     deps.Store,
		dialer:    deps.STTDialer,
		breaker:   deps.STTBreaker,
		synth:     deps.Synthesizer,
		publisher: deps.Publisher,
		opts:      opts,
		logger:    logger,
		metrics:   observability.NewSessionMetrics(),
		state:     StateAccepted,
		sttEvents: make(chan stt.Event, sttEventBuffer),
		sttStop:   make(chan struct{}),
	}
}

// State returns the lifecycle state. Only meaningful from the Run goroutine
// or after Run returns.
func (c *Controller) State() State {
	return c.state
}

// Run drives the session until the client stops or disconnects. It returns
// a non-nil error when the transcript could not be persisted or the STT
// stream could not be opened.
func (c *Controller) Run(ctx context.Context) error {
	c.bridge = stt.NewBridge(c.dialer, c.onSTTEvent, stt.Options{
		CloseWait: c.opts.STTCloseWait,
		Breaker:   c.breaker,
		Logger:    c.logger,
	})
	if err := c.bridge.Start(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Failed to open STT stream")
		c.metrics.RecordError("stt_connect", "session")
		observability.RecordSessionRejected("stt_connect_failed")
		c.sendNotice(TypeError, "Speech recognition is unavailable")
		c.closeClient(CloseUpstreamFailed, "stt connect failed")
		c.state = StateClosed
		return err
	}

	c.state = StateActive
	c.metrics.RecordSessionStart()
	c.sendNotice(TypeInfo, fmt.Sprintf("Interview %s connected", c.interview.ID))
	c.publishLifecycle(ctx, events.SessionStarted, "")
	c.logger.Info().Int("questions", len(c.interview.Questions)).Msg("Interview session active")

	frames := make(chan clientFrame)
	readErr := make(chan error, 1)
	loopDone := make(chan struct{})
	go c.readClient(frames, readErr, loopDone)

	outcome := "disconnected"
loop:
	for {
		select {
		case f := <-frames:
			if stop := c.handleFrame(ctx, f); stop {
				outcome = "stopped"
				break loop
			}
		case ev := <-c.sttEvents:
			c.handleSTTEvent(ctx, ev)
		case err := <-readErr:
			c.clientGone = true
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Client connection ended")
			}
			break loop
		case <-ctx.Done():
			outcome = "shutdown"
			break loop
		}
	}
	close(loopDone)

	err := c.teardown(ctx)
	if err != nil {
		outcome = "flush_failed"
	}
	c.metrics.RecordSessionEnd(outcome)
	return err
}

func (c *Controller) readClient(frames chan<- clientFrame, readErr chan<- error, loopDone <-chan struct{}) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- clientFrame{messageType: mt, data: data}:
		case <-loopDone:
			return
		}
	}
}

// onSTTEvent runs on the bridge read loop and hands events to Run.
func (c *Controller) onSTTEvent(ctx context.Context, ev stt.Event) error {
	select {
	case c.sttEvents <- ev:
		return nil
	case <-c.sttStop:
		return errors.New("session no longer accepting transcripts")
	}
}

func (c *Controller) handleFrame(ctx context.Context, f clientFrame) bool {
	if f.messageType == websocket.BinaryMessage {
		c.forwardAudio(f.data)
		return false
	}

	var msg clientMessage
	if err := json.Unmarshal(f.data, &msg); err != nil {
		c.logger.Debug().Err(fmt.Errorf("%w: %v", ErrMalformedInput, err)).Msg("Rejected client frame")
		c.sendNotice(TypeError, "Invalid JSON")
		return false
	}

	switch msg.Type {
	case TypeControl:
		return c.handleControl(ctx, msg.Action)

	case TypeAudio:
		chunk, err := base64.StdEncoding.DecodeString(msg.Chunk)
		if err != nil || msg.Chunk == "" {
			c.sendNotice(TypeError, "Invalid audio chunk")
			return false
		}
		c.forwardAudio(chunk)

	case TypeAnswer:
		if !c.opts.AnswerFromClient {
			c.sendNotice(TypeInfo, "Answers are captured from speech")
			return false
		}
		c.appendAnswer(msg.Text)

	case "":
		c.sendNotice(TypeError, "Missing message type")

	default:
		c.sendNotice(TypeError, fmt.Sprintf("Unsupported message type: %s", msg.Type))
	}
	return false
}

func (c *Controller) handleControl(ctx context.Context, action string) bool {
	switch action {
	case ActionStop:
		c.sendNotice(TypeInfo, "Stopping interview")
		return true
	case ActionStartInterview, ActionNextQuestion:
		c.next(ctx)
	case ActionContinueAnswer:
		c.sendNotice(TypeInfo, "Continuing same answer...")
	case "":
		c.sendNotice(TypeError, "Missing control action")
	default:
		c.sendNotice(TypeInfo, fmt.Sprintf("Unknown control: %s", action))
	}
	return false
}

func (c *Controller) forwardAudio(chunk []byte) {
	if len(chunk) > c.opts.MaxChunkSize {
		c.metrics.RecordDroppedChunk()
		c.logger.Debug().Int("bytes", len(chunk)).Msg("Dropping oversize audio chunk")
		return
	}
	if err := c.bridge.SendAudio(chunk); err != nil {
		c.metrics.RecordError("stt_send", "session")
		c.logger.Warn().Err(err).Msg("Failed to forward audio")
		return
	}
	c.metrics.RecordAudioBytes("inbound", int64(len(chunk)))
}

// next records the pending answer and asks the following question, or
// finishes the interview when none are left.
func (c *Controller) next(ctx context.Context) {
	c.capturePending()

	questions := c.interview.Questions
	if c.currentIndex >= len(questions) {
		c.complete(ctx)
		return
	}

	question := questions[c.currentIndex]
	c.currentIndex++
	c.metrics.RecordQuestionAsked()
	c.send(questionMessage{Type: TypeQuestion, Text: question})
	c.publishLifecycleQuestion(ctx, c.currentIndex, question)
	c.startSynthesis(ctx, question)
}

// complete saves the transcript when it changed since the last save, so an
// interview advanced without answers leaves any stored transcript alone.
func (c *Controller) complete(ctx context.Context) {
	if c.dirty {
		if err := c.persist(ctx, "complete"); err != nil {
			c.sendNotice(TypeError, "Failed to save transcript")
			return
		}
	}
	c.sendNotice(TypeInterviewComplete, "Interview complete")
	c.publishLifecycle(ctx, events.SessionCompleted, "")
}

// capturePending moves a non-empty answer buffer into the transcript as the
// answer to the last asked question.
func (c *Controller) capturePending() {
	if c.currentIndex == 0 || c.answer == "" {
		return
	}
	c.pairs = append(c.pairs, transcript.Pair{
		Question: c.interview.Questions[c.currentIndex-1],
		Answer:   c.answer,
	})
	c.answer = ""
	c.dirty = true
}

func (c *Controller) appendAnswer(text string) {
	text = strings.TrimSpace(text)
	if text == "" || c.currentIndex == 0 {
		return
	}
	if c.answer == "" {
		c.answer = text
		return
	}
	c.answer += " " + text
}

// startSynthesis cancels any synthesis still streaming and waits for it to
// release its provider connection before starting the next one.
func (c *Controller) startSynthesis(ctx context.Context, question string) {
	c.stopSynthesis()

	ttsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.ttsCancel = cancel
	c.ttsDone = done

	go func() {
		defer close(done)
		c.metrics.RecordTTSStart()

		err := c.synth.Synthesize(ttsCtx, question, func(ctx context.Context, audio string, isFinal bool) error {
			msg := ttsChunkMessage{Type: TypeTTSChunk, IsFinal: isFinal}
			if audio != "" {
				msg.Audio = &audio
				c.metrics.RecordAudioBytes("outbound", int64(len(audio)))
			}
			if isFinal {
				msg.Text = &question
			}
			return c.send(msg)
		})

		c.metrics.RecordTTSEnd(c.synth.Provider(), err == nil)
		if err != nil && ttsCtx.Err() == nil {
			c.metrics.RecordError("tts", "session")
			c.logger.Error().Err(err).Msg("Speech synthesis failed")
			c.sendNotice(TypeError, "Speech synthesis failed")
		}
	}()
}

func (c *Controller) stopSynthesis() {
	if c.ttsCancel == nil {
		return
	}
	c.ttsCancel()
	<-c.ttsDone
	c.ttsCancel = nil
	c.ttsDone = nil
}

func (c *Controller) handleSTTEvent(ctx context.Context, ev stt.Event) {
	if tr, ok := stt.ParseTranscript(ev); ok {
		c.applyTranscript(ctx, tr, true)
		return
	}
	if msg, ok := stt.ProviderError(ev); ok {
		c.metrics.RecordError("stt_provider", "session")
		c.logger.Error().Str("provider_error", msg).Msg("STT provider reported an error")
		c.sendNotice(TypeError, fmt.Sprintf("Transcription error: %s", msg))
		return
	}
	if cause, ok := stt.StreamClosed(ev); ok {
		c.metrics.RecordError("stt_stream_closed", "session")
		c.logger.Warn().Str("cause", cause).Msg("STT stream lost")
		c.sendNotice(TypeError, "Transcription stream closed")
		return
	}
	c.logger.Debug().Str("event_type", ev.Type()).Msg("STT event")
}

func (c *Controller) applyTranscript(ctx context.Context, tr stt.Transcript, notify bool) {
	c.metrics.RecordSTTTranscript(tr.Final)
	if notify {
		c.send(transcriptMessage{Type: TypeTranscript, Final: tr.Final, Text: tr.Text})
	}
	if !tr.Final {
		return
	}

	if !c.opts.AnswerFromClient {
		c.appendAnswer(tr.Text)
	}
	c.publishTranscript(ctx, tr.Text)
	if notify {
		c.sendNotice(TypeAnswerComplete, answerCompleteMessage)
	}
}

// teardown closes upstream streams, keeps any trailing final transcript,
// persists the transcript and closes the client.
func (c *Controller) teardown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	c.state = StateCompleting
	c.stopSynthesis()

	closed := make(chan error, 1)
	go func() { closed <- c.bridge.FlushAndClose() }()
drain:
	for {
		select {
		case ev := <-c.sttEvents:
			if tr, ok := stt.ParseTranscript(ev); ok {
				c.applyTranscript(ctx, tr, !c.clientGone)
			}
		case err := <-closed:
			if err != nil {
				c.logger.Debug().Err(err).Msg("STT close returned error")
			}
			break drain
		}
	}
	close(c.sttStop)
	for len(c.sttEvents) > 0 {
		if tr, ok := stt.ParseTranscript(<-c.sttEvents); ok {
			c.applyTranscript(ctx, tr, false)
		}
	}

	c.capturePending()
	var err error
	if c.dirty {
		if err = c.persist(ctx, "disconnect"); err != nil && !c.clientGone {
			c.sendNotice(TypeError, "Failed to save transcript")
		}
	}

	c.publishLifecycle(ctx, events.SessionClosed, "")
	if !c.clientGone {
		c.closeClient(CloseNormal, "interview ended")
	} else {
		c.conn.Close()
	}
	c.state = StateClosed
	c.logger.Info().Int("pairs", len(c.pairs)).Msg("Interview session closed")
	return err
}

// persist overwrites the stored transcript with the rendered pairs.
func (c *Controller) persist(ctx context.Context, trigger string) error {
	text := transcript.Render(c.pairs)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	retry := c.opts.Retry.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("Retrying transcript save")
	})
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return c.store.SaveTranscript(ctx, c.interview.ID, text)
	}, retry, resilience.IsRetryableNetworkError)
	c.metrics.RecordFlush(trigger, err)
	if err != nil {
		c.logger.Error().Err(err).Str("trigger", trigger).Msg("Failed to persist transcript")
		return fmt.Errorf("persist transcript: %w", err)
	}
	c.dirty = false
	c.logger.Info().Str("trigger", trigger).Int("pairs", len(c.pairs)).Msg("Transcript persisted")
	return nil
}

func (c *Controller) publishTranscript(ctx context.Context, text string) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := c.publisher.PublishTranscript(ctx, events.TranscriptEvent{
		InterviewID:   c.interview.ID,
		QuestionIndex: c.currentIndex,
		Text:          text,
		Final:         true,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish transcript event")
	}
}

func (c *Controller) publishLifecycle(ctx context.Context, name, detail string) {
	c.publishLifecycleEvent(ctx, events.LifecycleEvent{InterviewID: c.interview.ID, Event: name, Detail: detail})
}

func (c *Controller) publishLifecycleQuestion(ctx context.Context, index int, question string) {
	c.publishLifecycleEvent(ctx, events.LifecycleEvent{
		InterviewID:   c.interview.ID,
		Event:         events.QuestionAsked,
		QuestionIndex: index,
		Question:      question,
	})
}

func (c *Controller) publishLifecycleEvent(ctx context.Context, ev events.LifecycleEvent) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.publisher.PublishLifecycle(ctx, ev); err != nil {
		c.logger.Warn().Err(err).Str("event", ev.Event).Msg("Failed to publish lifecycle event")
	}
}

func (c *Controller) sendNotice(msgType, message string) {
	c.send(noticeMessage{Type: msgType, Message: message})
}

// send writes one JSON frame. Safe for concurrent use.
func (c *Controller) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write to client")
		return err
	}
	return nil
}

func (c *Controller) closeClient(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	closeConn(c.conn, code, reason)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	conn.Close()
}
