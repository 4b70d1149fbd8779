// Package session runs live interview sessions over a client websocket.
package session

import (
	"errors"
)

// Application close codes sent to the client.
const (
	CloseNormal         = 1000
	CloseUnauthorized   = 4401
	CloseForbidden      = 4403
	CloseNotFound       = 4404
	CloseNoQuestions    = 4409
	CloseUpstreamFailed = 4500
)

// Client control actions.
const (
	ActionStop           = "stop"
	ActionStartInterview = "start_interview"
	ActionNextQuestion   = "next_question"
	ActionContinueAnswer = "continue_answer"
)

// Client message types.
const (
	TypeControl = "control"
	TypeAudio   = "audio"
	TypeAnswer  = "answer"
)

// Server message types.
const (
	TypeInfo              = "info"
	TypeError             = "error"
	TypeQuestion          = "question"
	TypeTranscript        = "transcript"
	TypeTTSChunk          = "tts_chunk"
	TypeAnswerComplete    = "answer_complete"
	TypeInterviewComplete = "interview_complete"
)

const answerCompleteMessage = "Answer captured. Continue or move to next question?"

var (
	ErrNoQuestions       = errors.New("interview has no questions")
	ErrMissingCredential = errors.New("speech provider credential not configured")
	ErrMalformedInput    = errors.New("malformed client message")
)

// clientMessage is any JSON frame sent by the client.
type clientMessage struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Chunk  string `json:"chunk,omitempty"`
	Text   string `json:"text,omitempty"`
}

type noticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type questionMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type transcriptMessage struct {
	Type  string `json:"type"`
	Final bool   `json:"final"`
	Text  string `json:"text"`
}

// ttsChunkMessage carries null audio when the provider's final frame has
// none, and the question text only on the final chunk.
type ttsChunkMessage struct {
	Type    string  `json:"type"`
	Audio   *string `json:"audio"`
	IsFinal bool    `json:"isFinal"`
	Text    *string `json:"text"`
}

// State is the session lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateAccepted
	StateActive
	StateCompleting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAccepted:
		return "ACCEPTED"
	case StateActive:
		return "ACTIVE"
	case StateCompleting:
		return "COMPLETING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
