package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/jetbot/interview-gateway/internal/config"
	"github.com/jetbot/interview-gateway/internal/resilience"
)

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type initMessage struct {
	Text             string           `json:"text"`
	APIKey           string           `json:"xi_api_key"`
	VoiceSettings    voiceSettings    `json:"voice_settings"`
	GenerationConfig generationConfig `json:"generation_config"`
	OutputFormat     string           `json:"output_format"`
}

type textMessage struct {
	Text  string `json:"text"`
	Flush bool   `json:"flush,omitempty"`
}

type streamMessage struct {
	Audio   *string `json:"audio"`
	IsFinal *bool   `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

// ElevenLabs synthesizes over the stream-input websocket API.
type ElevenLabs struct {
	BaseURL      string
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string

	Dialer  *websocket.Dialer
	Breaker *resilience.CircuitBreaker
}

func NewElevenLabs(cfg *config.Config, breaker *resilience.CircuitBreaker) *ElevenLabs {
	return &ElevenLabs{
		BaseURL:      cfg.ElevenLabsURL,
		APIKey:       cfg.ElevenLabsAPIKey,
		VoiceID:      cfg.ElevenLabsVoiceID,
		ModelID:      cfg.ElevenLabsModelID,
		OutputFormat: cfg.ElevenLabsOutputFormat,
		Breaker:      breaker,
	}
}

func (e *ElevenLabs) Provider() string {
	return config.TTSProviderElevenLabs
}

func (e *ElevenLabs) endpoint() string {
	return fmt.Sprintf("%s/%s/stream-input?model_id=%s",
		strings.TrimRight(e.BaseURL, "/"), url.PathEscape(e.VoiceID), url.QueryEscape(e.ModelID))
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string, onChunk ChunkFunc) error {
	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	var ws *websocket.Conn
	dial := func() error {
		c, _, err := dialer.DialContext(ctx, e.endpoint(), nil)
		ws = c
		return err
	}
	var err error
	if e.Breaker != nil {
		err = e.Breaker.Call(dial)
	} else {
		err = dial()
	}
	if err != nil {
		return &ConnectError{Provider: e.Provider(), Err: err}
	}
	defer ws.Close()

	// Unblock the read below when the caller cancels.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-stop:
		}
	}()

	initMsg := initMessage{
		Text:   " ",
		APIKey: e.APIKey,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.8,
			Speed:           1.0,
		},
		GenerationConfig: generationConfig{ChunkLengthSchedule: []int{120, 160, 250, 290}},
		OutputFormat:     e.OutputFormat,
	}
	for _, msg := range []any{initMsg, textMessage{Text: text + " "}, textMessage{Text: "", Flush: true}} {
		if err := ws.WriteJSON(msg); err != nil {
			return e.streamErr(ctx, fmt.Errorf("tts: send: %w", err))
		}
	}

	for {
		var msg streamMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				// Provider ended the stream cleanly without an isFinal frame.
				return onChunk(ctx, "", true)
			}
			return e.streamErr(ctx, fmt.Errorf("%w: %v", ErrIncomplete, err))
		}

		if msg.Error != "" {
			return &ProviderError{Provider: e.Provider(), Message: msg.Error}
		}

		final := msg.IsFinal != nil && *msg.IsFinal
		if msg.Audio != nil || final {
			audio := ""
			if msg.Audio != nil {
				audio = *msg.Audio
			}
			if err := onChunk(ctx, audio, final); err != nil {
				return err
			}
		}
		if final {
			return nil
		}
	}
}

func (e *ElevenLabs) streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
