package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jetbot/interview-gateway/internal/config"
	"github.com/jetbot/interview-gateway/internal/resilience"
)

const (
	cartesiaVersion = "2024-06-10"
	// cartesiaChunkSize is the raw PCM slice relayed per chunk.
	cartesiaChunkSize = 16 * 1024
)

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaRequest represents the request payload for the Cartesia bytes API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
}

// Cartesia synthesizes through Cartesia's HTTP bytes endpoint and relays the
// response body as a sequence of base64 chunks.
type Cartesia struct {
	APIURL  string
	APIKey  string
	VoiceID string
	ModelID string

	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
}

func NewCartesia(cfg *config.Config, breaker *resilience.CircuitBreaker) *Cartesia {
	return &Cartesia{
		APIURL:     cfg.CartesiaURL,
		APIKey:     cfg.CartesiaAPIKey,
		VoiceID:    cfg.CartesiaVoiceID,
		ModelID:    cfg.CartesiaModelID,
		HTTPClient: &http.Client{},
		Breaker:    breaker,
	}
}

func (c *Cartesia) Provider() string {
	return config.TTSProviderCartesia
}

func (c *Cartesia) Synthesize(ctx context.Context, text string, onChunk ChunkFunc) error {
	reqBody := CartesiaRequest{
		ModelID:    c.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: 16000,
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *http.Response
	post := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(jsonData))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.APIKey)
		req.Header.Set("Cartesia-Version", cartesiaVersion)

		r, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			r.Body.Close()
			return fmt.Errorf("cartesia API returned status %d", r.StatusCode)
		}
		resp = r
		return nil
	}
	if c.Breaker != nil {
		err = c.Breaker.Call(post)
	} else {
		err = post()
	}
	if err != nil {
		return &ConnectError{Provider: c.Provider(), Err: err}
	}
	defer resp.Body.Close()

	// Hold one slice back so the last one can be tagged final.
	var pending []byte
	buf := make([]byte, cartesiaChunkSize)
	for {
		n, readErr := fillChunk(resp.Body, buf)
		if n > 0 {
			if pending != nil {
				if err := onChunk(ctx, base64.StdEncoding.EncodeToString(pending), false); err != nil {
					return err
				}
			}
			pending = append([]byte(nil), buf[:n]...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrIncomplete, readErr)
		}
	}

	if pending == nil {
		return &ProviderError{Provider: c.Provider(), Message: "empty audio response"}
	}
	return onChunk(ctx, base64.StdEncoding.EncodeToString(pending), true)
}

// fillChunk reads into buf until it is full or the body ends. Only a clean
// io.EOF ends the stream; a body cut short surfaces io.ErrUnexpectedEOF.
func fillChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
