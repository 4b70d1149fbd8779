package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/jetbot/interview-gateway/internal/prompts"
	"github.com/jetbot/interview-gateway/internal/resilience"
)

// ErrNotConfigured is returned when no Gemini API key was provided.
var ErrNotConfigured = errors.New("vision: GEMINI_API_KEY is not configured")

// Analyzer turns frames into a feedback object. It never fails; problems
// degrade to generic feedback.
type Analyzer interface {
	Analyze(ctx context.Context, frames []string) map[string]any
}

// generateFunc matches genai.GenerativeModel.GenerateContent.
type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// Gemini analyzes frames with a Gemini multimodal model.
type Gemini struct {
	client   *genai.Client
	generate generateFunc
	prompt   string
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger
}

// NewGemini creates an analyzer for model. An empty apiKey yields an
// analyzer that always returns generic feedback.
func NewGemini(ctx context.Context, apiKey, model string, set *prompts.Set, breaker *resilience.CircuitBreaker, logger zerolog.Logger) (*Gemini, error) {
	g := &Gemini{
		prompt:  set.Vision.Prompt,
		breaker: breaker,
		logger:  logger,
	}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	g.generate = setupModel(client, model, set.Vision).GenerateContent
	return g, nil
}

func setupModel(client *genai.Client, name string, p prompts.Vision) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.GenerationConfig.SetMaxOutputTokens(p.MaxTokens)
	model.GenerationConfig.SetTemperature(p.Temperature)
	model.GenerationConfig.SetTopP(p.TopP)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
	}
	return model
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Analyze(ctx context.Context, frames []string) map[string]any {
	if len(frames) == 0 {
		return NoFramesFeedback()
	}
	if g.generate == nil {
		return GenericFeedback(len(frames), ErrNotConfigured)
	}

	parts := []genai.Part{genai.Text(g.prompt)}
	for i, frame := range frames {
		data, format, err := decodeFrame(frame)
		if err != nil {
			g.logger.Warn().Err(err).Int("frame", i).Msg("Skipping undecodable frame")
			continue
		}
		parts = append(parts, genai.ImageData(format, data))
	}
	images := len(parts) - 1
	if images == 0 {
		return GenericFeedback(len(frames), errors.New("no valid images to analyze"))
	}

	var resp *genai.GenerateContentResponse
	call := func() error {
		var err error
		resp, err = g.generate(ctx, parts...)
		return err
	}
	var err error
	if g.breaker != nil {
		err = g.breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			g.logger.Warn().Str("reason", blocked.Error()).Msg("Frame analysis blocked")
			return GenericFeedback(images, nil)
		}
		g.logger.Error().Err(err).Msg("Frame analysis failed")
		return GenericFeedback(images, err)
	}

	return g.interpret(resp, images)
}

func (g *Gemini) interpret(resp *genai.GenerateContentResponse, images int) map[string]any {
	if resp == nil || len(resp.Candidates) == 0 {
		g.logger.Warn().Msg("Frame analysis returned no candidates")
		return GenericFeedback(images, nil)
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified:
	case genai.FinishReasonSafety:
		g.logger.Warn().Msg("Frame analysis stopped for safety")
		return GenericFeedback(images, nil)
	default:
		g.logger.Warn().Int("finish_reason", int(candidate.FinishReason)).Msg("Unexpected finish reason")
		return GenericFeedback(images, nil)
	}

	text := stripFences(responseText(candidate))
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil || result == nil {
		g.logger.Warn().Err(err).Msg("Frame analysis was not valid JSON")
		return map[string]any{
			"status":          StatusPartial,
			"analysis":        text,
			"frames_analyzed": images,
		}
	}
	result["status"] = StatusSuccess
	result["frames_analyzed"] = images
	return result
}

func responseText(candidate *genai.Candidate) string {
	if candidate.Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String()
}
