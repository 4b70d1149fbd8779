// Package report builds the evaluation report for a finished interview.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/events"
	"github.com/jetbot/interview-gateway/internal/llm"
	"github.com/jetbot/interview-gateway/internal/observability"
	"github.com/jetbot/interview-gateway/internal/prompts"
	"github.com/jetbot/interview-gateway/internal/store"
	"github.com/jetbot/interview-gateway/internal/vision"
)

// MinTranscriptLength is the shortest transcript that can be scored.
const MinTranscriptLength = 50

// TranscriptTooShortError is returned when the stored transcript is below
// MinTranscriptLength.
type TranscriptTooShortError struct {
	Length int
}

func (e *TranscriptTooShortError) Error() string {
	return fmt.Sprintf("Interview transcription is too short (%d chars). Minimum %d characters required for analysis.",
		e.Length, MinTranscriptLength)
}

// ErrAnalysisFailed wraps scorer failures.
var ErrAnalysisFailed = errors.New("failed to generate interview analysis")

// Store is the persistence the service needs.
type Store interface {
	store.InterviewStore
	store.ReportStore
}

// Publisher announces created reports.
type Publisher interface {
	PublishLifecycle(ctx context.Context, ev events.LifecycleEvent) error
}

// Service creates reports. Creation is idempotent per interview.
type Service struct {
	store     Store
	completer llm.Completer
	analyzer  vision.Analyzer
	publisher Publisher
	prompt    prompts.Completion
	model     string
	logger    zerolog.Logger
}

func NewService(st Store, completer llm.Completer, analyzer vision.Analyzer, publisher Publisher, set *prompts.Set, model string, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		completer: completer,
		analyzer:  analyzer,
		publisher: publisher,
		prompt:    set.Report,
		model:     model,
		logger:    logger,
	}
}

// Get returns the stored report or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, interviewID string) (*store.Report, error) {
	return s.store.GetReport(ctx, interviewID)
}

// Create returns the interview's report, building it when none exists.
// created is false when an existing report was returned.
func (s *Service) Create(ctx context.Context, interviewID string) (*store.Report, bool, error) {
	if existing, err := s.store.GetReport(ctx, interviewID); err == nil {
		observability.RecordReport("existing")
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	iv, err := s.store.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, false, err
	}

	transcript := strings.TrimSpace(iv.FullTranscript)
	if n := len([]rune(transcript)); n < MinTranscriptLength {
		observability.RecordReport("too_short")
		return nil, false, &TranscriptTooShortError{Length: n}
	}

	logger := s.logger.With().Str("interview_id", iv.ID).Logger()
	logger.Info().Int("transcript_chars", len(transcript)).Msg("Generating report")

	analysis, err := s.score(ctx, transcript)
	if err != nil {
		logger.Error().Err(err).Msg("Interview analysis failed")
		observability.RecordReport("failed")
		return nil, false, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	frames := vision.CleanFrames(iv.VisualFrames)
	var visual map[string]any
	if len(frames) == 0 {
		visual = vision.NoFramesFeedback()
	} else {
		visual = s.analyzer.Analyze(ctx, frames)
	}
	logger.Info().
		Int("strengths", len(analysis.KeyStrengths)).
		Int("improvements", len(analysis.AreasForImprovement)).
		Int("total", analysis.Ratings.Total).
		Interface("visual_status", visual["status"]).
		Msg("Report data validated")

	stored, created, err := s.store.CreateReport(ctx, &store.Report{
		ID:                  uuid.NewString(),
		InterviewID:         iv.ID,
		KeyStrengths:        analysis.KeyStrengths,
		AreasForImprovement: analysis.AreasForImprovement,
		Ratings:             analysis.Ratings,
		VisualFeedback:      visual,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to save report: %w", err)
	}
	if !created {
		logger.Info().Msg("Report created concurrently, returning existing")
		observability.RecordReport("existing")
		return stored, false, nil
	}
	observability.RecordReport("created")

	if err := s.store.SetStatus(ctx, iv.ID, store.StatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark interview completed")
	}
	if s.publisher != nil {
		err := s.publisher.PublishLifecycle(ctx, events.LifecycleEvent{
			InterviewID: iv.ID,
			Event:       events.ReportCreated,
			Detail:      stored.ID,
			Timestamp:   time.Now().UTC(),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to publish report event")
		}
	}
	return stored, true, nil
}

func (s *Service) score(ctx context.Context, transcript string) (*Analysis, error) {
	user, err := prompts.Render(s.prompt.User, prompts.ReportData{Transcript: transcript})
	if err != nil {
		return nil, err
	}
	raw, err := s.completer.Complete(ctx, llm.Request{
		Model:       s.model,
		System:      s.prompt.System,
		User:        user,
		MaxTokens:   s.prompt.MaxTokens,
		Temperature: s.prompt.Temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("invalid analysis JSON: %w", err)
	}
	return normalize(parsed, s.logger), nil
}
