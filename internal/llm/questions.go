package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/prompts"
)

// QuestionCount is how many questions an interview is planned with.
const QuestionCount = 5

// Difficulty levels accepted when scheduling.
const (
	DifficultyBeginner = "beginner"
	DifficultyMedium   = "medium"
	DifficultyAdvanced = "advanced"
)

// ErrNoQuestions is returned when the completion yields no usable question.
var ErrNoQuestions = errors.New("llm: completion contained no questions")

// ValidDifficulty reports whether level is a known difficulty.
func ValidDifficulty(level string) bool {
	switch level {
	case DifficultyBeginner, DifficultyMedium, DifficultyAdvanced:
		return true
	}
	return false
}

// QuestionGenerator plans interview questions from a job description.
type QuestionGenerator struct {
	completer Completer
	prompt    prompts.Completion
	model     string
	logger    zerolog.Logger
}

func NewQuestionGenerator(completer Completer, set *prompts.Set, model string, logger zerolog.Logger) *QuestionGenerator {
	return &QuestionGenerator{
		completer: completer,
		prompt:    set.Questions,
		model:     model,
		logger:    logger,
	}
}

// Generate returns the questions for jd at difficulty, in asking order.
func (g *QuestionGenerator) Generate(ctx context.Context, jd, difficulty string) ([]string, error) {
	user, err := prompts.Render(g.prompt.User, prompts.QuestionData{
		JobDescription: jd,
		Difficulty:     difficulty,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.completer.Complete(ctx, Request{
		Model:       g.model,
		System:      g.prompt.System,
		User:        user,
		MaxTokens:   g.prompt.MaxTokens,
		Temperature: g.prompt.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	questions, fromJSON := ParseQuestions(raw)
	if !fromJSON {
		g.logger.Warn().Int("questions", len(questions)).Msg("Question completion was not a JSON list, split by lines")
	} else if len(questions) != QuestionCount {
		g.logger.Warn().Int("questions", len(questions)).Msg("Question completion returned an unexpected count")
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}

// ParseQuestions reads a completion as a JSON list of strings. Anything
// else is split into lines with list numbering and bullets stripped. The
// second result reports whether the JSON form was used.
func ParseQuestions(raw string) ([]string, bool) {
	var list []any
	if err := json.Unmarshal([]byte(stripFences(raw)), &list); err == nil && len(list) > 0 {
		questions := make([]string, 0, len(list))
		for _, q := range list {
			if s := strings.TrimSpace(fmt.Sprint(q)); s != "" {
				questions = append(questions, s)
			}
		}
		return questions, true
	}

	var questions []string
	for _, line := range strings.Split(raw, "\n") {
		q := strings.Trim(line, " -0123456789.\t\r")
		if q == "" || strings.HasPrefix(q, "```") {
			continue
		}
		questions = append(questions, q)
	}
	return questions, false
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
