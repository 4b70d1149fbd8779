package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/prompts"
)

var jpegFrame = base64.StdEncoding.EncodeToString([]byte("\xFF\xD8\xFF\xE0fake-jpeg-body"))

func textResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []genai.Part{genai.Text(text)}},
			FinishReason: reason,
		}},
	}
}

func newTestAnalyzer(fn generateFunc) *Gemini {
	g, _ := NewGemini(context.Background(), "", "gemini-test", prompts.Default(), nil, zerolog.Nop())
	g.generate = fn
	return g
}

func TestCleanFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"bare", "abc\n def\r", "data:image/jpeg;base64,abcdef"},
		{"data uri kept", "data:image/png;base64,xyz", "data:image/png;base64,xyz"},
		{"foreign prefix", "image/webp;base64,qrs", "data:image/jpeg;base64,qrs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanFrame(tt.frame); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCleanFrames_Caps(t *testing.T) {
	frames := make([]string, 8)
	for i := range frames {
		frames[i] = "f"
	}
	if got := len(CleanFrames(frames)); got != MaxAnalyzedFrames {
		t.Errorf("Expected %d frames, got %d", MaxAnalyzedFrames, got)
	}
}

func TestStripFences(t *testing.T) {
	in := "```json\n{\"lighting\":\"good\"}\n```"
	if got := stripFences(in); got != `{"lighting":"good"}` {
		t.Errorf("Expected fence-free JSON, got %q", got)
	}
	if got := stripFences("  {}  "); got != "{}" {
		t.Errorf("Expected '{}', got %q", got)
	}
}

func TestGenericFeedback(t *testing.T) {
	fb := GenericFeedback(3, nil)
	if fb["status"] != StatusGeneric {
		t.Errorf("Expected status generic, got %v", fb["status"])
	}
	if fb["technical_quality"] != "Total of 3 frames captured during interview" {
		t.Errorf("Unexpected technical_quality %v", fb["technical_quality"])
	}
	if _, ok := fb["technical_note"]; ok {
		t.Error("Expected no technical_note without a cause")
	}

	fb = GenericFeedback(1, errors.New(strings.Repeat("x", 150)))
	note, _ := fb["technical_note"].(string)
	if note != "Analysis limited due to: "+strings.Repeat("x", 100) {
		t.Errorf("Expected cause truncated to 100 chars, got %q", note)
	}
}

func TestAnalyze_Success(t *testing.T) {
	var gotParts int
	g := newTestAnalyzer(func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		gotParts = len(parts)
		return textResponse("```json\n{\"lighting\":\"Even\",\"background\":\"Plain wall\"}\n```", genai.FinishReasonStop), nil
	})

	fb := g.Analyze(context.Background(), []string{CleanFrame(jpegFrame), CleanFrame(jpegFrame)})
	if fb["status"] != StatusSuccess {
		t.Fatalf("Expected success, got %v", fb)
	}
	if fb["frames_analyzed"] != 2 {
		t.Errorf("Expected 2 frames analyzed, got %v", fb["frames_analyzed"])
	}
	if fb["lighting"] != "Even" {
		t.Errorf("Expected lighting 'Even', got %v", fb["lighting"])
	}
	if gotParts != 3 {
		t.Errorf("Expected prompt plus 2 images, got %d parts", gotParts)
	}
}

func TestAnalyze_Partial(t *testing.T) {
	g := newTestAnalyzer(func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		return textResponse("The lighting looks fine.", genai.FinishReasonStop), nil
	})

	fb := g.Analyze(context.Background(), []string{jpegFrame})
	if fb["status"] != StatusPartial {
		t.Fatalf("Expected partial, got %v", fb["status"])
	}
	if fb["analysis"] != "The lighting looks fine." {
		t.Errorf("Expected raw analysis text, got %v", fb["analysis"])
	}
}

func TestAnalyze_DegradesToGeneric(t *testing.T) {
	tests := []struct {
		name     string
		resp     *genai.GenerateContentResponse
		err      error
		wantNote bool
	}{
		{"no candidates", &genai.GenerateContentResponse{}, nil, false},
		{"safety", textResponse("", genai.FinishReasonSafety), nil, false},
		{"max tokens", textResponse("{\"lighting\":", genai.FinishReasonMaxTokens), nil, false},
		{"call error", nil, errors.New("deadline exceeded"), true},
		{"blocked", nil, &genai.BlockedError{PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestAnalyzer(func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
				return tt.resp, tt.err
			})
			fb := g.Analyze(context.Background(), []string{jpegFrame})
			if fb["status"] != StatusGeneric {
				t.Fatalf("Expected generic, got %v", fb["status"])
			}
			if _, ok := fb["technical_note"]; ok != tt.wantNote {
				t.Errorf("Expected technical_note present=%v, got %v", tt.wantNote, ok)
			}
		})
	}
}

func TestAnalyze_NoValidImages(t *testing.T) {
	called := false
	g := newTestAnalyzer(func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		called = true
		return nil, nil
	})

	fb := g.Analyze(context.Background(), []string{"data:image/jpeg;base64,!!!", base64.StdEncoding.EncodeToString([]byte("plain text"))})
	if called {
		t.Error("Expected no model call without decodable images")
	}
	if fb["status"] != StatusGeneric {
		t.Errorf("Expected generic, got %v", fb["status"])
	}
}

func TestAnalyze_NoFrames(t *testing.T) {
	g := newTestAnalyzer(nil)
	fb := g.Analyze(context.Background(), nil)
	if fb["status"] != StatusNoFrames {
		t.Errorf("Expected no_frames, got %v", fb["status"])
	}
}

func TestAnalyze_NotConfigured(t *testing.T) {
	g, err := NewGemini(context.Background(), "", "gemini-test", prompts.Default(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGemini() failed: %v", err)
	}
	fb := g.Analyze(context.Background(), []string{jpegFrame})
	if fb["status"] != StatusGeneric {
		t.Errorf("Expected generic, got %v", fb["status"])
	}
	if err := g.Close(); err != nil {
		t.Errorf("Expected Close() without client to succeed, got %v", err)
	}
}
