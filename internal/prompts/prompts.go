// Package prompts holds the LLM and vision prompt set. A default set is
// embedded; deployments may override it with a YAML file.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// Completion is a chat prompt plus its sampling settings.
type Completion struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
}

// Vision is the frame analysis prompt.
type Vision struct {
	MaxTokens   int32   `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`
	Prompt      string  `yaml:"prompt"`
}

// Set is the full prompt configuration.
type Set struct {
	Questions Completion `yaml:"questions"`
	Report    Completion `yaml:"report"`
	Vision    Vision     `yaml:"vision"`
}

// QuestionData fills the question prompt template.
type QuestionData struct {
	JobDescription string
	Difficulty     string
}

// ReportData fills the report prompt template.
type ReportData struct {
	Transcript string
}

// Default returns the embedded prompt set.
func Default() *Set {
	var s Set
	if err := yaml.Unmarshal(defaultYAML, &s); err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return &s
}

// Load reads a prompt file over the embedded defaults. Keys missing from
// the file keep their default value. An empty path returns the defaults.
func Load(path string) (*Set, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse prompts YAML: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid prompts file %s: %w", path, err)
	}
	return s, nil
}

func (s *Set) validate() error {
	if strings.TrimSpace(s.Questions.User) == "" {
		return fmt.Errorf("questions.user must not be empty")
	}
	if strings.TrimSpace(s.Report.User) == "" {
		return fmt.Errorf("report.user must not be empty")
	}
	if strings.TrimSpace(s.Vision.Prompt) == "" {
		return fmt.Errorf("vision.prompt must not be empty")
	}
	if _, err := template.New("questions").Parse(s.Questions.User); err != nil {
		return fmt.Errorf("questions.user: %w", err)
	}
	if _, err := template.New("report").Parse(s.Report.User); err != nil {
		return fmt.Errorf("report.user: %w", err)
	}
	return nil
}

// Render executes a prompt template with data.
func Render(text string, data any) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return sb.String(), nil
}
