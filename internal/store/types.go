// Package store persists interviews and their evaluation reports.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an interview or report does not exist.
var ErrNotFound = errors.New("store: not found")

// Interview status values.
const (
	StatusPending   = "pending"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
)

// MaxFrames caps how many captured video frames an interview keeps.
const MaxFrames = 10

// Interview is one scheduled interview attempt owned by a student.
type Interview struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	JobDescription  string    `json:"jd"`
	DifficultyLevel string    `json:"difficulty_level"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	FullTranscript  string    `json:"full_transcript"`
	VisualFrames    []string  `json:"-"`
	Questions       []string  `json:"questions"`
	CreatedAt       time.Time `json:"created_at"`
}

// Strength is a positive finding in a report.
type Strength struct {
	Area    string `json:"area"`
	Example string `json:"example,omitempty"`
	Rating  int    `json:"rating"`
}

// Improvement is a growth area in a report.
type Improvement struct {
	Area        string `json:"area"`
	Suggestions string `json:"suggestions,omitempty"`
}

// Ratings are the 1-5 scores per dimension plus their total.
type Ratings struct {
	Technical      int `json:"technical"`
	Communication  int `json:"communication"`
	ProblemSolving int `json:"problem_solving"`
	TimeManagement int `json:"time_mgmt"`
	Total          int `json:"total"`
}

// Report is the evaluation of one interview. At most one exists per interview.
type Report struct {
	ID                  string         `json:"id"`
	InterviewID         string         `json:"interview_id"`
	KeyStrengths        []Strength     `json:"key_strengths"`
	AreasForImprovement []Improvement  `json:"areas_for_improvement"`
	Ratings             Ratings        `json:"ratings"`
	VisualFeedback      map[string]any `json:"visual_feedback"`
	CreatedAt           time.Time      `json:"created_at"`
}

// InterviewStore reads and writes interview records.
type InterviewStore interface {
	CreateInterview(ctx context.Context, iv *Interview) error
	GetInterview(ctx context.Context, id string) (*Interview, error)
	// SaveTranscript replaces the stored transcript.
	SaveTranscript(ctx context.Context, id, transcript string) error
	SetStatus(ctx context.Context, id, status string) error
	// AppendFrames adds frames up to MaxFrames and returns the stored count.
	AppendFrames(ctx context.Context, id string, frames []string) (int, error)
}

// ReportStore reads and writes reports.
type ReportStore interface {
	GetReport(ctx context.Context, interviewID string) (*Report, error)
	// CreateReport inserts r unless the interview already has a report, in
	// which case the existing one is returned with created=false.
	CreateReport(ctx context.Context, r *Report) (stored *Report, created bool, err error)
}

// Store is the full persistence surface.
type Store interface {
	InterviewStore
	ReportStore
	Ping(ctx context.Context) error
	Close()
}

func mergeFrames(existing, incoming []string) []string {
	merged := append(append([]string{}, existing...), incoming...)
	if len(merged) > MaxFrames {
		merged = merged[:MaxFrames]
	}
	return merged
}
