package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists records in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool and verifies connectivity.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateInterview(ctx context.Context, iv *Interview) error {
	questions, err := json.Marshal(nonNil(iv.Questions))
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	frames, err := json.Marshal(nonNil(iv.VisualFrames))
	if err != nil {
		return fmt.Errorf("failed to encode frames: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO interviews
			(id, student_id, jd, difficulty_level, scheduled_time, duration_minutes,
			 status, full_transcript, visual_frames, questions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		iv.ID, iv.StudentID, iv.JobDescription, iv.DifficultyLevel, iv.ScheduledTime,
		iv.DurationMinutes, iv.Status, iv.FullTranscript, frames, questions,
	).Scan(&iv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert interview: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInterview(ctx context.Context, id string) (*Interview, error) {
	var iv Interview
	var frames, questions []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, student_id, jd, difficulty_level, scheduled_time, duration_minutes,
		       status, full_transcript, visual_frames, questions, created_at
		FROM interviews WHERE id = $1`, id,
	).Scan(
		&iv.ID, &iv.StudentID, &iv.JobDescription, &iv.DifficultyLevel, &iv.ScheduledTime,
		&iv.DurationMinutes, &iv.Status, &iv.FullTranscript, &frames, &questions, &iv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interview: %w", err)
	}
	if err := json.Unmarshal(frames, &iv.VisualFrames); err != nil {
		return nil, fmt.Errorf("failed to decode frames: %w", err)
	}
	if err := json.Unmarshal(questions, &iv.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	return &iv, nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, id, transcript string) error {
	return s.execOne(ctx, `UPDATE interviews SET full_transcript = $2 WHERE id = $1`, id, transcript)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id, status string) error {
	return s.execOne(ctx, `UPDATE interviews SET status = $2 WHERE id = $1`, id, status)
}

func (s *PostgresStore) AppendFrames(ctx context.Context, id string, frames []string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT visual_frames FROM interviews WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock interview frames: %w", err)
	}

	var existing []string
	if err := json.Unmarshal(raw, &existing); err != nil {
		return 0, fmt.Errorf("failed to decode frames: %w", err)
	}
	merged := mergeFrames(existing, frames)
	encoded, err := json.Marshal(merged)
	if err != nil {
		return 0, fmt.Errorf("failed to encode frames: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE interviews SET visual_frames = $2 WHERE id = $1`, id, encoded); err != nil {
		return 0, fmt.Errorf("failed to update frames: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit frames: %w", err)
	}
	return len(merged), nil
}

func (s *PostgresStore) GetReport(ctx context.Context, interviewID string) (*Report, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, interview_id, key_strengths, areas_for_improvement, ratings, visual_feedback, created_at
		FROM reports WHERE interview_id = $1`, interviewID)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return r, nil
}

// CreateReport relies on the unique interview_id constraint so concurrent
// creators converge on one row.
func (s *PostgresStore) CreateReport(ctx context.Context, r *Report) (*Report, bool, error) {
	strengths, err := json.Marshal(r.KeyStrengths)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode strengths: %w", err)
	}
	improvements, err := json.Marshal(r.AreasForImprovement)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode improvements: %w", err)
	}
	ratings, err := json.Marshal(r.Ratings)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode ratings: %w", err)
	}
	visual, err := json.Marshal(r.VisualFeedback)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode visual feedback: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO reports (id, interview_id, key_strengths, areas_for_improvement, ratings, visual_feedback)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (interview_id) DO NOTHING
		RETURNING id, interview_id, key_strengths, areas_for_improvement, ratings, visual_feedback, created_at`,
		r.ID, r.InterviewID, strengths, improvements, ratings, visual)
	created, err := scanReport(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert report: %w", err)
	}

	existing, err := s.GetReport(ctx, r.InterviewID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update interview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	var strengths, improvements, rating, visual []byte
	if err := row.Scan(&r.ID, &r.InterviewID, &strengths, &improvements, &rating, &visual, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(strengths, &r.KeyStrengths); err != nil {
		return nil, fmt.Errorf("failed to decode strengths: %w", err)
	}
	if err := json.Unmarshal(improvements, &r.AreasForImprovement); err != nil {
		return nil, fmt.Errorf("failed to decode improvements: %w", err)
	}
	if err := json.Unmarshal(rating, &r.Ratings); err != nil {
		return nil, fmt.Errorf("failed to decode ratings: %w", err)
	}
	if err := json.Unmarshal(visual, &r.VisualFeedback); err != nil {
		return nil, fmt.Errorf("failed to decode visual feedback: %w", err)
	}
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
