package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
)

const recordingColumns = `recording_id, session_id, filename, filepath, file_size_bytes,
	fps, resolution_width, resolution_height, duration_seconds, frame_count,
	is_active, started_at, ended_at, created_at`

func (s *Store) CreateRecording(ctx context.Context, rec *models.Recording) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_recordings (
			recording_id, session_id, filename, filepath, fps,
			resolution_width, resolution_height, is_active, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.RecordingID, rec.SessionID, rec.Filename, rec.Filepath, rec.FPS,
		rec.ResolutionWidth, rec.ResolutionHeight, rec.IsActive, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

func (s *Store) FinishRecording(ctx context.Context, recordingID uuid.UUID, endedAt time.Time, durationSeconds float64, frameCount, fileSizeBytes int64) (*models.Recording, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE video_recordings SET
			is_active = FALSE, ended_at = $2, duration_seconds = $3,
			frame_count = $4, file_size_bytes = $5
		WHERE recording_id = $1
		RETURNING `+recordingColumns,
		recordingID, endedAt, durationSeconds, frameCount, fileSizeBytes)
	return scanRecording(row)
}

func (s *Store) GetRecording(ctx context.Context, recordingID uuid.UUID) (*models.Recording, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordingColumns+` FROM video_recordings WHERE recording_id = $1`,
		recordingID)
	return scanRecording(row)
}

// GetActiveRecording finds the session's open recording row, if any.
func (s *Store) GetActiveRecording(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordingColumns+`
		FROM video_recordings
		WHERE session_id = $1 AND is_active = TRUE
		ORDER BY started_at DESC
		LIMIT 1`,
		sessionID)
	return scanRecording(row)
}

func (s *Store) ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordingColumns+` FROM video_recordings WHERE session_id = $1 ORDER BY started_at DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	recordings := make([]models.Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}

	return recordings, nil
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(
		&rec.RecordingID, &rec.SessionID, &rec.Filename, &rec.Filepath, &rec.FileSizeBytes,
		&rec.FPS, &rec.ResolutionWidth, &rec.ResolutionHeight, &rec.DurationSeconds,
		&rec.FrameCount, &rec.IsActive, &rec.StartedAt, &rec.EndedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	return &rec, nil
}
