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

const sessionColumns = `session_id, user_id, session_name, subject, status,
	started_at, ended_at, created_at, updated_at, duration_seconds,
	initial_score, current_score, final_score, average_score, min_score, max_score,
	total_frames, focused_frames, total_violations, phone_detected_count, left_seat_count,
	total_alerts, gentle_alerts, urgent_alerts, critical_alerts, focus_percentage`

// SessionProgress is the periodic flush of live engine state to the row.
type SessionProgress struct {
	SessionID          uuid.UUID
	CurrentScore       float64
	MinScore           float64
	MaxScore           float64
	TotalFrames        int64
	FocusedFrames      int64
	TotalViolations    int64
	PhoneDetectedCount int64
	LeftSeatCount      int64
	TotalAlerts        int64
	GentleAlerts       int64
	UrgentAlerts       int64
	CriticalAlerts     int64
	FocusPercentage    float64
	DurationSeconds    int64
}

// SessionFinal closes the row out when a session ends.
type SessionFinal struct {
	SessionID       uuid.UUID
	Status          models.SessionStatus
	EndedAt         time.Time
	DurationSeconds int64
	FinalScore      float64
	AverageScore    float64
	MinScore        float64
	MaxScore        float64
	FocusPercentage float64
	TotalFrames     int64
	FocusedFrames   int64
	TotalViolations int64
	PhoneCount      int64
	LeftSeatCount   int64
	TotalAlerts     int64
	GentleAlerts    int64
	UrgentAlerts    int64
	CriticalAlerts  int64
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO learning_sessions (
			session_id, user_id, session_name, subject, status, started_at,
			initial_score, current_score, min_score, max_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		sess.SessionID, sess.UserID, sess.SessionName, sess.Subject, sess.Status,
		sess.StartedAt, sess.InitialScore, sess.CurrentScore, sess.MinScore, sess.MaxScore).
		Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches a session owned by the given user.
func (s *Store) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM learning_sessions WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID)
	return scanSession(row)
}

// GetSessionByID fetches a session regardless of owner. The websocket path
// uses it; everything user-facing goes through GetSession.
func (s *Store) GetSessionByID(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM learning_sessions WHERE session_id = $1`,
		sessionID)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, userID uuid.UUID, status models.SessionStatus, page, pageSize int) ([]models.Session, int64, error) {
	where := `WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM learning_sessions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`SELECT %s FROM learning_sessions %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		sessionColumns, where, pageSize, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0, pageSize)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, total, nil
}

func (s *Store) UpdateSessionProgress(ctx context.Context, p SessionProgress) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE learning_sessions SET
			current_score = $2, min_score = $3, max_score = $4,
			total_frames = $5, focused_frames = $6,
			total_violations = $7, phone_detected_count = $8, left_seat_count = $9,
			total_alerts = $10, gentle_alerts = $11, urgent_alerts = $12, critical_alerts = $13,
			focus_percentage = $14, duration_seconds = $15, updated_at = NOW()
		WHERE session_id = $1`,
		p.SessionID, p.CurrentScore, p.MinScore, p.MaxScore,
		p.TotalFrames, p.FocusedFrames,
		p.TotalViolations, p.PhoneDetectedCount, p.LeftSeatCount,
		p.TotalAlerts, p.GentleAlerts, p.UrgentAlerts, p.CriticalAlerts,
		p.FocusPercentage, p.DurationSeconds)
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	return nil
}

func (s *Store) FinishSession(ctx context.Context, f SessionFinal) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE learning_sessions SET
			status = $2, ended_at = $3, duration_seconds = $4,
			current_score = $5, final_score = $5, average_score = $6,
			min_score = $7, max_score = $8, focus_percentage = $9,
			total_frames = $10, focused_frames = $11,
			total_violations = $12, phone_detected_count = $13, left_seat_count = $14,
			total_alerts = $15, gentle_alerts = $16, urgent_alerts = $17, critical_alerts = $18,
			updated_at = NOW()
		WHERE session_id = $1
		RETURNING `+sessionColumns,
		f.SessionID, f.Status, f.EndedAt, f.DurationSeconds,
		f.FinalScore, f.AverageScore, f.MinScore, f.MaxScore, f.FocusPercentage,
		f.TotalFrames, f.FocusedFrames,
		f.TotalViolations, f.PhoneCount, f.LeftSeatCount,
		f.TotalAlerts, f.GentleAlerts, f.UrgentAlerts, f.CriticalAlerts)
	return scanSession(row)
}

func (s *Store) DeleteSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM learning_sessions WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.SessionID, &sess.UserID, &sess.SessionName, &sess.Subject, &sess.Status,
		&sess.StartedAt, &sess.EndedAt, &sess.CreatedAt, &sess.UpdatedAt, &sess.DurationSeconds,
		&sess.InitialScore, &sess.CurrentScore, &sess.FinalScore, &sess.AverageScore,
		&sess.MinScore, &sess.MaxScore,
		&sess.TotalFrames, &sess.FocusedFrames, &sess.TotalViolations,
		&sess.PhoneDetectedCount, &sess.LeftSeatCount,
		&sess.TotalAlerts, &sess.GentleAlerts, &sess.UrgentAlerts, &sess.CriticalAlerts,
		&sess.FocusPercentage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}
