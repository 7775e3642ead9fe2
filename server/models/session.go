package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

type Session struct {
	SessionID          uuid.UUID     `json:"session_id"`
	UserID             uuid.UUID     `json:"user_id"`
	SessionName        string        `json:"session_name"`
	Subject            string        `json:"subject"`
	Status             SessionStatus `json:"status"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            *time.Time    `json:"ended_at"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	DurationSeconds    int64         `json:"duration_seconds"`
	InitialScore       float64       `json:"initial_score"`
	CurrentScore       float64       `json:"current_score"`
	FinalScore         *float64      `json:"final_score"`
	AverageScore       *float64      `json:"average_score"`
	MinScore           float64       `json:"min_score"`
	MaxScore           float64       `json:"max_score"`
	TotalFrames        int64         `json:"total_frames"`
	FocusedFrames      int64         `json:"focused_frames"`
	TotalViolations    int64         `json:"total_violations"`
	PhoneDetectedCount int64         `json:"phone_detected_count"`
	LeftSeatCount      int64         `json:"left_seat_count"`
	TotalAlerts        int64         `json:"total_alerts"`
	GentleAlerts       int64         `json:"gentle_alerts"`
	UrgentAlerts       int64         `json:"urgent_alerts"`
	CriticalAlerts     int64         `json:"critical_alerts"`
	FocusPercentage    float64       `json:"focus_percentage"`
}

type CreateSessionRequest struct {
	SessionName  string   `json:"session_name" binding:"required,max=255"`
	Subject      string   `json:"subject" binding:"max=255"`
	InitialScore *float64 `json:"initial_score" binding:"omitempty,min=0,max=100"`
}

type EndSessionRequest struct {
	Status SessionStatus `json:"status" binding:"omitempty,oneof=completed cancelled"`
}

type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// SessionSummary is the wire shape of a session's final report.
type SessionSummary struct {
	SessionID           string  `json:"session_id"`
	StartedAt           float64 `json:"started_at"`
	EndedAt             float64 `json:"ended_at"`
	DurationSeconds     float64 `json:"duration_seconds"`
	InitialScore        float64 `json:"initial_score"`
	FinalScore          float64 `json:"final_score"`
	AverageScore        float64 `json:"average_score"`
	MinScore            float64 `json:"min_score"`
	MaxScore            float64 `json:"max_score"`
	TotalFrames         int64   `json:"total_frames"`
	FocusedFrames       int64   `json:"focused_frames"`
	FocusPercentage     float64 `json:"focus_percentage"`
	FocusLevel          string  `json:"focus_level"`
	TotalViolations     int64   `json:"total_violations"`
	PhoneDetectedCount  int64   `json:"phone_detected_count"`
	LeftSeatCount       int64   `json:"left_seat_count"`
	PhonePercentage     float64 `json:"phone_percentage"`
	LeftSeatPercentage  float64 `json:"left_seat_percentage"`
	ViolationsPerMinute float64 `json:"violations_per_minute"`
	TotalAlerts         int64   `json:"total_alerts"`
	GentleAlerts        int64   `json:"gentle_alerts"`
	UrgentAlerts        int64   `json:"urgent_alerts"`
	CriticalAlerts      int64   `json:"critical_alerts"`
}

func NewSessionSummary(sum engine.SessionSummary) SessionSummary {
	return SessionSummary{
		SessionID:           sum.SessionID,
		StartedAt:           sum.StartedAt,
		EndedAt:             sum.EndedAt,
		DurationSeconds:     sum.DurationSeconds,
		InitialScore:        sum.InitialScore,
		FinalScore:          sum.FinalScore,
		AverageScore:        sum.AverageScore,
		MinScore:            sum.MinScore,
		MaxScore:            sum.MaxScore,
		TotalFrames:         sum.TotalFrames,
		FocusedFrames:       sum.FocusedFrames,
		FocusPercentage:     sum.FocusPercentage,
		FocusLevel:          sum.FocusLevel,
		TotalViolations:     sum.TotalViolations,
		PhoneDetectedCount:  sum.PhoneDetectedCount,
		LeftSeatCount:       sum.LeftSeatCount,
		PhonePercentage:     sum.PhonePercentage,
		LeftSeatPercentage:  sum.LeftSeatPercentage,
		ViolationsPerMinute: sum.ViolationsPerMinute,
		TotalAlerts:         sum.TotalAlerts,
		GentleAlerts:        sum.GentleAlerts,
		UrgentAlerts:        sum.UrgentAlerts,
		CriticalAlerts:      sum.CriticalAlerts,
	}
}

type Recording struct {
	RecordingID      uuid.UUID  `json:"recording_id"`
	SessionID        uuid.UUID  `json:"session_id"`
	Filename         string     `json:"filename"`
	Filepath         string     `json:"-"`
	FileSizeBytes    int64      `json:"file_size_bytes"`
	FPS              int        `json:"fps"`
	ResolutionWidth  int        `json:"resolution_width"`
	ResolutionHeight int        `json:"resolution_height"`
	DurationSeconds  float64    `json:"duration_seconds"`
	FrameCount       int64      `json:"frame_count"`
	IsActive         bool       `json:"is_active"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
	CreatedAt        time.Time  `json:"created_at"`
}
