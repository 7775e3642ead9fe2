package models

import "github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"

type FrameRequest struct {
	ImageData string  `json:"image_data" binding:"required"`
	Timestamp float64 `json:"timestamp"`
}

type ObjectDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type DetectionResponse struct {
	SessionID             string                  `json:"session_id"`
	Timestamp             float64                 `json:"timestamp"`
	IsFocused             bool                    `json:"is_focused"`
	PersonDetected        bool                    `json:"person_detected"`
	PersonConfidence      float64                 `json:"person_confidence"`
	PhoneDetected         bool                    `json:"phone_detected"`
	Confidence            float64                 `json:"confidence"`
	Message               string                  `json:"message"`
	AlertType             string                  `json:"alert_type,omitempty"`
	ViolationType         string                  `json:"violation_type,omitempty"`
	ConsecutiveViolations int                     `json:"consecutive_violations"`
	Events                []engine.ViolationEvent `json:"events,omitempty"`
	Recording             *RecordingStatus        `json:"recording,omitempty"`
	Performance           PerformanceStats        `json:"performance"`
	Stats                 LiveStats               `json:"stats"`
}

type RecordingStatus struct {
	Enabled bool `json:"enabled"`
	Active  bool `json:"active"`
}

type PerformanceStats struct {
	ProcessingTimeMs    float64 `json:"processing_time_ms"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	MaxProcessingTimeMs float64 `json:"max_processing_time_ms"`
	FramesProcessed     int64   `json:"frames_processed"`
	FramesDropped       int64   `json:"frames_dropped"`
}

type LiveStats struct {
	SessionID             string  `json:"session_id"`
	DurationSeconds       float64 `json:"duration_seconds"`
	CurrentScore          float64 `json:"current_score"`
	MinScore              float64 `json:"min_score"`
	MaxScore              float64 `json:"max_score"`
	FocusLevel            string  `json:"focus_level"`
	EscalationLevel       string  `json:"escalation_level,omitempty"`
	ConsecutiveViolations int     `json:"consecutive_violations"`
	TotalViolations       int64   `json:"total_violations"`
	PhoneDetectedCount    int64   `json:"phone_detected_count"`
	LeftSeatCount         int64   `json:"left_seat_count"`
	TotalAlerts           int64   `json:"total_alerts"`
	GentleAlerts          int64   `json:"gentle_alerts"`
	UrgentAlerts          int64   `json:"urgent_alerts"`
	CriticalAlerts        int64   `json:"critical_alerts"`
	TotalFrames           int64   `json:"total_frames"`
	FocusedFrames         int64   `json:"focused_frames"`
	FocusPercentage       float64 `json:"focus_percentage"`
}

// NewLiveStats projects engine state into the wire stats block. at is the
// caller's current reading of the session clock.
func NewLiveStats(st engine.SessionState, at float64) LiveStats {
	duration := at - st.StartedAt
	if duration < 0 {
		duration = 0
	}

	escalation := ""
	if level := st.EscalationLevel(); level != engine.AlertNone {
		escalation = string(level)
	}

	return LiveStats{
		SessionID:             st.SessionID,
		DurationSeconds:       duration,
		CurrentScore:          st.CurrentScore,
		MinScore:              st.MinScore,
		MaxScore:              st.MaxScore,
		FocusLevel:            engine.FocusLevelFor(st.CurrentScore),
		EscalationLevel:       escalation,
		ConsecutiveViolations: st.ConsecutiveViolations,
		TotalViolations:       st.TotalViolations,
		PhoneDetectedCount:    st.PhoneDetectedCount,
		LeftSeatCount:         st.LeftSeatCount,
		TotalAlerts:           st.TotalAlerts,
		GentleAlerts:          st.GentleAlerts,
		UrgentAlerts:          st.UrgentAlerts,
		CriticalAlerts:        st.CriticalAlerts,
		TotalFrames:           st.TotalFrames,
		FocusedFrames:         st.FocusedFrames,
		FocusPercentage:       st.FocusPercentage(),
	}
}
