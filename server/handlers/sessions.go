package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/cache"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/middleware"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/pipeline"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/recorder"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/store"
)

const defaultInitialScore = 100.0

// SessionStore is the slice of the store the session endpoints need.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, status models.SessionStatus, page, pageSize int) ([]models.Session, int64, error)
	FinishSession(ctx context.Context, final store.SessionFinal) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID, userID uuid.UUID) error
}

type SessionHandler struct {
	store      SessionStore
	recordings RecordingStore
	engine     *engine.Engine
	pipeline   *pipeline.Pipeline
	recorder   *recorder.Service
	cache      cache.Cache
	logger     *zap.Logger
}

func NewSessionHandler(store SessionStore, recordings RecordingStore, eng *engine.Engine,
	pl *pipeline.Pipeline, rec *recorder.Service, c cache.Cache, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		store:      store,
		recordings: recordings,
		engine:     eng,
		pipeline:   pl,
		recorder:   rec,
		cache:      c,
		logger:     logger,
	}
}

func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	initial := defaultInitialScore
	if req.InitialScore != nil {
		initial = *req.InitialScore
	}

	sess := &models.Session{
		SessionID:    uuid.New(),
		UserID:       userID,
		SessionName:  req.SessionName,
		Subject:      req.Subject,
		Status:       models.StatusActive,
		StartedAt:    time.Now().UTC(),
		InitialScore: initial,
		CurrentScore: initial,
		MinScore:     initial,
		MaxScore:     initial,
	}
	if err := h.store.CreateSession(c.Request.Context(), sess); err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	if _, err := h.engine.StartSession(sess.SessionID.String(), float64(sess.StartedAt.Unix()), initial); err != nil {
		// The row exists regardless; the first frame restores engine state.
		h.logger.Warn("Session row created but engine registration failed",
			zap.String("session_id", sess.SessionID.String()), zap.Error(err))
	}

	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	status := models.SessionStatus(c.Query("status"))
	switch status {
	case "", models.StatusActive, models.StatusCompleted, models.StatusCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	sessions, total, err := h.store.ListSessions(c.Request.Context(), userID, status, page, pageSize)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	sess, err := h.store.GetSession(c.Request.Context(), sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	c.JSON(http.StatusOK, sess)
}

// End finalizes the session: flushes pending pipeline state, computes the
// summary, closes the row, and releases live resources.
func (h *SessionHandler) End(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req models.EndSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
			return
		}
	}
	status := req.Status
	if status == "" {
		status = models.StatusCompleted
	}

	ctx := c.Request.Context()
	sid := sessionID.String()

	sess, err := h.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}
	if sess.Status != models.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "Session already ended"})
		return
	}

	if err := ensureEngineSession(h.engine, sess); err != nil {
		h.logger.Error("Failed to restore session state", zap.String("session_id", sid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}

	if err := h.pipeline.Flush(ctx, sid); err != nil {
		h.logger.Warn("Final flush failed", zap.String("session_id", sid), zap.Error(err))
	}

	endedAt := time.Now().UTC()
	summary, err := h.engine.EndSession(sid, float64(endedAt.Unix()))
	if err != nil && !engine.IsInvalidDuration(err) {
		h.logger.Error("Failed to summarize session", zap.String("session_id", sid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}

	row, err := h.store.FinishSession(ctx, store.SessionFinal{
		SessionID:       sessionID,
		Status:          status,
		EndedAt:         endedAt,
		DurationSeconds: int64(summary.DurationSeconds),
		FinalScore:      summary.FinalScore,
		AverageScore:    summary.AverageScore,
		MinScore:        summary.MinScore,
		MaxScore:        summary.MaxScore,
		FocusPercentage: summary.FocusPercentage,
		TotalFrames:     summary.TotalFrames,
		FocusedFrames:   summary.FocusedFrames,
		TotalViolations: summary.TotalViolations,
		PhoneCount:      summary.PhoneDetectedCount,
		LeftSeatCount:   summary.LeftSeatCount,
		TotalAlerts:     summary.TotalAlerts,
		GentleAlerts:    summary.GentleAlerts,
		UrgentAlerts:    summary.UrgentAlerts,
		CriticalAlerts:  summary.CriticalAlerts,
	})
	if err != nil {
		h.logger.Error("Failed to finalize session row", zap.String("session_id", sid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}

	if h.recorder.IsRecording(sid) {
		if _, err := stopRecording(ctx, h.recorder, h.recordings, sessionID, h.logger); err != nil {
			h.logger.Warn("Failed to stop recording on session end",
				zap.String("session_id", sid), zap.Error(err))
		}
	}

	h.engine.Remove(sid)
	h.pipeline.Forget(sid)
	if err := h.cache.Delete(ctx, pipeline.LiveStatsKey(sid)); err != nil {
		h.logger.Warn("Failed to drop live stats", zap.String("session_id", sid), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"session": row,
		"summary": models.NewSessionSummary(summary),
	})
}

func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sid := sessionID.String()

	// Recording rows cascade with the session; the open file still needs
	// closing.
	if h.recorder.IsRecording(sid) {
		if _, err := h.recorder.Stop(sid); err != nil {
			h.logger.Warn("Failed to stop recording on session delete",
				zap.String("session_id", sid), zap.Error(err))
		}
	}

	if err := h.store.DeleteSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to delete session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}

	h.engine.Remove(sid)
	h.pipeline.Forget(sid)
	if err := h.cache.Delete(ctx, pipeline.LiveStatsKey(sid)); err != nil {
		h.logger.Warn("Failed to drop live stats", zap.String("session_id", sid), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// Live serves the session's current scoring state: the pipeline's cached
// copy when fresh, the engine when this node holds the session, and the
// last persisted row otherwise.
func (h *SessionHandler) Live(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	sid := sessionID.String()

	sess, err := h.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}

	var stats models.LiveStats
	if err := h.cache.Get(ctx, pipeline.LiveStatsKey(sid), &stats); err == nil {
		c.JSON(http.StatusOK, stats)
		return
	}

	if st, err := h.engine.Snapshot(sid); err == nil {
		c.JSON(http.StatusOK, models.NewLiveStats(st, nowUnix()))
		return
	}

	c.JSON(http.StatusOK, liveStatsFromRow(sess))
}

// ProcessFrame runs one frame through detection and scoring over plain
// HTTP. Webcam clients normally stream over the websocket instead.
func (h *SessionHandler) ProcessFrame(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req models.FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	ctx := c.Request.Context()
	sid := sessionID.String()

	sess, err := h.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Frame processing failed"})
		return
	}
	if sess.Status != models.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "Session already ended"})
		return
	}

	if err := ensureEngineSession(h.engine, sess); err != nil {
		h.logger.Error("Failed to restore session state", zap.String("session_id", sid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Frame processing failed"})
		return
	}

	result, err := h.pipeline.Process(ctx, sid, req.ImageData, req.Timestamp)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSessionBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Previous frame still processing"})
		case errors.Is(err, pipeline.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Processing queue full, try again later"})
		case engine.IsOutOfOrderSample(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Frame timestamp older than last processed"})
		case errors.Is(err, engine.ErrUnknownSession):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		default:
			h.logger.Error("Frame processing failed", zap.String("session_id", sid), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Frame processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func sessionIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return uuid.Nil, false
	}
	return id, true
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ensureEngineSession restores scoring state from the row when the engine
// does not hold the session, which happens after a restart.
func ensureEngineSession(eng *engine.Engine, sess *models.Session) error {
	sid := sess.SessionID.String()
	if _, err := eng.Snapshot(sid); err == nil {
		return nil
	}
	err := eng.Restore(sid, engineStateFromRow(sess))
	if errors.Is(err, engine.ErrSessionExists) {
		// Lost the restore race to another request.
		return nil
	}
	return err
}

// engineStateFromRow rebuilds scoring state from a persisted row. Machine
// states, the violation streak, and sample clocks are not persisted; they
// restart clean.
func engineStateFromRow(sess *models.Session) engine.SessionState {
	return engine.SessionState{
		StartedAt:          float64(sess.StartedAt.Unix()),
		InitialScore:       sess.InitialScore,
		CurrentScore:       sess.CurrentScore,
		MinScore:           sess.MinScore,
		MaxScore:           sess.MaxScore,
		TotalFrames:        sess.TotalFrames,
		FocusedFrames:      sess.FocusedFrames,
		TotalViolations:    sess.TotalViolations,
		PhoneDetectedCount: sess.PhoneDetectedCount,
		LeftSeatCount:      sess.LeftSeatCount,
		TotalAlerts:        sess.TotalAlerts,
		GentleAlerts:       sess.GentleAlerts,
		UrgentAlerts:       sess.UrgentAlerts,
		CriticalAlerts:     sess.CriticalAlerts,
	}
}

func liveStatsFromRow(sess *models.Session) models.LiveStats {
	return models.LiveStats{
		SessionID:          sess.SessionID.String(),
		DurationSeconds:    float64(sess.DurationSeconds),
		CurrentScore:       sess.CurrentScore,
		MinScore:           sess.MinScore,
		MaxScore:           sess.MaxScore,
		FocusLevel:         engine.FocusLevelFor(sess.CurrentScore),
		TotalViolations:    sess.TotalViolations,
		PhoneDetectedCount: sess.PhoneDetectedCount,
		LeftSeatCount:      sess.LeftSeatCount,
		TotalAlerts:        sess.TotalAlerts,
		GentleAlerts:       sess.GentleAlerts,
		UrgentAlerts:       sess.UrgentAlerts,
		CriticalAlerts:     sess.CriticalAlerts,
		TotalFrames:        sess.TotalFrames,
		FocusedFrames:      sess.FocusedFrames,
		FocusPercentage:    sess.FocusPercentage,
	}
}
