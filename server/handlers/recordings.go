package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/middleware"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/recorder"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/store"
)

// RecordingStore is the slice of the store the recording paths need. It
// includes GetSession because every recording operation checks session
// ownership first.
type RecordingStore interface {
	CreateRecording(ctx context.Context, rec *models.Recording) error
	FinishRecording(ctx context.Context, recordingID uuid.UUID, endedAt time.Time,
		durationSeconds float64, frameCount, fileSizeBytes int64) (*models.Recording, error)
	GetRecording(ctx context.Context, recordingID uuid.UUID) (*models.Recording, error)
	GetActiveRecording(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error)
	ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error)
	GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, error)
}

type RecordingHandler struct {
	store    RecordingStore
	recorder *recorder.Service
	logger   *zap.Logger
}

func NewRecordingHandler(store RecordingStore, rec *recorder.Service, logger *zap.Logger) *RecordingHandler {
	return &RecordingHandler{
		store:    store,
		recorder: rec,
		logger:   logger,
	}
}

func (h *RecordingHandler) Start(c *gin.Context) {
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

	sess, err := h.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start recording"})
		return
	}
	if sess.Status != models.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "Session already ended"})
		return
	}

	fps, _ := strconv.Atoi(c.Query("fps"))
	width, height := parseResolution(c.Query("resolution"))

	row, err := startRecording(ctx, h.recorder, h.store, sessionID, fps, width, height, h.logger)
	if err != nil {
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			c.JSON(http.StatusConflict, gin.H{"error": "Recording already in progress"})
			return
		}
		h.logger.Error("Failed to start recording", zap.String("session_id", sessionID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start recording"})
		return
	}

	c.JSON(http.StatusCreated, row)
}

func (h *RecordingHandler) Stop(c *gin.Context) {
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

	if _, err := h.store.GetSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop recording"})
		return
	}

	row, err := stopRecording(ctx, h.recorder, h.store, sessionID, h.logger)
	if err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			c.JSON(http.StatusConflict, gin.H{"error": "No recording in progress"})
			return
		}
		h.logger.Error("Failed to stop recording", zap.String("session_id", sessionID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop recording"})
		return
	}

	c.JSON(http.StatusOK, row)
}

func (h *RecordingHandler) List(c *gin.Context) {
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

	if _, err := h.store.GetSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recordings"})
		return
	}

	recordings, err := h.store.ListRecordings(ctx, sessionID)
	if err != nil {
		h.logger.Error("Failed to list recordings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recordings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recordings": recordings,
		"count":      len(recordings),
	})
}

// Download streams the finished recording file as an attachment.
func (h *RecordingHandler) Download(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	recordingID, err := uuid.Parse(c.Param("recording_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid recording ID"})
		return
	}

	ctx := c.Request.Context()

	rec, err := h.store.GetRecording(ctx, recordingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
			return
		}
		h.logger.Error("Failed to load recording", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load recording"})
		return
	}

	// Ownership runs through the parent session. Someone else's recording
	// looks absent, not forbidden.
	if _, err := h.store.GetSession(ctx, rec.SessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load recording"})
		return
	}

	if rec.IsActive {
		c.JSON(http.StatusConflict, gin.H{"error": "Recording still in progress"})
		return
	}

	c.FileAttachment(rec.Filepath, rec.Filename)
}

// parseResolution splits "640x480" into width and height. Anything
// unparseable falls back to the default capture size.
func parseResolution(s string) (int, int) {
	parts := strings.Split(s, "x")
	if len(parts) == 2 {
		w, errW := strconv.Atoi(parts[0])
		h, errH := strconv.Atoi(parts[1])
		if errW == nil && errH == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return 640, 480
}

// startRecording opens the recorder file and inserts the matching row.
func startRecording(ctx context.Context, rec *recorder.Service, rs RecordingStore,
	sessionID uuid.UUID, fps, width, height int, logger *zap.Logger) (*models.Recording, error) {
	info, err := rec.Start(sessionID.String(), fps, fmt.Sprintf("%dx%d", width, height))
	if err != nil {
		return nil, err
	}

	row := &models.Recording{
		RecordingID:      uuid.New(),
		SessionID:        sessionID,
		Filename:         info.Filename,
		Filepath:         info.Path,
		FPS:              info.FPS,
		ResolutionWidth:  width,
		ResolutionHeight: height,
		IsActive:         true,
		StartedAt:        info.StartedAt,
	}
	if err := rs.CreateRecording(ctx, row); err != nil {
		// A file without a row cannot be finished later; close it now.
		if _, stopErr := rec.Stop(sessionID.String()); stopErr != nil {
			logger.Warn("Failed to stop recording after row insert failed",
				zap.String("session_id", sessionID.String()), zap.Error(stopErr))
		}
		return nil, err
	}
	return row, nil
}

// stopRecording closes the recorder file and finalizes the row.
func stopRecording(ctx context.Context, rec *recorder.Service, rs RecordingStore,
	sessionID uuid.UUID, logger *zap.Logger) (*models.Recording, error) {
	sum, err := rec.Stop(sessionID.String())
	if err != nil {
		return nil, err
	}

	active, err := rs.GetActiveRecording(ctx, sessionID)
	if err != nil {
		logger.Warn("Recording file closed but no active row found",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, err
	}

	return rs.FinishRecording(ctx, active.RecordingID, sum.EndedAt,
		sum.DurationSeconds, sum.FrameCount, sum.FileSizeBytes)
}
