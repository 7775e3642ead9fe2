package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/middleware"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/pipeline"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/recorder"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/store"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	maxFrameMessageSize = 10 * 1024 * 1024
)

// SessionReader is the slice of the store the websocket path needs. It
// loads by bare ID so a foreign session can answer 403 instead of 404.
type SessionReader interface {
	GetSessionByID(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
}

type WebSocketHandler struct {
	sessions   SessionReader
	recordings RecordingStore
	engine     *engine.Engine
	pipeline   *pipeline.Pipeline
	recorder   *recorder.Service
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

type ClientMessage struct {
	Type      string  `json:"type"`
	Data      string  `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewWebSocketHandler(sessions SessionReader, recordings RecordingStore, eng *engine.Engine,
	pl *pipeline.Pipeline, rec *recorder.Service, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:   sessions,
		recordings: recordings,
		engine:     eng,
		pipeline:   pl,
		recorder:   rec,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// wsConn serializes writes. Gorilla connections allow one concurrent
// writer and frame results come back from multiple goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// HandleSession upgrades the connection and streams frames for one
// session. Auth middleware has already run; it accepts the token as a
// query parameter because browser websocket clients cannot set headers.
func (h *WebSocketHandler) HandleSession(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	ctx := c.Request.Context()

	sess, err := h.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
		return
	}
	if sess.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Session belongs to another user"})
		return
	}
	if sess.Status != models.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "Session already ended"})
		return
	}

	if err := ensureEngineSession(h.engine, sess); err != nil {
		h.logger.Error("Failed to restore session state",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to restore session state"})
		return
	}

	wantRecording := c.Query("recording") == "true"
	fps, _ := strconv.Atoi(c.Query("fps"))
	width, height := parseResolution(c.Query("resolution"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	h.serve(conn, sess, wantRecording, fps, width, height, c.ClientIP())
}

func (h *WebSocketHandler) serve(raw *websocket.Conn, sess *models.Session,
	wantRecording bool, fps, width, height int, clientIP string) {
	defer raw.Close()

	sid := sess.SessionID.String()
	conn := &wsConn{conn: raw}

	h.logger.Info("WebSocket client connected",
		zap.String("session_id", sid),
		zap.String("client_ip", clientIP))

	startedRecording := false
	if wantRecording {
		_, err := startRecording(context.Background(), h.recorder, h.recordings,
			sess.SessionID, fps, width, height, h.logger)
		switch {
		case err == nil:
			startedRecording = true
		case errors.Is(err, recorder.ErrAlreadyRecording):
			// Already running via the REST endpoint; leave its owner to stop it.
		default:
			h.logger.Warn("Failed to start recording for websocket session",
				zap.String("session_id", sid), zap.Error(err))
			h.sendError(conn, "Failed to start recording")
		}
	}

	raw.SetReadLimit(maxFrameMessageSize)
	raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go h.pingLoop(conn, done)

	h.send(conn, "connected", gin.H{
		"session_id": sid,
		"recording":  h.recorder.IsRecording(sid),
	})

	for {
		var message ClientMessage
		if err := raw.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read failed", zap.String("session_id", sid), zap.Error(err))
			}
			break
		}
		h.handleMessage(conn, sid, &message)
	}

	close(done)
	h.disconnect(sess.SessionID, startedRecording)
}

func (h *WebSocketHandler) handleMessage(conn *wsConn, sid string, message *ClientMessage) {
	switch message.Type {
	case "frame":
		h.processFrame(conn, sid, message)
	case "ping":
		h.send(conn, "pong", gin.H{"timestamp": time.Now().Unix()})
	case "stats":
		h.sendStats(conn, sid)
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(conn, "Unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) processFrame(conn *wsConn, sid string, message *ClientMessage) {
	if message.Data == "" {
		h.sendError(conn, "Empty frame data")
		return
	}

	go func() {
		result, err := h.pipeline.Process(context.Background(), sid, message.Data, message.Timestamp)
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrSessionBusy):
				// Webcam streams outrun the detector; drop quietly.
			case errors.Is(err, pipeline.ErrQueueFull):
				h.sendError(conn, "Processing queue full")
			case engine.IsOutOfOrderSample(err):
				h.sendError(conn, "Frame timestamp older than last processed")
			case errors.Is(err, engine.ErrUnknownSession):
				h.sendError(conn, "Session ended")
			default:
				h.logger.Error("Frame processing failed", zap.String("session_id", sid), zap.Error(err))
				h.sendError(conn, "Frame processing failed")
			}
			return
		}
		h.send(conn, "detection", result)
	}()
}

func (h *WebSocketHandler) sendStats(conn *wsConn, sid string) {
	st, err := h.engine.Snapshot(sid)
	if err != nil {
		h.sendError(conn, "Session ended")
		return
	}
	h.send(conn, "stats", models.NewLiveStats(st, nowUnix()))
}

func (h *WebSocketHandler) send(conn *wsConn, messageType string, data any) {
	if err := conn.writeJSON(ServerMessage{Type: messageType, Data: data}); err != nil {
		h.logger.Warn("Failed to send websocket message",
			zap.String("type", messageType), zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(conn *wsConn, errorMsg string) {
	h.send(conn, "error", gin.H{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

func (h *WebSocketHandler) pingLoop(conn *wsConn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				// Force the read loop to unblock.
				conn.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// disconnect persists what the pipeline still holds and closes a
// recording this connection started. The session itself stays live; the
// client may reconnect.
func (h *WebSocketHandler) disconnect(sessionID uuid.UUID, startedRecording bool) {
	sid := sessionID.String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.pipeline.Flush(ctx, sid); err != nil && !errors.Is(err, engine.ErrUnknownSession) {
		h.logger.Warn("Flush on disconnect failed", zap.String("session_id", sid), zap.Error(err))
	}

	if startedRecording && h.recorder.IsRecording(sid) {
		if _, err := stopRecording(ctx, h.recorder, h.recordings, sessionID, h.logger); err != nil {
			h.logger.Warn("Failed to stop recording on disconnect",
				zap.String("session_id", sid), zap.Error(err))
		}
	}

	perf := h.pipeline.SessionPerf(sid)
	h.logger.Info("WebSocket client disconnected",
		zap.String("session_id", sid),
		zap.Int64("frames_processed", perf.FramesProcessed),
		zap.Int64("frames_dropped", perf.FramesDropped),
		zap.Float64("avg_processing_ms", perf.AvgProcessingTimeMs))
}
