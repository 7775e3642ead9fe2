// Package recorder persists session camera frames as MJPEG files, one
// concatenated JPEG stream per recording.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
)

var (
	ErrAlreadyRecording = errors.New("recording already active for session")
	ErrNotRecording     = errors.New("no active recording for session")
)

type Service struct {
	dir        string
	defaultFPS int
	logger     *zap.Logger

	mutex  sync.Mutex
	active map[string]*recording
}

type recording struct {
	file       *os.File
	filename   string
	path       string
	fps        int
	resolution string
	startedAt  time.Time
	frames     int64
	bytes      int64
}

// StartInfo describes a freshly opened recording file.
type StartInfo struct {
	Filename   string
	Path       string
	FPS        int
	Resolution string
	StartedAt  time.Time
}

// Summary describes a finished recording.
type Summary struct {
	Filename        string
	Path            string
	FPS             int
	Resolution      string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds float64
	FrameCount      int64
	FileSizeBytes   int64
}

func New(cfg config.RecordingConfig, logger *zap.Logger) (*Service, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	return &Service{
		dir:        cfg.Dir,
		defaultFPS: cfg.DefaultFPS,
		logger:     logger,
		active:     make(map[string]*recording),
	}, nil
}

// Start opens a new recording file for the session. At most one recording
// per session may be active.
func (s *Service) Start(sessionID string, fps int, resolution string) (*StartInfo, error) {
	if fps <= 0 {
		fps = s.defaultFPS
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.active[sessionID]; ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyRecording)
	}

	// Nanosecond stamp keeps a stop/start within the same second from
	// clobbering the previous file.
	startedAt := time.Now()
	filename := fmt.Sprintf("session_%s_%d.mjpeg", sessionID, startedAt.UnixNano())
	path := filepath.Join(s.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording file: %w", err)
	}

	s.active[sessionID] = &recording{
		file:       file,
		filename:   filename,
		path:       path,
		fps:        fps,
		resolution: resolution,
		startedAt:  startedAt,
	}

	s.logger.Info("Recording started",
		zap.String("session_id", sessionID),
		zap.String("file", filename),
		zap.Int("fps", fps))

	return &StartInfo{
		Filename:   filename,
		Path:       path,
		FPS:        fps,
		Resolution: resolution,
		StartedAt:  startedAt,
	}, nil
}

// WriteFrame appends one JPEG frame to the session's recording.
func (s *Service) WriteFrame(sessionID string, frame []byte) error {
	s.mutex.Lock()
	rec, ok := s.active[sessionID]
	s.mutex.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotRecording)
	}

	n, err := rec.file.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	s.mutex.Lock()
	rec.frames++
	rec.bytes += int64(n)
	s.mutex.Unlock()

	return nil
}

// Stop closes the session's recording file and reports what was written.
func (s *Service) Stop(sessionID string) (*Summary, error) {
	s.mutex.Lock()
	rec, ok := s.active[sessionID]
	if ok {
		delete(s.active, sessionID)
	}
	s.mutex.Unlock()

	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotRecording)
	}

	endedAt := time.Now()
	if err := rec.file.Close(); err != nil {
		s.logger.Warn("Failed to close recording file",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	summary := &Summary{
		Filename:        rec.filename,
		Path:            rec.path,
		FPS:             rec.fps,
		Resolution:      rec.resolution,
		StartedAt:       rec.startedAt,
		EndedAt:         endedAt,
		DurationSeconds: endedAt.Sub(rec.startedAt).Seconds(),
		FrameCount:      rec.frames,
		FileSizeBytes:   rec.bytes,
	}

	s.logger.Info("Recording stopped",
		zap.String("session_id", sessionID),
		zap.String("file", rec.filename),
		zap.Int64("frames", rec.frames),
		zap.Int64("bytes", rec.bytes))

	return summary, nil
}

func (s *Service) IsRecording(sessionID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

func (s *Service) ActiveCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.active)
}

// CloseAll stops every active recording. Called on shutdown.
func (s *Service) CloseAll() {
	s.mutex.Lock()
	sessionIDs := make([]string, 0, len(s.active))
	for id := range s.active {
		sessionIDs = append(sessionIDs, id)
	}
	s.mutex.Unlock()

	for _, id := range sessionIDs {
		if _, err := s.Stop(id); err != nil {
			s.logger.Warn("Failed to stop recording on shutdown",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}
}
