// Package pipeline runs incoming frames through detection, scoring,
// recording and periodic persistence.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/cache"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/detector"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/store"
)

var (
	// ErrSessionBusy means the session's previous frame is still in flight.
	ErrSessionBusy = errors.New("previous frame still processing")
	// ErrQueueFull means all workers are busy and the backlog is full.
	ErrQueueFull = errors.New("processing queue full, try again later")
)

const liveStatsTTL = 30 * time.Second

// ProgressStore persists periodic session snapshots.
type ProgressStore interface {
	UpdateSessionProgress(ctx context.Context, p store.SessionProgress) error
}

// FrameSink receives raw frames for sessions with recording enabled.
type FrameSink interface {
	IsRecording(sessionID string) bool
	WriteFrame(sessionID string, frame []byte) error
}

type Pipeline struct {
	detector *detector.Client
	engine   *engine.Engine
	store    ProgressStore
	recorder FrameSink
	cache    cache.Cache
	config   config.PipelineConfig
	logger   *zap.Logger

	queue     *workQueue
	startTime time.Time

	mutex  sync.RWMutex
	tracks map[string]*sessionTrack

	ctx    context.Context
	cancel context.CancelFunc
}

// sessionTrack is per-session pipeline bookkeeping. At most one frame per
// session is processed at a time; extras are dropped.
type sessionTrack struct {
	mutex      sync.Mutex
	inFlight   bool
	sinceFlush int

	framesProcessed int64
	framesDropped   int64
	processingMsSum float64
	processingMsMax float64
}

func New(det *detector.Client, eng *engine.Engine, progress ProgressStore, rec FrameSink,
	c cache.Cache, cfg config.PipelineConfig, logger *zap.Logger) *Pipeline {

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		detector:  det,
		engine:    eng,
		store:     progress,
		recorder:  rec,
		cache:     c,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
		tracks:    make(map[string]*sessionTrack),
		ctx:       ctx,
		cancel:    cancel,
	}

	p.queue = newWorkQueue(cfg.QueueSize, cfg.Workers, p.runDetection)

	return p
}

// LiveStatsKey is the cache key under which the latest stats block for a
// session is published.
func LiveStatsKey(sessionID string) string {
	return "live:" + sessionID
}

func (p *Pipeline) track(sessionID string) *sessionTrack {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	t, ok := p.tracks[sessionID]
	if !ok {
		t = &sessionTrack{}
		p.tracks[sessionID] = t
	}
	return t
}

// Process runs one frame through dedupe, detection, scoring, recording and
// the periodic store flush. A zero timestamp is stamped with the server
// clock in unix seconds.
func (p *Pipeline) Process(ctx context.Context, sessionID, imageData string, timestamp float64) (*models.DetectionResponse, error) {
	startTime := time.Now()
	t := p.track(sessionID)

	t.mutex.Lock()
	if t.inFlight {
		t.framesDropped++
		t.mutex.Unlock()
		return nil, ErrSessionBusy
	}
	t.inFlight = true
	t.mutex.Unlock()

	defer func() {
		t.mutex.Lock()
		t.inFlight = false
		t.mutex.Unlock()
	}()

	if timestamp == 0 {
		timestamp = float64(time.Now().UnixNano()) / 1e9
	}

	sample, err := p.detect(ctx, sessionID, imageData, timestamp)
	if err != nil {
		t.mutex.Lock()
		t.framesDropped++
		t.mutex.Unlock()
		return nil, err
	}

	result, err := p.engine.Evaluate(sessionID, sample)
	if err != nil {
		return nil, err
	}

	p.recordFrame(sessionID, imageData)

	elapsedMs := float64(time.Since(startTime).Microseconds()) / 1000

	t.mutex.Lock()
	t.framesProcessed++
	t.processingMsSum += elapsedMs
	if elapsedMs > t.processingMsMax {
		t.processingMsMax = elapsedMs
	}
	t.sinceFlush++
	flushNow := t.sinceFlush >= p.config.CommitInterval
	if flushNow {
		t.sinceFlush = 0
	}
	perf := t.perfLocked(elapsedMs)
	t.mutex.Unlock()

	if flushNow {
		if err := p.flushState(ctx, sessionID, result.State); err != nil {
			p.logger.Warn("Failed to persist session progress",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	response := p.buildResponse(sessionID, sample, result, perf)
	p.cacheLive(sessionID, response.Stats)

	return response, nil
}

// detect resolves a frame to a detection sample, serving byte-identical
// frames from the dedupe cache instead of calling the detector again.
func (p *Pipeline) detect(ctx context.Context, sessionID, imageData string, timestamp float64) (engine.DetectionSample, error) {
	frameHash := fmt.Sprintf("%x", md5.Sum([]byte(imageData)))
	cacheKey := cache.GenerateCacheKey("detection", frameHash)

	var cached engine.DetectionSample
	if err := p.cache.Get(ctx, cacheKey, &cached); err == nil {
		p.logger.Debug("Detection cache hit", zap.String("key", cacheKey))
		// Reuse the detections but keep this frame's clock reading.
		cached.Timestamp = timestamp
		return cached, nil
	}

	resultChan := make(chan *frameResult, 1)
	job := &frameJob{
		sessionID:  sessionID,
		imageData:  imageData,
		timestamp:  timestamp,
		resultChan: resultChan,
		enqueuedAt: time.Now(),
	}

	if !p.queue.Enqueue(job) {
		return engine.DetectionSample{}, ErrQueueFull
	}

	select {
	case result := <-resultChan:
		if result.err != nil {
			return engine.DetectionSample{}, result.err
		}
		sample := result.sample
		go func() {
			if err := p.cache.SetWithTTL(p.ctx, cacheKey, sample, p.config.DedupeTTL); err != nil {
				p.logger.Warn("Failed to cache detection", zap.Error(err))
			}
		}()
		return sample, nil
	case <-time.After(p.config.ProcessingTimeout):
		return engine.DetectionSample{}, fmt.Errorf("processing timeout")
	case <-ctx.Done():
		return engine.DetectionSample{}, ctx.Err()
	}
}

func (p *Pipeline) runDetection(job *frameJob) {
	if wait := time.Since(job.enqueuedAt); wait > time.Second {
		p.logger.Warn("Frame waited in queue",
			zap.String("session_id", job.sessionID),
			zap.Duration("wait", wait))
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.config.ProcessingTimeout)
	defer cancel()

	result, err := p.detector.Detect(ctx, job.imageData, job.timestamp)
	if err != nil {
		p.logger.Error("Detection failed",
			zap.String("session_id", job.sessionID),
			zap.Error(err))
		job.resultChan <- &frameResult{err: err}
		return
	}

	job.resultChan <- &frameResult{
		sample: detector.Reduce(result.Detections, job.timestamp),
	}
}

func (p *Pipeline) recordFrame(sessionID, imageData string) {
	if p.recorder == nil || !p.recorder.IsRecording(sessionID) {
		return
	}

	frame, err := decodeFrame(imageData)
	if err != nil {
		p.logger.Warn("Skipping unrecordable frame",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	if err := p.recorder.WriteFrame(sessionID, frame); err != nil {
		p.logger.Warn("Failed to write recording frame",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// decodeFrame accepts both bare base64 payloads and data URLs.
func decodeFrame(imageData string) ([]byte, error) {
	if i := strings.Index(imageData, ","); i >= 0 && strings.Contains(imageData[:i], ";base64") {
		imageData = imageData[i+1:]
	}
	return base64.StdEncoding.DecodeString(imageData)
}

func (t *sessionTrack) perfLocked(lastMs float64) models.PerformanceStats {
	avg := 0.0
	if t.framesProcessed > 0 {
		avg = t.processingMsSum / float64(t.framesProcessed)
	}

	return models.PerformanceStats{
		ProcessingTimeMs:    lastMs,
		AvgProcessingTimeMs: avg,
		MaxProcessingTimeMs: t.processingMsMax,
		FramesProcessed:     t.framesProcessed,
		FramesDropped:       t.framesDropped,
	}
}

func (p *Pipeline) buildResponse(sessionID string, sample engine.DetectionSample,
	result *engine.EvalResult, perf models.PerformanceStats) *models.DetectionResponse {

	response := &models.DetectionResponse{
		SessionID:             sessionID,
		Timestamp:             sample.Timestamp,
		IsFocused:             result.Alert.IsFocused,
		PersonDetected:        sample.PersonDetected,
		PersonConfidence:      sample.PersonConfidence,
		PhoneDetected:         sample.PhoneDetected,
		Confidence:            result.Alert.OverallConfidence,
		Message:               result.Alert.Message,
		ConsecutiveViolations: result.State.ConsecutiveViolations,
		Events:                result.Events,
		Performance:           perf,
		Stats:                 models.NewLiveStats(result.State, sample.Timestamp),
	}

	if result.Alert.Level != engine.AlertNone {
		response.AlertType = string(result.Alert.Level)
	}
	if len(result.Events) > 0 {
		response.ViolationType = string(result.Events[0].Kind)
	}
	if p.recorder != nil {
		response.Recording = &models.RecordingStatus{
			Enabled: true,
			Active:  p.recorder.IsRecording(sessionID),
		}
	}

	return response
}

func (p *Pipeline) cacheLive(sessionID string, stats models.LiveStats) {
	go func() {
		if err := p.cache.SetWithTTL(p.ctx, LiveStatsKey(sessionID), stats, liveStatsTTL); err != nil {
			p.logger.Debug("Failed to cache live stats", zap.Error(err))
		}
	}()
}

func (p *Pipeline) flushState(ctx context.Context, sessionID string, st engine.SessionState) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}

	duration := st.LastSampleAt - st.StartedAt
	if duration < 0 || math.IsInf(duration, 0) {
		duration = 0
	}

	return p.store.UpdateSessionProgress(ctx, store.SessionProgress{
		SessionID:          id,
		CurrentScore:       st.CurrentScore,
		MinScore:           st.MinScore,
		MaxScore:           st.MaxScore,
		TotalFrames:        st.TotalFrames,
		FocusedFrames:      st.FocusedFrames,
		TotalViolations:    st.TotalViolations,
		PhoneDetectedCount: st.PhoneDetectedCount,
		LeftSeatCount:      st.LeftSeatCount,
		TotalAlerts:        st.TotalAlerts,
		GentleAlerts:       st.GentleAlerts,
		UrgentAlerts:       st.UrgentAlerts,
		CriticalAlerts:     st.CriticalAlerts,
		FocusPercentage:    st.FocusPercentage(),
		DurationSeconds:    int64(duration),
	})
}

// Flush persists the current engine snapshot immediately, regardless of the
// commit interval. Called on disconnect and before a session ends.
func (p *Pipeline) Flush(ctx context.Context, sessionID string) error {
	st, err := p.engine.Snapshot(sessionID)
	if err != nil {
		return err
	}

	t := p.track(sessionID)
	t.mutex.Lock()
	t.sinceFlush = 0
	t.mutex.Unlock()

	return p.flushState(ctx, sessionID, st)
}

// Forget drops the session's pipeline bookkeeping.
func (p *Pipeline) Forget(sessionID string) {
	p.mutex.Lock()
	delete(p.tracks, sessionID)
	p.mutex.Unlock()
}

// SessionPerf reports accumulated frame counters for one session.
func (p *Pipeline) SessionPerf(sessionID string) models.PerformanceStats {
	p.mutex.RLock()
	t := p.tracks[sessionID]
	p.mutex.RUnlock()

	if t == nil {
		return models.PerformanceStats{}
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.perfLocked(0)
}

type Stats struct {
	StartTime       time.Time  `json:"start_time"`
	TrackedSessions int        `json:"tracked_sessions"`
	FramesProcessed int64      `json:"frames_processed"`
	FramesDropped   int64      `json:"frames_dropped"`
	Queue           QueueStats `json:"queue"`
}

func (p *Pipeline) Stats() Stats {
	p.mutex.RLock()
	tracked := len(p.tracks)
	tracks := make([]*sessionTrack, 0, tracked)
	for _, t := range p.tracks {
		tracks = append(tracks, t)
	}
	p.mutex.RUnlock()

	var processed, dropped int64
	for _, t := range tracks {
		t.mutex.Lock()
		processed += t.framesProcessed
		dropped += t.framesDropped
		t.mutex.Unlock()
	}

	return Stats{
		StartTime:       p.startTime,
		TrackedSessions: tracked,
		FramesProcessed: processed,
		FramesDropped:   dropped,
		Queue:           p.queue.Stats(),
	}
}

// Shutdown stops the workers and waits for in-flight detections to finish.
func (p *Pipeline) Shutdown() error {
	p.logger.Info("Shutting down frame pipeline...")

	p.cancel()

	if err := p.queue.Shutdown(30 * time.Second); err != nil {
		p.logger.Error("Failed to shutdown queue", zap.Error(err))
		return err
	}

	p.logger.Info("Frame pipeline shutdown complete")
	return nil
}
