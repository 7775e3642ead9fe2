package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/cache"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/detector"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/middleware"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/pipeline"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/recorder"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It satisfies
// every store interface the handlers consume.
type fakeStore struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*models.User
	sessions   map[uuid.UUID]*models.Session
	order      []uuid.UUID
	recordings map[uuid.UUID]*models.Recording
	progress   []store.SessionProgress
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[uuid.UUID]*models.User),
		sessions:   make(map[uuid.UUID]*models.Session),
		recordings: make(map[uuid.UUID]*models.Recording),
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *user
	f.users[user.ID] = &u
	return nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, sess *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	c := *sess
	f.sessions[sess.SessionID] = &c
	f.order = append(f.order, sess.SessionID)
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeStore) GetSessionByID(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, userID uuid.UUID, status models.SessionStatus, page, pageSize int) ([]models.Session, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.Session
	for i := len(f.order) - 1; i >= 0; i-- {
		s, ok := f.sessions[f.order[i]]
		if !ok || s.UserID != userID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		all = append(all, *s)
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []models.Session{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (f *fakeStore) UpdateSessionProgress(ctx context.Context, p store.SessionProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
	if s, ok := f.sessions[p.SessionID]; ok {
		s.CurrentScore = p.CurrentScore
		s.MinScore = p.MinScore
		s.MaxScore = p.MaxScore
		s.TotalFrames = p.TotalFrames
		s.FocusedFrames = p.FocusedFrames
		s.TotalViolations = p.TotalViolations
		s.PhoneDetectedCount = p.PhoneDetectedCount
		s.LeftSeatCount = p.LeftSeatCount
		s.TotalAlerts = p.TotalAlerts
		s.GentleAlerts = p.GentleAlerts
		s.UrgentAlerts = p.UrgentAlerts
		s.CriticalAlerts = p.CriticalAlerts
		s.FocusPercentage = p.FocusPercentage
		s.DurationSeconds = p.DurationSeconds
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeStore) FinishSession(ctx context.Context, fin store.SessionFinal) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[fin.SessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	endedAt := fin.EndedAt
	s.Status = fin.Status
	s.EndedAt = &endedAt
	s.DurationSeconds = fin.DurationSeconds
	s.CurrentScore = fin.FinalScore
	s.FinalScore = &fin.FinalScore
	s.AverageScore = &fin.AverageScore
	s.MinScore = fin.MinScore
	s.MaxScore = fin.MaxScore
	s.FocusPercentage = fin.FocusPercentage
	s.TotalFrames = fin.TotalFrames
	s.FocusedFrames = fin.FocusedFrames
	s.TotalViolations = fin.TotalViolations
	s.PhoneDetectedCount = fin.PhoneCount
	s.LeftSeatCount = fin.LeftSeatCount
	s.TotalAlerts = fin.TotalAlerts
	s.GentleAlerts = fin.GentleAlerts
	s.UrgentAlerts = fin.UrgentAlerts
	s.CriticalAlerts = fin.CriticalAlerts
	s.UpdatedAt = time.Now().UTC()
	c := *s
	return &c, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.sessions, sessionID)
	for id, r := range f.recordings {
		if r.SessionID == sessionID {
			delete(f.recordings, id)
		}
	}
	return nil
}

func (f *fakeStore) CreateRecording(ctx context.Context, rec *models.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.CreatedAt = time.Now().UTC()
	c := *rec
	f.recordings[rec.RecordingID] = &c
	return nil
}

func (f *fakeStore) FinishRecording(ctx context.Context, recordingID uuid.UUID, endedAt time.Time,
	durationSeconds float64, frameCount, fileSizeBytes int64) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recordings[recordingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	r.IsActive = false
	r.EndedAt = &endedAt
	r.DurationSeconds = durationSeconds
	r.FrameCount = frameCount
	r.FileSizeBytes = fileSizeBytes
	c := *r
	return &c, nil
}

func (f *fakeStore) GetRecording(ctx context.Context, recordingID uuid.UUID) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recordings[recordingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeStore) GetActiveRecording(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.Recording
	for _, r := range f.recordings {
		if r.SessionID != sessionID || !r.IsActive {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (f *fakeStore) ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Recording, 0)
	for _, r := range f.recordings {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) addUser(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *u
	f.users[u.ID] = &c
}

func (f *fakeStore) addSession(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	f.sessions[s.SessionID] = &c
	f.order = append(f.order, s.SessionID)
}

func (f *fakeStore) session(id uuid.UUID) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

func (f *fakeStore) sessionRecordings(id uuid.UUID) []models.Recording {
	out, _ := f.ListRecordings(context.Background(), id)
	return out
}

func (f *fakeStore) progressCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.progress {
		if p.SessionID == id {
			n++
		}
	}
	return n
}

// rig wires real engine, pipeline, recorder, and cache around the fake
// store and a stubbed detector, mirroring the production composition.
type rig struct {
	router        *gin.Engine
	store         *fakeStore
	engine        *engine.Engine
	pipeline      *pipeline.Pipeline
	recorder      *recorder.Service
	cache         cache.Cache
	auth          *middleware.AuthMiddleware
	userID        uuid.UUID
	token         string
	detectorCalls *atomic.Int64
}

func newRig(t *testing.T) *rig {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	calls := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/model/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"yolov8n","classes":80}`)
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"detections":[{"class":"person","confidence":0.95,"bbox":[10,20,200,400]}],"model_version":"yolov8n","processing_time":0.02}`)
	})
	stub := httptest.NewServer(mux)

	det, err := detector.NewClient(config.DetectorConfig{
		BaseURL:             stub.URL,
		Timeout:             2 * time.Second,
		MaxRetries:          0,
		RetryDelay:          time.Millisecond,
		HealthCheckInterval: time.Hour,
	}, logger)
	require.NoError(t, err)

	eng := engine.New(logger)
	cacheInstance := cache.NewMemoryCache(1000, time.Minute, logger)
	rec, err := recorder.New(config.RecordingConfig{Dir: t.TempDir(), DefaultFPS: 20}, logger)
	require.NoError(t, err)

	fs := newFakeStore()

	pl := pipeline.New(det, eng, fs, rec, cacheInstance, config.PipelineConfig{
		Workers:           2,
		QueueSize:         8,
		ProcessingTimeout: 2 * time.Second,
		CommitInterval:    100,
		DedupeTTL:         time.Minute,
	}, logger)

	auth := middleware.NewAuthMiddleware(config.SecurityConfig{
		JWTSecretKey: "handler-test-secret",
		TokenExpiry:  time.Hour,
	}, logger)

	userID := uuid.New()
	fs.addUser(&models.User{
		ID:        userID,
		Email:     "studier@example.com",
		Name:      "Studier",
		CreatedAt: time.Now().UTC(),
	})
	token, err := auth.GenerateToken(userID, "studier@example.com", "Studier")
	require.NoError(t, err)

	authHandler := NewAuthHandler(fs, auth, logger)
	sessionHandler := NewSessionHandler(fs, fs, eng, pl, rec, cacheInstance, logger)
	recordingHandler := NewRecordingHandler(fs, rec, logger)
	statsHandler := NewStatsHandler(pl, eng, det, rec, cacheInstance, logger)
	wsHandler := NewWebSocketHandler(fs, fs, eng, pl, rec, logger)

	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/signup", authHandler.Signup)
	api.POST("/auth/login", authHandler.Login)
	protected := api.Group("/")
	protected.Use(auth.RequireAuth())
	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/sessions", sessionHandler.Create)
	protected.GET("/sessions", sessionHandler.List)
	protected.GET("/sessions/:session_id", sessionHandler.Get)
	protected.POST("/sessions/:session_id/end", sessionHandler.End)
	protected.DELETE("/sessions/:session_id", sessionHandler.Delete)
	protected.GET("/sessions/:session_id/live", sessionHandler.Live)
	protected.POST("/sessions/:session_id/frames", sessionHandler.ProcessFrame)
	protected.POST("/sessions/:session_id/recording/start", recordingHandler.Start)
	protected.POST("/sessions/:session_id/recording/stop", recordingHandler.Stop)
	protected.GET("/sessions/:session_id/recordings", recordingHandler.List)
	protected.GET("/recordings/:recording_id/download", recordingHandler.Download)
	protected.GET("/stats", statsHandler.GetStats)
	protected.GET("/model", statsHandler.GetModelInfo)
	router.GET("/ws/sessions/:session_id", auth.RequireAuth(), wsHandler.HandleSession)

	t.Cleanup(func() {
		require.NoError(t, pl.Shutdown())
		det.Close()
		stub.Close()
	})

	return &rig{
		router:        router,
		store:         fs,
		engine:        eng,
		pipeline:      pl,
		recorder:      rec,
		cache:         cacheInstance,
		auth:          auth,
		userID:        userID,
		token:         token,
		detectorCalls: calls,
	}
}

func (r *rig) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

// createSession drives the real endpoint and returns the new session ID.
func (r *rig) createSession(t *testing.T, name string) uuid.UUID {
	t.Helper()
	w := r.do(t, http.MethodPost, "/api/sessions", gin.H{"session_name": name}, r.token)
	require.Equal(t, http.StatusCreated, w.Code)

	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	return sess.SessionID
}

// secondUser registers another account and returns its token.
func (r *rig) secondUser(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	otherID := uuid.New()
	r.store.addUser(&models.User{
		ID:        otherID,
		Email:     "other@example.com",
		Name:      "Other",
		CreatedAt: time.Now().UTC(),
	})
	token, err := r.auth.GenerateToken(otherID, "other@example.com", "Other")
	require.NoError(t, err)
	return otherID, token
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
