package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
)

func testClientConfig(baseURL string) config.DetectorConfig {
	return config.DetectorConfig{
		BaseURL:             baseURL,
		Timeout:             2 * time.Second,
		MaxRetries:          2,
		RetryDelay:          time.Millisecond,
		HealthCheckInterval: time.Hour,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(testClientConfig(baseURL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func detectorStub(t *testing.T, detect http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/detect", detect)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.DetectorConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestDetect_Success(t *testing.T) {
	server := detectorStub(t, func(w http.ResponseWriter, r *http.Request) {
		var req DetectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "frame-bytes", req.ImageData)
		assert.Equal(t, 12.5, req.Timestamp)

		json.NewEncoder(w).Encode(Result{
			Detections: []models.ObjectDetection{
				{Class: "person", Confidence: 0.92, BBox: []float64{10, 20, 110, 220}},
			},
			ModelVersion:   "yolov8n",
			ProcessingTime: 0.031,
		})
	})

	client := newTestClient(t, server.URL)

	result, err := client.Detect(context.Background(), "frame-bytes", 12.5)
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, "person", result.Detections[0].Class)
	assert.Equal(t, "yolov8n", result.ModelVersion)
	assert.Equal(t, 0.031, result.ProcessingTime)
}

func TestDetect_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	server := detectorStub(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Result{ModelVersion: "yolov8n"})
	})

	client := newTestClient(t, server.URL)

	result, err := client.Detect(context.Background(), "frame", 1.0)
	require.NoError(t, err)
	assert.Equal(t, "yolov8n", result.ModelVersion)
	assert.Equal(t, int64(3), calls.Load())
}

func TestDetect_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	server := detectorStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "broken", http.StatusInternalServerError)
	})

	client := newTestClient(t, server.URL)

	_, err := client.Detect(context.Background(), "frame", 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection failed after 3 attempts")
	assert.Equal(t, int64(3), calls.Load())
}

func TestDetect_RespectsContext(t *testing.T) {
	server := detectorStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	})

	cfg := testClientConfig(server.URL)
	cfg.RetryDelay = time.Second
	client, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Detect(ctx, "frame", 1.0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealthCheck(t *testing.T) {
	healthy := true
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)
	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.True(t, client.Healthy())

	healthy = false
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestModelInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/model/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   "yolov8n",
			"classes": 80,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL)

	info, err := client.ModelInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yolov8n", info["model"])
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name       string
		detections []models.ObjectDetection
		person     bool
		personConf float64
		phone      bool
		phoneConf  float64
	}{
		{
			name: "empty frame",
		},
		{
			name: "person and phone",
			detections: []models.ObjectDetection{
				{Class: "person", Confidence: 0.9},
				{Class: "cell phone", Confidence: 0.8},
			},
			person: true, personConf: 0.9,
			phone: true, phoneConf: 0.8,
		},
		{
			name: "highest confidence wins",
			detections: []models.ObjectDetection{
				{Class: "person", Confidence: 0.4},
				{Class: "person", Confidence: 0.85},
				{Class: "person", Confidence: 0.6},
			},
			person: true, personConf: 0.85,
		},
		{
			name: "low confidence person reported but not detected",
			detections: []models.ObjectDetection{
				{Class: "person", Confidence: 0.2},
			},
			personConf: 0.2,
		},
		{
			name: "phone threshold is exclusive",
			detections: []models.ObjectDetection{
				{Class: "person", Confidence: 0.9},
				{Class: "cell phone", Confidence: 0.4},
			},
			person: true, personConf: 0.9,
			phoneConf: 0.4,
		},
		{
			name: "unrelated classes ignored",
			detections: []models.ObjectDetection{
				{Class: "laptop", Confidence: 0.95},
				{Class: "cup", Confidence: 0.9},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := Reduce(tt.detections, 7.0)
			assert.Equal(t, tt.person, sample.PersonDetected)
			assert.Equal(t, tt.personConf, sample.PersonConfidence)
			assert.Equal(t, tt.phone, sample.PhoneDetected)
			assert.Equal(t, tt.phoneConf, sample.PhoneConfidence)
			assert.Equal(t, 7.0, sample.Timestamp)
		})
	}
}
