package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/config"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
	"go.uber.org/zap"
)

const (
	classPerson = "person"
	classPhone  = "cell phone"

	personDetectionThreshold = 0.3
	phoneDetectionThreshold  = 0.4
)

// Client talks to the YOLO detection service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.DetectorConfig

	healthy atomic.Bool
	stopCh  chan struct{}
}

type DetectRequest struct {
	ImageData string  `json:"image_data"`
	Timestamp float64 `json:"timestamp"`
}

// Result is the raw detector output for one frame.
type Result struct {
	Detections     []models.ObjectDetection `json:"detections"`
	ModelVersion   string                   `json:"model_version"`
	ProcessingTime float64                  `json:"processing_time"`
}

func NewClient(cfg config.DetectorConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("detector base URL is required")
	}

	client := &Client{
		baseURL: cfg.BaseURL,
		logger:  logger,
		config:  cfg,
		stopCh:  make(chan struct{}),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		logger.Warn("Detector service not available at startup", zap.Error(err))
	} else {
		client.healthy.Store(true)
	}

	go client.startHealthChecker()

	return client, nil
}

// Detect sends one frame to the detection service, retrying transient
// failures with linear backoff.
func (c *Client) Detect(ctx context.Context, imageData string, timestamp float64) (*Result, error) {
	request := &DetectRequest{
		ImageData: imageData,
		Timestamp: timestamp,
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying detector request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		result, err := c.executeDetectRequest(ctx, request)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("detection failed after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

func (c *Client) executeDetectRequest(ctx context.Context, request *DetectRequest) (*Result, error) {
	requestData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/detect", c.baseURL)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return nil, fmt.Errorf("detector service error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var result Result
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// Reduce collapses raw object detections into the per-frame sample the
// scoring engine consumes. The highest-confidence detection wins per class;
// confidences below the class threshold leave the flag unset but are still
// reported.
func Reduce(detections []models.ObjectDetection, timestamp float64) engine.DetectionSample {
	var personConf, phoneConf float64
	for _, d := range detections {
		switch d.Class {
		case classPerson:
			if d.Confidence > personConf {
				personConf = d.Confidence
			}
		case classPhone:
			if d.Confidence > phoneConf {
				phoneConf = d.Confidence
			}
		}
	}

	return engine.DetectionSample{
		PersonDetected:   personConf > personDetectionThreshold,
		PersonConfidence: personConf,
		PhoneDetected:    phoneConf > phoneDetectionThreshold,
		PhoneConfidence:  phoneConf,
		Timestamp:        timestamp,
	}
}

func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("detector service unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

// Healthy reports the result of the most recent background health check.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.HealthCheck(context.Background()); err != nil {
				c.healthy.Store(false)
				c.logger.Error("Detector health check failed", zap.Error(err))
			} else {
				c.healthy.Store(true)
				c.logger.Debug("Detector health check passed")
			}
		}
	}
}

func (c *Client) ModelInfo(ctx context.Context) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s/model/info", c.baseURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create model info request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model info request failed (status %d)", response.StatusCode)
	}

	var modelInfo map[string]interface{}
	if err := json.NewDecoder(response.Body).Decode(&modelInfo); err != nil {
		return nil, fmt.Errorf("failed to decode model info: %w", err)
	}

	return modelInfo, nil
}

// Close stops the background health checker.
func (c *Client) Close() {
	close(c.stopCh)
}
