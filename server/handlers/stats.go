package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/cache"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/detector"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/engine"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/pipeline"
	"github.com/mtreeno1/AI-Learning-Companion-BE/server/recorder"
)

// StatsHandler surfaces operational state: pipeline throughput, engine and
// recorder occupancy, detector health, cache backend.
type StatsHandler struct {
	pipeline *pipeline.Pipeline
	engine   *engine.Engine
	detector *detector.Client
	recorder *recorder.Service
	cache    cache.Cache
	logger   *zap.Logger
}

func NewStatsHandler(pl *pipeline.Pipeline, eng *engine.Engine, det *detector.Client,
	rec *recorder.Service, c cache.Cache, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		pipeline: pl,
		engine:   eng,
		detector: det,
		recorder: rec,
		cache:    c,
		logger:   logger,
	}
}

func (h *StatsHandler) GetStats(c *gin.Context) {
	pipelineStats := h.pipeline.Stats()

	var successRate float64
	if total := pipelineStats.FramesProcessed + pipelineStats.FramesDropped; total > 0 {
		successRate = float64(pipelineStats.FramesProcessed) / float64(total) * 100
	}

	cacheStats, err := h.cache.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to read cache stats", zap.Error(err))
		cacheStats = &cache.CacheStats{}
	}

	c.JSON(http.StatusOK, gin.H{
		"pipeline": pipelineStats,
		"engine": gin.H{
			"active_sessions": h.engine.ActiveSessions(),
		},
		"detector": gin.H{
			"healthy": h.detector.Healthy(),
		},
		"recorder": gin.H{
			"active_recordings": h.recorder.ActiveCount(),
		},
		"cache": cacheStats,
		"metrics": gin.H{
			"success_rate":   successRate,
			"uptime_seconds": time.Since(pipelineStats.StartTime).Seconds(),
		},
	})
}

// GetModelInfo proxies the detector's model metadata.
func (h *StatsHandler) GetModelInfo(c *gin.Context) {
	info, err := h.detector.ModelInfo(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to fetch model info", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Detector unavailable"})
		return
	}
	c.JSON(http.StatusOK, info)
}
