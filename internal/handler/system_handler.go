package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/quizjourney/internal/response"
	"github.com/stemsi/quizjourney/internal/service"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports service health.
type SystemHandler struct {
	db              Pinger
	rdb             *redis.Client
	progressService *service.ProgressService
	startTime       time.Time
}

func NewSystemHandler(db Pinger, rdb *redis.Client, progressService *service.ProgressService) *SystemHandler {
	return &SystemHandler{
		db:              db,
		rdb:             rdb,
		progressService: progressService,
		startTime:       time.Now(),
	}
}

type healthReport struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	Redis        string `json:"redis"`
	LiveJourneys int    `json:"live_journeys"`
	Goroutines   int    `json:"goroutines"`
	Uptime       string `json:"uptime"`
}

// Health godoc
// GET /health
// Answers 503 when a store is unreachable; journeys still save through the
// fallback while only the database is down.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Database:     "ok",
		Redis:        "ok",
		LiveJourneys: h.progressService.Live(),
		Goroutines:   runtime.NumGoroutine(),
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.db == nil || h.db.Ping(ctx) != nil {
		report.Database = "unreachable"
		report.Status = "degraded"
	}
	if h.rdb == nil || h.rdb.Ping(ctx).Err() != nil {
		report.Redis = "unreachable"
		report.Status = "degraded"
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
