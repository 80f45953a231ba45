package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/response"
	"github.com/stemsi/quizjourney/internal/service"
	"github.com/stemsi/quizjourney/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
	snapshotLimit     = 1000
)

// MonitorHandler streams live journey events of an assignment to org admins.
type MonitorHandler struct {
	rdb             *redis.Client
	progressService *service.ProgressService
	log             zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, progressService *service.ProgressService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:             rdb,
		progressService: progressService,
		log:             log.With().Str("component", "monitor_handler").Logger(),
	}
}

type assignmentSummary struct {
	TotalTracked    int     `json:"total_tracked"`
	TotalInProgress int     `json:"total_in_progress"`
	TotalCompleted  int     `json:"total_completed"`
	AverageScore    float64 `json:"average_score"`
	AverageTime     int     `json:"average_time_spent"`
}

func summarize(records []model.ProgressRecord) assignmentSummary {
	var s assignmentSummary
	var scoreSum float64
	scored, timeSum := 0, 0
	for _, r := range records {
		s.TotalTracked++
		timeSum += r.TimeSpent
		if r.Status == model.RecordStatusCompleted {
			s.TotalCompleted++
		} else {
			s.TotalInProgress++
		}
		if r.FinalScore != nil {
			scoreSum += *r.FinalScore
			scored++
		}
	}
	if scored > 0 {
		s.AverageScore = scoreSum / float64(scored)
	}
	if s.TotalTracked > 0 {
		s.AverageTime = timeSum / s.TotalTracked
	}
	return s
}

// MonitorAssignmentSSE godoc
// GET /api/v1/admin/assignments/:assignment_id/monitor
func (h *MonitorHandler) MonitorAssignmentSSE(c *gin.Context) {
	assignmentID := c.Param("assignment_id")
	if err := validator.ValidateID(assignmentID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	// 1. Subscribe before the snapshot so no event falls in between
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.AssignmentMonitorChannel(assignmentID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("assignment_id", assignmentID).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	// 2. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// 3. Initial snapshot
	h.sendSnapshot(c, reqCtx, assignmentID, "snapshot")

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until something happens on the assignment
	dirty := false

	h.log.Info().Str("assignment_id", assignmentID).Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assignment_id", assignmentID).Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward them untouched
			writeSSEData(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendSnapshot(c, reqCtx, assignmentID, "refresh")

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, assignmentID, kind string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	records, err := h.progressService.AssignmentRecords(ctx, assignmentID, snapshotLimit)
	if err != nil {
		h.log.Warn().Err(err).Str("assignment_id", assignmentID).Msg("Failed to load progress records for monitor")
		records = nil
	}
	if records == nil {
		records = []model.ProgressRecord{}
	}

	c.SSEvent("message", map[string]interface{}{
		"type":          kind,
		"assignment_id": assignmentID,
		"stats":         summarize(records),
		"records":       records,
	})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// ListAssignmentProgress godoc
// GET /api/v1/admin/assignments/:assignment_id/progress
func (h *MonitorHandler) ListAssignmentProgress(c *gin.Context) {
	assignmentID := c.Param("assignment_id")
	if err := validator.ValidateID(assignmentID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	records, err := h.progressService.AssignmentRecords(c.Request.Context(), assignmentID, snapshotLimit)
	if err != nil {
		h.log.Error().Err(err).Str("assignment_id", assignmentID).Msg("Failed to list progress records")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if records == nil {
		records = []model.ProgressRecord{}
	}
	response.Success(c, http.StatusOK, gin.H{"stats": summarize(records), "records": records})
}
