package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/quizjourney/internal/middleware"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/progress"
	"github.com/stemsi/quizjourney/internal/response"
	"github.com/stemsi/quizjourney/internal/service"
	"github.com/stemsi/quizjourney/internal/validator"
)

// ProgressHandler exposes journey tracking over REST.
type ProgressHandler struct {
	progressService *service.ProgressService
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progressService *service.ProgressService) *ProgressHandler {
	return &ProgressHandler{progressService: progressService}
}

// StartAttempt godoc
// POST /api/v1/progress/:assignment_id/start
// Starts a new attempt, discarding any journey in progress for the assignment.
func (h *ProgressHandler) StartAttempt(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	stats, err := h.progressService.Start(id, assignmentID, req.TotalQuestions)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusCreated, stats)
}

// QuestionStart godoc
// POST /api/v1/progress/:assignment_id/questions/:question_id/start
func (h *ProgressHandler) QuestionStart(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}
	questionID, ok := pathID(c, "question_id")
	if !ok {
		return
	}

	var req model.QuestionStartRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	stats, err := h.progressService.QuestionStart(id, assignmentID, questionID, *req.QuestionIndex)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// QuestionAnswer godoc
// POST /api/v1/progress/:assignment_id/questions/:question_id/answer
// Re-answering overwrites the previous answer.
func (h *ProgressHandler) QuestionAnswer(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}
	questionID, ok := pathID(c, "question_id")
	if !ok {
		return
	}

	var req model.QuestionAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	stats, err := h.progressService.Answer(id, assignmentID, questionID, *req.IsCorrect, req.ResponseData)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Navigate godoc
// POST /api/v1/progress/:assignment_id/navigate
func (h *ProgressHandler) Navigate(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	stats, err := h.progressService.Navigate(id, assignmentID, *req.NewIndex)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Complete godoc
// POST /api/v1/progress/:assignment_id/complete
// The body is optional; it may carry a final score.
func (h *ProgressHandler) Complete(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	var req model.CompleteRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	stats, err := h.progressService.Complete(c.Request.Context(), id, assignmentID, req.FinalScore)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GetStats godoc
// GET /api/v1/progress/:assignment_id/stats
func (h *ProgressHandler) GetStats(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	stats, err := h.progressService.Stats(id, assignmentID)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GetQuestionTime godoc
// GET /api/v1/progress/:assignment_id/questions/:question_id/time
func (h *ProgressHandler) GetQuestionTime(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}
	questionID, ok := pathID(c, "question_id")
	if !ok {
		return
	}

	secs, err := h.progressService.QuestionTime(id, assignmentID, questionID)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": questionID, "time_spent": secs})
}

// Save godoc
// POST /api/v1/progress/:assignment_id/save
// Always succeeds once a journey exists; outcome says where the snapshot went.
func (h *ProgressHandler) Save(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	outcome, err := h.progressService.Save(c.Request.Context(), id, assignmentID)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"outcome": outcome.String()})
}

// GetHistory godoc
// GET /api/v1/progress/:assignment_id/history
func (h *ProgressHandler) GetHistory(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	history, err := h.progressService.History(c.Request.Context(), id, assignmentID)
	if err != nil {
		failProgress(c, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}

// Release godoc
// DELETE /api/v1/progress/:assignment_id
// Saves the journey and stops tracking it.
func (h *ProgressHandler) Release(c *gin.Context) {
	id, assignmentID, ok := journeyParams(c)
	if !ok {
		return
	}

	h.progressService.Release(c.Request.Context(), id, assignmentID)
	response.Success(c, http.StatusOK, gin.H{})
}

// ─── helpers ─────────────────────────────────────────────────────────

func journeyParams(c *gin.Context) (model.Identity, string, bool) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.Identity{}, "", false
	}
	assignmentID, ok := pathID(c, "assignment_id")
	if !ok {
		return model.Identity{}, "", false
	}
	return id, assignmentID, true
}

func pathID(c *gin.Context, name string) (string, bool) {
	v := c.Param(name)
	if err := validator.ValidateID(v); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return v, true
}

// progressError maps tracker and service errors to a status and code.
func progressError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, progress.ErrNoCurrentUser):
		return http.StatusUnauthorized, response.ErrNoCurrentUser
	case errors.Is(err, progress.ErrInvalidAttempt):
		return http.StatusBadRequest, response.ErrInvalidAttempt
	case errors.Is(err, progress.ErrNoJourney):
		return http.StatusNotFound, response.ErrNoJourney
	case errors.Is(err, progress.ErrInvalidQuestion):
		return http.StatusBadRequest, response.ErrInvalidQuestion
	case errors.Is(err, progress.ErrQuestionNotStarted):
		return http.StatusConflict, response.ErrQuestionNotStarted
	case errors.Is(err, progress.ErrJourneyCompleted):
		return http.StatusConflict, response.ErrJourneyFinished
	case errors.Is(err, service.ErrHistoryNotFound):
		return http.StatusNotFound, response.ErrNoSavedProgress
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func failProgress(c *gin.Context, err error) {
	status, code := progressError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Fail(c, status, code)
}
