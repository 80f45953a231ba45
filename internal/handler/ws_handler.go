package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/quizjourney/internal/middleware"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/response"
	"github.com/stemsi/quizjourney/internal/service"
	"github.com/stemsi/quizjourney/internal/validator"
	ws "github.com/stemsi/quizjourney/internal/websocket"
)

// wsReadTimeout closes connections that send nothing, not even a ping.
const wsReadTimeout = 5 * time.Minute

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams journey tracking over a WebSocket.
type WSHandler struct {
	progressService *service.ProgressService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(progressService *service.ProgressService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		progressService: progressService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// ProgressStream godoc
// WS /ws/v1/progress/:assignment_id/stream?token=...
// Each client message is one tracking action. Closing the last socket for a
// journey saves and releases it.
func (h *WSHandler) ProgressStream(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	assignmentID := c.Param("assignment_id")
	if err := validator.ValidateID(assignmentID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", id.UserID).
		Str("assignment_id", assignmentID).
		Logger()
	wsLog.Info().Msg("Client connected")

	h.progressService.Acquire(id, assignmentID)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.progressService.Release(ctx, id, assignmentID)
	}()

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, wsReadTimeout, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.dispatch(conn, id, assignmentID, &msg); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed, closing")
			return
		}
	}
}

// dispatch handles one message and returns only write errors.
func (h *WSHandler) dispatch(conn *websocket.Conn, id model.Identity, assignmentID string, msg *ws.Request) error {
	var (
		stats model.ProgressStats
		err   error
	)

	switch msg.Action {
	case ws.ActionPing:
		return ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})

	case ws.ActionStats:
		stats, err = h.progressService.Stats(id, assignmentID)
		if err != nil {
			return writeProgressError(conn, err)
		}
		return ws.WriteTyped(conn, ws.StatsResponse{Event: ws.EventStats, Stats: stats})

	case ws.ActionSave:
		outcome, err := h.progressService.Save(context.Background(), id, assignmentID)
		if err != nil {
			return writeProgressError(conn, err)
		}
		return ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Outcome: outcome.String()})

	case ws.ActionStart:
		stats, err = h.progressService.Start(id, assignmentID, msg.TotalQuestions)

	case ws.ActionQuestionStart:
		if msg.QuestionIndex == nil {
			return ws.WriteError(conn, string(response.ErrValidation), "question_index is required")
		}
		stats, err = h.progressService.QuestionStart(id, assignmentID, msg.QuestionID, *msg.QuestionIndex)

	case ws.ActionAnswer:
		if msg.IsCorrect == nil {
			return ws.WriteError(conn, string(response.ErrValidation), "is_correct is required")
		}
		stats, err = h.progressService.Answer(id, assignmentID, msg.QuestionID, *msg.IsCorrect, msg.ResponseData)

	case ws.ActionNavigate:
		if msg.NewIndex == nil {
			return ws.WriteError(conn, string(response.ErrValidation), "new_index is required")
		}
		stats, err = h.progressService.Navigate(id, assignmentID, *msg.NewIndex)

	case ws.ActionComplete:
		stats, err = h.progressService.Complete(context.Background(), id, assignmentID, msg.FinalScore)

	default:
		h.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		return ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}

	if err != nil {
		return writeProgressError(conn, err)
	}
	return ws.WriteTyped(conn, ws.SuccessResponse{Event: ws.EventSuccess, Action: msg.Action, Stats: stats})
}

func writeProgressError(conn *websocket.Conn, err error) error {
	_, code := progressError(err)
	return ws.WriteError(conn, string(code), response.GetMessage(code))
}
