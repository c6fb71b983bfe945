package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/queue"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/pkg/ai"
	"github.com/casetrail/backend/pkg/graph"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// chatHistoryLimit caps how many prior messages are replayed to the
// analysis model per turn.
const chatHistoryLimit = 20

// ChatCaseHandler ingests one chat turn: the message is folded into the
// case graph and answered by the assistant.
func ChatCaseHandler(c echo.Context) error {
	type chatCaseRequest struct {
		CaseID  string `param:"id" validate:"required"`
		Message string `json:"message" validate:"required"`
	}

	type chatCaseResponse struct {
		Message          string      `json:"message"`
		UserMessage      *db.Message `json:"user_message,omitempty"`
		AssistantMessage *db.Message `json:"assistant_message,omitempty"`
		GraphUpdated     bool        `json:"graph_updated"`
		Turn             int         `json:"turn,omitempty"`
	}

	data := new(chatCaseRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, chatCaseResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, chatCaseResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	cases := db.NewCaseStore(conn)

	cs, err := cases.GetCase(ctx, data.CaseID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, chatCaseResponse{
				Message: "Case not found",
			})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, chatCaseResponse{
			Message: "Internal server error",
		})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, chatCaseResponse{
			Message: "You do not own this case",
		})
	}

	// prior messages let the assistant resolve references to earlier turns
	history := []ai.ChatMessage{}
	msgs, err := cases.ListMessages(ctx, cs.ID)
	if err != nil {
		logger.Warn("Failed to load message history", "case_id", cs.ID, "err", err)
	}
	if len(msgs) > chatHistoryLimit {
		msgs = msgs[len(msgs)-chatHistoryLimit:]
	}
	for _, m := range msgs {
		history = append(history, ai.ChatMessage{Role: m.Role, Message: m.Content})
	}

	coordinator := c.(*middleware.AppContext).App.Coordinator
	result, err := coordinator.Ingest(ctx, cs.ID, data.Message, history)
	if err != nil {
		if graph.IsValidationError(err) {
			return c.JSON(http.StatusBadRequest, chatCaseResponse{
				Message: "Message text is empty",
			})
		}
		if graph.IsExtractionUnavailable(err) {
			logger.Error("[Chat] Extraction unavailable", "case_id", cs.ID, "err", err)
			return c.JSON(http.StatusServiceUnavailable, chatCaseResponse{
				Message: "Extraction is temporarily unavailable, please retry",
			})
		}
		logger.Error("[Chat] Failed to process turn", "case_id", cs.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, chatCaseResponse{
			Message: "Internal server error",
		})
	}

	userMsg, err := cases.AddMessage(ctx, db.AddMessageParams{
		CaseID:  cs.ID,
		Role:    "user",
		Content: data.Message,
	})
	if err != nil {
		logger.Error("Failed to record user message", "case_id", cs.ID, "err", err)
	}
	assistantMsg, err := cases.AddMessage(ctx, db.AddMessageParams{
		CaseID:  cs.ID,
		Role:    "assistant",
		Content: result.Assistant,
	})
	if err != nil {
		logger.Error("Failed to record assistant message", "case_id", cs.ID, "err", err)
	}
	if err := cases.TouchCase(ctx, cs.ID); err != nil {
		logger.Warn("Failed to touch case", "case_id", cs.ID, "err", err)
	}

	ch := c.(*middleware.AppContext).App.Queue
	event, _ := json.Marshal(queue.CaseEventMsg{
		CaseID:       cs.ID,
		Turn:         result.Turn,
		GraphUpdated: result.GraphUpdated,
		Message:      result.Assistant,
	})
	if err := queue.PublishCaseEvent(ch, cs.ID, event); err != nil {
		logger.Warn("Failed to publish case event", "case_id", cs.ID, "err", err)
	}

	return c.JSON(http.StatusOK, chatCaseResponse{
		Message:          "OK",
		UserMessage:      &userMsg,
		AssistantMessage: &assistantMsg,
		GraphUpdated:     result.GraphUpdated,
		Turn:             result.Turn,
	})
}
