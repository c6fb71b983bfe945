package routes

import (
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ClearCaseGraphHandler resets a case's graph to empty. Idempotent; the
// message history and uploaded files stay.
func ClearCaseGraphHandler(c echo.Context) error {
	type clearGraphParams struct {
		CaseID string `param:"id" validate:"required"`
	}

	type clearGraphResponse struct {
		Message string `json:"message"`
	}

	params := new(clearGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, clearGraphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, clearGraphResponse{
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

	cs, err := cases.GetCase(ctx, params.CaseID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, clearGraphResponse{
				Message: "Case not found",
			})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, clearGraphResponse{
			Message: "Internal server error",
		})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, clearGraphResponse{
			Message: "You do not own this case",
		})
	}

	coordinator := c.(*middleware.AppContext).App.Coordinator
	if err := coordinator.Clear(ctx, cs.ID); err != nil {
		logger.Error("Failed to clear case graph", "case_id", cs.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, clearGraphResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, clearGraphResponse{
		Message: "Case graph cleared",
	})
}
