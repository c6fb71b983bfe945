package routes

import (
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/pkg/common"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetCaseGraphHandler returns the current graph snapshot of a case for
// visualization.
func GetCaseGraphHandler(c echo.Context) error {
	type getGraphParams struct {
		CaseID string `param:"id" validate:"required"`
	}

	type getGraphResponse struct {
		Message string                `json:"message"`
		Graph   *common.GraphSnapshot `json:"graph,omitempty"`
	}

	params := new(getGraphParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getGraphResponse{
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
			return c.JSON(http.StatusNotFound, getGraphResponse{
				Message: "Case not found",
			})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, getGraphResponse{
			Message: "Internal server error",
		})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, getGraphResponse{
			Message: "You do not own this case",
		})
	}

	coordinator := c.(*middleware.AppContext).App.Coordinator
	snapshot, err := coordinator.Snapshot(ctx, cs.ID)
	if err != nil {
		logger.Error("Failed to snapshot case graph", "case_id", cs.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, getGraphResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getGraphResponse{
		Message: "OK",
		Graph:   &snapshot,
	})
}
