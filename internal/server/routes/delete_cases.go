package routes

import (
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/internal/storage"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DeleteCaseHandler removes a case with its messages, files, stored
// documents and graph state.
func DeleteCaseHandler(c echo.Context) error {
	type deleteCaseParams struct {
		CaseID string `param:"id" validate:"required"`
	}

	type deleteCaseResponse struct {
		Message string `json:"message"`
	}

	params := new(deleteCaseParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteCaseResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteCaseResponse{
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
			return c.JSON(http.StatusNotFound, deleteCaseResponse{
				Message: "Case not found",
			})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, deleteCaseResponse{
			Message: "Internal server error",
		})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, deleteCaseResponse{
			Message: "You do not own this case",
		})
	}

	if err := cases.DeleteCase(ctx, cs.ID); err != nil {
		logger.Error("Failed to delete case", "err", err)
		return c.JSON(http.StatusInternalServerError, deleteCaseResponse{
			Message: "Internal server error",
		})
	}

	// best effort; orphaned objects are harmless
	s3Client := c.(*middleware.AppContext).App.S3
	if err := storage.DeleteFolder(ctx, s3Client, storage.CaseFilePrefix(cs.ID)); err != nil {
		logger.Error("Failed to delete case files from storage", "case_id", cs.ID, "err", err)
	}

	coordinator := c.(*middleware.AppContext).App.Coordinator
	if err := coordinator.Remove(ctx, cs.ID); err != nil {
		logger.Error("Failed to drop case graph", "case_id", cs.ID, "err", err)
	}

	return c.JSON(http.StatusOK, deleteCaseResponse{
		Message: "Case deleted successfully",
	})
}
