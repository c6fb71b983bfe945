package routes

import (
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetCasesHandler lists the authenticated user's cases, most recently
// updated first.
func GetCasesHandler(c echo.Context) error {
	type getCasesResponse struct {
		Message string    `json:"message"`
		Cases   []db.Case `json:"cases,omitempty"`
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	cases := db.NewCaseStore(conn)

	list, err := cases.ListCases(ctx, user.UserID)
	if err != nil {
		logger.Error("Failed to list cases", "err", err)
		return c.JSON(http.StatusInternalServerError, getCasesResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getCasesResponse{
		Message: "OK",
		Cases:   list,
	})
}

// GetCaseHandler returns one case with its message history and files.
func GetCaseHandler(c echo.Context) error {
	type getCaseParams struct {
		CaseID string `param:"id" validate:"required"`
	}

	type getCaseResponse struct {
		Message  string        `json:"message"`
		Case     *db.Case      `json:"case,omitempty"`
		Messages []db.Message  `json:"messages,omitempty"`
		Files    []db.CaseFile `json:"files,omitempty"`
	}

	params := new(getCaseParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getCaseResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getCaseResponse{
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
			return c.JSON(http.StatusNotFound, getCaseResponse{
				Message: "Case not found",
			})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, getCaseResponse{
			Message: "Internal server error",
		})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, getCaseResponse{
			Message: "You do not own this case",
		})
	}

	messages, err := cases.ListMessages(ctx, cs.ID)
	if err != nil {
		logger.Error("Failed to list messages", "err", err)
		return c.JSON(http.StatusInternalServerError, getCaseResponse{
			Message: "Internal server error",
		})
	}
	files, err := cases.ListCaseFiles(ctx, cs.ID)
	if err != nil {
		logger.Error("Failed to list case files", "err", err)
		return c.JSON(http.StatusInternalServerError, getCaseResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getCaseResponse{
		Message:  "OK",
		Case:     &cs,
		Messages: messages,
		Files:    files,
	})
}
