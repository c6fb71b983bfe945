package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/queue"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/internal/storage"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// AddCaseFilesHandler uploads documents to an existing case
// (multipart/form-data) and queues them for ingestion.
func AddCaseFilesHandler(c echo.Context) error {
	type addFilesParams struct {
		CaseID string `param:"id" validate:"required"`
	}

	type addFilesResponse struct {
		Message   string        `json:"message"`
		CaseID    string        `json:"case_id,omitempty"`
		CaseFiles []db.CaseFile `json:"case_files,omitempty"`
	}

	params := new(addFilesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, addFilesResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, addFilesResponse{
			Message: "Invalid request body",
		})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, addFilesResponse{
			Message: "Invalid request body",
		})
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		return c.JSON(http.StatusBadRequest, addFilesResponse{
			Message: "No files provided",
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
			return c.JSON(http.StatusNotFound, addFilesResponse{
				Message: "Case not found",
			})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, addFilesResponse{
			Message: "Internal server error",
		})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, addFilesResponse{
			Message: "You do not own this case",
		})
	}

	s3Client := c.(*middleware.AppContext).App.S3
	ch := c.(*middleware.AppContext).App.Queue

	caseFiles := make([]db.CaseFile, 0)
	for _, file := range uploads {
		src, err := file.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, addFilesResponse{
				Message: "Could not open file",
			})
		}
		defer src.Close()

		fId, err := gonanoid.New()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, addFilesResponse{
				Message: "Internal server error",
			})
		}
		key, err := storage.PutFile(
			ctx,
			s3Client,
			storage.CaseFilePrefix(cs.ID),
			file.Filename,
			fId,
			src,
		)
		if err != nil {
			logger.Error("Failed to upload file", "err", err)
			return c.JSON(http.StatusInternalServerError, addFilesResponse{
				Message: "Internal server error",
			})
		}

		caseFile, err := cases.AddCaseFile(ctx, db.AddCaseFileParams{
			CaseID:  cs.ID,
			Name:    file.Filename,
			FileKey: key,
		})
		if err != nil {
			logger.Error("Failed to add file to case", "err", err)
			return c.JSON(http.StatusInternalServerError, addFilesResponse{
				Message: "Internal server error",
			})
		}
		caseFiles = append(caseFiles, caseFile)

		job, _ := json.Marshal(queue.IngestFileMsg{
			CaseID:   cs.ID,
			FileID:   caseFile.ID,
			FileKey:  caseFile.FileKey,
			FileName: caseFile.Name,
		})
		if err := queue.PublishFIFO(ch, queue.IngestQueue, job); err != nil {
			logger.Error("Failed to publish to ingest_queue", "err", err)
		}
	}

	return c.JSON(http.StatusOK, addFilesResponse{
		Message:   "Files added successfully",
		CaseID:    cs.ID,
		CaseFiles: caseFiles,
	})
}
