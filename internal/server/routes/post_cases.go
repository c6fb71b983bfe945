package routes

import (
	"encoding/json"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/queue"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/internal/storage"
	"github.com/casetrail/backend/pkg/logger"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateCaseHandler creates a new case from multipart/form-data. Any files
// attached to the form are stored and queued for asynchronous ingestion.
func CreateCaseHandler(c echo.Context) error {
	type createCaseBody struct {
		Title string `form:"title" validate:"required"`
	}

	type createCaseResponse struct {
		Message   string         `json:"message"`
		Case      *db.Case       `json:"case,omitempty"`
		CaseFiles *[]db.CaseFile `json:"case_files,omitempty"`
	}

	data := new(createCaseBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createCaseResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createCaseResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, createCaseResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	cases := db.NewCaseStore(conn)

	cs, err := cases.CreateCase(ctx, db.CreateCaseParams{
		UserID: user.UserID,
		Title:  data.Title,
	})
	if err != nil {
		logger.Error("Failed to create case", "err", err)
		return c.JSON(http.StatusInternalServerError, createCaseResponse{
			Message: "Internal server error",
		})
	}

	caseFiles := make([]db.CaseFile, 0)
	if form, err := c.MultipartForm(); err == nil {
		uploads := form.File["files"]

		s3Client := c.(*middleware.AppContext).App.S3
		ch := c.(*middleware.AppContext).App.Queue

		for _, file := range uploads {
			src, err := file.Open()
			if err != nil {
				return c.JSON(http.StatusBadRequest, createCaseResponse{
					Message: "Could not open file",
				})
			}
			defer src.Close()

			fId, err := gonanoid.New()
			if err != nil {
				return c.JSON(http.StatusInternalServerError, createCaseResponse{
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
				return c.JSON(http.StatusInternalServerError, createCaseResponse{
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
				return c.JSON(http.StatusInternalServerError, createCaseResponse{
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
	}

	return c.JSON(http.StatusOK, createCaseResponse{
		Message:   "Case created successfully",
		Case:      &cs,
		CaseFiles: &caseFiles,
	})
}
