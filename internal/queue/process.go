package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/extract"
	"github.com/casetrail/backend/internal/storage"
	"github.com/casetrail/backend/pkg/graph"
	"github.com/casetrail/backend/pkg/logger"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// ProcessIngestMessage handles one uploaded case document: fetch it from
// S3, extract its text, merge it into the case graph as a single turn and
// record the outcome in the message history.
//
// A nil return acks the job. Permanent failures (unknown file, unsupported
// format) mark the file failed and return nil so the job is not retried;
// everything else returns the error for the retry/DLQ cycle.
func ProcessIngestMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	coordinator *graph.Coordinator,
	conn *pgxpool.Pool,
	ch *amqp091.Channel,
	msg string,
) error {
	var data IngestFileMsg
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	if data.CaseID == "" || data.FileID == "" {
		return fmt.Errorf("ingest message missing case or file id")
	}

	cases := db.NewCaseStore(conn)

	file, err := cases.GetCaseFile(ctx, data.FileID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// case was deleted while the job waited; nothing left to do
			logger.Warn("[Queue] Dropping ingest job for missing file", "case_id", data.CaseID, "file_id", data.FileID)
			return nil
		}
		return err
	}

	content, err := storage.GetFile(ctx, s3Client, file.FileKey)
	if err != nil {
		return err
	}

	text, err := extract.TextFromFile(file.Name, content)
	if err != nil {
		if extract.IsUnsupportedFormat(err) {
			logger.Warn("[Queue] Unsupported file format", "case_id", data.CaseID, "file", file.Name)
			return markFileFailed(cases, data.FileID)
		}
		return err
	}

	result, err := coordinator.Ingest(ctx, data.CaseID, text, nil)
	if err != nil {
		if graph.IsValidationError(err) {
			// empty document; permanent, not worth a retry
			logger.Warn("[Queue] Nothing to ingest from file", "case_id", data.CaseID, "file", file.Name)
			return markFileFailed(cases, data.FileID)
		}
		return err
	}

	if _, err := cases.AddMessage(ctx, db.AddMessageParams{
		CaseID:  data.CaseID,
		Role:    "user",
		Content: fmt.Sprintf("Uploaded document: %s", file.Name),
	}); err != nil {
		logger.Error("[Queue] Failed to record upload message", "case_id", data.CaseID, "err", err)
	}
	if _, err := cases.AddMessage(ctx, db.AddMessageParams{
		CaseID:  data.CaseID,
		Role:    "assistant",
		Content: result.Assistant,
	}); err != nil {
		logger.Error("[Queue] Failed to record assistant message", "case_id", data.CaseID, "err", err)
	}
	if err := cases.TouchCase(ctx, data.CaseID); err != nil {
		logger.Warn("[Queue] Failed to touch case", "case_id", data.CaseID, "err", err)
	}
	if err := cases.SetCaseFileStatus(ctx, data.FileID, db.FileStatusProcessed); err != nil {
		logger.Error("[Queue] Failed to mark file processed", "case_id", data.CaseID, "file_id", data.FileID, "err", err)
	}

	event := CaseEventMsg{
		CaseID:       data.CaseID,
		Turn:         result.Turn,
		GraphUpdated: result.GraphUpdated,
		Message:      result.Assistant,
	}
	eventBytes, err := json.Marshal(event)
	if err == nil {
		if err := PublishCaseEvent(ch, data.CaseID, eventBytes); err != nil {
			logger.Warn("[Queue] Failed to publish case event", "case_id", data.CaseID, "err", err)
		}
	}

	logger.Info("[Queue] Document ingested",
		"case_id", data.CaseID,
		"file", file.Name,
		"graph_updated", result.GraphUpdated,
	)
	return nil
}

func markFileFailed(cases *db.CaseStore, fileID string) error {
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cases.SetCaseFileStatus(updateCtx, fileID, db.FileStatusFailed)
}
