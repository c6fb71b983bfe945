package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/live"
	"github.com/casetrail/backend/internal/queue"
	mid "github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/internal/storage"
	"github.com/casetrail/backend/internal/util"
	"github.com/casetrail/backend/pkg/ai"
	oai "github.com/casetrail/backend/pkg/ai/ollama"
	gai "github.com/casetrail/backend/pkg/ai/openai"
	"github.com/casetrail/backend/pkg/caselock"
	"github.com/casetrail/backend/pkg/graph"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rabbitmq/amqp091-go"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(
		util.GetEnvString("MIGRATIONS_URL", "file://migrations"),
		util.GetEnv("DATABASE_URL"),
	); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := db.Connect(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	s3 := storage.NewS3Client(ctx)

	aiClient := NewAIClient()

	store := graph.NewStore()
	orch := graph.NewOrchestrator(graph.NewOrchestratorParams{
		Store:  store,
		Client: aiClient,
	})
	coordinator := graph.NewCoordinator(graph.NewCoordinatorParams{
		Store:     store,
		Orch:      orch,
		Snapshots: db.NewGraphStateStore(conn),
		Locker:    caselock.NewLocker(caselock.New(conn), caselock.Options{}),
	})

	hub := live.NewHub()
	go consumeCaseEvents(ctx, que, hub)

	masterAPIKey := util.GetEnv("MASTER_API_KEY")
	masterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	masterUserRole := util.GetEnv("MASTER_USER_ROLE")

	e.Use(mid.AppContextMiddleware(&mid.App{
		DBConn:         conn,
		Queue:          ch,
		Key:            &k,
		S3:             s3,
		AiClient:       aiClient,
		Coordinator:    coordinator,
		Hub:            hub,
		MasterAPIKey:   masterAPIKey,
		MasterUserID:   masterUserID,
		MasterUserRole: masterUserRole,
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1G"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// NewAIClient builds the model client selected by AI_ADAPTER. Shared by
// the API server and the ingest worker.
func NewAIClient() ai.CaseAIClient {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := oai.NewCaseOllamaClient(oai.NewCaseOllamaClientParams{
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			AnalysisModel:   util.GetEnv("AI_ANALYSIS_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewCaseOpenAIClient(gai.NewCaseOpenAIClientParams{
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),
			AnalysisModel:   util.GetEnv("AI_ANALYSIS_MODEL"),

			ChatURL: util.GetEnv("AI_CHAT_URL"),
			ChatKey: util.GetEnv("AI_CHAT_KEY"),
		})
	}
}

// consumeCaseEvents forwards case-update events from the events exchange to
// the local websocket hub. Reconnects are left to process supervision; a
// lost channel only degrades live updates.
func consumeCaseEvents(ctx context.Context, conn *amqp091.Connection, hub *live.Hub) {
	ch, err := conn.Channel()
	if err != nil {
		logger.Error("Failed to open events channel", "err", err)
		return
	}
	defer ch.Close()

	deliveries, err := queue.SubscribeCaseEvents(ch)
	if err != nil {
		logger.Error("Failed to subscribe to case events", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				logger.Warn("Case events channel closed")
				return
			}
			var event queue.CaseEventMsg
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				logger.Warn("Dropping malformed case event", "err", err)
				continue
			}
			hub.Broadcast(event.CaseID, msg.Body)
		}
	}
}
