package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomid "github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tesselab/ariadne/internal/queue"
	mid "github.com/tesselab/ariadne/internal/server/middleware"
	"github.com/tesselab/ariadne/internal/util"
	oai "github.com/tesselab/ariadne/pkg/ai/openai"
	"github.com/tesselab/ariadne/pkg/logger"
	"github.com/tesselab/ariadne/pkg/query"
	graphstorage "github.com/tesselab/ariadne/pkg/store/pgx"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	runMigrations(databaseURL)

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues()); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	aiClient := oai.NewGraphOpenAIClient(oai.NewGraphOpenAIClientParams{
		EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
		ChatModel:      util.GetEnv("AI_CHAT_MODEL"),

		EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
		EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		ChatURL:      util.GetEnv("AI_CHAT_URL"),
		ChatKey:      util.GetEnv("AI_CHAT_KEY"),

		CallTimeout: time.Duration(util.GetEnvNumeric("AI_CALL_TIMEOUT_SEC", 60)) * time.Second,
	})

	st := graphstorage.NewGraphDBStorage(conn)
	engine := query.NewEngine(st, aiClient,
		query.WithCommunityLevel(int(util.GetEnvNumeric("QUERY_COMMUNITY_LEVEL", 0))),
		query.WithVectorWeight(util.GetEnvNumeric("QUERY_VECTOR_WEIGHT_PCT", 60)/100),
		query.WithMaxHops(int(util.GetEnvNumeric("QUERY_MAX_HOPS", 3))),
		query.WithTimeBudget(time.Duration(util.GetEnvNumeric("QUERY_TIME_BUDGET_SEC", 120))*time.Second),
		query.WithCache(
			time.Duration(util.GetEnvNumeric("QUERY_CACHE_TTL_SEC", 30))*time.Second,
			int(util.GetEnvNumeric("QUERY_CACHE_ENTRIES", 256)),
		),
	)

	app := &mid.App{
		Store:  st,
		Engine: engine,
		Queue:  ch,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(echomid.CORS())
	e.Use(echomid.Logger())
	e.Use(echomid.Recover())
	e.Use(echomid.BodyLimit("8M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// runMigrations applies pending schema migrations before the pool opens.
func runMigrations(databaseURL string) {
	path := util.GetEnvString("MIGRATIONS_PATH", "migrations")
	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		logger.Fatal("Failed to init migrations", "err", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("No pending migrations")
			return
		}
		logger.Fatal("Failed to run migrations", "err", err)
	}
	logger.Info("Applied schema migrations")
}
