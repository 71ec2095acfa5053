package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/config"
	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/infra/memory"
	"quiz-arena-service/internal/infra/natsbus"
	"quiz-arena-service/internal/infra/postgres"
	infraredis "quiz-arena-service/internal/infra/redis"
	transport "quiz-arena-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz arena server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level, cfg.Log.Pretty)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = postgres.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var sessions app.SessionRegistry = memory.NewSessionRegistry()
	if redisClient != nil {
		sessions = infraredis.NewSessionRegistry(redisClient, redisTTL, nodeID())
	}

	var store app.SnapshotStore = memory.NewSnapshotStore()
	switch {
	case db != nil:
		store = postgres.NewSnapshotStore(db)
	case redisClient != nil:
		store = infraredis.NewSnapshotStore(redisClient, cfg.SnapshotRetention())
	}

	var rewarder *app.Rewarder
	if db != nil {
		rewarder = app.NewRewarder(postgres.NewUserStore(db), postgres.NewBadgeStore(db))
	} else {
		rewarder = app.NewRewarder(memory.NewUserStore(), memory.NewBadgeStore())
	}

	hub := transport.NewHub()
	var events app.Broadcaster = hub
	if cfg.NATS.URL != "" {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		if cfg.NATS.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		}
		nc, err := natsbus.Connect(natsCfg)
		if err != nil {
			return err
		}
		defer nc.Drain()
		events = app.FanOut{hub, natsbus.NewEventPublisher(nc, natsCfg.SubjectPrefix)}
	}

	service := app.NewGameService(sessions, quizRepo, store, rewarder, events, app.WithConfig(gameConfig(cfg)))

	wsCfg := transport.DefaultConfig()
	wsCfg.AuthTimeout = config.TTLDuration(cfg.Game.AuthTimeout, wsCfg.AuthTimeout)
	wsCfg.CheckOrigin = transport.OriginChecker(cfg.Server.AllowedOrigins)
	router := transport.NewRouter(service, transport.NewWSHandler(service, hub, wsCfg), cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz arena")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func gameConfig(cfg config.Config) app.Config {
	game := app.DefaultConfig()
	game.QuestionTime = config.TTLDuration(cfg.Game.QuestionTime, game.QuestionTime)
	game.ResultPause = config.TTLDuration(cfg.Game.ResultPause, game.ResultPause)
	game.CompletionGrace = config.TTLDuration(cfg.Game.CompletionGrace, game.CompletionGrace)
	if cfg.Game.DefaultBonusXP > 0 {
		game.DefaultBonusXP = cfg.Game.DefaultBonusXP
	}
	if cfg.Game.WinnerBadge != "" {
		game.WinnerBadge = cfg.Game.WinnerBadge
	}
	return game
}

// nodeID names this process in Redis liveness markers.
func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host
}

// sampleQuizzes backs the static loader when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4"},
				{Prompt: "Which planet is known as the red planet?", Options: []string{"Venus", "Mars", "Jupiter"}, CorrectOption: "Mars"},
				{Prompt: "What is the capital of Japan?", Options: []string{"Osaka", "Kyoto", "Tokyo"}, CorrectOption: "Tokyo"},
			},
		},
	}
}
