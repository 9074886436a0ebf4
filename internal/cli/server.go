package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/auth"
	"quiz-match-service/internal/config"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/infra/memory"
	pginfra "quiz-match-service/internal/infra/postgres"
	redisinfra "quiz-match-service/internal/infra/redis"
	transport "quiz-match-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the match server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
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
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	var results app.ResultRecorder = memory.NewResultRecorder()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pginfra.NewQuizLoader(pool)

		db := openBunDB(cfg.Postgres.URL)
		defer db.Close()
		results = pginfra.NewResultRecorder(db)
	} else {
		logger.Warn("postgres not configured, serving the built-in sample quiz with in-memory results")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var store app.MatchStore
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
		leases := redisinfra.NewMatchStore(redisClient, redisTTL)
		go leases.KeepLeases(ctx, redisTTL/3, logger)
		store = leases
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		store = memory.NewMatchStore()
	}

	hub := transport.NewHub(cfg.Server.OutboundBuffer, logger)
	service := app.NewMatchService(store, quizRepo, results, hub,
		app.WithLogger(logger),
		app.WithTiming(cfg.Timing()),
		app.WithScoring(cfg.Scoring()),
		app.WithCodeGenerator(app.RandomCodes(cfg.CodeLength())),
	)

	var verifier transport.HostAuthenticator
	if cfg.Auth.Secret != "" {
		verifier = auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	} else {
		logger.Warn("auth.secret not configured, nobody can create matches")
	}
	wsHandler := transport.NewWSHandler(service, hub, verifier, logger)
	router := transport.NewRouter(wsHandler, service, transport.RouterConfig{
		PublicURL:      cfg.Server.PublicURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting match service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes provides a minimal quiz when no database is configured.
func sampleQuizzes() map[domain.ID]domain.Quiz {
	return map[domain.ID]domain.Quiz{
		1: {
			ID:    1,
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:        1,
					Text:      "What is 2 + 2?",
					TimeLimit: 15,
					Options: []domain.AnswerOption{
						{ID: 1, Text: "3"},
						{ID: 2, Text: "4", Correct: true},
						{ID: 3, Text: "5"},
					},
				},
				{
					ID:        2,
					Text:      "Which planet is closest to the sun?",
					TimeLimit: 15,
					Options: []domain.AnswerOption{
						{ID: 4, Text: "Mercury", Correct: true},
						{ID: 5, Text: "Venus"},
						{ID: 6, Text: "Mars"},
					},
				},
			},
		},
	}
}
