package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"classquiz-live/internal/app"
	"classquiz-live/internal/config"
	"classquiz-live/internal/domain"
	"classquiz-live/internal/infra/memory"
	infrapg "classquiz-live/internal/infra/postgres"
	infraredis "classquiz-live/internal/infra/redis"
	transport "classquiz-live/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session engine",
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

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

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
	}
	snapshotTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.ChapterLoader = memory.NewStaticChapterLoader(sampleChapters())
	if pool != nil {
		loader = infrapg.NewChapterLoader(pool)
	}

	contentTTL := config.Duration(cfg.Content.TTL, 10*time.Minute)
	var contentRepo app.ContentRepository
	if redisClient != nil {
		contentRepo = infraredis.NewContentRepository(redisClient, loader, contentTTL)
	} else {
		contentRepo = memory.NewContentRepository(loader, contentTTL)
	}

	opts := app.Options{
		Durations: app.Durations{
			Countdown: config.Duration(cfg.Game.Countdown, 5*time.Second),
			Narrative: config.Duration(cfg.Game.Narrative, 30*time.Second),
			Question:  config.Duration(cfg.Game.Question, 20*time.Second),
		},
	}
	if pool != nil {
		opts.Archiver = infrapg.NewSessionArchiver(pool)
	}
	if redisClient != nil {
		opts.Sink = infraredis.NewSnapshotCache(redisClient, snapshotTTL)
	}

	serviceCtx, cancelService := context.WithCancel(ctx)
	defer cancelService()

	service := app.NewGameService(serviceCtx, clockwork.NewRealClock(), memory.NewSessionStore(), contentRepo, opts)
	apiHandler := transport.NewAPIHandler(service)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	apiHandler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting session engine")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// sampleChapters provides demo content when no postgres is configured.
func sampleChapters() map[string]domain.Chapter {
	return map[string]domain.Chapter{
		"chapter-1": {
			ID:    "chapter-1",
			Title: "The Water Cycle",
			Topics: []domain.TopicContent{
				{
					Topic: domain.Topic{
						ID:            "t1",
						SequenceIndex: 0,
						Name:          "Evaporation",
						Narrative:     "Water rises from oceans and lakes as vapor when heated by the sun.",
					},
					Questions: []domain.Question{
						{
							ID:            "q1",
							TopicID:       "t1",
							SequenceIndex: 0,
							Stem:          "What drives evaporation?",
							Options: []domain.Option{
								{Label: "A", Text: "Wind"},
								{Label: "B", Text: "Solar heat"},
								{Label: "C", Text: "Gravity"},
								{Label: "D", Text: "Tides"},
							},
							CorrectOptionLabel: "B",
						},
						{
							ID:            "q2",
							TopicID:       "t1",
							SequenceIndex: 1,
							Stem:          "Water vapor is which state of matter?",
							Options: []domain.Option{
								{Label: "A", Text: "Solid"},
								{Label: "B", Text: "Liquid"},
								{Label: "C", Text: "Gas"},
								{Label: "D", Text: "Plasma"},
							},
							CorrectOptionLabel: "C",
						},
					},
				},
			},
		},
	}
}
