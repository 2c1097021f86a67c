package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/ghostpost/internal/api"
	"github.com/ignite/ghostpost/internal/config"
	"github.com/ignite/ghostpost/internal/contextdir"
	"github.com/ignite/ghostpost/internal/ingest"
	"github.com/ignite/ghostpost/internal/llm"
	"github.com/ignite/ghostpost/internal/mailer"
	"github.com/ignite/ghostpost/internal/notify"
	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/reply"
	"github.com/ignite/ghostpost/internal/security"
	"github.com/ignite/ghostpost/internal/store"
	"github.com/ignite/ghostpost/internal/thread"
	"github.com/ignite/ghostpost/internal/triage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}

	if err := run(*configPath); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("no database URL configured (set DATABASE_URL or database.url)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Redis going away degrades rate checks to fail-closed; still
		// refuse to start with a bad address.
		return fmt.Errorf("ping redis: %w", err)
	}

	st := store.NewStore(db)
	events := security.NewEvents(st)
	rate := security.NewRateLimiter(rdb, st, events)
	gate := security.NewGate(st, rate, events, cfg.Safety.HourlySendLimit)
	scanner := security.NewScanner(st, events)

	alerts := contextdir.NewAlertLog(filepath.Join(cfg.Context.Dir, contextdir.FileAlerts))
	changelog := contextdir.NewChangelog(filepath.Join(cfg.Context.Dir, contextdir.FileChangelog))
	projector := contextdir.NewProjector(st, alerts, cfg.Context.Dir, cfg.Safety.BodyTruncationChars)

	notifier := notify.NewDispatcher(st, rdb, alerts, changelog)
	threads := thread.NewService(st, events, notifier, cfg.Safety.DefaultFollowUpDays)

	var model llm.Client
	if cfg.Bedrock.Enabled {
		bedrock, err := llm.NewBedrockClient(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
		if err != nil {
			return fmt.Errorf("bedrock client: %w", err)
		}
		model = bedrock
	} else {
		logger.Warn("bedrock disabled, reply generation unavailable")
	}
	composer := reply.NewComposer(st, model)

	var sender mailer.Sender
	if cfg.SES.Enabled {
		ses, err := mailer.NewSESSender(ctx, cfg.SES)
		if err != nil {
			return fmt.Errorf("ses sender: %w", err)
		}
		sender = ses
	} else {
		logger.Warn("ses disabled, outbound sends recorded only")
		sender = mailer.NewFake()
	}

	pipeline := ingest.NewPipeline(st, scanner, threads, notifier, cfg.Safety.DefaultFollowUpDays)

	scheduler := ingest.NewScheduler(st, threads, projector,
		cfg.Polling.SchedulerInterval(), cfg.Polling.ProjectionInterval())
	go scheduler.Run(ctx)

	triageEngine := triage.NewEngine(st)
	server := api.NewServer(st, rdb, gate, rate, events, threads, triageEngine,
		composer, sender, projector, notifier, pipeline)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
