package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/ctilinker/internal/app"
	"github.com/OFFIS-RIT/ctilinker/internal/config"
	"github.com/OFFIS-RIT/ctilinker/internal/queue"
	"github.com/OFFIS-RIT/ctilinker/internal/server"
	mid "github.com/OFFIS-RIT/ctilinker/internal/server/middleware"
	"github.com/OFFIS-RIT/ctilinker/internal/util"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
	pgstore "github.com/OFFIS-RIT/ctilinker/pkg/store/pgx"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	closeLog, err := app.InitLogger(cfg)
	if err != nil {
		logger.Warn("Could not open log file", "path", cfg.LogFile, "err", err)
	}
	defer closeLog()

	in, out, err := app.NewStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not open storage", "err", err)
	}

	srv := &mid.App{
		Input:  in,
		Output: out,
		APIKey: cfg.APIKey,
	}
	if cfg.APIKey == "" {
		logger.Warn("API_KEY is not set, the API is unauthenticated")
	}

	pool, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	if pool != nil {
		defer pool.Close()
		srv.Index = pgstore.NewResultIndex(pool)
	}

	if cfg.RabbitMQ.Enabled() {
		conn := queue.Init(cfg.RabbitMQ.URL())
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{queue.LinkQueue}); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		srv.Queue = ch
	}

	server.Start(ctx, srv, cfg.Port)
}
