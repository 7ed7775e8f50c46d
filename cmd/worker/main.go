package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/app"
	"github.com/OFFIS-RIT/ctilinker/internal/config"
	"github.com/OFFIS-RIT/ctilinker/internal/queue"
	"github.com/OFFIS-RIT/ctilinker/internal/util"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
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

	// logger
	closeLog, err := app.InitLogger(cfg)
	if err != nil {
		logger.Warn("Could not open log file", "path", cfg.LogFile, "err", err)
	}
	defer closeLog()

	if !cfg.RabbitMQ.Enabled() {
		logger.Fatal("RABBITMQ_HOST is required for the worker")
	}

	client, err := app.NewAIClient(cfg)
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}
	linker, err := app.NewLinker(cfg, client)
	if err != nil {
		logger.Fatal("Could not create linker", "err", err)
	}
	in, out, err := app.NewStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not open storage", "err", err)
	}
	pool, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	orchestrator, err := app.NewOrchestrator(app.NewOrchestratorParams{
		Config:    cfg,
		Input:     in,
		Output:    out,
		Predictor: linker,
		Pool:      pool,
		// Queue a second run behind the one holding the source.
		WaitForLock: true,
	})
	if err != nil {
		logger.Fatal("Could not create orchestrator", "err", err)
	}

	// Init rabbitmq
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

	// One message at a time; parallelism happens inside a source.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.LinkQueue,
		queue.LinkQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.LinkQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.LinkQueue, "model", linker.Model())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.LinkQueue)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queue.LinkQueue)

			if err := queue.ProcessRunMessage(ctx, orchestrator, ch, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queue.LinkQueue, "err", err)
				if ctx.Err() != nil {
					// Leave the message to the next worker.
					_ = msg.Nack(false, true)
					return
				}
				queue.HandleProcessingError(consumerCh, msg, queue.LinkQueue)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.LinkQueue)
			}

			processingDuration := time.Since(startTime)
			hours := int(processingDuration.Hours())
			minutes := int(processingDuration.Minutes()) % 60
			seconds := int(processingDuration.Seconds()) % 60
			logger.Info(
				"Processing time",
				"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
			)
			app.LogAIMetrics(client)
			logger.Info("Waiting for next message")
		}
	}
}
