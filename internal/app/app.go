package app

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/config"
	"github.com/OFFIS-RIT/ctilinker/pkg/ai"
	oai "github.com/OFFIS-RIT/ctilinker/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/ctilinker/pkg/ai/openai"
	"github.com/OFFIS-RIT/ctilinker/pkg/batch"
	"github.com/OFFIS-RIT/ctilinker/pkg/graph"
	"github.com/OFFIS-RIT/ctilinker/pkg/leaselock"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger/console"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger/file"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"
	"github.com/OFFIS-RIT/ctilinker/pkg/store/fs"
	pgstore "github.com/OFFIS-RIT/ctilinker/pkg/store/pgx"
	s3store "github.com/OFFIS-RIT/ctilinker/pkg/store/s3"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitLogger sets up console logging and, when LOG_FILE is set, a JSON log
// file. The returned function closes the file.
func InitLogger(cfg *config.Config) (func(), error) {
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: cfg.Debug,
	})
	if cfg.LogFile == "" {
		logger.Init(consoleLogger)
		return func() {}, nil
	}

	fileLogger, err := file.NewFileLogger(file.FileLoggerParams{
		Path:  cfg.LogFile,
		Debug: cfg.Debug,
	})
	if err != nil {
		logger.Init(consoleLogger)
		return func() {}, err
	}
	logger.Init(consoleLogger, fileLogger)
	return func() { _ = fileLogger.Close() }, nil
}

// NewAIClient creates the chat client of the configured adapter.
func NewAIClient(cfg *config.Config) (ai.GraphAIClient, error) {
	switch cfg.AIAdapter {
	case config.AdapterOllama:
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			Model:                 cfg.Model,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			MaxConcurrentRequests: int64(cfg.MaxConcurrentRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			Model:   cfg.Model,
			ChatURL: cfg.ChatURL,
			ChatKey: cfg.ChatKey,
		}), nil
	}
}

// LogAIMetrics logs the model usage of client since the previous call and
// resets its counters.
func LogAIMetrics(client ai.GraphAIClient) {
	m := client.GetMetrics()
	client.ResetMetrics()
	logger.Info(
		"[AI] Model usage",
		"input_tokens", m.InputTokens,
		"output_tokens", m.OutputTokens,
		"total_tokens", m.TotalTokens,
		"duration", time.Duration(m.DurationMs)*time.Millisecond,
	)
}

// NewLinker creates a Linker backed by a throttled LinkOracle on client. It
// fails with ai.ErrUnknownModel when the configured model has no price.
func NewLinker(cfg *config.Config, client ai.GraphAIClient) (*graph.Linker, error) {
	prices, err := ai.LoadPrices(cfg.PricesFile)
	if err != nil {
		return nil, err
	}

	oracle, err := ai.NewLinkOracle(ai.NewLinkOracleParams{
		Client:       client,
		Model:        cfg.Model,
		Prices:       prices,
		Delay:        cfg.OracleDelay,
		Timeout:      cfg.OracleTimeout,
		MaxTries:     cfg.MaxTries,
		RetryBackoff: cfg.RetryBackoff,
		Thinking:     cfg.Thinking,
	})
	if err != nil {
		return nil, err
	}

	return graph.NewLinker(graph.NewLinkerParams{Oracle: oracle})
}

// NewStores opens the input and output trees of the configured backend.
func NewStores(ctx context.Context, cfg *config.Config) (store.Input, store.Output, error) {
	if cfg.Storage != config.StorageS3 {
		return fs.NewInput(cfg.InputDir), fs.NewOutput(cfg.OutputDir), nil
	}

	client, err := s3store.NewClient(ctx, s3store.ClientParams{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
	if err != nil {
		return nil, nil, err
	}
	return s3store.NewInput(client, cfg.S3.Bucket, cfg.InputPrefix),
		s3store.NewOutput(client, cfg.S3.Bucket, cfg.OutputPrefix),
		nil
}

// OpenDatabase applies the migrations and connects to DATABASE_URL. It
// returns a nil pool when no database is configured.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewOrchestratorParams collects what an Orchestrator is built from. Pool is
// optional and enables source locking and the result index. WaitForLock
// makes a run block on a source another process holds instead of skipping it.
type NewOrchestratorParams struct {
	Config      *config.Config
	Input       store.Input
	Output      store.Output
	Predictor   batch.Predictor
	Pool        *pgxpool.Pool
	WaitForLock bool
}

// NewOrchestrator wires an Orchestrator from params.
func NewOrchestrator(params NewOrchestratorParams) (*batch.Orchestrator, error) {
	p := batch.NewOrchestratorParams{
		Input:         params.Input,
		Output:        params.Output,
		Predictor:     params.Predictor,
		ParallelFiles: params.Config.ParallelFiles,
		WaitForLock:   params.WaitForLock,
	}
	if params.Pool != nil {
		p.Locker = leaselock.New(params.Pool, leaselock.Options{
			TTL:         params.Config.LockTTL,
			RenewEvery:  params.Config.LockTTL / 3,
			TokenPrefix: "linker-",
			// Only used when WaitForLock is set.
			WaitInterval: time.Second,
			WaitJitter:   250 * time.Millisecond,
		})
		p.Index = pgstore.NewResultIndex(params.Pool)
	}
	return batch.NewOrchestrator(p)
}
