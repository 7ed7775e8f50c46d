package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/ctilinker/internal/config"
	"github.com/OFFIS-RIT/ctilinker/pkg/ai"
	oai "github.com/OFFIS-RIT/ctilinker/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/ctilinker/pkg/ai/openai"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
	"github.com/OFFIS-RIT/ctilinker/pkg/store/fs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AIAdapter:             config.AdapterOpenAI,
		Model:                 "gpt-4o-mini",
		ChatURL:               "http://localhost:1",
		MaxConcurrentRequests: 1,
		MaxTries:              1,
		ParallelFiles:         2,
		Storage:               config.StorageFS,
		InputDir:              filepath.Join(dir, "in"),
		OutputDir:             filepath.Join(dir, "out"),
		Port:                  "8080",
	}
}

func TestNewAIClient(t *testing.T) {
	cfg := testConfig(t)

	client, err := NewAIClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &gai.GraphOpenAIClient{}, client)

	cfg.AIAdapter = config.AdapterOllama
	client, err = NewAIClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &oai.GraphOllamaClient{}, client)
}

func newClient(t *testing.T, cfg *config.Config) ai.GraphAIClient {
	t.Helper()
	client, err := NewAIClient(cfg)
	require.NoError(t, err)
	return client
}

type countingClient struct {
	ai.GraphAIClient
	resets int
}

func (c *countingClient) GetMetrics() ai.ModelMetrics {
	return ai.ModelMetrics{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}
}

func (c *countingClient) ResetMetrics() { c.resets++ }

func TestLogAIMetrics_ResetsCounters(t *testing.T) {
	client := &countingClient{}
	LogAIMetrics(client)
	LogAIMetrics(client)
	assert.Equal(t, 2, client.resets)
}

func TestNewLinker(t *testing.T) {
	cfg := testConfig(t)

	linker, err := NewLinker(cfg, newClient(t, cfg))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", linker.Model())
}

func TestNewLinker_UnknownModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model = "mystery-model"

	_, err := NewLinker(cfg, newClient(t, cfg))
	assert.True(t, errors.Is(err, ai.ErrUnknownModel))
}

func TestNewLinker_PriceOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model = "mystery-model"
	cfg.PricesFile = filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(cfg.PricesFile, []byte("models:\n  mystery-model:\n    input: 1\n    output: 2\n"), 0o644))

	_, err := NewLinker(cfg, newClient(t, cfg))
	assert.NoError(t, err)
}

func TestNewStores_FS(t *testing.T) {
	cfg := testConfig(t)

	in, out, err := NewStores(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &fs.Input{}, in)
	assert.IsType(t, &fs.Output{}, out)
}

func TestOpenDatabase_Disabled(t *testing.T) {
	pool, err := OpenDatabase(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestNewOrchestrator_WithoutDatabase(t *testing.T) {
	cfg := testConfig(t)
	in, out, err := NewStores(context.Background(), cfg)
	require.NoError(t, err)
	linker, err := NewLinker(cfg, newClient(t, cfg))
	require.NoError(t, err)

	o, err := NewOrchestrator(NewOrchestratorParams{
		Config:    cfg,
		Input:     in,
		Output:    out,
		Predictor: linker,
	})
	require.NoError(t, err)

	pending, err := o.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInitLogger_File(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "linker.log")

	closeLog, err := InitLogger(cfg)
	require.NoError(t, err)
	logger.Info("[Test] hello", "k", "v")
	closeLog()

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] hello")
}
