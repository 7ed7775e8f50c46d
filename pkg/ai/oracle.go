package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/metrics"
	"github.com/OFFIS-RIT/ctilinker/internal/util"
	"github.com/OFFIS-RIT/ctilinker/pkg/common"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	linkSchemaName        = "link_prediction"
	linkSchemaDescription = "Relation between an entity of a disconnected graph part and the central entity of the report"
)

// LinkOracle infers the relation between two entities with a language model.
// Calls are throttled by a limiter shared by every goroutine using the oracle.
type LinkOracle struct {
	client   GraphAIClient
	model    string
	price    ModelPrice
	limiter  *rate.Limiter
	timeout  time.Duration
	thinking string
	backoff  util.Backoff
}

// NewLinkOracleParams configures a LinkOracle.
//
// Delay is the minimum spacing between two calls across all callers.
// Timeout bounds a single attempt. MaxTries and RetryBackoff control the
// retries after failed or unparseable answers. Thinking is passed to the
// model as its reasoning effort when set.
type NewLinkOracleParams struct {
	Client GraphAIClient
	Model  string
	Prices *PriceTable

	Delay        time.Duration
	Timeout      time.Duration
	MaxTries     int
	RetryBackoff time.Duration
	Thinking     string
}

// NewLinkOracle creates a LinkOracle. It fails with ErrUnknownModel when the
// model has no price, so a run never starts without cost accounting.
func NewLinkOracle(params NewLinkOracleParams) (*LinkOracle, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("link oracle: client is required")
	}
	price, err := params.Prices.Lookup(params.Model)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if params.Delay > 0 {
		limit = rate.Every(params.Delay)
	}

	return &LinkOracle{
		client:   params.Client,
		model:    params.Model,
		price:    price,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  params.Timeout,
		thinking: params.Thinking,
		backoff: util.Backoff{
			MaxTries: params.MaxTries,
			Initial:  params.RetryBackoff,
			Max:      30 * time.Second,
		},
	}, nil
}

// Model returns the model name reported in results.
func (o *LinkOracle) Model() string {
	return o.model
}

// Infer asks the model for the relation between req.MainNode and req.TopicNode.
// Tokens of failed attempts are included in the returned usage. Elapsed
// covers the model calls only, not the time spent waiting for the limiter.
func (o *LinkOracle) Infer(ctx context.Context, req common.LinkRequest) (common.OracleResponse, error) {
	prompt := RenderLinkPrompt(req.MainNode, req.TopicNode, req.ReportText)

	var (
		elapsed time.Duration
		tokens  ModelMetrics
	)

	b := o.backoff
	b.OnRetry = func(attempt int, err error) {
		metrics.OracleCalls.WithLabelValues("retry").Inc()
		logger.Warn("[Oracle] Retrying inference", "attempt", attempt, "main_node", req.MainNode, "err", err)
	}

	answer, err := util.RetryWithBackoff(ctx, b, func(ctx context.Context) (common.Answer, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx := ctx
		if o.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}

		opts := []GenerateOption{
			WithModel(o.model),
			WithSystemPrompts(LinkSystemPrompt),
			WithTemperature(0),
		}
		if o.thinking != "" {
			opts = append(opts, WithThinking(o.thinking))
		}

		start := time.Now()
		completion, err := o.client.GenerateCompletionWithFormat(
			callCtx,
			linkSchemaName,
			linkSchemaDescription,
			prompt,
			&LinkAnswer{},
			opts...,
		)
		elapsed += time.Since(start)
		tokens.InputTokens += completion.Metrics.InputTokens
		tokens.OutputTokens += completion.Metrics.OutputTokens
		if err != nil {
			return nil, fmt.Errorf("generate completion: %w", err)
		}

		answer, err := ParseAnswer(completion.Content)
		if err != nil {
			return nil, fmt.Errorf("parse answer: %w", err)
		}
		return answer, nil
	})

	usage := o.price.Usage(tokens.InputTokens, tokens.OutputTokens)
	metrics.OracleTokens.WithLabelValues("input").Add(float64(usage.Input.Tokens))
	metrics.OracleTokens.WithLabelValues("output").Add(float64(usage.Output.Tokens))
	metrics.OracleCost.Add(usage.Total.Cost)

	if err != nil {
		metrics.OracleCalls.WithLabelValues("error").Inc()
		return common.OracleResponse{Elapsed: elapsed, Usage: usage}, fmt.Errorf("infer link for %q: %w", req.MainNode, err)
	}

	metrics.OracleCalls.WithLabelValues("ok").Inc()
	metrics.OracleLatency.Observe(elapsed.Seconds())

	return common.OracleResponse{
		Answer:  answer,
		Elapsed: elapsed,
		Usage:   usage,
	}, nil
}
