package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/ctilinker/pkg/batch"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	"github.com/go-playground/validator"
)

var validate = validator.New()

// RunMessage asks a worker to process one source.
type RunMessage struct {
	Source string `json:"source" validate:"required"`
}

// SourceCompletedMsg is published once a source is committed.
type SourceCompletedMsg struct {
	Source  string        `json:"source"`
	Summary batch.Summary `json:"summary"`
}

// Runner processes sources. batch.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, only ...string) (batch.Summary, error)
}

// ParseRunMessage decodes and validates a run request.
func ParseRunMessage(body []byte) (*RunMessage, error) {
	msg := new(RunMessage)
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("decode run message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid run message: %w", err)
	}
	return msg, nil
}

// ProcessRunMessage runs the source named in body. It returns an error when
// the source should be retried later: some files failed or another process
// holds the source. Unknown and already completed sources are not errors.
func ProcessRunMessage(ctx context.Context, runner Runner, ch Channel, body []byte) error {
	msg, err := ParseRunMessage(body)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, msg.Source)
	if err != nil {
		return err
	}

	switch {
	case summary.Sources == 0:
		logger.Warn("[Queue] Source not found in input", "source", msg.Source)
		return nil
	case summary.Skipped > 0:
		logger.Info("[Queue] Source already completed", "source", msg.Source)
		return nil
	case summary.Locked > 0:
		return fmt.Errorf("source %s is locked by another process", msg.Source)
	case summary.Failed > 0:
		return fmt.Errorf("source %s has %d failed files", msg.Source, summary.Failed)
	}

	if ch != nil && summary.Completed > 0 {
		data, err := json.Marshal(SourceCompletedMsg{Source: msg.Source, Summary: summary})
		if err == nil {
			err = PublishTopic(ch, SourceCompletedTopic, data)
		}
		if err != nil {
			logger.Warn("[Queue] Failed to publish completion event", "source", msg.Source, "err", err)
		}
	}
	return nil
}
