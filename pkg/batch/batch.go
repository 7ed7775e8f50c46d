package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/metrics"
	"github.com/OFFIS-RIT/ctilinker/pkg/common"
	"github.com/OFFIS-RIT/ctilinker/pkg/graph"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"

	"golang.org/x/sync/errgroup"
)

// LockPrefix is prepended to source names to form lock keys.
const LockPrefix = "lp:source:"

// Predictor runs link prediction for one record.
type Predictor interface {
	PredictLinks(ctx context.Context, rec *common.Record) (*common.LinkPredictionResult, error)
}

// Locker keeps two processes from working on the same source. TryLock
// reports ok false when the key is held elsewhere, Lock waits for it.
// lockCtx is canceled if the lock is lost.
type Locker interface {
	TryLock(ctx context.Context, key string) (lockCtx context.Context, release func(), ok bool, err error)
	Lock(ctx context.Context, key string) (lockCtx context.Context, release func(), err error)
}

// Summary counts what a run did.
type Summary struct {
	Sources   int `json:"sources"`   // sources found in the input
	Skipped   int `json:"skipped"`   // already completed before the run
	Completed int `json:"completed"` // committed by this run
	Locked    int `json:"locked"`    // held by another process
	Files     int `json:"files"`
	Written   int `json:"written"`
	Resumed   int `json:"resumed"` // result left by an earlier run
	Failed    int `json:"failed"`  // retried on the next run
	Invalid   int `json:"invalid"` // never produce output, not retried
}

func (s *Summary) add(o Summary) {
	s.Skipped += o.Skipped
	s.Completed += o.Completed
	s.Locked += o.Locked
	s.Files += o.Files
	s.Written += o.Written
	s.Resumed += o.Resumed
	s.Failed += o.Failed
	s.Invalid += o.Invalid
}

// Orchestrator runs link prediction over every pending source of an input
// tree and mirrors the results into an output tree.
//
// A source counts as completed once it is committed in the output. Results
// of single files are kept in the partial area of the output, so a source
// that failed halfway only reprocesses its failed files on the next run.
type Orchestrator struct {
	input     store.Input
	output    store.Output
	predictor Predictor
	locker    Locker
	index     store.ResultIndex
	parallel  int
	wait      bool
}

// NewOrchestratorParams configures an Orchestrator.
//
// Locker and Index are optional. ParallelFiles bounds the files of one
// source processed at the same time and defaults to 1. With WaitForLock a
// source held by another process is waited for instead of counted as Locked.
type NewOrchestratorParams struct {
	Input     store.Input
	Output    store.Output
	Predictor Predictor
	Locker    Locker
	Index     store.ResultIndex

	ParallelFiles int
	WaitForLock   bool
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(params NewOrchestratorParams) (*Orchestrator, error) {
	if params.Input == nil || params.Output == nil {
		return nil, errors.New("orchestrator needs an input and an output")
	}
	if params.Predictor == nil {
		return nil, errors.New("orchestrator needs a predictor")
	}
	parallel := params.ParallelFiles
	if parallel <= 0 {
		parallel = 1
	}
	return &Orchestrator{
		input:     params.Input,
		output:    params.Output,
		predictor: params.Predictor,
		locker:    params.Locker,
		index:     params.Index,
		parallel:  parallel,
		wait:      params.WaitForLock,
	}, nil
}

// Pending returns the input sources that are not completed yet.
func (o *Orchestrator) Pending(ctx context.Context) ([]string, error) {
	all, err := o.input.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list input sources: %w", err)
	}
	completed, err := o.output.CompletedSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completed sources: %w", err)
	}
	return store.Pending(all, completed), nil
}

// Run processes every pending source, or only the named ones when only is
// given. The set of completed sources is read once at the start. Failures of
// single files or sources are logged and counted; Run only returns an error
// when the input or output cannot be listed or ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context, only ...string) (Summary, error) {
	var summary Summary
	start := time.Now()

	all, err := o.input.ListSources(ctx)
	if err != nil {
		return summary, fmt.Errorf("list input sources: %w", err)
	}
	if len(only) > 0 {
		all = selectSources(all, only)
	}
	summary.Sources = len(all)

	completed, err := o.output.CompletedSources(ctx)
	if err != nil {
		return summary, fmt.Errorf("list completed sources: %w", err)
	}
	pending := store.Pending(all, completed)
	summary.Skipped = len(all) - len(pending)
	metrics.Sources.WithLabelValues("skipped").Add(float64(summary.Skipped))

	logger.Info("[Batch] Starting run", "sources", len(all), "pending", len(pending), "skipped", summary.Skipped)

	for _, source := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s, err := o.processSource(ctx, source)
		summary.add(s)
		if err != nil {
			metrics.Sources.WithLabelValues("failed").Inc()
			logger.Error("[Batch] Source failed", "source", source, "err", err)
		}
	}

	logger.Info(
		"[Batch] Run finished",
		"completed", summary.Completed,
		"written", summary.Written,
		"resumed", summary.Resumed,
		"failed", summary.Failed,
		"locked", summary.Locked,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return summary, ctx.Err()
}

func (o *Orchestrator) committed(ctx context.Context, source string) (bool, error) {
	completed, err := o.output.CompletedSources(ctx)
	if err != nil {
		return false, fmt.Errorf("list completed sources: %w", err)
	}
	return slices.Contains(completed, source), nil
}

func selectSources(all, only []string) []string {
	known := make(map[string]struct{}, len(all))
	for _, s := range all {
		known[s] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(only))
	for _, s := range only {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := known[s]; !ok {
			logger.Warn("[Batch] Unknown source requested", "source", s)
			continue
		}
		out = append(out, s)
	}
	return out
}

type fileStatus int

const (
	fileWritten fileStatus = iota
	fileResumed
	fileFailed
	fileInvalid
)

// permanent reports whether err comes from the file content itself, so
// retrying the file cannot succeed.
func permanent(err error) bool {
	return errors.Is(err, common.ErrInvalidRecord) || errors.Is(err, graph.ErrNoMainNode)
}

func (o *Orchestrator) processSource(ctx context.Context, source string) (Summary, error) {
	var summary Summary

	if o.locker != nil {
		key := LockPrefix + source
		lockCtx, release, ok, err := o.locker.TryLock(ctx, key)
		if err != nil {
			return summary, fmt.Errorf("lock source: %w", err)
		}
		waited := false
		if !ok && o.wait {
			logger.Info("[Batch] Waiting for source lock", "source", source)
			lockCtx, release, err = o.locker.Lock(ctx, key)
			if err != nil {
				return summary, fmt.Errorf("wait for source lock: %w", err)
			}
			ok, waited = true, true
		}
		if !ok {
			summary.Locked++
			metrics.Sources.WithLabelValues("locked").Inc()
			logger.Info("[Batch] Source is locked by another process", "source", source)
			return summary, nil
		}
		defer release()
		ctx = lockCtx

		// The previous holder may have committed the source meanwhile.
		if waited {
			done, err := o.committed(ctx, source)
			if err != nil {
				return summary, err
			}
			if done {
				summary.Skipped++
				metrics.Sources.WithLabelValues("skipped").Inc()
				logger.Info("[Batch] Source was completed while waiting", "source", source)
				return summary, nil
			}
		}
	}

	files, err := o.input.ListFiles(ctx, source)
	if err != nil {
		return summary, fmt.Errorf("list files: %w", err)
	}
	summary.Files = len(files)

	logger.Debug("[Batch] Processing source", "source", source, "files", len(files))

	var mu sync.Mutex
	g := errgroup.Group{}
	g.SetLimit(o.parallel)
	for _, file := range files {
		g.Go(func() error {
			status := o.processFile(ctx, source, file)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case fileWritten:
				summary.Written++
			case fileResumed:
				summary.Resumed++
			case fileInvalid:
				summary.Invalid++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Failed > 0 {
		logger.Warn("[Batch] Source left pending", "source", source, "failed", summary.Failed, "files", len(files))
		return summary, nil
	}

	if err := o.output.Commit(ctx, source); err != nil {
		return summary, err
	}
	summary.Completed++
	metrics.Sources.WithLabelValues("committed").Inc()
	logger.Info(
		"[Batch] Source completed",
		"source", source,
		"files", len(files),
		"written", summary.Written,
		"resumed", summary.Resumed,
		"invalid", summary.Invalid,
	)
	return summary, nil
}

func (o *Orchestrator) processFile(ctx context.Context, source, file string) fileStatus {
	if ctx.Err() != nil {
		metrics.Files.WithLabelValues("failed").Inc()
		return fileFailed
	}

	done, err := o.output.HasPartial(ctx, source, file)
	if err != nil {
		logger.Error("[Batch] Failed to check partial result", "source", source, "file", file, "err", err)
		metrics.Files.WithLabelValues("failed").Inc()
		return fileFailed
	}
	if done {
		logger.Debug("[Batch] Reusing result of earlier run", "source", source, "file", file)
		metrics.Files.WithLabelValues("resumed").Inc()
		return fileResumed
	}

	start := time.Now()
	res, err := o.predictFile(ctx, source, file)
	if err != nil && ctx.Err() == nil && permanent(err) {
		logger.Error("[Batch] Skipping invalid file", "source", source, "file", file, "err", err)
		metrics.Files.WithLabelValues("invalid").Inc()
		return fileInvalid
	}
	if err != nil {
		logger.Error("[Batch] File failed", "source", source, "file", file, "err", err)
		metrics.Files.WithLabelValues("failed").Inc()
		return fileFailed
	}

	if o.index != nil {
		if err := o.index.SaveResult(ctx, source, file, res); err != nil {
			logger.Warn("[Batch] Failed to index result", "source", source, "file", file, "err", err)
		}
	}

	metrics.Files.WithLabelValues("written").Inc()
	logger.Debug(
		"[Batch] File done",
		"source", source,
		"file", file,
		"links", len(res.PredictedLinks),
		"hallucinations", res.Hallucinations(),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return fileWritten
}

// predictFile writes the output record of one file. Nothing is written when
// any step fails or ctx is canceled before the write.
func (o *Orchestrator) predictFile(ctx context.Context, source, file string) (*common.LinkPredictionResult, error) {
	data, err := o.input.Read(ctx, source, file)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	rec, err := common.ParseRecord(data)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}

	res, err := o.predictor.PredictLinks(ctx, rec)
	if err != nil {
		return nil, err
	}

	out, err := rec.MarshalWithResult(res)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.output.WritePartial(ctx, source, file, out); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return res, nil
}
