package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
	"github.com/OFFIS-RIT/ctilinker/pkg/graph"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"
	"github.com/OFFIS-RIT/ctilinker/pkg/store/fs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `{
  "CTI": {"text": "APT28 uses X-Agent. Zebrocy targets Windows."},
  "EA": {"aligned_triplets": [
    {"subject": {"entity_id": 1, "mention_text": "APT28"}, "predicate": "uses", "object": {"entity_id": 2, "mention_text": "X-Agent"}},
    {"subject": {"entity_id": 3, "mention_text": "Zebrocy"}, "predicate": "targets", "object": {"entity_id": 4, "mention_text": "Windows"}}
  ]}
}`

// fakePredictor returns an empty result and fails for the files in failOn.
type fakePredictor struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
}

func (p *fakePredictor) PredictLinks(ctx context.Context, rec *common.Record) (*common.LinkPredictionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn[rec.CTI.Text] {
		return nil, errors.New("oracle unavailable")
	}
	return &common.LinkPredictionResult{
		PredictedLinks: []common.PredictedEdge{},
		Model:          "fake",
		MainNodes:      []common.NodeRef{},
		Subgraphs:      [][]common.EntityID{},
	}, nil
}

func (p *fakePredictor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// countingOutput counts writes and commits of the wrapped output.
type countingOutput struct {
	store.Output
	mu      sync.Mutex
	writes  int
	commits int
}

func (c *countingOutput) WritePartial(ctx context.Context, source, file string, data []byte) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Output.WritePartial(ctx, source, file, data)
}

func (c *countingOutput) Commit(ctx context.Context, source string) error {
	c.mu.Lock()
	c.commits++
	c.mu.Unlock()
	return c.Output.Commit(ctx, source)
}

// fakeLocker reports the keys in held as taken. Lock runs whileHeld, which
// stands in for the other holder, and then hands the key over.
type fakeLocker struct {
	held      map[string]bool
	released  []string
	waited    []string
	whileHeld func(key string)
}

func (l *fakeLocker) TryLock(ctx context.Context, key string) (context.Context, func(), bool, error) {
	if l.held[key] {
		return nil, nil, false, nil
	}
	return ctx, func() { l.released = append(l.released, key) }, true, nil
}

func (l *fakeLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	l.waited = append(l.waited, key)
	if l.held[key] && l.whileHeld != nil {
		l.whileHeld(key)
	}
	delete(l.held, key)
	return ctx, func() { l.released = append(l.released, key) }, nil
}

type memoryIndex struct {
	mu    sync.Mutex
	saved []string
}

func (m *memoryIndex) SaveResult(ctx context.Context, source, file string, res *common.LinkPredictionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, source+"/"+file)
	return nil
}

func recordWithText(text string) string {
	return `{"CTI":{"text":"` + text + `"},"EA":{"aligned_triplets":[]}}`
}

func writeInput(t *testing.T, root, source, file, content string) {
	t.Helper()
	path := filepath.Join(root, source, filepath.FromSlash(file))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type fixture struct {
	inRoot, outRoot string
	output          *countingOutput
	predictor       *fakePredictor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		inRoot:    filepath.Join(dir, "in"),
		outRoot:   filepath.Join(dir, "out"),
		predictor: &fakePredictor{failOn: map[string]bool{}},
	}
	f.output = &countingOutput{Output: fs.NewOutput(f.outRoot)}
	return f
}

func (f *fixture) orchestrator(t *testing.T, params NewOrchestratorParams) *Orchestrator {
	t.Helper()
	params.Input = fs.NewInput(f.inRoot)
	params.Output = f.output
	if params.Predictor == nil {
		params.Predictor = f.predictor
	}
	o, err := NewOrchestrator(params)
	require.NoError(t, err)
	return o
}

func TestRun_ProcessesAndCommitsSources(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))
	writeInput(t, f.inRoot, "s1", "nested/b.json", recordWithText("b"))
	writeInput(t, f.inRoot, "s2", "c.json", recordWithText("c"))
	writeInput(t, f.inRoot, "s2", "notes.txt", "ignored")

	index := &memoryIndex{}
	o := f.orchestrator(t, NewOrchestratorParams{ParallelFiles: 4, Index: index})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Sources: 2, Completed: 2, Files: 3, Written: 3}, summary)
	assert.Equal(t, 3, f.output.writes)
	assert.ElementsMatch(t, []string{"s1/a.json", "s1/nested/b.json", "s2/c.json"}, index.saved)

	data, err := os.ReadFile(filepath.Join(f.outRoot, "s1", "nested", "b.json"))
	require.NoError(t, err)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Contains(t, out, "CTI")
	assert.Contains(t, out, "EA")
	assert.Contains(t, out, "LP")

	_, err = os.Stat(filepath.Join(f.outRoot, store.PartialDir, "s1"))
	assert.True(t, os.IsNotExist(err), "partial area is moved on commit")
}

func TestRun_SecondRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))
	writeInput(t, f.inRoot, "s2", "b.json", recordWithText("b"))

	o := f.orchestrator(t, NewOrchestratorParams{})
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	writes, commits, calls := f.output.writes, f.output.commits, f.predictor.callCount()

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Sources: 2, Skipped: 2}, summary)
	assert.Equal(t, writes, f.output.writes, "no additional writes")
	assert.Equal(t, commits, f.output.commits)
	assert.Equal(t, calls, f.predictor.callCount(), "no additional predictions")
}

func TestRun_FailedFilesAreRetriedOnNextRun(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))
	writeInput(t, f.inRoot, "s1", "b.json", recordWithText("b"))
	f.predictor.failOn["b"] = true

	o := f.orchestrator(t, NewOrchestratorParams{})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Sources: 1, Files: 2, Written: 1, Failed: 1}, summary)

	pending, err := o.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, pending, "source with a failed file stays pending")

	_, err = os.Stat(filepath.Join(f.outRoot, store.PartialDir, "s1", "b.json"))
	assert.True(t, os.IsNotExist(err), "failed file leaves no output")

	delete(f.predictor.failOn, "b")
	calls := f.predictor.callCount()

	summary, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Sources: 1, Completed: 1, Files: 2, Written: 1, Resumed: 1}, summary)
	assert.Equal(t, calls+1, f.predictor.callCount(), "only the failed file is predicted again")

	pending, err = o.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_InvalidRecordsDoNotBlockCommit(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "good.json", recordWithText("good"))
	writeInput(t, f.inRoot, "s1", "bad.json", `{"CTI":{"text":"bad"}}`)
	writeInput(t, f.inRoot, "s1", "missing-id.json",
		`{"CTI":{"text":"y"},"EA":{"aligned_triplets":[{"subject":{"mention_text":"A"},"predicate":"p","object":{"entity_id":2}}]}}`)

	o := f.orchestrator(t, NewOrchestratorParams{})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Sources: 1, Completed: 1, Files: 3, Written: 1, Invalid: 2}, summary)

	_, err = os.Stat(filepath.Join(f.outRoot, "s1", "good.json"))
	assert.NoError(t, err, "good result is mirrored into the output")
	_, err = os.Stat(filepath.Join(f.outRoot, "s1", "bad.json"))
	assert.True(t, os.IsNotExist(err), "invalid file has no output")

	summary, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Sources: 1, Skipped: 1}, summary)
}

func TestRun_NoMainNodeIsPermanent(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))
	writeInput(t, f.inRoot, "s1", "b.json", recordWithText("b"))

	predictor := &fakePredictor{failOn: map[string]bool{}}
	o := f.orchestrator(t, NewOrchestratorParams{Predictor: noMainNodePredictor{predictor, "b"}})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 0, summary.Failed)
}

// noMainNodePredictor fails the record with text bad like a graph without
// any positive degree node.
type noMainNodePredictor struct {
	*fakePredictor
	bad string
}

func (p noMainNodePredictor) PredictLinks(ctx context.Context, rec *common.Record) (*common.LinkPredictionResult, error) {
	if rec.CTI.Text == p.bad {
		return nil, fmt.Errorf("failed to select topic node: %w", graph.ErrNoMainNode)
	}
	return p.fakePredictor.PredictLinks(ctx, rec)
}

func TestRun_SkipsLockedSources(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))
	writeInput(t, f.inRoot, "s2", "b.json", recordWithText("b"))

	locker := &fakeLocker{held: map[string]bool{LockPrefix + "s1": true}}
	o := f.orchestrator(t, NewOrchestratorParams{Locker: locker})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Locked)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, []string{LockPrefix + "s2"}, locker.released)

	pending, err := o.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, pending)
}

func TestRun_WaitForLockProcessesSourceAfterRelease(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))

	locker := &fakeLocker{held: map[string]bool{LockPrefix + "s1": true}}
	o := f.orchestrator(t, NewOrchestratorParams{Locker: locker, WaitForLock: true})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Sources: 1, Completed: 1, Files: 1, Written: 1}, summary)
	assert.Equal(t, []string{LockPrefix + "s1"}, locker.waited)
	assert.Equal(t, []string{LockPrefix + "s1"}, locker.released)
}

func TestRun_WaitForLockSkipsSourceCommittedMeanwhile(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))

	other := f.orchestrator(t, NewOrchestratorParams{})
	locker := &fakeLocker{
		held: map[string]bool{LockPrefix + "s1": true},
		whileHeld: func(string) {
			_, err := other.Run(context.Background())
			require.NoError(t, err)
		},
	}
	o := f.orchestrator(t, NewOrchestratorParams{Locker: locker, WaitForLock: true})

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Summary{Sources: 1, Skipped: 1}, summary)
	// Only the other holder processed the file.
	assert.Equal(t, 1, f.predictor.callCount())
	assert.Equal(t, 1, f.output.commits)
}

func TestRun_OnlySelectedSources(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))
	writeInput(t, f.inRoot, "s2", "b.json", recordWithText("b"))

	o := f.orchestrator(t, NewOrchestratorParams{})
	summary, err := o.Run(context.Background(), "s2", "unknown", "s2")
	require.NoError(t, err)

	assert.Equal(t, Summary{Sources: 1, Completed: 1, Files: 1, Written: 1}, summary)

	pending, err := o.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, pending)
}

func TestRun_CanceledContext(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "s1", "a.json", recordWithText("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := f.orchestrator(t, NewOrchestratorParams{})
	_, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.output.writes)
	assert.Equal(t, 0, f.output.commits)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(NewOrchestratorParams{})
	assert.Error(t, err)

	_, err = NewOrchestrator(NewOrchestratorParams{Input: fs.NewInput("x"), Output: fs.NewOutput("y")})
	assert.Error(t, err)
}

// echoOracle names the requested pair in order, so every edge is valid.
type echoOracle struct{}

func (echoOracle) Model() string { return "echo" }

func (echoOracle) Infer(ctx context.Context, req common.LinkRequest) (common.OracleResponse, error) {
	return common.OracleResponse{
		Answer: common.PredictedTriple{Subject: req.MainNode, Relation: "related to", Object: req.TopicNode},
	}, nil
}

func TestRun_WithLinker(t *testing.T) {
	f := newFixture(t)
	writeInput(t, f.inRoot, "reports", "apt28.json", sampleRecord)

	linker, err := graph.NewLinker(graph.NewLinkerParams{Oracle: echoOracle{}})
	require.NoError(t, err)

	o := f.orchestrator(t, NewOrchestratorParams{Predictor: linker})
	summary, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)

	data, err := os.ReadFile(filepath.Join(f.outRoot, "reports", "apt28.json"))
	require.NoError(t, err)

	var out struct {
		LP common.LinkPredictionResult `json:"LP"`
	}
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, "echo", out.LP.Model)
	assert.Equal(t, 2, out.LP.SubgraphNum)
	require.Len(t, out.LP.PredictedLinks, 1)
	link := out.LP.PredictedLinks[0]
	assert.Equal(t, common.EntityID("3"), link.Subject.EntityID)
	assert.Equal(t, "related to", link.Relation)
	assert.Equal(t, common.EntityID("1"), link.Object.EntityID)
}
