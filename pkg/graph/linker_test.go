package graph

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

type fakeOracle struct {
	answers map[string]common.Answer
	err     error
	calls   []common.LinkRequest
}

func (f *fakeOracle) Infer(ctx context.Context, req common.LinkRequest) (common.OracleResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return common.OracleResponse{}, f.err
	}
	return common.OracleResponse{
		Answer:  f.answers[req.MainNode],
		Elapsed: 500 * time.Millisecond,
		Usage: common.Usage{
			Input:  common.TokenCost{Tokens: 100, Cost: 0.1},
			Output: common.TokenCost{Tokens: 10, Cost: 0.2},
			Total:  common.TokenCost{Tokens: 110, Cost: 0.3},
		},
	}, nil
}

func (f *fakeOracle) Model() string { return "fake-model" }

func newTestLinker(t *testing.T, o *fakeOracle) *Linker {
	t.Helper()
	l, err := NewLinker(NewLinkerParams{Oracle: o})
	if err != nil {
		t.Fatalf("NewLinker() error = %v", err)
	}
	return l
}

func TestNewLinker_RequiresOracle(t *testing.T) {
	if _, err := NewLinker(NewLinkerParams{}); err == nil {
		t.Fatal("expected error without oracle")
	}
}

func TestResolveEdge(t *testing.T) {
	main := ent("1", "APT28")
	topic := ent("2", "Zebrocy")
	sentinel := common.HallucinatedEntity()

	tests := []struct {
		name      string
		answer    common.Answer
		want      common.PredictedEdge
		malformed bool
	}{
		{
			name:   "requested order",
			answer: common.PredictedTriple{Subject: "APT28", Relation: "uses", Object: "Zebrocy"},
			want:   common.PredictedEdge{Subject: main, Relation: "uses", Object: topic},
		},
		{
			name:   "reversed order",
			answer: common.PredictedTriple{Subject: "Zebrocy", Relation: "used by", Object: "APT28"},
			want:   common.PredictedEdge{Subject: topic, Relation: "used by", Object: main},
		},
		{
			name:   "surrounding whitespace",
			answer: common.PredictedTriple{Subject: " APT28 ", Relation: "uses", Object: "Zebrocy\n"},
			want:   common.PredictedEdge{Subject: main, Relation: "uses", Object: topic},
		},
		{
			name:   "other entities",
			answer: common.RawFields{{Key: "subject", Value: "X"}, {Key: "relation", Value: "r"}, {Key: "object", Value: "Y"}},
			want:   common.PredictedEdge{Subject: sentinel, Relation: "r", Object: sentinel},
		},
		{
			name:   "one entity only",
			answer: common.PredictedTriple{Subject: "APT28", Relation: "uses", Object: "Sofacy"},
			want:   common.PredictedEdge{Subject: sentinel, Relation: "uses", Object: sentinel},
		},
		{
			name:   "positional fallback",
			answer: common.RawFields{{Key: "s", Value: "APT28"}, {Key: "p", Value: "uses"}, {Key: "o", Value: "Zebrocy"}},
			want:   common.PredictedEdge{Subject: main, Relation: "uses", Object: topic},
		},
		{
			name:      "malformed",
			answer:    common.RawFields{{Key: "answer", Value: "APT28 uses Zebrocy"}},
			want:      common.PredictedEdge{Subject: sentinel, Relation: "", Object: sentinel},
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveEdge(tt.answer, main, topic)
			if tt.malformed != errors.Is(err, common.ErrMalformedAnswer) {
				t.Fatalf("resolveEdge() error = %v, malformed %v", err, tt.malformed)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("resolveEdge() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInferLinks(t *testing.T) {
	topic := ent("2", "Zebrocy")
	mainNodes := []common.Entity{
		ent("1", "APT28"),
		ent("3", "Sednit"),
		ent("4", "X-Agent"),
		ent("5", "Fancy Bear"),
	}
	oracle := &fakeOracle{answers: map[string]common.Answer{
		"APT28":      common.PredictedTriple{Subject: "APT28", Relation: "uses", Object: "Zebrocy"},
		"Sednit":     common.PredictedTriple{Subject: "Zebrocy", Relation: "attributed to", Object: "Sednit"},
		"X-Agent":    common.PredictedTriple{Subject: "X", Relation: "r", Object: "Y"},
		"Fancy Bear": common.RawFields{{Key: "only", Value: "one"}},
	}}

	res, err := newTestLinker(t, oracle).InferLinks(context.Background(), mainNodes, topic, "report text")
	if err != nil {
		t.Fatalf("InferLinks() error = %v", err)
	}

	if len(res.PredictedLinks) != len(mainNodes) {
		t.Fatalf("got %d edges, want %d", len(res.PredictedLinks), len(mainNodes))
	}
	if e := res.PredictedLinks[0]; e.Subject.EntityID != "1" || e.Object.EntityID != "2" || e.Relation != "uses" {
		t.Errorf("edge 0 = %+v", e)
	}
	if e := res.PredictedLinks[1]; e.Subject.EntityID != "2" || e.Object.EntityID != "3" {
		t.Errorf("edge 1 = %+v", e)
	}
	if e := res.PredictedLinks[2]; !e.IsHallucination() || e.Relation != "r" {
		t.Errorf("edge 2 = %+v, want hallucination with relation r", e)
	}
	if e := res.PredictedLinks[3]; !e.IsHallucination() || e.Relation != "" {
		t.Errorf("edge 3 = %+v, want hallucination with empty relation", e)
	}

	for i, call := range oracle.calls {
		if call.MainNode != mainNodes[i].Text() || call.TopicNode != "Zebrocy" || call.ReportText != "report text" {
			t.Errorf("call %d = %+v", i, call)
		}
	}

	if res.ResponseTime != 2.0 {
		t.Errorf("ResponseTime = %v, want 2", res.ResponseTime)
	}
	if res.Usage.Total.Tokens != 440 || res.Usage.Input.Tokens != 400 || res.Usage.Output.Tokens != 40 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if res.Model != "fake-model" {
		t.Errorf("Model = %q", res.Model)
	}
	if res.TopicNode == nil || *res.TopicNode != topic {
		t.Errorf("TopicNode = %+v", res.TopicNode)
	}
	wantRefs := []common.NodeRef{
		{EntityID: "1", EntityText: "APT28"},
		{EntityID: "3", EntityText: "Sednit"},
		{EntityID: "4", EntityText: "X-Agent"},
		{EntityID: "5", EntityText: "Fancy Bear"},
	}
	if !reflect.DeepEqual(res.MainNodes, wantRefs) {
		t.Errorf("MainNodes = %+v, want %+v", res.MainNodes, wantRefs)
	}
}

func TestInferLinks_OracleErrorAborts(t *testing.T) {
	boom := errors.New("transport failure")
	oracle := &fakeOracle{err: boom}

	_, err := newTestLinker(t, oracle).InferLinks(
		context.Background(),
		[]common.Entity{ent("1", "A"), ent("3", "C")},
		ent("2", "B"),
		"",
	)
	if !errors.Is(err, boom) {
		t.Fatalf("InferLinks() error = %v, want %v", err, boom)
	}
	if len(oracle.calls) != 1 {
		t.Errorf("oracle called %d times, want 1", len(oracle.calls))
	}
}

func TestInferLinks_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := &fakeOracle{}
	_, err := newTestLinker(t, oracle).InferLinks(ctx, []common.Entity{ent("1", "A")}, ent("2", "B"), "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("InferLinks() error = %v, want context.Canceled", err)
	}
	if len(oracle.calls) != 0 {
		t.Errorf("oracle called %d times after cancel", len(oracle.calls))
	}
}

func TestPredictLinks_EndToEnd(t *testing.T) {
	rec := recordOf(t, exampleTriplets(), "A uses B which targets C. D relates to E.")
	oracle := &fakeOracle{answers: map[string]common.Answer{
		"D": common.PredictedTriple{Subject: "D", Relation: "mentions", Object: "B"},
	}}

	res, err := newTestLinker(t, oracle).PredictLinks(context.Background(), rec)
	if err != nil {
		t.Fatalf("PredictLinks() error = %v", err)
	}

	if res.TopicNode == nil || res.TopicNode.EntityID != "2" {
		t.Fatalf("TopicNode = %+v, want B", res.TopicNode)
	}
	if want := []common.NodeRef{{EntityID: "4", EntityText: "D"}}; !reflect.DeepEqual(res.MainNodes, want) {
		t.Errorf("MainNodes = %+v, want %+v", res.MainNodes, want)
	}
	if want := [][]common.EntityID{{"1", "2", "3"}, {"4", "5"}}; !reflect.DeepEqual(res.Subgraphs, want) {
		t.Errorf("Subgraphs = %v, want %v", res.Subgraphs, want)
	}
	if res.SubgraphNum != 2 {
		t.Errorf("SubgraphNum = %d, want 2", res.SubgraphNum)
	}
	want := common.PredictedEdge{Subject: entD, Relation: "mentions", Object: entB}
	if len(res.PredictedLinks) != 1 || res.PredictedLinks[0] != want {
		t.Errorf("PredictedLinks = %+v, want [%+v]", res.PredictedLinks, want)
	}
}

func TestPredictLinks_SingleComponent(t *testing.T) {
	rec := recordOf(t, []common.Triplet{tri(entA, "uses", entB)}, "")
	oracle := &fakeOracle{}

	res, err := newTestLinker(t, oracle).PredictLinks(context.Background(), rec)
	if err != nil {
		t.Fatalf("PredictLinks() error = %v", err)
	}
	if len(oracle.calls) != 0 {
		t.Errorf("oracle called %d times for a connected graph", len(oracle.calls))
	}
	if len(res.PredictedLinks) != 0 || len(res.MainNodes) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestPredictLinks_NoTriplets(t *testing.T) {
	rec := recordOf(t, nil, "empty")
	res, err := newTestLinker(t, &fakeOracle{}).PredictLinks(context.Background(), rec)
	if err != nil {
		t.Fatalf("PredictLinks() error = %v", err)
	}
	if res.TopicNode != nil || res.SubgraphNum != 0 || res.Model != "fake-model" {
		t.Errorf("unexpected result %+v", res)
	}
}

func recordOf(t *testing.T, triplets []common.Triplet, text string) *common.Record {
	t.Helper()

	type section struct {
		AlignedTriplets []common.Triplet `json:"aligned_triplets"`
	}
	data, err := json.Marshal(map[string]any{
		"CTI": map[string]string{"text": text},
		"EA":  section{AlignedTriplets: triplets},
	})
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	rec, err := common.ParseRecord(data)
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}
	return rec
}
