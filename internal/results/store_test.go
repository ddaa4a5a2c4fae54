package results

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/raredx/raredx-agency/internal/diagnostic"
)

func newTestResultStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(caseID string) diagnostic.PipelineResult {
	now := time.Now()
	return diagnostic.PipelineResult{
		Request: diagnostic.RequestEnvelope{CaseID: caseID, PatientTerms: []string{"HP:0001250"}},
		Ranked:  sampleRanked(),
		Metadata: diagnostic.PipelineMetadata{
			Model:         "test-model",
			TotalLLMCalls: 1,
			StartedAt:     now.Add(-2 * time.Second),
			CompletedAt:   now,
		},
	}
}

func TestSaveRunAndReadBack(t *testing.T) {
	s := newTestResultStore(t)
	runID, err := s.SaveRun(sampleRun("case-1"))
	if err != nil {
		t.Fatal(err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}

	runs, err := s.RunsForCase("case-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != runID || runs[0].Model != "test-model" {
		t.Fatalf("runs: %+v", runs)
	}

	ranked, err := s.RankedForRun(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked: %d", len(ranked))
	}
	if ranked[0].Name != "Rett syndrome" || ranked[0].MondoID != "MONDO:0010726" || ranked[0].Rank != 1 {
		t.Fatalf("ranked[0]: %+v", ranked[0])
	}
	if ranked[1].MondoID != "" {
		t.Fatalf("unresolved candidate should archive an empty mondo_id: %+v", ranked[1])
	}
}

func TestSaveRunDistinctIDs(t *testing.T) {
	s := newTestResultStore(t)
	a, err := s.SaveRun(sampleRun("case-1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.SaveRun(sampleRun("case-1"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("run ids collide: %s", a)
	}
	runs, err := s.RunsForCase("case-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs: %d", len(runs))
	}
}

func TestRunsForCaseEmpty(t *testing.T) {
	s := newTestResultStore(t)
	runs, err := s.RunsForCase("missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs: %+v", runs)
	}
}
