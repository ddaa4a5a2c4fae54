package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

type fakeResolver struct {
	resolutions  map[string]Resolution
	errFor       map[string]error
	failuresLeft int
	calls        int
}

func (f *fakeResolver) Resolve(ctx context.Context, label string) (Resolution, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return Resolution{}, errors.New("embedder down")
	}
	if err, ok := f.errFor[label]; ok {
		return Resolution{}, err
	}
	if r, ok := f.resolutions[label]; ok {
		return r, nil
	}
	return Resolution{Label: label}, nil
}

type fakeRetriever struct {
	profiles map[string]TermSet
	err      error
}

func (f *fakeRetriever) FetchPhenotypes(ctx context.Context, mondoID string) (TermSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[mondoID], nil
}

func TestRankCandidatesOrderingAndScores(t *testing.T) {
	patient := NewTermSet([]string{"HP:1", "HP:2", "HP:3"})
	resolver := &fakeResolver{resolutions: map[string]Resolution{
		"Disease A": {MondoID: "MONDO:0000001"},
		"Disease B": {MondoID: "MONDO:0000002"},
	}}
	retriever := &fakeRetriever{profiles: map[string]TermSet{
		"MONDO:0000001": NewTermSet([]string{"HP:1", "HP:2", "HP:3", "HP:4"}),
		"MONDO:0000002": NewTermSet([]string{"HP:1"}),
	}}
	r := NewRanker(resolver, retriever, DefaultTopK)

	ranked, stats, err := r.RankCandidates(context.Background(), patient, []string{"Disease B", "Disease A", "Disease C"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(ranked))
	}
	if ranked[0].Name != "Disease A" || ranked[1].Name != "Disease B" || ranked[2].Name != "Disease C" {
		t.Fatalf("unexpected order: %s, %s, %s", ranked[0].Name, ranked[1].Name, ranked[2].Name)
	}
	if ranked[0].SimilarityScore != 0.75 {
		t.Fatalf("A score: got %v, want 0.75", ranked[0].SimilarityScore)
	}
	if math.Abs(ranked[1].SimilarityScore-1.0/3.0) > 1e-12 {
		t.Fatalf("B score: got %v, want 1/3", ranked[1].SimilarityScore)
	}
	if ranked[2].SimilarityScore != 0 {
		t.Fatalf("unresolved C score: got %v, want 0", ranked[2].SimilarityScore)
	}
	if ranked[0].Rank != 1 || ranked[0].ReciprocalScore != 1.0 {
		t.Fatalf("rank 1: rank=%d reciprocal=%v", ranked[0].Rank, ranked[0].ReciprocalScore)
	}
	if ranked[1].ReciprocalScore != 0.5 || ranked[2].ReciprocalScore != 1.0/3.0 {
		t.Fatalf("reciprocal scores: %v, %v", ranked[1].ReciprocalScore, ranked[2].ReciprocalScore)
	}
	if stats.Resolved != 2 {
		t.Fatalf("resolved count: got %d, want 2", stats.Resolved)
	}
	if ranked[2].DisplayMondoID() != NotFoundMarker {
		t.Fatalf("unresolved marker: got %q", ranked[2].DisplayMondoID())
	}
}

func TestRankCandidatesUnresolvedNeverDropped(t *testing.T) {
	r := NewRanker(&fakeResolver{}, &fakeRetriever{}, DefaultTopK)
	names := []string{"Unknown One", "Unknown Two", "Unknown Three"}
	ranked, _, err := r.RankCandidates(context.Background(), NewTermSet([]string{"HP:1"}), names)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != len(names) {
		t.Fatalf("expected %d candidates, got %d", len(names), len(ranked))
	}
}

func TestRankCandidatesTieKeepsInputOrder(t *testing.T) {
	patient := NewTermSet([]string{"HP:1", "HP:2"})
	resolver := &fakeResolver{resolutions: map[string]Resolution{
		"First":  {MondoID: "MONDO:0000010"},
		"Second": {MondoID: "MONDO:0000020"},
	}}
	retriever := &fakeRetriever{profiles: map[string]TermSet{
		"MONDO:0000010": NewTermSet([]string{"HP:1"}),
		"MONDO:0000020": NewTermSet([]string{"HP:2"}),
	}}
	r := NewRanker(resolver, retriever, DefaultTopK)
	ranked, _, err := r.RankCandidates(context.Background(), patient, []string{"First", "Second"})
	if err != nil {
		t.Fatal(err)
	}
	if ranked[0].Name != "First" || ranked[1].Name != "Second" {
		t.Fatalf("tie broke input order: %s, %s", ranked[0].Name, ranked[1].Name)
	}
}

func TestRankCandidatesTruncatesToTopK(t *testing.T) {
	resolver := &fakeResolver{resolutions: map[string]Resolution{}}
	names := make([]string, 15)
	for i := range names {
		names[i] = fmt.Sprintf("Disease %02d", i)
	}
	r := NewRanker(resolver, &fakeRetriever{}, DefaultTopK)
	ranked, _, err := r.RankCandidates(context.Background(), NewTermSet([]string{"HP:1"}), names)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != DefaultTopK {
		t.Fatalf("expected top %d, got %d", DefaultTopK, len(ranked))
	}
	if ranked[len(ranked)-1].Rank != DefaultTopK {
		t.Fatalf("last rank: got %d, want %d", ranked[len(ranked)-1].Rank, DefaultTopK)
	}
}

func TestRankCandidatesBatchFailureDegrades(t *testing.T) {
	// Resolver never recovers; the batch exhausts its retries and the
	// candidates are reported unresolved rather than dropped.
	resolver := &fakeResolver{failuresLeft: 1 << 30}
	r := NewRanker(resolver, &fakeRetriever{}, DefaultTopK)
	ranked, stats, err := r.RankCandidates(context.Background(), NewTermSet([]string{"HP:1"}), []string{"Disease A", "Disease B"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.BatchesFailed == 0 {
		t.Fatalf("expected failed batches")
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 unresolved candidates, got %d", len(ranked))
	}
	for _, c := range ranked {
		if c.Resolved() {
			t.Fatalf("candidate %s should be unresolved", c.Name)
		}
	}
}

func TestRankCandidatesBatchRetryRecovers(t *testing.T) {
	resolver := &fakeResolver{
		failuresLeft: 1,
		resolutions:  map[string]Resolution{"Disease A": {MondoID: "MONDO:0000001"}},
	}
	retriever := &fakeRetriever{profiles: map[string]TermSet{"MONDO:0000001": NewTermSet([]string{"HP:1"})}}
	r := NewRanker(resolver, retriever, DefaultTopK)
	ranked, stats, err := r.RankCandidates(context.Background(), NewTermSet([]string{"HP:1"}), []string{"Disease A"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.BatchesRetried == 0 {
		t.Fatalf("expected a retried batch")
	}
	if stats.BatchesFailed != 0 {
		t.Fatalf("expected no failed batches")
	}
	if !ranked[0].Resolved() {
		t.Fatalf("expected candidate resolved after retry")
	}
}

func TestRankCandidatesContextCancelEscalates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := &fakeResolver{failuresLeft: 1 << 30}
	r := NewRanker(resolver, &fakeRetriever{}, DefaultTopK)
	_, _, err := r.RankCandidates(ctx, NewTermSet([]string{"HP:1"}), []string{"Disease A"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRankCandidatesEmptyInput(t *testing.T) {
	r := NewRanker(&fakeResolver{}, &fakeRetriever{}, DefaultTopK)
	ranked, stats, err := r.RankCandidates(context.Background(), NewTermSet([]string{"HP:1"}), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 0 || stats.Batches != 0 {
		t.Fatalf("expected empty result, got %d candidates %d batches", len(ranked), stats.Batches)
	}
}
