package diagnostic

import (
	"strings"
	"testing"
)

func TestBatchSizeEmptyInput(t *testing.T) {
	if got := BatchSize(nil, DefaultBatchMaxTokens, DefaultBatchOverhead); got != 10 {
		t.Fatalf("empty input: got %d, want 10", got)
	}
}

func TestBatchSizeFloorOne(t *testing.T) {
	huge := strings.Repeat("x", 100000)
	if got := BatchSizeStrings([]string{huge}, DefaultBatchMaxTokens, DefaultBatchOverhead); got != 1 {
		t.Fatalf("oversized item: got %d, want 1", got)
	}
}

func TestBatchSizeCeilingFifty(t *testing.T) {
	if got := BatchSizeStrings([]string{"x"}, 1000000, 0); got != 50 {
		t.Fatalf("tiny items: got %d, want 50", got)
	}
}

func TestBatchSizeZeroTokenEstimate(t *testing.T) {
	// "x" serializes to 3 bytes, so len/4 is 0; with no per-item overhead
	// the estimate must be treated as one token, not divide by zero.
	if got := BatchSizeStrings([]string{"x"}, 30, 0); got != 30 {
		t.Fatalf("zero-token estimate: got %d, want 30", got)
	}
	if got := BatchSizeStrings([]string{""}, 1, 0); got != 1 {
		t.Fatalf("empty string item: got %d, want 1", got)
	}
}

func TestBatchSizeTypicalCandidateNames(t *testing.T) {
	names := []string{"Rett syndrome", "Angelman syndrome", "Pitt-Hopkins syndrome"}
	got := BatchSizeStrings(names, DefaultBatchMaxTokens, DefaultBatchOverhead)
	if got < 1 || got > 50 {
		t.Fatalf("batch size %d outside [1,50]", got)
	}
	// "Rett syndrome" serializes to 15 bytes: 15/4 + 80 = 83 tokens, 3500/83 = 42.
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestBatchSizeUnmarshalableItem(t *testing.T) {
	if got := BatchSize([]any{make(chan int)}, DefaultBatchMaxTokens, DefaultBatchOverhead); got != 1 {
		t.Fatalf("unmarshalable item: got %d, want 1", got)
	}
}
