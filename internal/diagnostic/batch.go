package diagnostic

import "encoding/json"

const (
	batchSizeEmptyDefault = 10
	batchSizeCeiling      = 50
)

// BatchSize estimates a safe batch size for a downstream consumer with a
// token budget. The first item stands in for the rest: its serialized byte
// length divided by 4 approximates its token cost. The result is clamped to
// [1, 50] so a batch always makes forward progress and never degenerates
// into one oversized call.
func BatchSize(items []any, maxTokens, perItemOverhead int) int {
	if len(items) == 0 {
		return batchSizeEmptyDefault
	}
	serialized, err := json.Marshal(items[0])
	if err != nil {
		return 1
	}
	itemTokens := len(serialized)/4 + perItemOverhead
	// A sub-4-byte item with no overhead estimates to zero tokens; treat it
	// as one so the division is defined and the clamp below still applies.
	if itemTokens < 1 {
		itemTokens = 1
	}
	size := maxTokens / itemTokens
	if size < 1 {
		return 1
	}
	if size > batchSizeCeiling {
		return batchSizeCeiling
	}
	return size
}

// BatchSizeStrings is BatchSize over a string slice, the only item shape the
// grounding stage batches.
func BatchSizeStrings(items []string, maxTokens, perItemOverhead int) int {
	boxed := make([]any, len(items))
	for i, s := range items {
		boxed[i] = s
	}
	return BatchSize(boxed, maxTokens, perItemOverhead)
}
