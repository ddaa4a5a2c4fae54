package diagnostic

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// Resolver grounds a free-text disease label to a canonical MONDO ID.
// A miss is not an error: it returns a Resolution with an empty MondoID.
// Errors indicate broken infrastructure (index unreadable, encoder down).
type Resolver interface {
	Resolve(ctx context.Context, label string) (Resolution, error)
}

// Retriever fetches the phenotype profile canonically associated with a
// MONDO ID. A retrieval miss returns an empty set, not an error.
type Retriever interface {
	FetchPhenotypes(ctx context.Context, mondoID string) (TermSet, error)
}

// Ranker turns LLM-proposed candidate names into a ranked, scored list for
// one patient case. It owns no state across calls beyond its collaborators'
// read-only caches.
type Ranker struct {
	resolver     Resolver
	retriever    Retriever
	topK         int
	batchRetries int
}

func NewRanker(resolver Resolver, retriever Retriever, topK int) *Ranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Ranker{resolver: resolver, retriever: retriever, topK: topK, batchRetries: DefaultBatchRetries}
}

// RankStats reports what happened during enrichment, for pipeline metadata.
type RankStats struct {
	Batches        int
	Resolved       int
	BatchesRetried int
	BatchesFailed  int
}

// RankCandidates resolves and enriches every candidate name, scores each
// against the patient's term set, and returns the top-K candidates sorted
// descending by similarity with 1-based ranks and reciprocal-rank scores.
//
// Every input name appears in the pre-truncation pool: names that fail
// resolution become candidates with no MONDO ID and an empty phenotype set
// rather than being dropped. Ties in similarity keep input order.
func (r *Ranker) RankCandidates(ctx context.Context, patientTerms TermSet, candidateNames []string) ([]ScoredCandidate, RankStats, error) {
	stats := RankStats{}
	if len(candidateNames) == 0 {
		return []ScoredCandidate{}, stats, nil
	}

	batchSize := BatchSizeStrings(candidateNames, DefaultBatchMaxTokens, DefaultBatchOverhead)
	if batchSize > DefaultBatchCap {
		batchSize = DefaultBatchCap
	}

	candidates := make([]CandidateDisease, 0, len(candidateNames))
	for start := 0; start < len(candidateNames); start += batchSize {
		end := start + batchSize
		if end > len(candidateNames) {
			end = len(candidateNames)
		}
		batch := candidateNames[start:end]
		stats.Batches++

		enriched, err := r.enrichBatch(ctx, batch, &stats)
		if err != nil {
			// Retry budget exhausted: the batch's candidates enter the pool
			// unresolved so the run still terminates with a full result.
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			log.Printf("raredx grounding batch_failed start=%d size=%d err=%q", start, len(batch), err.Error())
			stats.BatchesFailed++
			enriched = make([]CandidateDisease, 0, len(batch))
			for _, name := range batch {
				enriched = append(enriched, CandidateDisease{Name: name, Phenotypes: TermSet{}})
			}
		}
		candidates = append(candidates, enriched...)
	}

	for _, c := range candidates {
		if c.Resolved() {
			stats.Resolved++
		}
	}
	return r.scoreAndRank(patientTerms, candidates), stats, nil
}

// enrichBatch resolves and enriches one batch, retrying the whole batch on
// infrastructure failure up to the retry budget.
func (r *Ranker) enrichBatch(ctx context.Context, names []string, stats *RankStats) ([]CandidateDisease, error) {
	var lastErr error
	for attempt := 0; attempt <= r.batchRetries; attempt++ {
		if attempt > 0 {
			stats.BatchesRetried++
		}
		out, err := r.enrichOnce(ctx, names)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("raredx grounding batch_attempt_failed attempt=%d err=%q", attempt+1, err.Error())
	}
	return nil, fmt.Errorf("grounding batch failed after %d retries: %w", r.batchRetries, lastErr)
}

func (r *Ranker) enrichOnce(ctx context.Context, names []string) ([]CandidateDisease, error) {
	out := make([]CandidateDisease, 0, len(names))
	for _, name := range names {
		res, err := r.resolver.Resolve(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", name, err)
		}
		cand := CandidateDisease{Name: name, Phenotypes: TermSet{}, Confidence: res.Confidence}
		if res.Resolved() {
			cand.MondoID = res.MondoID
			terms, err := r.retriever.FetchPhenotypes(ctx, res.MondoID)
			if err != nil {
				return nil, fmt.Errorf("fetch phenotypes %s: %w", res.MondoID, err)
			}
			if terms == nil {
				terms = TermSet{}
			}
			cand.Phenotypes = terms
		}
		out = append(out, cand)
	}
	return out, nil
}

// scoreAndRank is the deterministic tail of the pipeline: Jaccard scoring,
// stable descending sort, top-K truncation, reciprocal-rank assignment.
// Rank 1 always scores 1.0 regardless of its raw Jaccard value.
func (r *Ranker) scoreAndRank(patientTerms TermSet, candidates []CandidateDisease) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, ScoredCandidate{
			CandidateDisease: c,
			SimilarityScore:  Jaccard(patientTerms, c.Phenotypes),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimilarityScore > scored[j].SimilarityScore
	})
	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	for i := range scored {
		scored[i].Rank = i + 1
		scored[i].ReciprocalScore = 1.0 / float64(i+1)
	}
	return scored
}
