package ontology

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/raredx/raredx-agency/internal/diagnostic"
)

const (
	// DefaultThreshold is the minimum cosine similarity for the embedding
	// fallback to accept a match. A score exactly at the threshold is
	// accepted.
	DefaultThreshold = 0.60

	queryPrefix = "search_query: "

	// DocumentPrefix is prepended to ontology labels when they are embedded
	// for the index; queryPrefix is its query-side counterpart. The
	// asymmetric prefixes follow the embedding model's contract.
	DocumentPrefix = "search_document: "
)

type ResolverConfig struct {
	StorePath string
	IndexDir  string
	Threshold float64
	Embedder  Embedder
}

type lexicalSearcher interface {
	Search(ctx context.Context, label string) ([]Hit, error)
}

type vectorSearcher interface {
	Search(query []float32, k int) ([]IndexHit, error)
}

// Resolver grounds disease labels in two phases: lexical search against the
// ontology store, then nearest-neighbor search over label embeddings.
//
// The store handle and index are expensive to open (a full ontology graph
// and a vector file), so they are constructed once on first use and shared
// for the lifetime of the process. After initialization all state is
// read-only and safe for concurrent resolves.
type Resolver struct {
	cfg      ResolverConfig
	store    lexicalSearcher
	index    vectorSearcher
	embedder Embedder

	initOnce sync.Once
	initErr  error
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Resolver{cfg: cfg, embedder: cfg.Embedder}
}

// NewResolverWithDeps injects pre-built collaborators, bypassing lazy
// initialization. Tests use this to substitute fakes.
func NewResolverWithDeps(store lexicalSearcher, index vectorSearcher, embedder Embedder, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	r := &Resolver{cfg: ResolverConfig{Threshold: threshold}, store: store, index: index, embedder: embedder}
	r.initOnce.Do(func() {})
	return r
}

func (r *Resolver) init() error {
	r.initOnce.Do(func() {
		store, err := OpenStore(r.cfg.StorePath)
		if err != nil {
			r.initErr = fmt.Errorf("init ontology store: %w", err)
			return
		}
		index, err := LoadIndex(r.cfg.IndexDir)
		if err != nil {
			store.Close()
			r.initErr = fmt.Errorf("init ontology index: %w", err)
			return
		}
		if r.embedder == nil {
			r.embedder = NewHTTPEmbedder("", "")
		}
		r.store = store
		r.index = index
		log.Printf("raredx ontology caches_initialized index_size=%d", index.Len())
	})
	return r.initErr
}

// Resolve maps a free-text disease label to a MONDO identifier.
//
// Lexical hits win outright and carry no confidence score. A lexical-phase
// error is logged and falls through to the embedding phase. Embedding-phase
// errors propagate: they mean the encoder or index is broken, not that the
// label has no match.
func (r *Resolver) Resolve(ctx context.Context, label string) (diagnostic.Resolution, error) {
	if err := r.init(); err != nil {
		return diagnostic.Resolution{}, err
	}
	res := diagnostic.Resolution{Label: label}

	hits, err := r.store.Search(ctx, label)
	if err != nil {
		log.Printf("raredx resolver lexical_search_failed label=%q err=%q", label, err.Error())
	} else {
		for _, h := range hits {
			if strings.HasPrefix(h.ID, diagnostic.MondoPrefix) {
				res.MondoID = h.ID
				return res, nil
			}
		}
	}

	vec, err := r.embedder.Embed(ctx, queryPrefix+label)
	if err != nil {
		return diagnostic.Resolution{}, fmt.Errorf("embed label %q: %w", label, err)
	}
	nn, err := r.index.Search(Normalize(vec), 1)
	if err != nil {
		return diagnostic.Resolution{}, fmt.Errorf("index search for %q: %w", label, err)
	}
	if len(nn) == 0 {
		return res, nil
	}

	top := nn[0]
	if top.Score < r.cfg.Threshold {
		log.Printf("raredx resolver no_strong_match label=%q best=%q score=%.4f threshold=%.2f", label, top.Label, top.Score, r.cfg.Threshold)
		return res, nil
	}
	if !strings.HasPrefix(top.ID, diagnostic.MondoPrefix) {
		log.Printf("raredx resolver non_mondo_match label=%q matched=%q id=%q score=%.4f", label, top.Label, top.ID, top.Score)
		return res, nil
	}
	score := top.Score
	res.MondoID = top.ID
	res.Confidence = &score
	return res, nil
}
