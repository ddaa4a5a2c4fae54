package diagnostic

import "time"

const (
	// NotFoundMarker is emitted in place of a MONDO ID when neither the
	// lexical search nor the embedding fallback produced a match.
	NotFoundMarker = "MONDO ID not found"

	MondoPrefix = "MONDO:"

	DefaultTopK           = 9
	DefaultLLMModel       = "claude-sonnet-4-5-20250929"
	DefaultBatchMaxTokens = 3500
	DefaultBatchOverhead  = 80
	DefaultBatchCap       = 5
	DefaultBatchRetries   = 2
	MaxPatientTerms       = 200
	MinCandidates         = 1
	MaxCandidates         = 40
)

// TermSet is a set of phenotype-ontology term identifiers. Terms are opaque
// strings compared only for equality.
type TermSet map[string]struct{}

// NewTermSet builds a TermSet from a slice, dropping empty strings.
func NewTermSet(terms []string) TermSet {
	s := make(TermSet, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		s[t] = struct{}{}
	}
	return s
}

// Slice returns the members in unspecified order.
func (s TermSet) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	return out
}

func (s TermSet) Contains(term string) bool {
	_, ok := s[term]
	return ok
}

// Resolution is the transient result of grounding one disease label. A zero
// MondoID means the label did not resolve. Confidence is non-nil only when
// the embedding fallback produced the match.
type Resolution struct {
	Label      string
	MondoID    string
	Confidence *float64
}

func (r Resolution) Resolved() bool { return r.MondoID != "" }

// Resolved reports whether grounding produced a canonical identifier.
func (c CandidateDisease) Resolved() bool { return c.MondoID != "" }

// CandidateDisease is one disease hypothesis under evaluation. The resolver
// fills MondoID/Confidence, the retriever fills Phenotypes; after that the
// candidate is immutable.
//
// Invariant: MondoID == "" implies len(Phenotypes) == 0.
type CandidateDisease struct {
	Name       string   `json:"disease_name"`
	MondoID    string   `json:"mondo_id,omitempty"`
	Phenotypes TermSet  `json:"-"`
	Confidence *float64 `json:"cosine_score,omitempty"`
}

// ScoredCandidate annotates a candidate with its Jaccard score against the
// patient term set and, after sorting and truncation, its 1-based rank and
// reciprocal-rank score.
type ScoredCandidate struct {
	CandidateDisease
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
	ReciprocalScore float64 `json:"reciprocal_score"`
}

// DisplayMondoID returns the MONDO ID or the explicit not-found marker.
func (s ScoredCandidate) DisplayMondoID() string {
	if s.MondoID == "" {
		return NotFoundMarker
	}
	return s.MondoID
}

type RequestEnvelope struct {
	CaseID       string   `json:"case_id"`
	PatientTerms []string `json:"patient_hpo_ids"`
	Sex          string   `json:"sex,omitempty"`
}

// Stage1Candidate is one LLM-proposed disease hypothesis.
type Stage1Candidate struct {
	DiseaseName string `json:"disease_name"`
	Rationale   string `json:"rationale"`
}

// Stage1Output is the breakdown stage result: candidate diseases proposed
// from the patient's phenotype terms.
type Stage1Output struct {
	CandidateDiseases []Stage1Candidate `json:"candidate_diseases"`
	ConfidenceScore   float64           `json:"confidence_score"`
	ConfidenceReason  string            `json:"confidence_reason"`
}

type StageAttemptMetrics struct {
	Attempts       int
	ContentRetries int
}

type PipelineMetadata struct {
	StagesExecuted      []string       `json:"stages_executed"`
	TotalLLMCalls       int            `json:"total_llm_calls"`
	TotalRetries        int            `json:"total_retries"`
	StageAttempts       map[string]int `json:"stage_attempts,omitempty"`
	StageContentRetries map[string]int `json:"stage_content_retries,omitempty"`
	CandidatesProposed  int            `json:"candidates_proposed"`
	CandidatesResolved  int            `json:"candidates_resolved"`
	GroundingBatches    int            `json:"grounding_batches"`
	Degraded            bool           `json:"degraded"`
	DegradedReason      *string        `json:"degraded_reason,omitempty"`
	Model               string         `json:"model"`
	StartedAt           time.Time      `json:"started_at"`
	CompletedAt         time.Time      `json:"completed_at"`
	DurationMS          int64          `json:"duration_ms"`
}

type PipelineResult struct {
	Request  RequestEnvelope
	Stage1   Stage1Output
	Ranked   []ScoredCandidate
	Attempts map[string]StageAttemptMetrics
	Metadata PipelineMetadata
}

type ResponseEnvelope struct {
	CaseID         string            `json:"case_id"`
	Agent          string            `json:"agent"`
	Version        string            `json:"version"`
	Ranked         []ScoredCandidate `json:"ranked_candidates"`
	ReportMarkdown string            `json:"report_markdown"`
	Metadata       PipelineMetadata  `json:"pipeline_metadata"`
}

const AgentVersion = "1.2.0"
