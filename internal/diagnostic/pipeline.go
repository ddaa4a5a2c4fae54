package diagnostic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("raredx/diagnostic")

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

type StageProgressFn func(stage, message string)

// Pipeline runs one patient case through breakdown, grounding/enrichment,
// and deterministic scoring. Cases are independent; the pipeline keeps no
// state between runs beyond its collaborators' read-only caches.
type Pipeline struct {
	runner StageRunner
	ranker *Ranker
}

func NewPipeline(runner StageRunner, ranker *Ranker) *Pipeline {
	return &Pipeline{runner: runner, ranker: ranker}
}

func (p *Pipeline) ValidateConfig() error {
	if p.runner == nil {
		return fmt.Errorf("stage runner is required")
	}
	if p.ranker == nil {
		return fmt.Errorf("ranker is required")
	}
	return nil
}

func (p *Pipeline) Run(ctx context.Context, req RequestEnvelope) (PipelineResult, error) {
	return p.runWithProgress(ctx, req, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, req RequestEnvelope, progress StageProgressFn) (PipelineResult, error) {
	return p.runWithProgress(ctx, req, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, req RequestEnvelope, progress StageProgressFn) (PipelineResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("case_id", req.CaseID)))
	defer span.End()

	res := PipelineResult{
		Request:  req,
		Attempts: map[string]StageAttemptMetrics{},
		Metadata: PipelineMetadata{StartedAt: time.Now(), Model: p.modelName()},
	}
	if strings.TrimSpace(req.CaseID) == "" {
		return res, errors.New("case_id is required")
	}
	req.PatientTerms = normalizePatientTerms(req.PatientTerms)
	if len(req.PatientTerms) > MaxPatientTerms {
		req.PatientTerms = req.PatientTerms[:MaxPatientTerms]
	}
	res.Request = req

	emit(progress, "stage_1", "Stage 1: Proposing candidate diseases...")
	s1, m1, err := p.runStage1(ctx, req)
	res.Attempts["stage_1"] = m1
	if err != nil {
		return res, &StageError{Stage: "stage_1", Err: err}
	}
	res.Stage1 = s1
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "stage_1")
	res.Metadata.CandidatesProposed = len(s1.CandidateDiseases)

	names := make([]string, 0, len(s1.CandidateDiseases))
	for _, c := range s1.CandidateDiseases {
		names = append(names, c.DiseaseName)
	}

	emit(progress, "stage_2", "Stage 2: Grounding candidates and retrieving phenotype profiles...")
	emit(progress, "stage_3", "Stage 3: Scoring and ranking...")
	ranked, stats, err := p.runRanking(ctx, req, names)
	res.Metadata.GroundingBatches = stats.Batches
	res.Metadata.CandidatesResolved = stats.Resolved
	if err != nil {
		return res, &StageError{Stage: "stage_2", Err: err}
	}
	if stats.BatchesFailed > 0 {
		reason := fmt.Sprintf("%d of %d grounding batches exhausted retries; their candidates are reported as unresolved.", stats.BatchesFailed, stats.Batches)
		res.Metadata.Degraded = true
		res.Metadata.DegradedReason = &reason
	}
	res.Ranked = ranked
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "stage_2", "stage_3")

	return p.finalize(res), nil
}

func (p *Pipeline) runStage1(ctx context.Context, req RequestEnvelope) (Stage1Output, StageAttemptMetrics, error) {
	ctx, span := tracer.Start(ctx, "stage_1.breakdown")
	defer span.End()
	return p.runner.RunStage1(ctx, req)
}

func (p *Pipeline) runRanking(ctx context.Context, req RequestEnvelope, names []string) ([]ScoredCandidate, RankStats, error) {
	ctx, span := tracer.Start(ctx, "stage_2_3.rank_candidates", trace.WithAttributes(attribute.Int("candidates", len(names))))
	defer span.End()
	return p.ranker.RankCandidates(ctx, NewTermSet(req.PatientTerms), names)
}

func (p *Pipeline) modelName() string {
	if llmRunner, ok := p.runner.(*LLMStageRunner); ok && llmRunner.exec != nil {
		return llmRunner.exec.ModelName()
	}
	return DefaultLLMModel
}

func (p *Pipeline) finalize(res PipelineResult) PipelineResult {
	res.Metadata.CompletedAt = time.Now()
	res.Metadata.DurationMS = res.Metadata.CompletedAt.Sub(res.Metadata.StartedAt).Milliseconds()
	res.Metadata.StageAttempts = map[string]int{}
	res.Metadata.StageContentRetries = map[string]int{}
	for stage, m := range res.Attempts {
		res.Metadata.TotalLLMCalls += m.Attempts
		if m.Attempts > 1 {
			res.Metadata.TotalRetries += m.Attempts - 1
		}
		res.Metadata.StageAttempts[stage] = m.Attempts
		res.Metadata.StageContentRetries[stage] = m.ContentRetries
	}
	return res
}

// normalizePatientTerms trims entries and drops empties while preserving
// order and duplicates' first occurrence.
func normalizePatientTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := map[string]struct{}{}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

func BuildResponse(result PipelineResult) ResponseEnvelope {
	return ResponseEnvelope{
		CaseID:         result.Request.CaseID,
		Agent:          "raredx-diagnostic",
		Version:        AgentVersion,
		Ranked:         result.Ranked,
		ReportMarkdown: BuildReportMarkdown(result),
		Metadata:       result.Metadata,
	}
}
