package diagnostic

import (
	"fmt"
	"strings"
	"time"
)

const Disclaimer = "This is an automated diagnostic-reasoning aid, not a clinical diagnosis. " +
	"Candidate rankings reflect phenotype-set overlap against ontology profiles and must be " +
	"reviewed by a qualified clinician."

func BuildReportMarkdown(result PipelineResult) string {
	var b strings.Builder
	buildHeader(&b, result)
	buildRankedTable(&b, result)
	buildCandidatePool(&b, result)
	buildMetadata(&b, result)
	return b.String()
}

func buildHeader(b *strings.Builder, result PipelineResult) {
	fmt.Fprintf(b, "# Rare Disease Candidate Ranking\n\n")
	fmt.Fprintf(b, "- Case ID: %s\n", result.Request.CaseID)
	fmt.Fprintf(b, "- Observed HPO terms: %d\n", len(result.Request.PatientTerms))
	fmt.Fprintf(b, "- Date: %s\n\n", time.Now().Format(time.RFC3339))
	if result.Metadata.Degraded && result.Metadata.DegradedReason != nil {
		fmt.Fprintf(b, "**Degraded run:** %s\n\n", *result.Metadata.DegradedReason)
	}
	fmt.Fprintf(b, "%s\n\n", Disclaimer)
}

func buildRankedTable(b *strings.Builder, result PipelineResult) {
	fmt.Fprintf(b, "## Ranked Candidates\n\n")
	if len(result.Ranked) == 0 {
		fmt.Fprintf(b, "No candidates were proposed for this case.\n\n")
		return
	}
	fmt.Fprintf(b, "| Rank | Score | Jaccard | Disease | MONDO ID | Resolution |\n")
	fmt.Fprintf(b, "|------|-------|---------|---------|----------|------------|\n")
	for _, c := range result.Ranked {
		fmt.Fprintf(b, "| %d | %.4f | %.4f | %s | %s | %s |\n",
			c.Rank, c.ReciprocalScore, c.SimilarityScore, safe(c.Name), c.DisplayMondoID(), resolutionMethod(c))
	}
	b.WriteString("\n")
}

func resolutionMethod(c ScoredCandidate) string {
	switch {
	case !c.Resolved():
		return "unresolved"
	case c.Confidence != nil:
		return fmt.Sprintf("embedding (%.4f)", *c.Confidence)
	default:
		return "lexical"
	}
}

func buildCandidatePool(b *strings.Builder, result PipelineResult) {
	if len(result.Stage1.CandidateDiseases) == 0 {
		return
	}
	fmt.Fprintf(b, "## Proposed Candidate Pool\n\n")
	for _, c := range result.Stage1.CandidateDiseases {
		fmt.Fprintf(b, "- %s: %s\n", safe(c.DiseaseName), safe(c.Rationale))
	}
	b.WriteString("\n")
}

func buildMetadata(b *strings.Builder, result PipelineResult) {
	m := result.Metadata
	fmt.Fprintf(b, "## Run Metadata\n\n")
	fmt.Fprintf(b, "- Model: %s\n", m.Model)
	fmt.Fprintf(b, "- Candidates proposed: %d, resolved: %d\n", m.CandidatesProposed, m.CandidatesResolved)
	fmt.Fprintf(b, "- Grounding batches: %d\n", m.GroundingBatches)
	fmt.Fprintf(b, "- LLM calls: %d (retries: %d)\n", m.TotalLLMCalls, m.TotalRetries)
	fmt.Fprintf(b, "- Duration: %dms\n", m.DurationMS)
}

func safe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(none)"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
