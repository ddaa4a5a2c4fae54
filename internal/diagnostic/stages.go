package diagnostic

import (
	"context"
	"fmt"
	"strings"
)

type StageRunner interface {
	RunStage1(ctx context.Context, req RequestEnvelope) (Stage1Output, StageAttemptMetrics, error)
}

type LLMStageRunner struct {
	exec *StageExecutor
}

func NewLLMStageRunner(exec *StageExecutor) *LLMStageRunner {
	return &LLMStageRunner{exec: exec}
}

func (r *LLMStageRunner) RunStage1(ctx context.Context, req RequestEnvelope) (Stage1Output, StageAttemptMetrics, error) {
	out := Stage1Output{}
	prompt := buildStage1Prompt(req)
	m, err := r.exec.Run(ctx, "stage_1", prompt, &out, func() error {
		return validateAndNormalizeStage1(&out)
	})
	return out, m, err
}

func buildStage1Prompt(req RequestEnvelope) string {
	var b strings.Builder
	b.WriteString("Return valid JSON only. No markdown fences, no commentary.\n\n")
	b.WriteString(`You are a rare-disease diagnostician. Given a patient's observed phenotype
terms (HPO identifiers) and sex, propose candidate diseases that could
explain the phenotype profile.

IMPORTANT: Return valid JSON only. No markdown fences, no commentary, no
preamble. Your entire response must be a single JSON object matching the
schema below.

RULES:
- Propose between 5 and 20 candidate diseases, most likely first.
- Use the disease's common clinical name as disease_name. Do NOT output
  MONDO or OMIM identifiers; grounding to ontology identifiers happens in a
  later step with its own tooling.
- Prefer specific disease entities over broad disease families when the
  phenotype profile supports it.
- For each candidate, give a one-sentence rationale tying it to the
  observed terms.

Required output schema:
{
  "candidate_diseases": [
    {
      "disease_name": "string (clinical disease name)",
      "rationale": "string (min 10 chars)"
    }
  ],
  "confidence_score": "float (0.0-1.0)",
  "confidence_reason": "string (min 10 chars)"
}
`)
	b.WriteString("\nPATIENT CASE: " + req.CaseID + "\n")
	b.WriteString("PATIENT SEX: " + patientSexOrUnknown(req.Sex) + "\n")
	b.WriteString("OBSERVED HPO TERMS:\n" + strings.Join(req.PatientTerms, ", ") + "\n")
	return b.String()
}

func validateAndNormalizeStage1(s *Stage1Output) error {
	s.ConfidenceReason = strings.TrimSpace(s.ConfidenceReason)
	if s.ConfidenceScore < 0 || s.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score out of range")
	}
	if len(s.ConfidenceReason) < 10 {
		return fmt.Errorf("confidence_reason too short")
	}
	if len(s.CandidateDiseases) < MinCandidates || len(s.CandidateDiseases) > MaxCandidates {
		return fmt.Errorf("candidate_diseases count")
	}
	for i := range s.CandidateDiseases {
		c := &s.CandidateDiseases[i]
		c.DiseaseName = strings.TrimSpace(c.DiseaseName)
		c.Rationale = clampString(c.Rationale, 300)
		if c.DiseaseName == "" {
			return fmt.Errorf("candidate %d disease_name empty", i+1)
		}
		if looksLikeOntologyID(c.DiseaseName) {
			return fmt.Errorf("candidate %d disease_name must be a clinical name, not an identifier", i+1)
		}
	}
	return nil
}

// looksLikeOntologyID catches models returning "MONDO:0007523" style labels
// where a clinical name was asked for.
func looksLikeOntologyID(name string) bool {
	upper := strings.ToUpper(name)
	for _, prefix := range []string{"MONDO:", "OMIM:", "ORPHA:", "HP:"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

func patientSexOrUnknown(sex string) string {
	sex = strings.ToUpper(strings.TrimSpace(sex))
	if sex == "" {
		return "UNKNOWN"
	}
	return sex
}

func clampString(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
