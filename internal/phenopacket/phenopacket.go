// Package phenopacket loads patient phenotype records. It accepts the GA4GH
// phenopacket layout plus the looser shapes seen in exported case files and
// normalizes all of them into a flat HPO term list at the ingestion
// boundary.
package phenopacket

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Record struct {
	ID     string
	HPOIDs []string
	Sex    string
}

type rawPhenopacket struct {
	ID      string `json:"id"`
	Subject struct {
		Sex string `json:"sex"`
	} `json:"subject"`
	PhenotypicFeatures []json.RawMessage `json:"phenotypicFeatures"`
	// Some exports use snake_case.
	PhenotypicFeaturesSnake []json.RawMessage `json:"phenotypic_features"`
}

// Load reads one phenopacket JSON file, returning the observed (non-excluded)
// phenotypic feature term IDs in document order and the subject sex
// (UNKNOWN when absent).
func Load(path string) (Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read phenopacket: %w", err)
	}
	var raw rawPhenopacket
	if err := json.Unmarshal(b, &raw); err != nil {
		return Record{}, fmt.Errorf("decode phenopacket %s: %w", filepath.Base(path), err)
	}

	features := raw.PhenotypicFeatures
	if len(features) == 0 {
		features = raw.PhenotypicFeaturesSnake
	}

	rec := Record{
		ID:  raw.ID,
		Sex: normalizeSex(raw.Subject.Sex),
	}
	if rec.ID == "" {
		rec.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, f := range features {
		id, excluded, err := normalizeFeature(f)
		if err != nil {
			return Record{}, fmt.Errorf("phenopacket %s feature %d: %w", filepath.Base(path), i, err)
		}
		if excluded || id == "" {
			continue
		}
		rec.HPOIDs = append(rec.HPOIDs, id)
	}
	return rec, nil
}

// ListCaseFiles returns the JSON files in dir, sorted by name so runs are
// deterministic.
func ListCaseFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read phenopacket dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// normalizeFeature accepts the shapes a phenotypic feature appears in across
// exports: a bare term string, an object with a top-level "id", or the
// canonical object with a nested "type": {"id", "label"}. Anything else is
// a hard error; scattering shape checks through downstream scoring is how
// malformed records slip through.
func normalizeFeature(raw json.RawMessage) (id string, excluded bool, err error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s), false, nil
	}

	var obj struct {
		ID       string `json:"id"`
		Excluded bool   `json:"excluded"`
		Type     struct {
			ID string `json:"id"`
		} `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false, fmt.Errorf("unsupported phenotypic feature shape: %w", err)
	}
	switch {
	case obj.Type.ID != "":
		return strings.TrimSpace(obj.Type.ID), obj.Excluded, nil
	case obj.ID != "":
		return strings.TrimSpace(obj.ID), obj.Excluded, nil
	default:
		return "", false, fmt.Errorf("unsupported phenotypic feature shape: no term id")
	}
}

func normalizeSex(sex string) string {
	sex = strings.ToUpper(strings.TrimSpace(sex))
	if sex == "" {
		return "UNKNOWN"
	}
	return sex
}
