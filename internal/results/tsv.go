// Package results persists pipeline output: one TSV per case, a SQLite run
// archive, and a styled HTML rendering of the markdown report.
package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/raredx/raredx-agency/internal/diagnostic"
)

var tsvHeader = []string{"rank", "score", "disease_name", "mondo_id"}

// TSVPath returns the per-case result filename inside dir.
func TSVPath(dir, caseID string) string {
	return filepath.Join(dir, caseID+"-raredx_result.tsv")
}

// WriteTSV writes the ranked candidates for one case as tab-separated rows.
// The score column carries the reciprocal-rank score, not the raw Jaccard
// value; the raw similarity is a report concern. Unresolved candidates keep
// their rows with the not-found marker in the mondo_id column.
func WriteTSV(dir, caseID string, ranked []diagnostic.ScoredCandidate) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := TSVPath(dir, caseID)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create tsv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(tsvHeader); err != nil {
		return "", fmt.Errorf("write tsv header: %w", err)
	}
	for _, c := range ranked {
		row := []string{
			strconv.Itoa(c.Rank),
			strconv.FormatFloat(c.ReciprocalScore, 'f', 4, 64),
			c.Name,
			c.DisplayMondoID(),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write tsv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush tsv: %w", err)
	}
	return path, nil
}
