package results

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/raredx/raredx-agency/internal/diagnostic"
)

// Store archives completed pipeline runs in SQLite with write-through
// semantics: one row per run, one row per ranked candidate.
type Store struct {
	db *sqlx.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL,
	agent_version TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	degraded      INTEGER NOT NULL DEFAULT 0,
	llm_calls     INTEGER NOT NULL DEFAULT 0,
	retries       INTEGER NOT NULL DEFAULT 0,
	metadata      TEXT NOT NULL DEFAULT '{}',
	started_at    TEXT NOT NULL,
	completed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ranked_candidates (
	run_id           TEXT NOT NULL,
	rank             INTEGER NOT NULL,
	disease_name     TEXT NOT NULL,
	mondo_id         TEXT NOT NULL DEFAULT '',
	similarity_score REAL NOT NULL DEFAULT 0,
	reciprocal_score REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_runs_case ON runs(case_id);
`

func OpenStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun archives one completed pipeline result and returns the generated
// run ID.
func (s *Store) SaveRun(result diagnostic.PipelineResult) (string, error) {
	runID := uuid.NewString()
	meta := result.Metadata

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs (run_id, case_id, agent_version, model, degraded, llm_calls, retries, metadata, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		result.Request.CaseID,
		diagnostic.AgentVersion,
		meta.Model,
		boolToInt(meta.Degraded),
		meta.TotalLLMCalls,
		meta.TotalRetries,
		string(metaJSON),
		timeToString(meta.StartedAt),
		timeToString(meta.CompletedAt),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, c := range result.Ranked {
		if _, err := tx.Exec(`INSERT INTO ranked_candidates (run_id, rank, disease_name, mondo_id, similarity_score, reciprocal_score)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, c.Rank, c.Name, c.MondoID, c.SimilarityScore, c.ReciprocalScore,
		); err != nil {
			return "", fmt.Errorf("insert candidate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return runID, nil
}

// RunRow is a persisted run summary.
type RunRow struct {
	RunID       string `db:"run_id"`
	CaseID      string `db:"case_id"`
	Model       string `db:"model"`
	Degraded    int    `db:"degraded"`
	CompletedAt string `db:"completed_at"`
}

// RunsForCase returns the stored runs for a case, newest first.
func (s *Store) RunsForCase(caseID string) ([]RunRow, error) {
	var rows []RunRow
	err := s.db.Select(&rows,
		`SELECT run_id, case_id, model, degraded, completed_at FROM runs WHERE case_id = ? ORDER BY completed_at DESC`,
		caseID)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return rows, nil
}

// RankedForRun returns the archived candidates for one run in rank order.
func (s *Store) RankedForRun(runID string) ([]diagnostic.ScoredCandidate, error) {
	rows, err := s.db.Query(`SELECT rank, disease_name, mondo_id, similarity_score, reciprocal_score
		FROM ranked_candidates WHERE run_id = ? ORDER BY rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var out []diagnostic.ScoredCandidate
	for rows.Next() {
		var c diagnostic.ScoredCandidate
		if err := rows.Scan(&c.Rank, &c.Name, &c.MondoID, &c.SimilarityScore, &c.ReciprocalScore); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
