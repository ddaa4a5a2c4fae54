// Package ontology grounds free-text disease labels to MONDO identifiers.
// It owns the SQLite disease-ontology store, the precomputed embedding
// index over ontology labels, and the two-phase resolver on top of both.
package ontology

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS terms (
	id    TEXT PRIMARY KEY,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS synonyms (
	id      TEXT NOT NULL,
	synonym TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_terms_label ON terms(label COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_synonyms_synonym ON synonyms(synonym COLLATE NOCASE);
`

// Hit is one lexical search result.
type Hit struct {
	ID    string `db:"id"`
	Label string `db:"label"`
}

// Entity is a full ontology entry, used when enumerating the store to build
// the embedding index.
type Entity struct {
	ID       string
	Label    string
	Synonyms []string
}

// Store is a read-mostly handle to the disease-ontology SQLite database.
type Store struct {
	db *sqlx.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ontology store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ontology schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InsertEntity adds a term and its synonyms. Used by store-building tooling
// and tests; the pipeline itself only reads.
func (s *Store) InsertEntity(ctx context.Context, e Entity) error {
	if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Label) == "" {
		return fmt.Errorf("entity id and label are required")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO terms (id, label) VALUES (?, ?)`, e.ID, e.Label); err != nil {
		return fmt.Errorf("insert term %s: %w", e.ID, err)
	}
	for _, syn := range e.Synonyms {
		syn = strings.TrimSpace(syn)
		if syn == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO synonyms (id, synonym) VALUES (?, ?)`, e.ID, syn); err != nil {
			return fmt.Errorf("insert synonym for %s: %w", e.ID, err)
		}
	}
	return nil
}

// Search runs the lexical phase: exact label match first, then exact
// synonym match, then substring match on labels. Results keep that phase
// ordering so the first hit is the strongest lexical evidence.
func (s *Store) Search(ctx context.Context, label string) ([]Hit, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, nil
	}

	var hits []Hit
	seen := map[string]struct{}{}
	add := func(rows []Hit) {
		for _, h := range rows {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			hits = append(hits, h)
		}
	}

	var exact []Hit
	if err := s.db.SelectContext(ctx, &exact,
		`SELECT id, label FROM terms WHERE label = ? COLLATE NOCASE ORDER BY id LIMIT 10`, label); err != nil {
		return nil, fmt.Errorf("label search: %w", err)
	}
	add(exact)

	var viaSynonym []Hit
	if err := s.db.SelectContext(ctx, &viaSynonym,
		`SELECT t.id, t.label FROM synonyms s JOIN terms t ON t.id = s.id
		 WHERE s.synonym = ? COLLATE NOCASE ORDER BY t.id LIMIT 10`, label); err != nil {
		return nil, fmt.Errorf("synonym search: %w", err)
	}
	add(viaSynonym)

	if len(hits) == 0 {
		var substring []Hit
		if err := s.db.SelectContext(ctx, &substring,
			`SELECT id, label FROM terms WHERE label LIKE ? ESCAPE '\' COLLATE NOCASE ORDER BY length(label), id LIMIT 10`,
			"%"+escapeLike(label)+"%"); err != nil {
			return nil, fmt.Errorf("substring search: %w", err)
		}
		add(substring)
	}
	return hits, nil
}

// AllEntities streams every term with its synonyms, ordered by ID, for
// index construction.
func (s *Store) AllEntities(ctx context.Context) ([]Entity, error) {
	var terms []Hit
	if err := s.db.SelectContext(ctx, &terms, `SELECT id, label FROM terms ORDER BY id`); err != nil {
		return nil, fmt.Errorf("enumerate terms: %w", err)
	}

	synByID := map[string][]string{}
	rows, err := s.db.QueryxContext(ctx, `SELECT id, synonym FROM synonyms ORDER BY id, synonym`)
	if err != nil {
		return nil, fmt.Errorf("enumerate synonyms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, syn string
		if err := rows.Scan(&id, &syn); err != nil {
			return nil, fmt.Errorf("scan synonym: %w", err)
		}
		synByID[id] = append(synByID[id], syn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate synonyms: %w", err)
	}

	out := make([]Entity, 0, len(terms))
	for _, t := range terms {
		out = append(out, Entity{ID: t.ID, Label: t.Label, Synonyms: synByID[t.ID]})
	}
	return out, nil
}

// CountTerms reports the number of terms in the store.
func (s *Store) CountTerms(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM terms`); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count terms: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer("%", "\\%", "_", "\\_")
	return r.Replace(s)
}
