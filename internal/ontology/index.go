package ontology

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	indexVectorsFile = "mondo_vectors.bin"
	indexLabelsFile  = "mondo_labels.json"
	indexIDsFile     = "mondo_ids.json"
)

// IndexHit is one nearest-neighbor result. Score is the inner product of
// the query with the stored vector; over unit-normalized vectors this is
// the cosine similarity.
type IndexHit struct {
	Position int
	Label    string
	ID       string
	Score    float64
}

// VectorIndex is a flat inner-product index over unit-normalized label
// embeddings with parallel label and identifier arrays. Read-only after
// construction and safe for concurrent searches.
type VectorIndex struct {
	dim     int
	vectors []float32
	labels  []string
	ids     []string
}

func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim}
}

func (ix *VectorIndex) Len() int { return len(ix.labels) }
func (ix *VectorIndex) Dim() int { return ix.dim }

// Add appends a vector with its label and identifier. The vector must
// already be unit-normalized and match the index dimension.
func (ix *VectorIndex) Add(label, id string, vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), ix.dim)
	}
	ix.vectors = append(ix.vectors, vec...)
	ix.labels = append(ix.labels, label)
	ix.ids = append(ix.ids, id)
	return nil
}

// Search returns the k highest-inner-product entries for the query vector,
// best first. Ties keep insertion order.
func (ix *VectorIndex) Search(query []float32, k int) ([]IndexHit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k <= 0 || ix.Len() == 0 {
		return nil, nil
	}
	if k > ix.Len() {
		k = ix.Len()
	}

	// Exhaustive scan with a small best-k insertion; candidate counts are
	// ontology-sized (tens of thousands), k is 1 in practice.
	best := make([]IndexHit, 0, k)
	for pos := 0; pos < ix.Len(); pos++ {
		var dot float64
		row := ix.vectors[pos*ix.dim : (pos+1)*ix.dim]
		for i, q := range query {
			dot += float64(q) * float64(row[i])
		}
		hit := IndexHit{Position: pos, Label: ix.labels[pos], ID: ix.ids[pos], Score: dot}
		insertAt := len(best)
		for i := range best {
			if hit.Score > best[i].Score {
				insertAt = i
				break
			}
		}
		if insertAt == len(best) {
			if len(best) < k {
				best = append(best, hit)
			}
			continue
		}
		if len(best) < k {
			best = append(best, IndexHit{})
		}
		copy(best[insertAt+1:], best[insertAt:])
		best[insertAt] = hit
	}
	return best, nil
}

// Save writes the index to dir as a binary vector file plus parallel JSON
// label and identifier arrays.
func (ix *VectorIndex) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, indexVectorsFile))
	if err != nil {
		return fmt.Errorf("create vectors file: %w", err)
	}
	defer f.Close()
	header := []uint32{uint32(ix.dim), uint32(ix.Len())}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write vectors header: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, ix.vectors); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, indexLabelsFile), ix.labels); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, indexIDsFile), ix.ids)
}

// LoadIndex reads an index previously written by Save. The label and ID
// arrays must be the same length as the vector count or the index is
// considered corrupt.
func LoadIndex(dir string) (*VectorIndex, error) {
	f, err := os.Open(filepath.Join(dir, indexVectorsFile))
	if err != nil {
		return nil, fmt.Errorf("open vectors file: %w", err)
	}
	defer f.Close()

	var header [2]uint32
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read vectors header: %w", err)
	}
	dim, count := int(header[0]), int(header[1])
	if dim <= 0 {
		return nil, fmt.Errorf("corrupt index: dimension %d", dim)
	}
	vectors := make([]float32, dim*count)
	if err := binary.Read(f, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}

	var labels, ids []string
	if err := readJSON(filepath.Join(dir, indexLabelsFile), &labels); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, indexIDsFile), &ids); err != nil {
		return nil, err
	}
	if len(labels) != count || len(ids) != count {
		return nil, fmt.Errorf("corrupt index: %d vectors, %d labels, %d ids", count, len(labels), len(ids))
	}
	return &VectorIndex{dim: dim, vectors: vectors, labels: labels, ids: ids}, nil
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
