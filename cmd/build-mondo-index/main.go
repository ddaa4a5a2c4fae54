// Command build-mondo-index embeds every label and synonym in the MONDO
// ontology database and writes the embedding index the resolver searches at
// runtime. Rebuild the index whenever the database or the embedding model
// changes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/raredx/raredx-agency/internal/ontology"
)

func main() {
	storePath := flag.String("mondo-db", "mondo.db", "MONDO ontology SQLite database")
	indexDir := flag.String("index-dir", "mondo-index", "Output directory for the embedding index")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := ontology.OpenStore(*storePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	entities, err := store.AllEntities(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if len(entities) == 0 {
		log.Fatalf("no terms in %s", *storePath)
	}
	log.Printf("embedding %d ontology entities", len(entities))

	embedder := ontology.NewHTTPEmbedder(os.Getenv("RAREDX_EMBED_URL"), os.Getenv("RAREDX_EMBED_MODEL"))

	var index *ontology.VectorIndex
	embedded := 0
	for _, e := range entities {
		labels := append([]string{e.Label}, e.Synonyms...)
		for _, label := range labels {
			if label == "" {
				continue
			}
			vec, err := embedder.Embed(ctx, ontology.DocumentPrefix+label)
			if err != nil {
				log.Fatalf("embed %q: %v", label, err)
			}
			vec = ontology.Normalize(vec)
			if index == nil {
				index = ontology.NewVectorIndex(len(vec))
			}
			if err := index.Add(label, e.ID, vec); err != nil {
				log.Fatal(err)
			}
			embedded++
			if embedded%1000 == 0 {
				log.Printf("embedded %d entries", embedded)
			}
		}
	}

	if err := index.Save(*indexDir); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote index with %d entries (dim=%d) to %s", index.Len(), index.Dim(), *indexDir)
}
