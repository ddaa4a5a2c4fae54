package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/raredx/raredx-agency/internal/diagnostic"
	"github.com/raredx/raredx-agency/internal/knowledge"
	"github.com/raredx/raredx-agency/internal/ontology"
	"github.com/raredx/raredx-agency/internal/phenopacket"
	"github.com/raredx/raredx-agency/internal/results"
	"github.com/raredx/raredx-agency/internal/tracing"
)

func main() {
	casesDir := flag.String("cases", "", "Directory of phenopacket JSON files (all are processed)")
	caseFile := flag.String("case", "", "Single phenopacket JSON file")
	outDir := flag.String("out", "results", "Output directory for TSV and HTML reports")
	storePath := flag.String("mondo-db", "mondo.db", "MONDO ontology SQLite database")
	indexDir := flag.String("index-dir", "mondo-index", "Directory holding the embedding index")
	runsDB := flag.String("runs-db", "", "Optional SQLite archive for completed runs")
	jsonOut := flag.Bool("json", false, "Print the full response envelope as JSON")
	flag.Parse()

	if (*casesDir == "") == (*caseFile == "") {
		log.Fatal("exactly one of -cases or -case is required")
	}

	caller, err := diagnostic.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	exec := diagnostic.NewStageExecutor(caller)
	runner := diagnostic.NewLLMStageRunner(exec)

	resolver := ontology.NewResolver(ontology.ResolverConfig{
		StorePath: *storePath,
		IndexDir:  *indexDir,
		Threshold: envFloat("RAREDX_SIMILARITY_THRESHOLD", ontology.DefaultThreshold),
		Embedder:  ontology.NewHTTPEmbedder(os.Getenv("RAREDX_EMBED_URL"), os.Getenv("RAREDX_EMBED_MODEL")),
	})
	retriever := knowledge.NewClient(knowledge.Config{
		BaseURL:            os.Getenv("RAREDX_MONARCH_URL"),
		Limit:              envInt("RAREDX_PHENOTYPE_LIMIT", knowledge.DefaultPhenotypeLimit),
		RateLimitPerMinute: envInt("RAREDX_RATE_LIMIT", knowledge.DefaultRateLimitPerMinute),
	})
	ranker := diagnostic.NewRanker(resolver, retriever, envInt("RAREDX_TOP_K", diagnostic.DefaultTopK))
	pipeline := diagnostic.NewPipeline(runner, ranker)
	if err := pipeline.ValidateConfig(); err != nil {
		log.Fatal(err)
	}

	var archive *results.Store
	if *runsDB != "" {
		archive, err = results.OpenStore(*runsDB)
		if err != nil {
			log.Fatal(err)
		}
		defer archive.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := tracing.Setup(ctx, "raredx-pipeline", diagnostic.AgentVersion)
	if err != nil {
		log.Fatal(err)
	}
	defer shutdown(context.Background())

	paths := []string{*caseFile}
	if *casesDir != "" {
		paths, err = phenopacket.ListCaseFiles(*casesDir)
		if err != nil {
			log.Fatal(err)
		}
		if len(paths) == 0 {
			log.Fatalf("no phenopacket files in %s", *casesDir)
		}
	}

	failed := 0
	for _, path := range paths {
		if err := runCase(ctx, pipeline, archive, path, *outDir, *jsonOut); err != nil {
			if ctx.Err() != nil {
				log.Fatal(ctx.Err())
			}
			log.Printf("case %s failed: %v", filepath.Base(path), err)
			failed++
		}
	}
	if failed > 0 {
		log.Fatalf("%d of %d cases failed", failed, len(paths))
	}
}

func runCase(ctx context.Context, pipeline *diagnostic.Pipeline, archive *results.Store, path, outDir string, jsonOut bool) error {
	rec, err := phenopacket.Load(path)
	if err != nil {
		return err
	}
	log.Printf("case %s: %d patient terms, sex=%s", rec.ID, len(rec.HPOIDs), rec.Sex)

	req := diagnostic.RequestEnvelope{CaseID: rec.ID, PatientTerms: rec.HPOIDs, Sex: rec.Sex}
	result, err := pipeline.RunWithProgress(ctx, req, func(stage, message string) {
		log.Printf("case %s %s: %s", rec.ID, stage, message)
	})
	if err != nil {
		return err
	}

	tsvPath, err := results.WriteTSV(outDir, rec.ID, result.Ranked)
	if err != nil {
		return err
	}
	response := diagnostic.BuildResponse(result)
	htmlPath, err := results.WriteHTML(outDir, rec.ID, response.ReportMarkdown)
	if err != nil {
		return err
	}
	if archive != nil {
		runID, err := archive.SaveRun(result)
		if err != nil {
			return err
		}
		log.Printf("case %s archived as run %s", rec.ID, runID)
	}
	log.Printf("case %s: wrote %s and %s (degraded=%v)", rec.ID, tsvPath, htmlPath, result.Metadata.Degraded)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			return err
		}
	}
	return nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	if n <= 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return fallback
	}
	return f
}
