package results

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleMarkdown = `# Rare Disease Candidate Ranking

| Rank | Disease |
|------|---------|
| 1 | Rett syndrome |
`

func TestRenderHTMLTableFromGFM(t *testing.T) {
	doc, err := RenderHTML("case-1", sampleMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, "<table>") {
		t.Fatalf("GFM table not rendered:\n%s", doc)
	}
	if !strings.Contains(doc, "Rett syndrome") {
		t.Fatalf("content missing:\n%s", doc)
	}
	if !strings.Contains(doc, "Diagnostic Report case-1") {
		t.Fatalf("title missing:\n%s", doc)
	}
}

func TestRenderHTMLEscapesTitle(t *testing.T) {
	doc, err := RenderHTML(`<script>"x"</script>`, "body")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(doc, "<script>") {
		t.Fatalf("title not escaped:\n%s", doc)
	}
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteHTML(dir, "case-1", sampleMarkdown)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "case-1-raredx_report.html" {
		t.Fatalf("filename: %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "<!doctype html>") {
		t.Fatalf("not a standalone document")
	}
}
