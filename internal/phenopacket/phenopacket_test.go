package phenopacket

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCase(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCanonicalShape(t *testing.T) {
	path := writeCase(t, t.TempDir(), "case-1.json", `{
		"id": "case-1",
		"subject": {"sex": "FEMALE"},
		"phenotypicFeatures": [
			{"type": {"id": "HP:0001250", "label": "Seizure"}},
			{"type": {"id": "HP:0001263", "label": "Global developmental delay"}},
			{"type": {"id": "HP:0000252"}, "excluded": true}
		]
	}`)
	rec, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "case-1" || rec.Sex != "FEMALE" {
		t.Fatalf("record: %+v", rec)
	}
	if len(rec.HPOIDs) != 2 || rec.HPOIDs[0] != "HP:0001250" || rec.HPOIDs[1] != "HP:0001263" {
		t.Fatalf("excluded feature leaked: %v", rec.HPOIDs)
	}
}

func TestLoadLooseShapes(t *testing.T) {
	path := writeCase(t, t.TempDir(), "loose.json", `{
		"phenotypic_features": [
			"HP:0001250",
			{"id": "HP:0001263"}
		]
	}`)
	rec, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "loose" {
		t.Fatalf("expected filename fallback id, got %q", rec.ID)
	}
	if rec.Sex != "UNKNOWN" {
		t.Fatalf("sex: %q", rec.Sex)
	}
	if len(rec.HPOIDs) != 2 {
		t.Fatalf("terms: %v", rec.HPOIDs)
	}
}

func TestLoadRejectsUnknownFeatureShape(t *testing.T) {
	path := writeCase(t, t.TempDir(), "bad.json", `{
		"id": "bad",
		"phenotypicFeatures": [{"label": "Seizure"}]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeCase(t, t.TempDir(), "broken.json", `{`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestListCaseFilesSorted(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "b.json", `{}`)
	writeCase(t, dir, "a.json", `{}`)
	writeCase(t, dir, "notes.txt", "ignore")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListCaseFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files: %v", files)
	}
	if filepath.Base(files[0]) != "a.json" || filepath.Base(files[1]) != "b.json" {
		t.Fatalf("order: %v", files)
	}
}
