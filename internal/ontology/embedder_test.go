package ontology

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPEmbedderEmbed(t *testing.T) {
	var seen embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "test-model")
	vec, err := e.Embed(context.Background(), "search_query: Rett syndrome")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector: %v", vec)
	}
	if seen.Model != "test-model" || seen.Prompt != "search_query: Rett syndrome" {
		t.Fatalf("request: %+v", seen)
	}
}

func TestHTTPEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "test-model")
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestHTTPEmbedderEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "test-model")
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on empty embedding")
	}
}
