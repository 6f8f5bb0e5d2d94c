package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/docintel/internal/core/domain"
)

func TestGenerateSendsModelAndPrompt(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":" CATEGORIA: fattura "}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen-model", "vision-model", nil)
	got, err := client.Generate(context.Background(), "classifica questo documento")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "CATEGORIA: fattura" {
		t.Fatalf("response = %q, want trimmed category line", got)
	}
	if captured["model"] != "gen-model" {
		t.Fatalf("model = %v, want gen-model", captured["model"])
	}
	if captured["prompt"] != "classifica questo documento" {
		t.Fatalf("prompt = %v", captured["prompt"])
	}
	if _, ok := captured["images"]; ok {
		t.Fatal("text generation must not carry images")
	}
}

func TestGenerateVisionCarriesImage(t *testing.T) {
	imageBytes := []byte{0x89, 0x50, 0x4e, 0x47}
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"testo trascritto"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen-model", "vision-model", nil)
	got, err := client.GenerateVision(context.Background(), "trascrivi", imageBytes)
	if err != nil {
		t.Fatalf("GenerateVision() error = %v", err)
	}
	if got != "testo trascritto" {
		t.Fatalf("response = %q", got)
	}
	if captured["model"] != "vision-model" {
		t.Fatalf("model = %v, want vision-model", captured["model"])
	}
	images, ok := captured["images"].([]any)
	if !ok || len(images) != 1 {
		t.Fatalf("images = %v, want one entry", captured["images"])
	}
	if images[0] != base64.StdEncoding.EncodeToString(imageBytes) {
		t.Fatalf("image payload not base64 encoded: %v", images[0])
	}
}

func TestGenerateServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "gen-model", "vision-model", nil)
	_, err := client.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("503 should map to a temporary error, got %v", err)
	}
}

func TestGenerateClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "gen-model", "vision-model", nil)
	_, err := client.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be retried, got %v", err)
	}
}
