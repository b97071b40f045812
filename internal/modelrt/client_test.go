package modelrt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, DefaultPoolConfig(), zerolog.New(io.Discard))
}

func TestListModels(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llava", "size": 123, "modified_at": "2026-01-01T00:00:00Z"},
			},
		})
	})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llava" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestPullModelSuccess(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(map[string]string{"status": "pulling manifest"})
		enc.Encode(map[string]string{"status": "success"})
	})

	if err := c.PullModel(context.Background(), "llava"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPullModelError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
	})

	err := c.PullModel(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyzeImage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if len(body["images"].([]any)) != 1 {
			t.Fatalf("expected one image, got %v", body["images"])
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "a bar chart showing revenue growth", "done": true})
	})

	out, err := c.AnalyzeImage(context.Background(), AnalyzeImageRequest{
		Model:     "llava",
		Prompt:    "describe this slide",
		ImageJPEG: []byte{0xFF, 0xD8, 0xFF},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a bar chart showing revenue growth" {
		t.Fatalf("unexpected response: %q", out)
	}
}

func TestDoMapsServerErrorToModelUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	})

	_, err := c.Complete(context.Background(), CompleteRequest{Model: "llama3.1", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
}
