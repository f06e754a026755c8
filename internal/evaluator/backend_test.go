package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

func TestHTTPBackendScore(t *testing.T) {
	t.Setenv("TOXICITY_API_TOKEN", "secret-token")

	var gotAuth string
	var gotReq httpScoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(httpScoreResponse{Score: 0.72, Label: "toxic"})
	}))
	defer srv.Close()

	backend, err := NewBackend(&models.Evaluator{
		ID:            uuid.New(),
		Name:          "perspective",
		Type:          models.EvaluatorTypeHTTP,
		Metric:        "toxicity",
		Endpoint:      srv.URL,
		CredentialRef: "TOXICITY_API_TOKEN",
	})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	result, err := backend.Score(context.Background(), &ScoreRequest{
		InputText:     "prompt",
		GeneratedText: "generated",
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if result.Metric != "toxicity" || result.Score != 0.72 || result.Label != "toxic" {
		t.Errorf("result = %+v", result)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("authorization = %q, credential ref not resolved", gotAuth)
	}
	if gotReq.Text != "generated" {
		t.Errorf("scored text = %q, want the generated text", gotReq.Text)
	}
}

func TestHTTPBackendScoreFallsBackToInputText(t *testing.T) {
	var gotReq httpScoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(httpScoreResponse{Score: 0.1})
	}))
	defer srv.Close()

	backend, err := NewBackend(&models.Evaluator{
		Name: "b", Type: models.EvaluatorTypeHTTP, Metric: "pii", Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Score(context.Background(), &ScoreRequest{InputText: "just the prompt"}); err != nil {
		t.Fatalf("score: %v", err)
	}
	if gotReq.Text != "just the prompt" {
		t.Errorf("scored text = %q", gotReq.Text)
	}
}

func TestHTTPBackendScoreRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backend, err := NewBackend(&models.Evaluator{
		Name: "flaky", Type: models.EvaluatorTypeHTTP, Metric: "bias", Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Score(context.Background(), &ScoreRequest{InputText: "x"}); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}

func TestMockBackendHonorsCancel(t *testing.T) {
	backend := NewMockBackend(&models.Evaluator{
		Name:     "slow",
		Metric:   "toxicity",
		Settings: models.Variables{"delay_ms": 5000.0},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := backend.Score(ctx, &ScoreRequest{InputText: "x"})
	if err == nil {
		t.Fatal("expected a context error")
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("score blocked for %v past cancellation", elapsed)
	}
}

func TestNewBackendRejectsUnknownType(t *testing.T) {
	if _, err := NewBackend(&models.Evaluator{Name: "x", Type: "grpc"}); err == nil {
		t.Error("expected an error for an unknown evaluator type")
	}
}
