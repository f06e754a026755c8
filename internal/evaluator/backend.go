package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/crossaudit/governance-server/internal/models"
)

// ScoreRequest carries the content handed to a scoring backend
type ScoreRequest struct {
	InputText     string           `json:"inputText"`
	GeneratedText string           `json:"generatedText"`
	Context       models.Variables `json:"context,omitempty"`
}

// ScoreResult is one backend's verdict on one metric
type ScoreResult struct {
	Metric   string           `json:"metric"`
	Score    float64          `json:"score"`
	Label    string           `json:"label,omitempty"`
	Metadata models.Variables `json:"metadata,omitempty"`
}

// Backend scores content on a single metric
type Backend interface {
	Name() string
	Metric() string
	Weight() int
	Score(ctx context.Context, req *ScoreRequest) (*ScoreResult, error)
}

// NewBackend builds a backend from an evaluator row
func NewBackend(ev *models.Evaluator) (Backend, error) {
	switch ev.Type {
	case models.EvaluatorTypeHTTP:
		if ev.Endpoint == "" {
			return nil, fmt.Errorf("evaluator %s: http backend requires an endpoint", ev.Name)
		}
		return &HTTPBackend{
			name:          ev.Name,
			metric:        ev.Metric,
			weight:        ev.Weight,
			endpoint:      ev.Endpoint,
			credentialRef: ev.CredentialRef,
			client:        &http.Client{},
		}, nil
	case models.EvaluatorTypeMock:
		return NewMockBackend(ev), nil
	default:
		return nil, fmt.Errorf("evaluator %s: unknown type %q", ev.Name, ev.Type)
	}
}

// HTTPBackend scores by POSTing content to a remote evaluator service
type HTTPBackend struct {
	name          string
	metric        string
	weight        int
	endpoint      string
	credentialRef string
	client        *http.Client
}

func (b *HTTPBackend) Name() string   { return b.name }
func (b *HTTPBackend) Metric() string { return b.metric }
func (b *HTTPBackend) Weight() int    { return b.weight }

type httpScoreRequest struct {
	Text    string           `json:"text"`
	Context models.Variables `json:"context,omitempty"`
}

type httpScoreResponse struct {
	Score    float64          `json:"score"`
	Label    string           `json:"label,omitempty"`
	Metadata models.Variables `json:"metadata,omitempty"`
}

// Score posts the content under the backend's timeout. The text sent is
// the generated text when present, otherwise the input.
func (b *HTTPBackend) Score(ctx context.Context, req *ScoreRequest) (*ScoreResult, error) {
	text := req.GeneratedText
	if text == "" {
		text = req.InputText
	}

	body, err := json.Marshal(httpScoreRequest{Text: text, Context: req.Context})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.credentialRef != "" {
		// Credentials are referenced by environment name, never stored
		if token := os.Getenv(b.credentialRef); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("evaluator %s: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluator %s: unexpected status %d", b.name, resp.StatusCode)
	}

	var scored httpScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("evaluator %s: decode response: %w", b.name, err)
	}

	return &ScoreResult{
		Metric:   b.metric,
		Score:    scored.Score,
		Label:    scored.Label,
		Metadata: scored.Metadata,
	}, nil
}

// MockBackend returns a configured score. Settings keys: score (float),
// label (string), delay_ms (int), fail (bool).
type MockBackend struct {
	name   string
	metric string
	weight int

	score float64
	label string
	delay time.Duration
	fail  bool
}

// NewMockBackend builds a mock from the evaluator's settings
func NewMockBackend(ev *models.Evaluator) *MockBackend {
	b := &MockBackend{
		name:   ev.Name,
		metric: ev.Metric,
		weight: ev.Weight,
	}
	if v, ok := ev.Settings["score"].(float64); ok {
		b.score = v
	}
	if v, ok := ev.Settings["label"].(string); ok {
		b.label = v
	}
	if v, ok := ev.Settings["delay_ms"].(float64); ok {
		b.delay = time.Duration(v) * time.Millisecond
	}
	if v, ok := ev.Settings["fail"].(bool); ok {
		b.fail = v
	}
	return b
}

func (b *MockBackend) Name() string   { return b.name }
func (b *MockBackend) Metric() string { return b.metric }
func (b *MockBackend) Weight() int    { return b.weight }

func (b *MockBackend) Score(ctx context.Context, req *ScoreRequest) (*ScoreResult, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.fail {
		return nil, fmt.Errorf("evaluator %s: configured to fail", b.name)
	}
	return &ScoreResult{Metric: b.metric, Score: b.score, Label: b.label}, nil
}
