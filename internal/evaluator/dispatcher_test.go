package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// poolStore stubs member resolution; the rest of the Store interface is
// never touched by the dispatcher.
type poolStore struct {
	storage.Store
	evaluators []*models.Evaluator
}

func (s *poolStore) GetPoolEvaluators(ctx context.Context, poolID uuid.UUID) ([]*models.Evaluator, error) {
	return s.evaluators, nil
}

func mockEvaluator(name, metric string, weight int, settings models.Variables) *models.Evaluator {
	return &models.Evaluator{
		ID:       uuid.New(),
		OrgID:    uuid.New(),
		Name:     name,
		Type:     models.EvaluatorTypeMock,
		Metric:   metric,
		Weight:   weight,
		IsActive: true,
		Settings: settings,
	}
}

func TestDispatchRoundRobinCyclesMembers(t *testing.T) {
	store := &poolStore{evaluators: []*models.Evaluator{
		mockEvaluator("a", "m1", 1, models.Variables{"score": 0.1}),
		mockEvaluator("b", "m2", 1, models.Variables{"score": 0.2}),
		mockEvaluator("c", "m3", 1, models.Variables{"score": 0.3}),
	}}

	d := NewDispatcher(store, time.Second)
	pool := &models.EvaluatorPool{ID: uuid.New(), Strategy: models.StrategyRoundRobin, TimeoutMS: 1000}

	var seen []string
	for i := 0; i < 6; i++ {
		scores, calls, err := d.Dispatch(context.Background(), pool, &ScoreRequest{InputText: "x"})
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		if calls != 1 {
			t.Fatalf("dispatch %d: calls = %d, want 1", i, calls)
		}
		if len(scores) != 1 {
			t.Fatalf("dispatch %d: scores = %v, want one entry", i, scores)
		}
		for metric := range scores {
			seen = append(seen, metric)
		}
	}

	want := []string{"m1", "m2", "m3", "m1", "m2", "m3"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", seen, want)
		}
	}
}

func TestDispatchWeightedHonorsZeroWeight(t *testing.T) {
	store := &poolStore{evaluators: []*models.Evaluator{
		mockEvaluator("heavy", "m1", 5, models.Variables{"score": 0.5}),
		mockEvaluator("never", "m2", 0, models.Variables{"score": 0.9}),
	}}

	d := NewDispatcher(store, time.Second)
	pool := &models.EvaluatorPool{ID: uuid.New(), Strategy: models.StrategyWeighted, TimeoutMS: 1000}

	for i := 0; i < 20; i++ {
		scores, _, err := d.Dispatch(context.Background(), pool, &ScoreRequest{InputText: "x"})
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if _, ok := scores["m2"]; ok {
			t.Fatal("zero-weight member was dispatched")
		}
	}
}

func TestDispatchFastestReturnsOnFirstSuccess(t *testing.T) {
	store := &poolStore{evaluators: []*models.Evaluator{
		mockEvaluator("fast", "toxicity", 1, models.Variables{"score": 0.4, "delay_ms": 10.0}),
		mockEvaluator("slow", "toxicity", 1, models.Variables{"score": 0.8, "delay_ms": 500.0}),
	}}

	d := NewDispatcher(store, time.Second)
	pool := &models.EvaluatorPool{ID: uuid.New(), Strategy: models.StrategyFastest, TimeoutMS: 1000}

	started := time.Now()
	scores, calls, err := d.Dispatch(context.Background(), pool, &ScoreRequest{InputText: "x"})
	elapsed := time.Since(started)

	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want both fanned-out members counted", calls)
	}
	if scores["toxicity"] != 0.4 {
		t.Errorf("score = %v, want the fast member's 0.4", scores["toxicity"])
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("dispatch took %v, should not wait for the slow member", elapsed)
	}
}

func TestDispatchFastestOmitsFailedMembers(t *testing.T) {
	store := &poolStore{evaluators: []*models.Evaluator{
		mockEvaluator("broken", "pii", 1, models.Variables{"fail": true}),
		mockEvaluator("ok", "toxicity", 1, models.Variables{"score": 0.3}),
	}}

	d := NewDispatcher(store, time.Second)
	pool := &models.EvaluatorPool{ID: uuid.New(), Strategy: models.StrategyFastest, TimeoutMS: 1000}

	scores, _, err := d.Dispatch(context.Background(), pool, &ScoreRequest{InputText: "x"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if _, ok := scores["pii"]; ok {
		t.Error("failed member contributed a score")
	}
	if scores["toxicity"] != 0.3 {
		t.Errorf("score = %v, want 0.3", scores["toxicity"])
	}
}

func TestDispatchNoBackends(t *testing.T) {
	d := NewDispatcher(&poolStore{}, time.Second)
	pool := &models.EvaluatorPool{ID: uuid.New(), Strategy: models.StrategyRoundRobin}

	_, calls, err := d.Dispatch(context.Background(), pool, &ScoreRequest{InputText: "x"})
	if err != ErrNoBackends {
		t.Errorf("err = %v, want ErrNoBackends", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestNewBackendRejectsHTTPWithoutEndpoint(t *testing.T) {
	_, err := NewBackend(&models.Evaluator{Name: "bad", Type: models.EvaluatorTypeHTTP})
	if err == nil {
		t.Error("expected an error for http evaluator without endpoint")
	}
}
