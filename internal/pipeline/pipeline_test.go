package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/audit"
	"github.com/crossaudit/governance-server/internal/evaluator"
	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/policy"
	"github.com/crossaudit/governance-server/internal/quota"
	"github.com/crossaudit/governance-server/internal/storage"
)

const blockToxicSource = `
version: 1
quorum: 1
rules:
  - id: block-toxic
    condition: scores["toxicity"] > 0.8
    action: block
    severity: high
    violation: toxicity
`

// fakeStore backs the whole pipeline in memory. failCreateEvaluation
// makes every CreateEvaluation fail, sync path and recorder retries both.
type fakeStore struct {
	storage.Store

	mu         sync.Mutex
	policies   []*models.Policy
	pools      map[uuid.UUID]*models.EvaluatorPool
	evaluators []*models.Evaluator
	usage      map[models.UsageType]*models.QuotaUsage

	evaluations []*models.PolicyEvaluation
	auditLogs   []*models.AuditLog
	retried     int

	failCreateEvaluation bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pools: make(map[uuid.UUID]*models.EvaluatorPool),
		usage: make(map[models.UsageType]*models.QuotaUsage),
	}
}

func (s *fakeStore) seedQuota(usageType models.UsageType, current, limit int64) {
	s.usage[usageType] = &models.QuotaUsage{
		ID:           uuid.New(),
		UsageType:    usageType,
		CurrentUsage: current,
		QuotaLimit:   limit,
	}
}

// seedBlockingPolicy wires a policy to a pool with one mock evaluator
// scoring the given toxicity
func (s *fakeStore) seedBlockingPolicy(orgID uuid.UUID, score float64) *models.Policy {
	pool := &models.EvaluatorPool{
		ID:        uuid.New(),
		OrgID:     orgID,
		Name:      "default",
		Strategy:  models.StrategyRoundRobin,
		TimeoutMS: 1000,
		IsActive:  true,
	}
	s.pools[pool.ID] = pool
	s.evaluators = append(s.evaluators, &models.Evaluator{
		ID:       uuid.New(),
		OrgID:    orgID,
		Name:     "toxicity-mock",
		Type:     models.EvaluatorTypeMock,
		Metric:   "toxicity",
		Weight:   1,
		IsActive: true,
		Settings: models.Variables{"score": score},
	})

	pol := &models.Policy{
		ID:       uuid.New(),
		OrgID:    orgID,
		Name:     "toxicity",
		Source:   blockToxicSource,
		PoolID:   &pool.ID,
		IsActive: true,
	}
	s.policies = append(s.policies, pol)
	return pol
}

func (s *fakeStore) ListPolicies(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*models.Policy, error) {
	return s.policies, nil
}

func (s *fakeStore) GetEvaluatorPool(ctx context.Context, id uuid.UUID) (*models.EvaluatorPool, error) {
	pool, ok := s.pools[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return pool, nil
}

func (s *fakeStore) ListEvaluatorPools(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.EvaluatorPool, int64, error) {
	var out []*models.EvaluatorPool
	for _, pool := range s.pools {
		out = append(out, pool)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) GetPoolEvaluators(ctx context.Context, poolID uuid.UUID) ([]*models.Evaluator, error) {
	return s.evaluators, nil
}

func (s *fakeStore) GetQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType) (*models.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.usage[usageType]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *usage
	return &out, nil
}

func (s *fakeStore) TryIncrementQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (bool, *models.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.usage[usageType]
	if !ok {
		return false, nil, storage.ErrNotFound
	}
	if usage.QuotaLimit < 0 || usage.CurrentUsage+amount <= usage.QuotaLimit {
		usage.CurrentUsage += amount
		out := *usage
		return true, &out, nil
	}
	out := *usage
	return false, &out, nil
}

func (s *fakeStore) AddQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (*models.QuotaUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, ok := s.usage[usageType]
	if !ok {
		return nil, storage.ErrNotFound
	}
	usage.CurrentUsage += amount
	out := *usage
	return &out, nil
}

func (s *fakeStore) GetActiveSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	return nil, storage.ErrNotFound
}

func (s *fakeStore) CreateEvaluation(ctx context.Context, eval *models.PolicyEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateEvaluation {
		s.retried++
		return errors.New("database unavailable")
	}
	s.evaluations = append(s.evaluations, eval)
	return nil
}

func (s *fakeStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *fakeStore) auditTypes() []models.AuditType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditType
	for _, entry := range s.auditLogs {
		out = append(out, entry.Type)
	}
	return out
}

func newTestPipeline(t *testing.T, store *fakeStore, failOpen bool) (*Pipeline, *audit.Recorder) {
	t.Helper()
	recorder := audit.NewRecorder(store, nil, audit.Options{
		BufferSize: 64,
		MaxRetries: 1,
		RetryBase:  time.Millisecond,
	})
	ledger := quota.NewLedger(store, failOpen)
	dispatcher := evaluator.NewDispatcher(store, time.Second)
	engine := policy.NewEngine(1)
	return New(store, ledger, dispatcher, engine, recorder), recorder
}

func TestEvaluateBlocksToxicContent(t *testing.T) {
	store := newFakeStore()
	orgID := uuid.New()
	store.seedQuota(models.UsageTypeAPICalls, 0, 100)
	pol := store.seedBlockingPolicy(orgID, 0.9)

	pl, recorder := newTestPipeline(t, store, false)

	result, err := pl.Evaluate(context.Background(), &Request{
		OrgID:         orgID,
		InputText:     "prompt",
		GeneratedText: "offensive output",
	})
	recorder.Close()
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	eval := result.Evaluation
	if eval.Action != models.ActionBlock {
		t.Errorf("action = %s, want block", eval.Action)
	}
	if eval.Status != models.EvaluationBlocked {
		t.Errorf("status = %s, want blocked", eval.Status)
	}
	if eval.PolicyID == nil || *eval.PolicyID != pol.ID {
		t.Error("evaluation not attributed to the deciding policy")
	}
	if eval.Scores["toxicity"] != 0.9 {
		t.Errorf("scores = %v, want toxicity 0.9", eval.Scores)
	}
	if len(eval.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(eval.Violations))
	}

	if len(store.evaluations) != 1 {
		t.Fatalf("persisted evaluations = %d, want 1", len(store.evaluations))
	}

	var sawEvaluation, sawViolation bool
	for _, at := range store.auditTypes() {
		switch at {
		case models.AuditTypeEvaluation:
			sawEvaluation = true
		case models.AuditTypeViolation:
			sawViolation = true
		}
	}
	if !sawEvaluation || !sawViolation {
		t.Errorf("audit types = %v, want evaluation and violation entries", store.auditTypes())
	}
}

func TestEvaluateAllowsWithoutPolicies(t *testing.T) {
	store := newFakeStore()
	store.seedQuota(models.UsageTypeAPICalls, 0, 100)

	pl, recorder := newTestPipeline(t, store, false)
	defer recorder.Close()

	result, err := pl.Evaluate(context.Background(), &Request{
		OrgID:         uuid.New(),
		InputText:     "prompt",
		GeneratedText: "harmless output",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	eval := result.Evaluation
	if eval.Action != models.ActionAllow {
		t.Errorf("action = %s, want allow", eval.Action)
	}
	if eval.Status != models.EvaluationAllowed {
		t.Errorf("status = %s, want allowed", eval.Status)
	}
	if eval.FinalText != "harmless output" {
		t.Errorf("final text = %q, want the generated text untouched", eval.FinalText)
	}
	if eval.PolicyID != nil {
		t.Error("allow without a match should not attribute a policy")
	}
}

func TestEvaluateRejectsOnExhaustedQuota(t *testing.T) {
	store := newFakeStore()
	store.seedQuota(models.UsageTypeAPICalls, 10, 10)
	store.seedBlockingPolicy(uuid.New(), 0.9)

	pl, recorder := newTestPipeline(t, store, false)

	_, err := pl.Evaluate(context.Background(), &Request{OrgID: uuid.New(), InputText: "prompt"})
	recorder.Close()

	var qerr *QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qerr.UsageType != models.UsageTypeAPICalls {
		t.Errorf("usage type = %s, want api_calls", qerr.UsageType)
	}
	if qerr.Remaining != 0 || qerr.Limit != 10 {
		t.Errorf("remaining/limit = %d/%d, want 0/10", qerr.Remaining, qerr.Limit)
	}

	if len(store.evaluations) != 0 {
		t.Error("rejected request persisted an evaluation")
	}

	var sawRejection bool
	for _, at := range store.auditTypes() {
		if at == models.AuditTypeQuotaExceeded {
			sawRejection = true
		}
	}
	if !sawRejection {
		t.Errorf("audit types = %v, want a quota_exceeded entry", store.auditTypes())
	}
}

// The decision must reach the caller even when the evaluation record
// cannot be persisted; the write is handed to the audit recorder instead
// of being unwound.
func TestEvaluateDecisionSurvivesPersistFailure(t *testing.T) {
	store := newFakeStore()
	orgID := uuid.New()
	store.seedQuota(models.UsageTypeAPICalls, 0, 100)
	store.seedBlockingPolicy(orgID, 0.9)
	store.failCreateEvaluation = true

	pl, recorder := newTestPipeline(t, store, false)

	result, err := pl.Evaluate(context.Background(), &Request{
		OrgID:         orgID,
		InputText:     "prompt",
		GeneratedText: "offensive output",
	})
	recorder.Close()
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Evaluation.Action != models.ActionBlock {
		t.Errorf("action = %s, want block despite persistence failure", result.Evaluation.Action)
	}

	store.mu.Lock()
	retried := store.retried
	store.mu.Unlock()
	if retried < 2 {
		t.Errorf("CreateEvaluation attempts = %d, want the sync write plus recorder retries", retried)
	}
}

// A policy with no pool behind it still decides on content alone instead
// of failing the score quorum.
func TestEvaluateContentOnlyPolicyWithoutPool(t *testing.T) {
	store := newFakeStore()
	orgID := uuid.New()
	store.seedQuota(models.UsageTypeAPICalls, 0, 100)
	store.policies = append(store.policies, &models.Policy{
		ID:    uuid.New(),
		OrgID: orgID,
		Name:  "banned-phrases",
		Source: `
version: 1
rules:
  - id: block-forbidden
    condition: content.contains("forbidden")
    action: block
    severity: high
    violation: banned_phrase
`,
		IsActive: true,
	})

	pl, recorder := newTestPipeline(t, store, false)
	defer recorder.Close()

	result, err := pl.Evaluate(context.Background(), &Request{
		OrgID:         orgID,
		InputText:     "prompt",
		GeneratedText: "this output is forbidden here",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	eval := result.Evaluation
	if eval.Action != models.ActionBlock {
		t.Errorf("action = %s, want block", eval.Action)
	}
	if len(eval.Violations) != 1 {
		t.Errorf("violations = %d, want 1", len(eval.Violations))
	}
	if len(eval.Scores) != 0 {
		t.Errorf("scores = %v, want none without a pool", eval.Scores)
	}
}

func TestEvaluateRecordsEvaluatorCalls(t *testing.T) {
	store := newFakeStore()
	orgID := uuid.New()
	store.seedQuota(models.UsageTypeAPICalls, 0, 100)
	store.seedQuota(models.UsageTypeEvaluatorCalls, 0, models.UnlimitedQuota)
	store.seedBlockingPolicy(orgID, 0.9)

	pl, recorder := newTestPipeline(t, store, false)
	defer recorder.Close()

	_, err := pl.Evaluate(context.Background(), &Request{
		OrgID:         orgID,
		InputText:     "prompt",
		GeneratedText: "offensive output",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	store.mu.Lock()
	calls := store.usage[models.UsageTypeEvaluatorCalls].CurrentUsage
	store.mu.Unlock()
	if calls != 1 {
		t.Errorf("evaluator_calls usage = %d, want 1 for one round_robin dispatch", calls)
	}
}

func TestEvaluateRecordsTokenUsage(t *testing.T) {
	store := newFakeStore()
	store.seedQuota(models.UsageTypeAPICalls, 0, 100)
	store.seedQuota(models.UsageTypeTokens, 0, models.UnlimitedQuota)

	pl, recorder := newTestPipeline(t, store, false)
	defer recorder.Close()

	_, err := pl.Evaluate(context.Background(), &Request{
		OrgID:      uuid.New(),
		InputText:  "prompt",
		TokenCount: 42,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	store.mu.Lock()
	tokens := store.usage[models.UsageTypeTokens].CurrentUsage
	store.mu.Unlock()
	if tokens != 42 {
		t.Errorf("token usage = %d, want 42", tokens)
	}
}
