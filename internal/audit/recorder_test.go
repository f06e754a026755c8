package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

type recorderStore struct {
	storage.Store

	mu          sync.Mutex
	entries     []*models.AuditLog
	evaluations []*models.PolicyEvaluation

	auditFailures int
	evalErr       error
}

func (s *recorderStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFailures > 0 {
		s.auditFailures--
		return errors.New("database unavailable")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recorderStore) CreateEvaluation(ctx context.Context, eval *models.PolicyEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evalErr != nil {
		return s.evalErr
	}
	s.evaluations = append(s.evaluations, eval)
	return nil
}

func testOptions() Options {
	return Options{BufferSize: 16, MaxRetries: 3, RetryBase: time.Millisecond}
}

func TestRecorderDeliversEntries(t *testing.T) {
	store := &recorderStore{}
	r := NewRecorder(store, nil, testOptions())

	orgID := uuid.New()
	for i := 0; i < 5; i++ {
		r.Record(&models.AuditLog{
			OrgID: &orgID,
			Type:  models.AuditTypeEvaluation,
			Level: models.AuditLevelInfo,
			Code:  "governance.evaluation",
		})
	}
	r.Close()

	if len(store.entries) != 5 {
		t.Errorf("delivered = %d, want 5", len(store.entries))
	}
}

func TestRecorderRetriesTransientFailures(t *testing.T) {
	store := &recorderStore{auditFailures: 2}
	r := NewRecorder(store, nil, testOptions())

	r.Record(&models.AuditLog{Type: models.AuditTypeLogin, Level: models.AuditLevelInfo})
	r.Close()

	if len(store.entries) != 1 {
		t.Errorf("delivered = %d, want 1 after retries", len(store.entries))
	}
}

func TestRecorderRetryEvaluation(t *testing.T) {
	store := &recorderStore{}
	r := NewRecorder(store, nil, testOptions())

	r.RetryEvaluation(&models.PolicyEvaluation{ID: uuid.New(), Action: models.ActionBlock})
	r.Close()

	if len(store.evaluations) != 1 {
		t.Errorf("persisted = %d, want 1", len(store.evaluations))
	}
}

func TestRecorderTreatsDuplicateEvaluationAsDelivered(t *testing.T) {
	store := &recorderStore{evalErr: storage.ErrDuplicateKey}
	r := NewRecorder(store, nil, testOptions())

	r.RetryEvaluation(&models.PolicyEvaluation{ID: uuid.New()})
	r.Close()
	// No retries burned and no panic; the concurrent write already landed
}

func TestRecorderCloseIsIdempotent(t *testing.T) {
	r := NewRecorder(&recorderStore{}, nil, testOptions())
	r.Close()
	r.Close()
}
