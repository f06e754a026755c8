package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/audit"
	"github.com/crossaudit/governance-server/internal/evaluator"
	"github.com/crossaudit/governance-server/internal/metrics"
	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/policy"
	"github.com/crossaudit/governance-server/internal/quota"
	"github.com/crossaudit/governance-server/internal/storage"
)

// QuotaExceededError rejects a request that would overrun its quota
type QuotaExceededError struct {
	UsageType models.UsageType
	Remaining int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d remaining of %d", e.UsageType, e.Remaining, e.Limit)
}

// EvaluatorError rejects a request whose scores could not be produced
type EvaluatorError struct {
	Err error
}

func (e *EvaluatorError) Error() string { return fmt.Sprintf("evaluator dispatch: %v", e.Err) }
func (e *EvaluatorError) Unwrap() error { return e.Err }

// PolicyError rejects a request whose policies could not be loaded or parsed
type PolicyError struct {
	Err error
}

func (e *PolicyError) Error() string { return fmt.Sprintf("policy evaluation: %v", e.Err) }
func (e *PolicyError) Unwrap() error { return e.Err }

// Request is one governed generation to evaluate
type Request struct {
	OrgID  uuid.UUID
	UserID *uuid.UUID

	InputText     string
	GeneratedText string
	Context       models.Variables

	// TokenCount is the actual token usage recorded after the decision
	TokenCount int64
}

// Result carries the decision back to the caller
type Result struct {
	Evaluation *models.PolicyEvaluation

	// Degraded is set when quota admission ran in fail-open mode
	Degraded bool
}

// Pipeline runs the governed evaluation flow: quota admission, evaluator
// dispatch, policy decision, persistence, usage recording and audit.
// Failures before the decision reject the request; failures after it are
// absorbed and retried asynchronously, never unwound into the response.
type Pipeline struct {
	store      storage.Store
	ledger     *quota.Ledger
	dispatcher *evaluator.Dispatcher
	engine     *policy.Engine
	recorder   *audit.Recorder
}

// New creates a pipeline
func New(store storage.Store, ledger *quota.Ledger, dispatcher *evaluator.Dispatcher, engine *policy.Engine, recorder *audit.Recorder) *Pipeline {
	return &Pipeline{
		store:      store,
		ledger:     ledger,
		dispatcher: dispatcher,
		engine:     engine,
		recorder:   recorder,
	}
}

// Evaluate runs one request through the pipeline
func (p *Pipeline) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	started := time.Now()

	// Quota admission
	admission, err := p.ledger.Consume(ctx, req.OrgID, models.UsageTypeAPICalls, 1)
	if err != nil {
		return nil, fmt.Errorf("quota admission: %w", err)
	}
	if !admission.Allowed {
		metrics.QuotaRejections.WithLabelValues(string(models.UsageTypeAPICalls)).Inc()
		p.recorder.Record(&models.AuditLog{
			OrgID:       &req.OrgID,
			UserID:      req.UserID,
			Type:        models.AuditTypeQuotaExceeded,
			Level:       models.AuditLevelWarning,
			Code:        "quota.exceeded",
			Description: "Request rejected: api_calls quota exhausted",
			Details: models.Variables{
				"usage_type": string(models.UsageTypeAPICalls),
				"remaining":  admission.Remaining(),
			},
		})
		quotaErr := &QuotaExceededError{
			UsageType: models.UsageTypeAPICalls,
			Remaining: admission.Remaining(),
		}
		if admission.Usage != nil {
			quotaErr.Limit = admission.Usage.QuotaLimit
		}
		return nil, quotaErr
	}
	if admission.Degraded {
		metrics.QuotaDegraded.Inc()
		p.recorder.Record(&models.AuditLog{
			OrgID:       &req.OrgID,
			UserID:      req.UserID,
			Type:        models.AuditTypeQuotaDegraded,
			Level:       models.AuditLevelError,
			Code:        "quota.degraded",
			Description: "Request admitted in degraded mode, quota ledger unreachable",
		})
	}

	// Active policies in evaluation order
	policies, err := p.store.ListPolicies(ctx, req.OrgID, true)
	if err != nil {
		return nil, &PolicyError{Err: err}
	}

	content := req.GeneratedText
	if content == "" {
		content = req.InputText
	}

	decision := &policy.Decision{
		Action:    models.ActionAllow,
		Severity:  models.SeverityLow,
		FinalText: content,
	}
	scores := make(models.ScoreMap)
	var decidedPolicy *models.Policy

	scoreCache := make(map[uuid.UUID]models.ScoreMap)
	for _, pol := range policies {
		doc, err := policy.ParseDocument(pol.Source)
		if err != nil {
			return nil, &PolicyError{Err: fmt.Errorf("policy %s: %w", pol.Name, err)}
		}

		polScores, err := p.dispatch(ctx, req, pol, scoreCache)
		if err != nil {
			return nil, err
		}
		for metric, v := range polScores {
			scores[metric] = v
		}

		// A nil score map means no pool resolved: the document runs on
		// content alone, without the quorum gate
		var d *policy.Decision
		if polScores == nil {
			d = p.engine.DecideContentOnly(doc, content)
		} else {
			d, err = p.engine.Decide(doc, polScores, content)
			if err != nil {
				return nil, &EvaluatorError{Err: fmt.Errorf("policy %s: %w", pol.Name, err)}
			}
		}

		decision.Violations = append(decision.Violations, d.Violations...)

		// First policy whose rules matched decides
		if d.RuleID != "" {
			decision.RuleID = d.RuleID
			decision.Action = d.Action
			decision.Severity = d.Severity
			decision.FinalText = d.FinalText
			decidedPolicy = pol
			break
		}
	}

	eval := &models.PolicyEvaluation{
		ID:            uuid.New(),
		CreatedAt:     time.Now(),
		OrgID:         req.OrgID,
		UserID:        req.UserID,
		InputText:     req.InputText,
		GeneratedText: req.GeneratedText,
		FinalText:     decision.FinalText,
		Status:        models.StatusForAction(decision.Action),
		Action:        decision.Action,
		Severity:      decision.Severity,
		Scores:        scores,
		DurationMS:    time.Since(started).Milliseconds(),
		Violations:    decision.Violations,
	}
	if decidedPolicy != nil {
		eval.PolicyID = &decidedPolicy.ID
	}

	metrics.Decisions.WithLabelValues(string(eval.Action)).Inc()

	// The decision is fixed; everything below is absorbed, never unwound
	if err := p.store.CreateEvaluation(ctx, eval); err != nil {
		log.Error().Err(err).
			Str("evaluation_id", eval.ID.String()).
			Msg("Failed to persist evaluation, handing to audit recorder")
		p.recorder.RetryEvaluation(eval)
	}

	if req.TokenCount > 0 {
		if _, err := p.ledger.Record(ctx, req.OrgID, models.UsageTypeTokens, req.TokenCount); err != nil {
			log.Error().Err(err).
				Str("org_id", req.OrgID.String()).
				Msg("Failed to record token usage")
		}
	}

	p.recordAudit(req, eval)

	return &Result{Evaluation: eval, Degraded: admission.Degraded}, nil
}

// dispatch resolves the policy's pool (falling back to the organization's
// first active pool) and scores the content, caching per pool. A nil map
// with no error means no pool resolved.
func (p *Pipeline) dispatch(ctx context.Context, req *Request, pol *models.Policy, cache map[uuid.UUID]models.ScoreMap) (models.ScoreMap, error) {
	pool, err := p.resolvePool(ctx, req.OrgID, pol)
	if err != nil {
		return nil, &EvaluatorError{Err: err}
	}
	if pool == nil {
		return nil, nil
	}

	if scores, ok := cache[pool.ID]; ok {
		return scores, nil
	}

	started := time.Now()
	scores, calls, err := p.dispatcher.Dispatch(ctx, pool, &evaluator.ScoreRequest{
		InputText:     req.InputText,
		GeneratedText: req.GeneratedText,
		Context:       req.Context,
	})
	if err != nil {
		return nil, &EvaluatorError{Err: err}
	}
	metrics.EvaluatorLatency.WithLabelValues(string(pool.Strategy)).Observe(time.Since(started).Seconds())

	if calls > 0 {
		if _, err := p.ledger.Record(ctx, req.OrgID, models.UsageTypeEvaluatorCalls, int64(calls)); err != nil {
			log.Warn().Err(err).
				Str("org_id", req.OrgID.String()).
				Msg("Failed to record evaluator call usage")
		}
	}

	cache[pool.ID] = scores
	return scores, nil
}

func (p *Pipeline) resolvePool(ctx context.Context, orgID uuid.UUID, pol *models.Policy) (*models.EvaluatorPool, error) {
	if pol.PoolID != nil {
		return p.store.GetEvaluatorPool(ctx, *pol.PoolID)
	}

	pools, _, err := p.store.ListEvaluatorPools(ctx, orgID, 50, 0)
	if err != nil {
		return nil, err
	}
	for _, pool := range pools {
		if pool.IsActive {
			return pool, nil
		}
	}
	return nil, nil
}

func (p *Pipeline) recordAudit(req *Request, eval *models.PolicyEvaluation) {
	p.recorder.Record(&models.AuditLog{
		OrgID:       &req.OrgID,
		UserID:      req.UserID,
		Type:        models.AuditTypeEvaluation,
		Level:       models.AuditLevelInfo,
		Code:        "governance.evaluation",
		Description: fmt.Sprintf("Content %s", eval.Status),
		Details: models.Variables{
			"evaluation_id": eval.ID.String(),
			"action":        string(eval.Action),
			"severity":      string(eval.Severity),
			"duration_ms":   eval.DurationMS,
		},
	})

	for _, v := range eval.Violations {
		p.recorder.Record(&models.AuditLog{
			OrgID:       &req.OrgID,
			UserID:      req.UserID,
			Type:        models.AuditTypeViolation,
			Level:       models.AuditLevelWarning,
			Code:        "governance.violation",
			Description: fmt.Sprintf("Policy violation: %s", v.Type),
			Details: models.Variables{
				"evaluation_id": eval.ID.String(),
				"rule_id":       v.RuleID,
				"type":          v.Type,
				"severity":      string(v.Severity),
				"confidence":    v.Confidence,
			},
		})
	}
}
