package evaluator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// ErrNoBackends is returned when a pool resolves to zero usable members
var ErrNoBackends = errors.New("no usable evaluator backends")

// Dispatcher resolves a pool's members at call time and fans content out
// to them under the pool's strategy and timeout budget.
type Dispatcher struct {
	store          storage.Store
	defaultTimeout time.Duration

	mu      sync.Mutex
	cursors map[uuid.UUID]*uint64
}

// NewDispatcher creates a dispatcher. defaultTimeout bounds pool calls
// whose pool carries no timeout budget of its own.
func NewDispatcher(store storage.Store, defaultTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:          store,
		defaultTimeout: defaultTimeout,
		cursors:        make(map[uuid.UUID]*uint64),
	}
}

// Dispatch scores the request through the pool and returns the collected
// score map keyed by metric, plus the number of backend calls made (the
// billable evaluator_calls unit). Erroring or timed-out members are
// omitted from the map, never defaulted.
func (d *Dispatcher) Dispatch(ctx context.Context, pool *models.EvaluatorPool, req *ScoreRequest) (models.ScoreMap, int, error) {
	evaluators, err := d.store.GetPoolEvaluators(ctx, pool.ID)
	if err != nil {
		return nil, 0, err
	}

	var backends []Backend
	for _, ev := range evaluators {
		backend, err := NewBackend(ev)
		if err != nil {
			log.Warn().Err(err).
				Str("evaluator", ev.Name).
				Str("pool_id", pool.ID.String()).
				Msg("Skipping unbuildable evaluator backend")
			continue
		}
		backends = append(backends, backend)
	}
	if len(backends) == 0 {
		return nil, 0, ErrNoBackends
	}

	timeout := d.defaultTimeout
	if pool.TimeoutMS > 0 {
		timeout = time.Duration(pool.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch pool.Strategy {
	case models.StrategyWeighted:
		scores, err := d.scoreOne(ctx, d.pickWeighted(backends), req)
		return scores, 1, err
	case models.StrategyFastest:
		scores, err := d.scoreFastest(ctx, backends, req)
		return scores, len(backends), err
	default: // round_robin
		scores, err := d.scoreOne(ctx, d.pickRoundRobin(pool.ID, backends), req)
		return scores, 1, err
	}
}

// pickRoundRobin advances an atomic per-pool cursor
func (d *Dispatcher) pickRoundRobin(poolID uuid.UUID, backends []Backend) Backend {
	d.mu.Lock()
	cursor, ok := d.cursors[poolID]
	if !ok {
		cursor = new(uint64)
		d.cursors[poolID] = cursor
	}
	d.mu.Unlock()

	n := atomic.AddUint64(cursor, 1) - 1
	return backends[n%uint64(len(backends))]
}

// pickWeighted picks probabilistically by configured weights
func (d *Dispatcher) pickWeighted(backends []Backend) Backend {
	total := 0
	for _, b := range backends {
		if b.Weight() > 0 {
			total += b.Weight()
		}
	}
	if total == 0 {
		return backends[rand.Intn(len(backends))]
	}

	n := rand.Intn(total)
	for _, b := range backends {
		if b.Weight() <= 0 {
			continue
		}
		n -= b.Weight()
		if n < 0 {
			return b
		}
	}
	return backends[len(backends)-1]
}

func (d *Dispatcher) scoreOne(ctx context.Context, backend Backend, req *ScoreRequest) (models.ScoreMap, error) {
	result, err := backend.Score(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("evaluator", backend.Name()).Msg("Evaluator call failed")
		return models.ScoreMap{}, nil
	}
	return models.ScoreMap{result.Metric: result.Score}, nil
}

// scoreFastest fans out to every member and keeps the first success per
// metric; the remaining calls are canceled once every metric has a score.
func (d *Dispatcher) scoreFastest(ctx context.Context, backends []Backend, req *ScoreRequest) (models.ScoreMap, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *ScoreResult
		err    error
		name   string
	}

	metrics := make(map[string]struct{})
	for _, b := range backends {
		metrics[b.Metric()] = struct{}{}
	}

	results := make(chan outcome, len(backends))
	for _, backend := range backends {
		go func(b Backend) {
			result, err := b.Score(ctx, req)
			results <- outcome{result: result, err: err, name: b.Name()}
		}(backend)
	}

	scores := make(models.ScoreMap)
	for i := 0; i < len(backends); i++ {
		out := <-results
		if out.err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(out.err).Str("evaluator", out.name).Msg("Evaluator call failed")
			}
			continue
		}
		if _, seen := scores[out.result.Metric]; !seen {
			scores[out.result.Metric] = out.result.Score
		}
		if len(scores) == len(metrics) {
			cancel()
			break
		}
	}

	return scores, nil
}
