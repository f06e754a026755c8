package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/crossaudit/governance-server/internal/metrics"
	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// Options tunes the recorder's buffer and delivery retries
type Options struct {
	BufferSize int
	MaxRetries uint64
	RetryBase  time.Duration
}

// Recorder persists audit events and republishes them on NATS, decoupled
// from the request path by a buffered channel. Enqueueing never blocks a
// request: a full buffer drops the event with an error log.
type Recorder struct {
	store storage.Store
	nc    *nats.Conn
	opts  Options

	events chan event
	wg     sync.WaitGroup

	closeOnce sync.Once
}

type event struct {
	entry *models.AuditLog
	eval  *models.PolicyEvaluation
}

// NewRecorder creates and starts a recorder. nc may be nil; events are
// then persisted without publishing.
func NewRecorder(store storage.Store, nc *nats.Conn, opts Options) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 250 * time.Millisecond
	}

	r := &Recorder{
		store:  store,
		nc:     nc,
		opts:   opts,
		events: make(chan event, opts.BufferSize),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record enqueues an audit entry. Never blocks.
func (r *Recorder) Record(entry *models.AuditLog) {
	select {
	case r.events <- event{entry: entry}:
	default:
		metrics.AuditDropped.Inc()
		log.Error().Str("type", string(entry.Type)).Msg("Audit buffer full, dropping event")
	}
}

// RetryEvaluation enqueues an evaluation record whose synchronous persist
// failed so delivery is retried off the request path
func (r *Recorder) RetryEvaluation(eval *models.PolicyEvaluation) {
	select {
	case r.events <- event{eval: eval}:
	default:
		metrics.AuditDropped.Inc()
		log.Error().Str("evaluation_id", eval.ID.String()).Msg("Audit buffer full, dropping evaluation retry")
	}
}

// Close drains buffered events and stops the worker
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.events)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for ev := range r.events {
		if ev.entry != nil {
			r.deliver(ev.entry)
		}
		if ev.eval != nil {
			r.persistEvaluation(ev.eval)
		}
	}
}

func (r *Recorder) deliver(entry *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backoff := retry.WithMaxRetries(r.opts.MaxRetries, retry.NewExponential(r.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := r.store.CreateAuditLog(ctx, entry); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.AuditDropped.Inc()
		log.Error().Err(err).
			Str("type", string(entry.Type)).
			Str("code", entry.Code).
			Msg("Audit event dropped after retries")
		return
	}

	r.publish(entry)
}

// publish emits the event on audit.<org>.<type>. Publish failures are
// logged only; the persisted row is the durable record.
func (r *Recorder) publish(entry *models.AuditLog) {
	if r.nc == nil {
		return
	}

	org := "system"
	if entry.OrgID != nil {
		org = entry.OrgID.String()
	}
	subject := fmt.Sprintf("audit.%s.%s", org, entry.Type)

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal audit event")
		return
	}
	if err := r.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish audit event")
	}
}

func (r *Recorder) persistEvaluation(eval *models.PolicyEvaluation) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backoff := retry.WithMaxRetries(r.opts.MaxRetries, retry.NewExponential(r.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.store.CreateEvaluation(ctx, eval)
		if err == storage.ErrDuplicateKey {
			// A concurrent retry already landed it
			return nil
		}
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		metrics.AuditDropped.Inc()
		log.Error().Err(err).
			Str("evaluation_id", eval.ID.String()).
			Msg("Evaluation record dropped after retries")
	}
}
