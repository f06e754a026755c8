package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/config"
	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// The quota reaper closes out expired billing periods: it publishes the
// final usage aggregate for billing and rolls each counter into the next
// period with the limits the organization's current plan grants.

func main() {
	var configFile string
	var interval time.Duration
	var once bool
	flag.StringVar(&configFile, "config", "config/governance-server.yml", "Configuration file path")
	flag.DurationVar(&interval, "interval", time.Hour, "Sweep interval")
	flag.BoolVar(&once, "once", false, "Run a single sweep and exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("crossaudit-quota-reaper"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, usage records will not be published")
			nc = nil
		} else {
			defer nc.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if once {
		sweep(ctx, store, nc)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Quota reaper started")

	sweep(ctx, store, nc)
	for {
		select {
		case <-ticker.C:
			sweep(ctx, store, nc)
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
			return
		}
	}
}

// sweep rolls over every counter whose period has ended
func sweep(ctx context.Context, store storage.Store, nc *nats.Conn) {
	now := time.Now()

	expired, err := store.ListExpiredQuotaUsage(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired quota counters")
		return
	}
	if len(expired) == 0 {
		return
	}

	log.Info().Int("count", len(expired)).Msg("Rolling over expired quota counters")

	for _, usage := range expired {
		record := &models.UsageRecord{
			OrgID:       usage.OrgID,
			UsageType:   usage.UsageType,
			Total:       usage.CurrentUsage,
			PeriodStart: usage.PeriodStart,
			PeriodEnd:   usage.PeriodEnd,
		}
		publishUsageRecord(nc, record)

		limit := usage.QuotaLimit
		periodStart := usage.PeriodEnd
		periodEnd := periodStart.AddDate(0, 1, 0)

		// Pick up the current plan's limit and period if the org still
		// has a usable subscription; keep the old limit otherwise
		sub, err := store.GetActiveSubscription(ctx, usage.OrgID)
		if err == nil && sub.IsUsable() {
			if plan, err := store.GetPlan(ctx, sub.PlanID); err == nil {
				limit = plan.QuotaLimit(usage.UsageType)
			}
			if sub.CurrentPeriodEnd.After(periodStart) {
				periodEnd = sub.CurrentPeriodEnd
			}
		}

		if err := store.RolloverQuotaUsage(ctx, usage.ID, limit, periodStart, periodEnd); err != nil {
			log.Error().Err(err).
				Str("org_id", usage.OrgID.String()).
				Str("usage_type", string(usage.UsageType)).
				Msg("Failed to roll over quota counter")
		}
	}
}

// publishUsageRecord hands the closed period's aggregate to billing
func publishUsageRecord(nc *nats.Conn, record *models.UsageRecord) {
	if nc == nil {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal usage record")
		return
	}

	subject := "billing.usage." + record.OrgID.String()
	if err := nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish usage record")
	}
}
