// Package retention schedules the background orphan sweep. Cascading
// deletes clean up after themselves; the sweeper is the safety net for
// rows stranded by crashes mid-cascade.
package retention

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"relaydb/pkg/config"
	"relaydb/pkg/logger"
	"relaydb/pkg/state"
	"relaydb/pkg/store"
)

var storedEff *config.EffectiveConfigResult

// SetEffectiveConfig stores the effective config so tests (or admin
// triggers) can invoke sweep runs on-demand.
func SetEffectiveConfig(eff config.EffectiveConfigResult) {
	storedEff = &eff
}

// RunImmediate triggers a single sweep using the stored effective config.
func RunImmediate() error {
	if storedEff == nil {
		return fmt.Errorf("no effective config registered for retention run")
	}
	return runOnce(context.Background(), *storedEff)
}

// Start starts the sweep scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	ret := eff.Config.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := state.PathsVar.Retention
	if retentionPath != "" {
		if err := os.MkdirAll(retentionPath, 0o700); err != nil {
			logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
			return nil, err
		}
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "dry_run", ret.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, eff); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

func runOnce(_ context.Context, eff config.EffectiveConfigResult) error {
	start := time.Now()
	stats, err := store.SweepOrphans(eff.Config.Retention.DryRun)
	if err != nil {
		return err
	}
	logger.AuditEvent("retention_sweep_completed",
		"dry_run", eff.Config.Retention.DryRun,
		"empty_conversations", stats.EmptyConversations,
		"history_rows", stats.HistoryRows,
		"notifications", stats.Notifications,
		"index_entries", stats.IndexEntries,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
