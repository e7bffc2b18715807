package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/joho/godotenv"

	"relaydb/internal/retention"
	"relaydb/pkg/config"
	"relaydb/pkg/engine"
	"relaydb/pkg/events"
	"relaydb/pkg/fanout"
	"relaydb/pkg/logger"
	"relaydb/pkg/state"
	"relaydb/pkg/store"
	"relaydb/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	rc        *config.RuntimeConfig
	version   string
	commit    string
	buildDate string

	srv *http.Server
}

// New initializes resources that do not require a running context: the
// store, validation rules, event hooks and runtime keys. Call Run to start
// the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, rc *config.RuntimeConfig, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	config.SetRuntime(rc)

	// runtime folder layout under the DB path
	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs: %w", err)
	}
	if dir := eff.Config.Logging.AuditDir; dir != "" {
		if err := logger.AttachAuditFileSink(dir); err != nil {
			return nil, fmt.Errorf("failed to attach audit sink: %w", err)
		}
	} else if err := logger.AttachAuditFileSink(state.PathsVar.Audit); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}

	validation.SetRules(validation.Rules{
		MaxBodyLen:      int(eff.Config.Limits.MaxBodyBytes.Int64()),
		MaxParticipants: eff.Config.Limits.MaxParticipants,
	})

	switch strings.TrimSpace(eff.Config.Fanout.Policy) {
	case "allow-duplicates":
		fanout.SetPolicy(fanout.PolicyAllowDuplicates)
	default:
		fanout.SetPolicy(fanout.PolicyUnique)
	}

	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	// write-path hooks: edit recording, fan-out, conversation bumps, cleanup
	events.Reset()
	engine.RegisterHooks()

	a := &App{eff: eff, rc: rc, version: version, commit: commit, buildDate: buildDate}
	return a, nil
}

// Run starts the orphan sweeper and the HTTP server, and blocks until ctx
// is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	retention.SetEffectiveConfig(a.eff)
	stopSweep, err := retention.Start(ctx, a.eff)
	if err != nil {
		return err
	}
	defer stopSweep()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdownHTTP()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the store. Intended for orderly shutdown after Run
// returns.
func (a *App) Close() error {
	return store.Close()
}
