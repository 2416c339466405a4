package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pilot-net/routerwatch/collector/internal/alerting"
	"github.com/pilot-net/routerwatch/collector/internal/config"
	"github.com/pilot-net/routerwatch/collector/internal/connector"
	"github.com/pilot-net/routerwatch/collector/internal/heuristics"
	"github.com/pilot-net/routerwatch/collector/internal/judge"
	"github.com/pilot-net/routerwatch/collector/internal/litestore"
	"github.com/pilot-net/routerwatch/collector/internal/lock"
	"github.com/pilot-net/routerwatch/collector/internal/logs"
	"github.com/pilot-net/routerwatch/collector/internal/metrics"
	"github.com/pilot-net/routerwatch/collector/internal/miner"
	"github.com/pilot-net/routerwatch/collector/internal/notify"
	"github.com/pilot-net/routerwatch/collector/internal/pipeline"
	"github.com/pilot-net/routerwatch/collector/internal/store"
	"github.com/pilot-net/routerwatch/collector/internal/vault"
	"github.com/pilot-net/routerwatch/db/migrate"
	"github.com/pilot-net/routerwatch/pkg/types"
)

// backend is what the CLI needs from persistence. Both the PostgreSQL and
// the SQLite stores satisfy it.
type backend interface {
	pipeline.Store
	alerting.Store
	alerting.SampleStore
	UpsertDevice(ctx context.Context, d types.DeviceTarget) error
	AlertHistory(ctx context.Context, tenantID, alertID string) ([]types.AlertStatusHistory, error)
}

// app holds the components shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   backend
	metrics *metrics.Registry
	closers []func()
}

func newApp(ctx context.Context, flags *globalFlags, withStore bool) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  newLogger(cfg.Log),
		metrics: metrics.NewRegistry(),
	}
	if !withStore {
		return a, nil
	}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openStore(ctx context.Context) error {
	if path := a.cfg.Database.SQLitePath; path != "" {
		s, err := litestore.Open(path, a.logger)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := s.Close(); err != nil {
				a.logger.Warn("closing sqlite store", "error", err)
			}
		})
		a.store = s
		a.logger.Debug("using sqlite store", "path", path)
		return nil
	}

	s, err := store.NewStoreFromURL(ctx, a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	a.store = s
	return nil
}

// migrate applies pending PostgreSQL migrations. SQLite stores migrate
// themselves on open.
func (a *app) migrate(ctx context.Context) error {
	s, ok := a.store.(*store.Store)
	if !ok {
		return nil
	}
	return migrate.Run(ctx, s.Pool(), a.logger)
}

func (a *app) vault(ctx context.Context) (*vault.Vault, error) {
	v, err := vault.NewFromConfig(ctx, a.cfg.Vault, a.logger)
	if err != nil {
		return nil, fmt.Errorf("loading vault: %w", err)
	}
	return v, nil
}

func (a *app) locker() (lock.Locker, error) {
	keyed := lock.NewKeyed()
	if a.cfg.Redis.URL == "" {
		return keyed, nil
	}
	r, err := lock.NewRedis(a.cfg.Redis.URL, a.cfg.Redis.LockTTL, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = r.Close() })
	return lock.Chain{keyed, r}, nil
}

func (a *app) notifier() alerting.Notifier {
	if !a.cfg.Alerting.Slack.Enabled() {
		return nil
	}
	return notify.NewSlack(a.cfg.Alerting.Slack, a.logger)
}

func (a *app) judge() judge.Judge {
	return judge.Select(a.cfg.Analysis, &http.Client{}, a.metrics, a.logger)
}

func (a *app) engine() *alerting.Engine {
	return alerting.New(a.cfg.Alerting.Engine(), a.store, a.notifier(), a.logger)
}

// newMiner builds a miner that opens sessions through the configured
// providers, with creds resolving device credentials.
func (a *app) newMiner(creds connector.CredentialDecrypter) (*miner.Miner, error) {
	providers, err := connector.ProvidersFromConfig(a.cfg.Connector)
	if err != nil {
		return nil, err
	}
	conn := connector.New(a.cfg.Connector, providers, creds, a.logger)
	return miner.New(a.cfg.Mining, conn, a.logger), nil
}

func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	v, err := a.vault(ctx)
	if err != nil {
		return nil, err
	}
	m, err := a.newMiner(v)
	if err != nil {
		return nil, err
	}
	normalizer, err := logs.New(a.cfg.Logs, a.store, a.logger)
	if err != nil {
		return nil, err
	}
	analyzer, err := heuristics.NewDefault()
	if err != nil {
		return nil, fmt.Errorf("loading heuristic rules: %w", err)
	}
	locker, err := a.locker()
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		CycleTimeout: a.cfg.Scheduler.CycleTimeout,
		Workers:      a.cfg.Scheduler.Workers,
	}, pipeline.Deps{
		Store:      a.store,
		Miner:      m,
		Normalizer: normalizer,
		Analyzer:   analyzer,
		Judge:      a.judge(),
		Alerts:     a.engine(),
		Locker:     locker,
		Metrics:    a.metrics,
	}, a.logger), nil
}
