package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/erpsync/internal/adapter/driven/erp"
	"github.com/ericfisherdev/erpsync/internal/adapter/driven/redisgate"
	sqliteadapter "github.com/ericfisherdev/erpsync/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/erpsync/internal/application"
	"github.com/ericfisherdev/erpsync/internal/config"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg *config.Config
	db  *sqliteadapter.DB

	credentials *sqliteadapter.CredentialRepo
	cursors     *sqliteadapter.CursorRepo
	records     *sqliteadapter.RecordRepo
	runs        *sqliteadapter.SyncRunRepo

	tokens *application.TokenManager
	status *application.StatusService

	// sync is nil unless the ERP API is configured.
	sync *application.SyncService

	closers []func() error
}

// newApp loads configuration, opens and migrates the database and wires the
// services. The ERP client is only built when its settings are present.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, closers: []func() error{db.Close}}

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		a.close()
		return nil, err
	}
	slog.Debug("database ready", "path", cfg.DBPath)

	if cfg.SecretKey == nil {
		slog.Warn("ERPSYNC_SECRET_KEY not set, credential storage disabled")
	}

	a.credentials = sqliteadapter.NewCredentialRepo(db, cfg.Integration, cfg.SecretKey)
	a.cursors = sqliteadapter.NewCursorRepo(db)
	a.records = sqliteadapter.NewRecordRepo(db)
	a.runs = sqliteadapter.NewSyncRunRepo(db)

	oauth := erp.NewOAuthClient(erp.OAuthConfig{
		TokenURL:     cfg.OAuth.TokenURL,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURI:  cfg.OAuth.RedirectURI,
	}, &http.Client{Timeout: cfg.RequestTimeout})

	a.tokens = application.NewTokenManager(a.credentials, oauth)
	a.status = application.NewStatusService(cfg.Integration, a.tokens, a.cursors, a.records, a.runs)

	if !cfg.HasERPCredentials() {
		slog.Info("erp api not configured, sync disabled")
		return a, nil
	}

	gate, err := a.newGate(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.status.SetRequestUsage(gate, cfg.DailyRequestLimit)

	tcfg := erp.DefaultTransportConfig()
	tcfg.Timeout = cfg.RequestTimeout
	tcfg.MaxRetries = cfg.MaxRetries
	tcfg.BaseDelay = cfg.RetryBaseDelay
	tcfg.MaxDelay = cfg.RetryMaxDelay
	transport := erp.NewTransport(nil, gate, tcfg)

	client, err := erp.NewClient(cfg.APIBaseURL, a.tokens, transport, cfg.PageSize)
	if err != nil {
		a.close()
		return nil, err
	}

	a.sync = application.NewSyncService(
		client,
		application.NewReconciler(a.records),
		a.cursors,
		a.runs,
		application.SyncConfig{
			PollInterval: cfg.PollInterval,
			Lookback:     cfg.PollLookback,
			Workers:      cfg.ReconcileWorkers,
		},
	)

	return a, nil
}

// newGate returns the shared Redis gate when ERPSYNC_REDIS_ADDR is set and
// the in-process pacer otherwise.
func (a *app) newGate(ctx context.Context) (erp.Gate, error) {
	if a.cfg.RedisAddr == "" {
		return erp.NewPacer(a.cfg.MinRequestInterval, a.cfg.DailyRequestLimit), nil
	}

	rcfg := redisgate.Config{
		Addr:       a.cfg.RedisAddr,
		Password:   a.cfg.RedisPassword,
		DB:         a.cfg.RedisDB,
		EnableTLS:  a.cfg.RedisTLS,
		KeyPrefix:  "erpsync:" + a.cfg.Integration + ":pacer",
		Interval:   a.cfg.MinRequestInterval,
		DailyLimit: a.cfg.DailyRequestLimit,
	}
	client := redisgate.NewClient(rcfg)
	a.closers = append(a.closers, client.Close)

	gate := redisgate.NewGate(client, rcfg)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := gate.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("connect to redis pacing gate at %s: %w", a.cfg.RedisAddr, err)
	}
	slog.Info("using shared redis pacing gate", "addr", a.cfg.RedisAddr)

	return gate, nil
}

// requireSync fails commands that need the ERP API when it is not configured.
func (a *app) requireSync() error {
	if a.sync == nil {
		return errors.New("erp api not configured: set ERPSYNC_API_BASE_URL, ERPSYNC_OAUTH_TOKEN_URL, ERPSYNC_CLIENT_ID and ERPSYNC_CLIENT_SECRET")
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}
}
