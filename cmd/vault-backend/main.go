// Package main is the vault-backend entry point: it loads configuration,
// opens the database, builds every subsystem manager, and serves the
// combined HTTP/WebSocket surface until a termination signal arrives.
// Grounded on cmd/gateway/main.go's construct-then-serve-then-drain-on-
// signal shape; the Marble/enclave bootstrap, Supabase client and Neo
// wallet verification it also does are dropped entirely since none of
// them exist on an air-gapped appliance with a conventional Postgres
// store.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/vault-ai/control-plane/internal/adaptermanager"
	"github.com/vault-ai/control-plane/internal/api"
	"github.com/vault-ai/control-plane/internal/audit"
	"github.com/vault-ai/control-plane/internal/auth"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/devmode"
	"github.com/vault-ai/control-plane/internal/diagnostics"
	"github.com/vault-ai/control-plane/internal/gpuinfo"
	"github.com/vault-ai/control-plane/internal/gpuscheduler"
	"github.com/vault-ai/control-plane/internal/jobrunner"
	"github.com/vault-ai/control-plane/internal/proxy"
	"github.com/vault-ai/control-plane/internal/quarantine"
	"github.com/vault-ai/control-plane/internal/servicemgr"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/internal/updateengine"
	"github.com/vault-ai/control-plane/internal/uptime"
	"github.com/vault-ai/control-plane/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log := logger.New(logger.Config{
		Service:    "vault-backend",
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	db, err := sql.Open(orDefault(cfg.Database.Driver, "postgres"), cfg.Database.ConnectionString())
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to open database")
	}
	defer db.Close()
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.WithField("error", err.Error()).Fatal("database unreachable")
	}

	st := store.New(db)

	authSvc := auth.New(cfg, st, st, log)
	auditLog := audit.New(st, log)

	scheduler := gpuscheduler.New(cfg, st, gpuinfo.DetectNVIDIA)
	trainingRunner := jobrunner.NewTrainingRunner(cfg, st, scheduler, log)
	evalRunner := jobrunner.NewEvalRunner(cfg, st, log)

	quarantineDriver := quarantine.New(cfg, st, st, log)
	signatureMgr := quarantine.NewSignatureManager(cfg.Quarantine)

	updateEngine := updateengine.New(cfg, st, log)
	serviceMgr := servicemgr.New(cfg, log)
	uptimeMon := uptime.New(cfg, serviceMgr, st, log)
	adapterMgr := adaptermanager.New(cfg, st, serviceMgr, log)
	devModeMgr := devmode.NewManager(cfg)
	inferenceProxy := proxy.New(cfg, log)
	diagnosticsSvc := diagnostics.New(cfg, st, log)

	server := api.NewServer(api.Deps{
		Cfg:         cfg,
		Log:         log,
		Store:       st,
		Auth:        authSvc,
		Audit:       auditLog,
		Scheduler:   scheduler,
		Training:    trainingRunner,
		Eval:        evalRunner,
		Quarantine:  quarantineDriver,
		Updates:     updateEngine,
		Services:    serviceMgr,
		Uptime:      uptimeMon,
		Adapters:    adapterMgr,
		DevMode:     devModeMgr,
		Inference:   inferenceProxy,
		Diagnostics: diagnosticsSvc,
		Signatures:  signatureMgr,
	})

	httpServer := api.NewHTTPServer(cfg, server.Router())

	go func() {
		log.WithField("addr", httpServer.Addr).Info("vault-backend listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Warn("shutdown error")
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
