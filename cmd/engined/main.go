package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loreweave/loreweave-engine/internal/auth"
	"github.com/loreweave/loreweave-engine/internal/config"
	"github.com/loreweave/loreweave-engine/internal/credit"
	creditpg "github.com/loreweave/loreweave-engine/internal/credit/postgres"
	creditsqlite "github.com/loreweave/loreweave-engine/internal/credit/sqlite"
	"github.com/loreweave/loreweave-engine/internal/generator/loopback"
	"github.com/loreweave/loreweave-engine/internal/httpserver"
	"github.com/loreweave/loreweave-engine/internal/logging"
	"github.com/loreweave/loreweave-engine/internal/metrics"
	"github.com/loreweave/loreweave-engine/internal/modelcatalog"
	"github.com/loreweave/loreweave-engine/internal/orchestrator"
	archivepg "github.com/loreweave/loreweave-engine/internal/orchestrator/postgres"
	archivesqlite "github.com/loreweave/loreweave-engine/internal/orchestrator/sqlite"
	"github.com/loreweave/loreweave-engine/internal/version"
)

func main() {
	cfg, err := config.LoadEngineConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024)
	if strings.TrimSpace(cfg.LogFile) != "" {
		rot, err := logging.NewRotatingWriter(cfg.LogFile, maxLogBytes, 14)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[engined] ")
		defer rot.Close()
	}

	log.Printf("loreweave engine %s", version.FullInfo())

	ctx := context.Background()

	var store credit.Store
	switch cfg.LedgerBackend {
	case "postgres":
		store, err = creditpg.New(cfg.PostgresDSN, cfg.PGMaxOpenConns, cfg.PGMaxIdleConns, cfg.PGConnMaxLifetimeMins, cfg.PGConnMaxIdleMins)
	default:
		store, err = creditsqlite.New(cfg.LedgerPath)
	}
	if err != nil {
		log.Fatalf("open ledger store (%s): %v", cfg.LedgerBackend, err)
	}
	defer store.Close()

	ledger := credit.NewLedger(store, credit.Config{
		CheckInMin: cfg.CheckInMin,
		CheckInMax: cfg.CheckInMax,
		Logger:     log.New(log.Writer(), "[engined/ledger] ", log.LstdFlags|log.Lmicroseconds),
	})

	admin, err := ledger.EnsureAccount(ctx, cfg.AdminEmail)
	if err != nil {
		log.Fatalf("ensure admin account: %v", err)
	}
	log.Printf("admin account %s (%s)", admin.Email, admin.ID)

	catalog := modelcatalog.New()
	if strings.TrimSpace(cfg.ModelsFile) != "" {
		n, err := catalog.LoadFile(cfg.ModelsFile)
		if err != nil {
			log.Fatalf("load models file %s: %v", cfg.ModelsFile, err)
		}
		log.Printf("loaded %d model(s) from %s", n, cfg.ModelsFile)
	} else {
		log.Printf("no models file configured; register models through the admin API")
	}

	var archive orchestrator.Archive
	var archiveReader httpserver.ArchiveReader
	switch cfg.ArchiveBackend {
	case "sqlite":
		a, err := archivesqlite.New(cfg.ArchivePath)
		if err != nil {
			log.Fatalf("open job archive: %v", err)
		}
		archive, archiveReader = a, a
	case "postgres":
		a, err := archivepg.New(cfg.PostgresDSN, cfg.PGMaxOpenConns, cfg.PGMaxIdleConns)
		if err != nil {
			log.Fatalf("open job archive: %v", err)
		}
		archive, archiveReader = a, a
	default:
		log.Printf("job archiving disabled")
	}
	if archive != nil {
		defer archive.Close()
	}

	reserve := decimal.Zero
	if strings.TrimSpace(cfg.ReserveEstimate) != "" {
		reserve, err = decimal.NewFromString(cfg.ReserveEstimate)
		if err != nil {
			log.Fatalf("invalid reserve_estimate %q: %v", cfg.ReserveEstimate, err)
		}
	}

	collector := metrics.NewCollector()
	orch := orchestrator.New(ledger, catalog, loopback.New(), nil, archive, orchestrator.Config{
		JobTimeout:      cfg.JobTimeout,
		ReserveEstimate: reserve,
		Logger:          log.New(log.Writer(), "[engined/orchestrator] ", log.LstdFlags|log.Lmicroseconds),
		Metrics:         collector,
	})
	defer orch.Close()

	var authManager *auth.Manager
	if !cfg.AuthDisabled {
		authManager = auth.NewManager(cfg.AuthSecret)
	} else {
		log.Printf("authorization disabled: skipping token validation")
	}

	httpSrv := httpserver.New(ledger, orch, catalog, httpserver.Options{
		Archive:      archiveReader,
		Metrics:      collector,
		Auth:         authManager,
		AuthDisabled: cfg.AuthDisabled,
		AdminEmail:   cfg.AdminEmail,
		Logger:       log.New(log.Writer(), "[engined/http] ", log.LstdFlags|log.Lmicroseconds),
		LogLevel:     cfg.LogLevel,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("engine listening on :%d (env=%s ledger=%s)", cfg.HTTPPort, cfg.Environment, cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
