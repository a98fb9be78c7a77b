package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erx-fd/erx-server/internal/api"
	"github.com/erx-fd/erx-server/internal/audit"
	"github.com/erx-fd/erx-server/internal/comm"
	"github.com/erx-fd/erx-server/internal/config"
	"github.com/erx-fd/erx-server/internal/logger"
	"github.com/erx-fd/erx-server/internal/pki"
	"github.com/erx-fd/erx-server/internal/sched"
	"github.com/erx-fd/erx-server/internal/sign"
	"github.com/erx-fd/erx-server/internal/state"
	"github.com/erx-fd/erx-server/internal/telemetry"
	"github.com/erx-fd/erx-server/internal/token"
	"github.com/erx-fd/erx-server/internal/vau"
	"github.com/erx-fd/erx-server/internal/vauserver"
	"github.com/erx-fd/erx-server/internal/workflow"
)

var serveConfigDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the VAU-tunnelled FHIR REST server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigDir, "config-dir", "config", "directory holding <environment>.yaml / default.yaml")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: serveConfigDir})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level))
	log.Info("starting erxfd", logger.String("environment", cfg.Environment), logger.String("listen_addr", cfg.Server.ListenAddr))

	vauKey, signer, err := loadVauIdentity(cfg.Vau)
	if err != nil {
		return fmt.Errorf("load VAU identity: %w", err)
	}

	pkiStore := pki.NewStore(pki.Config{
		TslURL:            cfg.Pki.TslURL,
		BnetzaURL:         cfg.Pki.BnetzaURL,
		PukTokenURL:       cfg.Pki.PukTokenURL,
		RefreshInterval:   cfg.Pki.RefreshInterval,
		RefreshBackoffCap: cfg.Pki.RefreshBackoffCap,
		OcspStaleAfter:    cfg.Pki.OcspStaleAfter,
	}, signer.Cert, log)

	scheduler := sched.New()
	pkiStore.SetScheduler(scheduler)

	if err := pkiStore.Prime(ctx); err != nil {
		return fmt.Errorf("prime PKI trust material: %w", err)
	}
	go func() {
		if err := pkiStore.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("PKI refresh loop stopped", logger.Error(err))
		}
	}()

	store := loadOrCreateStore(cfg.State.SnapshotPath, log)

	var autosaver *state.Autosaver
	if cfg.State.SnapshotPath != "" && cfg.State.AutosaveInterval > 0 {
		autosaver = state.NewAutosaver(store, cfg.State.SnapshotPath, cfg.State.AutosaveInterval, log)
		autosaver.Start()
		defer autosaver.Stop()
	}

	workflowEngine := workflow.NewEngine(store, pkiStore, cfg.Limits, log, nil)
	commEngine := comm.NewEngine(store, cfg.Limits, nil)
	auditReader := audit.NewReader(store, nil)
	verifier := token.NewVerifier(pkiStore)

	router := api.NewRouter(api.Deps{
		Verifier: verifier,
		Workflow: workflowEngine,
		Comm:     commEngine,
		Audit:    auditReader,
		Store:    store,
		Pki:      pkiStore,
		Signer:   signer,
		Log:      log,
	})

	pseudonyms, err := vau.NewPseudonymGenerator(cfg.Vau.PseudonymKeyTTL)
	if err != nil {
		return fmt.Errorf("start pseudonym generator: %w", err)
	}
	defer pseudonyms.Stop()

	tunnel := &vauserver.Tunnel{
		PrivateKey:     vauKey,
		Pseudonyms:     pseudonyms,
		Router:         router,
		RequestTimeout: cfg.Server.RequestTimeout,
		Sched:          scheduler,
		Log:            log,
	}

	mux := http.NewServeMux()
	mux.Handle("/VAU/", tunnel)
	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	if cfg.Telemetry.Enabled {
		go func() {
			log.Info("starting telemetry listener", logger.String("listen_addr", cfg.Telemetry.ListenAddr))
			if err := telemetry.StartServer(cfg.Telemetry.ListenAddr); err != nil {
				log.Error("telemetry listener stopped", logger.Error(err))
			}
		}()
	}

	return runUntilSignal(ctx, server, store, cfg.State.SnapshotPath, log)
}

// runUntilSignal starts the listener and blocks until SIGINT/SIGTERM or
// ctx cancellation, then drains the listener and writes a final
// snapshot if one is configured.
func runUntilSignal(ctx context.Context, server *http.Server, store *state.Store, snapshotPath string, log logger.Logger) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return &bindError{cause: err}
		}
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", logger.Error(err))
		}
	}

	if snapshotPath != "" {
		if err := store.Save(snapshotPath); err != nil {
			log.Error("final snapshot save failed", logger.Error(err))
		}
	}
	return nil
}

func loadOrCreateStore(snapshotPath string, log logger.Logger) *state.Store {
	if snapshotPath == "" {
		return state.New()
	}
	if _, err := os.Stat(snapshotPath); err != nil {
		return state.New()
	}
	loaded, err := state.Load(snapshotPath)
	if err != nil {
		log.Error("snapshot load failed, starting empty", logger.String("path", snapshotPath), logger.Error(err))
		return state.New()
	}
	log.Info("restored state from snapshot", logger.String("path", snapshotPath))
	return loaded
}

// loadVauIdentity reads the server's VAU/signing leaf certificate and EC
// private key off disk (PEM, one block each) and builds the two views of
// that identity the server needs: the raw ECIES scalar for the VAU
// tunnel, and the crypto.Signer + certificate pair for internal/sign.
func loadVauIdentity(cfg config.VauConfig) (*vau.PrivateKey, *sign.Signer, error) {
	certPEM, err := os.ReadFile(cfg.CertificatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read certificate: %w", err)
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block in %s", cfg.CertificatePath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block in %s", cfg.PrivateKeyPath)
	}
	ecKey, err := parseECPrivateKey(keyBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("parse private key: %w", err)
	}

	return &vau.PrivateKey{D: ecKey.D}, &sign.Signer{Cert: cert, Key: ecKey}, nil
}

func parseLevel(raw string) logger.Level {
	switch raw {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	case "fatal":
		return logger.FatalLevel
	default:
		return logger.InfoLevel
	}
}

func parseECPrivateKey(block *pem.Block) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an EC key")
	}
	return ecKey, nil
}
