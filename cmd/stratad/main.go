package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"strata/config"
	"strata/core/events"
	coretypes "strata/core/types"
	"strata/gateway"
	"strata/native/token"
	"strata/native/tranche"
	"strata/observability"
	"strata/observability/logging"
	"strata/storage/vaultstate"
)

// eventSink logs every ledger event as one structured line and feeds
// distribution amounts into the prometheus counters.
type eventSink struct {
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
}

func (s *eventSink) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *coretypes.Event })
	if !ok {
		return
	}
	e := carrier.Event()
	if e == nil {
		return
	}
	args := make([]any, 0, 2*len(e.Attributes))
	for key, value := range e.Attributes {
		args = append(args, key, value)
	}
	s.logger.Info(e.Type, args...)

	if e.Type != tranche.EventTypeDistributed {
		return
	}
	vault := e.Attributes["vault"]
	for i := 0; i < tranche.NumTranches; i++ {
		name := tranche.TrancheID(i).String()
		raw, ok := e.Attributes[name]
		if !ok {
			continue
		}
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		s.metrics.AddDistributed(vault, name, amount)
	}
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "strata.toml", "path to stratad config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STRATA_ENV"))
	logger := logging.Setup("stratad", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if env == "" {
		env = cfg.Environment
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	store, err := vaultstate.Open(filepath.Join(cfg.DataDir, "strata.db"), nil)
	if err != nil {
		log.Fatalf("open vault store: %v", err)
	}
	defer store.Close()

	engine := tranche.NewEngine()
	engine.SetState(store)
	engine.SetEmitter(&eventSink{logger: logger, metrics: observability.Ledger()})

	factory := tranche.NewFactory(engine, func(vaultID [32]byte, id tranche.TrancheID, sync tranche.SyncFunc) (tranche.PositionToken, error) {
		symbol := fmt.Sprintf("STR-%s-%s", hex.EncodeToString(vaultID[:4]), strings.ToUpper(id.String()[:3]))
		return token.New(symbol, token.SyncFunc(sync)), nil
	})

	for i := range cfg.Vaults {
		vaultCfg, err := cfg.Vaults[i].VaultConfig()
		if err != nil {
			log.Fatalf("vault %d config: %v", i, err)
		}
		vault, err := factory.EnsureVault(vaultCfg)
		if err != nil {
			log.Fatalf("ensure vault %d: %v", i, err)
		}
		logger.Info("vault ready",
			"vault", hex.EncodeToString(vault.ID[:]),
			"underlying", vault.Underlying,
			"status", vault.Status.String(),
		)
	}

	server, err := gateway.NewServer(engine, store, logger)
	if err != nil {
		log.Fatalf("build gateway: %v", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("stratad listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}
}

