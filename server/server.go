package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/pereferrera/scratchwin/ledger"
	"github.com/pereferrera/scratchwin/ledger/ledgerdb"
)

const (
	name    = "scratchwind"
	version = "v0.1.0"
)

type ServerConfig struct {
	ServerDir string

	MinDeposit    dcrutil.Amount
	HTTPPort      string
	DebugLevel    string
	LogBackend    *logging.LogBackend
	Payments      ledger.PaymentEngine
	WatchInterval time.Duration
}

// Server wires the issuer registry, its persistence, the refund watcher
// and the HTTP surface together.
type Server struct {
	sync.RWMutex

	log      slog.Logger
	db       ledgerdb.LedgerDB
	registry *ledger.Registry
	payments ledger.PaymentEngine

	watcher    *refundWatcher
	httpServer *http.Server
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log is nil")
	}
	if cfg.Payments == nil {
		return nil, fmt.Errorf("payment engine is nil")
	}

	dbPath := filepath.Join(cfg.ServerDir, "ledger.db")
	db, err := ledgerdb.NewBoltDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log := cfg.LogBackend.Logger("SRVR")
	registry, err := ledger.NewRegistry(ledger.RegistryConfig{
		Log:        cfg.LogBackend.Logger("REGI"),
		MinDeposit: cfg.MinDeposit,
		Payments:   cfg.Payments,
		DB:         db,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	s := &Server{
		log:      log,
		db:       db,
		registry: registry,
		payments: cfg.Payments,
		watcher:  newRefundWatcher(cfg.LogBackend.Logger("WTCH"), registry, cfg.WatchInterval),
	}

	if cfg.HTTPPort != "" {
		s.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
			Handler: s.Handler(),
		}
	}

	return s, nil
}

// Handler returns the HTTP surface as a plain http.Handler, independent of
// whether a listening port was configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/issuer/register", s.handleRegisterIssuer)
	mux.HandleFunc("/issuer/deposit", s.handleDeposit)
	mux.HandleFunc("/issuer/withdraw", s.handleWithdraw)
	mux.HandleFunc("/issuer", s.handleGetIssuer)
	mux.HandleFunc("/issuers", s.handleListIssuers)
	mux.HandleFunc("/ticket/purchase", s.handlePurchase)
	mux.HandleFunc("/ticket/resolve", s.handleResolve)
	mux.HandleFunc("/ticket/refund", s.handleRefund)
	mux.HandleFunc("/ticket", s.handleGetTicket)
	mux.HandleFunc("/tickets", s.handleListTickets)
	return mux
}

// Registry exposes the issuer registry for embedding callers (tests,
// in-process oracles).
func (s *Server) Registry() *ledger.Registry {
	return s.registry
}

// SubscribeRefunds mirrors the watcher subscription for one issuer.
func (s *Server) SubscribeRefunds(issuerID uint64) (chan RefundUpdate, func()) {
	return s.watcher.subscribe(issuerID)
}

func (s *Server) Run(ctx context.Context) error {
	s.log.Infof("%s %s starting", name, version)
	go s.watcher.run(ctx)

	if s.httpServer != nil {
		go func() {
			s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("HTTP server error: %v", err)
			}
		}()
	}

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		s.log.Errorf("Error during server shutdown: %v", err)
	}
	return nil
}

// Shutdown stops the watcher and HTTP server, then closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.watcher.stop()

	if s.httpServer != nil {
		s.log.Info("Shutting down HTTP server...")
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Errorf("Error shutting down HTTP server: %v", err)
		}
	}

	// Close database LAST after all operations are done.
	s.log.Info("Closing database...")
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing database: %v", err)
	}

	s.log.Info("Server shut down completed.")
	return nil
}
