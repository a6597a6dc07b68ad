package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"
	"golang.org/x/sync/errgroup"

	"github.com/pereferrera/scratchwin/ledger"
	"github.com/pereferrera/scratchwin/oracle"
	"github.com/pereferrera/scratchwin/server"
)

var (
	datadir         = flag.String("datadir", "", "Directory to load config file from")
	flagHTTPPort    = flag.String("httpport", "", "Port for the HTTP JSON interface")
	flagDebugLevel  = flag.String("debuglevel", "", "Log level, e.g. debug or SRVR=trace")
	flagOracleKey   = flag.String("oraclekey", "", "Path to the oracle signing key file")
	flagMinDeposit  = flag.Int64("mindeposit", -1, "Minimum issuer deposit in atoms")
	flagRevealDelay = flag.Duration("revealdelay", 0, "Delay before auto-resolving a purchased ticket")
)

// journalPayments records outbound payments to an append-only JSON journal.
// It stands in for a wallet backend and lets an operator reconcile payouts
// against the ledger after the fact.
type journalPayments struct {
	mtx  sync.Mutex
	path string
	log  slog.Logger
}

type payoutEntry struct {
	Recipient string    `json:"recipient"`
	Atoms     int64     `json:"atoms"`
	At        time.Time `json:"at"`
}

func (j *journalPayments) Pay(ctx context.Context, recipient zkidentity.ShortID, amount dcrutil.Amount) error {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open payout journal: %w", err)
	}
	defer f.Close()
	entry := payoutEntry{Recipient: recipient.String(), Atoms: int64(amount), At: time.Now()}
	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return fmt.Errorf("append payout journal: %w", err)
	}
	j.log.Infof("paid %s to %s", amount, recipient)
	return nil
}

// registryResolver locates the ledger holding a ticket so the auto resolver
// can submit signatures without knowing issuer ids.
type registryResolver struct {
	registry *ledger.Registry
}

func (rr *registryResolver) Resolve(ctx context.Context, ticketID chainhash.Hash, sig []byte) (*ledger.Ticket, error) {
	for _, l := range rr.registry.Ledgers() {
		if _, err := l.Ticket(ticketID); err == nil {
			return l.Resolve(ctx, ticketID, sig)
		}
	}
	return nil, ledger.ErrTicketNotFound
}

// revealLoop periodically queues committed tickets older than the reveal
// delay for auto resolution.
func revealLoop(ctx context.Context, registry *ledger.Registry, ar *oracle.AutoResolver, delay time.Duration) error {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, l := range registry.Ledgers() {
				for _, t := range l.Tickets() {
					if t.Status != ledger.StatusCommitted {
						continue
					}
					if now.Before(t.PurchasedAt.Add(delay)) {
						continue
					}
					ar.Request(t.ID)
				}
			}
		}
	}
}

func realMain() error {
	flag.Parse()
	if *datadir == "" {
		*datadir = utils.AppDataDir("scratchwind", false)
	}
	cfg, err := LoadScratchwindConfig(*datadir, "scratchwind.conf")
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	// Apply overrides from flags.
	if *flagHTTPPort != "" {
		cfg.HTTPPort = *flagHTTPPort
	}
	if *flagDebugLevel != "" {
		cfg.DebugLevel = *flagDebugLevel
	}
	if *flagOracleKey != "" {
		cfg.OracleKeyFile = *flagOracleKey
	}
	if *flagMinDeposit >= 0 {
		cfg.MinDepositAtoms = *flagMinDeposit
	}
	if *flagRevealDelay > 0 {
		cfg.RevealDelay = *flagRevealDelay
	}
	if cfg.OracleKeyFile == "" {
		cfg.OracleKeyFile = filepath.Join(*datadir, "oracle.key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	useStdout := true
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(*datadir, "logs", "scratchwind.log"),
		DebugLevel:     cfg.DebugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
		UseStdout:      &useStdout,
	})
	if err != nil {
		return err
	}
	log := lb.Logger("MAIN")

	priv, err := oracle.LoadKeyFile(cfg.OracleKeyFile)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("generating oracle key at %s", cfg.OracleKeyFile)
		priv, err = oracle.GenerateKeyFile(cfg.OracleKeyFile)
	}
	if err != nil {
		return fmt.Errorf("oracle key: %w", err)
	}
	orc := oracle.New(priv, lb.Logger("ORCL"))

	payments := &journalPayments{
		path: filepath.Join(*datadir, "payouts.json"),
		log:  lb.Logger("PAYJ"),
	}

	srv, err := server.NewServer(server.ServerConfig{
		ServerDir:     *datadir,
		MinDeposit:    dcrutil.Amount(cfg.MinDepositAtoms),
		HTTPPort:      cfg.HTTPPort,
		DebugLevel:    cfg.DebugLevel,
		LogBackend:    lb,
		Payments:      payments,
		WatchInterval: cfg.WatchInterval,
	})
	if err != nil {
		return err
	}

	resolver := oracle.NewAutoResolver(orc, &registryResolver{registry: srv.Registry()},
		lb.Logger("ARSV"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return resolver.Run(gctx) })
	g.Go(func() error { return revealLoop(gctx, srv.Registry(), resolver, cfg.RevealDelay) })

	log.Infof("scratchwind running, datadir %s", *datadir)
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
