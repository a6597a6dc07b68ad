package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"

	"github.com/pereferrera/scratchwin/ledger/ledgerdb"
)

// RegistryConfig configures a registry. Payments is required; DB is
// optional and enables persistence plus restart recovery; Now defaults to
// time.Now and exists so tests can drive the clock.
type RegistryConfig struct {
	Log        slog.Logger
	MinDeposit dcrutil.Amount
	Payments   PaymentEngine
	DB         ledgerdb.LedgerDB
	Now        func() time.Time
}

// Registry creates and tracks issuers. Issuers are appended in
// registration order and never removed; per-issuer reputation counters are
// incremented only by ledger transitions. Issuers share no mutable state
// with each other.
type Registry struct {
	sync.RWMutex

	log        slog.Logger
	minDeposit dcrutil.Amount
	payments   PaymentEngine
	db         ledgerdb.LedgerDB
	now        func() time.Time

	ledgers  map[uint64]*Ledger
	order    []uint64
	nextID   uint64
	counters map[uint64]*Counters
}

// NewRegistry creates a registry, restoring issuers, counters and tickets
// from cfg.DB when one is supplied.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Payments == nil {
		return nil, fmt.Errorf("payment engine is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Registry{
		log:        log,
		minDeposit: cfg.MinDeposit,
		payments:   cfg.Payments,
		db:         cfg.DB,
		now:        now,
		ledgers:    make(map[uint64]*Ledger),
		counters:   make(map[uint64]*Counters),
	}
	if cfg.DB != nil {
		if err := r.restore(context.Background()); err != nil {
			return nil, fmt.Errorf("restore registry: %w", err)
		}
	}
	return r, nil
}

// RegisterIssuer creates a new issuer capitalized with deposit and returns
// its ledger. The deposit is at-risk prize capital, not escrow.
func (r *Registry) RegisterIssuer(pubkey []byte, controller zkidentity.ShortID, params IssuerParams, deposit dcrutil.Amount) (*Ledger, error) {
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("bad issuer pubkey: %w", err)
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("bad issuer params: %w", err)
	}
	if deposit < r.minDeposit {
		return nil, ErrInsufficientDeposit
	}

	r.Lock()
	defer r.Unlock()

	r.nextID++
	iss := &Issuer{
		ID:               r.nextID,
		PublicKey:        pub.SerializeCompressed(),
		Controller:       controller,
		Params:           params,
		OperatingBalance: deposit,
		RegisteredAt:     r.now(),
	}
	l := newLedger(iss, r)

	if r.db != nil {
		if err := l.persistIssuer(context.Background()); err != nil {
			r.nextID--
			return nil, fmt.Errorf("persist issuer: %w", err)
		}
	}

	r.ledgers[iss.ID] = l
	r.order = append(r.order, iss.ID)
	r.counters[iss.ID] = &Counters{}

	r.log.Infof("registered issuer %d (price %s, prize %s, odds 1/%d, timeout %s, deposit %s)",
		iss.ID, params.TicketPrice, params.PrizeAmount, params.OddsDenominator,
		params.TimeoutWindow, deposit)
	return l, nil
}

// Ledger returns the ledger owned by the given issuer.
func (r *Registry) Ledger(issuerID uint64) (*Ledger, error) {
	r.RLock()
	defer r.RUnlock()
	l, ok := r.ledgers[issuerID]
	if !ok {
		return nil, ErrIssuerNotFound
	}
	return l, nil
}

// Ledgers returns every issuer's ledger in registration order.
func (r *Registry) Ledgers() []*Ledger {
	r.RLock()
	defer r.RUnlock()
	out := make([]*Ledger, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.ledgers[id])
	}
	return out
}

// Issuers returns snapshots of all issuer records in registration order.
func (r *Registry) Issuers() []Issuer {
	ledgers := r.Ledgers()
	out := make([]Issuer, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, l.Issuer())
	}
	return out
}

// IssuerCounters returns a copy of an issuer's reputation counters.
func (r *Registry) IssuerCounters(issuerID uint64) (Counters, error) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.counters[issuerID]
	if !ok {
		return Counters{}, ErrIssuerNotFound
	}
	return *c, nil
}

// WithdrawOperatingBalance pays unencumbered operating balance out to the
// issuer's registered controller.
func (r *Registry) WithdrawOperatingBalance(ctx context.Context, issuerID uint64, amount dcrutil.Amount, caller zkidentity.ShortID) error {
	l, err := r.Ledger(issuerID)
	if err != nil {
		return err
	}
	return l.Withdraw(ctx, amount, caller)
}

// ReportSold, ReportRewarded and ReportTimedOut are called by the ledger on
// the corresponding transitions, never by external actors.

func (r *Registry) ReportSold(ctx context.Context, issuerID uint64) {
	r.bumpCounter(ctx, issuerID, func(c *Counters) { c.Sold++ })
}

func (r *Registry) ReportRewarded(ctx context.Context, issuerID uint64) {
	r.bumpCounter(ctx, issuerID, func(c *Counters) { c.Rewarded++ })
}

func (r *Registry) ReportTimedOut(ctx context.Context, issuerID uint64) {
	r.bumpCounter(ctx, issuerID, func(c *Counters) { c.TimedOut++ })
}

func (r *Registry) bumpCounter(ctx context.Context, issuerID uint64, bump func(*Counters)) {
	r.Lock()
	c, ok := r.counters[issuerID]
	if !ok {
		r.Unlock()
		r.log.Errorf("counter report for unknown issuer %d", issuerID)
		return
	}
	bump(c)
	snap := *c
	r.Unlock()

	if r.db != nil {
		err := r.db.SaveCounters(ctx, issuerID, &ledgerdb.CountersRecord{
			Sold:     snap.Sold,
			Rewarded: snap.Rewarded,
			TimedOut: snap.TimedOut,
		})
		if err != nil {
			r.log.Errorf("persist counters for issuer %d: %v", issuerID, err)
		}
	}
}

// restore rebuilds issuers, counters, tickets and escrow holds from the db.
func (r *Registry) restore(ctx context.Context) error {
	recs, err := r.db.FetchAllIssuers(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		iss := &Issuer{
			ID:        rec.ID,
			PublicKey: rec.PublicKey,
			Params: IssuerParams{
				TicketPrice:     dcrutil.Amount(rec.TicketPriceAtoms),
				PrizeAmount:     dcrutil.Amount(rec.PrizeAmountAtoms),
				OddsDenominator: rec.OddsDenominator,
				TimeoutWindow:   time.Duration(rec.TimeoutSeconds) * time.Second,
			},
			OperatingBalance: dcrutil.Amount(rec.BalanceAtoms),
			RegisteredAt:     rec.RegisteredAt,
		}
		copy(iss.Controller[:], rec.Controller)
		l := newLedger(iss, r)

		trs, err := r.db.FetchTicketsByIssuer(ctx, rec.ID)
		if err != nil {
			return err
		}
		for _, tr := range trs {
			t := &Ticket{
				IssuerID:     tr.IssuerID,
				Number:       tr.Number,
				Status:       TicketStatus(tr.Status),
				EscrowAmount: dcrutil.Amount(tr.EscrowAtoms),
				PurchasedAt:  tr.PurchasedAt,
			}
			copy(t.ID[:], tr.ID)
			copy(t.Buyer[:], tr.Buyer)
			l.tickets[t.ID] = t
			if t.Status == StatusCommitted {
				if err := l.escrow.hold(t.ID, t.EscrowAmount); err != nil {
					return fmt.Errorf("re-hold escrow for %s: %w", t.ID, err)
				}
			}
		}

		cr, err := r.db.FetchCounters(ctx, rec.ID)
		if err != nil {
			return err
		}

		r.ledgers[rec.ID] = l
		r.order = append(r.order, rec.ID)
		r.counters[rec.ID] = &Counters{
			Sold:     cr.Sold,
			Rewarded: cr.Rewarded,
			TimedOut: cr.TimedOut,
		}
		if rec.ID > r.nextID {
			r.nextID = rec.ID
		}
		r.log.Debugf("restored issuer %d with %d tickets (%s escrowed)",
			rec.ID, len(l.tickets), l.escrow.outstanding())
	}
	return nil
}
