package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"

	scratchwin "github.com/pereferrera/scratchwin"
	"github.com/pereferrera/scratchwin/ledger/ledgerdb"
)

// Ledger is the per-issuer ticket state machine. It owns the issuer record,
// its ticket map and its escrow account, and reports reputation events to
// the registry it was created by.
//
// Every operation runs to completion under the ledger lock, so operations
// on the same ticket apply in arrival order and each status check acts as a
// compare-and-set: the first valid transition wins, the second fails
// closed.
type Ledger struct {
	sync.RWMutex

	log      slog.Logger
	issuer   *Issuer
	registry *Registry
	payments PaymentEngine
	db       ledgerdb.LedgerDB // nil disables persistence
	now      func() time.Time

	tickets map[chainhash.Hash]*Ticket
	escrow  *escrowAccount
}

func newLedger(issuer *Issuer, r *Registry) *Ledger {
	return &Ledger{
		log:      r.log,
		issuer:   issuer,
		registry: r,
		payments: r.payments,
		db:       r.db,
		now:      r.now,
		tickets:  make(map[chainhash.Hash]*Ticket),
		escrow:   newEscrowAccount(),
	}
}

// IssuerID returns the id assigned at registration.
func (l *Ledger) IssuerID() uint64 {
	return l.issuer.ID
}

// Issuer returns a snapshot of the issuer record.
func (l *Ledger) Issuer() Issuer {
	l.RLock()
	defer l.RUnlock()
	return *l.issuer
}

// Params returns the issuer's registered game parameters (immutable).
func (l *Ledger) Params() IssuerParams {
	return l.issuer.Params
}

// Purchase commits a new ticket: it derives the ticket id from (issuer,
// buyer, number), escrows the ticket price and records the purchase.
// Payment below the ticket price or a duplicate id fail with no state
// change. Overpayment above the ticket price stays on the payment rail; the
// escrow holds exactly the price.
func (l *Ledger) Purchase(ctx context.Context, buyer zkidentity.ShortID, number uint64, payment dcrutil.Amount) (*Ticket, error) {
	l.Lock()
	defer l.Unlock()

	price := l.issuer.Params.TicketPrice
	if payment < price {
		return nil, ErrInsufficientPayment
	}

	id := scratchwin.TicketID(l.issuer.ID, buyer, number)
	if _, ok := l.tickets[id]; ok {
		return nil, ErrDuplicateTicket
	}

	t := &Ticket{
		ID:           id,
		IssuerID:     l.issuer.ID,
		Buyer:        buyer,
		Number:       number,
		Status:       StatusCommitted,
		EscrowAmount: price,
		PurchasedAt:  l.now(),
	}
	if err := l.escrow.hold(id, price); err != nil {
		return nil, err
	}
	l.tickets[id] = t

	if err := l.persistTicket(ctx, t); err != nil {
		l.escrow.release(id)
		delete(l.tickets, id)
		return nil, fmt.Errorf("persist ticket: %w", err)
	}

	l.registry.ReportSold(ctx, l.issuer.ID)
	l.log.Debugf("issuer %d: ticket %s committed by %s (escrow %s)",
		l.issuer.ID, id, buyer, price)
	return t.clone(), nil
}

// Resolve settles a Committed ticket with an issuer signature. A signature
// that is malformed, non-canonical or from the wrong key leaves the ticket
// Committed and retryable. On a valid signature the draw decides win or
// lose, and state transition plus fund movement happen as one unit.
func (l *Ledger) Resolve(ctx context.Context, ticketID chainhash.Hash, sig []byte) (*Ticket, error) {
	l.Lock()
	defer l.Unlock()

	t, ok := l.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if err := t.terminalErr(); err != nil {
		return nil, err
	}

	signer, err := scratchwin.RecoverTicketSigner(sig, ticketID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignatureEncoding, err)
	}
	if !bytes.Equal(signer.SerializeCompressed(), l.issuer.PublicKey) {
		return nil, ErrUnauthorizedSigner
	}

	odds := l.issuer.Params.OddsDenominator
	draw, err := scratchwin.TicketDraw(sig, odds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignatureEncoding, err)
	}
	if scratchwin.IsWinningDraw(draw, odds) {
		return l.resolveWin(ctx, t)
	}
	return l.resolveLose(ctx, t)
}

func (l *Ledger) resolveLose(ctx context.Context, t *Ticket) (*Ticket, error) {
	amt, err := l.escrow.release(t.ID)
	if err != nil {
		return nil, err
	}
	t.Status = StatusResolvedLose
	l.issuer.OperatingBalance += amt

	if err := l.persistTransition(ctx, t); err != nil {
		t.Status = StatusCommitted
		l.issuer.OperatingBalance -= amt
		l.escrow.hold(t.ID, amt)
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	l.log.Infof("issuer %d: ticket %s resolved lose, %s forfeited",
		l.issuer.ID, t.ID, amt)
	return t.clone(), nil
}

func (l *Ledger) resolveWin(ctx context.Context, t *Ticket) (*Ticket, error) {
	prize := l.issuer.Params.PrizeAmount

	// All-or-nothing: refuse the transition outright if the prize cannot
	// be fully covered by the issuer's capital plus this ticket's escrow.
	if l.issuer.OperatingBalance+t.EscrowAmount < prize {
		return nil, ErrInsufficientIssuerBalance
	}

	amt, err := l.escrow.release(t.ID)
	if err != nil {
		return nil, err
	}

	// Effects before the external transfer: anything reentering during Pay
	// observes a terminal ticket and is rejected by the status check.
	t.Status = StatusResolvedWin
	l.issuer.OperatingBalance += amt
	l.issuer.OperatingBalance -= prize

	undo := func() {
		t.Status = StatusCommitted
		l.issuer.OperatingBalance += prize
		l.issuer.OperatingBalance -= amt
		l.escrow.hold(t.ID, amt)
	}

	if err := l.persistTransition(ctx, t); err != nil {
		undo()
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	if err := l.payments.Pay(ctx, t.Buyer, prize); err != nil {
		undo()
		if perr := l.persistTransition(ctx, t); perr != nil {
			l.log.Errorf("issuer %d: persist rollback of %s failed: %v",
				l.issuer.ID, t.ID, perr)
		}
		return nil, fmt.Errorf("prize payout: %w", err)
	}

	l.registry.ReportRewarded(ctx, l.issuer.ID)
	l.log.Infof("issuer %d: ticket %s resolved win, %s paid to %s",
		l.issuer.ID, t.ID, prize, t.Buyer)
	return t.clone(), nil
}

// RefundTimeout refunds a Committed ticket whose timeout window has
// elapsed. This is the buyer's escape hatch for an unresponsive signer.
func (l *Ledger) RefundTimeout(ctx context.Context, ticketID chainhash.Hash) (*Ticket, error) {
	l.Lock()
	defer l.Unlock()

	t, ok := l.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	if err := t.terminalErr(); err != nil {
		return nil, err
	}
	if !l.now().After(t.Deadline(l.issuer.Params.TimeoutWindow)) {
		return nil, ErrTimeoutNotReached
	}

	amt, err := l.escrow.release(t.ID)
	if err != nil {
		return nil, err
	}
	t.Status = StatusRefunded

	undo := func() {
		t.Status = StatusCommitted
		l.escrow.hold(t.ID, amt)
	}

	if err := l.persistTransition(ctx, t); err != nil {
		undo()
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	if err := l.payments.Pay(ctx, t.Buyer, amt); err != nil {
		undo()
		if perr := l.persistTransition(ctx, t); perr != nil {
			l.log.Errorf("issuer %d: persist rollback of %s failed: %v",
				l.issuer.ID, t.ID, perr)
		}
		return nil, fmt.Errorf("refund payout: %w", err)
	}

	l.registry.ReportTimedOut(ctx, l.issuer.ID)
	l.log.Infof("issuer %d: ticket %s refunded %s to %s after timeout",
		l.issuer.ID, t.ID, amt, t.Buyer)
	return t.clone(), nil
}

// Deposit adds prize capital to the issuer's operating balance.
func (l *Ledger) Deposit(ctx context.Context, amount dcrutil.Amount) (dcrutil.Amount, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deposit must be positive")
	}
	l.Lock()
	defer l.Unlock()

	l.issuer.OperatingBalance += amount
	if err := l.persistIssuer(ctx); err != nil {
		l.issuer.OperatingBalance -= amount
		return 0, fmt.Errorf("persist issuer: %w", err)
	}
	l.log.Debugf("issuer %d: deposited %s, balance %s",
		l.issuer.ID, amount, l.issuer.OperatingBalance)
	return l.issuer.OperatingBalance, nil
}

// Withdraw pays out unencumbered operating balance to the issuer's
// controller. Escrowed buyer funds live in a separate bucket and are never
// visible here; the check against OperatingBalance alone is the solvency
// guarantee.
func (l *Ledger) Withdraw(ctx context.Context, amount dcrutil.Amount, caller zkidentity.ShortID) error {
	if amount <= 0 {
		return fmt.Errorf("withdrawal must be positive")
	}
	l.Lock()
	defer l.Unlock()

	if caller != l.issuer.Controller {
		return ErrNotController
	}
	if amount > l.issuer.OperatingBalance {
		return ErrInsufficientIssuerBalance
	}

	l.issuer.OperatingBalance -= amount

	undo := func() { l.issuer.OperatingBalance += amount }

	if err := l.persistIssuer(ctx); err != nil {
		undo()
		return fmt.Errorf("persist issuer: %w", err)
	}
	if err := l.payments.Pay(ctx, caller, amount); err != nil {
		undo()
		if perr := l.persistIssuer(ctx); perr != nil {
			l.log.Errorf("issuer %d: persist rollback failed: %v",
				l.issuer.ID, perr)
		}
		return fmt.Errorf("withdrawal payout: %w", err)
	}

	l.log.Infof("issuer %d: withdrew %s to controller", l.issuer.ID, amount)
	return nil
}

// Ticket returns a snapshot of the ticket with the given id.
func (l *Ledger) Ticket(ticketID chainhash.Hash) (*Ticket, error) {
	l.RLock()
	defer l.RUnlock()
	t, ok := l.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return t.clone(), nil
}

// Tickets returns snapshots of every ticket ever sold by the issuer.
func (l *Ledger) Tickets() []*Ticket {
	l.RLock()
	defer l.RUnlock()
	out := make([]*Ticket, 0, len(l.tickets))
	for _, t := range l.tickets {
		out = append(out, t.clone())
	}
	return out
}

// RefundableTickets returns snapshots of Committed tickets whose timeout
// window elapsed before now. It never mutates state; refunds stay
// buyer-triggered.
func (l *Ledger) RefundableTickets(now time.Time) []*Ticket {
	l.RLock()
	defer l.RUnlock()
	var out []*Ticket
	window := l.issuer.Params.TimeoutWindow
	for _, t := range l.tickets {
		if t.Status == StatusCommitted && now.After(t.Deadline(window)) {
			out = append(out, t.clone())
		}
	}
	return out
}

// EscrowOutstanding is the total currently escrowed for Committed tickets.
func (l *Ledger) EscrowOutstanding() dcrutil.Amount {
	l.RLock()
	defer l.RUnlock()
	return l.escrow.outstanding()
}

func (l *Ledger) persistTicket(ctx context.Context, t *Ticket) error {
	if l.db == nil {
		return nil
	}
	return l.db.SaveTicket(ctx, &ledgerdb.TicketRecord{
		ID:          t.ID[:],
		IssuerID:    t.IssuerID,
		Buyer:       t.Buyer[:],
		Number:      t.Number,
		Status:      string(t.Status),
		EscrowAtoms: int64(t.EscrowAmount),
		PurchasedAt: t.PurchasedAt,
	})
}

func (l *Ledger) persistIssuer(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	iss := l.issuer
	return l.db.SaveIssuer(ctx, &ledgerdb.IssuerRecord{
		ID:               iss.ID,
		PublicKey:        iss.PublicKey,
		Controller:       iss.Controller[:],
		TicketPriceAtoms: int64(iss.Params.TicketPrice),
		PrizeAmountAtoms: int64(iss.Params.PrizeAmount),
		OddsDenominator:  iss.Params.OddsDenominator,
		TimeoutSeconds:   int64(iss.Params.TimeoutWindow / time.Second),
		BalanceAtoms:     int64(iss.OperatingBalance),
		RegisteredAt:     iss.RegisteredAt,
	})
}

// persistTransition writes both the ticket and the issuer record, since
// every terminal transition moves funds between the two.
func (l *Ledger) persistTransition(ctx context.Context, t *Ticket) error {
	if err := l.persistTicket(ctx, t); err != nil {
		return err
	}
	return l.persistIssuer(ctx)
}
