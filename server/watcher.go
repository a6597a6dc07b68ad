package server

import (
	"context"
	"sync"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/slog"

	"github.com/pereferrera/scratchwin/ledger"
)

// RefundUpdate announces a ticket whose timeout window has elapsed while
// still Committed.
type RefundUpdate struct {
	IssuerID uint64
	TicketID chainhash.Hash
	Buyer    zkidentity.ShortID
	Deadline time.Time
	At       time.Time
}

// refundWatcher is a minimal pusher: it scans every issuer's ledger for
// refund-eligible tickets each tick and broadcasts a RefundUpdate to that
// issuer's subscribers. It never mutates ledger state; claiming the refund
// remains the buyer's call.
type refundWatcher struct {
	log      slog.Logger
	registry *ledger.Registry
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	subs map[uint64]map[chan RefundUpdate]struct{} // issuerID -> set(chan)
	seen map[chainhash.Hash]struct{}

	quit chan struct{}
}

func newRefundWatcher(log slog.Logger, r *ledger.Registry, interval time.Duration) *refundWatcher {
	if log == nil {
		log = slog.Disabled
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &refundWatcher{
		log:      log,
		registry: r,
		interval: interval,
		now:      time.Now,
		subs:     make(map[uint64]map[chan RefundUpdate]struct{}),
		seen:     make(map[chainhash.Hash]struct{}),
		quit:     make(chan struct{}),
	}
}

func (w *refundWatcher) stop() { close(w.quit) }

func (w *refundWatcher) run(ctx context.Context) {
	w.log.Infof("refund watcher: started")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	defer w.log.Infof("refund watcher: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-t.C:
			w.pollOnce()
		}
	}
}

// subscribe registers interest in refund-eligible tickets for one issuer
// and returns the channel plus an unsubscribe func.
func (w *refundWatcher) subscribe(issuerID uint64) (chan RefundUpdate, func()) {
	ch := make(chan RefundUpdate, 16)
	w.mu.Lock()
	set := w.subs[issuerID]
	if set == nil {
		set = make(map[chan RefundUpdate]struct{})
		w.subs[issuerID] = set
	}
	set[ch] = struct{}{}
	w.mu.Unlock()

	unsub := func() {
		w.mu.Lock()
		if set := w.subs[issuerID]; set != nil {
			delete(set, ch)
			if len(set) == 0 {
				delete(w.subs, issuerID)
			}
		}
		w.mu.Unlock()
	}
	return ch, unsub
}

func (w *refundWatcher) pollOnce() {
	now := w.now()
	newSeen := make(map[chainhash.Hash]struct{}, len(w.seen))

	for _, l := range w.registry.Ledgers() {
		issuerID := l.IssuerID()
		window := l.Params().TimeoutWindow
		for _, t := range l.RefundableTickets(now) {
			newSeen[t.ID] = struct{}{}
			w.mu.RLock()
			_, announced := w.seen[t.ID]
			w.mu.RUnlock()
			if announced {
				continue
			}
			u := RefundUpdate{
				IssuerID: issuerID,
				TicketID: t.ID,
				Buyer:    t.Buyer,
				Deadline: t.Deadline(window),
				At:       now,
			}
			w.log.Infof("refund watcher: ticket %s (issuer %d) past deadline %s",
				t.ID, issuerID, u.Deadline)
			w.broadcast(issuerID, u)
		}
	}

	// Tickets that left the refundable set reached a terminal state and
	// will never reappear; dropping them keeps seen bounded.
	w.mu.Lock()
	w.seen = newSeen
	w.mu.Unlock()
}

func (w *refundWatcher) broadcast(issuerID uint64, u RefundUpdate) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for ch := range w.subs[issuerID] {
		select {
		case ch <- u:
		default:
			// Drop rather than block the watcher on a slow subscriber.
		}
	}
}
