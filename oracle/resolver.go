package oracle

import (
	"context"
	"errors"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/slog"

	"github.com/pereferrera/scratchwin/ledger"
)

// TicketResolver is the slice of the ledger the auto-resolver needs.
type TicketResolver interface {
	Resolve(ctx context.Context, ticketID chainhash.Hash, sig []byte) (*ledger.Ticket, error)
}

// AutoResolver consumes ticket ids, signs them with the oracle and submits
// the resolution. It runs off the critical path: the ledger never waits on
// it, and if it stops responding the buyer's timeout refund still works.
type AutoResolver struct {
	log      slog.Logger
	oracle   *Oracle
	resolver TicketResolver
	requests chan chainhash.Hash
}

func NewAutoResolver(o *Oracle, tr TicketResolver, log slog.Logger) *AutoResolver {
	if log == nil {
		log = slog.Disabled
	}
	return &AutoResolver{
		log:      log,
		oracle:   o,
		resolver: tr,
		requests: make(chan chainhash.Hash, 64),
	}
}

// Request enqueues a ticket for resolution. Non-blocking: returns false if
// the queue is full and the caller should retry later.
func (ar *AutoResolver) Request(ticketID chainhash.Hash) bool {
	select {
	case ar.requests <- ticketID:
		return true
	default:
		return false
	}
}

// Run processes resolution requests until ctx is cancelled. Failed
// resolutions are logged, not retried; a still-Committed ticket can be
// requested again, and terminal tickets need no further action.
func (ar *AutoResolver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-ar.requests:
			sig := ar.oracle.SignTicket(id)
			t, err := ar.resolver.Resolve(ctx, id, sig)
			switch {
			case err == nil:
				ar.log.Infof("resolved ticket %s: %s", id, t.Status)
			case errors.Is(err, ledger.ErrAlreadyResolved),
				errors.Is(err, ledger.ErrAlreadyRefunded):
				ar.log.Debugf("ticket %s already settled: %v", id, err)
			default:
				ar.log.Warnf("resolve ticket %s: %v", id, err)
			}
		}
	}
}
