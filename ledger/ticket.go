package ledger

import (
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
)

// TicketStatus is one of the four reachable ticket states. Committed is the
// only non-terminal state; the other three are final and retained for audit.
type TicketStatus string

const (
	StatusCommitted    TicketStatus = "committed"
	StatusResolvedWin  TicketStatus = "resolved-win"
	StatusResolvedLose TicketStatus = "resolved-lose"
	StatusRefunded     TicketStatus = "refunded"
)

// Ticket is a single play instance. Created only by Purchase, mutated only
// by Resolve or RefundTimeout, never deleted.
type Ticket struct {
	ID           chainhash.Hash
	IssuerID     uint64
	Buyer        zkidentity.ShortID
	Number       uint64
	Status       TicketStatus
	EscrowAmount dcrutil.Amount
	PurchasedAt  time.Time
}

// Terminal reports whether the ticket reached one of its final states.
func (t *Ticket) Terminal() bool {
	return t.Status != StatusCommitted
}

// terminalErr maps a terminal status to the error any further operation on
// the ticket must fail with. Returns nil for a Committed ticket.
func (t *Ticket) terminalErr() error {
	switch t.Status {
	case StatusRefunded:
		return ErrAlreadyRefunded
	case StatusResolvedWin, StatusResolvedLose:
		return ErrAlreadyResolved
	}
	return nil
}

// Deadline is the instant after which the buyer may claim a timeout refund.
func (t *Ticket) Deadline(window time.Duration) time.Time {
	return t.PurchasedAt.Add(window)
}

func (t *Ticket) clone() *Ticket {
	c := *t
	return &c
}
