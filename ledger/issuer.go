package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrutil/v4"
)

// IssuerParams are the fixed game parameters an issuer registers with.
type IssuerParams struct {
	// TicketPrice is the amount escrowed per purchased ticket.
	TicketPrice dcrutil.Amount
	// PrizeAmount is paid to the buyer of a winning ticket.
	PrizeAmount dcrutil.Amount
	// OddsDenominator sets the win chance to 1-in-OddsDenominator.
	OddsDenominator uint64
	// TimeoutWindow bounds how long a ticket may sit Committed before the
	// buyer can claim a refund.
	TimeoutWindow time.Duration
}

func (p IssuerParams) validate() error {
	if p.TicketPrice <= 0 {
		return fmt.Errorf("ticket price must be positive")
	}
	if p.PrizeAmount <= 0 {
		return fmt.Errorf("prize amount must be positive")
	}
	if p.OddsDenominator == 0 {
		return fmt.Errorf("odds denominator must be non-zero")
	}
	if p.TimeoutWindow <= 0 {
		return fmt.Errorf("timeout window must be positive")
	}
	return nil
}

// Issuer is an entity that sells tickets and signs their outcomes
// off-ledger. PublicKey and Controller are immutable after registration.
// OperatingBalance is the issuer's free prize capital; it never includes
// escrowed buyer funds, which live in the ledger's escrow account.
type Issuer struct {
	ID         uint64
	PublicKey  []byte // 33-byte compressed secp256k1
	Controller zkidentity.ShortID
	Params     IssuerParams

	OperatingBalance dcrutil.Amount
	RegisteredAt     time.Time
}

// Counters are an issuer's reputation counters. Increment-only, fed
// exclusively by ledger transitions.
type Counters struct {
	Sold     uint64
	Rewarded uint64
	TimedOut uint64
}

// PaymentEngine moves funds on the external payment rail. The ledger
// updates its own state before calling Pay and rolls back if Pay fails.
// Implementations must be safe for concurrent use.
type PaymentEngine interface {
	Pay(ctx context.Context, recipient zkidentity.ShortID, amount dcrutil.Amount) error
}
