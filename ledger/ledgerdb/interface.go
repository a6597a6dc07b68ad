package ledgerdb

import (
	"context"
	"errors"
	"time"
)

var (
	ErrIssuerNotFound       = errors.New("issuer record not found")
	ErrTicketNotFound       = errors.New("ticket record not found")
	ErrMainBucketNotFound   = errors.New("main bucket not found")
	ErrIssuerBucketNotFound = errors.New("issuer ticket bucket not found")
)

// IssuerRecord is the persisted form of an issuer: key, game parameters,
// operating balance. Counters live in their own record so reputation
// updates do not rewrite the issuer.
type IssuerRecord struct {
	ID               uint64    `json:"id"`
	PublicKey        []byte    `json:"public_key"`
	Controller       []byte    `json:"controller"`
	TicketPriceAtoms int64     `json:"ticket_price_atoms"`
	PrizeAmountAtoms int64     `json:"prize_amount_atoms"`
	OddsDenominator  uint64    `json:"odds_denominator"`
	TimeoutSeconds   int64     `json:"timeout_seconds"`
	BalanceAtoms     int64     `json:"operating_balance_atoms"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// TicketRecord is the persisted form of a ticket. Tickets are append-only:
// records are written at purchase and rewritten on their single terminal
// transition, never deleted.
type TicketRecord struct {
	ID          []byte    `json:"id"`
	IssuerID    uint64    `json:"issuer_id"`
	Buyer       []byte    `json:"buyer"`
	Number      uint64    `json:"number"`
	Status      string    `json:"status"`
	EscrowAtoms int64     `json:"escrow_atoms"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// CountersRecord aggregates an issuer's reputation counters.
type CountersRecord struct {
	Sold     uint64 `json:"sold"`
	Rewarded uint64 `json:"rewarded"`
	TimedOut uint64 `json:"timed_out"`
}

type LedgerDB interface {
	SaveIssuer(ctx context.Context, rec *IssuerRecord) error
	FetchIssuer(ctx context.Context, issuerID uint64) (*IssuerRecord, error)
	FetchAllIssuers(ctx context.Context) ([]*IssuerRecord, error)

	SaveTicket(ctx context.Context, rec *TicketRecord) error
	FetchTicket(ctx context.Context, issuerID uint64, ticketID []byte) (*TicketRecord, error)
	FetchTicketsByIssuer(ctx context.Context, issuerID uint64) ([]*TicketRecord, error)

	SaveCounters(ctx context.Context, issuerID uint64, rec *CountersRecord) error
	FetchCounters(ctx context.Context, issuerID uint64) (*CountersRecord, error)

	Close() error
}
