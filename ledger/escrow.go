package ledger

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
)

// escrowAccount holds buyer funds against an issuer's committed tickets.
// It is a separate accounting bucket from the issuer's operating balance,
// so held funds are structurally unreachable by withdrawals. A ticket's
// escrow can be released at most once: release removes the entry, and a
// second release fails.
//
// Not safe for concurrent use; callers hold the owning ledger's lock.
type escrowAccount struct {
	held  map[chainhash.Hash]dcrutil.Amount
	total dcrutil.Amount
}

func newEscrowAccount() *escrowAccount {
	return &escrowAccount{held: make(map[chainhash.Hash]dcrutil.Amount)}
}

func (e *escrowAccount) hold(id chainhash.Hash, amt dcrutil.Amount) error {
	if _, ok := e.held[id]; ok {
		return ErrDuplicateTicket
	}
	e.held[id] = amt
	e.total += amt
	return nil
}

func (e *escrowAccount) release(id chainhash.Hash) (dcrutil.Amount, error) {
	amt, ok := e.held[id]
	if !ok {
		return 0, errEscrowNotHeld
	}
	delete(e.held, id)
	e.total -= amt
	return amt, nil
}

// outstanding is the sum currently held for all committed tickets.
func (e *escrowAccount) outstanding() dcrutil.Amount {
	return e.total
}
