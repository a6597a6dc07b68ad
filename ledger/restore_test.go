package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scratchwin "github.com/pereferrera/scratchwin"
	"github.com/pereferrera/scratchwin/ledger/ledgerdb"
)

// TestRegistryRestore exercises the restart path: state written through one
// registry must come back intact in a fresh registry over the same db file,
// including escrow holds for still-committed tickets.
func TestRegistryRestore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	payments := &fakePayments{}
	clock := newTestClock()

	db, err := ledgerdb.NewBoltDB(dbPath)
	require.NoError(t, err)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	r1, err := NewRegistry(RegistryConfig{
		Payments: payments,
		DB:       db,
		Now:      clock.Now,
	})
	require.NoError(t, err)

	params := defaultParams()
	params.OddsDenominator = 1
	l1, err := r1.RegisterIssuer(priv.PubKey().SerializeCompressed(),
		testID(0xcc), params, 5000)
	require.NoError(t, err)

	tkLive, err := l1.Purchase(ctx, testID(0x01), 1, 100)
	require.NoError(t, err)
	tkWon, err := l1.Purchase(ctx, testID(0x02), 1, 100)
	require.NoError(t, err)
	_, err = l1.Resolve(ctx, tkWon.ID, scratchwin.SignTicket(priv, tkWon.ID))
	require.NoError(t, err)

	require.NoError(t, db.Close())

	// Reopen and restore.
	db2, err := ledgerdb.NewBoltDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()
	r2, err := NewRegistry(RegistryConfig{
		Payments: payments,
		DB:       db2,
		Now:      clock.Now,
	})
	require.NoError(t, err)

	l2, err := r2.Ledger(l1.IssuerID())
	require.NoError(t, err)

	iss := l2.Issuer()
	assert.Equal(t, priv.PubKey().SerializeCompressed(), iss.PublicKey)
	assert.Equal(t, testID(0xcc), iss.Controller)
	assert.Equal(t, params, iss.Params)
	// 5000 + two prices - one prize.
	assert.Equal(t, dcrutil.Amount(4200), iss.OperatingBalance)

	// Only the unresolved ticket holds escrow.
	assert.Equal(t, dcrutil.Amount(100), l2.EscrowOutstanding())
	live, err := l2.Ticket(tkLive.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, live.Status)
	won, err := l2.Ticket(tkWon.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolvedWin, won.Status)

	c, err := r2.IssuerCounters(l1.IssuerID())
	require.NoError(t, err)
	assert.Equal(t, Counters{Sold: 2, Rewarded: 1}, c)

	// The restored ledger keeps operating: terminal tickets stay terminal
	// and the live one still resolves.
	_, err = l2.Resolve(ctx, tkWon.ID, scratchwin.SignTicket(priv, tkWon.ID))
	require.ErrorIs(t, err, ErrAlreadyResolved)
	resolved, err := l2.Resolve(ctx, tkLive.ID, scratchwin.SignTicket(priv, tkLive.ID))
	require.NoError(t, err)
	assert.Equal(t, StatusResolvedWin, resolved.Status)

	// Ids keep advancing from where they left off.
	lNew, err := r2.RegisterIssuer(priv.PubKey().SerializeCompressed(),
		testID(0xcc), defaultParams(), 0)
	require.NoError(t, err)
	assert.Equal(t, l1.IssuerID()+1, lNew.IssuerID())

	// Timestamps survive the JSON roundtrip to the second.
	assert.WithinDuration(t, clock.Now(), live.PurchasedAt, time.Second)
}
