package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/bisonbotkit/logging"

	scratchwin "github.com/pereferrera/scratchwin"
	"github.com/pereferrera/scratchwin/server"
)

type nopPayments struct {
	mtx sync.Mutex
}

func (p *nopPayments) Pay(ctx context.Context, recipient zkidentity.ShortID, amount dcrutil.Amount) error {
	return nil
}

func testID(b byte) zkidentity.ShortID {
	var id zkidentity.ShortID
	for i := range id {
		id[i] = b
	}
	return id
}

// newTestClient stands up a real server behind httptest and a client
// pointed at it.
func newTestClient(t *testing.T) (*Client, *secp256k1.PrivateKey) {
	t.Helper()
	dir := t.TempDir()
	useStdout := false
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(dir, "logs", "test.log"),
		DebugLevel:     "warn",
		MaxLogFiles:    1,
		MaxBufferLines: 100,
		UseStdout:      &useStdout,
	})
	require.NoError(t, err)

	srv, err := server.NewServer(server.ServerConfig{
		ServerDir:  dir,
		LogBackend: lb,
		Payments:   &nopPayments{},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return c, priv
}

func TestClientFullFlow(t *testing.T) {
	c, priv := newTestClient(t)
	ctx := context.Background()
	controller := testID(0xcc)
	buyer := testID(0x01)

	issuerID, err := c.RegisterIssuer(ctx, RegisterIssuerArgs{
		PublicKey:   priv.PubKey().SerializeCompressed(),
		Controller:  controller,
		TicketPrice: 100,
		PrizeAmount: 1000,
		Odds:        1,
		Timeout:     time.Hour,
		Deposit:     5000,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), issuerID)

	issuers, err := c.Issuers(ctx)
	require.NoError(t, err)
	require.Len(t, issuers, 1)
	assert.Equal(t, issuerID, issuers[0].ID)

	tk, err := c.Purchase(ctx, issuerID, buyer, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, "committed", tk.Status)

	ticketID, err := chainhash.NewHashFromStr(tk.ID)
	require.NoError(t, err)

	// Server-derived and locally derived ids agree, so a buyer can verify
	// what it bought.
	assert.Equal(t, scratchwin.TicketID(issuerID, buyer, 1), *ticketID)

	resolved, err := c.Resolve(ctx, issuerID, *ticketID,
		scratchwin.SignTicket(priv, *ticketID))
	require.NoError(t, err)
	assert.Equal(t, "resolved-win", resolved.Status)

	got, err := c.Ticket(ctx, issuerID, *ticketID)
	require.NoError(t, err)
	assert.Equal(t, "resolved-win", got.Status)

	tks, err := c.Tickets(ctx, issuerID)
	require.NoError(t, err)
	assert.Len(t, tks, 1)

	info, err := c.Issuer(ctx, issuerID)
	require.NoError(t, err)
	assert.Equal(t, int64(4100), info.BalanceAtoms)
	assert.Equal(t, uint64(1), info.Rewarded)

	balance, err := c.Deposit(ctx, issuerID, 900)
	require.NoError(t, err)
	assert.Equal(t, dcrutil.Amount(5000), balance)

	require.NoError(t, c.Withdraw(ctx, issuerID, 5000, controller))
	info, err = c.Issuer(ctx, issuerID)
	require.NoError(t, err)
	assert.Zero(t, info.BalanceAtoms)
}

func TestClientErrorMapping(t *testing.T) {
	c, priv := newTestClient(t)
	ctx := context.Background()

	issuerID, err := c.RegisterIssuer(ctx, RegisterIssuerArgs{
		PublicKey:   priv.PubKey().SerializeCompressed(),
		Controller:  testID(0xcc),
		TicketPrice: 100,
		PrizeAmount: 1000,
		Odds:        50,
		Timeout:     time.Hour,
		Deposit:     5000,
	})
	require.NoError(t, err)

	assertStatus := func(err error, want int) {
		t.Helper()
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, want, apiErr.Status)
	}

	// Underpayment.
	_, err = c.Purchase(ctx, issuerID, testID(0x01), 1, 1)
	assertStatus(err, http.StatusBadRequest)

	// Unknown issuer.
	_, err = c.Issuer(ctx, 99)
	assertStatus(err, http.StatusNotFound)

	tk, err := c.Purchase(ctx, issuerID, testID(0x01), 1, 100)
	require.NoError(t, err)
	ticketID, err := chainhash.NewHashFromStr(tk.ID)
	require.NoError(t, err)

	// Duplicate purchase.
	_, err = c.Purchase(ctx, issuerID, testID(0x01), 1, 100)
	assertStatus(err, http.StatusConflict)

	// Refund before the window elapses.
	_, err = c.RefundTimeout(ctx, issuerID, *ticketID)
	assertStatus(err, http.StatusBadRequest)

	// Forged resolve signature.
	forger, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	_, err = c.Resolve(ctx, issuerID, *ticketID, scratchwin.SignTicket(forger, *ticketID))
	assertStatus(err, http.StatusForbidden)

	// Withdrawal by a stranger.
	err = c.Withdraw(ctx, issuerID, 100, testID(0xee))
	assertStatus(err, http.StatusForbidden)
}
