package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	scratchwin "github.com/pereferrera/scratchwin"
	"github.com/pereferrera/scratchwin/ledger"
)

func TestFromHex(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	o, err := FromHex(hex.EncodeToString(priv.Serialize()), nil)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if !bytes.Equal(o.PubKey(), priv.PubKey().SerializeCompressed()) {
		t.Fatalf("pubkey mismatch")
	}

	for _, bad := range []string{"", "zz", "0011", zeroKeyHex} {
		if _, err := FromHex(bad, nil); err == nil {
			t.Fatalf("accepted bad key %q", bad)
		}
	}
}

// 32 zero bytes is not a valid scalar.
var zeroKeyHex = hex.EncodeToString(make([]byte, 32))

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.key")

	if _, err := LoadKeyFile(path); err == nil {
		t.Fatalf("loaded nonexistent key file")
	}

	priv, err := GenerateKeyFile(path)
	if err != nil {
		t.Fatalf("generate key file: %v", err)
	}
	// Generating over an existing key must fail rather than clobber it.
	if _, err := GenerateKeyFile(path); err == nil {
		t.Fatalf("overwrote existing key file")
	}

	loaded, err := LoadKeyFile(path)
	if err != nil {
		t.Fatalf("load key file: %v", err)
	}
	if !bytes.Equal(loaded.Serialize(), priv.Serialize()) {
		t.Fatalf("loaded key differs from generated key")
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Fatalf("key file mode %v, want 0600", fi.Mode().Perm())
	}
}

func TestOracleSignsCanonically(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	o := New(priv, nil)

	var buyer zkidentity.ShortID
	ticketID := scratchwin.TicketID(1, buyer, 0)

	sig := o.SignTicket(ticketID)
	pub, err := scratchwin.RecoverTicketSigner(sig, ticketID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !bytes.Equal(pub.SerializeCompressed(), o.PubKey()) {
		t.Fatalf("signature does not recover to the oracle key")
	}
	if !bytes.Equal(sig, o.SignTicket(ticketID)) {
		t.Fatalf("oracle signing not deterministic")
	}
}

// recordingResolver captures resolve submissions for assertions.
type recordingResolver struct {
	mtx  sync.Mutex
	got  []chainhash.Hash
	sigs [][]byte
	err  error
	done chan struct{}
}

func (rr *recordingResolver) Resolve(ctx context.Context, ticketID chainhash.Hash, sig []byte) (*ledger.Ticket, error) {
	rr.mtx.Lock()
	rr.got = append(rr.got, ticketID)
	rr.sigs = append(rr.sigs, sig)
	err := rr.err
	rr.mtx.Unlock()
	select {
	case rr.done <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	return &ledger.Ticket{ID: ticketID, Status: ledger.StatusResolvedLose}, nil
}

func TestAutoResolverSubmitsSignatures(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	o := New(priv, nil)
	rr := &recordingResolver{done: make(chan struct{}, 1)}
	ar := NewAutoResolver(o, rr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ar.Run(ctx)

	var buyer zkidentity.ShortID
	ticketID := scratchwin.TicketID(1, buyer, 7)
	if !ar.Request(ticketID) {
		t.Fatalf("request rejected on empty queue")
	}

	select {
	case <-rr.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("resolver never called")
	}

	rr.mtx.Lock()
	defer rr.mtx.Unlock()
	if len(rr.got) != 1 || rr.got[0] != ticketID {
		t.Fatalf("resolver got %v, want %s", rr.got, ticketID)
	}
	pub, err := scratchwin.RecoverTicketSigner(rr.sigs[0], ticketID)
	if err != nil {
		t.Fatalf("submitted signature invalid: %v", err)
	}
	if !bytes.Equal(pub.SerializeCompressed(), o.PubKey()) {
		t.Fatalf("submitted signature from wrong key")
	}
}

func TestAutoResolverQueueFull(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	o := New(priv, nil)
	// No Run loop draining, so the buffered queue eventually fills.
	ar := NewAutoResolver(o, &recordingResolver{done: make(chan struct{}, 1)}, nil)

	var buyer zkidentity.ShortID
	accepted := 0
	for i := uint64(0); i < 1000; i++ {
		if ar.Request(scratchwin.TicketID(1, buyer, i)) {
			accepted++
		}
	}
	if accepted == 0 || accepted >= 1000 {
		t.Fatalf("queue never filled: accepted %d", accepted)
	}
}
