package scratchwin

import (
	"bytes"
	"testing"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func testBuyer(b byte) zkidentity.ShortID {
	var id zkidentity.ShortID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestTicketIDDerivation(t *testing.T) {
	buyer := testBuyer(0x11)
	id1 := TicketID(1, buyer, 7)
	id2 := TicketID(1, buyer, 7)
	if id1 != id2 {
		t.Fatalf("same inputs produced different ids: %s vs %s", id1, id2)
	}

	// Any change to the triple must change the id.
	if TicketID(2, buyer, 7) == id1 {
		t.Fatalf("issuer id not bound into ticket id")
	}
	if TicketID(1, testBuyer(0x22), 7) == id1 {
		t.Fatalf("buyer not bound into ticket id")
	}
	if TicketID(1, buyer, 8) == id1 {
		t.Fatalf("ticket number not bound into ticket id")
	}
}

func TestSignRecoverRoundTrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ticketID := TicketID(1, testBuyer(0x01), 0)

	sig := SignTicket(priv, ticketID)
	if len(sig) != CompactSigLen {
		t.Fatalf("signature length %d, want %d", len(sig), CompactSigLen)
	}

	// RFC6979 nonces make signing deterministic.
	sig2 := SignTicket(priv, ticketID)
	if !bytes.Equal(sig, sig2) {
		t.Fatalf("signing the same ticket twice produced different signatures")
	}

	pub, err := RecoverTicketSigner(sig, ticketID)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	want := priv.PubKey().SerializeCompressed()
	if !bytes.Equal(pub.SerializeCompressed(), want) {
		t.Fatalf("recovered key %x, want %x", pub.SerializeCompressed(), want)
	}
}

func TestRecoverRejectsWrongTicket(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	ticketID := TicketID(1, testBuyer(0x01), 0)
	otherID := TicketID(1, testBuyer(0x01), 1)

	sig := SignTicket(priv, ticketID)
	pub, err := RecoverTicketSigner(sig, otherID)
	if err == nil {
		// Recovery over a different digest yields some key, but never the
		// signer's.
		if bytes.Equal(pub.SerializeCompressed(), priv.PubKey().SerializeCompressed()) {
			t.Fatalf("signature for one ticket verified against another")
		}
	}
}

func TestRecoverRejectsBadLength(t *testing.T) {
	ticketID := TicketID(1, testBuyer(0x01), 0)
	for _, n := range []int{0, 64, 66} {
		if _, err := RecoverTicketSigner(make([]byte, n), ticketID); err == nil {
			t.Fatalf("accepted %d-byte signature", n)
		}
	}
}

func TestRecoverRejectsZeroScalars(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	ticketID := TicketID(1, testBuyer(0x01), 0)
	sig := SignTicket(priv, ticketID)

	zeroR := append([]byte{}, sig...)
	copy(zeroR[1:33], make([]byte, 32))
	if _, err := RecoverTicketSigner(zeroR, ticketID); err == nil {
		t.Fatalf("accepted signature with r = 0")
	}

	zeroS := append([]byte{}, sig...)
	copy(zeroS[33:65], make([]byte, 32))
	if _, err := RecoverTicketSigner(zeroS, ticketID); err == nil {
		t.Fatalf("accepted signature with s = 0")
	}
}

func TestRecoverRejectsHighS(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	ticketID := TicketID(1, testBuyer(0x01), 0)
	sig := SignTicket(priv, ticketID)

	// Build the malleated twin with s' = n - s. Flipping the recovery bit
	// keeps it a valid ECDSA signature for the same key and digest.
	var s secp256k1.ModNScalar
	s.SetByteSlice(sig[33:65])
	s.Negate()
	sb := s.Bytes()

	mal := append([]byte{}, sig...)
	mal[0] ^= 0x01
	copy(mal[33:65], sb[:])

	if _, err := RecoverTicketSigner(mal, ticketID); err == nil {
		t.Fatalf("accepted high-s signature")
	}
}

func TestTicketDraw(t *testing.T) {
	priv, _ := secp256k1.GeneratePrivateKey()
	ticketID := TicketID(1, testBuyer(0x01), 0)
	sig := SignTicket(priv, ticketID)

	for _, odds := range []uint64{1, 2, 100, 1 << 32} {
		draw, err := TicketDraw(sig, odds)
		if err != nil {
			t.Fatalf("draw with odds %d: %v", odds, err)
		}
		if draw >= odds {
			t.Fatalf("draw %d out of range for odds %d", draw, odds)
		}
		// Deterministic for a fixed signature.
		again, _ := TicketDraw(sig, odds)
		if again != draw {
			t.Fatalf("draw not deterministic: %d vs %d", draw, again)
		}
	}

	// Odds of 1 always win.
	draw, err := TicketDraw(sig, 1)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if !IsWinningDraw(draw, 1) {
		t.Fatalf("odds denominator 1 must always win")
	}

	if _, err := TicketDraw(sig, 0); err == nil {
		t.Fatalf("accepted zero odds denominator")
	}
	if _, err := TicketDraw(sig[:64], 10); err == nil {
		t.Fatalf("accepted truncated signature")
	}
}
