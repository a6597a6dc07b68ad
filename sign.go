package scratchwin

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// CompactSigLen is the length of a compact resolve signature:
// 1 recovery code byte followed by the 32-byte r and s scalars.
const CompactSigLen = 65

// SignTicket produces the canonical 65-byte compact signature over the
// ticket's resolve digest. Nonces are RFC6979-derived, so a given
// (key, ticket) pair always yields the same signature: the signer cannot
// grind alternative signatures looking for a favorable draw.
func SignTicket(priv *secp256k1.PrivateKey, ticketID chainhash.Hash) []byte {
	digest := ResolveDigest(ticketID)
	return ecdsa.SignCompact(priv, digest[:], true)
}

// RecoverTicketSigner checks that sig is a well-formed, canonical compact
// signature over the ticket's resolve digest and recovers the compressed
// public key that produced it. The caller compares the result against the
// issuer's registered key.
func RecoverTicketSigner(sig []byte, ticketID chainhash.Hash) (*secp256k1.PublicKey, error) {
	if len(sig) != CompactSigLen {
		return nil, fmt.Errorf("compact signature must be %d bytes, got %d",
			CompactSigLen, len(sig))
	}

	var r secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[1:33]); overflow || r.IsZero() {
		return nil, fmt.Errorf("signature r out of range")
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[33:65]); overflow || s.IsZero() {
		return nil, fmt.Errorf("signature s out of range")
	}
	// An ECDSA signature stays valid with s replaced by n-s (and the
	// recovery code flipped). Accepting both encodings would let an issuer
	// present two distinct valid signatures over the same ticket and pick
	// whichever draw it prefers, so only the low-s form verifies.
	if s.IsOverHalfOrder() {
		return nil, fmt.Errorf("signature s is not in canonical low form")
	}

	digest := ResolveDigest(ticketID)
	pub, compressed, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if !compressed {
		return nil, fmt.Errorf("signature must commit to a compressed pubkey")
	}
	return pub, nil
}
