package scratchwin

import (
	"encoding/binary"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
)

// Domain separation tags. Every hash and every signed message carries a
// versioned tag so a signature produced for one purpose can never be
// replayed as another.
const (
	ticketIDTag      = "scratchwin/ticket/v1|"
	resolveDigestTag = "scratchwin/resolve/v1|"
)

// TicketID derives the identity of a ticket from the issuer, the buyer and
// the buyer-chosen ticket number. The triple is hashed with a domain tag so
// ids from different issuers (or different protocols sharing blake256)
// cannot collide.
func TicketID(issuerID uint64, buyer zkidentity.ShortID, number uint64) chainhash.Hash {
	h := blake256.New()
	h.Write([]byte(ticketIDTag))
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], issuerID)
	h.Write(b8[:])
	h.Write(buyer[:])
	binary.BigEndian.PutUint64(b8[:], number)
	h.Write(b8[:])

	var id chainhash.Hash
	copy(id[:], h.Sum(nil))
	return id
}

// ResolveDigest returns the 32-byte digest an issuer signs to resolve the
// given ticket. A bare "sign this hash" primitive would be unsafe here; the
// versioned prefix keeps resolve signatures out of any other message format
// signed by the same key.
func ResolveDigest(ticketID chainhash.Hash) [32]byte {
	h := blake256.New()
	h.Write([]byte(resolveDigestTag))
	h.Write(ticketID[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
