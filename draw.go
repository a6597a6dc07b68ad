package scratchwin

import (
	"fmt"
	"math/big"
)

// TicketDraw extracts the randomness value of a resolved ticket from its
// signature: the 256-bit r component reduced mod the issuer's odds
// denominator. r is fixed by the RFC6979 nonce for the (key, ticket) pair,
// so it is unknowable before signing and not a free parameter of the
// signer.
func TicketDraw(sig []byte, oddsDenominator uint64) (uint64, error) {
	if len(sig) != CompactSigLen {
		return 0, fmt.Errorf("compact signature must be %d bytes, got %d",
			CompactSigLen, len(sig))
	}
	if oddsDenominator == 0 {
		return 0, fmt.Errorf("odds denominator must be non-zero")
	}
	r := new(big.Int).SetBytes(sig[1:33])
	return r.Mod(r, new(big.Int).SetUint64(oddsDenominator)).Uint64(), nil
}

// IsWinningDraw decides win or lose from an extracted draw. Pure and
// deterministic: a draw wins iff it reduces to zero mod the denominator,
// giving a 1-in-oddsDenominator chance over a uniform draw.
func IsWinningDraw(draw, oddsDenominator uint64) bool {
	if oddsDenominator == 0 {
		return false
	}
	return draw%oddsDenominator == 0
}
