package oracle

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"

	scratchwin "github.com/pereferrera/scratchwin"
)

// Oracle holds an issuer's private key off-ledger and produces resolve
// signatures on demand. Signing is deterministic: the same ticket always
// yields the same signature, so the oracle has no way to shop for outcomes.
type Oracle struct {
	log  slog.Logger
	priv *secp256k1.PrivateKey
}

func New(priv *secp256k1.PrivateKey, log slog.Logger) *Oracle {
	if log == nil {
		log = slog.Disabled
	}
	return &Oracle{log: log, priv: priv}
}

// FromHex builds an oracle from a 32-byte hex private key.
func FromHex(privHex string, log slog.Logger) (*Oracle, error) {
	b, err := hex.DecodeString(strings.TrimSpace(privHex))
	if err != nil {
		return nil, fmt.Errorf("bad privkey hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("privkey must be 32 bytes, got %d", len(b))
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("invalid private key scalar")
	}
	return New(priv, log), nil
}

// PubKey returns the compressed public key to register with the registry.
func (o *Oracle) PubKey() []byte {
	return o.priv.PubKey().SerializeCompressed()
}

// SignTicket returns the canonical compact signature over the ticket's
// resolve digest.
func (o *Oracle) SignTicket(ticketID chainhash.Hash) []byte {
	sig := scratchwin.SignTicket(o.priv, ticketID)
	o.log.Debugf("signed ticket %s", ticketID)
	return sig
}

// LoadKeyFile reads a hex-encoded private key from path.
func LoadKeyFile(path string) (*secp256k1.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	kb, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil || len(kb) != 32 {
		return nil, fmt.Errorf("key file must hold 64 hex chars (32 bytes)")
	}
	priv := secp256k1.PrivKeyFromBytes(kb)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("invalid private key in %s", path)
	}
	return priv, nil
}

// GenerateKeyFile creates a fresh key, writes it hex-encoded to path and
// returns it. Fails if path already exists.
func GenerateKeyFile(path string) (*secp256k1.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key file %s already exists", path)
	}
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	enc := hex.EncodeToString(priv.Serialize()) + "\n"
	if err := os.WriteFile(path, []byte(enc), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return priv, nil
}
