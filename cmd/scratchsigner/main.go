// scratchsigner is a small operator tool for managing the issuer signing key
// offline: it can generate a key file, print the compressed public key to
// register with the server, and produce the compact resolve signature for a
// ticket id.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/decred/dcrd/chaincfg/chainhash"

	scratchwin "github.com/pereferrera/scratchwin"
	"github.com/pereferrera/scratchwin/oracle"
)

var (
	keyFile  = flag.String("keyfile", "", "Path to the hex-encoded signing key file")
	genKey   = flag.Bool("gen", false, "Generate a new key file at -keyfile and exit")
	showPub  = flag.Bool("pubkey", false, "Print the compressed public key and exit")
	ticketID = flag.String("ticket", "", "Ticket id to sign, hex encoded")
)

func realMain() error {
	flag.Parse()
	if *keyFile == "" {
		return fmt.Errorf("-keyfile is required")
	}

	if *genKey {
		priv, err := oracle.GenerateKeyFile(*keyFile)
		if err != nil {
			return err
		}
		fmt.Printf("pubkey: %x\n", priv.PubKey().SerializeCompressed())
		return nil
	}

	priv, err := oracle.LoadKeyFile(*keyFile)
	if err != nil {
		return err
	}

	if *showPub {
		fmt.Printf("%x\n", priv.PubKey().SerializeCompressed())
		return nil
	}

	if *ticketID == "" {
		return fmt.Errorf("-ticket is required")
	}
	id, err := chainhash.NewHashFromStr(*ticketID)
	if err != nil {
		return fmt.Errorf("bad ticket id: %w", err)
	}
	sig := scratchwin.SignTicket(priv, *id)
	fmt.Println(hex.EncodeToString(sig))
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
