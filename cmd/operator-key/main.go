// Package main provides a one-shot utility for operator token key management.
//
// It emits the asymmetric keypair used to sign operator tokens, and can mint
// development tokens with the -mint flag.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/posworks/fleetconsole/internal/platform/config"
	"github.com/posworks/fleetconsole/internal/tools/operatorkey"
)

func main() {
	mint := flag.Bool("mint", false, "mint a token instead of generating a key pair")
	privateKey := flag.String("private-key", os.Getenv("FLEETCONSOLE_OPERATOR_TOKEN_PRIVATE_KEY"), "base64 ed25519 private key")
	issuer := flag.String("issuer", os.Getenv("FLEETCONSOLE_OPERATOR_TOKEN_ISSUER"), "token issuer")
	audience := flag.String("audience", os.Getenv("FLEETCONSOLE_OPERATOR_TOKEN_AUDIENCE"), "token audience")
	subject := flag.String("subject", "", "operator subject")
	role := flag.String("role", "ADMIN", "operator role")
	franchiseID := flag.String("franchise-id", "", "franchise id for FRANCHISE role tokens")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if !*mint {
		if err := operatorkey.Run(os.Stdout, nil); err != nil {
			config.Exitf("generate operator key: %v", err)
		}
		return
	}
	err := operatorkey.Mint(os.Stdout, operatorkey.MintOptions{
		PrivateKey:  *privateKey,
		Issuer:      *issuer,
		Audience:    *audience,
		Subject:     *subject,
		Role:        *role,
		FranchiseID: *franchiseID,
		TTL:         *ttl,
	})
	if err != nil {
		config.Exitf("mint operator token: %v", err)
	}
}
