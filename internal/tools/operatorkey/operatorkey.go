// Package operatorkey generates operator token signing key pairs and mints
// operator tokens for local development.
package operatorkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	"github.com/posworks/fleetconsole/internal/services/shared/operatortoken"
)

// Run generates an operator token key pair and writes exports.
func Run(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate operator token key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export FLEETCONSOLE_OPERATOR_TOKEN_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export FLEETCONSOLE_OPERATOR_TOKEN_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}

// MintOptions describe the operator token to mint.
type MintOptions struct {
	PrivateKey  string
	Issuer      string
	Audience    string
	Subject     string
	Role        string
	FranchiseID string
	TTL         time.Duration
}

// Mint signs a development operator token and writes it to out.
func Mint(out io.Writer, opts MintOptions) error {
	if out == nil {
		return errors.New("output is required")
	}
	keyBytes, err := decodeKey(opts.PrivateKey)
	if err != nil {
		return fmt.Errorf("decode private key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	role, err := domain.ParseRole(opts.Role)
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.Subject) == "" {
		return errors.New("subject is required")
	}
	actor := domain.Actor{
		Subject:     strings.TrimSpace(opts.Subject),
		Role:        role,
		FranchiseID: strings.TrimSpace(opts.FranchiseID),
	}
	if err := actor.Validate(); err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := operatortoken.Sign(ed25519.PrivateKey(keyBytes), strings.TrimSpace(opts.Issuer), strings.TrimSpace(opts.Audience), operatortoken.Claims{
		Subject:     actor.Subject,
		Role:        actor.Role,
		FranchiseID: actor.FranchiseID,
		ExpiresAt:   time.Now().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("sign operator token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func decodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("private key is required")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
