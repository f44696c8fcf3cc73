// Package operatortoken verifies the signed bearer tokens that identify
// dashboard operators. Tokens are ed25519-signed JWTs minted by the identity
// provider; services only hold the public key.
package operatortoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/posworks/fleetconsole/internal/allocation/domain"
	apperrors "github.com/posworks/fleetconsole/internal/platform/errors"
)

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	Issuer    string `env:"FLEETCONSOLE_OPERATOR_TOKEN_ISSUER"`
	Audience  string `env:"FLEETCONSOLE_OPERATOR_TOKEN_AUDIENCE"`
	PublicKey string `env:"FLEETCONSOLE_OPERATOR_TOKEN_PUBLIC_KEY"`
}

// Config defines how operator tokens are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Claims captures validated operator token claims.
type Claims struct {
	Subject     string
	Role        domain.Role
	FranchiseID string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

// Actor converts validated claims into a domain actor.
func (c Claims) Actor() domain.Actor {
	return domain.Actor{
		Subject:     c.Subject,
		Role:        c.Role,
		FranchiseID: c.FranchiseID,
	}
}

// operatorClaims is the internal claims type used for JWT parsing.
type operatorClaims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	FranchiseID string `json:"franchise_id,omitempty"`
}

// LoadConfigFromEnv reads operator token verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw tokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse operator token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("FLEETCONSOLE_OPERATOR_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("FLEETCONSOLE_OPERATOR_TOKEN_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("FLEETCONSOLE_OPERATOR_TOKEN_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode operator token public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("operator token public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verify checks the token signature and claims and returns the operator
// identity. Franchise actors must carry a franchise id; other roles must not.
func Verify(token string, cfg Config) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("operator token verifier is not configured")
	}

	var parsed operatorClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token issuer mismatch")
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token audience mismatch")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token subject is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "operator token not active yet")
	}

	role, err := domain.ParseRole(parsed.Role)
	if err != nil {
		return Claims{}, apperrors.New(apperrors.CodePermissionDenied, "operator token role is invalid")
	}
	actor := domain.Actor{
		Subject:     parsed.Subject,
		Role:        role,
		FranchiseID: strings.TrimSpace(parsed.FranchiseID),
	}
	if err := actor.Validate(); err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodePermissionDenied, "operator token identity is invalid", err)
	}

	claims := Claims{
		Subject:     actor.Subject,
		Role:        actor.Role,
		FranchiseID: actor.FranchiseID,
		ExpiresAt:   exp,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// Sign mints an operator token. Services never sign in production; this backs
// the seeding tool and tests.
func Sign(key ed25519.PrivateKey, issuer, audience string, claims Claims) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", errors.New("ed25519 private key is required")
	}
	expiresAt := claims.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   claims.Subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role:        claims.Role.String(),
		FranchiseID: claims.FranchiseID,
	})
	return token.SignedString(key)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeUnauthenticated, "operator token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeUnauthenticated, "operator token alg is invalid")
	}
	return apperrors.New(apperrors.CodeUnauthenticated, "operator token is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
