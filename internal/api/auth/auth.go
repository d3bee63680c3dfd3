// Package auth validates bearer tokens issued by an external identity
// provider.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token is supplied.
	ErrMissingToken = errors.New("expected authorization header format: Bearer <token>")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Config selects the verification key. Exactly one of HS256Secret and
// RS256PublicKey (PEM) must be set.
type Config struct {
	HS256Secret    string
	RS256PublicKey string
	Issuer         string
	Audience       string
}

// Claims are the token claims the service reads.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Auth verifies tokens.
type Auth struct {
	method jwt.SigningMethod
	key    any
	parser *jwt.Parser
}

// New constructs an Auth from cfg.
func New(cfg Config) (*Auth, error) {
	a := Auth{}

	switch {
	case cfg.HS256Secret != "" && cfg.RS256PublicKey != "":
		return nil, errors.New("only one of the HS256 secret and RS256 public key may be set")
	case cfg.HS256Secret != "":
		a.method = jwt.SigningMethodHS256
		a.key = []byte(cfg.HS256Secret)
	case cfg.RS256PublicKey != "":
		key, err := parseRSAPublicKey(cfg.RS256PublicKey)
		if err != nil {
			return nil, err
		}
		a.method = jwt.SigningMethodRS256
		a.key = key
	default:
		return nil, errors.New("a HS256 secret or RS256 public key is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	a.parser = jwt.NewParser(opts...)

	return &a, nil
}

func parseRSAPublicKey(pemKey string) (*rsa.PublicKey, error) {
	// Identity providers often publish the bare base64 key without armor.
	if !strings.Contains(pemKey, "-----BEGIN") {
		pemKey = "-----BEGIN PUBLIC KEY-----\n" + pemKey + "\n-----END PUBLIC KEY-----"
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parsing RS256 public key: %w", err)
	}
	return key, nil
}

// Authenticate verifies the value of an Authorization header and returns
// the token claims.
func (a *Auth) Authenticate(_ context.Context, bearerToken string) (Claims, error) {
	scheme, token, ok := strings.Cut(bearerToken, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return Claims{}, ErrMissingToken
	}

	var claims Claims
	if _, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims, nil
}

type ctxKey int

const claimKey ctxKey = 1

// SetClaims stores the claims in the context.
func SetClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimKey, claims)
}

// GetClaims returns the claims from the context.
func GetClaims(ctx context.Context) Claims {
	v, ok := ctx.Value(claimKey).(Claims)
	if !ok {
		return Claims{}
	}
	return v
}
