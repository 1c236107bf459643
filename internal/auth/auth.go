package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "persona"

const (
	scopeAPI    = "api"
	scopeUpload = "upload"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the caller resolved from a bearer token. UserID namespaces
// uploaded objects; Email is recorded as the creator of subjects.
type Identity struct {
	UserID string
	Email  string
}

// UploadGrant authorizes a single PUT of one object.
type UploadGrant struct {
	StoragePath string
	ContentType string
	ExpiresAt   time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	Scope       string `json:"scope"`
	StoragePath string `json:"path,omitempty"`
	ContentType string `json:"ct,omitempty"`
}

// Signer issues and verifies HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// IssueIdentity mints an API bearer token for id valid for ttl.
func (s *Signer) IssueIdentity(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("identity requires a user id")
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: id.Email,
		Scope: scopeAPI,
	}
	return s.sign(c)
}

// VerifyIdentity parses an API bearer token.
func (s *Signer) VerifyIdentity(token string) (Identity, error) {
	c, err := s.parse(token, scopeAPI)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: c.Subject, Email: c.Email}, nil
}

// IssueUpload mints a token that lets the holder PUT one object at
// storagePath with the given content type until ttl elapses.
func (s *Signer) IssueUpload(storagePath, contentType string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   storagePath,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope:       scopeUpload,
		StoragePath: storagePath,
		ContentType: contentType,
	}
	tok, err := s.sign(c)
	return tok, exp, err
}

// VerifyUpload parses an upload token.
func (s *Signer) VerifyUpload(token string) (UploadGrant, error) {
	c, err := s.parse(token, scopeUpload)
	if err != nil {
		return UploadGrant{}, err
	}
	g := UploadGrant{StoragePath: c.StoragePath, ContentType: c.ContentType}
	if c.ExpiresAt != nil {
		g.ExpiresAt = c.ExpiresAt.Time
	}
	return g, nil
}

func (s *Signer) sign(c claims) (string, error) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tok, nil
}

func (s *Signer) parse(token, scope string) (claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return claims{}, ErrMissingToken
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Scope != scope {
		return claims{}, fmt.Errorf("%w: token scope %q not accepted here", ErrInvalidToken, c.Scope)
	}
	return c, nil
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
