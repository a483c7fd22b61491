// Package admission implements token-based admission control: bootstrap
// issuance, listing, revocation, and validation of admin bearer tokens
// (spec.md §4.2).
//
// Grounded on the teacher's pkg/security manager-struct-with-methods shape
// (NewSecretsManager / EncryptSecret / DecryptSecret) but the hash scheme
// itself is new: the teacher encrypts opaque secrets with AES-GCM, it does
// not hash credentials for comparison. SPEC_FULL.md §C.2 picks bcrypt
// (golang.org/x/crypto/bcrypt, cost 12) as the single scheme, tagging every
// record with scheme="bcrypt" for future migration instead of the
// teacher's dual-format bcrypt/SHA-256 compatibility shim, which spec.md
// §9 calls out as a pattern to retire.
package admission

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/kilo-gateway/internal/tokenstore"
	"github.com/cuemby/kilo-gateway/pkg/log"
)

const bcryptCost = 12

const schemeBcrypt = "bcrypt"

// TokenInfo is the caller-visible view of a stored token: never the hash,
// never the plaintext after creation.
type TokenInfo struct {
	ID        uint64     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Created is returned once, at creation time, and carries the plaintext
// that will never be retrievable again.
type Created struct {
	ID    uint64 `json:"id"`
	Token string `json:"token"`
}

// Service is the admission control component. It is safe for concurrent
// use; all mutation goes through tokenstore.Store, which serializes writes.
type Service struct {
	store tokenstore.Store
}

// New wraps a token store with admission semantics.
func New(store tokenstore.Store) *Service {
	return &Service{store: store}
}

var (
	// ErrForbidden is returned by Create and List when the caller is
	// unauthenticated and the bootstrap window has already closed.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned by Revoke for an unknown token ID.
	ErrNotFound = errors.New("not found")
)

// NeedsAuth reports whether the store already holds at least one active
// token — once true, every admin endpoint and every protected route
// requires a valid X-Admin-Token (spec.md §4.2 "Bootstrap rule").
func (s *Service) NeedsAuth() (bool, error) {
	active, err := s.store.CountActive()
	if err != nil {
		return false, fmt.Errorf("check active token count: %w", err)
	}
	return active > 0, nil
}

// Create mints a new token. authenticated must be true unless the store
// currently holds zero active tokens (the one-time bootstrap exception).
func (s *Service) Create(authenticated bool) (*Created, error) {
	needsAuth, err := s.NeedsAuth()
	if err != nil {
		return nil, err
	}
	if needsAuth && !authenticated {
		return nil, ErrForbidden
	}

	plaintext, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}

	rec, err := s.store.AppendToken(string(hash), schemeBcrypt)
	if err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	log.WithComponent("admission").Info().Uint64("id", rec.ID).Msg("admin token created")

	return &Created{ID: rec.ID, Token: plaintext}, nil
}

// List returns every token record (without hashes). authenticated must be
// true unless the store is empty of active tokens.
func (s *Service) List(authenticated bool) ([]TokenInfo, error) {
	needsAuth, err := s.NeedsAuth()
	if err != nil {
		return nil, err
	}
	if needsAuth && !authenticated {
		return nil, ErrForbidden
	}

	records, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	infos := make([]TokenInfo, 0, len(records))
	for _, r := range records {
		infos = append(infos, TokenInfo{ID: r.ID, CreatedAt: r.CreatedAt, RevokedAt: r.RevokedAt})
	}
	return infos, nil
}

// Revoke permanently invalidates a token ID. Revoking an already-revoked
// token is an idempotent no-op (spec.md §4.2).
func (s *Service) Revoke(id uint64) (*TokenInfo, error) {
	rec, err := s.store.RevokeByID(id)
	if err != nil {
		if tokenstore.ErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("revoke token: %w", err)
	}

	log.WithComponent("admission").Info().Uint64("id", rec.ID).Msg("admin token revoked")

	return &TokenInfo{ID: rec.ID, CreatedAt: rec.CreatedAt, RevokedAt: rec.RevokedAt}, nil
}

// Validate reports whether headerValue is a current, non-revoked token.
//
// Per spec.md §4.2, bcrypt's per-record salt rules out the "hash the
// candidate once, compare against every stored hash" optimisation: each
// non-revoked record gets its own bcrypt.CompareHashAndPassword call. An
// empty headerValue never validates.
func (s *Service) Validate(headerValue string) bool {
	if headerValue == "" {
		return false
	}

	records, err := s.store.List()
	if err != nil {
		log.WithComponent("admission").Error().Err(err).Msg("token validation: store read failed")
		return false
	}

	candidate := []byte(headerValue)
	for _, r := range records {
		if r.Revoked() {
			continue
		}
		if r.Scheme != schemeBcrypt {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(r.Hash), candidate) == nil {
			return true
		}
	}
	return false
}

// generateToken returns a random 256-bit value rendered as URL-safe base64
// without padding (spec.md §4.2 "Token format").
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
