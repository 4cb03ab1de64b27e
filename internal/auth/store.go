// Package auth owns the OAuth2 credential lifecycle shared by the cloud
// backends: the per-instance token store, interactive authorization, token
// refresh, and the retry-on-unauthorized combinator that wraps every
// authenticated backend call.
package auth

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

// PersistFunc saves a token snapshot. A nil token means the credentials
// were cleared. Called synchronously on every change.
type PersistFunc func(tok *oauth2.Token) error

// Store holds one backend instance's token as an immutable snapshot.
// Writers replace the whole snapshot; readers get a copy. The zero value is
// an unauthenticated store with no persistence.
type Store struct {
	mu  sync.RWMutex
	tok *oauth2.Token

	// persistMu serializes Set/Clear so persisted writes land in the same
	// order as in-memory swaps. Readers never take it.
	persistMu sync.Mutex
	persist   PersistFunc
	logger    *slog.Logger
}

// NewStore creates a store seeded with tok (nil for unauthenticated).
func NewStore(tok *oauth2.Token, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{tok: cloneToken(tok), logger: logger}
}

// OnChange installs the persistence hook. The registry sets it after the
// provider is constructed so every later change is written through.
func (s *Store) OnChange(fn PersistFunc) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.persist = fn
}

// Token returns a copy of the current snapshot, or nil.
func (s *Store) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneToken(s.tok)
}

// Authenticated reports whether the store holds an access token.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tok != nil && s.tok.AccessToken != ""
}

// AccessToken returns the current bearer token. Fails with
// vfs.ErrAuthRequired when the store is unauthenticated.
func (s *Store) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tok == nil || s.tok.AccessToken == "" {
		return "", fmt.Errorf("auth: no credentials: %w", vfs.ErrAuthRequired)
	}

	return s.tok.AccessToken, nil
}

// Set replaces the snapshot and persists it before returning. A token
// without a refresh token inherits the previous one, since some token
// endpoints only issue it on the first exchange.
func (s *Store) Set(tok *oauth2.Token) error {
	if tok == nil {
		return s.Clear()
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	next := cloneToken(tok)

	s.mu.Lock()
	if next.RefreshToken == "" && s.tok != nil {
		next.RefreshToken = s.tok.RefreshToken
	}
	s.tok = next
	s.mu.Unlock()

	s.logger.Debug("credentials replaced",
		slog.Time("expiry", next.Expiry),
		slog.Bool("has_refresh_token", next.RefreshToken != ""),
	)

	return s.save(next)
}

// Clear drops the credentials, returning the store to unauthenticated.
func (s *Store) Clear() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.tok = nil
	s.mu.Unlock()

	s.logger.Info("credentials cleared")

	return s.save(nil)
}

func (s *Store) save(tok *oauth2.Token) error {
	if s.persist == nil {
		return nil
	}

	if err := s.persist(cloneToken(tok)); err != nil {
		s.logger.Warn("failed to persist credentials", slog.String("error", err.Error()))
		return fmt.Errorf("auth: persisting credentials: %w", err)
	}

	return nil
}

func cloneToken(tok *oauth2.Token) *oauth2.Token {
	if tok == nil {
		return nil
	}

	// Extra data is not carried; it is only populated on freshly
	// exchanged tokens and never persisted.
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		ExpiresIn:    tok.ExpiresIn,
	}
}
