// Package token owns the bearer credential. The store is the only component
// allowed to read or mutate the persisted token; everything else goes
// through it.
package token

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/notify"
)

// AuthAlertDedupKey identifies the re-login alert so repeated auth failures
// collapse into one notification.
const AuthAlertDedupKey = "auth-invalid"

type persisted struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	SavedAt      time.Time `json:"saved_at,omitempty"`
	ClearedAt    time.Time `json:"cleared_at,omitempty"`
}

// Store is the file-backed token store. All methods are safe for concurrent
// use.
type Store struct {
	files    *cachestore.Store
	notifier notify.Notifier
	bus      *notify.Bus
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	state persisted
}

// NewStore loads any persisted credential and returns the store.
func NewStore(files *cachestore.Store, notifier notify.Notifier, bus *notify.Bus, log zerolog.Logger) *Store {
	s := &Store{
		files:    files,
		notifier: notifier,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
	if b, ok := files.Read(cachestore.AuthTokensKey); ok {
		if err := json.Unmarshal(b, &s.state); err != nil {
			log.Warn().Err(err).Msg("token file unreadable, starting empty")
			s.state = persisted{}
		}
	}
	return s
}

// NormalizeBearer ensures the token carries the "bearer " prefix the backend
// expects. The check is case-insensitive; an already-prefixed token is
// returned unchanged.
func NormalizeBearer(tok string) string {
	if tok == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(tok), "bearer ") {
		return tok
	}
	return "bearer " + tok
}

// AccessToken returns the stored access token, empty when none.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AccessToken
}

// RefreshToken returns the stored refresh token, empty when none.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RefreshToken
}

// SaveAccessToken normalizes and persists tok, stamping saved_at.
func (s *Store) SaveAccessToken(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = NormalizeBearer(tok)
	s.state.SavedAt = s.now()
	return s.persistLocked()
}

// SaveRefreshToken persists the refresh token. An empty value is ignored.
func (s *Store) SaveRefreshToken(tok string) error {
	if tok == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RefreshToken = tok
	return s.persistLocked()
}

// Clear drops both tokens and stamps cleared_at, which blocks any stale
// token reuse until a fresh save.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AccessToken = ""
	s.state.RefreshToken = ""
	s.state.ClearedAt = s.now()
	s.log.Info().Msg("token store cleared")
	return s.persistLocked()
}

// Reusable reports whether the stored access token may be auto-filled:
// it must exist and have been saved after the last clear.
func (s *Store) Reusable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AccessToken != "" && s.state.SavedAt.After(s.state.ClearedAt)
}

// NotifyInvalid raises the user-facing re-login alert and publishes the
// auth-required event.
func (s *Store) NotifyInvalid() {
	if s.notifier != nil {
		s.notifier.Notify(notify.NewAlert(
			AuthAlertDedupKey,
			"Session expired, please log in again",
			"The backend rejected the stored token. Open the app and log in to refresh it.",
		))
	}
	if s.bus != nil {
		s.bus.Publish(notify.Event{Type: notify.EventAuthRequired})
	}
}

func (s *Store) persistLocked() error {
	b, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("token: encode state: %w", err)
	}
	if err := s.files.Write(cachestore.AuthTokensKey, b); err != nil {
		return fmt.Errorf("token: persist: %w", err)
	}
	return nil
}
