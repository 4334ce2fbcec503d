package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
)

// Refresher exchanges the refresh token for a new access token. The whole
// operation is a mutex-guarded critical section: when several callers hit a
// 401 at once, the first one refreshes and the rest reuse its result via the
// stale-compare-and-skip check in Refresh.
type Refresher struct {
	store      *Store
	http       *http.Client
	refreshURL string
	log        zerolog.Logger

	mu sync.Mutex
}

// NewRefresher builds a Refresher posting to {base}/auth/refresh.
func NewRefresher(store *Store, baseURL string, log zerolog.Logger) *Refresher {
	return &Refresher{
		store:      store,
		http:       &http.Client{Timeout: 15 * time.Second},
		refreshURL: baseURL + "/auth/refresh",
		log:        log,
	}
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Refresh returns a valid access token, refreshing if needed. failedToken is
// the token the caller just saw rejected: if the store already holds a
// different token, another caller refreshed first and that token is returned
// without a second refresh call. A failed refresh clears the store.
func (r *Refresher) Refresh(ctx context.Context, failedToken string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.store.AccessToken(); current != "" && current != failedToken {
		r.log.Debug().Msg("token already refreshed by another caller, reusing")
		return current, nil
	}

	refresh := r.store.RefreshToken()
	if refresh == "" {
		return "", errclass.Newf(errclass.AuthRequired, "no refresh token available")
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return "", fmt.Errorf("token: encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("token: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", errclass.New(errclass.FetchFailed, fmt.Errorf("token refresh: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = r.store.Clear()
		return "", errclass.NewStatus(errclass.AuthRequired, resp.StatusCode, "",
			fmt.Errorf("token refresh rejected"))
	}

	var tr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		_ = r.store.Clear()
		return "", errclass.New(errclass.ParseError, fmt.Errorf("token refresh response: %w", err))
	}
	if tr.AccessToken == "" {
		_ = r.store.Clear()
		return "", errclass.Newf(errclass.AuthRequired, "token refresh returned no access token")
	}

	bearer := NormalizeBearer(tr.AccessToken)
	if err := r.store.SaveAccessToken(bearer); err != nil {
		return "", err
	}
	if err := r.store.SaveRefreshToken(tr.RefreshToken); err != nil {
		return "", err
	}
	r.log.Info().Msg("access token refreshed")
	return bearer, nil
}
