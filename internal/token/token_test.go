package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/errclass"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	files, err := cachestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return NewStore(files, nil, nil, zerolog.Nop())
}

func TestNormalizeBearer(t *testing.T) {
	assert.Equal(t, "bearer abc", NormalizeBearer("abc"))
	assert.Equal(t, "bearer abc", NormalizeBearer("bearer abc"))
	assert.Equal(t, "Bearer abc", NormalizeBearer("Bearer abc"))
	assert.Equal(t, "BEARER abc", NormalizeBearer("BEARER abc"))
	assert.Equal(t, "", NormalizeBearer(""))
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	files, err := cachestore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	s := NewStore(files, nil, nil, zerolog.Nop())
	require.NoError(t, s.SaveAccessToken("abc"))
	require.NoError(t, s.SaveRefreshToken("ref"))

	s2 := NewStore(files, nil, nil, zerolog.Nop())
	assert.Equal(t, "bearer abc", s2.AccessToken())
	assert.Equal(t, "ref", s2.RefreshToken())
	assert.True(t, s2.Reusable())
}

func TestReusableAfterClear(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.SaveAccessToken("abc"))
	assert.True(t, s.Reusable())

	s.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, s.Clear())
	assert.Empty(t, s.AccessToken())
	assert.False(t, s.Reusable())

	// Saving after the clear makes the token reusable again.
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	require.NoError(t, s.SaveAccessToken("new"))
	assert.True(t, s.Reusable())
}

func TestRefreshStaleCompareSkips(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "fresh"})
	}))
	defer srv.Close()

	s := newTestStore(t)
	require.NoError(t, s.SaveAccessToken("current"))
	require.NoError(t, s.SaveRefreshToken("ref"))
	r := NewRefresher(s, srv.URL, zerolog.Nop())

	// The failed token differs from what the store holds: someone else
	// already refreshed, so no HTTP call is made.
	got, err := r.Refresh(context.Background(), "bearer stale")
	require.NoError(t, err)
	assert.Equal(t, "bearer current", got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// The stored token itself failed: a real refresh happens.
	got, err = r.Refresh(context.Background(), "bearer current")
	require.NoError(t, err)
	assert.Equal(t, "bearer fresh", got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "bearer fresh", s.AccessToken())
}

func TestRefreshFailureClearsStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestStore(t)
	require.NoError(t, s.SaveAccessToken("current"))
	require.NoError(t, s.SaveRefreshToken("ref"))
	r := NewRefresher(s, srv.URL, zerolog.Nop())

	_, err := r.Refresh(context.Background(), "bearer current")
	require.Error(t, err)
	assert.True(t, errclass.IsAuthRequired(err))
	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.RefreshToken())
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	s := newTestStore(t)
	r := NewRefresher(s, "http://unused", zerolog.Nop())
	_, err := r.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errclass.IsAuthRequired(err))
}
