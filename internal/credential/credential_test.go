package credential

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jobs/integration-engine/pkg/config"
	"github.com/jobs/integration-engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialNeedsRefresh(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	margin := 5 * time.Minute

	assert.False(t, Credential{AccessToken: "a"}.NeedsRefresh(now, margin))
	assert.False(t, Credential{Expiry: now.Add(10 * time.Minute)}.NeedsRefresh(now, margin))
	assert.True(t, Credential{Expiry: now.Add(5 * time.Minute)}.NeedsRefresh(now, margin))
	assert.True(t, Credential{Expiry: now.Add(-time.Minute)}.NeedsRefresh(now, margin))
}

func TestSealerRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, ephemeral, err := NewSealerFromBase64(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.False(t, ephemeral)

	sealed, err := s.Seal([]byte("token"))
	require.NoError(t, err)
	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "token", string(plain))

	other, _, err := NewSealerFromBase64("")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)

	_, _, err = NewSealerFromBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func newTokenServer(t *testing.T, status int, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRefresher(srv *httptest.Server) *OAuth2Refresher {
	return NewOAuth2Refresher(map[string]config.OAuthProviderConfig{
		"ads": {ClientID: "client", ClientSecret: "secret", TokenURL: srv.URL},
	}, srv.Client())
}

func TestOAuth2RefresherSuccess(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"a2","token_type":"Bearer","expires_in":3600}`)

	cred, err := newTestRefresher(srv).Refresh(context.Background(), "ads", Credential{
		AccessToken:  "a1",
		RefreshToken: "r1",
	})
	require.NoError(t, err)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken, "refresh token kept when not rotated")
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.Expiry, time.Minute)
}

func TestOAuth2RefresherInvalidGrant(t *testing.T) {
	srv := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)

	_, err := newTestRefresher(srv).Refresh(context.Background(), "ads", Credential{RefreshToken: "r1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCredentialsExpired))
}

func TestOAuth2RefresherServerError(t *testing.T) {
	srv := newTokenServer(t, http.StatusServiceUnavailable, `{"error":"backend"}`)

	_, err := newTestRefresher(srv).Refresh(context.Background(), "ads", Credential{RefreshToken: "r1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransient))
}

func TestOAuth2RefresherUnknownProvider(t *testing.T) {
	r := NewOAuth2Refresher(nil, nil)
	_, err := r.Refresh(context.Background(), "ads", Credential{RefreshToken: "r1"})
	assert.True(t, errors.Is(err, errors.ErrCredentialsExpired))
}
