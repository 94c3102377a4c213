package osu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stellarlinkco/osulink/internal/config"
	"github.com/stellarlinkco/osulink/internal/metrics"
)

const cookiezi = `{
	"id": 124493,
	"username": "Cookiezi",
	"avatar_url": "https://a.ppy.sh/124493",
	"country_code": "KR",
	"statistics": {
		"pp": 4512.3,
		"global_rank": 1500,
		"country_rank": 12,
		"hit_accuracy": 98.7654,
		"play_count": 12345,
		"level": {"current": 100, "progress": 20}
	}
}`

// fakeOsu serves the token and user endpoints and counts calls.
type fakeOsu struct {
	t           *testing.T
	server      *httptest.Server
	tokenCalls  atomic.Int32
	userCalls   atomic.Int32
	lastPath    atomic.Value
	tokenStatus int
	userStatus  int
	userBody    string
}

func newFakeOsu(t *testing.T) *fakeOsu {
	f := &fakeOsu{t: t, tokenStatus: http.StatusOK, userStatus: http.StatusOK, userBody: cookiezi}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", f.handleToken)
	mux.HandleFunc("/api/v2/users/", f.handleUser)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOsu) handleToken(w http.ResponseWriter, r *http.Request) {
	n := f.tokenCalls.Add(1)
	assert.Equal(f.t, http.MethodPost, r.Method)
	assert.Equal(f.t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
	assert.NoError(f.t, r.ParseForm())
	assert.Equal(f.t, "client_credentials", r.PostForm.Get("grant_type"))
	assert.Equal(f.t, "id-1", r.PostForm.Get("client_id"))
	assert.Equal(f.t, "secret-1", r.PostForm.Get("client_secret"))
	assert.Equal(f.t, "public", r.PostForm.Get("scope"))

	if f.tokenStatus != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token_type":   "Bearer",
		"expires_in":   86400,
		"access_token": "tok-" + string(rune('0'+n)),
	})
}

func (f *fakeOsu) handleUser(w http.ResponseWriter, r *http.Request) {
	f.userCalls.Add(1)
	f.lastPath.Store(r.URL.EscapedPath())
	assert.Equal(f.t, http.MethodGet, r.Method)
	assert.Regexp(f.t, `^Bearer tok-\d$`, r.Header.Get("Authorization"))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.userStatus)
	_, _ = w.Write([]byte(f.userBody))
}

func (f *fakeOsu) config() config.OsuConfig {
	return config.OsuConfig{
		ClientID:     "id-1",
		ClientSecret: "secret-1",
		TokenURL:     f.server.URL + "/oauth/token",
		APIBaseURL:   f.server.URL + "/api/v2/",
		Mode:         "osu",
		Scope:        "public",
	}
}

func TestProfile_Success(t *testing.T) {
	f := newFakeOsu(t)
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	p, err := c.Profile(context.Background(), "cookiezi")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.tokenCalls.Load())
	assert.Equal(t, int32(1), f.userCalls.Load())
	assert.Equal(t, "/api/v2/users/cookiezi/osu", f.lastPath.Load())

	assert.Equal(t, "Cookiezi", p.Username)
	assert.Equal(t, "https://a.ppy.sh/124493", p.AvatarURL)
	require.NotNil(t, p.Statistics)
	assert.InDelta(t, 4512.3, p.Statistics.PP, 1e-9)
	require.NotNil(t, p.Statistics.GlobalRank)
	assert.Equal(t, int64(1500), *p.Statistics.GlobalRank)
	assert.InDelta(t, 98.7654, p.Statistics.HitAccuracy, 1e-9)
	assert.Equal(t, int64(12345), p.Statistics.PlayCount)
}

func TestProfile_FreshTokenEveryCall(t *testing.T) {
	f := newFakeOsu(t)
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	for i := 0; i < 3; i++ {
		_, err := c.Profile(context.Background(), "cookiezi")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), f.tokenCalls.Load())
	assert.Equal(t, int32(3), f.userCalls.Load())
}

func TestProfile_NonSuccessIsNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusUnauthorized} {
		f := newFakeOsu(t)
		f.userStatus = status
		f.userBody = `{"error":null}`
		c := New(f.config(), Options{HTTPClient: f.server.Client()})

		p, err := c.Profile(context.Background(), "nobody")
		assert.Nil(t, p, "status %d", status)
		assert.ErrorIs(t, err, ErrProfileNotFound, "status %d", status)
	}
}

func TestProfile_UsernameIsPathEscaped(t *testing.T) {
	f := newFakeOsu(t)
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	_, err := c.Profile(context.Background(), "my name/x")
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/users/my%20name%2Fx/osu", f.lastPath.Load())
}

func TestProfile_Mode(t *testing.T) {
	f := newFakeOsu(t)
	cfg := f.config()
	cfg.Mode = "mania"
	c := New(cfg, Options{HTTPClient: f.server.Client()})

	_, err := c.Profile(context.Background(), "cookiezi")
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/users/cookiezi/mania", f.lastPath.Load())
}

func TestProfile_MalformedJSON(t *testing.T) {
	f := newFakeOsu(t)
	f.userBody = `{"username": "Cookiezi", "statistics": {`
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	_, err := c.Profile(context.Background(), "cookiezi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProfileNotFound)
	assert.Contains(t, err.Error(), "decode osu profile")
}

func TestProfile_MissingStatistics(t *testing.T) {
	f := newFakeOsu(t)
	f.userBody = `{"username": "Cookiezi", "avatar_url": "x"}`
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	_, err := c.Profile(context.Background(), "cookiezi")
	assert.ErrorIs(t, err, ErrMalformedProfile)
}

func TestProfile_NullGlobalRank(t *testing.T) {
	f := newFakeOsu(t)
	f.userBody = `{"username": "Retired", "avatar_url": "x", "statistics": {"pp": 0, "global_rank": null, "hit_accuracy": 0, "play_count": 3}}`
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	p, err := c.Profile(context.Background(), "retired")
	require.NoError(t, err)
	assert.Nil(t, p.Statistics.GlobalRank)
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	f := newFakeOsu(t)
	f.tokenStatus = http.StatusUnauthorized
	reg := prometheus.NewRegistry()
	c := New(f.config(), Options{HTTPClient: f.server.Client(), Metrics: metrics.New(reg)})

	_, err := c.Profile(context.Background(), "cookiezi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "osu token exchange")
	var rerr *oauth2.RetrieveError
	assert.True(t, errors.As(err, &rerr))
	assert.Equal(t, int32(0), f.userCalls.Load(), "no lookup without a token")
}

func TestAuthenticate_Unreachable(t *testing.T) {
	f := newFakeOsu(t)
	cfg := f.config()
	f.server.Close()

	c := New(cfg, Options{})
	_, err := c.Authenticate(context.Background())
	require.Error(t, err)
}

func TestFetchProfile_TransportError(t *testing.T) {
	f := newFakeOsu(t)
	cfg := f.config()
	c := New(cfg, Options{HTTPClient: f.server.Client()})
	token, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)

	f.server.Close()
	_, err = c.FetchProfile(context.Background(), "cookiezi", token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProfileNotFound)
}

func TestProfile_ContextCanceled(t *testing.T) {
	f := newFakeOsu(t)
	c := New(f.config(), Options{HTTPClient: f.server.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Profile(ctx, "cookiezi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiter(t *testing.T) {
	f := newFakeOsu(t)
	cfg := f.config()
	cfg.RequestsPerMinute = 1 // burst of one, then one per minute
	c := New(cfg, Options{HTTPClient: f.server.Client()})
	require.NotNil(t, c.limiter)

	_, err := c.Authenticate(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Authenticate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "osu rate limiter")
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestRateLimiter_Disabled(t *testing.T) {
	cfg := config.OsuConfig{RequestsPerMinute: 0}
	c := New(cfg, Options{})
	assert.Nil(t, c.limiter)
	assert.Equal(t, config.DefaultOsuMode, c.mode)
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(block) })

	c := New(config.OsuConfig{APIBaseURL: server.URL, RequestTimeout: "50ms"}, Options{HTTPClient: server.Client()})
	_, err := c.FetchProfile(context.Background(), "slow", &oauth2.Token{AccessToken: "x", TokenType: "Bearer"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
