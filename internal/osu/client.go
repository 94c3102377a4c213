// Package osu talks to the osu! API v2: a client-credentials token exchange
// followed by one user lookup. Tokens are never reused.
package osu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/osulink/internal/config"
	"github.com/stellarlinkco/osulink/internal/metrics"
)

const (
	endpointToken = "token"
	endpointUser  = "user"
)

var (
	// ErrProfileNotFound is returned for any non-200 answer from the user
	// endpoint; rate limiting and server errors are not told apart.
	ErrProfileNotFound = errors.New("osu profile not found")
	// ErrMalformedProfile is returned when a 200 body lacks the fields the
	// card needs.
	ErrMalformedProfile = errors.New("malformed osu profile")
)

// Options for creating a Client. Zero values fall back to defaults.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	creds      clientcredentials.Config
	apiBase    string
	mode       string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func New(cfg config.OsuConfig, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = config.DefaultOsuMode
	}
	scope := cfg.Scope
	if scope == "" {
		scope = config.DefaultOsuScope
	}

	c := &Client{
		creds: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{scope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		apiBase:    strings.TrimRight(cfg.APIBaseURL, "/"),
		mode:       mode,
		timeout:    cfg.Timeout(),
		httpClient: httpClient,
		logger:     logger,
		metrics:    opts.Metrics,
	}
	if cfg.RequestsPerMinute > 0 {
		burst := min(cfg.RequestsPerMinute, 10)
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst)
	}
	return c
}

// Profile runs the full per-request flow: a fresh token, then one lookup.
func (c *Client) Profile(ctx context.Context, username string) (*Profile, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return c.FetchProfile(ctx, username, token)
}

// Authenticate exchanges the client credentials for a new bearer token.
func (c *Client) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	start := time.Now()
	token, err := c.creds.Token(ctx)
	elapsed := time.Since(start)
	if err != nil {
		code := 0
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			code = rerr.Response.StatusCode
		}
		c.metrics.ObserveOsuRequest(endpointToken, code, elapsed)
		return nil, fmt.Errorf("osu token exchange: %w", err)
	}
	c.metrics.ObserveOsuRequest(endpointToken, http.StatusOK, elapsed)
	c.logger.Debug("osu token acquired", zap.Duration("elapsed", elapsed), zap.Time("expiry", token.Expiry))
	return token, nil
}

// FetchProfile looks up username with token.
func (c *Client) FetchProfile(ctx context.Context, username string, token *oauth2.Token) (*Profile, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/users/%s/%s", c.apiBase, url.PathEscape(username), c.mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveOsuRequest(endpointUser, 0, time.Since(start))
		return nil, fmt.Errorf("fetch osu profile %q: %w", username, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveOsuRequest(endpointUser, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Info("osu profile lookup missed",
			zap.String("username", username),
			zap.Int("status", resp.StatusCode),
		)
		return nil, ErrProfileNotFound
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode osu profile %q: %w", username, err)
	}
	if profile.Statistics == nil || profile.Username == "" {
		return nil, fmt.Errorf("%w: %q is missing username or statistics", ErrMalformedProfile, username)
	}
	return &profile, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("osu rate limiter: %w", err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
