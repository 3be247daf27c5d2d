package spapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/metrics"
)

// DefaultTokenEndpoint is the Login with Amazon token endpoint.
const DefaultTokenEndpoint = "https://api.amazon.com/auth/o2/token"

// tokenSafetyMargin is subtracted from expires_in so a cached token is never
// handed out right before it lapses.
const tokenSafetyMargin = 60 * time.Second

// TokenSource supplies bearer credentials for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// TokenCache shares access tokens across processes. Get returns "" on a miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Credentials are the LWA application credentials.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c Credentials) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// LWATokenSource exchanges a refresh token for short-lived access tokens.
type LWATokenSource struct {
	creds      Credentials
	endpoint   string
	httpClient *http.Client
	cache      TokenCache
	clock      clock.Clock
	log        zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewLWATokenSource builds a token source. cache may be nil.
func NewLWATokenSource(creds Credentials, endpoint string, httpClient *http.Client, cache TokenCache, c clock.Clock) *LWATokenSource {
	if endpoint == "" {
		endpoint = DefaultTokenEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c == nil {
		c = clock.System()
	}
	return &LWATokenSource{
		creds:      creds,
		endpoint:   endpoint,
		httpClient: httpClient,
		cache:      cache,
		clock:      c,
		log:        zlog.Logger,
	}
}

// WithLogger sets where token cache failures are reported.
func (s *LWATokenSource) WithLogger(l zerolog.Logger) *LWATokenSource {
	s.log = l
	return s
}

func (s *LWATokenSource) cacheKey() string {
	return "spapi:lwa:access_token:" + s.creds.ClientID
}

// Token returns a valid access token, exchanging one only when neither the
// in-memory copy nor the shared cache has it.
func (s *LWATokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.clock.Now().Before(s.expiresAt) {
		return s.token, nil
	}
	if s.cache != nil {
		tok, err := s.cache.Get(ctx, s.cacheKey())
		if err != nil {
			s.log.Warn().Err(err).Str("client_id", s.creds.ClientID).Msg("token cache read failed")
		} else if tok != "" {
			s.token = tok
			// Expiry is governed by the cache TTL; re-check it after a minute.
			s.expiresAt = s.clock.Now().Add(tokenSafetyMargin)
			return tok, nil
		}
	}
	return s.exchange(ctx)
}

// Refresh discards any held token and performs a new exchange.
func (s *LWATokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.cacheKey()); err != nil {
			s.log.Warn().Err(err).Str("client_id", s.creds.ClientID).Msg("token cache eviction failed")
		}
	}
	return s.exchange(ctx)
}

func (s *LWATokenSource) exchange(ctx context.Context) (string, error) {
	if !s.creds.complete() {
		return "", fmt.Errorf("%w: %w (LWA_CLIENT_ID, LWA_CLIENT_SECRET, LWA_REFRESH_TOKEN)", ErrTokenExchange, ErrMissingCredentials)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.creds.RefreshToken},
		"client_id":     {s.creds.ClientID},
		"client_secret": {s.creds.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrTokenExchange, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %w", ErrTokenExchange, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrTokenExchange, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: response carried no access_token", ErrTokenExchange)
	}
	metrics.APITokenRefreshes.Inc()

	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenSafetyMargin
	s.token = tr.AccessToken
	s.expiresAt = s.clock.Now().Add(ttl)
	if s.cache != nil && ttl > 0 {
		if err := s.cache.Set(ctx, s.cacheKey(), tr.AccessToken, ttl); err != nil {
			s.log.Warn().Err(err).Str("client_id", s.creds.ClientID).Msg("token cache write failed")
		}
	}
	return tr.AccessToken, nil
}

// RedisTokenCache stores access tokens in Redis so consecutive runs reuse them.
type RedisTokenCache struct {
	rdb *redis.Client
}

func NewRedisTokenCache(rdb *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, error) {
	tok, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading cached token: %w", err)
	}
	return tok, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("caching token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("evicting cached token: %w", err)
	}
	return nil
}

// StaticTokenSource hands out a fixed token and counts refreshes.
type StaticTokenSource struct {
	mu        sync.Mutex
	token     string
	refreshes int
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *StaticTokenSource) Refresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return s.token, nil
}

// Refreshes returns how many times Refresh was called.
func (s *StaticTokenSource) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}
