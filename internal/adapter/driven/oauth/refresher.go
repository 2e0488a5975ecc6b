// Package oauth implements the TokenRefresher port against the external
// tool's OAuth token endpoint.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
	"github.com/ericfisherdev/claude-accounts/internal/observability"
)

// Defaults for the Claude OAuth endpoint.
const (
	DefaultTokenURL = "https://console.anthropic.com/v1/oauth/token"
	DefaultClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	DefaultTimeout  = 30 * time.Second
)

// Compile-time interface satisfaction check.
var _ driven.TokenRefresher = (*Refresher)(nil)

// Config configures a Refresher.
type Config struct {
	TokenURL string
	ClientID string
	Timeout  time.Duration

	// HTTPClient overrides the client used for the exchange. Its Timeout is
	// replaced by Config.Timeout when unset.
	HTTPClient *http.Client

	// BreakerFailures is the number of consecutive network failures that open
	// the breaker. BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Refresher exchanges refresh tokens with golang.org/x/oauth2. Calls go through
// a circuit breaker that trips on consecutive network failures only; a
// rejected token is a definitive answer from a healthy endpoint.
type Refresher struct {
	oauth   *oauth2.Config
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[*oauth2.Token]
	logger  *slog.Logger
}

// NewRefresher creates a Refresher. metrics may be nil.
func NewRefresher(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Refresher {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		c := *client
		c.Timeout = cfg.Timeout
		client = &c
	}

	failures := cfg.BreakerFailures
	settings := gobreaker.Settings{
		Name:        "token-endpoint",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, driven.ErrRefreshRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.SetBreakerState(stateToInt(to))
		},
	}

	return &Refresher{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:  client,
		timeout: cfg.Timeout,
		breaker: gobreaker.NewCircuitBreaker[*oauth2.Token](settings),
		logger:  logger,
	}
}

// Refresh performs one refresh_token grant. The call is bounded by the
// configured timeout and is never retried here.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh: empty refresh token: %w", driven.ErrRefreshRejected)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	tok, err := r.breaker.Execute(func() (*oauth2.Token, error) {
		tok, err := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, classify(err)
		}
		return tok, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.Warn("token endpoint circuit open, rejecting refresh")
			return nil, fmt.Errorf("refresh: %v: %w", err, driven.ErrNetwork)
		}
		return nil, err
	}

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("refresh: response carried no access token: %w", driven.ErrNetwork)
	}

	return &model.TokenGrant{
		Tokens: model.OAuthTokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
		},
		ExpiresAt: tok.Expiry.UTC(),
	}, nil
}

// classify maps an exchange error onto the vault's taxonomy. 4xx responses
// other than 408/429, and any invalid_grant, mean the token itself was refused.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" || isClientError(status) {
			return fmt.Errorf("refresh: endpoint returned %d %s: %w", status, re.ErrorCode, driven.ErrRefreshRejected)
		}
		return fmt.Errorf("refresh: endpoint returned %d: %w", status, driven.ErrNetwork)
	}
	return fmt.Errorf("refresh: %v: %w", err, driven.ErrNetwork)
}

func isClientError(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

// stateToInt converts a circuit breaker state to an integer for metrics
// 0=closed, 1=half-open, 2=open
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
