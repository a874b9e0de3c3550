package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
)

// CredentialSource hands out a token that is valid right now.
type CredentialSource interface {
	GetValidToken(ctx context.Context) (domain.Credentials, error)
}

// TokenCache stores credentials shared between job instances.
type TokenCache interface {
	LoadToken(ctx context.Context) (domain.Credentials, bool, error)
	SaveToken(ctx context.Context, creds domain.Credentials) error
	DeleteToken(ctx context.Context) error
}

type loginer interface {
	Login(ctx context.Context, account, password string) (domain.Credentials, error)
}

// TokenProvider reads credentials from the cache and logs in once when they
// are missing or about to expire.
type TokenProvider struct {
	cache    TokenCache
	client   loginer
	account  string
	password string
	logger   *logrus.Logger

	// Tokens expiring within this margin are refreshed early.
	RefreshMargin time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func NewTokenProvider(cache TokenCache, client *Client, account, password string, logger *logrus.Logger) *TokenProvider {
	return &TokenProvider{
		cache:         cache,
		client:        client,
		account:       account,
		password:      password,
		logger:        logger,
		RefreshMargin: 5 * time.Minute,
		now:           time.Now,
	}
}

func (p *TokenProvider) GetValidToken(ctx context.Context) (domain.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, ok, err := p.cache.LoadToken(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to read cached token")
	}
	if ok && creds.Token != "" && p.fresh(creds) {
		return creds, nil
	}

	if p.account == "" {
		if ok && creds.Token != "" {
			return domain.Credentials{}, ErrTokenExpired
		}
		return domain.Credentials{}, ErrTokenMissing
	}

	creds, err = p.client.Login(ctx, p.account, p.password)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("login: %w", err)
	}
	if err := p.cache.SaveToken(ctx, creds); err != nil {
		p.logger.WithError(err).Warn("Failed to cache token")
	}
	p.logger.WithField("expires_at", creds.ExpiresAt).Info("Upstream token refreshed")
	return creds, nil
}

// Invalidate drops the cached token after the API rejected it.
func (p *TokenProvider) Invalidate(ctx context.Context) {
	if err := p.cache.DeleteToken(ctx); err != nil {
		p.logger.WithError(err).Warn("Failed to drop cached token")
	}
}

func (p *TokenProvider) fresh(c domain.Credentials) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return p.now().Add(p.RefreshMargin).Before(c.ExpiresAt)
}

// StaticCredentials serves fixed credentials.
type StaticCredentials domain.Credentials

func (s StaticCredentials) GetValidToken(context.Context) (domain.Credentials, error) {
	if s.Token == "" {
		return domain.Credentials{}, ErrTokenMissing
	}
	return domain.Credentials(s), nil
}
