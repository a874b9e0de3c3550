package upstream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/tracking/internal/domain"
)

type memTokenCache struct {
	creds   domain.Credentials
	present bool
	saves   int
}

func (m *memTokenCache) LoadToken(context.Context) (domain.Credentials, bool, error) {
	return m.creds, m.present, nil
}

func (m *memTokenCache) SaveToken(_ context.Context, c domain.Credentials) error {
	m.creds, m.present = c, true
	m.saves++
	return nil
}

func (m *memTokenCache) DeleteToken(context.Context) error {
	m.creds, m.present = domain.Credentials{}, false
	return nil
}

type fakeLogin struct {
	calls int
	creds domain.Credentials
	err   error
}

func (f *fakeLogin) Login(context.Context, string, string) (domain.Credentials, error) {
	f.calls++
	return f.creds, f.err
}

func newTestProvider(cache TokenCache, login loginer, account string) *TokenProvider {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &TokenProvider{
		cache:         cache,
		client:        login,
		account:       account,
		password:      "secret",
		logger:        logger,
		RefreshMargin: 5 * time.Minute,
		now:           func() time.Time { return clockStart },
	}
}

func TestTokenProviderUsesCache(t *testing.T) {
	cache := &memTokenCache{creds: domain.Credentials{Token: "cached", ExpiresAt: clockStart.Add(time.Hour)}, present: true}
	login := &fakeLogin{}
	p := newTestProvider(cache, login, "acct")

	got, err := p.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Token)
	assert.Zero(t, login.calls)
}

func TestTokenProviderRefreshesExpiringToken(t *testing.T) {
	cache := &memTokenCache{creds: domain.Credentials{Token: "old", ExpiresAt: clockStart.Add(time.Minute)}, present: true}
	login := &fakeLogin{creds: domain.Credentials{Token: "new", ExpiresAt: clockStart.Add(time.Hour)}}
	p := newTestProvider(cache, login, "acct")

	got, err := p.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", got.Token)
	assert.Equal(t, 1, login.calls)
	assert.Equal(t, "new", cache.creds.Token)
}

func TestTokenProviderWithoutAccount(t *testing.T) {
	p := newTestProvider(&memTokenCache{}, &fakeLogin{}, "")
	_, err := p.GetValidToken(context.Background())
	assert.True(t, errors.Is(err, ErrTokenMissing))

	expired := &memTokenCache{creds: domain.Credentials{Token: "old", ExpiresAt: clockStart.Add(-time.Hour)}, present: true}
	p = newTestProvider(expired, &fakeLogin{}, "")
	_, err = p.GetValidToken(context.Background())
	assert.True(t, errors.Is(err, ErrTokenExpired))
	assert.True(t, IsAuth(err))
}

func TestTokenProviderLoginFailure(t *testing.T) {
	login := &fakeLogin{err: &CallError{Action: ActionLogin, Kind: ErrAuth, Attempts: 1, Code: 10007}}
	p := newTestProvider(&memTokenCache{}, login, "acct")

	_, err := p.GetValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.Equal(t, 1, login.calls)
}

func TestInvalidateDropsCachedToken(t *testing.T) {
	cache := &memTokenCache{creds: domain.Credentials{Token: "cached"}, present: true}
	p := newTestProvider(cache, &fakeLogin{}, "acct")

	p.Invalidate(context.Background())
	assert.False(t, cache.present)
}

func TestStaticCredentials(t *testing.T) {
	got, err := StaticCredentials{Token: "t", ServerID: "1"}.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t", got.Token)

	_, err = StaticCredentials{}.GetValidToken(context.Background())
	assert.True(t, errors.Is(err, ErrTokenMissing))
}
