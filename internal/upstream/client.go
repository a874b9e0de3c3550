// Package upstream is the only way the service talks to the vendor tracking
// API. Calls are paced against a call budget shared by every running job
// instance and retried with exponential backoff.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

type Action string

const (
	ActionPositionFetch Action = "position-fetch"
	ActionTripQuery     Action = "trip-query"
	ActionLogin         Action = "login"
)

// Config tunes pacing and retries.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// At most Burst calls per fixed Window, at least MinSpacing apart.
	Burst      int
	Window     time.Duration
	MinSpacing time.Duration

	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration

	// Response codes that mean "slow down".
	RateLimitCodes []int
	// Response codes that mean the token is no longer valid.
	AuthCodes []int
}

func DefaultConfig() Config {
	return Config{
		Timeout:           15 * time.Second,
		Burst:             10,
		Window:            10 * time.Second,
		MinSpacing:        200 * time.Millisecond,
		MaxAttempts:       4,
		BackoffInitial:    time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        30 * time.Second,
		RateLimitCodes:    []int{10012, 10013, 429},
		AuthCodes:         []int{10006, 10007},
	}
}

// RateLimitStore persists the state shared across job instances. Reads and
// writes are best effort; a lost update costs at most one extra rate-limit
// response.
type RateLimitStore interface {
	LoadRateLimit(ctx context.Context) (domain.RateLimitState, error)
	SaveRateLimit(ctx context.Context, st domain.RateLimitState) error
	// IncrWindow counts a call in the fixed window starting at windowStart.
	IncrWindow(ctx context.Context, windowStart time.Time, ttl time.Duration) (int64, error)
}

// Response is the decoded envelope of a successful call.
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Record  json.RawMessage `json:"record"`
}

// Decode unmarshals the record into v.
func (r *Response) Decode(v any) error {
	if len(r.Record) == 0 || string(r.Record) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Record, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

type request struct {
	Token    string `json:"token,omitempty"`
	ServerID string `json:"serverid,omitempty"`
	Params   any    `json:"params,omitempty"`
}

type Client struct {
	cfg    Config
	http   *http.Client
	state  RateLimitStore
	logger *logrus.Logger

	rateLimitCodes map[int]bool
	authCodes      map[int]bool

	// pacing is serialized inside one process; other processes coordinate
	// through state.
	mu       sync.Mutex
	lastCall time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, state RateLimitStore, logger *logrus.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.RateLimitCodes == nil {
		cfg.RateLimitCodes = def.RateLimitCodes
	}
	if cfg.AuthCodes == nil {
		cfg.AuthCodes = def.AuthCodes
	}

	c := &Client{
		cfg:            cfg,
		http:           &http.Client{Timeout: cfg.Timeout},
		state:          state,
		logger:         logger,
		rateLimitCodes: make(map[int]bool, len(cfg.RateLimitCodes)),
		authCodes:      make(map[int]bool, len(cfg.AuthCodes)),
		now:            time.Now,
		sleep:          sleepCtx,
	}
	for _, code := range cfg.RateLimitCodes {
		c.rateLimitCodes[code] = true
	}
	for _, code := range cfg.AuthCodes {
		c.authCodes[code] = true
	}
	return c
}

// Call performs one action with retries. Rate-limit responses back off for
// every instance through the shared state; transport failures back off
// locally only. Auth and malformed-request errors are returned at once.
func (c *Client) Call(ctx context.Context, action Action, creds domain.Credentials, params any) (*Response, error) {
	body, err := json.Marshal(request{Token: creds.Token, ServerID: creds.ServerID, Params: params})
	if err != nil {
		return nil, &CallError{Action: action, Kind: ErrBadRequest, Err: err}
	}

	var last *attemptError
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := c.pace(ctx, action); err != nil {
			return nil, err
		}

		resp, aerr := c.do(ctx, action, body)
		if aerr == nil {
			c.clearBackoff(ctx)
			return resp, nil
		}
		last = aerr

		if aerr.kind != kindRateLimit && aerr.kind != kindTransport {
			metrics.UpstreamFailures.Add(1)
			return nil, aerr.callError(action, attempt+1)
		}

		wait := c.backoff(attempt)
		if aerr.kind == kindRateLimit {
			metrics.UpstreamRateLimitHits.Add(1)
			c.setBackoff(ctx, c.now().Add(wait))
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		fields := logrus.Fields{
			"action":  action,
			"attempt": attempt + 1,
			"backoff": wait.String(),
			"code":    aerr.code,
			"status":  aerr.status,
		}
		if aerr.kind == kindRateLimit {
			c.logger.WithFields(fields).Warn("Upstream rate limited, backing off")
		} else {
			c.logger.WithFields(fields).WithError(aerr.err).Warn("Upstream call failed, retrying")
		}
		metrics.UpstreamRetries.Add(1)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	metrics.UpstreamFailures.Add(1)
	return nil, last.callError(action, c.cfg.MaxAttempts)
}

// Login authenticates with the account. It is paced like any call but is
// never retried; retrying an ambiguous login failure is unsafe.
func (c *Client) Login(ctx context.Context, account, password string) (domain.Credentials, error) {
	body, err := json.Marshal(request{Params: map[string]string{"account": account, "password": password}})
	if err != nil {
		return domain.Credentials{}, &CallError{Action: ActionLogin, Kind: ErrBadRequest, Err: err}
	}
	if err := c.pace(ctx, ActionLogin); err != nil {
		return domain.Credentials{}, err
	}

	resp, aerr := c.do(ctx, ActionLogin, body)
	if aerr != nil {
		if aerr.kind == kindRateLimit {
			metrics.UpstreamRateLimitHits.Add(1)
			c.setBackoff(ctx, c.now().Add(c.backoff(0)))
		}
		metrics.UpstreamFailures.Add(1)
		return domain.Credentials{}, aerr.callError(ActionLogin, 1)
	}
	c.clearBackoff(ctx)

	var rec struct {
		Token     string      `json:"token"`
		ServerID  domain.Flex `json:"serverid"`
		ExpiresIn int64       `json:"expires_in"`
	}
	if err := resp.Decode(&rec); err != nil {
		return domain.Credentials{}, &CallError{Action: ActionLogin, Kind: ErrBadRequest, Attempts: 1, Err: err}
	}
	if rec.Token == "" {
		return domain.Credentials{}, &CallError{Action: ActionLogin, Kind: ErrAuth, Attempts: 1, Message: "empty token"}
	}
	serverID, _ := rec.ServerID.Text()
	creds := domain.Credentials{Token: rec.Token, ServerID: serverID}
	if rec.ExpiresIn > 0 {
		creds.ExpiresAt = c.now().Add(time.Duration(rec.ExpiresIn) * time.Second)
	}
	return creds, nil
}

// backoff is initial * multiplier^attempt, capped.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.cfg.BackoffInitial) * math.Pow(c.cfg.BackoffMultiplier, float64(attempt))
	if d > float64(c.cfg.BackoffMax) {
		return c.cfg.BackoffMax
	}
	return time.Duration(d)
}

type errKind int

const (
	kindTransport errKind = iota
	kindRateLimit
	kindAuth
	kindBadRequest
)

type attemptError struct {
	kind    errKind
	status  int
	code    int
	message string
	err     error
}

func (a *attemptError) callError(action Action, attempts int) *CallError {
	ce := &CallError{
		Action:   action,
		Code:     a.code,
		Status:   a.status,
		Message:  a.message,
		Attempts: attempts,
		Err:      a.err,
	}
	switch a.kind {
	case kindRateLimit:
		ce.Kind = ErrRateLimitExhausted
	case kindAuth:
		ce.Kind = ErrAuth
	case kindBadRequest:
		ce.Kind = ErrBadRequest
	default:
		ce.Kind = ErrTransport
	}
	return ce
}

func (c *Client) do(ctx context.Context, action Action, body []byte) (*Response, *attemptError) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/" + string(action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{kind: kindBadRequest, err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.UpstreamCalls.Add(1)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, &attemptError{kind: kindTransport, err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, &attemptError{kind: kindTransport, status: res.StatusCode, err: err}
	}

	var resp Response
	decodeErr := json.Unmarshal(raw, &resp)

	switch {
	case res.StatusCode == http.StatusTooManyRequests || c.rateLimitCodes[res.StatusCode] && res.StatusCode >= 400:
		return nil, &attemptError{kind: kindRateLimit, status: res.StatusCode, code: resp.Code, message: resp.Message}
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, &attemptError{kind: kindAuth, status: res.StatusCode, code: resp.Code, message: resp.Message}
	case res.StatusCode >= 500:
		return nil, &attemptError{kind: kindTransport, status: res.StatusCode, message: strings.TrimSpace(string(truncate(raw, 200)))}
	case res.StatusCode >= 400:
		return nil, &attemptError{kind: kindBadRequest, status: res.StatusCode, code: resp.Code, message: resp.Message}
	}

	if decodeErr != nil {
		return nil, &attemptError{kind: kindTransport, status: res.StatusCode, err: fmt.Errorf("decode response: %w", decodeErr)}
	}

	switch {
	case resp.Code == 0:
		return &resp, nil
	case c.rateLimitCodes[resp.Code]:
		return nil, &attemptError{kind: kindRateLimit, status: res.StatusCode, code: resp.Code, message: resp.Message}
	case c.authCodes[resp.Code]:
		return nil, &attemptError{kind: kindAuth, status: res.StatusCode, code: resp.Code, message: resp.Message}
	default:
		return nil, &attemptError{kind: kindBadRequest, status: res.StatusCode, code: resp.Code, message: resp.Message}
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsAuth reports whether err means the credentials must be refreshed.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenMissing)
}
