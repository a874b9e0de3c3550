package upstream

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fleet-monitor/tracking/internal/domain"
)

const maxPaceRounds = 8

// pace blocks until a call is allowed. It honors the shared backoff, keeps
// calls MinSpacing apart and admits at most Burst calls per window.
func (c *Client) pace(ctx context.Context, action Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for round := 0; round < maxPaceRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := c.now()
		st := c.loadState(ctx)

		if until := time.UnixMilli(st.BackoffUntil); st.BackoffUntil > 0 && until.After(now) {
			if err := c.sleep(ctx, until.Sub(now)); err != nil {
				return err
			}
			continue
		}

		last := c.lastCall
		if shared := time.UnixMilli(st.LastCallTime); st.LastCallTime > 0 && shared.After(last) {
			last = shared
		}
		if !last.IsZero() && c.cfg.MinSpacing > 0 {
			if gap := now.Sub(last); gap < c.cfg.MinSpacing {
				if err := c.sleep(ctx, c.cfg.MinSpacing-gap); err != nil {
					return err
				}
				continue
			}
		}

		if c.state != nil {
			windowStart := now.Truncate(c.cfg.Window)
			n, err := c.state.IncrWindow(ctx, windowStart, 2*c.cfg.Window)
			if err != nil {
				c.logger.WithError(err).Warn("Failed to count upstream call window")
			} else if n > int64(c.cfg.Burst) {
				if err := c.sleep(ctx, windowStart.Add(c.cfg.Window).Sub(now)); err != nil {
					return err
				}
				continue
			}
		}

		c.lastCall = now
		st.LastCallTime = now.UnixMilli()
		c.saveState(ctx, st)
		return nil
	}

	return &CallError{Action: action, Kind: ErrRateLimitExhausted, Message: "call budget not available"}
}

func (c *Client) loadState(ctx context.Context) domain.RateLimitState {
	if c.state == nil {
		return domain.RateLimitState{}
	}
	st, err := c.state.LoadRateLimit(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to load rate limit state")
		return domain.RateLimitState{}
	}
	return st
}

func (c *Client) saveState(ctx context.Context, st domain.RateLimitState) {
	if c.state == nil {
		return
	}
	st.UpdatedAt = c.now()
	if err := c.state.SaveRateLimit(ctx, st); err != nil {
		c.logger.WithError(err).Warn("Failed to save rate limit state")
	}
}

// setBackoff extends the shared backoff; it never shortens one set by
// another instance.
func (c *Client) setBackoff(ctx context.Context, until time.Time) {
	st := c.loadState(ctx)
	if ms := until.UnixMilli(); ms > st.BackoffUntil {
		st.BackoffUntil = ms
	}
	c.saveState(ctx, st)
	c.logger.WithFields(logrus.Fields{"until": until.Format(time.RFC3339)}).Debug("Shared backoff set")
}

func (c *Client) clearBackoff(ctx context.Context) {
	st := c.loadState(ctx)
	if st.BackoffUntil == 0 {
		return
	}
	st.BackoffUntil = 0
	c.saveState(ctx, st)
}
