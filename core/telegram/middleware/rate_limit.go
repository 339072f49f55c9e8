package middleware

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/fsmbot/core/config"
	"github.com/m3rciful/fsmbot/core/logger"
	tghelpers "github.com/m3rciful/fsmbot/core/telegram/helpers"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval time.Duration
	// Exclude lists update kinds that bypass the limit: config.UpdateCommand
	// or config.UpdateMessage.
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// Now is used by tests; time.Now when nil.
	Now func() time.Time
}

// UpdateKind classifies a message update for rate limit exclusions.
func UpdateKind(c tele.Context) string {
	if strings.HasPrefix(c.Text(), "/") {
		return config.UpdateCommand
	}
	return config.UpdateMessage
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between messages from the same user. Limited updates never reach the
// conversation.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
		pruned   time.Time
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c)]; skip {
				return next(c)
			}

			ts := now()
			mu.Lock()
			if ts.Sub(pruned) > time.Minute {
				for id, seen := range lastSeen {
					if ts.Sub(seen) >= opts.Interval {
						delete(lastSeen, id)
					}
				}
				pruned = ts
			}
			if last, ok := lastSeen[user.ID]; ok && ts.Sub(last) < opts.Interval {
				mu.Unlock()
				logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
					slog.String("status", "rate_limited"),
					slog.Int64("user_id", user.ID),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			lastSeen[user.ID] = ts
			mu.Unlock()
			return next(c)
		}
	}
}
