package discord

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound REST calls per channel on top of the
// library's own bucket handling, so bursts of guard notices cannot starve
// a channel.
type RateLimiter struct {
	limiters map[int64]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(callsPerSec float64, burst int) *RateLimiter {
	if callsPerSec <= 0 {
		callsPerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     rate.Limit(callsPerSec),
		burst:    burst,
	}
}

func (rl *RateLimiter) getLimiter(channelID int64) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[channelID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[channelID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[channelID] = limiter
	return limiter
}

// Wait blocks until the channel's limiter grants a slot or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, channelID int64) error {
	limiter := rl.getLimiter(channelID)
	return limiter.Wait(ctx)
}

// RetryExhaustedError reports that WithRetry gave up after repeated rate
// limit responses.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry\s+(?:after|in)[:\s]+([0-9.]+)`)

// parseRetryAfter extracts a wait hint from a rate limit error. The typed
// gateway error carries an exact duration; text forms fall back to pattern
// matching.
func parseRetryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	var rlPtr *discordgo.RateLimitError
	if errors.As(err, &rlPtr) && rlPtr.RateLimit != nil && rlPtr.TooManyRequests != nil && rlPtr.RetryAfter > 0 {
		return rlPtr.RetryAfter, true
	}
	var rlVal discordgo.RateLimitError
	if errors.As(err, &rlVal) && rlVal.RateLimit != nil && rlVal.TooManyRequests != nil && rlVal.RetryAfter > 0 {
		return rlVal.RetryAfter, true
	}

	errMsg := err.Error()
	if len(errMsg) == 0 {
		return 0, false
	}
	if matches := retryAfterPattern.FindStringSubmatch(errMsg); len(matches) == 2 {
		if parsed, parseErr := strconv.ParseFloat(matches[1], 64); parseErr == nil && parsed > 0 {
			return time.Duration(parsed * float64(time.Second)), true
		}
	}

	if parsed, parseErr := strconv.ParseFloat(errMsg, 64); parseErr == nil && parsed > 0 {
		return time.Duration(parsed * float64(time.Second)), true
	}

	return 0, false
}

// IsUnknownMessage reports whether err is the gateway's unknown-message
// response, which happens when a message is deleted before an edit lands.
func IsUnknownMessage(err error) bool {
	return hasErrorCode(err, discordgo.ErrCodeUnknownMessage)
}

// IsMissingPermissions reports whether err is the gateway's missing
// permissions response.
func IsMissingPermissions(err error) bool {
	return hasErrorCode(err, discordgo.ErrCodeMissingPermissions)
}

func hasErrorCode(err error, code int) bool {
	if err == nil {
		return false
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == code
	}
	return false
}

// WithRetry runs fn under the channel's limiter and retries rate limited
// calls up to three times, honoring the server's wait hint.
func WithRetry(ctx context.Context, rl *RateLimiter, channelID int64, fn func() error) error {
	if fn == nil {
		return nil
	}
	if rl == nil {
		return fn()
	}

	maxRetries := 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := rl.Wait(ctx, channelID); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		retryAfter, shouldRetry := parseRetryAfter(err)
		if !shouldRetry {
			return err
		}

		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter):
			}
		}
	}

	return &RetryExhaustedError{Attempts: maxRetries, Last: lastErr}
}
