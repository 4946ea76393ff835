package journalkeeper

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultCachedRequests    = 64
	defaultDrainPollInterval = 50 * time.Millisecond
)

type followerOptions struct {
	cachedRequests    int
	drainPollInterval time.Duration
	logger            *zap.Logger
}

// FollowerOption configures a Follower at construction, following the
// functional-options idiom.
type FollowerOption func(*followerOptions)

// WithCachedRequests sets the ingress queue's initial capacity. The
// queue still grows past this if more requests are submitted
// concurrently.
func WithCachedRequests(n int) FollowerOption {
	return func(o *followerOptions) {
		if n > 0 {
			o.cachedRequests = n
		}
	}
}

// WithDrainPollInterval overrides the stop-drain busy-poll sleep
// (50ms by default).
func WithDrainPollInterval(d time.Duration) FollowerOption {
	return func(o *followerOptions) {
		if d > 0 {
			o.drainPollInterval = d
		}
	}
}

// WithLogger overrides the follower's zap logger. Unset, a production
// config at info level is built for it (see defaultLogger).
func WithLogger(l *zap.Logger) FollowerOption {
	return func(o *followerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func applyFollowerOpts(opts ...FollowerOption) *followerOptions {
	o := &followerOptions{
		cachedRequests:    defaultCachedRequests,
		drainPollInterval: defaultDrainPollInterval,
		logger:            defaultLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
