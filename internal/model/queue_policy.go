package model

import (
	"fmt"
	"time"
)

// QueuePolicy bounds admission control for every schedule. It is immutable
// per deployment and loaded once from configuration.
//
// Fields:
//  MaxConcurrentUsers   – hard cap on ACTIVE tokens per schedule.
//  ActiveTokenDuration  – TTL granted to a token on activation.
//  WaitingTokenDuration – TTL granted to a token while it waits.
//  ActivationThreshold  – fraction of MaxConcurrentUsers below which a
//                         freshly issued token is activated immediately
//                         instead of joining the queue.
type QueuePolicy struct {
	MaxConcurrentUsers   int
	ActiveTokenDuration  time.Duration
	WaitingTokenDuration time.Duration
	ActivationThreshold  float64
}

// NewQueuePolicy validates and returns a policy. Out-of-range values are a
// construction failure, not something to clamp silently.
func NewQueuePolicy(maxUsers int, activeTTL, waitingTTL time.Duration, threshold float64) (QueuePolicy, error) {
	if maxUsers < 1 {
		return QueuePolicy{}, fmt.Errorf("%w: max concurrent users must be >= 1, got %d", ErrInvalid, maxUsers)
	}
	if activeTTL <= 0 || waitingTTL <= 0 {
		return QueuePolicy{}, fmt.Errorf("%w: token durations must be positive", ErrInvalid)
	}
	if threshold <= 0 || threshold > 1 {
		return QueuePolicy{}, fmt.Errorf("%w: activation threshold must be in (0, 1], got %v", ErrInvalid, threshold)
	}
	return QueuePolicy{
		MaxConcurrentUsers:   maxUsers,
		ActiveTokenDuration:  activeTTL,
		WaitingTokenDuration: waitingTTL,
		ActivationThreshold:  threshold,
	}, nil
}

// ImmediateActivationLimit is the ACTIVE-token count below which a new
// token skips the waiting queue: floor(MaxConcurrentUsers * threshold).
func (p QueuePolicy) ImmediateActivationLimit() int {
	return int(float64(p.MaxConcurrentUsers) * p.ActivationThreshold)
}
