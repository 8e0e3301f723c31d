// Package cache holds the idempotency stores used to answer redelivered
// bus commands with their first reply.
package cache

import (
	"context"
	"time"
)

// IdempotencyStore records which message ids were handled and what was
// replied to them.
type IdempotencyStore interface {
	// Claim reserves key for lease. It returns true when the caller owns
	// the key and must handle the message. Otherwise cached holds the
	// stored reply, or is nil while another handler still owns the key.
	Claim(ctx context.Context, key string, lease time.Duration) (claimed bool, cached []byte, err error)
	// Complete stores the reply for key and keeps it for ttl.
	Complete(ctx context.Context, key string, reply []byte, ttl time.Duration) error
	// Release drops a claim so a redelivery is handled again.
	Release(ctx context.Context, key string) error
}

const pendingMarker = "\x00pending"
