package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventBus fans run events out to external listeners.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ReportWriter stores run reports in object storage.
type ReportWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
