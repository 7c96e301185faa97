package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix  = "gov:lock:" // Mailbox lock per agreement: gov:lock:{agreement_id}
	defaultLockTTL = 30 * time.Second
)

// ErrMailboxBusy is returned when another worker holds the agreement's lock.
var ErrMailboxBusy = errors.New("agreement mailbox is busy")

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Mailbox serializes event delivery per agreement across processes.
type Mailbox struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMailbox creates a Mailbox. A non-positive ttl uses the default.
func NewMailbox(client *redis.Client, ttl time.Duration) *Mailbox {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Mailbox{client: client, ttl: ttl}
}

// Acquire takes the agreement's lock. The returned func releases it.
func (m *Mailbox) Acquire(ctx context.Context, agreementID string) (func(context.Context) error, error) {
	key := lockKeyPrefix + agreementID
	token := uuid.New().String()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("agreement %s: %w", agreementID, ErrMailboxBusy)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}
	return release, nil
}

// WithLock runs fn while holding the agreement's lock.
func (m *Mailbox) WithLock(ctx context.Context, agreementID string, fn func(context.Context) error) error {
	release, err := m.Acquire(ctx, agreementID)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(ctx))
	return fn(ctx)
}
