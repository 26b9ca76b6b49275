// Package store holds issued access tokens between requests.
package store

import (
	"context"
	"time"
)

// Entry is a cached token together with a fingerprint of the secret that
// obtained it.
type Entry struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
	SecretHash  string    `json:"secret_hash"`
}

// Store is a key/value store for entries. Get returns (nil, nil) on a miss.
// Entries past their ExpiresAt are never returned.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Locker is implemented by stores shared between processes. It serializes
// refreshes of one key across every instance using the store.
type Locker interface {
	// TryLock takes the refresh lock for key for at most ttl. When acquired,
	// release must be called exactly once; it only removes a lock still held
	// by this caller.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
