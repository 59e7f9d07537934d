// Package store persists the long-lived lists behind quill's browser tools:
// saved prompts, generated articles and image history.
package store

import "context"

// Keys under which the tools keep their lists. Each holds a JSON array.
const (
	KeyPrompts      = "prompts"
	KeyArticles     = "articles"
	KeyImageHistory = "image-history"
)

// KnownKeys lists the keys served over HTTP.
var KnownKeys = []string{KeyPrompts, KeyArticles, KeyImageHistory}

// IsKnownKey reports whether key is one of KnownKeys.
func IsKnownKey(key string) bool {
	for _, k := range KnownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Store defines the interface for persisting raw JSON values by key.
// Typed access goes through LoadList and SaveList, which also upgrade
// legacy value shapes.
type Store interface {
	// Get returns the value stored under key. Returns ErrNotFound if the key
	// has never been written.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Update replaces the value under key with the result of fn, applied to
	// the current value. Updates and puts on one store are serialized, so
	// concurrent read-modify-write cycles never lose each other's changes.
	// If fn fails the stored value is left untouched.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Keys returns every stored key in lexical order.
	Keys(ctx context.Context) ([]string, error)

	// Close closes the store and releases any resources.
	Close() error
}

// UpdateFunc receives the current value of a key, with found false when the
// key has never been written, and returns the value to store.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// ErrNotFound is returned when a key doesn't exist in the store.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	if e.Key == "" {
		return "key not found"
	}

	return "key not found: " + e.Key
}
