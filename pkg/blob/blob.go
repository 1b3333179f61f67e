// Package blob provides uniform get/put/delete backends for small binary
// objects. The signature store layers these into its local and remote tiers;
// callers can swap local disk for an S3-compatible object store without
// touching store logic.
package blob

import "context"

// Store is a minimal interface for keyed binary objects.
//
// Keys are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the object's contents.
	// If the object does not exist, an error wrapping os.ErrNotExist is returned.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object, replacing any existing contents.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys lists all object keys in the store, in unspecified order.
	Keys(ctx context.Context) ([]string, error)
}
