// Package tokenstore provides durable key-value storage for the session
// credential pair. The session manager is the only writer; every other
// component reads tokens through the manager, never from a store directly.
package tokenstore

// Logical keys under which the credential pair is stored.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Store is a durable key-value holder for credentials. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(key string) (string, bool, error)

	// Set stores a value under the key, replacing any previous value.
	Set(key, value string) error

	// Clear removes the key. Clearing an absent key is not an error.
	Clear(key string) error

	Close() error
}
