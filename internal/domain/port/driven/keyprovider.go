package driven

// KeyProvider supplies the symmetric encryption key. Implementations return
// an error wrapping ErrKeyUnavailable when the key cannot be loaded.
type KeyProvider interface {
	Key() ([]byte, error)
}
