package ports

import "context"

// SecretCodec round-trips JSON-serializable values through the external
// encrypt/decrypt service. Implementations must satisfy the round-trip law
// Decrypt(Encrypt(x)) == x for any JSON-serializable x.
//
// Failures never escalate past the sync engine boundary: callers treat a
// failed operation as "value absent" for that cycle.
type SecretCodec interface {
	// Encrypt serializes value and returns an opaque ciphertext.
	Encrypt(ctx context.Context, value interface{}) (string, error)

	// Decrypt resolves a batch of named ciphertexts to their plaintext
	// values in a single round trip. Entries the service could not decrypt
	// are omitted from the result.
	Decrypt(ctx context.Context, secrets map[string]string) (map[string]string, error)
}

// TokenProvider supplies the current bearer credential for calls to the
// secret service and the remote store.
type TokenProvider interface {
	// IDToken returns a currently valid bearer token, refreshing if needed.
	IDToken(ctx context.Context) (string, error)
}
