// Package adaptive provides at-rest encryption for oplog entries.
//
// Supported Algorithms:
//
//   - AES-256-GCM: preferred when hardware AES support is available
//   - ChaCha20-Poly1305: fallback for other architectures
//
// Keys come from DeriveKey, which accepts either a 64-character hex key
// or a passphrase. Ciphertexts carry their nonce as a prefix; the caller
// supplies additional data (the storage key) so a sealed entry cannot be
// moved to another position in the log.
//
// Usage:
//
//	key, err := adaptive.DeriveKey(secret)
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(plaintext, aad)
//	plaintext, err := c.Decrypt(sealed, aad)
package adaptive
