// Package cache skips redundant reprocessing of source artifacts by
// remembering a content fingerprint per artifact across runs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint returns the hex SHA-256 digest of everything read from r.
// Content hashing is deliberate: size and mtime are unreliable across
// copies and transfers, and fingerprints must be collision-resistant so two
// different artifact contents never share one.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile streams a file through Fingerprint without loading it
// into memory.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()
	return Fingerprint(f)
}
