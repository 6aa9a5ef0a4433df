// Package checksum provides SHA-256 helpers shared by the storage backends
// and the content publishing endpoint.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// CalculateSHA256 returns the lowercase hex SHA-256 of everything r yields.
func CalculateSHA256(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySHA256 reports whether r hashes to want (lowercase hex). The
// comparison is constant-time.
func VerifySHA256(r io.Reader, want string) (bool, error) {
	got, err := CalculateSHA256(r)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1, nil
}
