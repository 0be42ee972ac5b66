package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
)

// DefaultHashPrefixBytes is how much of a file's head is hashed.
const DefaultHashPrefixBytes = 4096

// Hasher computes a content fingerprint for a file.
type Hasher interface {
	Hash(path string) (string, error)
}

// PrefixHasher hashes the first Limit bytes of a file with SHA-256.
type PrefixHasher struct {
	Limit int
}

// Hash returns the hex digest of the file's prefix, or "" for empty files.
func (h PrefixHasher) Hash(path string) (string, error) {
	limit := h.Limit
	if limit <= 0 {
		limit = DefaultHashPrefixBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if n == 0 {
		return "", nil
	}

	sum := sha256.Sum256(buf[:n])
	return hex.EncodeToString(sum[:]), nil
}
