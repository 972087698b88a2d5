// Package digest computes the content identity of tracked files.
//
// A digest is the lowercase hex SHA-256 of a file's full byte stream. Equal
// digests are treated as byte-identical content.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/aweris/gitbig/internal/errors"
)

// BlockSize is the read size used when streaming content into the hash.
const BlockSize = 1024 * 1024

// Size is the length of a hex encoded digest.
const Size = sha256.Size * 2

// Digest is a lowercase hex encoded SHA-256.
type Digest string

func (d Digest) String() string { return string(d) }

// Short returns the first eight characters, used in status listings.
func (d Digest) Short() string {
	if len(d) < 8 {
		return string(d)
	}
	return string(d[:8])
}

// File streams the file at path through the hash.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.ErrIO.Wrap(err)
	}
	defer f.Close()

	d, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return d, nil
}

// Reader hashes everything read from r in BlockSize chunks.
func Reader(r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", errors.ErrIO.Wrap(err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Bytes hashes an in-memory buffer.
func Bytes(b []byte) Digest {
	h := sha256.Sum256(b)
	return Digest(hex.EncodeToString(h[:]))
}

// Valid reports whether s looks like a digest.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Hasher accumulates a Digest from everything written to it.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Digest returns the digest of the bytes written so far.
func (h *Hasher) Digest() Digest {
	return Digest(hex.EncodeToString(h.h.Sum(nil)))
}
