// Package apikey generates and digests tenant API keys.
package apikey

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

const (
	Prefix     = "plc_"
	bodyLength = 32
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Generate returns a new random key of the form plc_<32 alphanumerics>.
func Generate() (string, error) {
	buf := make([]byte, bodyLength)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate api key: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return Prefix + string(buf), nil
}

// Hasher digests keys with BLAKE2b-256, keyed by a server-side pepper when
// one is configured. The zero value is unkeyed.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher keyed by pepper. An empty pepper yields the
// unkeyed digest, so stores written without one keep resolving.
func NewHasher(pepper string) (Hasher, error) {
	if len(pepper) > blake2b.Size {
		return Hasher{}, fmt.Errorf("api key pepper must be at most %d bytes, got %d", blake2b.Size, len(pepper))
	}
	return Hasher{pepper: []byte(pepper)}, nil
}

// Hash returns the stored digest of key.
func (h Hasher) Hash(key string) []byte {
	if len(h.pepper) == 0 {
		sum := blake2b.Sum256([]byte(key))
		return sum[:]
	}
	// New256 only fails for keys longer than blake2b.Size, which NewHasher rejects.
	d, _ := blake2b.New256(h.pepper)
	d.Write([]byte(key))
	return d.Sum(nil)
}

// Hash returns the unkeyed digest of key.
func Hash(key string) []byte {
	return Hasher{}.Hash(key)
}

// Equal compares two digests in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
