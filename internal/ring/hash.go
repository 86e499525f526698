package ring

import (
	"crypto"
	_ "crypto/md5"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"strings"

	"github.com/cespare/xxhash/v2"
	_ "golang.org/x/crypto/sha3"
)

// ErrHashUnavailable is returned when the configured digest algorithm is
// unknown or not linked into the binary. Routing is impossible without it.
var ErrHashUnavailable = errors.New("hash algorithm unavailable")

// DefaultAlgorithm is the digest used when none is configured.
const DefaultAlgorithm = "sha3-256"

// Positioner maps a name to a position in [0, modulus).
type Positioner interface {
	Position(name string, modulus int) int
}

// cryptoAlgorithms maps configuration names to crypto hashes. Hashes listed
// here but not registered at runtime (blake2b, ripemd160) are reported as
// unavailable.
var cryptoAlgorithms = map[string]crypto.Hash{
	"md5":         crypto.MD5,
	"sha256":      crypto.SHA256,
	"sha512":      crypto.SHA512,
	"sha3-256":    crypto.SHA3_256,
	"sha3-512":    crypto.SHA3_512,
	"blake2b-256": crypto.BLAKE2b_256,
	"blake2s-256": crypto.BLAKE2s_256,
	"ripemd160":   crypto.RIPEMD160,
}

// Hasher positions names by digesting them and reducing the digest, read as
// a non-negative big-endian integer, modulo the ring size.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// NewHasher returns a Hasher for the named algorithm ("" selects
// DefaultAlgorithm). It fails with ErrHashUnavailable if the digest cannot be
// obtained.
func NewHasher(algorithm string) (*Hasher, error) {
	name := strings.ToLower(strings.TrimSpace(algorithm))
	if name == "" {
		name = DefaultAlgorithm
	}

	if name == "xxhash" {
		return &Hasher{
			algorithm: name,
			newHash:   func() hash.Hash { return xxhash.New() },
		}, nil
	}

	h, ok := cryptoAlgorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrHashUnavailable, algorithm)
	}
	if !h.Available() {
		return nil, fmt.Errorf("%w: %s is not linked into this binary", ErrHashUnavailable, name)
	}
	return &Hasher{algorithm: name, newHash: h.New}, nil
}

// Algorithm returns the normalized algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Position digests name and reduces it modulo modulus. A non-positive modulus
// yields 0.
func (h *Hasher) Position(name string, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	d := h.newHash()
	d.Write([]byte(name))
	sum := new(big.Int).SetBytes(d.Sum(nil))
	return int(sum.Mod(sum, big.NewInt(int64(modulus))).Int64())
}
