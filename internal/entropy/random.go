// Package entropy provides the explicit, seedable random source every
// stochastic decision in the collective draws from.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source is the random source consumed by the scheduler, the resource
// ledger and the behavior machines.
type Source interface {
	Float64() float64
	Intn(n int) int
	Perm(n int) []int
}

// Rand is a deterministic Source backed by math/rand.
type Rand struct {
	r *mrand.Rand
}

// New creates a deterministic source. Seed 0 draws a seed from crypto/rand.
func New(seed int64) *Rand {
	if seed == 0 {
		seed = CryptoSeed()
	}
	return &Rand{r: mrand.New(mrand.NewSource(seed))}
}

func (r *Rand) Float64() float64 { return r.r.Float64() }
func (r *Rand) Intn(n int) int   { return r.r.Intn(n) }
func (r *Rand) Perm(n int) []int { return r.r.Perm(n) }

// Chance runs one Bernoulli trial with probability p.
func Chance(src Source, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return src.Float64() < p
}

// CryptoSeed returns a non-zero seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen but return a fixed seed as a safe default.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
