// Package rand generates short random identifiers for ephemeral state such
// as guest presence identities. Not security-critical.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	mut sync.Mutex
	rng = newRNG()
)

func newRNG() *rand.Rand {
	seed := make([]byte, 8)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed))))
}

// String returns a random identifier of the given length drawn from a
// base62 charset.
func String(length int) string {
	buf := make([]byte, length)

	mut.Lock()
	for i := range buf {
		buf[i] = charset[rng.Intn(len(charset))]
	}
	mut.Unlock()

	return string(buf)
}
