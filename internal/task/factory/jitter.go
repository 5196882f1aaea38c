package factory

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"
)

const maxStartupSpread = 30 * time.Second

var spreadSeq uint64

// StartupJitter returns a random offset in [0, min(every, 30s)) used to spread
// the first run of interval scripts that start together.
func StartupJitter(every time.Duration, tag string) time.Duration {
	spread := min(every, maxStartupSpread)
	if spread <= 0 {
		return 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	return time.Duration(rng.Int63n(int64(spread)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
