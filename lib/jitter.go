package lib

import (
	"math/rand"
)

// JitterMs implements capped exponential backoff with full jitter.
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
// sleep = random_between(0, min(cap, base * 2 ** attempt))
func JitterMs(baseMs, maxMs, attempts int) int {
	// 2 ** x == 1 << x
	return rand.Intn(min(maxMs, baseMs*(1<<attempts)))
}
