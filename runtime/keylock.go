package runtime

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// KeyLock is a striped mutex: keys hashing to the same stripe share a lock.
type KeyLock struct {
	stripes [lockStripes]sync.Mutex
}

func (k *KeyLock) Lock(key string) func() {
	m := &k.stripes[stripe(key, lockStripes)]
	m.Lock()
	return m.Unlock
}

func stripe(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
