// Package keylock serializes work per string key while letting distinct keys
// proceed in parallel.
package keylock

import "sync"

// Keyed hands out one mutex per key. Mutexes are created on first use and
// kept for the life of the process; the key space here is token addresses,
// which is small.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the key's mutex is held and returns the unlock func.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
