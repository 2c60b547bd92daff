package keylock

import (
	"sync"
	"testing"
)

func TestSameKeySerializes(t *testing.T) {
	locks := New()

	const workers = 8
	const rounds = 200

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				unlock := locks.Lock("token-a")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	if counter != workers*rounds {
		t.Fatalf("lost updates, counter = %d", counter)
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	locks := New()

	unlockA := locks.Lock("token-a")
	defer unlockA()

	// Holding a must not block b.
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("token-b")
		unlockB()
		close(done)
	}()
	<-done
}
