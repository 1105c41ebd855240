package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("user-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len(), "released keys should be forgotten")
}

func TestLockAllOverlappingSets(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.LockAll("a", "b")()
		}()
		go func() {
			defer wg.Done()
			l.LockAll("b", "a", "b")()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.Len())
}
