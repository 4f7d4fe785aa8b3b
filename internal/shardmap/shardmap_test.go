package shardmap

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap_LoadOrStore(t *testing.T) {
	t.Parallel()

	m := New[int](4)
	if v, loaded := m.LoadOrStore("a", 1); loaded || v != 1 {
		t.Fatalf("first LoadOrStore = (%d,%v), want (1,false)", v, loaded)
	}
	if v, loaded := m.LoadOrStore("a", 2); !loaded || v != 1 {
		t.Fatalf("second LoadOrStore = (%d,%v), want (1,true)", v, loaded)
	}
	if v, ok := m.LoadAndDelete("a"); !ok || v != 1 {
		t.Fatalf("LoadAndDelete = (%d,%v)", v, ok)
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d after delete", m.Len())
	}
}

func TestMap_ConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()

	m := New[int](0)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store("k"+strconv.Itoa(i), i)
		}(i)
	}
	wg.Wait()
	if m.Len() != 200 {
		t.Fatalf("Len = %d, want 200", m.Len())
	}
	if keys := m.Keys(); len(keys) != 200 || keys[0] != "k0" {
		t.Fatalf("Keys = %v...", keys[:3])
	}
}

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()

	km := NewKeyMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
	km.mu.Lock()
	leaked := len(km.locks)
	km.mu.Unlock()
	if leaked != 0 {
		t.Fatalf("KeyMutex leaked %d entries", leaked)
	}
}

func TestKeyMutex_DistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	km := NewKeyMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestIndex_StableAndInRange(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"", "1", "-100123", "@chan"} {
		i := Index(key, 7)
		if i < 0 || i >= 7 {
			t.Fatalf("Index(%q, 7) = %d out of range", key, i)
		}
		if j := Index(key, 7); j != i {
			t.Fatalf("Index(%q) not stable: %d then %d", key, i, j)
		}
	}
}
