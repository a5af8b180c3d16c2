// Package lock serializes ledger operations that touch the same account,
// lot or retirement while letting disjoint keys proceed in parallel.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ecoswap/internal/models"

	"golang.org/x/sync/semaphore"
)

func AccountKey(id string) string { return "account:" + id }

func LotKey(id int64) string { return fmt.Sprintf("lot:%d", id) }

func RetirementKey(id string) string { return "retirement:" + id }

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed hands out one binary semaphore per key. Entries are dropped once no
// caller holds or waits on them, so the map only grows with live contention.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires every key in sorted order and returns a function releasing
// them all. If ctx expires first, already-acquired keys are released and the
// returned error wraps models.ErrTimeout.
func (k *Keyed) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = dedupSorted(keys)
	held := make([]string, 0, len(keys))

	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.release(held[i])
		}
	}

	for _, key := range keys {
		e := k.ref(key)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			k.unref(key)
			unlock()
			if errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("acquire %s: %w", key, err)
			}
			return nil, fmt.Errorf("acquire %s: %w", key, models.ErrTimeout)
		}
		held = append(held, key)
	}
	return unlock, nil
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *Keyed) release(key string) {
	k.mu.Lock()
	e := k.entries[key]
	k.mu.Unlock()
	e.sem.Release(1)
	k.unref(key)
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func dedupSorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if i > 0 && key == out[n-1] {
			continue
		}
		out[n] = key
		n++
	}
	return out[:n]
}
