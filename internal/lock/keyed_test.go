package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecoswap/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyed_SerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), AccountKey("u1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, k.Len())
}

func TestKeyed_DisjointKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	unlockA, err := k.Lock(context.Background(), AccountKey("a"))
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := k.Lock(ctx, AccountKey("b"), LotKey(1))
	require.NoError(t, err)
	unlockB()
}

func TestKeyed_TimeoutReleasesPartialAcquisition(t *testing.T) {
	k := NewKeyed()
	unlockLot, err := k.Lock(context.Background(), LotKey(7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// "account:u1" sorts before "lot:7" and is acquired first.
	_, err = k.Lock(ctx, LotKey(7), AccountKey("u1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTimeout))

	// the account key must have been released on failure
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	unlockAcc, err := k.Lock(ctx2, AccountKey("u1"))
	require.NoError(t, err)
	unlockAcc()
	unlockLot()

	assert.Equal(t, 0, k.Len())
}

func TestKeyed_DuplicateKeys(t *testing.T) {
	k := NewKeyed()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	unlock, err := k.Lock(ctx, AccountKey("x"), AccountKey("x"))
	require.NoError(t, err)
	unlock()
	assert.Equal(t, 0, k.Len())
}
