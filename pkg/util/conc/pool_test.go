// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	ants "github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestPool(t *testing.T) {
	pool := NewDefaultPool[any]()
	defer pool.Release()

	taskNum := pool.Cap() * 2
	futures := make([]*Future[any], 0, taskNum)
	for i := 0; i < taskNum; i++ {
		res := i
		future := pool.Submit(func() (any, error) {
			time.Sleep(20 * time.Millisecond)
			return res, nil
		})
		futures = append(futures, future)
	}

	assert.Greater(t, pool.Running(), 0)
	assert.NoError(t, AwaitAll(futures...))
	for i, future := range futures {
		res, err := future.Await()
		assert.NoError(t, err)
		assert.Equal(t, err, future.Err())
		assert.True(t, future.OK())
		assert.Equal(t, res, future.Value())
		assert.Equal(t, i, res.(int))
		assert.True(t, future.Done())
	}
}

func TestPoolPreHandler(t *testing.T) {
	counter := atomic.NewInt32(0)
	pool := NewPool[int](2, WithPreHandler(func() { counter.Inc() }))
	defer pool.Release()

	f1 := pool.Submit(func() (int, error) { return 1, nil })
	f2 := pool.Submit(func() (int, error) { return 0, errors.New("failed") })
	assert.Error(t, BlockOnAll(f1, f2))
	assert.Equal(t, int32(2), counter.Load())
	assert.False(t, f2.OK())
}

func TestPoolConcealPanic(t *testing.T) {
	pool := NewPool[int](1, WithConcealPanic(true))
	defer pool.Release()

	future := pool.Submit(func() (int, error) {
		panic("boom")
	})
	assert.ErrorContains(t, future.Err(), "boom")
}

func TestPoolNonBlocking(t *testing.T) {
	pool := NewPool[int](1, WithNonBlocking(true), WithExpiryDuration(50*time.Millisecond))
	defer pool.Release()

	release := make(chan struct{})
	busy := pool.Submit(func() (int, error) {
		<-release
		return 1, nil
	})
	require.Eventually(t, func() bool { return pool.Running() == 1 }, time.Second, 5*time.Millisecond)

	rejected := pool.Submit(func() (int, error) { return 2, nil })
	assert.True(t, rejected.Done())
	assert.ErrorIs(t, rejected.Err(), ants.ErrPoolOverload)

	close(release)
	assert.Equal(t, 1, busy.Value())

	accepted := pool.Submit(func() (int, error) { return 3, nil })
	assert.Equal(t, 3, accepted.Value())
}

func TestPoolPreAlloc(t *testing.T) {
	pool := NewPool[int](1, WithPreAlloc(true), WithDisablePurge(true))
	defer pool.Release()

	assert.Equal(t, 1, pool.Cap())
	f := pool.Submit(func() (int, error) { return 5, nil })
	assert.Equal(t, 5, f.Value())
}

func TestPoolSubmitAfterRelease(t *testing.T) {
	pool := NewPool[int](1)
	pool.Release()

	future := pool.Submit(func() (int, error) { return 1, nil })
	assert.Error(t, future.Err())
}

func TestGo(t *testing.T) {
	future := Go(func() (int, error) { return 7, nil })
	select {
	case <-future.Inner():
	case <-time.After(time.Second):
		t.Fatal("future not completed")
	}
	assert.Equal(t, 7, future.Value())

	failed := Go(func() (int, error) { panic(errors.New("bad")) })
	assert.ErrorContains(t, failed.Err(), "bad")
}
