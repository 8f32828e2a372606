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

package funcutil

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestCheckCtxValid(t *testing.T) {
	assert.True(t, CheckCtxValid(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, CheckCtxValid(ctx))

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.False(t, CheckCtxValid(ctx))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, SleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnixSeconds(t *testing.T) {
	ts := time.UnixMicro(1700000000123456)
	assert.True(t, ts.Equal(UnixSecondsToTime(TimeToUnixSeconds(ts))))
}

func TestJoinErrors(t *testing.T) {
	errA := errors.New("a")
	calls := 0
	err := JoinErrors(
		func() error { calls++; return nil },
		func() error { calls++; return errA },
		func() error { calls++; return errors.New("b") },
	)
	assert.Equal(t, 3, calls)
	assert.Equal(t, errA, err)
}
