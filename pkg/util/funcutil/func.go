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
	"math"
	"time"
)

// CheckCtxValid 判断 ctx 是否仍然有效（未取消且未超时）。
func CheckCtxValid(ctx context.Context) bool {
	return ctx.Err() != context.DeadlineExceeded && ctx.Err() != context.Canceled
}

// SleepContext 休眠 d，若 ctx 提前结束则立即返回 ctx.Err()。
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UnixSecondsToTime 将浮点秒时间戳转换为 time.Time，保留微秒精度。
func UnixSecondsToTime(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6)))
}

// TimeToUnixSeconds 将 time.Time 转换为浮点秒时间戳。
func TimeToUnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// JoinErrors 依次执行 fns，返回第一个非空错误，但不会跳过后续函数。
func JoinErrors(fns ...func() error) error {
	var first error
	for _, fn := range fns {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
