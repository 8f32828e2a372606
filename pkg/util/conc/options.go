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
	"time"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/perceptlink-go/pkg/log"
)

// poolOption 汇总 Pool 的可选行为，零值即默认配置：
// 懒创建 worker、池满时阻塞提交方、按 ants 默认间隔回收空闲 worker。
type poolOption struct {
	preAlloc       bool
	nonBlocking    bool
	disablePurge   bool
	expiryDuration time.Duration

	// concealPanic 为 true 时任务 panic 只体现在 Future 的错误中。
	concealPanic bool
	preHandler   func()
}

// PoolOption 用于配置协程池行为的选项函数。
type PoolOption func(opt *poolOption)

func defaultPoolOption() *poolOption {
	return &poolOption{}
}

func (opt *poolOption) antsOptions() []ants.Option {
	result := []ants.Option{
		ants.WithPreAlloc(opt.preAlloc),
		ants.WithNonblocking(opt.nonBlocking),
		ants.WithDisablePurge(opt.disablePurge),
		// ants 会 recover panic 但不会把错误交给调用方，Future 由 Submit 负责完成。
		ants.WithPanicHandler(func(v any) {
			log.Error("conc pool task panicked", zap.Any("panic", v))
			if !opt.concealPanic {
				panic(v)
			}
		}),
	}
	if opt.expiryDuration > 0 {
		result = append(result, ants.WithExpiryDuration(opt.expiryDuration))
	}
	return result
}

// WithPreAlloc 在创建时一次性分配全部 worker，适合容量小且常驻的池。
func WithPreAlloc(v bool) PoolOption {
	return func(opt *poolOption) { opt.preAlloc = v }
}

// WithNonBlocking 为 true 时池满的 Submit 立即失败，Future 携带 ants.ErrPoolOverload。
func WithNonBlocking(v bool) PoolOption {
	return func(opt *poolOption) { opt.nonBlocking = v }
}

// WithDisablePurge 关闭空闲 worker 的定期回收。
func WithDisablePurge(v bool) PoolOption {
	return func(opt *poolOption) { opt.disablePurge = v }
}

// WithExpiryDuration 设置空闲 worker 的回收间隔，d <= 0 时使用 ants 默认值。
func WithExpiryDuration(d time.Duration) PoolOption {
	return func(opt *poolOption) { opt.expiryDuration = d }
}

func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) { opt.concealPanic = v }
}

// WithPreHandler 设置每个任务执行前调用的函数。
func WithPreHandler(fn func()) PoolOption {
	return func(opt *poolOption) { opt.preHandler = fn }
}
