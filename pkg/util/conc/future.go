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

import "go.uber.org/atomic"

type future interface {
	wait()
	OK() bool
	Err() error
}

// Future 是异步任务的执行结果，
// 当任务完成时 Done 返回的 channel 会被关闭。
type Future[T any] struct {
	ch    chan struct{}
	value T
	err   error
	done  *atomic.Bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{
		ch:   make(chan struct{}),
		done: atomic.NewBool(false),
	}
}

func (future *Future[T]) wait() {
	<-future.ch
}

// Await 阻塞直到任务完成，返回任务的结果与错误。
func (future *Future[T]) Await() (T, error) {
	future.wait()
	return future.value, future.err
}

// Value 阻塞直到任务完成，返回任务的结果。
func (future *Future[T]) Value() T {
	future.wait()
	return future.value
}

// Done 返回任务是否已经完成，不会阻塞。
func (future *Future[T]) Done() bool {
	return future.done.Load()
}

// OK 阻塞直到任务完成，返回任务是否成功。
func (future *Future[T]) OK() bool {
	future.wait()
	return future.err == nil
}

// Err 阻塞直到任务完成，返回任务的错误。
func (future *Future[T]) Err() error {
	future.wait()
	return future.err
}

// Inner 返回任务完成时关闭的 channel，可配合 select 使用。
func (future *Future[T]) Inner() <-chan struct{} {
	return future.ch
}

func (future *Future[T]) complete(value T, err error) {
	future.value = value
	future.err = err
	future.done.Store(true)
	close(future.ch)
}

// Go 在新协程中执行 fn，并返回对应的 Future。
func Go[R any](fn func() (R, error)) *Future[R] {
	future := newFuture[R]()
	go func() {
		defer func() {
			if future.Done() {
				return
			}
			var zero R
			future.complete(zero, recoverErr(recover()))
		}()
		res, err := fn()
		future.complete(res, err)
	}()
	return future
}

// AwaitAll 等待所有 Future 完成，返回遇到的第一个错误。
func AwaitAll[T future](futures ...T) error {
	for i := range futures {
		if !futures[i].OK() {
			return futures[i].Err()
		}
	}
	return nil
}

// BlockOnAll 等待所有 Future 完成，即使中途出现错误也不会提前返回。
func BlockOnAll[T future](futures ...T) error {
	var err error
	for i := range futures {
		if e := futures[i].Err(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
