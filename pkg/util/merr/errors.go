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

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Message related
	ErrSerialization    = newLinkError("serialization failed", 100, false)
	ErrMalformedMessage = newLinkError("malformed message", 101, false)
	ErrUnknownKind      = newLinkError("unknown message kind", 102, false)

	// Transport related
	ErrConnection       = newLinkError("connection failed", 200, true)
	ErrSend             = newLinkError("send failed", 201, true)
	ErrReceive          = newLinkError("receive failed", 202, true)
	ErrConnectionClosed = newLinkError("connection closed", 203, false)

	// Frame related
	ErrFrameTooLarge     = newLinkError("frame too large", 300, false)
	ErrChecksumMismatch  = newLinkError("checksum mismatch", 301, false)
	ErrInvalidHeaderSize = newLinkError("invalid frame header size", 302, false)

	// IO related
	ErrIoFailed      = newLinkError("IO failed", 1001, false)
	ErrIoUnexpectEOF = newLinkError("unexpected EOF", 1002, true)

	// Parameter related
	ErrParameterInvalid = newLinkError("invalid parameter", 1100, false)
	ErrParameterMissing = newLinkError("missing parameter", 1101, false)

	// General
	ErrOperationNotSupported = newLinkError("unsupported operation", 3000, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to linkError
	errUnexpected = newLinkError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*linkError)

func WithDetail(detail string) errorOption {
	return func(err *linkError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *linkError) {
		err.errType = etype
	}
}

type linkError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newLinkError(msg string, code int32, retriable bool, options ...errorOption) linkError {
	err := linkError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e linkError) code() int32 {
	return e.errCode
}

func (e linkError) Error() string {
	return e.msg
}

func (e linkError) Detail() string {
	return e.detail
}

func (e linkError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(linkError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine 将多个错误合并为一个，nil 会被过滤掉。
// 合并后的错误对其中任意一个都满足 errors.Is。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return multiErrors{
		errs,
	}
}
