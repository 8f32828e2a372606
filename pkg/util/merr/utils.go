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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	if me, ok := err.(multiErrors); ok {
		// 组合错误以第一个（分类错误）为准。
		return Code(me.errs[0])
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case linkError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

// IsRetryableErr 判断错误是否可由调用方重试（例如连接失败）。
func IsRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(multiErrors); ok {
		return IsRetryableErr(me.errs[0])
	}
	if err, ok := errors.Cause(err).(linkError); ok {
		return err.retriable
	}
	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(linkError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

func GetErrorType(err error) ErrorType {
	if merr, ok := err.(linkError); ok {
		return merr.errType
	}

	return SystemError
}

// wrapWithCause 给分类错误附加描述，并与底层原因合并。
// 合并后的错误同时满足 errors.Is(err, base) 与 errors.Is(err, cause)。
func wrapWithCause(base linkError, cause error, msg ...string) error {
	err := error(base)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return Combine(err, cause)
}

// Message 相关错误封装。

func WrapErrSerialization(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrSerialization, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSerializationCause(cause error, msg ...string) error {
	return wrapWithCause(ErrSerialization, cause, msg...)
}

func WrapErrMalformedMessage(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrMalformedMessage, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMalformedMessageCause(cause error, msg ...string) error {
	return wrapWithCause(ErrMalformedMessage, cause, msg...)
}

func WrapErrUnknownKind(kind any, msg ...string) error {
	err := wrapFields(ErrUnknownKind, value("kind", kind))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Transport 相关错误封装。

func WrapErrConnection(endpoint string, cause error, msg ...string) error {
	return wrapWithCause(wrapFields(ErrConnection, value("endpoint", endpoint)).(linkError), cause, msg...)
}

func WrapErrSend(cause error, msg ...string) error {
	return wrapWithCause(ErrSend, cause, msg...)
}

func WrapErrReceive(cause error, msg ...string) error {
	return wrapWithCause(ErrReceive, cause, msg...)
}

func WrapErrConnectionClosed(endpoint string) error {
	return wrapFields(ErrConnectionClosed, value("endpoint", endpoint))
}

// Frame 相关错误封装。

func WrapErrFrameTooLarge(size, limit uint64, msg ...string) error {
	err := wrapFields(ErrFrameTooLarge, bound("size", size, 0, limit))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrChecksumMismatch(msg ...string) error {
	err := error(ErrChecksumMismatch)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrInvalidHeaderSize(size int) error {
	return wrapFields(ErrInvalidHeaderSize, value("header_size", size))
}

// IO 相关错误封装。

func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

// Parameter 相关错误封装。

func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err linkError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err linkError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
