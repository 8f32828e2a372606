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
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := errors.Wrap(WrapErrUnknownKind(9), "failed to unpack")
	s.ErrorIs(err, ErrUnknownKind)
	s.Equal(Code(ErrUnknownKind), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newLinkError("new error", ErrUnknownKind.errCode, false)
	s.True(sameCodeErr.Is(ErrUnknownKind))
}

func (s *ErrSuite) TestWrap() {
	// Message 相关错误。
	s.ErrorIs(WrapErrSerialization("kind unset"), ErrSerialization)
	s.ErrorIs(WrapErrSerialization("kind unset", "pack"), ErrSerialization)
	s.ErrorIs(WrapErrMalformedMessage("empty buffer"), ErrMalformedMessage)
	s.ErrorIs(WrapErrUnknownKind(7, "unpack"), ErrUnknownKind)

	// Transport 相关错误。
	s.ErrorIs(WrapErrConnection("127.0.0.1:1", syscall.ECONNREFUSED), ErrConnection)
	s.ErrorIs(WrapErrSend(syscall.EPIPE, "write body"), ErrSend)
	s.ErrorIs(WrapErrReceive(io.ErrUnexpectedEOF, "read header"), ErrReceive)
	s.ErrorIs(WrapErrConnectionClosed("127.0.0.1:1"), ErrConnectionClosed)

	// Frame 相关错误。
	s.ErrorIs(WrapErrFrameTooLarge(100, 10), ErrFrameTooLarge)
	s.ErrorIs(WrapErrChecksumMismatch("port 6940"), ErrChecksumMismatch)
	s.ErrorIs(WrapErrInvalidHeaderSize(3), ErrInvalidHeaderSize)

	// Parameter 相关错误。
	s.ErrorIs(WrapErrParameterInvalid(4, 3, "header size"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("bad value %d", 1), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("address"), ErrParameterMissing)

	s.ErrorIs(WrapErrIoFailed("file", os.ErrNotExist), ErrIoFailed)
	s.Nil(WrapErrIoFailed("file", nil))
}

func (s *ErrSuite) TestWrapKeepsCause() {
	err := WrapErrReceive(io.EOF, "read header")
	s.ErrorIs(err, ErrReceive)
	s.ErrorIs(err, io.EOF)
	s.NotErrorIs(err, ErrSend)
	s.Contains(err.Error(), "receive failed")
	s.Contains(err.Error(), "read header")
	s.Equal(Code(ErrReceive), Code(err))

	err = WrapErrConnection("10.0.0.1:6940", syscall.ECONNREFUSED)
	s.ErrorIs(err, ErrConnection)
	s.ErrorIs(err, syscall.ECONNREFUSED)
	s.Contains(err.Error(), "endpoint=10.0.0.1:6940")
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrConnection))
	s.True(IsRetryableErr(WrapErrConnection("a:1", io.EOF)))
	s.False(IsRetryableErr(ErrMalformedMessage))
	s.False(IsRetryableErr(errors.New("plain")))
	s.False(IsRetryableErr(nil))
}

func (s *ErrSuite) TestCombine() {
	s.Nil(Combine(nil, nil))

	single := errors.New("single")
	s.Equal(single, Combine(nil, single))

	errFirst := errors.New("first")
	errSecond := errors.New("second")
	errThird := errors.New("third")
	err := Combine(errFirst, errSecond, errThird)
	s.ErrorIs(err, errFirst)
	s.ErrorIs(err, errSecond)
	s.ErrorIs(err, errThird)
	s.Equal("first: second: third", err.Error())
}

func (s *ErrSuite) TestErrorType() {
	s.Equal(SystemError, GetErrorType(ErrSend))
	inputErr := WrapErrAsInputError(ErrParameterInvalid)
	s.Equal(InputError, GetErrorType(inputErr))
	s.Equal("input_error", GetErrorType(inputErr).String())
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(context.Canceled))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.DeadlineExceeded, "dial")))
	s.False(IsCanceledOrTimeout(ErrSend))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
