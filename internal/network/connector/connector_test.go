package connector

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/perceptlink-go/internal/message"
	"github.com/lk2023060901/perceptlink-go/internal/network/framer"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
	"github.com/lk2023060901/perceptlink-go/pkg/util/retry"
)

// echoServer 在回环地址上监听，逐帧回显收到的数据。
type echoServer struct {
	ln     net.Listener
	framer *framer.LengthPrefixedFramer
	frames chan []byte
}

func newEchoServer(t *testing.T, f *framer.LengthPrefixedFramer) *echoServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &echoServer{ln: ln, framer: f, frames: make(chan []byte, 16)}
	go srv.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return srv
}

func (s *echoServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			var buf []byte
			for {
				frame, err := s.framer.ReadFrame(conn, buf)
				if err != nil {
					return
				}
				s.frames <- append([]byte(nil), frame...)
				if err := s.framer.WriteFrame(conn, frame); err != nil {
					return
				}
				buf = frame[:cap(frame)]
			}
		}()
	}
}

func (s *echoServer) endpoint() Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Endpoint{Address: "127.0.0.1", Port: uint16(addr.Port)}
}

// closedPort 返回一个刚刚释放、当前无人监听的端口。
func closedPort(t *testing.T) uint16 {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}

type SenderSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *SenderSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *SenderSuite) TestEndpointString() {
	s.Equal("127.0.0.1:6940", Endpoint{Address: "127.0.0.1", Port: 6940}.String())
	s.Equal("[::1]:6969", Endpoint{Address: "::1", Port: 6969}.String())
}

func (s *SenderSuite) TestEchoFramesInOrder() {
	for _, checksum := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Framer.Checksum = checksum
		srv := newEchoServer(s.T(), &cfg.Framer)

		sender, err := Dial(s.ctx, srv.endpoint(), cfg)
		s.Require().NoError(err)

		payloads := [][]byte{
			bytes.Repeat([]byte{0xA1}, 10),
			{},
			bytes.Repeat([]byte{0x5C}, 70000),
		}
		for _, p := range payloads {
			s.Require().NoError(sender.Send(p))
		}
		for _, p := range payloads {
			got, err := sender.Receive()
			s.Require().NoError(err)
			s.Equal(len(p), len(got))
			s.True(bytes.Equal(p, got))

			select {
			case seen := <-srv.frames:
				s.Equal(len(p), len(seen))
			case <-time.After(time.Second):
				s.Fail("server did not see frame")
			}
		}
		s.NoError(sender.Close())
	}
}

func (s *SenderSuite) TestEightByteHeader() {
	cfg := DefaultConfig()
	cfg.Framer.HeaderSize = 8
	srv := newEchoServer(s.T(), &cfg.Framer)

	sender, err := Dial(s.ctx, srv.endpoint(), cfg)
	s.Require().NoError(err)
	defer sender.Close()

	s.Require().NoError(sender.Send([]byte("hello")))
	got, err := sender.Receive()
	s.Require().NoError(err)
	s.Equal("hello", string(got))
}

func (s *SenderSuite) TestSendEnvelope() {
	cfg := DefaultConfig()
	srv := newEchoServer(s.T(), &cfg.Framer)

	sender, err := Dial(s.ctx, srv.endpoint(), cfg)
	s.Require().NoError(err)
	defer sender.Close()

	b := message.NewFootPositionBuilder()
	b.StartFrame(7)
	s.Require().NoError(b.SetFootPosition(1, 1.5, 0, -2))
	env, err := b.Build()
	s.Require().NoError(err)
	s.Require().NoError(sender.SendEnvelope(env))

	echoed, err := sender.ReceiveEnvelope()
	s.Require().NoError(err)
	s.Equal(message.KindFootPositionSet, echoed.Kind)
	want, _ := env.FootPositionSet()
	got, ok := echoed.FootPositionSet()
	s.True(ok)
	s.Equal(want, got)

	// 编码失败时不写入任何字节。
	err = sender.SendEnvelope(&message.Envelope{Kind: message.KindPoseSet})
	s.ErrorIs(err, merr.ErrSerialization)
	select {
	case <-srv.frames:
		// 第一帧
	case <-time.After(time.Second):
		s.Fail("server did not see frame")
	}
	select {
	case <-srv.frames:
		s.Fail("invalid envelope must not be sent")
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *SenderSuite) TestDialClosedPort() {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second

	start := time.Now()
	sender, err := Dial(s.ctx, Endpoint{Address: "127.0.0.1", Port: closedPort(s.T())}, cfg)
	s.Nil(sender)
	s.ErrorIs(err, merr.ErrConnection)
	s.Less(time.Since(start), 3*time.Second)
}

func (s *SenderSuite) TestDialUnresolvable() {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second

	_, err := Dial(s.ctx, Endpoint{Address: "no-such-host.invalid", Port: 6940}, cfg)
	s.ErrorIs(err, merr.ErrConnection)
}

func (s *SenderSuite) TestDialInvalidArguments() {
	cfg := DefaultConfig()
	_, err := Dial(s.ctx, Endpoint{Port: 6940}, cfg)
	s.ErrorIs(err, merr.ErrParameterMissing)

	_, err = Dial(s.ctx, Endpoint{Address: "127.0.0.1"}, cfg)
	s.ErrorIs(err, merr.ErrParameterInvalid)

	cfg.Framer.HeaderSize = 3
	_, err = Dial(s.ctx, Endpoint{Address: "127.0.0.1", Port: 6940}, cfg)
	s.ErrorIs(err, merr.ErrInvalidHeaderSize)
}

func (s *SenderSuite) TestUseAfterClose() {
	cfg := DefaultConfig()
	srv := newEchoServer(s.T(), &cfg.Framer)

	sender, err := Dial(s.ctx, srv.endpoint(), cfg)
	s.Require().NoError(err)
	s.NoError(sender.Close())
	s.NoError(sender.Close())

	err = sender.Send([]byte("late"))
	s.ErrorIs(err, merr.ErrSend)
	s.ErrorIs(err, merr.ErrConnectionClosed)

	_, err = sender.Receive()
	s.ErrorIs(err, merr.ErrReceive)
	s.ErrorIs(err, merr.ErrConnectionClosed)
}

func (s *SenderSuite) TestCloseUnblocksReceive() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// 保持连接但从不写入。
		_, _ = io.Copy(io.Discard, conn)
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	sender, err := Dial(s.ctx, Endpoint{Address: "127.0.0.1", Port: port}, DefaultConfig())
	s.Require().NoError(err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sender.Receive()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.NoError(sender.Close())

	select {
	case err := <-errCh:
		s.ErrorIs(err, merr.ErrReceive)
	case <-time.After(2 * time.Second):
		s.Fail("Receive was not interrupted by Close")
	}
}

func (s *SenderSuite) TestReceiveTruncatedFrame() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, 100)
		_, _ = conn.Write(header)
		_, _ = conn.Write(make([]byte, 10))
	}()

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	sender, err := Dial(s.ctx, Endpoint{Address: "127.0.0.1", Port: port}, DefaultConfig())
	s.Require().NoError(err)
	defer sender.Close()

	_, err = sender.Receive()
	s.ErrorIs(err, merr.ErrReceive)
	s.ErrorIs(err, io.ErrUnexpectedEOF)
}

func (s *SenderSuite) TestReadTimeout() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, conn)
	}()

	cfg := DefaultConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	sender, err := Dial(s.ctx, Endpoint{Address: "127.0.0.1", Port: port}, cfg)
	s.Require().NoError(err)
	defer sender.Close()

	_, err = sender.Receive()
	s.ErrorIs(err, merr.ErrReceive)
	var netErr net.Error
	s.ErrorAs(err, &netErr)
	s.True(netErr.Timeout())
}

func (s *SenderSuite) TestDialWithRetry() {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	port := closedPort(s.T())

	ready := make(chan net.Listener, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		ln, err := net.Listen("tcp", Endpoint{Address: "127.0.0.1", Port: port}.String())
		if err != nil {
			ready <- nil
			return
		}
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				_ = conn
			}
		}()
		ready <- ln
	}()

	sender, err := DialWithRetry(s.ctx, Endpoint{Address: "127.0.0.1", Port: port}, cfg,
		retry.Attempts(50), retry.Sleep(20*time.Millisecond), retry.MaxSleepTime(50*time.Millisecond))
	ln := <-ready
	if ln == nil {
		s.T().Skip("port was taken before the listener restarted")
	}
	defer ln.Close()
	s.Require().NoError(err)
	s.NoError(sender.Close())
}

func (s *SenderSuite) TestDialWithRetryGivesUp() {
	cfg := DefaultConfig()
	port := closedPort(s.T())

	_, err := DialWithRetry(s.ctx, Endpoint{Address: "127.0.0.1", Port: port}, cfg,
		retry.Attempts(3), retry.Sleep(time.Millisecond))
	s.ErrorIs(err, merr.ErrConnection)

	// 参数错误不重试。
	start := time.Now()
	_, err = DialWithRetry(s.ctx, Endpoint{Port: port}, cfg, retry.Attempts(5), retry.Sleep(time.Second))
	s.ErrorIs(err, merr.ErrParameterMissing)
	s.Less(time.Since(start), 500*time.Millisecond)
}

func TestSender(t *testing.T) {
	suite.Run(t, new(SenderSuite))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 4, cfg.Framer.HeaderSize)
	assert.False(t, cfg.Framer.Checksum)
	assert.NoError(t, cfg.Framer.Validate())
}
