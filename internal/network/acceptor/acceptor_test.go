package acceptor

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	network "github.com/lk2023060901/perceptlink-go/internal/network"
	"github.com/lk2023060901/perceptlink-go/internal/network/connector"
	"github.com/lk2023060901/perceptlink-go/internal/network/framer"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

type frameEvent struct {
	port       uint16
	receivedAt time.Time
	payload    []byte
}

type errorEvent struct {
	stage network.Stage
	err   error
}

// recordingHandler 记录所有回调，并可选地回显每一帧。
type recordingHandler struct {
	BaseHandler
	echo bool

	frames chan frameEvent
	errs   chan errorEvent
	closed chan error
}

func newRecordingHandler(echo bool) *recordingHandler {
	return &recordingHandler{
		echo:   echo,
		frames: make(chan frameEvent, 64),
		errs:   make(chan errorEvent, 64),
		closed: make(chan error, 64),
	}
}

func (h *recordingHandler) OnFrame(c Conn, receivedAt time.Time, payload []byte) {
	h.frames <- frameEvent{port: c.Port(), receivedAt: receivedAt, payload: payload}
	if h.echo {
		_ = c.Send(payload)
	}
}

func (h *recordingHandler) OnError(_ Conn, stage network.Stage, err error) {
	h.errs <- errorEvent{stage: stage, err: err}
}

func (h *recordingHandler) OnClosed(_ Conn, err error) {
	h.closed <- err
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []frameEvent
}

func (r *memoryRecorder) Record(receivedAt time.Time, port uint16, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, frameEvent{port: port, receivedAt: receivedAt, payload: append([]byte(nil), payload...)})
	return nil
}

func (r *memoryRecorder) snapshot() []frameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frameEvent(nil), r.records...)
}

type AcceptorSuite struct {
	suite.Suite

	cfg      Config
	acceptor *TCPAcceptor
	recorder *memoryRecorder
	handler  *recordingHandler
	cancel   context.CancelFunc
	served   chan error
}

func (s *AcceptorSuite) SetupTest() {
	s.cfg = DefaultConfig()
	s.cfg.Host = "127.0.0.1"
	s.cfg.Ports = []uint16{0, 0}
	s.recorder = &memoryRecorder{}
	s.handler = newRecordingHandler(true)
}

func (s *AcceptorSuite) start() {
	a, err := NewTCPAcceptor(s.cfg, WithRecorder(s.recorder))
	s.Require().NoError(err)
	s.acceptor = a

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.served = make(chan error, 1)
	go func() {
		s.served <- a.Serve(ctx, s.handler)
	}()
}

func (s *AcceptorSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		select {
		case err := <-s.served:
			s.NoError(err)
		case <-time.After(3 * time.Second):
			s.Fail("Serve did not return after cancel")
		}
		s.cancel = nil
	}
}

func (s *AcceptorSuite) endpoint(i int) connector.Endpoint {
	return connector.Endpoint{Address: "127.0.0.1", Port: s.acceptor.Ports()[i]}
}

func (s *AcceptorSuite) dial(i int) *connector.Sender {
	cfg := connector.DefaultConfig()
	cfg.Framer = s.cfg.Framer
	cfg.ReadTimeout = 2 * time.Second
	sender, err := connector.Dial(context.Background(), s.endpoint(i), cfg)
	s.Require().NoError(err)
	return sender
}

func (s *AcceptorSuite) nextFrame() frameEvent {
	select {
	case f := <-s.handler.frames:
		return f
	case <-time.After(2 * time.Second):
		s.FailNow("no frame delivered")
	}
	return frameEvent{}
}

func (s *AcceptorSuite) nextError() errorEvent {
	select {
	case e := <-s.handler.errs:
		return e
	case <-time.After(2 * time.Second):
		s.FailNow("no error reported")
	}
	return errorEvent{}
}

func (s *AcceptorSuite) TestFramesDeliveredInOrder() {
	s.start()
	sender := s.dial(0)
	defer sender.Close()

	before := time.Now()
	payloads := [][]byte{
		bytes.Repeat([]byte{1}, 10),
		{},
		bytes.Repeat([]byte{2}, 70000),
	}
	for _, p := range payloads {
		s.Require().NoError(sender.Send(p))
	}
	for _, p := range payloads {
		f := s.nextFrame()
		s.Equal(s.acceptor.Ports()[0], f.port)
		s.Equal(len(p), len(f.payload))
		s.True(bytes.Equal(p, f.payload))
		s.False(f.receivedAt.Before(before))

		echoed, err := sender.Receive()
		s.Require().NoError(err)
		s.True(bytes.Equal(p, echoed))
	}

	records := s.recorder.snapshot()
	s.Require().Len(records, 3)
	for i, r := range records {
		s.Equal(s.acceptor.Ports()[0], r.port)
		s.Equal(len(payloads[i]), len(r.payload))
	}
}

func (s *AcceptorSuite) TestMultiplePorts() {
	s.start()
	s.Len(s.acceptor.Addrs(), 2)

	for i := range s.cfg.Ports {
		sender := s.dial(i)
		s.Require().NoError(sender.Send([]byte("port-" + strconv.Itoa(i))))
		f := s.nextFrame()
		s.Equal(s.acceptor.Ports()[i], f.port)
		s.Equal("port-"+strconv.Itoa(i), string(f.payload))
		s.NoError(sender.Close())
	}
}

func (s *AcceptorSuite) TestChecksumMismatchDropsFrame() {
	s.cfg.Framer.Checksum = true
	s.start()

	var tampered bytes.Buffer
	s.Require().NoError(s.cfg.Framer.WriteFrame(&tampered, []byte("tampered")))
	raw := tampered.Bytes()
	raw[len(raw)-1] ^= 0xFF

	conn, err := net.Dial("tcp", s.endpoint(0).String())
	s.Require().NoError(err)
	defer conn.Close()
	_, err = conn.Write(raw)
	s.Require().NoError(err)
	s.Require().NoError(s.cfg.Framer.WriteFrame(conn, []byte("intact")))

	e := s.nextError()
	s.Equal(network.StageDecode, e.stage)
	s.ErrorIs(e.err, merr.ErrChecksumMismatch)

	f := s.nextFrame()
	s.Equal("intact", string(f.payload))
	s.Len(s.recorder.snapshot(), 1)
}

func (s *AcceptorSuite) TestTruncatedFrameEndsConnection() {
	s.handler.echo = false
	s.start()

	conn, err := net.Dial("tcp", s.endpoint(0).String())
	s.Require().NoError(err)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 100)
	_, err = conn.Write(append(header, make([]byte, 10)...))
	s.Require().NoError(err)
	s.Require().NoError(conn.Close())

	e := s.nextError()
	s.Equal(network.StageRecvRaw, e.stage)
	s.ErrorIs(e.err, merr.ErrReceive)

	select {
	case err := <-s.handler.closed:
		s.ErrorIs(err, merr.ErrReceive)
	case <-time.After(2 * time.Second):
		s.Fail("OnClosed not called")
	}
}

func (s *AcceptorSuite) TestPeerCloseIsClean() {
	s.start()
	sender := s.dial(1)
	s.Require().NoError(sender.Send([]byte("bye")))
	s.nextFrame()
	s.Require().NoError(sender.Close())

	select {
	case err := <-s.handler.closed:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("OnClosed not called")
	}
}

func (s *AcceptorSuite) TestCancelClosesConnections() {
	s.start()
	sender := s.dial(0)
	defer sender.Close()
	s.Require().NoError(sender.Send([]byte("hello")))
	s.nextFrame()
	s.Eventually(func() bool { return len(s.acceptor.Conns()) == 1 }, time.Second, 10*time.Millisecond)

	s.cancel()
	select {
	case err := <-s.served:
		s.NoError(err)
	case <-time.After(3 * time.Second):
		s.FailNow("Serve did not return after cancel")
	}
	s.cancel = nil

	select {
	case <-s.handler.closed:
	case <-time.After(time.Second):
		s.Fail("OnClosed not called")
	}
	s.Empty(s.acceptor.Conns())
	s.NoError(s.acceptor.Close())
}

func (s *AcceptorSuite) TestCloseStopsServe() {
	s.start()
	s.NoError(s.acceptor.Close())
	select {
	case err := <-s.served:
		s.NoError(err)
	case <-time.After(3 * time.Second):
		s.FailNow("Serve did not return after Close")
	}
	s.cancel()
	s.cancel = nil

	_, err := net.DialTimeout("tcp", s.endpoint(0).String(), 200*time.Millisecond)
	s.Error(err)
}

func (s *AcceptorSuite) TestRejectWhenFull() {
	s.cfg.MaxConnections = 1
	s.cfg.RejectWhenFull = true
	s.start()

	first := s.dial(0)
	defer first.Close()
	s.Require().NoError(first.Send([]byte("hold")))
	s.Equal("hold", string(s.nextFrame().payload))
	_, err := first.Receive()
	s.Require().NoError(err)

	second := s.dial(1)
	defer second.Close()
	e := s.nextError()
	s.Equal(network.StageAccept, e.stage)
	s.ErrorIs(e.err, merr.ErrConnection)

	_, err = second.Receive()
	s.ErrorIs(err, merr.ErrReceive)

	// 已占用 worker 的连接不受影响。
	s.Require().NoError(first.Send([]byte("still")))
	s.Equal("still", string(s.nextFrame().payload))
}

func TestAcceptor(t *testing.T) {
	suite.Run(t, new(AcceptorSuite))
}

func TestNewTCPAcceptorErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ports = nil
	_, err := NewTCPAcceptor(cfg)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	cfg = DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Ports = []uint16{7001, 7001}
	_, err = NewTCPAcceptor(cfg)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	cfg.Ports = []uint16{0}
	cfg.Framer.HeaderSize = 2
	_, err = NewTCPAcceptor(cfg)
	assert.ErrorIs(t, err, merr.ErrInvalidHeaderSize)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	cfg = DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Ports = []uint16{0, uint16(busy.Addr().(*net.TCPAddr).Port)}
	_, err = NewTCPAcceptor(cfg)
	assert.ErrorIs(t, err, merr.ErrConnection)
}

func TestServeTwice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Ports = []uint16{0}
	a, err := NewTCPAcceptor(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, BaseHandler{}) }()

	require.Eventually(t, func() bool { return a.serving.Load() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, a.Serve(ctx, BaseHandler{}), merr.ErrParameterInvalid)
	assert.ErrorIs(t, a.Serve(ctx, nil), merr.ErrParameterMissing)

	cancel()
	assert.NoError(t, <-done)
}

func TestDefaultConfigPorts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []uint16{6940, 6941, 6969}, cfg.Ports)
	assert.Equal(t, framer.NewLengthPrefixedFramer().HeaderSize, cfg.Framer.HeaderSize)
}
