package acceptor

import (
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/perceptlink-go/internal/network/framer"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// arrivalReader 记录一帧首字节到达的时间。
type arrivalReader struct {
	r     io.Reader
	first time.Time
}

func (a *arrivalReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 && a.first.IsZero() {
		a.first = time.Now()
	}
	return n, err
}

func (a *arrivalReader) reset() {
	a.first = time.Time{}
}

// arrivedAt 返回首字节到达时间，未记录时退回当前时间。
func (a *arrivalReader) arrivedAt() time.Time {
	if a.first.IsZero() {
		return time.Now()
	}
	return a.first
}

// tcpConn 是 Conn 的 TCP 实现。读取只在连接自己的读协程中进行，写入由 wmu 串行化。
type tcpConn struct {
	id     uint64
	port   uint16
	raw    net.Conn
	framer *framer.LengthPrefixedFramer

	writeTimeout time.Duration
	wmu          sync.Mutex

	reader *arrivalReader

	closed    *atomic.Bool
	closeOnce sync.Once
}

var _ Conn = (*tcpConn)(nil)

func newTCPConn(id uint64, port uint16, raw net.Conn, f *framer.LengthPrefixedFramer, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{
		id:           id,
		port:         port,
		raw:          raw,
		framer:       f,
		writeTimeout: writeTimeout,
		reader:       &arrivalReader{r: raw},
		closed:       atomic.NewBool(false),
	}
}

func (c *tcpConn) ID() uint64 {
	return c.id
}

func (c *tcpConn) Port() uint16 {
	return c.port
}

func (c *tcpConn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *tcpConn) Send(payload []byte) error {
	if c.closed.Load() {
		return merr.WrapErrSend(merr.WrapErrConnectionClosed(c.raw.RemoteAddr().String()))
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return merr.WrapErrSend(err, "set write deadline")
		}
	}
	if err := c.framer.WriteFrame(c.raw, payload); err != nil {
		return merr.WrapErrSend(err, c.raw.RemoteAddr().String())
	}
	return nil
}

func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.raw.Close()
	})
	return err
}
