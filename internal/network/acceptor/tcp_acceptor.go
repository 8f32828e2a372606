package acceptor

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	network "github.com/lk2023060901/perceptlink-go/internal/network"
	"github.com/lk2023060901/perceptlink-go/pkg/log"
	"github.com/lk2023060901/perceptlink-go/pkg/metrics"
	"github.com/lk2023060901/perceptlink-go/pkg/util/conc"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
	"github.com/lk2023060901/perceptlink-go/pkg/util/typeutil"
)

// TCPAcceptor 是 Acceptor 接口的多端口 TCP 实现。
//
// 设计目标：
//   - 每个端口一个监听器，监听器在构造时即完成绑定，端口冲突会立即返回错误；
//   - 每个连接在协程池中处理：读协程负责读帧、校验与录制，处理协程串行回调 Handler；
//   - 校验失败只丢弃当前帧，其他读错误结束该连接。
type TCPAcceptor struct {
	log.Binder

	cfg       Config
	recorder  Recorder
	listeners []net.Listener
	ports     []uint16

	pool   *conc.Pool[struct{}]
	conns  *typeutil.ConcurrentSet[*tcpConn]
	nextID *atomic.Uint64

	serving   *atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ Acceptor = (*TCPAcceptor)(nil)

// Option 用于定制 TCPAcceptor。
type Option func(*TCPAcceptor)

// WithRecorder 设置录制器，每一帧校验通过的数据都会交给它。
func WithRecorder(r Recorder) Option {
	return func(a *TCPAcceptor) {
		a.recorder = r
	}
}

// inboundFrame 表示一条已读取但尚未交由业务处理的帧。
type inboundFrame struct {
	receivedAt time.Time
	payload    []byte
}

// NewTCPAcceptor 按配置在所有端口上开始监听。任一端口失败时已打开的监听器会被关闭。
func NewTCPAcceptor(cfg Config, opts ...Option) (*TCPAcceptor, error) {
	if len(cfg.Ports) == 0 {
		return nil, merr.WrapErrParameterMissing("ports", "acceptor")
	}
	if err := cfg.Framer.Validate(); err != nil {
		return nil, err
	}
	seen := typeutil.NewSet[uint16]()
	for _, port := range cfg.Ports {
		if port != 0 && seen.Contain(port) {
			return nil, merr.WrapErrParameterInvalidMsg("duplicate listen port %d", port)
		}
		seen.Insert(port)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	a := &TCPAcceptor{
		cfg:     cfg,
		conns:   typeutil.NewConcurrentSet[*tcpConn](),
		nextID:  atomic.NewUint64(0),
		serving: atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.BindModule("acceptor")

	netw, host := a.listenNetwork()
	for _, port := range cfg.Ports {
		ln, err := net.Listen(netw, net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err != nil {
			a.closeListeners()
			return nil, merr.WrapErrConnection(net.JoinHostPort(host, strconv.Itoa(int(port))), err, "listen")
		}
		a.listeners = append(a.listeners, ln)
		a.ports = append(a.ports, uint16(ln.Addr().(*net.TCPAddr).Port))
		a.Logger().Info("listening", log.FieldPort(a.ports[len(a.ports)-1]), zap.String("network", netw))
	}

	a.pool = conc.NewPool[struct{}](cfg.MaxConnections,
		conc.WithNonBlocking(cfg.RejectWhenFull),
		conc.WithExpiryDuration(cfg.IdleWorkerExpiry),
	)
	return a, nil
}

func (a *TCPAcceptor) listenNetwork() (string, string) {
	switch {
	case a.cfg.Host != "":
		return "tcp", a.cfg.Host
	case a.cfg.IPv6:
		return "tcp6", "::"
	default:
		return "tcp4", "0.0.0.0"
	}
}

// Addrs 实现 Acceptor.Addrs。
func (a *TCPAcceptor) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(a.listeners))
	for _, ln := range a.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Ports 返回实际监听的端口，顺序与 Config.Ports 一致。
func (a *TCPAcceptor) Ports() []uint16 {
	return append([]uint16(nil), a.ports...)
}

// Conns 实现 Acceptor.Conns。
func (a *TCPAcceptor) Conns() []Conn {
	conns := a.conns.Collect()
	ret := make([]Conn, 0, len(conns))
	for _, c := range conns {
		ret = append(ret, c)
	}
	return ret
}

// Serve 实现 Acceptor.Serve。
//
// ctx 取消或 Close 被调用时返回 nil，并在返回前等待所有连接处理结束。
// Serve 只能调用一次。
func (a *TCPAcceptor) Serve(ctx context.Context, h Handler) error {
	if h == nil {
		return merr.WrapErrParameterMissing("handler", "acceptor")
	}
	if !a.serving.CompareAndSwap(false, true) {
		return merr.WrapErrParameterInvalidMsg("acceptor is already serving")
	}

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		a.pool.Release()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, ln := range a.listeners {
		ln, port := ln, a.ports[i]
		g.Go(func() error {
			return a.acceptLoop(gctx, ln, port, h, &wg)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.done:
		}
		return a.Close()
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *TCPAcceptor) acceptLoop(ctx context.Context, ln net.Listener, port uint16, h Handler, wg *sync.WaitGroup) error {
	logger := a.Logger().With(log.FieldPort(port))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if a.isClosed() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			metrics.ListenerErrors.WithLabelValues(metrics.PortLabel(port), network.StageAccept.String()).Inc()
			logger.Warn("accept failed", zap.Error(err))
			h.OnError(nil, network.StageAccept, err)
			return err
		}

		c := newTCPConn(a.nextID.Inc(), port, conn, &a.cfg.Framer, a.cfg.WriteTimeout)
		wg.Add(1)
		started := atomic.NewBool(false)
		future := a.pool.Submit(func() (struct{}, error) {
			started.Store(true)
			defer wg.Done()
			a.handleConnection(ctx, c, h)
			return struct{}{}, nil
		})
		if future.Done() && !started.Load() {
			// 协程池已满（RejectWhenFull）或已释放，任务不会执行。
			wg.Done()
			_ = c.Close()
			if a.isClosed() || ctx.Err() != nil {
				continue
			}
			err := merr.WrapErrConnection(c.RemoteAddr().String(), future.Err(), "connection rejected")
			metrics.ListenerErrors.WithLabelValues(metrics.PortLabel(port), network.StageAccept.String()).Inc()
			logger.Warn("connection rejected", zap.Int("maxConnections", a.cfg.MaxConnections), zap.Error(err))
			h.OnError(nil, network.StageAccept, err)
		}
	}
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 注册连接并回调 OnConnected；
//  2. 读协程循环读帧、校验、录制，并投递到 per-connection 队列；
//  3. 当前协程按顺序取出帧并回调 OnFrame；
//  4. 读协程结束后回调 OnClosed 并关闭连接。
func (a *TCPAcceptor) handleConnection(ctx context.Context, c *tcpConn, h Handler) {
	portLabel := metrics.PortLabel(c.port)
	a.conns.Insert(c)
	metrics.ListenerConnections.WithLabelValues(portLabel).Inc()
	defer func() {
		a.conns.Remove(c)
		metrics.ListenerConnections.WithLabelValues(portLabel).Dec()
	}()

	// Close 可能发生在注册之前。
	if a.isClosed() {
		_ = c.Close()
	}

	logger := a.Logger().With(log.FieldPort(c.port), zap.Uint64("conn", c.id), zap.Stringer("remote", c.RemoteAddr()))
	logger.Debug("connection accepted")
	h.OnConnected(c)

	frames := make(chan inboundFrame, a.cfg.QueueSize)
	reader := conc.Go(func() (struct{}, error) {
		defer close(frames)
		return struct{}{}, a.readLoop(ctx, c, h, frames, logger)
	})

	// 顺序消费，确保同一连接上的 Handler 串行执行。
	for frame := range frames {
		h.OnFrame(c, frame.receivedAt, frame.payload)
	}

	_, cause := reader.Await()
	h.OnClosed(c, cause)
	_ = c.Close()
	logger.Debug("connection closed", zap.Error(cause))
}

// readLoop 持续从连接中读取帧，将结果写入 frames 通道。
//
// 返回值：
//   - nil 表示正常结束（例如对端关闭连接或接入器关闭）；
//   - 非 nil 表示读取过程中发生的错误。
func (a *TCPAcceptor) readLoop(ctx context.Context, c *tcpConn, h Handler, frames chan<- inboundFrame, logger *log.MLogger) error {
	portLabel := metrics.PortLabel(c.port)
	for {
		if a.cfg.ReadTimeout > 0 {
			if err := c.raw.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout)); err != nil {
				return merr.WrapErrReceive(err, "set read deadline")
			}
		}

		c.reader.reset()
		payload, err := a.cfg.Framer.ReadFrame(c.reader, nil)
		if err != nil {
			if errors.Is(err, merr.ErrChecksumMismatch) {
				metrics.ListenerErrors.WithLabelValues(portLabel, network.StageDecode.String()).Inc()
				logger.RatedWarn(1, "frame dropped", zap.Error(err))
				h.OnError(c, network.StageDecode, err)
				continue
			}
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// 对端在帧边界关闭连接。
			if errors.Is(err, io.EOF) {
				return nil
			}
			err = merr.WrapErrReceive(err, c.RemoteAddr().String())
			metrics.ListenerErrors.WithLabelValues(portLabel, network.StageRecvRaw.String()).Inc()
			h.OnError(c, network.StageRecvRaw, err)
			return err
		}

		receivedAt := c.reader.arrivedAt()
		metrics.ListenerFrames.WithLabelValues(portLabel).Inc()
		metrics.ListenerFrameSize.WithLabelValues(portLabel).Observe(float64(len(payload)))

		if a.recorder != nil {
			if err := a.recorder.Record(receivedAt, c.port, payload); err != nil {
				metrics.ListenerErrors.WithLabelValues(portLabel, network.StageRecord.String()).Inc()
				logger.RatedWarn(1, "record frame failed", zap.Error(err))
				h.OnError(c, network.StageRecord, err)
			}
		}

		select {
		case frames <- inboundFrame{receivedAt: receivedAt, payload: payload}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *TCPAcceptor) isClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func (a *TCPAcceptor) closeListeners() error {
	var errs []error
	for _, ln := range a.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return merr.Combine(errs...)
}

// Close 实现 Acceptor.Close，可重复调用。
func (a *TCPAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.closeListeners()
		a.conns.Range(func(c *tcpConn) bool {
			_ = c.Close()
			return true
		})
		if !a.serving.Load() {
			a.pool.Release()
		}
	})
	return err
}
