package connector

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/perceptlink-go/internal/message"
	"github.com/lk2023060901/perceptlink-go/internal/network/framer"
	"github.com/lk2023060901/perceptlink-go/pkg/log"
	"github.com/lk2023060901/perceptlink-go/pkg/metrics"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
	"github.com/lk2023060901/perceptlink-go/pkg/util/retry"
)

// Config 描述 Sender 的连接与分帧配置。
//
// 说明：
//   - ConnectTimeout 为建立连接的超时时间，0 表示只受 ctx 约束；
//   - ReadTimeout/WriteTimeout 控制单次 Receive/Send 的超时时间（为 0 表示不设置 deadline）；
//   - Framer 必须与接收端的分帧配置一致。
type Config struct {
	ConnectTimeout time.Duration `mapstructure:"connect-timeout" json:"connect-timeout"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout" json:"read-timeout"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout" json:"write-timeout"`

	Framer framer.LengthPrefixedFramer `mapstructure:"framer" json:"framer"`
}

// DefaultConfig 返回默认配置：3 秒连接超时、4 字节长度前缀、不附加校验。
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3 * time.Second,
		Framer:         *framer.NewLengthPrefixedFramer(),
	}
}

// Sender 拥有一条到 Endpoint 的 TCP 连接，以长度前缀帧收发字节。
//
// Sender 不是并发安全的：同一时刻只能有一个调用方使用。
// 阻塞中的 Send/Receive 可以通过在其他协程调用 Close 打断，
// 此时分别返回 ErrSend/ErrReceive。
// Sender 不会自动重连或重试，失败后由调用方决定是否重新 Dial。
type Sender struct {
	log.Binder

	endpoint Endpoint
	cfg      Config
	label    string

	conn net.Conn
	// buf 为 Receive 复用的接收缓冲区，按需扩容。
	buf []byte

	closed    *atomic.Bool
	closeOnce sync.Once
}

// Dial 立即建立到 ep 的连接。
// 地址无法解析、对端拒绝或超时均返回 ErrConnection；失败时不会遗留任何句柄。
func Dial(ctx context.Context, ep Endpoint, cfg Config) (*Sender, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Framer.Validate(); err != nil {
		return nil, err
	}

	label := ep.String()
	logger := log.Ctx(ctx).With(log.FieldModule("connector"), log.FieldEndpoint(label))

	dialCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", label)
	if err != nil {
		metrics.SenderConnectFailures.WithLabelValues(label).Inc()
		logger.Warn("connect failed", zap.Duration("timeout", cfg.ConnectTimeout), zap.Error(err))
		return nil, merr.WrapErrConnection(label, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	s := &Sender{
		endpoint: ep,
		cfg:      cfg,
		label:    label,
		conn:     conn,
		closed:   atomic.NewBool(false),
	}
	s.SetLogger(logger.With(zap.Stringer("local", conn.LocalAddr())))
	s.Logger().Debug("connected")
	return s, nil
}

// DialWithRetry 在 Dial 返回可重试错误（ErrConnection）时按退避策略重试。
// 默认最多尝试 10 次，可通过 opts 调整；参数错误不会重试。
func DialWithRetry(ctx context.Context, ep Endpoint, cfg Config, opts ...retry.Option) (*Sender, error) {
	var sender *Sender
	opts = append([]retry.Option{retry.RetryErr(merr.IsRetryableErr)}, opts...)
	err := retry.Do(ctx, func() error {
		s, err := Dial(ctx, ep, cfg)
		if err != nil {
			return err
		}
		sender = s
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// Endpoint 返回连接的目的地。
func (s *Sender) Endpoint() Endpoint {
	return s.endpoint
}

// LocalAddr 返回本端地址。
func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Send 将 payload 作为一帧写入连接。
// 写入不完整、连接断开、超时或 Sender 已关闭时返回 ErrSend。
func (s *Sender) Send(payload []byte) error {
	if s.closed.Load() {
		return merr.WrapErrSend(merr.WrapErrConnectionClosed(s.label))
	}
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return merr.WrapErrSend(err, "set write deadline")
		}
	}
	if err := s.cfg.Framer.WriteFrame(s.conn, payload); err != nil {
		return merr.WrapErrSend(s.closedCause(err), s.label)
	}

	metrics.SenderFrames.WithLabelValues(s.label, metrics.DirectionSent).Inc()
	metrics.SenderBytes.WithLabelValues(s.label, metrics.DirectionSent).Add(float64(len(payload)))
	return nil
}

// SendEnvelope 编码 env 并作为一帧发送。编码失败时返回 ErrSerialization，不会写入任何字节。
func (s *Sender) SendEnvelope(env *message.Envelope) error {
	data, err := env.Pack()
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Receive 读取一帧完整数据。
// 返回的切片引用 Sender 内部缓冲区，仅在下一次 Receive 之前有效。
// 帧不完整、连接关闭或超时时返回 ErrReceive。
func (s *Sender) Receive() ([]byte, error) {
	if s.closed.Load() {
		return nil, merr.WrapErrReceive(merr.WrapErrConnectionClosed(s.label))
	}
	if s.cfg.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return nil, merr.WrapErrReceive(err, "set read deadline")
		}
	}
	frame, err := s.cfg.Framer.ReadFrame(s.conn, s.buf)
	if err != nil {
		return nil, merr.WrapErrReceive(s.closedCause(err), s.label)
	}
	if cap(frame) > cap(s.buf) {
		s.buf = frame[:cap(frame)]
	}

	metrics.SenderFrames.WithLabelValues(s.label, metrics.DirectionReceived).Inc()
	metrics.SenderBytes.WithLabelValues(s.label, metrics.DirectionReceived).Add(float64(len(frame)))
	return frame, nil
}

// ReceiveEnvelope 读取一帧并解包为 Envelope。
func (s *Sender) ReceiveEnvelope() (*message.Envelope, error) {
	frame, err := s.Receive()
	if err != nil {
		return nil, err
	}
	return message.Unpack(frame)
}

// Close 关闭连接，可重复调用。
func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
		s.buf = nil
		s.Logger().Debug("closed", zap.Error(err))
	})
	return err
}

// closedCause 在连接已被 Close 打断时附加 ErrConnectionClosed，便于调用方区分。
func (s *Sender) closedCause(err error) error {
	if s.closed.Load() {
		return merr.Combine(err, merr.WrapErrConnectionClosed(s.label))
	}
	return err
}
