package acceptor

import (
	"context"
	"net"
	"time"

	"github.com/lk2023060901/perceptlink-go/internal/message"
	network "github.com/lk2023060901/perceptlink-go/internal/network"
	"github.com/lk2023060901/perceptlink-go/internal/network/framer"
)

// Config 描述 Acceptor 的监听与分帧配置。
//
// 说明：
//   - Ports 为需要监听的端口列表，0 表示由系统分配；
//   - Host 为空时监听通配地址，IPv6 为 true 时使用 "::"，否则使用 "0.0.0.0"；
//   - MaxConnections 为同时处理的连接上限，超过后新连接在 accept 之后排队等待，
//     RejectWhenFull 为 true 时则直接关闭并以 StageAccept 报告；
//   - IdleWorkerExpiry 为连接协程池中空闲 worker 的回收间隔，0 使用 ants 默认值；
//   - QueueSize 控制每个连接的接收缓冲队列大小；
//   - ReadTimeout/WriteTimeout 控制单次读写的超时时间（为 0 表示不设置 deadline）；
//   - Framer 必须与发送端的分帧配置一致。
type Config struct {
	Ports []uint16 `mapstructure:"ports" json:"ports"`
	Host  string   `mapstructure:"host" json:"host"`
	IPv6  bool     `mapstructure:"ipv6" json:"ipv6"`

	MaxConnections int `mapstructure:"max-connections" json:"max-connections"`
	QueueSize      int `mapstructure:"queue-size" json:"queue-size"`

	RejectWhenFull   bool          `mapstructure:"reject-when-full" json:"reject-when-full"`
	IdleWorkerExpiry time.Duration `mapstructure:"idle-worker-expiry" json:"idle-worker-expiry"`

	ReadTimeout  time.Duration `mapstructure:"read-timeout" json:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout" json:"write-timeout"`

	Framer framer.LengthPrefixedFramer `mapstructure:"framer" json:"framer"`
}

// DefaultConfig 返回默认配置，监听每种消息类型的默认端口。
func DefaultConfig() Config {
	kinds := message.Kinds()
	ports := make([]uint16, 0, len(kinds))
	for _, k := range kinds {
		ports = append(ports, k.DefaultPort())
	}
	return Config{
		Ports:          ports,
		MaxConnections: 256,
		QueueSize:      1024,
		Framer:         *framer.NewLengthPrefixedFramer(),
	}
}

// Conn 表示服务器侧的一条连接。
type Conn interface {
	// ID 在同一 Acceptor 内唯一。
	ID() uint64
	// Port 为接受该连接的本地监听端口。
	Port() uint16
	RemoteAddr() net.Addr
	// Send 向对端写回一帧，供发送端的 Receive 读取。可在任意协程调用。
	Send(payload []byte) error
	Close() error
}

// Handler 由使用者实现，用于在连接生命周期的各个阶段插入自定义逻辑。
//
// 同一连接上的回调串行执行，应避免耗时操作阻塞该连接的读取。
type Handler interface {
	// OnConnected 在连接被接受后调用。
	OnConnected(c Conn)

	// OnFrame 在读取并校验完一帧后调用。
	//
	// receivedAt 为该帧首字节到达的时间；payload 归调用方所有。
	OnFrame(c Conn, receivedAt time.Time, payload []byte)

	// OnError 在各阶段发生错误时调用。
	//
	// StageDecode 阶段的错误（例如校验失败）只会丢弃当前帧，连接继续读取。
	// StageAccept 阶段的错误与具体连接无关，此时 c 为 nil。
	OnError(c Conn, stage network.Stage, err error)

	// OnClosed 在连接结束时调用，正常关闭时 err 为 nil。
	OnClosed(c Conn, err error)
}

// BaseHandler 为 Handler 提供空实现，便于只覆盖关心的回调。
type BaseHandler struct{}

func (BaseHandler) OnConnected(Conn)                   {}
func (BaseHandler) OnFrame(Conn, time.Time, []byte)    {}
func (BaseHandler) OnError(Conn, network.Stage, error) {}
func (BaseHandler) OnClosed(Conn, error)               {}

var _ Handler = BaseHandler{}

// Recorder 接收每一帧已校验的数据，用于录制与回放。
type Recorder interface {
	Record(receivedAt time.Time, port uint16, payload []byte) error
}

// Acceptor 抽象了服务器侧的多端口接入层。
type Acceptor interface {
	// Serve 启动服务，阻塞直至 ctx 取消、Close 被调用或出现致命错误。
	Serve(ctx context.Context, h Handler) error

	// Close 关闭所有监听器与连接。
	Close() error

	// Addrs 返回实际监听的地址。
	Addrs() []net.Addr

	// Conns 返回当前活跃连接的快照。
	Conns() []Conn
}
