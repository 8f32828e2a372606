package router

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/perceptlink-go/internal/message"
	network "github.com/lk2023060901/perceptlink-go/internal/network"
	"github.com/lk2023060901/perceptlink-go/internal/network/acceptor"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Handler 是按消息类型分发后的业务处理函数。
//
// 说明：
//   - c         ：收到该帧的连接，可用于回写；
//   - receivedAt：该帧首字节到达时间；
//   - env       ：已解包的 Envelope，env.Kind 与注册的类型一致；
//   - 返回：
//   - reply：可选的响应字节，非空时由 Router 通过 c.Send 写回；
//   - err  ：业务执行失败时的错误。
type Handler func(c acceptor.Conn, receivedAt time.Time, env *message.Envelope) (reply []byte, err error)

// Router 维护消息类型到 Handler 的映射，并负责从原始帧到业务 Handler 的调度。
//
// 典型调用链（接收侧）：
//  1. Acceptor 读取并校验一帧，回调 OnFrame；
//  2. Router.Handle 解包得到 Envelope；
//  3. 按 env.Kind 找到 Handler 并调用；
//  4. 如有响应，通过 c.Send 写回。
type Router interface {
	// Register 为 kind 注册 Handler，同一类型不允许重复注册。
	Register(kind message.Kind, h Handler) error

	// Handle 处理一帧原始字节。
	// 解包失败返回 ErrMalformedMessage，未注册的类型返回 ErrUnknownKind。
	Handle(c acceptor.Conn, receivedAt time.Time, payload []byte) error
}

type defaultRouter struct {
	routes map[message.Kind]Handler
}

var _ Router = (*defaultRouter)(nil)

// New 创建一个空的 Router。Register 需在开始服务前完成。
func New() Router {
	return &defaultRouter{routes: make(map[message.Kind]Handler)}
}

func (r *defaultRouter) Register(kind message.Kind, h Handler) error {
	if !kind.Valid() {
		return merr.WrapErrParameterInvalidMsg("cannot route kind %s", kind)
	}
	if h == nil {
		return merr.WrapErrParameterMissing("handler", kind.String())
	}
	if _, exists := r.routes[kind]; exists {
		return merr.WrapErrParameterInvalidMsg("kind %s already registered", kind)
	}
	r.routes[kind] = h
	return nil
}

func (r *defaultRouter) Handle(c acceptor.Conn, receivedAt time.Time, payload []byte) error {
	env, err := message.Unpack(payload)
	if err != nil {
		return err
	}

	h, ok := r.routes[env.Kind]
	if !ok {
		return merr.WrapErrUnknownKind(env.Kind, "no handler registered")
	}

	reply, err := h(c, receivedAt, env)
	if err != nil {
		return errors.Wrapf(err, "handle %s", env.Kind)
	}
	if len(reply) == 0 {
		return nil
	}
	return c.Send(reply)
}

// acceptorHandler 将 Router 接入 acceptor.Handler，其余回调交给 next。
type acceptorHandler struct {
	acceptor.Handler
	router Router
}

// NewAcceptorHandler 返回一个 acceptor.Handler：OnFrame 交由 r 分发，
// 解包失败以 StageDecode、分发失败以 StageDispatch 报告给 next.OnError。
func NewAcceptorHandler(r Router, next acceptor.Handler) acceptor.Handler {
	if next == nil {
		next = acceptor.BaseHandler{}
	}
	return &acceptorHandler{Handler: next, router: r}
}

func (h *acceptorHandler) OnFrame(c acceptor.Conn, receivedAt time.Time, payload []byte) {
	err := h.router.Handle(c, receivedAt, payload)
	switch {
	case err == nil:
	case errors.Is(err, merr.ErrMalformedMessage):
		h.Handler.OnError(c, network.StageDecode, err)
	case errors.Is(err, merr.ErrSend):
		h.Handler.OnError(c, network.StageSend, err)
	default:
		h.Handler.OnError(c, network.StageDispatch, err)
	}
}
