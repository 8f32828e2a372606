package log

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Binder 嵌入到 Sender、Acceptor、Recorder 等长生命周期组件中，
// 保存组件自己的 Logger（通常带有 module、endpoint 等字段）。
// 零值可用，未绑定时返回全局 Logger。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// SetLogger 绑定 logger，可在任意协程调用。
func (b *Binder) SetLogger(logger *MLogger) {
	b.logger.Store(logger)
}

// BindModule 绑定一个带 module 字段及额外字段的全局 Logger 派生实例。
func (b *Binder) BindModule(module string, fields ...zap.Field) {
	b.SetLogger(With(append([]zap.Field{FieldModule(module)}, fields...)...))
}

// Logger 返回已绑定的 Logger。
func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
