package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameEndpoint  = "endpoint"
	FieldNamePort      = "port"
	FieldNameKind      = "kind"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldEndpoint 返回一个包含对端地址的 zap 字段。
func FieldEndpoint(endpoint string) zap.Field {
	return zap.String(FieldNameEndpoint, endpoint)
}

// FieldPort 返回一个包含端口号的 zap 字段。
func FieldPort(port uint16) zap.Field {
	return zap.Uint16(FieldNamePort, port)
}

// FieldKind 返回一个包含消息类型的 zap 字段。
func FieldKind(kind fmtStringer) zap.Field {
	return zap.Stringer(FieldNameKind, kind)
}

type fmtStringer interface {
	String() string
}
