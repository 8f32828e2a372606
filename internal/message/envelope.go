package message

import (
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Payload 是 Envelope 可以携带的类型化消息，
// 只有 *DetectionSet、*PoseSet 与 *FootPositionSet 实现了该接口。
type Payload interface {
	Kind() Kind
	validate() error
	appendTo(b []byte) []byte
}

var (
	_ Payload = (*DetectionSet)(nil)
	_ Payload = (*PoseSet)(nil)
	_ Payload = (*FootPositionSet)(nil)
)

// Envelope 携带一个类型判别字节与对应的载荷。
// 编码格式为 [1 字节 Kind][protobuf 编码的载荷]。
type Envelope struct {
	Kind    Kind
	Payload Payload
}

// NewEnvelope 根据载荷自身的类型创建 Envelope。
func NewEnvelope(payload Payload) *Envelope {
	env := &Envelope{Payload: payload}
	if payload != nil {
		env.Kind = payload.Kind()
	}
	return env
}

// Pack 将 Envelope 编码为字节序列，相同的字段值总是得到相同的字节。
func (e *Envelope) Pack() ([]byte, error) {
	if e == nil {
		return nil, merr.WrapErrSerialization("nil envelope")
	}
	if !e.Kind.Valid() {
		return nil, merr.WrapErrSerialization("kind " + e.Kind.String() + " cannot be packed")
	}
	if e.Payload == nil || isNilPayload(e.Payload) {
		return nil, merr.WrapErrSerialization("payload missing", e.Kind.String())
	}
	if e.Payload.Kind() != e.Kind {
		return nil, merr.WrapErrSerialization("payload is "+e.Payload.Kind().String(), e.Kind.String())
	}
	if err := e.Payload.validate(); err != nil {
		return nil, merr.WrapErrSerializationCause(err, e.Kind.String())
	}

	b := make([]byte, 1, 64)
	b[0] = byte(e.Kind)
	return e.Payload.appendTo(b), nil
}

// Unpack 是 Pack 的逆过程。
// 空输入、未知判别字节或无法按对应 schema 解析的载荷均返回 ErrMalformedMessage。
func Unpack(data []byte) (*Envelope, error) {
	kind, err := PeekKind(data)
	if err != nil {
		return nil, err
	}

	body := data[1:]
	var payload Payload
	switch kind {
	case KindDetectionSet:
		payload, err = parseDetectionSet(body)
	case KindPoseSet:
		payload, err = parsePoseSet(body)
	case KindFootPositionSet:
		payload, err = parseFootPositionSet(body)
	}
	if err != nil {
		return nil, merr.WrapErrMalformedMessageCause(err, kind.String())
	}
	return &Envelope{Kind: kind, Payload: payload}, nil
}

// PeekKind 只读取判别字节，不解析载荷。
func PeekKind(data []byte) (Kind, error) {
	if len(data) == 0 {
		return KindUnknown, merr.WrapErrMalformedMessage("empty buffer")
	}
	kind := Kind(data[0])
	if !kind.Valid() {
		return KindUnknown, merr.WrapErrMalformedMessageCause(merr.WrapErrUnknownKind(data[0]))
	}
	return kind, nil
}

// DetectionSet 返回检测载荷，类型不匹配时返回 false。
func (e *Envelope) DetectionSet() (*DetectionSet, bool) {
	p, ok := e.Payload.(*DetectionSet)
	return p, ok && p != nil
}

// PoseSet 返回姿态载荷，类型不匹配时返回 false。
func (e *Envelope) PoseSet() (*PoseSet, bool) {
	p, ok := e.Payload.(*PoseSet)
	return p, ok && p != nil
}

// FootPositionSet 返回落脚点载荷，类型不匹配时返回 false。
func (e *Envelope) FootPositionSet() (*FootPositionSet, bool) {
	p, ok := e.Payload.(*FootPositionSet)
	return p, ok && p != nil
}

func isNilPayload(p Payload) bool {
	switch v := p.(type) {
	case *DetectionSet:
		return v == nil
	case *PoseSet:
		return v == nil
	case *FootPositionSet:
		return v == nil
	}
	return false
}
