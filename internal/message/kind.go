package message

import (
	"strconv"
	"strings"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Kind 是消息类型判别字节，位于每个 Envelope 编码结果的第一个字节。
type Kind uint8

const (
	// KindUnknown 仅作为未初始化的零值，不会出现在线路上。
	KindUnknown Kind = iota
	KindDetectionSet
	KindPoseSet
	KindFootPositionSet
)

var kindNames = map[Kind]string{
	KindUnknown:         "UNKNOWN",
	KindDetectionSet:    "DETECTION_SET",
	KindPoseSet:         "POSE_SET",
	KindFootPositionSet: "FOOT_POSITION_SET",
}

// 各类消息接收端的默认监听端口。
var kindPorts = map[Kind]uint16{
	KindDetectionSet:    6940,
	KindPoseSet:         6941,
	KindFootPositionSet: 6969,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "KIND(" + strconv.Itoa(int(k)) + ")"
}

// Valid 判断 k 是否为可以发送的已知类型。
func (k Kind) Valid() bool {
	return k >= KindDetectionSet && k <= KindFootPositionSet
}

// DefaultPort 返回该类消息的默认监听端口，未知类型返回 0。
func (k Kind) DefaultPort() uint16 {
	return kindPorts[k]
}

// Kinds 返回所有可发送的消息类型。
func Kinds() []Kind {
	return []Kind{KindDetectionSet, KindPoseSet, KindFootPositionSet}
}

// ParseKind 按名称（大小写不敏感）解析消息类型。
func ParseKind(name string) (Kind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for k, n := range kindNames {
		if k.Valid() && n == upper {
			return k, nil
		}
	}
	return KindUnknown, merr.WrapErrParameterInvalidMsg("unknown message kind %q", name)
}
