package message

import (
	"strconv"
	"strings"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// CameraFrame 是某个相机在某一时刻的一帧数据，P 为每个人的载荷类型。
type CameraFrame[P any] struct {
	CameraID uint64 `json:"camera_id"`
	// Timestamp 为纳秒时间戳，由毫秒级墙钟放大得到。
	Timestamp uint64 `json:"timestamp"`
	People    []P    `json:"people"`
}

// CameraIDFromMAC 将相机 MAC 地址（如 00:10:FA:66:42:11 或 00-10-FA-66-42-11）
// 去掉分隔符后按十六进制解析为相机标识。
func CameraIDFromMAC(mac string) (uint64, error) {
	hex := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(mac))
	if hex == "" {
		return 0, merr.WrapErrParameterInvalidMsg("empty camera mac address")
	}
	id, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, merr.WrapErrParameterInvalidMsg("invalid camera mac address %q: %s", mac, err.Error())
	}
	return id, nil
}
