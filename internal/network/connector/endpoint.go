package connector

import (
	"net"
	"strconv"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Endpoint 标识一个传输目的地，在 Sender 的整个生命周期内保持不变。
type Endpoint struct {
	Address string `mapstructure:"address" json:"address"`
	Port    uint16 `mapstructure:"port" json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

// Validate 检查地址与端口均已设置。
func (e Endpoint) Validate() error {
	if e.Address == "" {
		return merr.WrapErrParameterMissing("address", "endpoint")
	}
	if e.Port == 0 {
		return merr.WrapErrParameterInvalidMsg("endpoint %s: port must be non-zero", e.String())
	}
	return nil
}
