package network

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept   Stage = "accept"   // 接受新连接
	StageRecvRaw  Stage = "recv_raw" // 从连接读取一帧原始字节
	StageDecode   Stage = "decode"   // 帧校验或 Envelope 解包
	StageDispatch Stage = "dispatch" // 帧交由业务处理
	StageRecord   Stage = "record"   // 帧写入录制文件
	StageSend     Stage = "send"     // 向对端写回数据
)

func (s Stage) String() string {
	return string(s)
}
