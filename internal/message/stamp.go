package message

import (
	"sync"
	"time"
)

// Stamper 为相机帧生成纳秒时间戳。
// 同一相机的时间戳单调不减，即使墙钟发生回拨。
type Stamper struct {
	mu    sync.Mutex
	clock func() time.Time
	last  map[uint64]uint64
}

// NewStamper 使用给定时钟创建 Stamper，clock 为 nil 时使用 time.Now。
func NewStamper(clock func() time.Time) *Stamper {
	if clock == nil {
		clock = time.Now
	}
	return &Stamper{
		clock: clock,
		last:  make(map[uint64]uint64),
	}
}

var defaultStamper = NewStamper(time.Now)

// DefaultStamper 返回进程级共享的 Stamper。
func DefaultStamper() *Stamper {
	return defaultStamper
}

// Stamp 返回 cameraID 的下一个时间戳。
func (s *Stamper) Stamp(cameraID uint64) uint64 {
	var now uint64
	if ms := s.clock().UnixMilli(); ms > 0 {
		now = uint64(ms) * uint64(time.Millisecond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last := s.last[cameraID]; now < last {
		now = last
	}
	s.last[cameraID] = now
	return now
}
