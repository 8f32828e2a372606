package message

import (
	"fmt"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

type builderOptions struct {
	stamper *Stamper
}

// BuilderOption 用于配置消息构建器。
type BuilderOption func(*builderOptions)

// WithStamper 指定为相机帧打时间戳的 Stamper，默认使用进程级共享实例。
func WithStamper(s *Stamper) BuilderOption {
	return func(o *builderOptions) {
		if s != nil {
			o.stamper = s
		}
	}
}

// frameBuilder 是三类构建器共用的按帧组织逻辑。
// 所有按人操作都作用于最近一次 startFrame 打开的帧；第一个校验错误会被记住并由 build 返回。
type frameBuilder[P any] struct {
	stamper *Stamper
	frames  []CameraFrame[P]
	// people 记录当前帧中 person ID 到 People 下标的映射。
	people map[uint64]int
	err    error
}

func newFrameBuilder[P any](opts []BuilderOption) frameBuilder[P] {
	o := &builderOptions{stamper: DefaultStamper()}
	for _, opt := range opts {
		opt(o)
	}
	return frameBuilder[P]{stamper: o.stamper}
}

func (b *frameBuilder[P]) startFrame(cameraID uint64) {
	b.frames = append(b.frames, CameraFrame[P]{
		CameraID:  cameraID,
		Timestamp: b.stamper.Stamp(cameraID),
	})
	b.people = make(map[uint64]int)
}

func (b *frameBuilder[P]) current() *CameraFrame[P] {
	if len(b.frames) == 0 {
		return nil
	}
	return &b.frames[len(b.frames)-1]
}

// person 返回当前帧中的某个人，不存在时调用 newPerson 创建。
func (b *frameBuilder[P]) person(id uint64, newPerson func(id uint64) P) (*P, error) {
	frame := b.current()
	if frame == nil {
		return nil, b.fail(merr.WrapErrSerialization("no camera frame started", fmt.Sprintf("person %d", id)))
	}
	if idx, ok := b.people[id]; ok {
		return &frame.People[idx], nil
	}
	frame.People = append(frame.People, newPerson(id))
	b.people[id] = len(frame.People) - 1
	return &frame.People[len(frame.People)-1], nil
}

func (b *frameBuilder[P]) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return err
}

// build 取走已构建的帧并重置构建器，之后构建器可以复用。
func (b *frameBuilder[P]) build() ([]CameraFrame[P], error) {
	frames, err := b.frames, b.err
	b.frames, b.people, b.err = nil, nil, nil
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, merr.WrapErrSerialization("no camera frame")
	}
	return frames, nil
}
