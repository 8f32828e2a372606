package message

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// FootPerson 是一帧中一个人的落脚点（世界坐标，单位米）。
type FootPerson struct {
	ID       uint64 `json:"id"`
	Position Point3 `json:"position"`
}

// FootPositionSet 是一个相机组的落脚点消息。
type FootPositionSet struct {
	Frames []CameraFrame[FootPerson] `json:"camera_frames"`
}

func (*FootPositionSet) Kind() Kind { return KindFootPositionSet }

func (*FootPositionSet) validate() error { return nil }

func (s *FootPositionSet) appendTo(b []byte) []byte {
	return appendFrames(b, s.Frames, func(b []byte, p *FootPerson) []byte {
		b = appendUint64(b, fieldPersonID, p.ID)
		return appendPoint3(b, fieldFootPosition, p.Position)
	})
}

func parseFootPositionSet(b []byte) (*FootPositionSet, error) {
	frames, err := parseFrames(b, func(b []byte) (FootPerson, error) {
		var p FootPerson
		err := rangeFields(b, func(f wireField) error {
			var err error
			switch f.num {
			case fieldPersonID:
				if err = f.expect(protowire.VarintType); err == nil {
					p.ID = f.scalar
				}
			case fieldFootPosition:
				if err = f.expect(protowire.BytesType); err == nil {
					p.Position, err = parsePoint3(f.bytes)
				}
			}
			return err
		})
		return p, err
	})
	if err != nil {
		return nil, err
	}
	return &FootPositionSet{Frames: frames}, nil
}

// FootPositionBuilder 按帧构建 FootPositionSet。
type FootPositionBuilder struct {
	frameBuilder[FootPerson]
}

func NewFootPositionBuilder(opts ...BuilderOption) *FootPositionBuilder {
	return &FootPositionBuilder{frameBuilder: newFrameBuilder[FootPerson](opts)}
}

// StartFrame 为 cameraID 打开一个新的相机帧，并使用 Stamper 打时间戳。
func (b *FootPositionBuilder) StartFrame(cameraID uint64) {
	b.startFrame(cameraID)
}

// SetFootPosition 设置当前帧中 personID 的落脚点，重复设置以最后一次为准。
func (b *FootPositionBuilder) SetFootPosition(personID uint64, x, y, z float32) error {
	p, err := b.person(personID, func(id uint64) FootPerson { return FootPerson{ID: id} })
	if err != nil {
		return err
	}
	p.Position = Point3{X: x, Y: y, Z: z}
	return nil
}

// Build 返回构建好的 Envelope，或构建过程中的第一个错误。
// 无论成功与否，构建器都会被重置。
func (b *FootPositionBuilder) Build() (*Envelope, error) {
	frames, err := b.build()
	if err != nil {
		return nil, err
	}
	return NewEnvelope(&FootPositionSet{Frames: frames}), nil
}
