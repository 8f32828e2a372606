package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// PosePerson 是一帧中一个人的骨架关键点。
type PosePerson struct {
	ID        uint64              `json:"id"`
	Keypoints map[Keypoint]Point2 `json:"keypoints"`
	// Orientation 为可选的身体朝向向量。
	Orientation *Point3 `json:"orientation,omitempty"`
}

// PoseSet 是一个相机组的姿态消息。
type PoseSet struct {
	Frames []CameraFrame[PosePerson] `json:"camera_frames"`
}

func (*PoseSet) Kind() Kind { return KindPoseSet }

func (s *PoseSet) validate() error {
	for i := range s.Frames {
		for j := range s.Frames[i].People {
			p := &s.Frames[i].People[j]
			for kp := range p.Keypoints {
				if !kp.Valid() {
					return merr.WrapErrSerialization(fmt.Sprintf("person %d: keypoint %d out of vocabulary", p.ID, uint8(kp)))
				}
			}
		}
	}
	return nil
}

func (s *PoseSet) appendTo(b []byte) []byte {
	return appendFrames(b, s.Frames, appendPosePerson)
}

// appendPosePerson 按词表顺序输出关键点，保证编码结果确定。
func appendPosePerson(b []byte, p *PosePerson) []byte {
	b = appendUint64(b, fieldPersonID, p.ID)
	for i := 0; i < KeypointCount; i++ {
		if pt, ok := p.Keypoints[Keypoint(i)]; ok {
			b = appendPoint2(b, fieldPoseKeypointBase+protowire.Number(i), pt)
		}
	}
	if p.Orientation != nil {
		b = appendPoint3(b, fieldPoseOrientation, *p.Orientation)
	}
	return b
}

func parsePoseSet(b []byte) (*PoseSet, error) {
	frames, err := parseFrames(b, parsePosePerson)
	if err != nil {
		return nil, err
	}
	return &PoseSet{Frames: frames}, nil
}

func parsePosePerson(b []byte) (PosePerson, error) {
	p := newPosePerson(0)
	err := rangeFields(b, func(f wireField) error {
		var err error
		switch {
		case f.num == fieldPersonID:
			if err = f.expect(protowire.VarintType); err == nil {
				p.ID = f.scalar
			}
		case f.num >= fieldPoseKeypointBase && f.num < fieldPoseKeypointBase+protowire.Number(KeypointCount):
			if err = f.expect(protowire.BytesType); err == nil {
				var pt Point2
				pt, err = parsePoint2(f.bytes)
				p.Keypoints[Keypoint(f.num-fieldPoseKeypointBase)] = pt
			}
		case f.num == fieldPoseOrientation:
			if err = f.expect(protowire.BytesType); err == nil {
				var o Point3
				o, err = parsePoint3(f.bytes)
				p.Orientation = &o
			}
		}
		return err
	})
	return p, err
}

// PoseBuilder 按帧构建 PoseSet。
type PoseBuilder struct {
	frameBuilder[PosePerson]
}

func NewPoseBuilder(opts ...BuilderOption) *PoseBuilder {
	return &PoseBuilder{frameBuilder: newFrameBuilder[PosePerson](opts)}
}

// StartFrame 为 cameraID 打开一个新的相机帧，并使用 Stamper 打时间戳。
func (b *PoseBuilder) StartFrame(cameraID uint64) {
	b.startFrame(cameraID)
}

// AddKeypoint 为当前帧中的 personID 设置名为 name 的关键点，name 必须属于骨架词表。
func (b *PoseBuilder) AddKeypoint(personID uint64, name string, x, y float32) error {
	kp, ok := LookupKeypoint(name)
	if !ok {
		return b.fail(merr.WrapErrSerialization(fmt.Sprintf("person %d: keypoint %q not in skeleton vocabulary", personID, name)))
	}
	return b.SetKeypoint(personID, kp, Point2{X: x, Y: y})
}

// SetKeypoint 与 AddKeypoint 相同，但直接使用 Keypoint 常量。
func (b *PoseBuilder) SetKeypoint(personID uint64, kp Keypoint, pt Point2) error {
	if !kp.Valid() {
		return b.fail(merr.WrapErrSerialization(fmt.Sprintf("person %d: keypoint %d out of vocabulary", personID, uint8(kp))))
	}
	p, err := b.person(personID, newPosePerson)
	if err != nil {
		return err
	}
	p.Keypoints[kp] = pt
	return nil
}

// SetOrientation 设置身体朝向向量。
func (b *PoseBuilder) SetOrientation(personID uint64, x, y, z float32) error {
	p, err := b.person(personID, newPosePerson)
	if err != nil {
		return err
	}
	p.Orientation = &Point3{X: x, Y: y, Z: z}
	return nil
}

// Build 返回构建好的 Envelope，或构建过程中的第一个错误。
// 无论成功与否，构建器都会被重置。
func (b *PoseBuilder) Build() (*Envelope, error) {
	frames, err := b.build()
	if err != nil {
		return nil, err
	}
	return NewEnvelope(&PoseSet{Frames: frames}), nil
}

func newPosePerson(id uint64) PosePerson {
	return PosePerson{ID: id, Keypoints: make(map[Keypoint]Point2)}
}
