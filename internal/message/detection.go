package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
	"github.com/lk2023060901/perceptlink-go/pkg/util/typeutil"
)

// DetectedPerson 是一帧中被跟踪的一个人的检测结果。
type DetectedPerson struct {
	ID            uint64      `json:"id"`
	Box           BoundingBox `json:"box"`
	FaceEmbedding []float32   `json:"face_embedding,omitempty"`
	BodyEmbedding []float32   `json:"body_embedding,omitempty"`
}

// DetectionSet 是一个相机组的检测消息。
type DetectionSet struct {
	Frames []CameraFrame[DetectedPerson] `json:"camera_frames"`
}

func (*DetectionSet) Kind() Kind { return KindDetectionSet }

func (s *DetectionSet) validate() error {
	for i := range s.Frames {
		for j := range s.Frames[i].People {
			p := &s.Frames[i].People[j]
			if !p.Box.Valid() {
				return merr.WrapErrSerialization(fmt.Sprintf("person %d: %s", p.ID, describeBox(p.Box)))
			}
			if p.FaceEmbedding != nil && len(p.FaceEmbedding) == 0 {
				return merr.WrapErrSerialization(fmt.Sprintf("person %d: empty face embedding", p.ID))
			}
			if p.BodyEmbedding != nil && len(p.BodyEmbedding) == 0 {
				return merr.WrapErrSerialization(fmt.Sprintf("person %d: empty body embedding", p.ID))
			}
		}
	}
	return nil
}

func (s *DetectionSet) appendTo(b []byte) []byte {
	return appendFrames(b, s.Frames, appendDetectedPerson)
}

func appendDetectedPerson(b []byte, p *DetectedPerson) []byte {
	b = appendUint64(b, fieldPersonID, p.ID)

	var box []byte
	box = appendPoint2(box, fieldBoxTopLeft, p.Box.TopLeft)
	box = appendPoint2(box, fieldBoxBottomRight, p.Box.BottomRight)
	b = appendMessage(b, fieldDetectionBox, box)

	if len(p.FaceEmbedding) > 0 {
		b = appendPackedFloats(b, fieldDetectionFaceEmbedding, p.FaceEmbedding)
	}
	if len(p.BodyEmbedding) > 0 {
		b = appendPackedFloats(b, fieldDetectionBodyEmbedding, p.BodyEmbedding)
	}
	return b
}

func parseDetectionSet(b []byte) (*DetectionSet, error) {
	frames, err := parseFrames(b, parseDetectedPerson)
	if err != nil {
		return nil, err
	}
	return &DetectionSet{Frames: frames}, nil
}

func parseDetectedPerson(b []byte) (DetectedPerson, error) {
	var p DetectedPerson
	err := rangeFields(b, func(f wireField) error {
		var err error
		switch f.num {
		case fieldPersonID:
			if err = f.expect(protowire.VarintType); err == nil {
				p.ID = f.scalar
			}
		case fieldDetectionBox:
			if err = f.expect(protowire.BytesType); err == nil {
				p.Box, err = parseBox(f.bytes)
			}
		case fieldDetectionFaceEmbedding:
			p.FaceEmbedding, err = appendFloats(p.FaceEmbedding, f)
		case fieldDetectionBodyEmbedding:
			p.BodyEmbedding, err = appendFloats(p.BodyEmbedding, f)
		}
		return err
	})
	return p, err
}

func parseBox(b []byte) (BoundingBox, error) {
	var box BoundingBox
	err := rangeFields(b, func(f wireField) error {
		var err error
		switch f.num {
		case fieldBoxTopLeft:
			if err = f.expect(protowire.BytesType); err == nil {
				box.TopLeft, err = parsePoint2(f.bytes)
			}
		case fieldBoxBottomRight:
			if err = f.expect(protowire.BytesType); err == nil {
				box.BottomRight, err = parsePoint2(f.bytes)
			}
		}
		return err
	})
	return box, err
}

func describeBox(box BoundingBox) string {
	return fmt.Sprintf("bounding box top-left (%g,%g) exceeds bottom-right (%g,%g)",
		box.TopLeft.X, box.TopLeft.Y, box.BottomRight.X, box.BottomRight.Y)
}

// Config 是与部署相关的消息约束。
type Config struct {
	// FaceEmbeddingDim 为人脸特征向量的维度，0 表示不校验。
	FaceEmbeddingDim int `mapstructure:"face-embedding-dim" json:"face-embedding-dim"`
	// BodyEmbeddingDim 为人体特征向量的维度，0 表示不校验。
	BodyEmbeddingDim int `mapstructure:"body-embedding-dim" json:"body-embedding-dim"`
}

// DefaultConfig 返回默认的向量维度（人脸 512，人体 2048）。
func DefaultConfig() Config {
	return Config{
		FaceEmbeddingDim: 512,
		BodyEmbeddingDim: 2048,
	}
}

// DetectionBuilder 按帧构建 DetectionSet。
// 每个人必须通过 AddPersonBBox 设置检测框，特征向量可选。
type DetectionBuilder struct {
	frameBuilder[DetectedPerson]
	cfg Config
	// boxed 记录当前帧中已设置检测框的 person ID。
	boxed typeutil.Set[uint64]
}

func NewDetectionBuilder(cfg Config, opts ...BuilderOption) *DetectionBuilder {
	return &DetectionBuilder{
		frameBuilder: newFrameBuilder[DetectedPerson](opts),
		cfg:          cfg,
	}
}

// StartFrame 为 cameraID 打开一个新的相机帧，并使用 Stamper 打时间戳。
func (b *DetectionBuilder) StartFrame(cameraID uint64) {
	b.checkBoxes()
	b.startFrame(cameraID)
	b.boxed = typeutil.NewSet[uint64]()
}

// AddPersonBBox 为当前帧中的 personID 设置检测框。
func (b *DetectionBuilder) AddPersonBBox(personID uint64, topLeft, bottomRight Point2) error {
	box := BoundingBox{TopLeft: topLeft, BottomRight: bottomRight}
	if !box.Valid() {
		return b.fail(merr.WrapErrSerialization(fmt.Sprintf("person %d: %s", personID, describeBox(box))))
	}
	p, err := b.person(personID, newDetectedPerson)
	if err != nil {
		return err
	}
	if b.boxed.Contain(personID) {
		return b.fail(merr.WrapErrSerialization(fmt.Sprintf("person %d: bounding box already set", personID)))
	}
	p.Box = box
	b.boxed.Insert(personID)
	return nil
}

// SetFaceEmbedding 设置人脸特征向量，vec 会被复制。
func (b *DetectionBuilder) SetFaceEmbedding(personID uint64, vec []float32) error {
	if err := b.checkEmbedding(personID, "face", vec, b.cfg.FaceEmbeddingDim); err != nil {
		return err
	}
	p, err := b.person(personID, newDetectedPerson)
	if err != nil {
		return err
	}
	p.FaceEmbedding = append([]float32(nil), vec...)
	return nil
}

// SetBodyEmbedding 设置人体特征向量，vec 会被复制。
func (b *DetectionBuilder) SetBodyEmbedding(personID uint64, vec []float32) error {
	if err := b.checkEmbedding(personID, "body", vec, b.cfg.BodyEmbeddingDim); err != nil {
		return err
	}
	p, err := b.person(personID, newDetectedPerson)
	if err != nil {
		return err
	}
	p.BodyEmbedding = append([]float32(nil), vec...)
	return nil
}

// Build 返回构建好的 Envelope，或构建过程中的第一个错误。
// 无论成功与否，构建器都会被重置。
func (b *DetectionBuilder) Build() (*Envelope, error) {
	b.checkBoxes()
	b.boxed = nil
	frames, err := b.build()
	if err != nil {
		return nil, err
	}
	return NewEnvelope(&DetectionSet{Frames: frames}), nil
}

func (b *DetectionBuilder) checkEmbedding(personID uint64, name string, vec []float32, dim int) error {
	if len(vec) == 0 {
		return b.fail(merr.WrapErrSerialization(fmt.Sprintf("person %d: empty %s embedding", personID, name)))
	}
	if dim > 0 && len(vec) != dim {
		return b.fail(merr.WrapErrSerialization(
			fmt.Sprintf("person %d: %s embedding dimension %d, expected %d", personID, name, len(vec), dim)))
	}
	return nil
}

// checkBoxes 确认当前帧中每个人都设置了检测框。
func (b *DetectionBuilder) checkBoxes() {
	frame := b.current()
	if frame == nil {
		return
	}
	for i := range frame.People {
		if !b.boxed.Contain(frame.People[i].ID) {
			_ = b.fail(merr.WrapErrSerialization(fmt.Sprintf("person %d missing bounding box", frame.People[i].ID)))
			return
		}
	}
}

func newDetectedPerson(id uint64) DetectedPerson {
	return DetectedPerson{ID: id}
}
