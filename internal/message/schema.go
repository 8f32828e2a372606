package message

import (
	"math"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// 三类消息的 protobuf 字段编号。
//
//	XxxSet        { repeated CameraFrame camera_frames = 1; }
//	CameraFrame   { uint64 camera_id = 1; uint64 timestamp = 2; repeated Person people_in_frame = 3; }
//	Point2        { float x = 1; float y = 2; }
//	Point3        { float x = 1; float y = 2; float z = 3; }
//	BoundingBox   { Point2 top_left = 1; Point2 bottom_right = 2; }
//	DetectedPerson{ uint64 id = 1; BoundingBox box = 2; repeated float face_embedding = 3 [packed]; repeated float body_embedding = 4 [packed]; }
//	PosePerson    { uint64 id = 1; Point2 nose = 2; ... Point2 neck = 19; Point3 orientation = 30; }
//	FootPerson    { uint64 id = 1; Point3 position = 2; }
const (
	fieldSetFrames protowire.Number = 1

	fieldFrameCameraID  protowire.Number = 1
	fieldFrameTimestamp protowire.Number = 2
	fieldFramePeople    protowire.Number = 3

	fieldPointX protowire.Number = 1
	fieldPointY protowire.Number = 2
	fieldPointZ protowire.Number = 3

	fieldBoxTopLeft     protowire.Number = 1
	fieldBoxBottomRight protowire.Number = 2

	fieldPersonID protowire.Number = 1

	fieldDetectionBox           protowire.Number = 2
	fieldDetectionFaceEmbedding protowire.Number = 3
	fieldDetectionBodyEmbedding protowire.Number = 4

	fieldPoseKeypointBase protowire.Number = 2
	fieldPoseOrientation  protowire.Number = 30

	fieldFootPosition protowire.Number = 2
)

// wireField 是解码过程中读到的一个字段。
// 定长与 varint 类型的值统一放在 scalar 中，bytes 类型放在 bytes 中。
type wireField struct {
	num    protowire.Number
	typ    protowire.Type
	scalar uint64
	bytes  []byte
}

func (f wireField) expect(typ protowire.Type) error {
	if f.typ != typ {
		return errors.Newf("field %d: unexpected wire type %d", f.num, f.typ)
	}
	return nil
}

func (f wireField) float32() float32 {
	return math.Float32frombits(uint32(f.scalar))
}

// rangeFields 依次回调 b 中的每个字段，未知字段同样会回调，由调用方决定忽略。
func rangeFields(b []byte, fn func(f wireField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := wireField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.scalar, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.scalar = uint64(v)
		case protowire.Fixed64Type:
			f.scalar, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*4))
	for _, v := range vs {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

func appendPoint2(b []byte, num protowire.Number, p Point2) []byte {
	var body []byte
	body = appendFloat(body, fieldPointX, p.X)
	body = appendFloat(body, fieldPointY, p.Y)
	return appendMessage(b, num, body)
}

func appendPoint3(b []byte, num protowire.Number, p Point3) []byte {
	var body []byte
	body = appendFloat(body, fieldPointX, p.X)
	body = appendFloat(body, fieldPointY, p.Y)
	body = appendFloat(body, fieldPointZ, p.Z)
	return appendMessage(b, num, body)
}

func parsePoint2(b []byte) (Point2, error) {
	var p Point2
	err := rangeFields(b, func(f wireField) error {
		switch f.num {
		case fieldPointX:
			if err := f.expect(protowire.Fixed32Type); err != nil {
				return err
			}
			p.X = f.float32()
		case fieldPointY:
			if err := f.expect(protowire.Fixed32Type); err != nil {
				return err
			}
			p.Y = f.float32()
		}
		return nil
	})
	return p, err
}

func parsePoint3(b []byte) (Point3, error) {
	var p Point3
	err := rangeFields(b, func(f wireField) error {
		switch f.num {
		case fieldPointX, fieldPointY, fieldPointZ:
			if err := f.expect(protowire.Fixed32Type); err != nil {
				return err
			}
			switch f.num {
			case fieldPointX:
				p.X = f.float32()
			case fieldPointY:
				p.Y = f.float32()
			default:
				p.Z = f.float32()
			}
		}
		return nil
	})
	return p, err
}

// appendFloats 同时接受 packed 与非 packed 两种 repeated float 编码。
func appendFloats(dst []float32, f wireField) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, f.float32()), nil
	case protowire.BytesType:
		if len(f.bytes)%4 != 0 {
			return nil, errors.Newf("field %d: packed float length %d not a multiple of 4", f.num, len(f.bytes))
		}
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, errors.Newf("field %d: unexpected wire type %d", f.num, f.typ)
	}
}

// appendFrames 将相机帧列表编码为 XxxSet 消息体。
func appendFrames[P any](b []byte, frames []CameraFrame[P], appendPerson func([]byte, *P) []byte) []byte {
	for i := range frames {
		frame := &frames[i]
		var body []byte
		body = appendUint64(body, fieldFrameCameraID, frame.CameraID)
		body = appendUint64(body, fieldFrameTimestamp, frame.Timestamp)
		for j := range frame.People {
			body = appendMessage(body, fieldFramePeople, appendPerson(nil, &frame.People[j]))
		}
		b = appendMessage(b, fieldSetFrames, body)
	}
	return b
}

// parseFrames 是 appendFrames 的逆过程。没有帧或没有人时对应切片保持为 nil。
func parseFrames[P any](b []byte, parsePerson func([]byte) (P, error)) ([]CameraFrame[P], error) {
	var frames []CameraFrame[P]
	err := rangeFields(b, func(f wireField) error {
		if f.num != fieldSetFrames {
			return nil
		}
		if err := f.expect(protowire.BytesType); err != nil {
			return err
		}
		var frame CameraFrame[P]
		err := rangeFields(f.bytes, func(f wireField) error {
			switch f.num {
			case fieldFrameCameraID:
				if err := f.expect(protowire.VarintType); err != nil {
					return err
				}
				frame.CameraID = f.scalar
			case fieldFrameTimestamp:
				if err := f.expect(protowire.VarintType); err != nil {
					return err
				}
				frame.Timestamp = f.scalar
			case fieldFramePeople:
				if err := f.expect(protowire.BytesType); err != nil {
					return err
				}
				person, err := parsePerson(f.bytes)
				if err != nil {
					return err
				}
				frame.People = append(frame.People, person)
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "camera frame %d", len(frames))
		}
		frames = append(frames, frame)
		return nil
	})
	return frames, err
}
