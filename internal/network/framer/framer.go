package framer

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"math"
	"net"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Framer 抽象了在字节流上划分消息边界的能力。
type Framer interface {
	// WriteFrame 将 payload 打包为一帧并写入到 w 中。
	WriteFrame(w io.Writer, payload []byte) error

	// ReadFrame 从 r 中读取一帧数据。buf 为可复用的缓冲区，容量不足时会重新分配；
	// 返回的切片可能引用 buf 的底层数组。
	ReadFrame(r io.Reader, buf []byte) ([]byte, error)
}

const (
	// ChecksumSize 为 MD5 校验尾的长度。
	ChecksumSize = md5.Size

	defaultHeaderSize   = 4
	defaultMaxFrameSize = 16 * 1024 * 1024 // 16MB
)

// LengthPrefixedFramer 使用大端长度前缀作为帧边界。
//
// 约定：
//   - 一帧数据的格式为：HeaderSize 字节大端无符号整型（表示帧体长度）+ 帧体。
//   - 开启 Checksum 时帧体为 payload + 16 字节 MD5(payload)，长度前缀包含校验尾。
type LengthPrefixedFramer struct {
	// HeaderSize 为长度前缀的字节数，只能为 4 或 8，0 表示 4。
	HeaderSize int `mapstructure:"header-size" json:"header-size"`
	// MaxFrameSize 为允许的最大帧体长度，单位字节，0 表示 16MB。
	MaxFrameSize uint64 `mapstructure:"max-frame-size" json:"max-frame-size"`
	// Checksum 表示是否在帧体末尾附加并校验 MD5。
	Checksum bool `mapstructure:"checksum" json:"checksum"`
}

var _ Framer = (*LengthPrefixedFramer)(nil)

// NewLengthPrefixedFramer 创建一个 4 字节长度前缀、无校验的帧编码器。
func NewLengthPrefixedFramer() *LengthPrefixedFramer {
	return &LengthPrefixedFramer{
		HeaderSize:   defaultHeaderSize,
		MaxFrameSize: defaultMaxFrameSize,
	}
}

// Validate 检查配置是否合法。
func (f *LengthPrefixedFramer) Validate() error {
	switch f.headerSize() {
	case 4, 8:
	default:
		return merr.WrapErrInvalidHeaderSize(f.HeaderSize)
	}
	if f.Checksum && f.maxFrameSize() < ChecksumSize {
		return merr.WrapErrParameterInvalidMsg("max frame size %d cannot hold checksum", f.maxFrameSize())
	}
	return nil
}

// WriteFrame 将 payload 编码为长度前缀帧，并通过一次向量写入发送。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, payload []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}

	length := uint64(len(payload))
	if f.Checksum {
		length += ChecksumSize
	}
	hs := f.headerSize()
	if length > f.maxFrameSize() {
		return merr.WrapErrFrameTooLarge(length, f.maxFrameSize(), "write frame")
	}
	if hs == 4 && length > math.MaxUint32 {
		return merr.WrapErrFrameTooLarge(length, math.MaxUint32, "write frame", "4-byte header")
	}

	var header [8]byte
	f.putLength(header[:hs], length)

	bufs := net.Buffers{header[:hs], payload}
	if f.Checksum {
		sum := md5.Sum(payload)
		bufs = append(bufs, sum[:])
	}

	total := int64(uint64(hs) + length)
	n, err := bufs.WriteTo(w)
	if err != nil {
		return errors.Wrapf(err, "write frame (%d of %d bytes written)", n, total)
	}
	if n != total {
		return errors.Wrapf(io.ErrShortWrite, "write frame (%d of %d bytes written)", n, total)
	}
	return nil
}

// ReadFrame 从流中读取一帧数据，返回去掉校验尾后的 payload。
// 连接在帧开始前正常关闭时返回 io.EOF，帧中途断开时返回 io.ErrUnexpectedEOF。
// 校验失败时整帧已被读走，流仍然保持对齐，可以继续读取下一帧。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader, buf []byte) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var header [8]byte
	hs := f.headerSize()
	if _, err := io.ReadFull(r, header[:hs]); err != nil {
		return nil, errors.Wrap(err, "read frame header")
	}

	length := f.length(header[:hs])
	if length > f.maxFrameSize() {
		return nil, merr.WrapErrFrameTooLarge(length, f.maxFrameSize(), "read frame")
	}
	if f.Checksum && length < ChecksumSize {
		return nil, merr.WrapErrMalformedMessage("frame shorter than checksum", "read frame")
	}

	if uint64(cap(buf)) < length {
		buf = make([]byte, length)
	}
	buf = buf[:length]
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "read frame body of %d bytes", length)
	}

	if !f.Checksum {
		return buf, nil
	}
	payload, sum := buf[:length-ChecksumSize], buf[length-ChecksumSize:]
	expected := md5.Sum(payload)
	if !bytes.Equal(expected[:], sum) {
		return nil, merr.WrapErrChecksumMismatch("read frame")
	}
	return payload, nil
}

// Overhead 返回每帧在 payload 之外额外占用的字节数。
func (f *LengthPrefixedFramer) Overhead() int {
	n := f.headerSize()
	if f.Checksum {
		n += ChecksumSize
	}
	return n
}

func (f *LengthPrefixedFramer) headerSize() int {
	if f == nil || f.HeaderSize == 0 {
		return defaultHeaderSize
	}
	return f.HeaderSize
}

func (f *LengthPrefixedFramer) maxFrameSize() uint64 {
	if f == nil || f.MaxFrameSize == 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}

func (f *LengthPrefixedFramer) putLength(dst []byte, length uint64) {
	if len(dst) == 8 {
		binary.BigEndian.PutUint64(dst, length)
		return
	}
	binary.BigEndian.PutUint32(dst, uint32(length))
}

func (f *LengthPrefixedFramer) length(src []byte) uint64 {
	if len(src) == 8 {
		return binary.BigEndian.Uint64(src)
	}
	return uint64(binary.BigEndian.Uint32(src))
}
