package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"time"

	"github.com/lk2023060901/perceptlink-go/internal/message"
	"github.com/lk2023060901/perceptlink-go/pkg/util/funcutil"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// RecordHeaderSize 为每条记录头部的字节数：
// float64 接收时间（epoch 秒）| uint16 端口 | uint32 载荷长度，均为大端序。
const RecordHeaderSize = 8 + 2 + 4

// MaxRecordSize 为单条记录载荷的上限，由 uint32 长度字段决定。
const MaxRecordSize = math.MaxUint32

// 读取载荷时的初始缓冲，更大的载荷随实际读到的数据增长。
const decodeChunkSize = 64 * 1024

// Record 是录制文件中的一条记录。
type Record struct {
	ReceivedAt time.Time
	Port       uint16
	Payload    []byte
}

// Envelope 将载荷解包为 Envelope。
func (r Record) Envelope() (*message.Envelope, error) {
	return message.Unpack(r.Payload)
}

func checkRecordSize(n uint64) error {
	if n > MaxRecordSize {
		return merr.WrapErrFrameTooLarge(n, MaxRecordSize, "record payload")
	}
	return nil
}

// appendRecord 要求调用方已通过 checkRecordSize 校验载荷长度。
func appendRecord(b []byte, r Record) []byte {
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(funcutil.TimeToUnixSeconds(r.ReceivedAt)))
	b = binary.BigEndian.AppendUint16(b, r.Port)
	b = binary.BigEndian.AppendUint32(b, uint32(len(r.Payload)))
	return append(b, r.Payload...)
}

// Decode 从 r 中依次读取记录直到 EOF。
// 末尾记录不完整时返回已读取的记录以及 ErrMalformedMessage。
// 载荷缓冲随实际读到的数据增长，损坏的长度字段不会导致按声明长度一次性分配。
func Decode(r io.Reader) ([]Record, error) {
	var (
		records []Record
		header  [RecordHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, merr.WrapErrMalformedMessageCause(err, "read record header")
		}
		sec := math.Float64frombits(binary.BigEndian.Uint64(header[0:8]))
		payload, err := readPayload(r, int64(binary.BigEndian.Uint32(header[10:14])))
		if err != nil {
			return records, merr.WrapErrMalformedMessageCause(err, "read record payload")
		}
		records = append(records, Record{
			ReceivedAt: funcutil.UnixSecondsToTime(sec),
			Port:       binary.BigEndian.Uint16(header[8:10]),
			Payload:    payload,
		})
	}
}

func readPayload(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(n, decodeChunkSize)))
	read, err := io.CopyN(&buf, r, n)
	if read < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFile 读取录制文件中的全部记录。zstd 压缩的文件会被自动识别并解压。
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, merr.WrapErrIoFailed(path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(zstdMagic))
	if !isZstd(path, magic) {
		return Decode(br)
	}

	dec, err := newDecoder(br)
	if err != nil {
		return nil, merr.WrapErrIoFailed(path, err)
	}
	defer dec.Close()
	return Decode(dec)
}
