package replay

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/perceptlink-go/internal/message"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

func sampleRecords(t *testing.T) []Record {
	b := message.NewFootPositionBuilder()
	b.StartFrame(11)
	require.NoError(t, b.SetFootPosition(3, 1, 2, 3))
	env, err := b.Build()
	require.NoError(t, err)
	packed, err := env.Pack()
	require.NoError(t, err)

	base := time.UnixMicro(1_700_000_000_123_456)
	return []Record{
		{ReceivedAt: base, Port: 6940, Payload: []byte("first")},
		{ReceivedAt: base.Add(250 * time.Millisecond), Port: 6969, Payload: packed},
		{ReceivedAt: base.Add(time.Second), Port: 6940, Payload: []byte{}},
	}
}

func writeRecords(t *testing.T, path string, opts Options, records []Record) {
	rec, err := Open(path, opts)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, rec.Record(r.ReceivedAt, r.Port, r.Payload))
	}
	require.NoError(t, rec.Close())
	assert.Equal(t, int64(len(records)), rec.Written())
}

func assertRecordsEqual(t *testing.T, want, got []Record) {
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].ReceivedAt.Equal(got[i].ReceivedAt), "record %d time", i)
		assert.Equal(t, want[i].Port, got[i].Port)
		assert.True(t, bytes.Equal(want[i].Payload, got[i].Payload))
	}
}

func TestRecordLayout(t *testing.T) {
	b := appendRecord(nil, Record{ReceivedAt: time.UnixMilli(1500), Port: 6940, Payload: []byte{1, 2, 3}})
	require.Len(t, b, RecordHeaderSize+3)
	assert.Equal(t, 1.5, math.Float64frombits(binary.BigEndian.Uint64(b[0:8])))
	assert.Equal(t, uint16(6940), binary.BigEndian.Uint16(b[8:10]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(b[10:14]))
	assert.Equal(t, []byte{1, 2, 3}, b[14:])
}

func TestRecorderRoundTrip(t *testing.T) {
	records := sampleRecords(t)
	path := filepath.Join(t.TempDir(), "nested", "dir", "session.rec")
	writeRecords(t, path, Options{}, records)

	got, err := ReadFile(path)
	require.NoError(t, err)
	assertRecordsEqual(t, records, got)

	env, err := got[1].Envelope()
	require.NoError(t, err)
	assert.Equal(t, message.KindFootPositionSet, env.Kind)

	_, err = got[0].Envelope()
	assert.ErrorIs(t, err, merr.ErrMalformedMessage)
}

func TestRecorderAppendAndTruncate(t *testing.T) {
	records := sampleRecords(t)
	path := filepath.Join(t.TempDir(), "session.rec")

	writeRecords(t, path, Options{}, records[:1])
	writeRecords(t, path, Options{Append: true}, records[1:])
	got, err := ReadFile(path)
	require.NoError(t, err)
	assertRecordsEqual(t, records, got)

	writeRecords(t, path, Options{}, records[2:])
	got, err = ReadFile(path)
	require.NoError(t, err)
	assertRecordsEqual(t, records[2:], got)
}

func TestRecorderCompressed(t *testing.T) {
	records := sampleRecords(t)
	dir := t.TempDir()

	bySuffix := filepath.Join(dir, "session.rec"+CompressedExt)
	writeRecords(t, bySuffix, Options{}, records)

	byOption := filepath.Join(dir, "session.rec")
	writeRecords(t, byOption, Options{Compress: true}, records[:2])
	writeRecords(t, byOption, Options{Compress: true, Append: true}, records[2:])

	for _, path := range []string{bySuffix, byOption} {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(raw, zstdMagic), path)

		got, err := ReadFile(path)
		require.NoError(t, err)
		assertRecordsEqual(t, records, got)
	}
}

func TestRecorderClosed(t *testing.T) {
	rec, err := Open(filepath.Join(t.TempDir(), "closed.rec"), Options{QueueSize: 1})
	require.NoError(t, err)
	assert.NoError(t, rec.Close())
	assert.NoError(t, rec.Close())

	err = rec.Record(time.Now(), 6940, []byte("late"))
	assert.ErrorIs(t, err, merr.ErrIoFailed)

	_, err = Open("", Options{})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestRecordCopiesPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy.rec")
	rec, err := Open(path, Options{})
	require.NoError(t, err)

	payload := []byte("abc")
	require.NoError(t, rec.Record(time.UnixMilli(1), 6941, payload))
	payload[0] = 'z'
	require.NoError(t, rec.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", string(got[0].Payload))
}

func TestDecodeTruncated(t *testing.T) {
	records := sampleRecords(t)
	var buf []byte
	for _, r := range records {
		buf = appendRecord(buf, r)
	}

	got, err := Decode(bytes.NewReader(buf[:len(buf)-RecordHeaderSize+4]))
	assert.ErrorIs(t, err, merr.ErrMalformedMessage)
	assertRecordsEqual(t, records[:2], got)

	// 载荷不完整。
	short := appendRecord(nil, Record{ReceivedAt: time.UnixMilli(1), Port: 1, Payload: []byte("payload")})
	got, err = Decode(bytes.NewReader(short[:len(short)-2]))
	assert.ErrorIs(t, err, merr.ErrMalformedMessage)
	assert.Empty(t, got)

	got, err = Decode(bytes.NewReader(nil))
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeOversizedLength(t *testing.T) {
	var header [RecordHeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], math.Float64bits(1.5))
	binary.BigEndian.PutUint16(header[8:10], 6940)
	binary.BigEndian.PutUint32(header[10:14], 0xFFFFFFF0)
	data := append(header[:], []byte("short tail")...)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	got, err := Decode(bytes.NewReader(data))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, merr.ErrMalformedMessage)
	assert.Empty(t, got)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20))
}

func TestCheckRecordSize(t *testing.T) {
	assert.NoError(t, checkRecordSize(0))
	assert.NoError(t, checkRecordSize(MaxRecordSize))
	assert.ErrorIs(t, checkRecordSize(MaxRecordSize+1), merr.ErrFrameTooLarge)
}

func TestRecorderAppendFormatMismatch(t *testing.T) {
	records := sampleRecords(t)
	dir := t.TempDir()

	raw := filepath.Join(dir, "raw.rec")
	writeRecords(t, raw, Options{}, records[:1])
	_, err := Open(raw, Options{Append: true, Compress: true})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	compressed := filepath.Join(dir, "compressed.rec")
	writeRecords(t, compressed, Options{Compress: true}, records[:1])
	_, err = Open(compressed, Options{Append: true})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	// 拒绝后原文件保持可读。
	for _, path := range []string{raw, compressed} {
		got, err := ReadFile(path)
		require.NoError(t, err)
		assertRecordsEqual(t, records[:1], got)
	}

	// 空文件或不存在的文件可以使用任意格式追加。
	empty := filepath.Join(dir, "empty.rec")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	writeRecords(t, empty, Options{Append: true, Compress: true}, records)
	got, err := ReadFile(empty)
	require.NoError(t, err)
	assertRecordsEqual(t, records, got)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.rec"))
	assert.ErrorIs(t, err, merr.ErrIoFailed)
}
