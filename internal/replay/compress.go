package replay

import (
	"bytes"
	"io"
	"runtime"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedExt 为压缩录制文件的推荐后缀，使用该后缀时录制会自动开启压缩。
const CompressedExt = ".zst"

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// newEncoder 创建流式 zstd 编码器，并发度默认为 GOMAXPROCS。
func newEncoder(w io.Writer) (*zstd.Encoder, error) {
	return zstd.NewWriter(w,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(runtime.GOMAXPROCS(0)),
	)
}

func newDecoder(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r)
}

func isZstd(path string, head []byte) bool {
	return strings.HasSuffix(path, CompressedExt) || bytes.HasPrefix(head, zstdMagic)
}
