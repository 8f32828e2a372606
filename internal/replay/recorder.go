package replay

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/perceptlink-go/internal/network/acceptor"
	"github.com/lk2023060901/perceptlink-go/pkg/log"
	"github.com/lk2023060901/perceptlink-go/pkg/util/conc"
	"github.com/lk2023060901/perceptlink-go/pkg/util/funcutil"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

var errRecorderClosed = errors.New("recorder closed")

// Options 控制录制文件的打开方式。
type Options struct {
	// Append 为 true 时追加到已有文件，否则截断。
	Append bool `mapstructure:"append" json:"append"`
	// Compress 为 true 时使用 zstd 压缩整个文件；路径以 .zst 结尾时自动开启。
	Compress bool `mapstructure:"compress" json:"compress"`
	// QueueSize 为后台写入队列长度，队列满时 Record 阻塞。
	QueueSize int `mapstructure:"queue-size" json:"queue-size"`
}

const defaultQueueSize = 4096

// Recorder 将收到的帧异步写入录制文件。
// 所有方法都可以并发调用。
type Recorder struct {
	log.Binder

	path string
	file *os.File
	zw   io.WriteCloser
	bw   *bufio.Writer

	pool   *conc.Pool[struct{}]
	writer *conc.Future[struct{}]
	queue  chan Record

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error

	// writeErr 保存后台写入的第一个错误。
	writeErr atomic.Error
	written  *atomic.Int64
}

var _ acceptor.Recorder = (*Recorder)(nil)

// Open 创建（必要时包括父目录）并打开录制文件，随后启动后台写入协程。
func Open(path string, opts Options) (*Recorder, error) {
	if path == "" {
		return nil, merr.WrapErrParameterMissing("path", "recorder")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, merr.WrapErrIoFailed(path, err)
	}

	compress := opts.Compress || strings.HasSuffix(path, CompressedExt)
	if opts.Append {
		if err := checkAppendFormat(path, compress); err != nil {
			return nil, err
		}
	}

	flag := os.O_CREATE | os.O_WRONLY
	if opts.Append {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, merr.WrapErrIoFailed(path, err)
	}

	r := &Recorder{
		path:    path,
		file:    f,
		written: atomic.NewInt64(0),
	}
	var w io.Writer = f
	if compress {
		zw, err := newEncoder(f)
		if err != nil {
			_ = f.Close()
			return nil, merr.WrapErrIoFailed(path, err)
		}
		r.zw = zw
		w = zw
	}
	r.bw = bufio.NewWriter(w)

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r.queue = make(chan Record, queueSize)
	r.BindModule("recorder", zap.String("path", path))

	// 单个常驻写协程，无需回收空闲 worker。
	r.pool = conc.NewPool[struct{}](1, conc.WithPreAlloc(true), conc.WithDisablePurge(true))
	r.writer = r.pool.Submit(func() (struct{}, error) {
		r.writeLoop()
		return struct{}{}, nil
	})
	r.Logger().Info("recording", zap.Bool("append", opts.Append), zap.Bool("compress", r.zw != nil))
	return r, nil
}

// checkAppendFormat 确认追加写入的格式与已有文件一致，不存在或为空的文件不做限制。
func checkAppendFormat(path string, compress bool) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return merr.WrapErrIoFailed(path, err)
	}
	defer f.Close()

	head := make([]byte, len(zstdMagic))
	n, err := io.ReadFull(f, head)
	if n == 0 {
		return nil
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return merr.WrapErrIoFailed(path, err)
	}
	if existing := bytes.HasPrefix(head[:n], zstdMagic); existing != compress {
		return merr.WrapErrParameterInvalidMsg("cannot append %s records to %s recording %s",
			formatName(compress), formatName(existing), path)
	}
	return nil
}

func formatName(compressed bool) string {
	if compressed {
		return "zstd"
	}
	return "raw"
}

// Path 返回录制文件路径。
func (r *Recorder) Path() string {
	return r.path
}

// Written 返回已写入的记录数。
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Record 复制 payload 并交由后台写入。
// 录制器已关闭或后台写入失败时返回 ErrIoFailed，载荷超过 MaxRecordSize 时返回 ErrFrameTooLarge。
func (r *Recorder) Record(receivedAt time.Time, port uint16, payload []byte) error {
	if err := checkRecordSize(uint64(len(payload))); err != nil {
		return err
	}
	if err := r.writeErr.Load(); err != nil {
		return merr.WrapErrIoFailed(r.path, err)
	}
	rec := Record{
		ReceivedAt: receivedAt,
		Port:       port,
		Payload:    append([]byte(nil), payload...),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return merr.WrapErrIoFailed(r.path, errRecorderClosed)
	}
	r.queue <- rec
	return nil
}

func (r *Recorder) writeLoop() {
	buf := make([]byte, 0, 1024)
	for rec := range r.queue {
		if r.writeErr.Load() != nil {
			continue
		}
		buf = appendRecord(buf[:0], rec)
		if _, err := r.bw.Write(buf); err != nil {
			r.writeErr.Store(err)
			r.Logger().Warn("write record failed", zap.Error(err))
			continue
		}
		r.written.Inc()
	}
}

// Close 等待队列中的记录全部写入后关闭文件，可重复调用。
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		_, _ = r.writer.Await()
		r.pool.Release()

		r.closeErr = funcutil.JoinErrors(
			func() error { return r.writeErr.Load() },
			r.bw.Flush,
			func() error {
				if r.zw != nil {
					return r.zw.Close()
				}
				return nil
			},
			r.file.Close,
		)
		if r.closeErr != nil {
			r.closeErr = merr.WrapErrIoFailed(r.path, r.closeErr)
		}
		r.Logger().Info("recording closed", zap.Int64("records", r.written.Load()), zap.Error(r.closeErr))
	})
	return r.closeErr
}
