package stream

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/stream/sparse"
	"github.com/pkg/errors"
)

// SparseStream 以 Stream 方式访问 sparse.Buffer.
type SparseStream struct {
	buf      *sparse.Buffer
	pos      int64
	writable bool
	closed   bool
}

func NewSparseStream(buf *sparse.Buffer, writable bool) *SparseStream {
	return &SparseStream{buf: buf, writable: writable}
}

func (ss *SparseStream) String() string {
	return fmt.Sprintf("<SparseStream(len=%s,chunks=%d)>",
		humanize.IBytes(uint64(ss.buf.Size())), ss.buf.AllocatedChunks())
}

// Buffer 返回底层稀疏缓冲区.
func (ss *SparseStream) Buffer() *sparse.Buffer {
	return ss.buf
}

// SeekData 把位置移动到 off 处或之后第一段已分配数据的起点, 返回该段的起始偏移和长度.
// 其后没有数据时返回 io.EOF, 位置不变.
func (ss *SparseStream) SeekData(off int64) (int64, int64, error) {
	if ss.closed {
		return 0, 0, ErrClosed
	}
	start, size, err := ss.buf.Find(off)
	if err != nil {
		return 0, 0, err
	}
	ss.pos = start
	return start, size, nil
}

func (ss *SparseStream) Read(p []byte) (int, error) {
	if ss.closed {
		return 0, ErrClosed
	}
	n, err := ss.buf.ReadAt(p, ss.pos)
	ss.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (ss *SparseStream) Write(p []byte) (int, error) {
	if ss.closed {
		return 0, ErrClosed
	}
	if !ss.writable {
		return 0, errors.Wrap(ErrNotSupported, "sparse stream is read-only")
	}
	n, err := ss.buf.WriteAt(p, ss.pos)
	ss.pos += int64(n)
	return n, err
}

func (ss *SparseStream) Seek(offset int64, whence int) (int64, error) {
	if ss.closed {
		return 0, ErrClosed
	}
	abs, err := resolveSeek(offset, whence, ss.pos, ss.buf.Size())
	if err != nil {
		return 0, err
	}
	if abs < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d", abs)
	}
	ss.pos = abs
	return abs, nil
}

func (ss *SparseStream) Length() int64   { return ss.buf.Size() }
func (ss *SparseStream) Position() int64 { return ss.pos }

func (ss *SparseStream) SetLength(n int64) error {
	if !ss.writable {
		return errors.Wrap(ErrNotSupported, "sparse stream is read-only")
	}
	return ss.buf.Truncate(n)
}

func (ss *SparseStream) Flush() error { return nil }

func (ss *SparseStream) CanRead() bool  { return !ss.closed }
func (ss *SparseStream) CanWrite() bool { return !ss.closed && ss.writable }
func (ss *SparseStream) CanSeek() bool  { return !ss.closed }

func (ss *SparseStream) Close() error {
	ss.closed = true
	return nil
}
