package stream

import (
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/util"
	"github.com/pkg/errors"
)

// _MaxMemoryLength 内存流可增长到的最大长度.
const _MaxMemoryLength = 1 << 40

// MemoryStream 基于字节切片的可读写流, 写入超出末尾时自动增长.
type MemoryStream struct {
	buf      []byte
	pos      int64
	writable bool
	closed   bool
}

// NewMemoryStream 以 buf 作为初始内容创建流(不复制). writable 为false时所有写操作返回 ErrNotSupported.
func NewMemoryStream(buf []byte, writable bool) *MemoryStream {
	return &MemoryStream{buf: buf, writable: writable}
}

func (m *MemoryStream) String() string {
	return fmt.Sprintf("<MemoryStream(len=%s,pos=%d,rw=%v)>",
		humanize.IBytes(uint64(len(m.buf))), m.pos, m.writable)
}

// Bytes 返回当前内容, 与流共享底层数组.
func (m *MemoryStream) Bytes() []byte {
	return m.buf
}

func (m *MemoryStream) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *MemoryStream) ReadAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if off >= int64(len(m.buf)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	return copy(p, m.buf[off:]), nil
}

func (m *MemoryStream) Write(p []byte) (int, error) {
	n, err := m.WriteAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *MemoryStream) WriteAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if !m.writable {
		return 0, errors.Wrap(ErrNotSupported, "memory stream is read-only")
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	end, err := util.CheckedAdd(off, int64(len(p)))
	if err != nil {
		return 0, errors.Wrap(ErrOutOfRange, err.Error())
	}
	if err = checkMemoryLength(end); err != nil {
		return 0, err
	}
	if end > int64(len(m.buf)) {
		m.grow(end)
	}
	return copy(m.buf[off:], p), nil
}

func checkMemoryLength(n int64) error {
	if n > _MaxMemoryLength || uint64(n) > math.MaxInt {
		return errors.Wrapf(ErrOutOfRange, "memory stream length %d exceeds %s",
			n, humanize.IBytes(uint64(min(_MaxMemoryLength, math.MaxInt))))
	}
	return nil
}

func (m *MemoryStream) grow(n int64) {
	if n <= int64(cap(m.buf)) {
		old := len(m.buf)
		m.buf = m.buf[:n]
		for i := old; i < int(n); i++ {
			m.buf[i] = 0
		}
		return
	}
	c := int64(cap(m.buf)) * 2
	if c < n {
		c = n
	}
	nb := make([]byte, n, c)
	copy(nb, m.buf)
	m.buf = nb
}

func (m *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	abs, err := resolveSeek(offset, whence, m.pos, int64(len(m.buf)))
	if err != nil {
		return 0, err
	}
	if abs < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d", abs)
	}
	m.pos = abs
	return abs, nil
}

func (m *MemoryStream) Length() int64 {
	return int64(len(m.buf))
}

func (m *MemoryStream) Position() int64 {
	return m.pos
}

func (m *MemoryStream) SetLength(n int64) error {
	if !m.writable {
		return errors.Wrap(ErrNotSupported, "memory stream is read-only")
	}
	if n < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative length %d", n)
	}
	if n <= int64(len(m.buf)) {
		m.buf = m.buf[:n]
		return nil
	}
	if err := checkMemoryLength(n); err != nil {
		return err
	}
	m.grow(n)
	return nil
}

func (m *MemoryStream) Flush() error { return nil }

func (m *MemoryStream) CanRead() bool  { return !m.closed }
func (m *MemoryStream) CanWrite() bool { return !m.closed && m.writable }
func (m *MemoryStream) CanSeek() bool  { return !m.closed }

func (m *MemoryStream) Close() error {
	m.closed = true
	m.buf = nil
	return nil
}
