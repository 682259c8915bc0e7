package stream

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileStream 以 pread/pwrite 方式访问 *os.File 的流, 自身维护读写位置.
type FileStream struct {
	f        *os.File
	pos      int64
	writable bool
	seekable bool
}

// NewFileStream 包装已打开的文件. Close 会关闭该文件.
// 管道、字符设备等不可寻址的文件退化为顺序读写, CanSeek 返回 false.
func NewFileStream(f *os.File, writable bool) *FileStream {
	fs := &FileStream{f: f, writable: writable}
	if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
		fs.pos = pos
		fs.seekable = true
	}
	return fs
}

// OpenFileStream 打开 path 并返回 FileStream.
func OpenFileStream(path string, writable bool) (*FileStream, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	return NewFileStream(f, writable), nil
}

func (fs *FileStream) String() string {
	return fmt.Sprintf("<FileStream(%s)>", fs.f.Name())
}

// File 返回底层文件句柄.
func (fs *FileStream) File() *os.File {
	return fs.f
}

func (fs *FileStream) Read(p []byte) (int, error) {
	if !fs.seekable {
		n, err := fs.f.Read(p)
		fs.pos += int64(n)
		return n, err
	}
	n, err := fs.f.ReadAt(p, fs.pos)
	fs.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (fs *FileStream) Write(p []byte) (int, error) {
	if !fs.writable {
		return 0, errors.Wrapf(ErrNotSupported, "%s is read-only", fs.f.Name())
	}
	if !fs.seekable {
		n, err := fs.f.Write(p)
		fs.pos += int64(n)
		return n, err
	}
	n, err := fs.f.WriteAt(p, fs.pos)
	fs.pos += int64(n)
	return n, err
}

func (fs *FileStream) Seek(offset int64, whence int) (int64, error) {
	if !fs.seekable {
		return 0, errors.Wrapf(ErrNotSupported, "%s is not seekable", fs.f.Name())
	}
	length := int64(0)
	if whence == io.SeekEnd {
		length = fs.Length()
	}
	abs, err := resolveSeek(offset, whence, fs.pos, length)
	if err != nil {
		return 0, err
	}
	if abs < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d", abs)
	}
	fs.pos = abs
	return abs, nil
}

// Length 返回文件大小, 不可寻址的文件返回0. 块设备的 Stat 大小通常为0, 设备长度由 disk 包解析.
func (fs *FileStream) Length() int64 {
	if !fs.seekable {
		return 0
	}
	st, err := fs.f.Stat()
	if err != nil {
		return 0
	}
	return st.Size()
}

func (fs *FileStream) Position() int64 {
	return fs.pos
}

func (fs *FileStream) SetLength(n int64) error {
	if !fs.writable {
		return errors.Wrapf(ErrNotSupported, "%s is read-only", fs.f.Name())
	}
	return fs.f.Truncate(n)
}

func (fs *FileStream) Flush() error {
	if !fs.writable {
		return nil
	}
	return fs.f.Sync()
}

func (fs *FileStream) CanRead() bool  { return true }
func (fs *FileStream) CanWrite() bool { return fs.writable }
func (fs *FileStream) CanSeek() bool  { return fs.seekable }

func (fs *FileStream) Close() error {
	return fs.f.Close()
}

type readSeekerStream struct {
	rs  io.ReadSeeker
	pos int64
}

// FromReadSeeker 把任意 io.ReadSeeker 适配为 Stream, 不复制数据.
// 写、截断、刷新按 rs 是否实现 io.Writer / Truncate / Sync 决定是否可用.
// 实现了 io.Seeker 但实际不可寻址的源(如管道)返回包装了 ErrNotSupported 的错误.
func FromReadSeeker(rs io.ReadSeeker) (Stream, error) {
	if s, ok := rs.(Stream); ok {
		if !s.CanSeek() {
			return nil, errors.Wrap(ErrNotSupported, "stream is not seekable")
		}
		return s, nil
	}
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(ErrNotSupported, err.Error())
	}
	return &readSeekerStream{rs: rs, pos: pos}, nil
}

func (r *readSeekerStream) Read(p []byte) (int, error) {
	n, err := r.rs.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *readSeekerStream) Write(p []byte) (int, error) {
	w, ok := r.rs.(io.Writer)
	if !ok {
		return 0, errors.Wrap(ErrNotSupported, "underlying reader is not writable")
	}
	n, err := w.Write(p)
	r.pos += int64(n)
	return n, err
}

func (r *readSeekerStream) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.rs.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	r.pos = pos
	return pos, nil
}

func (r *readSeekerStream) Length() int64 {
	end, err := r.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0
	}
	_, _ = r.rs.Seek(r.pos, io.SeekStart)
	return end
}

func (r *readSeekerStream) Position() int64 {
	return r.pos
}

func (r *readSeekerStream) SetLength(n int64) error {
	t, ok := r.rs.(interface{ Truncate(int64) error })
	if !ok {
		return errors.Wrap(ErrNotSupported, "underlying reader can not be truncated")
	}
	return t.Truncate(n)
}

func (r *readSeekerStream) Flush() error {
	if s, ok := r.rs.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (r *readSeekerStream) CanRead() bool { return true }

func (r *readSeekerStream) CanWrite() bool {
	_, ok := r.rs.(io.Writer)
	return ok
}

func (r *readSeekerStream) CanSeek() bool { return true }

func (r *readSeekerStream) Close() error {
	if c, ok := r.rs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
