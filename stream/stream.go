// Package stream 提供面向块设备的可组合随机访问流:
// 子区间流、多段拼接流、扇区对齐流、渐进缓存流以及可寻址化封装.
//
// 所有实现均不做内部加锁, 同一实例同一时刻只允许一个调用方使用.
package stream

import (
	"io"

	"github.com/pkg/errors"
)

// Stream 字节可寻址的随机访问资源.
//
// Read 在普通的流末尾返回 (0, io.EOF); Seek 使用 io.SeekStart/SeekCurrent/SeekEnd.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	Length() int64
	Position() int64
	SetLength(n int64) error
	Flush() error

	CanRead() bool
	CanWrite() bool
	CanSeek() bool
}

// resolveSeek 将 (offset, whence) 换算为绝对偏移.
func resolveSeek(offset int64, whence int, pos, length int64) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = pos + offset
	case io.SeekEnd:
		abs = length + offset
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "invalid whence %d", whence)
	}
	return abs, nil
}

// readFull 尽量读满 p, 直到 EOF. 与 io.ReadFull 不同, 读到的字节不足时不视为错误.
func readFull(r io.Reader, p []byte) (int, error) {
	n, err := io.ReadFull(r, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}

func writeFull(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}
