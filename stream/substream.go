package stream

import (
	"fmt"
	"io"

	"github.com/kisun-bit/imgstream/util"
	"github.com/pkg/errors"
)

// SubStream 将父流的 [start, start+length) 区间作为独立流暴露, 仅做偏移换算, 无缓冲.
type SubStream struct {
	parent     Stream
	start      int64
	length     int64
	pos        int64
	ownsParent bool
}

// NewSubStream 创建子区间流. ownsParent 为true时 Close 会一并关闭父流.
func NewSubStream(parent Stream, start, length int64, ownsParent bool) (*SubStream, error) {
	if parent == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil parent stream")
	}
	if start < 0 || length < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "negative range start=%d length=%d", start, length)
	}
	end, err := util.CheckedAdd(start, length)
	if err != nil {
		return nil, err
	}
	if parentLen := parent.Length(); end > parentLen {
		return nil, errors.Wrapf(ErrInvalidArgument,
			"range [%d,%d) exceeds parent length %d", start, end, parentLen)
	}
	return &SubStream{
		parent:     parent,
		start:      start,
		length:     length,
		ownsParent: ownsParent,
	}, nil
}

func (s *SubStream) String() string {
	return fmt.Sprintf("<SubStream(start=%d,length=%d)>", s.start, s.length)
}

// Start 返回子区间在父流中的起始偏移.
func (s *SubStream) Start() int64 {
	return s.start
}

// OwnsParent 报告 Close 是否会关闭父流.
func (s *SubStream) OwnsParent() bool {
	return s.ownsParent
}

func (s *SubStream) Length() int64 {
	return s.length
}

func (s *SubStream) Position() int64 {
	return s.pos
}

// SetPosition 设置读写位置, 必须位于 [0, Length] 内.
func (s *SubStream) SetPosition(p int64) error {
	if p < 0 || p > s.length {
		return errors.Wrapf(ErrOutOfRange, "position %d outside [0,%d]", p, s.length)
	}
	s.pos = p
	return nil
}

func (s *SubStream) Seek(offset int64, whence int) (int64, error) {
	abs, err := resolveSeek(offset, whence, s.pos, s.length)
	if err != nil {
		return 0, err
	}
	if err = s.SetPosition(abs); err != nil {
		return 0, err
	}
	return abs, nil
}

func (s *SubStream) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// ReadAt 读取子区间内 off 处的数据, 不改变当前位置.
func (s *SubStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	remain := s.length - off
	if remain <= 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if int64(len(p)) > remain {
		p = p[:remain]
	}
	if _, err := s.parent.Seek(s.start+off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.parent.Read(p)
}

func (s *SubStream) Write(p []byte) (int, error) {
	n, err := s.WriteAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// WriteAt 写入子区间内 off 处, 超出区间末尾的写入整体失败, 不做隐式增长.
func (s *SubStream) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int64(len(p)) > s.length-off {
		return 0, errors.Wrapf(ErrOutOfRange,
			"write of %d bytes at %d exceeds sub-stream length %d", len(p), off, s.length)
	}
	if _, err := s.parent.Seek(s.start+off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.parent.Write(p)
}

// SetLength 子区间在构造时即固定.
func (s *SubStream) SetLength(int64) error {
	return errors.Wrap(ErrNotSupported, "sub-stream length is fixed")
}

func (s *SubStream) Flush() error {
	return s.parent.Flush()
}

func (s *SubStream) CanRead() bool  { return s.parent.CanRead() }
func (s *SubStream) CanWrite() bool { return s.parent.CanWrite() }
func (s *SubStream) CanSeek() bool  { return s.parent.CanSeek() }

func (s *SubStream) Close() error {
	if s.ownsParent {
		return s.parent.Close()
	}
	return nil
}
