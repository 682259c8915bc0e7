package stream

import (
	"github.com/kisun-bit/imgstream/util"
	"github.com/pkg/errors"
)

var (
	// ErrNotSupported 流不支持该操作(如 SubStream.SetLength, 只读流写入).
	ErrNotSupported = errors.New("operation not supported")
	// ErrOutOfRange 位置或读写区间越界.
	ErrOutOfRange = errors.New("offset out of range")
	// ErrInvalidArgument 构造参数或调用参数不合法.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEndOfStream 在不可扩展流的末尾之后写入.
	ErrEndOfStream = errors.New("attempted to write past end of stream")
	// ErrClosed 流已关闭.
	ErrClosed = errors.New("stream closed")
	// ErrOverflow 同 util.ErrOverflow, 便于调用方只依赖本包.
	ErrOverflow = util.ErrOverflow
)
