package stream

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// CombinedMemoryStream 将多个不可变字节缓冲区首尾相接为一个只读流.
// 可扩展时, 在末尾写入会以写入内容的副本追加一个新缓冲区.
type CombinedMemoryStream struct {
	extents    extentList[[]byte]
	pos        int64
	cur        int
	extendable bool
	closed     bool
}

func NewCombinedMemoryStream(extendable bool, buffers ...[]byte) (*CombinedMemoryStream, error) {
	cm := &CombinedMemoryStream{extendable: extendable}
	for _, b := range buffers {
		if err := cm.AddMemory(b); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

func (cm *CombinedMemoryStream) String() string {
	return fmt.Sprintf("<CombinedMemoryStream(buffers=%d,len=%s)>",
		cm.extents.count(), humanize.IBytes(uint64(cm.Length())))
}

// AddMemory 在末尾追加缓冲区(不复制, 调用方不得再修改). 空缓冲区被忽略.
func (cm *CombinedMemoryStream) AddMemory(b []byte) error {
	if cm.closed {
		return ErrClosed
	}
	if _, err := cm.extents.add(b, int64(len(b))); err != nil {
		return errors.Wrapf(err, "add buffer #%d", cm.extents.count())
	}
	cm.cur = cm.extents.find(cm.pos)
	return nil
}

func (cm *CombinedMemoryStream) BufferCount() int {
	return cm.extents.count()
}

func (cm *CombinedMemoryStream) Length() int64 {
	return cm.extents.length()
}

func (cm *CombinedMemoryStream) Position() int64 {
	return cm.pos
}

// PhysicalPosition 返回当前位置在所在缓冲区内的偏移; 位于末尾时返回最后一个缓冲区的长度.
func (cm *CombinedMemoryStream) PhysicalPosition() int64 {
	n := cm.extents.count()
	if cm.cur < n {
		return cm.pos - cm.extents.start(cm.cur)
	}
	if n == 0 {
		return 0
	}
	return cm.extents.size(n - 1)
}

func (cm *CombinedMemoryStream) Seek(offset int64, whence int) (int64, error) {
	if cm.closed {
		return 0, ErrClosed
	}
	abs, err := resolveSeek(offset, whence, cm.pos, cm.Length())
	if err != nil {
		return 0, err
	}
	if abs < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d", abs)
	}
	cm.pos = abs
	cm.cur = cm.extents.find(abs)
	return abs, nil
}

func (cm *CombinedMemoryStream) Read(p []byte) (int, error) {
	if cm.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) && cm.cur < cm.extents.count() {
		it := cm.extents.items[cm.cur]
		buf := it.child
		off := int64(len(buf)) - (it.end - cm.pos)
		n := copy(p[total:], buf[off:])
		total += n
		cm.pos += int64(n)
		cm.cur = cm.extents.find(cm.pos)
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (cm *CombinedMemoryStream) Write(p []byte) (int, error) {
	if cm.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !cm.extendable {
		return 0, errors.Wrap(ErrNotSupported, "combined memory stream is read-only")
	}
	if cm.pos != cm.Length() {
		if cm.pos > cm.Length() {
			return 0, errors.Wrapf(ErrEndOfStream, "position %d, length %d", cm.pos, cm.Length())
		}
		return 0, errors.Wrap(ErrNotSupported, "buffers are immutable, only writes at end are allowed")
	}
	b := make([]byte, len(p))
	copy(b, p)
	if err := cm.AddMemory(b); err != nil {
		return 0, err
	}
	_, err := cm.Seek(int64(len(b)), io.SeekCurrent)
	return len(b), err
}

func (cm *CombinedMemoryStream) SetLength(int64) error {
	return errors.Wrap(ErrNotSupported, "combined memory stream length is defined by its buffers")
}

func (cm *CombinedMemoryStream) Flush() error { return nil }

func (cm *CombinedMemoryStream) CanRead() bool  { return !cm.closed }
func (cm *CombinedMemoryStream) CanWrite() bool { return !cm.closed && cm.extendable }
func (cm *CombinedMemoryStream) CanSeek() bool  { return !cm.closed }

func (cm *CombinedMemoryStream) Close() error {
	cm.closed = true
	cm.extents.items = nil
	return nil
}
