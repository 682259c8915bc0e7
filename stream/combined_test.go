package stream

import (
	"bytes"
	"io"
	"io/ioutil"
	"math"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newCombined(t *testing.T, flat []byte, sizes ...int) *CombinedSeekStream {
	cs := NewCombinedSeekStream()
	off := 0
	for _, s := range sizes {
		part := append([]byte(nil), flat[off:off+s]...)
		require.Nil(t, cs.AddStream(NewMemoryStream(part, true)))
		off += s
	}
	return cs
}

func TestCombinedAddressing(t *testing.T) {
	l1, l2, l3 := 7, 11, 13
	flat := createDummyBuf(int64(l1 + l2 + l3))

	for k := 1; k <= 14; k++ {
		cs := newCombined(t, flat, l1, l2, l3)
		start := int64(l1 + l2 - 1)
		_, err := cs.Seek(start, io.SeekStart)
		require.Nil(t, err)
		require.Equal(t, 1, cs.CurrentChild())

		buf := make([]byte, k)
		n, err := io.ReadFull(cs, buf)
		require.Nil(t, err)
		require.Equal(t, k, n)
		require.Equal(t, flat[start:start+int64(k)], buf)
	}
}

func TestCombinedReadAll(t *testing.T) {
	flat := createDummyBuf(1000)
	cs := newCombined(t, flat, 100, 1, 499, 400)
	require.Equal(t, int64(1000), cs.Length())

	got, err := ioutil.ReadAll(cs)
	require.Nil(t, err)
	require.Equal(t, flat, got)
	require.Equal(t, int64(400), cs.PhysicalPosition())
}

func TestCombinedBoundarySelectsNextChild(t *testing.T) {
	flat := createDummyBuf(30)
	cs := newCombined(t, flat, 10, 20)

	_, err := cs.Seek(10, io.SeekStart)
	require.Nil(t, err)
	require.Equal(t, 1, cs.CurrentChild())
	require.Equal(t, int64(0), cs.PhysicalPosition())

	_, err = cs.Seek(9, io.SeekStart)
	require.Nil(t, err)
	require.Equal(t, 0, cs.CurrentChild())
	require.Equal(t, int64(9), cs.PhysicalPosition())

	n, err := cs.Write([]byte{0xAA, 0xBB})
	require.Nil(t, err)
	require.Equal(t, 2, n)
	children := cs.Children()
	require.Equal(t, byte(0xAA), children[0].(*MemoryStream).Bytes()[9])
	require.Equal(t, byte(0xBB), children[1].(*MemoryStream).Bytes()[0])
}

func TestCombinedRawSegmentsRoundTrip(t *testing.T) {
	flat := createDummyBuf(35)

	cs := newCombined(t, flat, 10, 20, 5)
	_, err := cs.Seek(28, io.SeekStart)
	require.Nil(t, err)
	buf := make([]byte, 10)
	n, err := cs.Read(buf)
	require.Nil(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, flat[28:35], buf[:n])

	cm, err := NewCombinedMemoryStream(false, flat[:10], flat[10:30], flat[30:35])
	require.Nil(t, err)
	_, err = cm.Seek(28, io.SeekStart)
	require.Nil(t, err)
	n, err = cm.Read(buf)
	require.Nil(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, flat[28:35], buf[:n])

	n, err = cm.Read(buf)
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)
}

func TestCombinedExtendOnWrite(t *testing.T) {
	cs := NewCombinedSeekStream(WithExtendable(true))
	payload := createDummyBuf(100)

	n, err := cs.Write(payload)
	require.Nil(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, int64(100), cs.Length())
	require.Equal(t, 1, cs.ChildCount())
	require.Equal(t, int64(100), cs.Children()[0].Length())

	_, err = cs.Write(payload[:30])
	require.Nil(t, err)
	require.Equal(t, 2, cs.ChildCount())
	require.Equal(t, int64(100), cs.Children()[0].Length())
	require.Equal(t, int64(30), cs.Children()[1].Length())

	_, err = cs.Seek(0, io.SeekStart)
	require.Nil(t, err)
	got, err := ioutil.ReadAll(cs)
	require.Nil(t, err)
	require.Equal(t, append(append([]byte(nil), payload...), payload[:30]...), got)

	// 跨越末尾的写入: 已有部分原地覆盖, 剩余部分追加为新块.
	_, err = cs.Seek(120, io.SeekStart)
	require.Nil(t, err)
	_, err = cs.Write(bytes.Repeat([]byte{1}, 20))
	require.Nil(t, err)
	require.Equal(t, int64(140), cs.Length())
	require.Equal(t, 3, cs.ChildCount())
}

func TestCombinedFixedWritePastEnd(t *testing.T) {
	flat := createDummyBuf(20)
	cs := newCombined(t, flat, 10, 10)

	_, err := cs.Seek(20, io.SeekStart)
	require.Nil(t, err)
	_, err = cs.Write([]byte{1})
	require.True(t, errors.Is(err, ErrEndOfStream))

	_, err = cs.Seek(18, io.SeekStart)
	require.Nil(t, err)
	n, err := cs.Write([]byte{1, 2, 3, 4})
	require.Equal(t, 2, n)
	require.True(t, errors.Is(err, ErrEndOfStream))
	require.Equal(t, int64(20), cs.Length())

	cm, err := NewCombinedMemoryStream(false, flat)
	require.Nil(t, err)
	_, err = cm.Write([]byte{1})
	require.True(t, errors.Is(err, ErrNotSupported))
}

func TestCombinedMemoryExtend(t *testing.T) {
	cm, err := NewCombinedMemoryStream(true)
	require.Nil(t, err)
	src := []byte("hello")
	_, err = cm.Write(src)
	require.Nil(t, err)
	src[0] = 'j'
	_, err = cm.Write([]byte(" world"))
	require.Nil(t, err)
	require.Equal(t, 2, cm.BufferCount())

	_, err = cm.Seek(0, io.SeekStart)
	require.Nil(t, err)
	got, err := ioutil.ReadAll(cm)
	require.Nil(t, err)
	require.Equal(t, "hello world", string(got))

	_, err = cm.Seek(1, io.SeekStart)
	require.Nil(t, err)
	_, err = cm.Write([]byte{1})
	require.True(t, errors.Is(err, ErrNotSupported))
}

type nonSeekable struct {
	*MemoryStream
}

func (nonSeekable) CanSeek() bool { return false }

func TestCombinedAddStreamValidation(t *testing.T) {
	cs := NewCombinedSeekStream()
	err := cs.AddStream(nonSeekable{NewMemoryStream([]byte{1}, false)})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	require.Nil(t, cs.AddStream(NewMemoryStream(nil, false)))
	require.Equal(t, 0, cs.ChildCount())
	require.Equal(t, int64(0), cs.PhysicalPosition())
}

type closeTracker struct {
	*MemoryStream
	closed *int32
	err    error
}

func (c closeTracker) Close() error {
	atomic.AddInt32(c.closed, 1)
	return c.err
}

func TestCombinedCloseIsBestEffort(t *testing.T) {
	var closed int32
	cs := NewCombinedSeekStream(WithCloseWorkers(2))
	for i := 0; i < 5; i++ {
		var err error
		if i == 1 || i == 3 {
			err = errors.Errorf("child %d broken", i)
		}
		require.Nil(t, cs.AddStream(closeTracker{
			MemoryStream: NewMemoryStream(createDummyBuf(10), false),
			closed:       &closed,
			err:          err,
		}))
	}

	err := cs.Close()
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "child 1 broken")
	require.Contains(t, err.Error(), "child 3 broken")
	require.Equal(t, int32(5), atomic.LoadInt32(&closed))

	require.Nil(t, cs.Close())
	_, err = cs.Read(make([]byte, 1))
	require.True(t, errors.Is(err, ErrClosed))
}

func TestCombinedLocate(t *testing.T) {
	flat := createDummyBuf(30)
	cs := newCombined(t, flat, 10, 20)
	_, err := cs.Seek(5, io.SeekStart)
	require.Nil(t, err)

	idx, off := cs.Locate(10)
	require.Equal(t, 1, idx)
	require.Equal(t, int64(0), off)
	idx, off = cs.Locate(9)
	require.Equal(t, 0, idx)
	require.Equal(t, int64(9), off)
	idx, _ = cs.Locate(30)
	require.Equal(t, 2, idx)

	require.Equal(t, int64(5), cs.Position())
	require.Equal(t, 0, cs.CurrentChild())
}

// hugeStream 声称自己长度为 math.MaxInt64.
type hugeStream struct {
	*MemoryStream
}

func (hugeStream) Length() int64 { return math.MaxInt64 }

func TestCombinedAddStreamOverflow(t *testing.T) {
	cs := NewCombinedSeekStream()
	require.Nil(t, cs.AddStream(NewMemoryStream(createDummyBuf(10), false)))

	err := cs.AddStream(hugeStream{NewMemoryStream(nil, false)})
	require.True(t, errors.Is(err, ErrOverflow))
	require.Equal(t, 1, cs.ChildCount())
	require.Equal(t, int64(10), cs.Length())

	var l extentList[[]byte]
	_, err = l.add([]byte{1}, math.MaxInt64)
	require.Nil(t, err)
	_, err = l.add([]byte{2}, 1)
	require.True(t, errors.Is(err, ErrOverflow))
	require.Equal(t, 1, l.count())
	require.Equal(t, int64(math.MaxInt64), l.length())
}

func TestCombinedReadPastEnd(t *testing.T) {
	data := createDummyBuf(30)
	cs := newCombined(t, data, 10, 20)
	pos, err := cs.Seek(100, io.SeekStart)
	require.Nil(t, err)
	require.Equal(t, int64(100), pos)
	n, err := cs.Read(make([]byte, 8))
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)

	cm, err := NewCombinedMemoryStream(false, data[:10], data[10:])
	require.Nil(t, err)
	_, err = cm.Seek(31, io.SeekStart)
	require.Nil(t, err)
	n, err = cm.Read(make([]byte, 8))
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)
}
