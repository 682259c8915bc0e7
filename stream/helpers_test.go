package stream

import (
	"io"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// createDummyBuf 生成 size 字节、内容为 [0...254] 循环的数据.
func createDummyBuf(size int64) []byte {
	buf := make([]byte, size)
	for i := int64(0); i < size; i++ {
		buf[i] = byte(i % 255)
	}
	return buf
}

type ioCall struct {
	off  int64
	size int
}

// countingStream 记录底层每一次 Read/Write 的偏移与长度.
type countingStream struct {
	Stream
	reads  []ioCall
	writes []ioCall
}

func (c *countingStream) Read(p []byte) (int, error) {
	c.reads = append(c.reads, ioCall{off: c.Position(), size: len(p)})
	return c.Stream.Read(p)
}

func (c *countingStream) Write(p []byte) (int, error) {
	c.writes = append(c.writes, ioCall{off: c.Position(), size: len(p)})
	return c.Stream.Write(p)
}

// chunkedReader 不可寻址的源, 每次最多返回 max 字节.
type chunkedReader struct {
	data   []byte
	off    int
	max    int
	reads  int
	closed bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	c.reads++
	if c.off >= len(c.data) {
		return 0, io.EOF
	}
	n := len(p)
	if n > c.max {
		n = c.max
	}
	if rem := len(c.data) - c.off; n > rem {
		n = rem
	}
	copy(p, c.data[c.off:c.off+n])
	c.off += n
	return n, nil
}

func (c *chunkedReader) Close() error {
	c.closed = true
	return nil
}

// countingPool 统计租借与归还次数.
type countingPool struct {
	inner BufferPool
	gets  int64
	puts  int64
}

func newCountingPool() *countingPool {
	return &countingPool{inner: NewBucketPool()}
}

func (c *countingPool) Get(size int) []byte {
	atomic.AddInt64(&c.gets, 1)
	return c.inner.Get(size)
}

func (c *countingPool) Put(b []byte) {
	atomic.AddInt64(&c.puts, 1)
	c.inner.Put(b)
}

// newPipeSource 返回一个管道读端, 后台写入 data 后关闭写端.
// 管道实现了 io.Seeker, 但任何 Seek 都会失败.
func newPipeSource(t *testing.T, data []byte) *os.File {
	r, w, err := os.Pipe()
	require.Nil(t, err)
	go func() {
		_, _ = w.Write(data)
		_ = w.Close()
	}()
	t.Cleanup(func() { _ = r.Close() })
	return r
}
