package stream

import (
	"math/bits"
	"sync"
)

// BufferPool 定长缓冲区的租借/归还. 实现必须是并发安全的.
type BufferPool interface {
	// Get 返回长度为 size 的缓冲区, 内容未定义.
	Get(size int) []byte
	// Put 归还由 Get 返回的缓冲区.
	Put(b []byte)
}

const (
	_MinPooledBufferShift = 9  // 512B
	_MaxPooledBufferShift = 26 // 64MiB
)

// DefaultPool 进程级共享的缓冲池.
var DefaultPool BufferPool = NewBucketPool()

// BucketPool 按2的幂分桶的 sync.Pool 集合. 超出分桶范围的请求直接分配, 归还时丢弃.
type BucketPool struct {
	buckets [_MaxPooledBufferShift + 1]sync.Pool
}

func NewBucketPool() *BucketPool {
	bp := &BucketPool{}
	for i := _MinPooledBufferShift; i <= _MaxPooledBufferShift; i++ {
		size := 1 << uint(i)
		bp.buckets[i].New = func() interface{} {
			b := make([]byte, size)
			return &b
		}
	}
	return bp
}

func bucketOf(size int) int {
	if size <= 1<<_MinPooledBufferShift {
		return _MinPooledBufferShift
	}
	return bits.Len(uint(size - 1))
}

func (bp *BucketPool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	shift := bucketOf(size)
	if shift > _MaxPooledBufferShift {
		return make([]byte, size)
	}
	b := bp.buckets[shift].Get().(*[]byte)
	return (*b)[:size]
}

func (bp *BucketPool) Put(b []byte) {
	c := cap(b)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	shift := bits.Len(uint(c)) - 1
	if shift < _MinPooledBufferShift || shift > _MaxPooledBufferShift {
		return
	}
	b = b[:c]
	bp.buckets[shift].Put(&b)
}
