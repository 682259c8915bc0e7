// Package sparse 提供按定长块稀疏存储的内存缓冲区.
//
// 从未写入(或写入全0)的块不占用内存, 读取时视为0. 适合在内存中物化
// 大而稀疏的磁盘镜像.
package sparse

import (
	"io"
	"sort"

	"github.com/pkg/errors"
)

const DefaultChunkSize = 1 << 20

// Buffer 稀疏内存缓冲区, 实现 io.ReaderAt / io.WriterAt. 非并发安全.
type Buffer struct {
	chunkSize int64
	chunks    map[int64][]byte
	size      int64
}

func NewBuffer(chunkSize int) *Buffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{chunkSize: int64(chunkSize), chunks: make(map[int64][]byte)}
}

// Size 缓冲区的逻辑大小.
func (b *Buffer) Size() int64 {
	return b.size
}

func (b *Buffer) ChunkSize() int {
	return int(b.chunkSize)
}

// AllocatedChunks 实际占用内存的块数量.
func (b *Buffer) AllocatedChunks() int {
	return len(b.chunks)
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if off >= b.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > b.size {
		want = b.size - off
	}
	var total int64
	for total < want {
		cur := off + total
		idx, in := cur/b.chunkSize, cur%b.chunkSize
		n := b.chunkSize - in
		if n > want-total {
			n = want - total
		}
		dst := p[total : total+n]
		if c, ok := b.chunks[idx]; ok {
			copy(dst, c[in:in+n])
		} else {
			for i := range dst {
				dst[i] = 0
			}
		}
		total += n
	}
	if total < int64(len(p)) {
		return int(total), io.EOF
	}
	return int(total), nil
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	var total int64
	want := int64(len(p))
	for total < want {
		cur := off + total
		idx, in := cur/b.chunkSize, cur%b.chunkSize
		n := b.chunkSize - in
		if n > want-total {
			n = want - total
		}
		src := p[total : total+n]
		c, ok := b.chunks[idx]
		if !ok {
			if isZero(src) {
				total += n
				continue
			}
			c = make([]byte, b.chunkSize)
			b.chunks[idx] = c
		}
		copy(c[in:], src)
		total += n
	}
	if end := off + want; end > b.size {
		b.size = end
	}
	return int(total), nil
}

// ReadFrom 从 r 顺序读取直到 EOF, 追加到缓冲区末尾. 全0块不分配内存.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, b.chunkSize)
	var total int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := b.WriteAt(buf[:n], b.size); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Truncate 调整逻辑大小. 缩小时丢弃超出部分, 之后再扩大读到的是0.
func (b *Buffer) Truncate(n int64) error {
	if n < 0 {
		return errors.Errorf("negative size %d", n)
	}
	if n < b.size {
		for idx, c := range b.chunks {
			start := idx * b.chunkSize
			switch {
			case start >= n:
				delete(b.chunks, idx)
			case start+b.chunkSize > n:
				for i := n - start; i < b.chunkSize; i++ {
					c[i] = 0
				}
			}
		}
	}
	b.size = n
	return nil
}

// Find 返回 ofs 处或之后第一段已分配数据的起始偏移和长度, 没有更多数据时返回 io.EOF.
func (b *Buffer) Find(ofs int64) (int64, int64, error) {
	if ofs < 0 {
		ofs = 0
	}
	idxs := make([]int64, 0, len(b.chunks))
	for idx := range b.chunks {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

	for i := 0; i < len(idxs); i++ {
		start := idxs[i] * b.chunkSize
		end := start + b.chunkSize
		// 合并相邻块.
		for i+1 < len(idxs) && idxs[i+1] == idxs[i]+1 {
			i++
			end += b.chunkSize
		}
		if end > b.size {
			end = b.size
		}
		if end <= ofs {
			continue
		}
		if start < ofs {
			start = ofs
		}
		return start, end - start, nil
	}
	return 0, 0, io.EOF
}

func isZero(p []byte) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}
