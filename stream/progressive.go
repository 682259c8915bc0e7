package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/util"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/pkg/errors"
)

const _DefaultProgressiveChunkSize = 64 << 10

const _MaxProgressiveChunkSize = 64 << 20

// BufferState 渐进缓存流的缓冲状态.
type BufferState uint8

const (
	NotStarted BufferState = iota
	Buffering
	Completed
)

func (s BufferState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Buffering:
		return "Buffering"
	case Completed:
		return "Completed"
	default:
		return fmt.Sprintf("BufferState(%d)", uint8(s))
	}
}

type ProgressiveOption func(cfg *progressiveCfg)

type progressiveCfg struct {
	chunkSize int
	leaveOpen bool
	pool      BufferPool
}

// WithChunkSize 设置缓存块大小(默认64KiB, 上限为 _MaxProgressiveChunkSize).
func WithChunkSize(size int) ProgressiveOption {
	if size <= 0 {
		size = _DefaultProgressiveChunkSize
	}
	if size > _MaxProgressiveChunkSize {
		size = _MaxProgressiveChunkSize
	}
	return func(cfg *progressiveCfg) {
		cfg.chunkSize = size
	}
}

// WithLeaveOpen 为true时 Close 不关闭源流.
func WithLeaveOpen(leaveOpen bool) ProgressiveOption {
	return func(cfg *progressiveCfg) {
		cfg.leaveOpen = leaveOpen
	}
}

// WithChunkPool 设置缓存块的来源, 默认为 DefaultPool.
func WithChunkPool(pool BufferPool) ProgressiveOption {
	return func(cfg *progressiveCfg) {
		if pool != nil {
			cfg.pool = pool
		}
	}
}

// ProgressiveCachingStream 在只能顺序读取的源上提供随机读取.
// 数据按需从源拉取到定长的池化块中, 已缓存的区间不会再次从源读取.
// 只读, 不做内部加锁.
type ProgressiveCachingStream struct {
	src       io.Reader
	seeker    io.Seeker
	length    int64
	chunks    [][]byte
	buffered  int64
	completed bool
	pos       int64
	cfg       progressiveCfg
	closed    bool
}

// NewProgressiveCachingStream length 为源的声明长度; 小于0时通过源的 Length()、io.Seeker 或 Len() 获取.
// 源是否可寻址在构造时以 Seek(0, io.SeekCurrent) 判定一次, 管道等 Seek 失败的源按顺序源处理.
func NewProgressiveCachingStream(src io.Reader, length int64, options ...ProgressiveOption) (*ProgressiveCachingStream, error) {
	if src == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil source")
	}
	seeker := seekerOf(src)
	if length < 0 {
		var ok bool
		if length, ok = discoverLength(src, seeker); !ok {
			return nil, errors.Wrap(ErrInvalidArgument, "source length is unknown")
		}
	}
	ps := &ProgressiveCachingStream{src: src, seeker: seeker, length: length}
	ps.defaultCfgSetup()
	for _, opt := range options {
		opt(&ps.cfg)
	}
	if ps.length == 0 {
		ps.completed = true
	}
	return ps, nil
}

// seekerOf 源真正可寻址时返回它的 io.Seeker, 否则返回nil.
func seekerOf(src io.Reader) io.Seeker {
	s, ok := src.(io.Seeker)
	if !ok {
		return nil
	}
	if _, err := s.Seek(0, io.SeekCurrent); err != nil {
		logger.Debugf("NewProgressiveCachingStream source %T can not seek: %v", src, err)
		return nil
	}
	return s
}

// discoverLength 获取源的总长度. 可寻址的源取其末尾偏移并恢复原读写位置,
// 因为缓存总是从偏移0开始拉取; Len() 只表示剩余未读字节, 仅用于不可寻址的源.
func discoverLength(src io.Reader, seeker io.Seeker) (int64, bool) {
	if s, ok := src.(interface{ Length() int64 }); ok {
		return s.Length(), true
	}
	if seeker != nil {
		cur, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		end, err := seeker.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, false
		}
		if _, err = seeker.Seek(cur, io.SeekStart); err != nil {
			return 0, false
		}
		return end, true
	}
	if s, ok := src.(interface{ Len() int }); ok {
		return int64(s.Len()), true
	}
	return 0, false
}

func (ps *ProgressiveCachingStream) defaultCfgSetup() {
	ps.cfg.chunkSize = _DefaultProgressiveChunkSize
	ps.cfg.leaveOpen = false
	ps.cfg.pool = DefaultPool
}

func (ps *ProgressiveCachingStream) String() string {
	return fmt.Sprintf("<ProgressiveCachingStream(len=%s,buffered=%s,state=%s)>",
		humanize.IBytes(uint64(ps.length)), humanize.IBytes(uint64(ps.buffered)), ps.State())
}

// Buffered 已从源拉取的字节数, 单调不减.
func (ps *ProgressiveCachingStream) Buffered() int64 {
	return ps.buffered
}

func (ps *ProgressiveCachingStream) IsCompleted() bool {
	return ps.completed
}

func (ps *ProgressiveCachingStream) State() BufferState {
	switch {
	case ps.completed:
		return Completed
	case ps.buffered > 0:
		return Buffering
	default:
		return NotStarted
	}
}

// ChunkCount 当前持有的缓存块数量.
func (ps *ProgressiveCachingStream) ChunkCount() int {
	return len(ps.chunks)
}

func (ps *ProgressiveCachingStream) ChunkSize() int {
	return ps.cfg.chunkSize
}

// EnsureBuffered 保证 [0, target) 已被缓存.
func (ps *ProgressiveCachingStream) EnsureBuffered(target int64) error {
	return ps.EnsureBufferedContext(context.Background(), target)
}

// EnsureBufferedContext 同 EnsureBuffered, 每次从源读取前检查 ctx.
// 取消时已缓存的数据保持有效.
func (ps *ProgressiveCachingStream) EnsureBufferedContext(ctx context.Context, target int64) error {
	if ps.closed {
		return ErrClosed
	}
	if ps.completed || target <= ps.buffered {
		if target > ps.buffered {
			return errors.Wrapf(io.ErrUnexpectedEOF,
				"source ended at %d, %d bytes requested", ps.buffered, target)
		}
		return nil
	}
	chunkSize := int64(ps.cfg.chunkSize)

	for ps.buffered < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := ps.buffered / chunkSize
		inChunk := ps.buffered % chunkSize
		if idx == int64(len(ps.chunks)) {
			ps.chunks = append(ps.chunks, ps.cfg.pool.Get(int(chunkSize)))
		}
		want := util.Min64(chunkSize-inChunk, ps.length-ps.buffered)

		if ps.seeker != nil {
			if _, err := ps.seeker.Seek(ps.buffered, io.SeekStart); err != nil {
				return errors.Wrapf(err, "seek source to %d", ps.buffered)
			}
		}
		n, err := ps.src.Read(ps.chunks[idx][inChunk : inChunk+want])
		if n > 0 {
			ps.buffered += int64(n)
			if ps.buffered == ps.length {
				ps.completed = true
			}
		}
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "read source at %d", ps.buffered-int64(n))
		}
		if n == 0 {
			ps.completed = true
			logger.Warnf("%s.EnsureBuffered source ended before declared length", ps.String())
			return errors.Wrapf(io.ErrUnexpectedEOF,
				"source ended at %d, declared length %d", ps.buffered, ps.length)
		}
	}
	return nil
}

func (ps *ProgressiveCachingStream) Length() int64 {
	return ps.length
}

func (ps *ProgressiveCachingStream) Position() int64 {
	return ps.pos
}

func (ps *ProgressiveCachingStream) Seek(offset int64, whence int) (int64, error) {
	if ps.closed {
		return 0, ErrClosed
	}
	abs, err := resolveSeek(offset, whence, ps.pos, ps.length)
	if err != nil {
		return 0, err
	}
	if abs < 0 || abs > ps.length {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d outside [0,%d]", abs, ps.length)
	}
	if err = ps.EnsureBuffered(abs); err != nil {
		return 0, err
	}
	ps.pos = abs
	return abs, nil
}

func (ps *ProgressiveCachingStream) Read(p []byte) (int, error) {
	return ps.ReadContext(context.Background(), p)
}

// ReadContext 同 Read, 缓冲过程中响应 ctx 取消.
func (ps *ProgressiveCachingStream) ReadContext(ctx context.Context, p []byte) (int, error) {
	n, err := ps.readAt(ctx, p, ps.pos)
	ps.pos += int64(n)
	return n, err
}

// ReadAt 读取 off 处的数据, 不改变当前位置.
func (ps *ProgressiveCachingStream) ReadAt(p []byte, off int64) (int, error) {
	n, err := ps.readAt(context.Background(), p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (ps *ProgressiveCachingStream) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	if ps.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	maxWanted := util.Min64(off+int64(len(p)), ps.length)
	if off >= maxWanted {
		return 0, io.EOF
	}
	if err := ps.EnsureBufferedContext(ctx, maxWanted); err != nil {
		return 0, err
	}
	return ps.copyOut(p, off, maxWanted), nil
}

// copyOut 把缓存中 [from, to) 复制到 p, 可能跨越多个块.
func (ps *ProgressiveCachingStream) copyOut(p []byte, from, to int64) int {
	chunkSize := int64(ps.cfg.chunkSize)
	total := 0
	for off := from; off < to; {
		idx := off / chunkSize
		inChunk := off % chunkSize
		end := util.Min64(chunkSize, inChunk+(to-off))
		n := copy(p[total:], ps.chunks[idx][inChunk:end])
		total += n
		off += int64(n)
	}
	return total
}

func (ps *ProgressiveCachingStream) Write([]byte) (int, error) {
	return 0, errors.Wrap(ErrNotSupported, "progressive caching stream is read-only")
}

func (ps *ProgressiveCachingStream) SetLength(int64) error {
	return errors.Wrap(ErrNotSupported, "progressive caching stream is read-only")
}

func (ps *ProgressiveCachingStream) Flush() error { return nil }

func (ps *ProgressiveCachingStream) CanRead() bool  { return !ps.closed }
func (ps *ProgressiveCachingStream) CanWrite() bool { return false }
func (ps *ProgressiveCachingStream) CanSeek() bool  { return !ps.closed }

// Close 归还全部缓存块, 并在未设置 leaveOpen 时关闭源.
func (ps *ProgressiveCachingStream) Close() error {
	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, c := range ps.chunks {
		ps.cfg.pool.Put(c)
	}
	ps.chunks = nil
	if c, ok := ps.src.(io.Closer); ok && !ps.cfg.leaveOpen {
		return c.Close()
	}
	return nil
}
