package stream

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ChunkFactory 为可扩展组合流在末尾写入时创建新的后备块.
type ChunkFactory func(size int64) (Stream, error)

type CombinedOption func(cfg *combinedCfg)

type combinedCfg struct {
	extendable   bool
	chunkFactory ChunkFactory
	closeWorkers int
}

// WithExtendable 允许在流末尾写入时追加新的后备块.
func WithExtendable(extendable bool) CombinedOption {
	return func(cfg *combinedCfg) {
		cfg.extendable = extendable
	}
}

// WithChunkFactory 设置追加块的创建方式, 默认为 MemoryStream.
func WithChunkFactory(f ChunkFactory) CombinedOption {
	return func(cfg *combinedCfg) {
		if f != nil {
			cfg.chunkFactory = f
		}
	}
}

// WithCloseWorkers 设置并发关闭子流的协程数(默认为 runtime.NumCPU()).
func WithCloseWorkers(n int) CombinedOption {
	return func(cfg *combinedCfg) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		cfg.closeWorkers = n
	}
}

func memoryChunkFactory(size int64) (Stream, error) {
	return NewMemoryStream(make([]byte, 0, size), true), nil
}

// CombinedSeekStream 将多个有序子流首尾相接为一个逻辑连续的流, 典型用于多段RAW镜像(.001, .002, ...).
//
// 子流在组合期间必须保持长度不变. 当前实现以二分查找定位子流.
type CombinedSeekStream struct {
	extents extentList[Stream]
	pos     int64
	cur     int
	cfg     combinedCfg
	closed  bool
}

func NewCombinedSeekStream(options ...CombinedOption) *CombinedSeekStream {
	cs := &CombinedSeekStream{}
	cs.defaultCfgSetup()
	for _, opt := range options {
		opt(&cs.cfg)
	}
	return cs
}

func (cs *CombinedSeekStream) defaultCfgSetup() {
	cs.cfg.extendable = false
	cs.cfg.chunkFactory = memoryChunkFactory
	cs.cfg.closeWorkers = runtime.NumCPU()
}

func (cs *CombinedSeekStream) String() string {
	return fmt.Sprintf("<CombinedSeekStream(children=%d,len=%s,extendable=%v)>",
		cs.extents.count(), humanize.IBytes(uint64(cs.Length())), cs.cfg.extendable)
}

// Extendable 报告是否允许末尾写入时追加后备块.
func (cs *CombinedSeekStream) Extendable() bool {
	return cs.cfg.extendable
}

// AddStream 在当前逻辑末尾追加子流. 子流必须可读且可寻址, 长度为0的子流被忽略.
func (cs *CombinedSeekStream) AddStream(child Stream) error {
	if cs.closed {
		return ErrClosed
	}
	if child == nil || !child.CanRead() || !child.CanSeek() {
		return errors.Wrap(ErrInvalidArgument, "child stream must be readable and seekable")
	}
	added, err := cs.extents.add(child, child.Length())
	if err != nil {
		return errors.Wrapf(err, "add child #%d", cs.extents.count())
	}
	if !added {
		logger.Debugf("%s.AddStream skip zero-length child", cs.String())
		return nil
	}
	// 新子流可能覆盖当前位置.
	_, err = cs.Seek(cs.pos, io.SeekStart)
	return err
}

// Children 按地址顺序返回全部子流.
func (cs *CombinedSeekStream) Children() []Stream {
	return cs.extents.children()
}

func (cs *CombinedSeekStream) ChildCount() int {
	return cs.extents.count()
}

// CurrentChild 返回当前位置所在子流的下标, 位于末尾及之后时返回 ChildCount().
func (cs *CombinedSeekStream) CurrentChild() int {
	return cs.cur
}

func (cs *CombinedSeekStream) Length() int64 {
	return cs.extents.length()
}

func (cs *CombinedSeekStream) Position() int64 {
	return cs.pos
}

// PhysicalPosition 返回当前位置在所在子流内的偏移; 位于末尾时返回最后一个子流的长度.
func (cs *CombinedSeekStream) PhysicalPosition() int64 {
	n := cs.extents.count()
	if cs.cur < n {
		return cs.pos - cs.extents.start(cs.cur)
	}
	if n == 0 {
		return 0
	}
	return cs.extents.size(n - 1)
}

// Locate 返回逻辑偏移 pos 所在子流的下标及子流内偏移, 不改变当前位置.
// pos 位于末尾及之后时下标为 ChildCount().
func (cs *CombinedSeekStream) Locate(pos int64) (int, int64) {
	idx := cs.extents.find(pos)
	if idx < cs.extents.count() {
		return idx, pos - cs.extents.start(idx)
	}
	return idx, pos - cs.Length()
}

func (cs *CombinedSeekStream) Seek(offset int64, whence int) (int64, error) {
	if cs.closed {
		return 0, ErrClosed
	}
	abs, err := resolveSeek(offset, whence, cs.pos, cs.Length())
	if err != nil {
		return 0, err
	}
	if abs < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d", abs)
	}
	idx := cs.extents.find(abs)
	if idx < cs.extents.count() {
		it := cs.extents.items[idx]
		childLen := cs.extents.size(idx)
		if _, err = it.child.Seek(childLen-(it.end-abs), io.SeekStart); err != nil {
			return 0, errors.Wrapf(err, "seek child #%d", idx)
		}
	}
	cs.cur = idx
	cs.pos = abs
	return abs, nil
}

func (cs *CombinedSeekStream) Read(p []byte) (int, error) {
	if cs.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) && cs.cur < cs.extents.count() {
		it := cs.extents.items[cs.cur]
		want := int64(len(p) - total)
		if remain := it.end - cs.pos; want > remain {
			want = remain
		}
		n, err := it.child.Read(p[total : total+int(want)])
		if n > 0 {
			total += n
			if _, serr := cs.Seek(int64(n), io.SeekCurrent); serr != nil {
				return total, serr
			}
		}
		if err != nil && err != io.EOF {
			return total, errors.Wrapf(err, "read child #%d", cs.cur)
		}
		if n == 0 {
			break
		}
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (cs *CombinedSeekStream) Write(p []byte) (int, error) {
	if cs.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	total := 0
	for total < len(p) {
		if cs.pos == cs.Length() && cs.cfg.extendable {
			n, err := cs.appendChunk(p[total:])
			return total + n, err
		}
		if cs.cur >= cs.extents.count() {
			return total, errors.Wrapf(ErrEndOfStream, "position %d, length %d", cs.pos, cs.Length())
		}
		it := cs.extents.items[cs.cur]
		want := int64(len(p) - total)
		if remain := it.end - cs.pos; want > remain {
			want = remain
		}
		n, err := it.child.Write(p[total : total+int(want)])
		if n > 0 {
			total += n
			if _, serr := cs.Seek(int64(n), io.SeekCurrent); serr != nil {
				return total, serr
			}
		}
		if err != nil {
			return total, errors.Wrapf(err, "write child #%d", cs.cur)
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// appendChunk 在末尾新建后备块并写入 p, 已有子流不会被延长.
func (cs *CombinedSeekStream) appendChunk(p []byte) (int, error) {
	chunk, err := cs.cfg.chunkFactory(int64(len(p)))
	if err != nil {
		return 0, errors.Wrap(err, "create chunk")
	}
	if err = writeFull(chunk, p); err != nil {
		_ = chunk.Close()
		return 0, errors.Wrap(err, "fill chunk")
	}
	if _, err = cs.extents.add(chunk, int64(len(p))); err != nil {
		_ = chunk.Close()
		return 0, err
	}
	logger.Debugf("%s.Write appended chunk of %d bytes at %d", cs.String(), len(p), cs.pos)
	if _, err = cs.Seek(int64(len(p)), io.SeekCurrent); err != nil {
		return len(p), err
	}
	return len(p), nil
}

func (cs *CombinedSeekStream) SetLength(int64) error {
	return errors.Wrap(ErrNotSupported, "combined stream length is defined by its children")
}

func (cs *CombinedSeekStream) Flush() error {
	var errs error
	for i, it := range cs.extents.items {
		if err := it.child.Flush(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "flush child #%d", i))
		}
	}
	return errs
}

func (cs *CombinedSeekStream) CanRead() bool { return !cs.closed }

func (cs *CombinedSeekStream) CanWrite() bool {
	if cs.closed {
		return false
	}
	if cs.cfg.extendable {
		return true
	}
	if cs.extents.count() == 0 {
		return false
	}
	for _, it := range cs.extents.items {
		if !it.child.CanWrite() {
			return false
		}
	}
	return true
}

func (cs *CombinedSeekStream) CanSeek() bool { return !cs.closed }

type closeTask struct {
	idx   int
	child Stream
}

// Close 并发关闭全部子流. 某个子流关闭失败不影响其余子流, 所有错误合并返回.
func (cs *CombinedSeekStream) Close() error {
	if cs.closed {
		return nil
	}
	cs.closed = true
	children := cs.extents.children()
	cs.extents.items = nil
	if len(children) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs error
	)
	closeOne := func(t closeTask) {
		if err := t.child.Close(); err != nil {
			logger.Warnf("%s.Close child #%d: %v", cs.String(), t.idx, err)
			mu.Lock()
			errs = multierr.Append(errs, errors.Wrapf(err, "close child #%d", t.idx))
			mu.Unlock()
		}
	}

	workers := cs.cfg.closeWorkers
	if workers > len(children) {
		workers = len(children)
	}
	pool, err := ants.NewPoolWithFunc(workers, func(i interface{}) {
		defer wg.Done()
		closeOne(i.(closeTask))
	})
	if err != nil {
		logger.Warnf("%s.Close falls back to sequential close: %v", cs.String(), err)
		for i, c := range children {
			closeOne(closeTask{idx: i, child: c})
		}
		return errs
	}
	defer pool.Release()

	for i, c := range children {
		wg.Add(1)
		if e := pool.Invoke(closeTask{idx: i, child: c}); e != nil {
			wg.Done()
			closeOne(closeTask{idx: i, child: c})
		}
	}
	wg.Wait()
	return errs
}
