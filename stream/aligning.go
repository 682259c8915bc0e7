package stream

import (
	"fmt"
	"io"

	"github.com/kisun-bit/imgstream/util"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/pkg/errors"
)

type AligningOption func(cfg *aligningCfg)

type aligningCfg struct {
	ownsBase     bool
	growInterval int64
	pool         BufferPool
	lengthFn     func() int64
}

// WithOwnsBase 为true时 Close 会一并关闭底层流.
func WithOwnsBase(owns bool) AligningOption {
	return func(cfg *aligningCfg) {
		cfg.ownsBase = owns
	}
}

// WithGrowInterval 写入超出末尾时, 先将底层流扩展到 interval 的整数倍. 0 表示不预扩展.
func WithGrowInterval(interval int64) AligningOption {
	return func(cfg *aligningCfg) {
		if interval < 0 {
			interval = 0
		}
		cfg.growInterval = interval
	}
}

// WithBufferPool 设置对齐临时缓冲区的来源, 默认为 DefaultPool.
func WithBufferPool(pool BufferPool) AligningOption {
	return func(cfg *aligningCfg) {
		if pool != nil {
			cfg.pool = pool
		}
	}
}

// WithLengthSource 以 fn 的返回值作为流长度, 代替底层流的 Length(如设备报告的容量).
func WithLengthSource(fn func() int64) AligningOption {
	return func(cfg *aligningCfg) {
		cfg.lengthFn = fn
	}
}

// AligningStream 包装只接受扇区对齐I/O的介质, 对外提供字节粒度的随机访问.
// 所有落到底层流上的I/O, 偏移和长度都是 alignment 的整数倍.
type AligningStream struct {
	base      Stream
	alignment int64
	pos       int64
	cfg       aligningCfg
	closed    bool
}

// NewAligningStream alignment 必须为2的幂.
func NewAligningStream(base Stream, alignment int, options ...AligningOption) (*AligningStream, error) {
	if base == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil base stream")
	}
	if !util.IsPowerOfTwo(int64(alignment)) {
		return nil, errors.Wrapf(ErrInvalidArgument, "alignment %d is not a power of two", alignment)
	}
	as := &AligningStream{base: base, alignment: int64(alignment)}
	as.defaultCfgSetup()
	for _, opt := range options {
		opt(&as.cfg)
	}
	return as, nil
}

func (as *AligningStream) defaultCfgSetup() {
	as.cfg.ownsBase = false
	as.cfg.growInterval = 0
	as.cfg.pool = DefaultPool
	as.cfg.lengthFn = nil
}

func (as *AligningStream) String() string {
	return fmt.Sprintf("<AligningStream(alignment=%d,len=%d)>", as.alignment, as.Length())
}

func (as *AligningStream) Alignment() int {
	return int(as.alignment)
}

func (as *AligningStream) GrowInterval() int64 {
	return as.cfg.growInterval
}

// Base 返回底层流.
func (as *AligningStream) Base() Stream {
	return as.base
}

func (as *AligningStream) Length() int64 {
	if as.cfg.lengthFn != nil {
		return as.cfg.lengthFn()
	}
	return as.base.Length()
}

func (as *AligningStream) Position() int64 {
	return as.pos
}

func (as *AligningStream) Seek(offset int64, whence int) (int64, error) {
	if as.closed {
		return 0, ErrClosed
	}
	abs, err := resolveSeek(offset, whence, as.pos, as.Length())
	if err != nil {
		return 0, err
	}
	if abs < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "seek to %d", abs)
	}
	as.pos = abs
	return abs, nil
}

// span 计算 [off, off+n) 向外扩展到对齐边界所需的前缀与后缀字节数.
func (as *AligningStream) span(off, n int64) (prefix, suffix int64) {
	prefix = off - util.AlignDown(off, as.alignment)
	suffix = util.AlignUp(off+n, as.alignment) - (off + n)
	return prefix, suffix
}

func (as *AligningStream) Read(p []byte) (int, error) {
	n, err := as.ReadAt(p, as.pos)
	as.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt 读取 off 处的数据, 不改变当前位置. 跨越或超出流末尾的请求被截断而不是报错.
func (as *AligningStream) ReadAt(p []byte, off int64) (int, error) {
	if as.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	length := as.Length()
	if off >= length {
		logger.Debugf("%s.ReadAt request at %d is at or past end %d", as.String(), off, length)
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > length {
		logger.Debugf("%s.ReadAt request [%d,%d) clamped to end %d", as.String(), off, off+want, length)
		want = length - off
	}
	n, err := as.readAligned(p[:want], off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (as *AligningStream) readAligned(p []byte, off int64) (int, error) {
	n := int64(len(p))
	prefix, suffix := as.span(off, n)
	if prefix == 0 && suffix == 0 {
		if _, err := as.base.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		return readFull(as.base, p)
	}

	size := prefix + n + suffix
	scratch := as.cfg.pool.Get(int(size))
	defer as.cfg.pool.Put(scratch)

	if _, err := as.base.Seek(off-prefix, io.SeekStart); err != nil {
		return 0, err
	}
	got, err := readFull(as.base, scratch)
	if err != nil {
		return 0, err
	}
	if int64(got) <= prefix {
		return 0, nil
	}
	cnt := util.Min64(int64(got)-prefix, n)
	copy(p, scratch[prefix:prefix+cnt])
	return int(cnt), nil
}

func (as *AligningStream) Write(p []byte) (int, error) {
	n, err := as.WriteAt(p, as.pos)
	as.pos += int64(n)
	return n, err
}

// WriteAt 以读-改-写方式写入 off 处, 边界扇区中不属于 p 的字节保持原值.
func (as *AligningStream) WriteAt(p []byte, off int64) (int, error) {
	if as.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "negative offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := int64(len(p))
	end, err := util.CheckedAdd(off, n)
	if err != nil {
		return 0, err
	}
	if as.cfg.growInterval > 0 && end > as.Length() {
		newLen := util.RoundUp(end, as.cfg.growInterval)
		logger.Debugf("%s.WriteAt grows base stream to %d for write end %d", as.String(), newLen, end)
		if err = as.base.SetLength(newLen); err != nil {
			return 0, errors.Wrapf(err, "grow to %d", newLen)
		}
	}

	prefix, suffix := as.span(off, n)
	if prefix == 0 && suffix == 0 {
		if _, err = as.base.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		if err = writeFull(as.base, p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	size := prefix + n + suffix
	scratch := as.cfg.pool.Get(int(size))
	defer as.cfg.pool.Put(scratch)
	for i := range scratch {
		scratch[i] = 0
	}

	start := off - prefix
	if prefix > 0 {
		if err = as.readSector(scratch[:as.alignment], start); err != nil {
			return 0, err
		}
	}
	if suffix > 0 && (prefix == 0 || size > as.alignment) {
		if err = as.readSector(scratch[size-as.alignment:], start+size-as.alignment); err != nil {
			return 0, err
		}
	}
	copy(scratch[prefix:], p)

	if _, err = as.base.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	if err = writeFull(as.base, scratch); err != nil {
		return 0, err
	}
	return len(p), nil
}

// readSector 读取一个边界扇区, 超出底层末尾的部分保持为0.
func (as *AligningStream) readSector(dst []byte, off int64) error {
	if _, err := as.base.Seek(off, io.SeekStart); err != nil {
		return err
	}
	_, err := readFull(as.base, dst)
	return err
}

func (as *AligningStream) SetLength(n int64) error {
	return as.base.SetLength(n)
}

func (as *AligningStream) Flush() error {
	return as.base.Flush()
}

func (as *AligningStream) CanRead() bool  { return !as.closed && as.base.CanRead() }
func (as *AligningStream) CanWrite() bool { return !as.closed && as.base.CanWrite() }
func (as *AligningStream) CanSeek() bool  { return !as.closed }

func (as *AligningStream) Close() error {
	if as.closed {
		return nil
	}
	as.closed = true
	if as.cfg.ownsBase {
		return as.base.Close()
	}
	return nil
}
