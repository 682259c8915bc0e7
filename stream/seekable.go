package stream

import (
	"bytes"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/stream/sparse"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/pkg/errors"
)

const _DefaultSparseThreshold = 32 << 20

type SeekableOption func(cfg *seekableCfg)

type seekableCfg struct {
	declaredLength  int64
	sparseThreshold int64
	sparseChunkSize int
}

// WithDeclaredLength 声明源的总长度. 物化后不足该长度时返回 io.ErrUnexpectedEOF.
func WithDeclaredLength(n int64) SeekableOption {
	return func(cfg *seekableCfg) {
		cfg.declaredLength = n
	}
}

// WithSparseThreshold 声明长度不小于该值时物化为稀疏缓冲区(默认32MiB).
func WithSparseThreshold(n int64) SeekableOption {
	return func(cfg *seekableCfg) {
		if n <= 0 {
			n = _DefaultSparseThreshold
		}
		cfg.sparseThreshold = n
	}
}

// WithSparseChunkSize 设置稀疏缓冲区的块大小.
func WithSparseChunkSize(size int) SeekableOption {
	return func(cfg *seekableCfg) {
		cfg.sparseChunkSize = size
	}
}

// Seekable 保证返回一个可寻址的流:
//   - r 为nil时返回空的只读流;
//   - r 已可寻址时原样返回(io.ReadSeeker 以零拷贝方式适配);
//   - 否则完整读取 r 到内存(读取后关闭 r), 大于阈值时使用稀疏缓冲区.
func Seekable(r io.Reader, options ...SeekableOption) (Stream, error) {
	cfg := seekableCfg{
		declaredLength:  -1,
		sparseThreshold: _DefaultSparseThreshold,
		sparseChunkSize: sparse.DefaultChunkSize,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	switch v := r.(type) {
	case nil:
		return NewMemoryStream(nil, false), nil
	case Stream:
		if v.CanSeek() {
			return v, nil
		}
	case io.ReadSeeker:
		s, err := FromReadSeeker(v)
		if err == nil {
			return s, nil
		}
		logger.Debugf("Seekable source %T can not seek, drain it: %v", r, err)
	}

	if cfg.declaredLength < 0 {
		if l, ok := r.(interface{ Length() int64 }); ok && l.Length() > 0 {
			cfg.declaredLength = l.Length()
		}
	}
	defer func() {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warnf("Seekable close source: %v", err)
			}
		}
	}()

	if cfg.declaredLength >= cfg.sparseThreshold {
		buf := sparse.NewBuffer(cfg.sparseChunkSize)
		n, err := buf.ReadFrom(io.LimitReader(r, cfg.declaredLength))
		if err != nil {
			return nil, errors.Wrap(err, "materialize into sparse buffer")
		}
		if n < cfg.declaredLength {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "read %d of %d declared bytes", n, cfg.declaredLength)
		}
		logger.Debugf("Seekable materialized %s into %d sparse chunks",
			humanize.IBytes(uint64(n)), buf.AllocatedChunks())
		return NewSparseStream(buf, false), nil
	}

	var data []byte
	if cfg.declaredLength >= 0 {
		data = make([]byte, cfg.declaredLength)
		n, err := io.ReadFull(r, data)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "read %d of %d declared bytes", n, cfg.declaredLength)
		}
		if err != nil {
			return nil, errors.Wrap(err, "materialize into memory")
		}
	} else {
		b := &bytes.Buffer{}
		if _, err := b.ReadFrom(r); err != nil {
			return nil, errors.Wrap(err, "materialize into memory")
		}
		data = b.Bytes()
	}
	return NewMemoryStream(data, false), nil
}
