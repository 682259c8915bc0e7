package util

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// ProgressWriter 统计经过的字节数, 并按周期回调 cb. ctx 取消后 Write 返回 ctx.Err().
type ProgressWriter struct {
	ctx     context.Context
	cb      func(done int64, d time.Duration)
	count   int64
	started time.Time
	writer  io.Writer
}

// NewProgressWriter 返回的 cancel 用于停止周期回调; cb 为nil或 period<=0 时不启动回调.
func NewProgressWriter(ctx context.Context, cb func(done int64, d time.Duration),
	writer io.Writer, period time.Duration) (*ProgressWriter, func()) {
	if writer == nil {
		writer = io.Discard
	}
	subCtx, cancel := context.WithCancel(ctx)
	pw := &ProgressWriter{
		ctx:     ctx,
		cb:      cb,
		started: time.Now(),
		writer:  writer,
	}
	if cb == nil || period <= 0 {
		return pw, cancel
	}

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				cb(pw.Count(), time.Since(pw.started))
			}
		}
	}()
	return pw, cancel
}

func (pw *ProgressWriter) Write(buf []byte) (int, error) {
	if err := pw.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pw.writer.Write(buf)
	atomic.AddInt64(&pw.count, int64(n))
	return n, err
}

// Count 已写入的字节数.
func (pw *ProgressWriter) Count() int64 {
	return atomic.LoadInt64(&pw.count)
}
