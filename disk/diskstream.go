// Package disk 在只接受扇区对齐I/O的块设备上提供字节粒度的随机读写.
package disk

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/disk/device"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/kisun-bit/imgstream/util"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/pkg/errors"
)

const _DefaultSectorSize = 512

// Geometry 设备查询接口, 由 device.Device 实现.
type Geometry interface {
	SectorSize() (int, error)
	DiskSize() (int64, error)
}

// LengthSource 磁盘长度的来源.
type LengthSource string

const (
	LengthFromGeometry LengthSource = "geometry"
	LengthFromKnown    LengthSource = "known"
	LengthFromVBR      LengthSource = "vbr"
	LengthFromBase     LengthSource = "base"
)

type DiskOption func(cfg *diskCfg)

type diskCfg struct {
	knownLength int64
	ownsBase    bool
	pool        stream.BufferPool
}

// WithKnownLength 设备未报告容量时使用的已知长度.
func WithKnownLength(n int64) DiskOption {
	return func(cfg *diskCfg) {
		cfg.knownLength = n
	}
}

func WithOwnsBase(owns bool) DiskOption {
	return func(cfg *diskCfg) {
		cfg.ownsBase = owns
	}
}

func WithBufferPool(pool stream.BufferPool) DiskOption {
	return func(cfg *diskCfg) {
		cfg.pool = pool
	}
}

// DiskStream 以设备扇区大小为对齐单位的 AligningStream.
// 长度在创建时确定, 依次取: 设备报告的容量, WithKnownLength, 第0扇区的VBR, 底层流长度.
type DiskStream struct {
	*stream.AligningStream
	geo        Geometry
	length     int64
	lengthFrom LengthSource
	cfg        diskCfg
}

func NewDiskStream(base stream.Stream, geo Geometry, options ...DiskOption) (*DiskStream, error) {
	if base == nil {
		return nil, errors.Wrap(stream.ErrInvalidArgument, "nil base stream")
	}
	ds := &DiskStream{geo: geo}
	ds.defaultCfgSetup()
	for _, opt := range options {
		opt(&ds.cfg)
	}

	sectorSize := ds.sectorSize()
	var err error
	if ds.length, ds.lengthFrom, err = ds.resolveLength(base, sectorSize); err != nil {
		return nil, err
	}
	ds.AligningStream, err = stream.NewAligningStream(base, sectorSize,
		stream.WithOwnsBase(ds.cfg.ownsBase),
		stream.WithBufferPool(ds.cfg.pool),
		stream.WithLengthSource(ds.Length))
	if err != nil {
		return nil, err
	}
	logger.Debugf("%s.NewDiskStream length resolved from %s", ds.String(), ds.lengthFrom)
	return ds, nil
}

func (ds *DiskStream) defaultCfgSetup() {
	ds.cfg.knownLength = 0
	ds.cfg.ownsBase = false
	ds.cfg.pool = stream.DefaultPool
}

// sectorSize 设备扇区大小, 查询失败或不是2的幂时使用512.
func (ds *DiskStream) sectorSize() int {
	if ds.geo == nil {
		return _DefaultSectorSize
	}
	size, err := ds.geo.SectorSize()
	if err != nil || size <= 0 || !util.IsPowerOfTwo(int64(size)) {
		logger.Debugf("DiskStream.sectorSize fallback to %d (size=%d, err=%v)", _DefaultSectorSize, size, err)
		return _DefaultSectorSize
	}
	return size
}

func (ds *DiskStream) resolveLength(base stream.Stream, sectorSize int) (int64, LengthSource, error) {
	if ds.geo != nil {
		if size, err := ds.geo.DiskSize(); err == nil && size > 0 {
			return size, LengthFromGeometry, nil
		} else if err != nil {
			logger.Debugf("DiskStream.resolveLength disk size unavailable: %v", err)
		}
	}
	if ds.cfg.knownLength > 0 {
		return ds.cfg.knownLength, LengthFromKnown, nil
	}
	length, ok, err := firstSectorVBRLength(base, sectorSize)
	if err != nil {
		return 0, "", err
	}
	if ok {
		return length, LengthFromVBR, nil
	}
	return base.Length(), LengthFromBase, nil
}

// firstSectorVBRLength 以一个完整扇区读取第0扇区, 读取后恢复底层流的位置.
func firstSectorVBRLength(base stream.Stream, sectorSize int) (int64, bool, error) {
	if !base.CanRead() {
		return 0, false, nil
	}
	if sectorSize < VBRSize {
		sectorSize = VBRSize
	}
	pos := base.Position()
	defer func() {
		_, _ = base.Seek(pos, io.SeekStart)
	}()
	if _, err := base.Seek(0, io.SeekStart); err != nil {
		return 0, false, errors.Wrap(err, "seek to sector 0")
	}
	sector := make([]byte, sectorSize)
	n, err := io.ReadFull(base, sector)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if n < VBRSize {
			return 0, false, nil
		}
	} else if err != nil {
		return 0, false, errors.Wrap(err, "read sector 0")
	}
	return vbrLength(sector[:n])
}

func (ds *DiskStream) String() string {
	return fmt.Sprintf("<DiskStream(sector=%d,len=%s,from=%s)>",
		ds.SectorSize(), humanize.IBytes(uint64(ds.length)), ds.lengthFrom)
}

// SectorSize 实际使用的对齐单位.
func (ds *DiskStream) SectorSize() int {
	if ds.AligningStream == nil {
		return ds.sectorSize()
	}
	return ds.Alignment()
}

func (ds *DiskStream) Length() int64 {
	return ds.length
}

// LengthFrom 返回长度的确定方式.
func (ds *DiskStream) LengthFrom() LengthSource {
	return ds.lengthFrom
}

// SetLength 磁盘容量固定, 总是返回 stream.ErrNotSupported.
func (ds *DiskStream) SetLength(int64) error {
	return errors.Wrap(stream.ErrNotSupported, "disk geometry is fixed")
}

// Write 写入当前位置, 越过磁盘容量的写入整体拒绝.
func (ds *DiskStream) Write(p []byte) (int, error) {
	n, err := ds.WriteAt(p, ds.Position())
	if n > 0 {
		if _, serr := ds.Seek(int64(n), io.SeekCurrent); serr != nil && err == nil {
			err = serr
		}
	}
	return n, err
}

// WriteAt 同 stream.AligningStream.WriteAt, [off, off+len(p)) 必须位于磁盘容量之内.
func (ds *DiskStream) WriteAt(p []byte, off int64) (int, error) {
	end, err := util.CheckedAdd(off, int64(len(p)))
	if err != nil {
		return 0, errors.Wrap(stream.ErrEndOfStream, err.Error())
	}
	if end > ds.length {
		return 0, errors.Wrapf(stream.ErrEndOfStream, "write [%d,%d) past disk end %d", off, end, ds.length)
	}
	return ds.AligningStream.WriteAt(p, off)
}

// OpenDiskStream 打开设备(或镜像文件)并以其几何信息创建 DiskStream, Close 时关闭设备.
func OpenDiskStream(path string, writable bool, options ...DiskOption) (*DiskStream, error) {
	dev, err := device.Open(path, writable)
	if err != nil {
		return nil, err
	}
	options = append(options, WithOwnsBase(true))
	ds, err := NewDiskStream(dev.Stream(), dev, options...)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return ds, nil
}
