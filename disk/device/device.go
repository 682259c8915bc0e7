// Package device 打开块设备(或镜像文件)并查询其扇区大小与容量.
package device

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/pkg/errors"
)

const _DefaultSectorSize = 512

var ErrUnsupportedPlatform = errors.New("device query is not supported on this platform")

// Device 已打开的设备句柄. 普通文件按512字节扇区、文件大小作为容量处理.
type Device struct {
	path     string
	file     *os.File
	fs       *stream.FileStream
	block    bool
	writable bool
}

func Open(path string, writable bool) (*Device, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open device %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat device %s", path)
	}
	d := &Device{
		path:     path,
		file:     f,
		fs:       stream.NewFileStream(f, writable),
		block:    isBlockDevice(path, fi),
		writable: writable,
	}
	logger.Debugf("device.Open %s", d.String())
	return d, nil
}

func (d *Device) String() string {
	size, _ := d.DiskSize()
	return fmt.Sprintf("<Device(path=%s,block=%v,size=%s,rw=%v)>",
		d.path, d.block, humanize.IBytes(uint64(size)), d.writable)
}

func (d *Device) Path() string {
	return d.path
}

// IsBlock 是否为块设备(而非普通文件).
func (d *Device) IsBlock() bool {
	return d.block
}

// Stream 以未对齐方式访问设备的流, 与 Device 共享文件句柄.
func (d *Device) Stream() *stream.FileStream {
	return d.fs
}

func (d *Device) SectorSize() (int, error) {
	if !d.block {
		return _DefaultSectorSize, nil
	}
	size, err := querySectorSize(d.file)
	if err != nil {
		return 0, errors.Wrapf(err, "query sector size of %s", d.path)
	}
	return size, nil
}

func (d *Device) DiskSize() (int64, error) {
	if !d.block {
		fi, err := d.file.Stat()
		if err != nil {
			return 0, errors.Wrapf(err, "stat %s", d.path)
		}
		return fi.Size(), nil
	}
	size, err := queryDiskSize(d.file)
	if err != nil {
		return 0, errors.Wrapf(err, "query disk size of %s", d.path)
	}
	return size, nil
}

func (d *Device) Close() error {
	return d.fs.Close()
}
