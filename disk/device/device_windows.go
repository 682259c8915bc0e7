package device

import (
	"bytes"
	"encoding/binary"
	"os"
	"strings"
	"unsafe"

	"github.com/lunixbochs/struc"
	"golang.org/x/sys/windows"
)

const (
	IOCTL_DISK_GET_DRIVE_GEOMETRY_EX = 0x000700A0
	IOCTL_DISK_GET_LENGTH_INFO       = 0x0007405C
)

// DISK_GEOMETRY_EX 只解析固定部分, 不包含分区/检测信息.
type DISK_GEOMETRY_EX struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
	DiskSize          int64
}

type GET_LENGTH_INFORMATION struct {
	Length int64
}

func isBlockDevice(path string, fi os.FileInfo) bool {
	return strings.HasPrefix(path, `\\.\`) || strings.HasPrefix(path, `\\?\GLOBALROOT`) || fi.Mode()&os.ModeDevice != 0
}

func queryGeometry(f *os.File) (*DISK_GEOMETRY_EX, error) {
	var returned uint32
	buf := make([]byte, 256)
	err := windows.DeviceIoControl(
		windows.Handle(f.Fd()),
		IOCTL_DISK_GET_DRIVE_GEOMETRY_EX,
		nil,
		0,
		&buf[0],
		uint32(len(buf)),
		&returned,
		nil)
	if err != nil {
		return nil, err
	}
	geo := &DISK_GEOMETRY_EX{}
	err = struc.UnpackWithOptions(bytes.NewReader(buf[:returned]), geo, &struc.Options{Order: binary.LittleEndian})
	if err != nil {
		return nil, err
	}
	return geo, nil
}

func querySectorSize(f *os.File) (int, error) {
	geo, err := queryGeometry(f)
	if err != nil {
		return 0, err
	}
	return int(geo.BytesPerSector), nil
}

// queryDiskSize 卷设备不支持几何查询, 此时使用 IOCTL_DISK_GET_LENGTH_INFO.
func queryDiskSize(f *os.File) (int64, error) {
	if geo, err := queryGeometry(f); err == nil && geo.DiskSize > 0 {
		return geo.DiskSize, nil
	}
	var returned uint32
	var info GET_LENGTH_INFORMATION
	err := windows.DeviceIoControl(
		windows.Handle(f.Fd()),
		IOCTL_DISK_GET_LENGTH_INFO,
		nil,
		0,
		(*byte)(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		&returned,
		nil)
	if err != nil {
		return 0, err
	}
	return info.Length, nil
}
