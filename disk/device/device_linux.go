package device

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func isBlockDevice(_ string, fi os.FileInfo) bool {
	return fi.Mode()&os.ModeDevice != 0
}

func querySectorSize(f *os.File) (int, error) {
	return unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
}

func queryDiskSize(f *os.File) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}
