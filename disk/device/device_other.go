//go:build !linux && !windows

package device

import "os"

func isBlockDevice(_ string, fi os.FileInfo) bool {
	return fi.Mode()&os.ModeDevice != 0
}

func querySectorSize(*os.File) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func queryDiskSize(*os.File) (int64, error) {
	return 0, ErrUnsupportedPlatform
}
