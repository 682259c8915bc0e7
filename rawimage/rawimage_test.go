package rawimage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func createDummyBuf(size int64) []byte {
	buf := make([]byte, size)
	for i := int64(0); i < size; i++ {
		buf[i] = byte(i % 255)
	}
	return buf
}

// writeSegments 在临时目录下按 sizes 写出 disk.001, disk.002, ..., 返回首段路径与拼接后的内容.
func writeSegments(t *testing.T, sizes ...int64) (string, []byte) {
	dir := t.TempDir()
	var all []byte
	for i, size := range sizes {
		data := createDummyBuf(size)
		for j := range data {
			data[j] ^= byte(i + 1)
		}
		path := filepath.Join(dir, "disk.00"+string(rune('1'+i)))
		require.Nil(t, os.WriteFile(path, data, 0644))
		all = append(all, data...)
	}
	return filepath.Join(dir, "disk.001"), all
}

func TestSegmentPath(t *testing.T) {
	require.Equal(t, "a/disk.002", SegmentPath("a/disk.001", 1))
	require.Equal(t, "disk.100", SegmentPath("disk.099", 1))
	require.Equal(t, "disk.1000", SegmentPath("disk.999", 1))
	require.Equal(t, "", SegmentPath("disk.E01", 1))
	require.Equal(t, "", SegmentPath("disk.raw", 1))
	require.Equal(t, "", SegmentPath("disk.01", 1))
}

func TestDiscoverSegments(t *testing.T) {
	first, _ := writeSegments(t, 1000, 0, 500)
	dir := filepath.Dir(first)
	require.Nil(t, os.WriteFile(filepath.Join(dir, "disk.005"), []byte("gap"), 0644))

	segments, err := DiscoverSegments(first)
	require.Nil(t, err)
	require.Equal(t, 3, segments.Len())

	var names []string
	var sizes []int64
	for el := segments.Front(); el != nil; el = el.Next() {
		names = append(names, filepath.Base(el.Key))
		sizes = append(sizes, el.Value)
	}
	require.Equal(t, []string{"disk.001", "disk.002", "disk.003"}, names)
	require.Equal(t, []int64{1000, 0, 500}, sizes)

	single := filepath.Join(dir, "plain.raw")
	require.Nil(t, os.WriteFile(single, []byte("x"), 0644))
	segments, err = DiscoverSegments(single)
	require.Nil(t, err)
	require.Equal(t, 1, segments.Len())

	_, err = DiscoverSegments(filepath.Join(dir, "missing.001"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenReadsAcrossSegments(t *testing.T) {
	first, all := writeSegments(t, 1000, 0, 500)
	img, err := Open(first, false)
	require.Nil(t, err)
	defer img.Close()

	require.Equal(t, int64(1500), img.Length())
	require.Equal(t, 3, img.Segments().Len())
	require.Equal(t, 2, img.Stream().ChildCount())

	got, err := io.ReadAll(img.Stream())
	require.Nil(t, err)
	require.Equal(t, all, got)

	path, off, err := img.Segment(999)
	require.Nil(t, err)
	require.Equal(t, "disk.001", filepath.Base(path))
	require.Equal(t, int64(999), off)

	path, off, err = img.Segment(1000)
	require.Nil(t, err)
	require.Equal(t, "disk.003", filepath.Base(path))
	require.Equal(t, int64(0), off)

	_, _, err = img.Segment(1500)
	require.True(t, errors.Is(err, stream.ErrOutOfRange))

	_, err = img.Stream().Seek(0, io.SeekStart)
	require.Nil(t, err)
	sum, err := Checksum(img.Stream())
	require.Nil(t, err)
	require.Equal(t, xxhash.Sum64(all), sum)
}

func TestOpenWritableSplitsWrites(t *testing.T) {
	first, all := writeSegments(t, 1000, 500)
	img, err := Open(first, true)
	require.Nil(t, err)

	_, err = img.Stream().Seek(995, io.SeekStart)
	require.Nil(t, err)
	n, err := img.Stream().Write([]byte("0123456789"))
	require.Nil(t, err)
	require.Equal(t, 10, n)
	require.Nil(t, img.Close())

	copy(all[995:], "0123456789")
	seg1, err := os.ReadFile(first)
	require.Nil(t, err)
	require.Equal(t, all[:1000], seg1)
	seg2, err := os.ReadFile(filepath.Join(filepath.Dir(first), "disk.002"))
	require.Nil(t, err)
	require.Equal(t, all[1000:], seg2)
}

func TestChecksumContextCancelled(t *testing.T) {
	data := createDummyBuf(4 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ChecksumContext(ctx, bytes.NewReader(data), nil, 0)
	require.True(t, errors.Is(err, context.Canceled))

	var last int64
	sum, err := ChecksumContext(context.Background(), bytes.NewReader(data), func(done int64, d time.Duration) {
		atomic.StoreInt64(&last, done)
	}, time.Hour)
	require.Nil(t, err)
	require.Equal(t, xxhash.Sum64(data), sum)
}
