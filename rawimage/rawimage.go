// Package rawimage 打开按 name.001, name.002, ... 切分的多段原始镜像, 以单个流访问.
package rawimage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/kisun-bit/imgstream/util"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const _DefaultChecksumBufferSize = 1 << 20

var segmentExt = regexp.MustCompile(`^\.(\d{3,})$`)

// SegmentPath 返回 first 之后第 i 个分段的路径(i 从0开始), first 不是编号分段时返回空串.
func SegmentPath(first string, i int) string {
	ext := filepath.Ext(first)
	m := segmentExt.FindStringSubmatch(ext)
	if m == nil {
		return ""
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s.%0*d", first[:len(first)-len(ext)], len(m[1]), start+i)
}

// DiscoverSegments 从 first 开始按编号查找连续的分段, 遇到第一个缺失的编号时停止.
// first 的扩展名不是3位以上数字时, 只返回 first 本身.
func DiscoverSegments(first string) (*orderedmap.OrderedMap[string, int64], error) {
	segments := orderedmap.NewOrderedMap[string, int64]()
	fi, err := os.Stat(first)
	if err != nil {
		return nil, errors.Wrapf(err, "stat first segment %s", first)
	}
	if fi.IsDir() {
		return nil, errors.Errorf("%s is a directory", first)
	}
	segments.Set(first, fi.Size())
	if SegmentPath(first, 0) == "" {
		return segments, nil
	}
	for i := 1; ; i++ {
		path := SegmentPath(first, i)
		fi, err = os.Stat(path)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "stat segment %s", path)
		}
		segments.Set(path, fi.Size())
	}
	logger.Debugf("DiscoverSegments %s found %d segment(s)", first, segments.Len())
	return segments, nil
}

// Image 多段原始镜像.
type Image struct {
	first    string
	segments *orderedmap.OrderedMap[string, int64]
	// children 与 combined 的子流一一对应(不含长度为0的分段).
	children []string
	combined *stream.CombinedSeekStream
}

// Open 打开 first 及其后续分段. 任一分段打开失败时, 已打开的分段全部关闭.
func Open(first string, writable bool) (*Image, error) {
	segments, err := DiscoverSegments(first)
	if err != nil {
		return nil, err
	}
	img := &Image{
		first:    first,
		segments: segments,
		combined: stream.NewCombinedSeekStream(),
	}
	for el := segments.Front(); el != nil; el = el.Next() {
		if el.Value == 0 {
			logger.Warnf("rawimage.Open skip empty segment %s", el.Key)
			continue
		}
		fs, err := stream.OpenFileStream(el.Key, writable)
		if err != nil {
			return nil, multierr.Append(errors.Wrapf(err, "open segment %s", el.Key), img.combined.Close())
		}
		if err = img.combined.AddStream(fs); err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "add segment %s", el.Key), fs.Close(), img.combined.Close())
		}
		img.children = append(img.children, el.Key)
	}
	logger.Debugf("rawimage.Open %s", img.String())
	return img, nil
}

func (img *Image) String() string {
	return fmt.Sprintf("<RawImage(first=%s,segments=%d,len=%s)>",
		filepath.Base(img.first), img.segments.Len(), humanize.IBytes(uint64(img.combined.Length())))
}

// Stream 镜像的逻辑流.
func (img *Image) Stream() *stream.CombinedSeekStream {
	return img.combined
}

// Segments 全部分段(路径 -> 大小), 按编号排序.
func (img *Image) Segments() *orderedmap.OrderedMap[string, int64] {
	return img.segments
}

func (img *Image) Length() int64 {
	return img.combined.Length()
}

// Segment 返回逻辑偏移 pos 所在的分段路径以及分段内偏移.
func (img *Image) Segment(pos int64) (string, int64, error) {
	if pos < 0 || pos >= img.combined.Length() {
		return "", 0, errors.Wrapf(stream.ErrOutOfRange, "offset %d outside [0,%d)", pos, img.combined.Length())
	}
	idx, off := img.combined.Locate(pos)
	return img.children[idx], off, nil
}

func (img *Image) Close() error {
	return img.combined.Close()
}

// Checksum 计算 r 全部内容的 xxhash64.
func Checksum(r io.Reader) (uint64, error) {
	return ChecksumContext(context.Background(), r, nil, 0)
}

// ChecksumContext 同 Checksum, 每隔 period 以已处理的字节数回调 progress, ctx 取消时中止.
func ChecksumContext(ctx context.Context, r io.Reader, progress func(done int64, d time.Duration), period time.Duration) (uint64, error) {
	h := xxhash.New()
	pw, stop := util.NewProgressWriter(ctx, progress, h, period)
	defer stop()
	buf := make([]byte, _DefaultChecksumBufferSize)
	if _, err := io.CopyBuffer(pw, struct{ io.Reader }{r}, buf); err != nil {
		return 0, errors.Wrapf(err, "checksum after %d bytes", pw.Count())
	}
	return h.Sum64(), nil
}
