package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/disk"
	"github.com/kisun-bit/imgstream/rawimage"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/kisun-bit/imgstream/util/logger"
)

// 从标准输入读取一个声明了大小的卷镜像, 先解析VBR, 再回到开头计算校验值.
//
//	cat volume.img | pipe -size 2GiB
func main() {
	size := flag.String("size", "", "declared size of the piped image, e.g. 2GiB")
	chunk := flag.String("chunk", "64KiB", "cache chunk size")
	flag.Parse()

	declared, err := humanize.ParseBytes(*size)
	if err != nil || declared == 0 {
		flag.Usage()
		os.Exit(1)
	}
	chunkSize, err := humanize.ParseBytes(*chunk)
	if err != nil {
		logger.Fatalf("bad -chunk %q: %v", *chunk, err)
	}

	ps, err := stream.NewProgressiveCachingStream(os.Stdin, int64(declared),
		stream.WithChunkSize(int(chunkSize)), stream.WithLeaveOpen(true))
	if err != nil {
		logger.Fatalf("wrap stdin: %v", err)
	}
	defer ps.Close()

	vbrLen, ok, err := disk.VBRPartitionLength(ps)
	if err != nil {
		logger.Fatalf("vbr: %v", err)
	}
	if ok {
		fmt.Printf("vbr length : %s\n", humanize.IBytes(uint64(vbrLen)))
	}
	if _, err = ps.Seek(0, io.SeekStart); err != nil {
		logger.Fatalf("rewind: %v", err)
	}
	sum, err := rawimage.ChecksumContext(context.Background(), ps, func(done int64, d time.Duration) {
		logger.Infof("checksum %s of %s in %v", humanize.IBytes(uint64(done)), humanize.IBytes(declared), d.Round(time.Second))
	}, 2*time.Second)
	if err != nil {
		logger.Fatalf("checksum: %v", err)
	}
	fmt.Printf("xxhash64   : %016x (%s buffered in %d chunks)\n", sum, humanize.IBytes(uint64(ps.Buffered())), ps.ChunkCount())
}
