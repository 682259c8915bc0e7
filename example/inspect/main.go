package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/disk"
	"github.com/kisun-bit/imgstream/disk/table"
	"github.com/kisun-bit/imgstream/rawimage"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/kisun-bit/imgstream/util/logger"
	"go.uber.org/zap/zapcore"
)

func main() {
	image := flag.String("image", "", "first segment of a raw image (disk.001) or a device path")
	device := flag.Bool("device", false, "open -image as a block device with sector aligned I/O")
	offset := flag.String("offset", "0", "start of the region to checksum, e.g. 1MiB")
	size := flag.String("size", "", "size of the region to checksum, default to the end")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *image == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *debug {
		logger.SetupDefaultLogger(logger.NewLogger("inspect", zapcore.DebugLevel))
	}

	var s stream.Stream
	if *device {
		ds, err := disk.OpenDiskStream(*image, false)
		if err != nil {
			logger.Fatalf("open device: %v", err)
		}
		defer ds.Close()
		fmt.Printf("device      : %s (sector %d, length from %s)\n", *image, ds.SectorSize(), ds.LengthFrom())
		s = ds
	} else {
		img, err := rawimage.Open(*image, false)
		if err != nil {
			logger.Fatalf("open image: %v", err)
		}
		defer img.Close()
		for el := img.Segments().Front(); el != nil; el = el.Next() {
			fmt.Printf("segment     : %s %s\n", el.Key, humanize.IBytes(uint64(el.Value)))
		}
		s = img.Stream()
	}
	fmt.Printf("length      : %s (%d bytes)\n", humanize.IBytes(uint64(s.Length())), s.Length())

	whole, err := stream.NewSubStream(s, 0, s.Length(), false)
	if err != nil {
		logger.Fatalf("whole range: %v", err)
	}
	if vbrLen, ok, err := disk.VBRPartitionLength(whole); err != nil {
		logger.Warnf("vbr: %v", err)
	} else if ok {
		fmt.Printf("vbr length  : %s (%d bytes)\n", humanize.IBytes(uint64(vbrLen)), vbrLen)
	}
	printPartitions(s, whole)

	start, err := humanize.ParseBytes(*offset)
	if err != nil {
		logger.Fatalf("bad -offset %q: %v", *offset, err)
	}
	length := s.Length() - int64(start)
	if *size != "" {
		n, err := humanize.ParseBytes(*size)
		if err != nil {
			logger.Fatalf("bad -size %q: %v", *size, err)
		}
		length = int64(n)
	}
	region, err := stream.NewSubStream(s, int64(start), length, false)
	if err != nil {
		logger.Fatalf("region: %v", err)
	}
	sum, err := rawimage.Checksum(region)
	if err != nil {
		logger.Fatalf("checksum: %v", err)
	}
	fmt.Printf("xxhash64    : %016x [%d, %d)\n", sum, start, int64(start)+length)
}

func printPartitions(s stream.Stream, r io.ReaderAt) {
	typ, err := table.DetectDiskType(r)
	if err != nil {
		logger.Warnf("disk type: %v", err)
		return
	}
	fmt.Printf("disk type   : %s\n", typ)
	if typ != table.DTypeMBR {
		return
	}
	mbr, err := table.ParseMBR(r, 0, false)
	if err != nil {
		logger.Warnf("mbr: %v", err)
		return
	}
	parts, err := mbr.Partitions(r)
	if err != nil {
		logger.Warnf("partitions: %v", err)
	}
	for _, p := range parts {
		fmt.Printf("partition   : %s\n", p.String())
		sub, err := table.OpenPartition(s, p, 0)
		if err != nil {
			logger.Warnf("open partition #%d: %v", p.Index, err)
			continue
		}
		if vbrLen, ok, _ := disk.VBRPartitionLength(sub); ok {
			fmt.Printf("              volume %s\n", humanize.IBytes(uint64(vbrLen)))
		}
	}
}
