// Package table 解析MBR分区表, 并把分区以子流的形式打开.
package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/imgstream/stream"
	"github.com/kisun-bit/imgstream/util"
	"github.com/kisun-bit/imgstream/util/logger"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

type DiskType string

const (
	DTypeGPT DiskType = "GPT"
	DTypeMBR DiskType = "MBR"
	DTypeRAW DiskType = "RAW"
)

var ErrInvalidBootSignature = errors.New("invalid boot signature")

// MBR MBR(或EBR)扇区结构.
// 具体见 https://en.wikipedia.org/wiki/Master_boot_record.
type MBR struct {
	Offset        int64                                `struc:"skip"` // 扇区绝对起始偏移.
	IsEBR         bool                                 `struc:"skip"`
	BootLoader    []byte                               `struc:"[446]byte"` // 0x0000, 446.
	Entries       [MBRPartitionEntryCount]MBRPartition // 0x01BE, 64, 所有多字节字段均为小端序.
	BootSignature []byte                               `struc:"[2]byte"` // 0x01FE, 2.
}

// ParseMBR 解析 offset 处的一个MBR/EBR扇区.
func ParseMBR(r io.ReaderAt, offset int64, isEBR bool) (*MBR, error) {
	bin := make([]byte, MBRDefaultLBASize)
	if n, err := r.ReadAt(bin, offset); n < len(bin) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "read boot record at %d", offset)
	}
	mbr := &MBR{Offset: offset, IsEBR: isEBR}
	if err := struc.Unpack(bytes.NewReader(bin), mbr); err != nil {
		return nil, errors.Wrap(err, "unpack boot record")
	}
	if mbr.BootSignature[0] != MBRSignature510 || mbr.BootSignature[1] != MBRSignature511 {
		return nil, errors.Wrapf(ErrInvalidBootSignature, "at %d", offset)
	}
	for i := range mbr.Entries {
		mbr.Entries[i].Index = i + 1
		mbr.Entries[i].IsLogical = isEBR
	}
	return mbr, nil
}

// DiskSignature 磁盘标识(引导代码区 0x1B8 处的32位值).
func (mbr *MBR) DiskSignature() uint32 {
	return binary.LittleEndian.Uint32(mbr.BootLoader[440:444])
}

// IsProtective 存在GPT保护性分区时返回true.
func (mbr *MBR) IsProtective() bool {
	for _, p := range mbr.Entries {
		if p.IsProtectiveMBR() {
			return true
		}
	}
	return false
}

// Partitions 返回所有非空、非扩展的主分区, 以及扩展分区中的逻辑分区.
// 逻辑分区的 StartingLBA 已换算为相对磁盘起点的绝对值, Index 从5开始跨所有扩展分区连续编号.
func (mbr *MBR) Partitions(r io.ReaderAt) ([]MBRPartition, error) {
	if mbr.IsEBR {
		return nil, errors.New("EBR has no partition list")
	}
	parts := make([]MBRPartition, 0, MBRPartitionEntryCount)
	for _, p := range mbr.Entries {
		if !p.IsEmpty() && !p.IsExtend() {
			parts = append(parts, p)
		}
	}
	next := MBRPartitionEntryCount + 1
	for _, p := range mbr.Entries {
		if !p.IsExtend() {
			continue
		}
		logical, err := logicalPartitions(r, p.StartingLBA, next)
		if err != nil {
			return nil, err
		}
		parts = append(parts, logical...)
		next += len(logical)
	}
	return parts, nil
}

// logicalPartitions 沿EBR链读取扩展分区内的逻辑分区.
// 每个EBR的第1项相对该EBR定位逻辑分区, 第2项相对扩展分区起点定位下一个EBR.
func logicalPartitions(r io.ReaderAt, extStart int64, firstIndex int) ([]MBRPartition, error) {
	parts := make([]MBRPartition, 0)
	visited := make(map[int64]struct{})
	ebrLBA := extStart
	for i := 0; i < _MaxEBRCount; i++ {
		if _, ok := visited[ebrLBA]; ok {
			return parts, errors.Errorf("EBR chain loops at LBA %d", ebrLBA)
		}
		visited[ebrLBA] = struct{}{}
		ebr, err := ParseMBR(r, ebrLBA*MBRDefaultLBASize, true)
		if err != nil {
			logger.Warnf("table.logicalPartitions EBR at LBA %d can not be parsed: %v", ebrLBA, err)
			return parts, nil
		}
		if p := ebr.Entries[0]; !p.IsEmpty() && p.TotalSectors > 0 {
			p.StartingLBA += ebrLBA
			p.Index = firstIndex + len(parts)
			parts = append(parts, p)
		}
		next := ebr.Entries[1]
		if !next.IsExtend() {
			return parts, nil
		}
		ebrLBA = extStart + next.StartingLBA
	}
	return parts, errors.Errorf("more than %d EBRs", _MaxEBRCount)
}

// DetectDiskType 根据第0扇区判断磁盘类型: 无合法签名为RAW, 存在保护性分区为GPT, 否则为MBR.
func DetectDiskType(r io.ReaderAt) (DiskType, error) {
	mbr, err := ParseMBR(r, 0, false)
	if errors.Is(err, ErrInvalidBootSignature) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return DTypeRAW, nil
	}
	if err != nil {
		return DTypeRAW, err
	}
	if mbr.IsProtective() {
		return DTypeGPT, nil
	}
	return DTypeMBR, nil
}

// OpenPartition 以子流打开分区, sectorSize<=0 时使用512.
func OpenPartition(s stream.Stream, p MBRPartition, sectorSize int) (*stream.SubStream, error) {
	if sectorSize <= 0 {
		sectorSize = MBRDefaultLBASize
	}
	start, length, err := p.Range(int64(sectorSize))
	if err != nil {
		return nil, err
	}
	sub, err := stream.NewSubStream(s, start, length, false)
	if err != nil {
		return nil, errors.Wrapf(err, "open partition #%d", p.Index)
	}
	return sub, nil
}

// MBRPartition MBR分区表项结构.
type MBRPartition struct {
	Index            int              `struc:"skip"` // 分区表中的序号, 逻辑分区从5开始.
	IsLogical        bool             `struc:"skip"`
	BootIndicator    byte             // 0x00, 1.
	StartingHead     byte             // 0x01, 1.
	StartingSector   byte             // 0x02, 1, bit0-5表示起始扇区, bit6-7位表示起始柱面的高位.
	StartingCylinder byte             // 0x03, 1.
	PartitionType    MBRPartitionType `struc:"byte"` // 0x04, 1.
	EndingHead       byte             // 0x05, 1.
	EndingSector     byte             // 0x06, 1.
	EndingCylinder   byte             // 0x07, 1.
	StartingLBA      int64            `struc:"uint32,little"` // 0x08, 4, 起始LBA(包含).
	TotalSectors     int64            `struc:"uint32,little"` // 0x0c, 4, 总扇区数.
}

func (partition MBRPartition) String() string {
	boot := " "
	if partition.IsBootable() {
		boot = "*"
	}
	return fmt.Sprintf("#%-2d %s %10d %10d %10s  %s", partition.Index, boot, partition.StartingLBA,
		partition.EndSector(), humanize.IBytes(uint64(partition.TotalSectors*MBRDefaultLBASize)),
		partition.HumanReadablePartitionType())
}

// HumanReadablePartitionType 返回该分区用户可读的分区类型.
func (partition MBRPartition) HumanReadablePartitionType() string {
	v, ok := MBRPartitionTypeDesc[partition.PartitionType]
	if !ok {
		return fmt.Sprintf("unknown(%#02x)", partition.PartitionType)
	}
	return v
}

// Range 分区的字节起点与长度.
func (partition MBRPartition) Range(sectorSize int64) (int64, int64, error) {
	if partition.StartingLBA > (1<<63-1)/sectorSize || partition.TotalSectors > (1<<63-1)/sectorSize {
		return 0, 0, errors.Wrapf(util.ErrOverflow, "partition #%d", partition.Index)
	}
	start, length := partition.StartingLBA*sectorSize, partition.TotalSectors*sectorSize
	if _, err := util.CheckedAdd(start, length); err != nil {
		return 0, 0, errors.Wrapf(err, "partition #%d", partition.Index)
	}
	return start, length, nil
}

func (partition MBRPartition) IsEmpty() bool {
	return partition.PartitionType == Empty
}

func (partition MBRPartition) IsBootable() bool {
	return partition.BootIndicator == MBRPartitionBootable
}

// EndSector 分区的结束扇区(包含).
func (partition MBRPartition) EndSector() int64 {
	return partition.StartingLBA + partition.TotalSectors - 1
}

func (partition MBRPartition) IsExtend() bool {
	return bytes.IndexByte(MBRExtendPartTypes, partition.PartitionType) >= 0
}

// IsProtectiveMBR 若为GPT磁盘的保护性MBR分区, 则返回true.
func (partition MBRPartition) IsProtectiveMBR() bool {
	return partition.PartitionType == EFIGPTProtectiveMBR
}
