package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kisun-bit/imgstream/util"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	VBRSize      = 512
	VBRSignature = 0xAA55
)

var ErrNotVBR = errors.New("not a volume boot record")

// VBR 卷引导扇区(FAT/NTFS 通用的 BPB 部分), 所有多字节字段均为小端序.
// 只用于恢复卷的总扇区数.
type VBR struct {
	JMP               []byte `struc:"[3]byte"`   // 0x00, 3.
	OEM               []byte `struc:"[8]byte"`   // 0x03, 8.
	BytesPerSector    uint16 // 0x0B, 2.
	SectorsPerCluster uint8  // 0x0D, 1.
	ReservedSectors   uint16 // 0x0E, 2.
	NumberOfFATs      uint8  // 0x10, 1.
	RootEntries       uint16 // 0x11, 2.
	TotalSectors16    uint16 // 0x13, 2.
	MediaDesc         uint8  // 0x15, 1.
	SectorsPerFAT16   uint16 // 0x16, 2.
	SectorsPerTrack   uint16 // 0x18, 2.
	NumberOfHeads     uint16 // 0x1A, 2.
	HiddenSectors     uint32 // 0x1C, 4.
	TotalSectors32    uint32 // 0x20, 4.
	Unused0x24        []byte `struc:"[4]byte"` // 0x24, 4.
	TotalSectors64    uint64 // 0x28, 8 (NTFS).
	Unused0x30        []byte `struc:"[462]byte"` // 0x30, 462.
	Signature         uint16 // 0x01FE, 2.
}

// ParseVBR 解析一个扇区的数据. 签名或每扇区字节数不合法时返回 ErrNotVBR.
func ParseVBR(sector []byte) (*VBR, error) {
	if len(sector) < VBRSize {
		return nil, errors.Wrapf(ErrNotVBR, "sector too short (%d bytes)", len(sector))
	}
	vbr := &VBR{}
	err := struc.UnpackWithOptions(bytes.NewReader(sector[:VBRSize]), vbr, &struc.Options{Order: binary.LittleEndian})
	if err != nil {
		return nil, errors.Wrap(err, "unpack vbr")
	}
	if vbr.Signature != VBRSignature {
		return nil, errors.Wrapf(ErrNotVBR, "bad signature %#04x", vbr.Signature)
	}
	if vbr.BytesPerSector < VBRSize || !util.IsPowerOfTwo(int64(vbr.BytesPerSector)) {
		return nil, errors.Wrapf(ErrNotVBR, "bad bytes per sector %d", vbr.BytesPerSector)
	}
	return vbr, nil
}

// TotalSectors 按 16位、32位、64位 的顺序取第一个非0的总扇区数.
func (v *VBR) TotalSectors() uint64 {
	switch {
	case v.TotalSectors16 != 0:
		return uint64(v.TotalSectors16)
	case v.TotalSectors32 != 0:
		return uint64(v.TotalSectors32)
	default:
		return v.TotalSectors64
	}
}

// PartitionLength 卷的字节长度, 结果溢出时返回 util.ErrOverflow.
func (v *VBR) PartitionLength() (int64, error) {
	total := v.TotalSectors()
	bps := uint64(v.BytesPerSector)
	if total > uint64(1<<63-1)/bps {
		return 0, errors.Wrapf(util.ErrOverflow, "%d sectors of %d bytes", total, bps)
	}
	return int64(total * bps), nil
}

func (v *VBR) String() string {
	return fmt.Sprintf("<VBR(oem=%q,bps=%d,sectors=%d)>",
		string(bytes.TrimRight(v.OEM, "\x00 ")), v.BytesPerSector, v.TotalSectors())
}

// VBRPartitionLength 读取 r 的第0扇区并计算卷长度.
// 扇区不像一个VBR(或总扇区数为0)时 ok 为false, err 为nil.
func VBRPartitionLength(r io.ReaderAt) (length int64, ok bool, err error) {
	sector := make([]byte, VBRSize)
	n, err := r.ReadAt(sector, 0)
	if n < VBRSize {
		if err == nil || err == io.EOF {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "read sector 0")
	}
	return vbrLength(sector)
}

func vbrLength(sector []byte) (int64, bool, error) {
	vbr, err := ParseVBR(sector)
	if err != nil {
		if errors.Is(err, ErrNotVBR) {
			return 0, false, nil
		}
		return 0, false, err
	}
	length, err := vbr.PartitionLength()
	if err != nil {
		return 0, false, err
	}
	return length, length > 0, nil
}
