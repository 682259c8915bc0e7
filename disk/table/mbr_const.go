package table

const (
	MBRSignature510        = 0x55
	MBRSignature511        = 0xAA
	MBRPartitionEntryCount = 4
	MBRDefaultLBASize      = 1 << 9
	MBRPartitionBootable   = 0x80

	// _MaxEBRCount EBR链的最大长度, 超过时视为链表成环或已损坏.
	_MaxEBRCount = 128
)

// MBRPartitionType 表示MBR结构下的分区类型.
// 见 https://en.wikipedia.org/wiki/Partition_type.
type MBRPartitionType = byte

const (
	Empty               MBRPartitionType = 0x00
	FAT12               MBRPartitionType = 0x01
	ExtendCHS           MBRPartitionType = 0x05
	FAT16               MBRPartitionType = 0x06
	NTFS                MBRPartitionType = 0x07
	FAT32               MBRPartitionType = 0x0B
	FAT32X              MBRPartitionType = 0x0C
	FAT16X              MBRPartitionType = 0x0E
	ExtendLBA           MBRPartitionType = 0x0F
	HiddenExtendCHS     MBRPartitionType = 0x15
	HiddenExtendLBA     MBRPartitionType = 0x1F
	WindowsRecoveryEnv  MBRPartitionType = 0x27
	LinuxSwap           MBRPartitionType = 0x82
	Linux               MBRPartitionType = 0x83
	LinuxExtend         MBRPartitionType = 0x85
	LinuxLVM            MBRPartitionType = 0x8E
	EFIGPTProtectiveMBR MBRPartitionType = 0xEE
	EFISystemPartition  MBRPartitionType = 0xEF
	LinuxRAID           MBRPartitionType = 0xFD
)

// MBRPartitionTypeDesc MBR分区类型的描述字典.
var MBRPartitionTypeDesc = map[MBRPartitionType]string{
	Empty:               "Empty",
	FAT12:               "FAT12",
	ExtendCHS:           "Extended, CHS",
	FAT16:               "FAT16",
	NTFS:                "NTFS/exFAT",
	FAT32:               "FAT32",
	FAT32X:              "FAT32X",
	FAT16X:              "FAT16X",
	ExtendLBA:           "Extended, LBA",
	HiddenExtendCHS:     "Hidden Extended, CHS",
	HiddenExtendLBA:     "Hidden Extended, LBA",
	WindowsRecoveryEnv:  "Windows recovery environment",
	LinuxSwap:           "Linux Swap",
	Linux:               "Linux",
	LinuxExtend:         "Linux Extended",
	LinuxLVM:            "Linux LVM",
	EFIGPTProtectiveMBR: "EFI GPT protective MBR",
	EFISystemPartition:  "EFI system partition",
	LinuxRAID:           "Linux RAID",
}

// MBRExtendPartTypes MBR扩展分区类型标记集合.
var MBRExtendPartTypes = []MBRPartitionType{ExtendCHS, ExtendLBA, HiddenExtendCHS, HiddenExtendLBA, LinuxExtend}
