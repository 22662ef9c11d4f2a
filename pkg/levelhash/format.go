package levelhash

import (
	"encoding/binary"
	"fmt"

	"github.com/efeslab/levelhash/pkg/pm"
	"github.com/klauspost/crc32"
)

const (
	rootMagic   = "LVLH"
	rootVersion = uint32(1)

	resizeIdle      = uint32(0)
	resizeExpanding = uint32(1)
	resizeShrinking = uint32(2)
)

// root field byte offsets within the fixed-size root record.
const (
	rOffMagic          = 0
	rOffVersion        = rOffMagic + 4
	rOffKeyLen         = rOffVersion + 4
	rOffValueLen       = rOffKeyLen + 4
	rOffAssocNum       = rOffValueLen + 4
	rOffLogLength      = rOffAssocNum + 4
	rOffLevelSize      = rOffLogLength + 4
	rOffAddrCapacity   = rOffLevelSize + 8
	rOffTotalCapacity  = rOffAddrCapacity + 8
	rOffCount0         = rOffTotalCapacity + 8
	rOffCount1         = rOffCount0 + 8
	rOffExpandTime     = rOffCount1 + 8
	rOffResizeState    = rOffExpandTime + 8
	rOffFSeed          = rOffResizeState + 8 // 4 bytes state + 4 pad
	rOffSSeed          = rOffFSeed + 8
	rOffL0             = rOffSSeed + 8
	rOffL1             = rOffL0 + 8
	rOffInterim        = rOffL1 + 8
	rOffInterimCap     = rOffInterim + 8
	rOffLog            = rOffInterimCap + 8
	rOffCRC            = rOffLog + 8
	rootSizeUnaligned  = rOffCRC + 4
)

var rootSize = align8(rootSizeUnaligned)

var rootCRCTable = crc32.MakeTable(crc32.Castagnoli)

func align8(n uint64) uint64 { return (n + 7) &^ 7 }
func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// rootData is the in-memory mirror of the persisted table root.
type rootData struct {
	keyLen, valueLen, assocNum, logLength uint32
	levelSize                             uint64
	addrCapacity, totalCapacity           uint64
	count0, count1                        uint64
	expandTime                            uint64
	resizeState                           uint32
	fSeed, sSeed                          uint64
	l0, l1, interim                       pm.Offset
	interimCap                            uint64
	logOffset                             pm.Offset
}

func (r *rootData) encode(buf []byte) {
	copy(buf[rOffMagic:rOffMagic+4], rootMagic)
	binary.LittleEndian.PutUint32(buf[rOffVersion:], rootVersion)
	binary.LittleEndian.PutUint32(buf[rOffKeyLen:], r.keyLen)
	binary.LittleEndian.PutUint32(buf[rOffValueLen:], r.valueLen)
	binary.LittleEndian.PutUint32(buf[rOffAssocNum:], r.assocNum)
	binary.LittleEndian.PutUint32(buf[rOffLogLength:], r.logLength)
	binary.LittleEndian.PutUint64(buf[rOffLevelSize:], r.levelSize)
	binary.LittleEndian.PutUint64(buf[rOffAddrCapacity:], r.addrCapacity)
	binary.LittleEndian.PutUint64(buf[rOffTotalCapacity:], r.totalCapacity)
	binary.LittleEndian.PutUint64(buf[rOffCount0:], r.count0)
	binary.LittleEndian.PutUint64(buf[rOffCount1:], r.count1)
	binary.LittleEndian.PutUint64(buf[rOffExpandTime:], r.expandTime)
	binary.LittleEndian.PutUint64(buf[rOffResizeState:], uint64(r.resizeState))
	binary.LittleEndian.PutUint64(buf[rOffFSeed:], r.fSeed)
	binary.LittleEndian.PutUint64(buf[rOffSSeed:], r.sSeed)
	binary.LittleEndian.PutUint64(buf[rOffL0:], uint64(r.l0))
	binary.LittleEndian.PutUint64(buf[rOffL1:], uint64(r.l1))
	binary.LittleEndian.PutUint64(buf[rOffInterim:], uint64(r.interim))
	binary.LittleEndian.PutUint64(buf[rOffInterimCap:], r.interimCap)
	binary.LittleEndian.PutUint64(buf[rOffLog:], uint64(r.logOffset))
	binary.LittleEndian.PutUint32(buf[rOffCRC:], 0)
	crc := crc32.Checksum(buf[:rootSize], rootCRCTable)
	binary.LittleEndian.PutUint32(buf[rOffCRC:], crc)
}

func decodeRoot(buf []byte) (*rootData, error) {
	if string(buf[rOffMagic:rOffMagic+4]) != rootMagic {
		return nil, ErrCorrupt
	}
	if binary.LittleEndian.Uint32(buf[rOffVersion:]) != rootVersion {
		return nil, ErrIncompatible
	}
	stored := binary.LittleEndian.Uint32(buf[rOffCRC:])
	tmp := make([]byte, rootSize)
	copy(tmp, buf[:rootSize])
	binary.LittleEndian.PutUint32(tmp[rOffCRC:], 0)
	if crc32.Checksum(tmp, rootCRCTable) != stored {
		return nil, ErrCorrupt
	}
	r := &rootData{
		keyLen:      binary.LittleEndian.Uint32(buf[rOffKeyLen:]),
		valueLen:    binary.LittleEndian.Uint32(buf[rOffValueLen:]),
		assocNum:    binary.LittleEndian.Uint32(buf[rOffAssocNum:]),
		logLength:   binary.LittleEndian.Uint32(buf[rOffLogLength:]),
		levelSize:   binary.LittleEndian.Uint64(buf[rOffLevelSize:]),
		addrCapacity: binary.LittleEndian.Uint64(buf[rOffAddrCapacity:]),
		totalCapacity: binary.LittleEndian.Uint64(buf[rOffTotalCapacity:]),
		count0:      binary.LittleEndian.Uint64(buf[rOffCount0:]),
		count1:      binary.LittleEndian.Uint64(buf[rOffCount1:]),
		expandTime:  binary.LittleEndian.Uint64(buf[rOffExpandTime:]),
		resizeState: uint32(binary.LittleEndian.Uint64(buf[rOffResizeState:])),
		fSeed:       binary.LittleEndian.Uint64(buf[rOffFSeed:]),
		sSeed:       binary.LittleEndian.Uint64(buf[rOffSSeed:]),
		l0:          pm.Offset(binary.LittleEndian.Uint64(buf[rOffL0:])),
		l1:          pm.Offset(binary.LittleEndian.Uint64(buf[rOffL1:])),
		interim:     pm.Offset(binary.LittleEndian.Uint64(buf[rOffInterim:])),
		interimCap:  binary.LittleEndian.Uint64(buf[rOffInterimCap:]),
		logOffset:   pm.Offset(binary.LittleEndian.Uint64(buf[rOffLog:])),
	}
	return r, nil
}

// layout computes the derived byte layout (slot/bucket/log sizes) from
// a table's configured dimensions. All sizes are deterministic
// functions of Options, so layout never needs to be persisted itself.
type layout struct {
	keyLen, valueLen, assocNum, logLength uint32
}

func newLayout(r *rootData) layout {
	return layout{keyLen: r.keyLen, valueLen: r.valueLen, assocNum: r.assocNum, logLength: r.logLength}
}

func (l layout) slotSize() uint64 { return uint64(l.keyLen + l.valueLen) }

func (l layout) slotsSize() uint64 { return l.slotSize() * uint64(l.assocNum) }

func (l layout) tokenOffset() uint64 { return align4(l.slotsSize()) }

func (l layout) bucketSize() uint64 { return align8(l.tokenOffset() + 4) }

func (l layout) levelSize(bucketCount uint64) uint64 { return bucketCount * l.bucketSize() }

func (l layout) valueEntrySize() uint64 {
	return align8(uint64(l.keyLen) + uint64(l.valueLen) + 1)
}

func (l layout) insertEntrySize() uint64 {
	// key + value + level(1) + bucket(8) + slot(1) + flag(1)
	return align8(uint64(l.keyLen) + uint64(l.valueLen) + 1 + 8 + 1 + 1)
}

const (
	logOffValueCurrent  = 0
	logOffInsertCurrent = 8
	logHeaderSize       = 16
)

func (l layout) logRegionSize() uint64 {
	return logHeaderSize + uint64(l.logLength)*l.valueEntrySize() + uint64(l.logLength)*l.insertEntrySize()
}

func (l layout) valueEntriesOffset() uint64 { return logHeaderSize }

func (l layout) insertEntriesOffset() uint64 {
	return l.valueEntriesOffset() + uint64(l.logLength)*l.valueEntrySize()
}

func fmtOffsetErr(what string, off pm.Offset) error {
	return fmt.Errorf("levelhash: %s at offset %d out of range", what, off)
}
