package verifier

import (
	"errors"
	"fmt"
	"sort"
)

// GC map formats, stored in the low three bits of the header.
const (
	GcMapFormatCompact8  = 2
	GcMapFormatCompact16 = 3

	gcMapFormatMask  = 0x7
	gcMapFormatShift = 5
	gcMapHeaderSize  = 4
)

// ErrBadGcMap is returned when decoding a malformed GC map.
var ErrBadGcMap = errors.New("malformed gc map")

// gcMapSizes returns the number of GC points, the number of bitmap bits
// needed for the highest register holding a reference, and the bits needed
// to encode the highest GC point pc.
func (v *MethodVerifier) gcMapSizes() (entries, refBits, pcBits int) {
	maxPC, maxRef := 0, -1
	for pc := range v.insnFlags {
		if !v.insnFlags[pc].IsCompileTimeInfoPoint() {
			continue
		}
		entries++
		maxPC = pc
		line := v.lines[pc]
		for reg := line.Len() - 1; reg > maxRef; reg-- {
			if line.Get(reg).IsNonZeroReferenceTypes() {
				maxRef = reg
				break
			}
		}
	}
	for 1<<pcBits <= maxPC {
		pcBits++
	}
	return entries, maxRef + 1, pcBits
}

// generateGcMap encodes, for every GC point, the registers holding non-null
// references. The header is the format tag, the bitmap width in bytes and
// the little-endian entry count; each entry is the pc (one or two bytes)
// followed by the bitmap.
func (v *MethodVerifier) generateGcMap() []byte {
	entries, refBits, pcBits := v.gcMapSizes()
	if refBits >= 8*8192 {
		v.Fail(VerifyErrorBadClassHard, "Cannot encode GC map for method with %d registers", refBits)
		return nil
	}
	refBytes := (refBits + 7) / 8
	if entries >= 1<<16 {
		v.Fail(VerifyErrorBadClassHard, "Cannot encode GC map for method with %d entries", entries)
		return nil
	}
	var format, pcBytes int
	switch {
	case pcBits <= 8:
		format, pcBytes = GcMapFormatCompact8, 1
	case pcBits <= 16:
		format, pcBytes = GcMapFormatCompact16, 2
	default:
		v.Fail(VerifyErrorBadClassHard, "Cannot encode GC map for method with %d instructions (number is rounded up to nearest power of 2)", 1<<pcBits)
		return nil
	}
	table := make([]byte, 0, gcMapHeaderSize+(pcBytes+refBytes)*entries)
	table = append(table,
		byte(format|((refBytes>>gcMapFormatShift)&^gcMapFormatMask)),
		byte(refBytes),
		byte(entries),
		byte(entries>>8))
	for pc := range v.insnFlags {
		if !v.insnFlags[pc].IsCompileTimeInfoPoint() {
			continue
		}
		table = append(table, byte(pc))
		if pcBytes == 2 {
			table = append(table, byte(pc>>8))
		}
		table = append(table, v.lines[pc].ReferenceBitmap(refBytes)...)
	}
	return table
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// GcMap is a decoded GC map.
type GcMap struct {
	Format   int
	RefBytes int
	Entries  []GcMapEntry
}

// GcMapEntry is the reference bitmap of one GC point.
type GcMapEntry struct {
	PC     int
	Bitmap []byte
}

// DecodeGcMap parses a GC map produced by the verifier.
func DecodeGcMap(data []byte) (*GcMap, error) {
	if len(data) < gcMapHeaderSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrBadGcMap, len(data))
	}
	m := &GcMap{
		Format:   int(data[0] & gcMapFormatMask),
		RefBytes: int(data[0]&^gcMapFormatMask)<<gcMapFormatShift | int(data[1]),
	}
	var pcBytes int
	switch m.Format {
	case GcMapFormatCompact8:
		pcBytes = 1
	case GcMapFormatCompact16:
		pcBytes = 2
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrBadGcMap, m.Format)
	}
	count := int(data[2]) | int(data[3])<<8
	entrySize := pcBytes + m.RefBytes
	body := data[gcMapHeaderSize:]
	if len(body) != count*entrySize {
		return nil, fmt.Errorf("%w: %d entries of %d bytes in %d bytes", ErrBadGcMap, count, entrySize, len(body))
	}
	m.Entries = make([]GcMapEntry, count)
	for i := range m.Entries {
		e := body[i*entrySize : (i+1)*entrySize]
		pc := int(e[0])
		if pcBytes == 2 {
			pc |= int(e[1]) << 8
		}
		m.Entries[i] = GcMapEntry{PC: pc, Bitmap: e[pcBytes:]}
	}
	return m, nil
}

// Bitmap returns the reference bitmap at pc.
func (m *GcMap) Bitmap(pc int) ([]byte, bool) {
	i := sort.Search(len(m.Entries), func(i int) bool { return m.Entries[i].PC >= pc })
	if i < len(m.Entries) && m.Entries[i].PC == pc {
		return m.Entries[i].Bitmap, true
	}
	return nil, false
}

// References returns the registers holding references at pc.
func (m *GcMap) References(pc int) []int {
	bits, ok := m.Bitmap(pc)
	if !ok {
		return nil
	}
	var regs []int
	for i, b := range bits {
		for j := 0; j < 8; j++ {
			if b&(1<<j) != 0 {
				regs = append(regs, i*8+j)
			}
		}
	}
	return regs
}
