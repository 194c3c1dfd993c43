package dex

import (
	"fmt"
	"strings"
)

// Instruction is a view over one instruction in a method's code units.
type Instruction struct {
	code []uint16
	pc   int
}

// At returns the instruction starting at pc. The caller is responsible for
// bounds checking against SizeInCodeUnits.
func At(code []uint16, pc int) Instruction {
	return Instruction{code: code, pc: pc}
}

// PC returns the address of the instruction in code units.
func (in Instruction) PC() int { return in.pc }

func (in Instruction) unit(i int) uint16 {
	if in.pc+i >= len(in.code) {
		return 0
	}
	return in.code[in.pc+i]
}

// Opcode returns the instruction's opcode.
func (in Instruction) Opcode() Opcode {
	return Opcode(in.unit(0) & 0xff)
}

// Info returns the opcode metadata.
func (in Instruction) Info() OpcodeInfo {
	return in.Opcode().Info()
}

// IsPayload reports whether the unit at pc starts a switch or array-data table.
func (in Instruction) IsPayload() bool {
	switch in.unit(0) {
	case PackedSwitchSignature, SparseSwitchSignature, ArrayDataSignature:
		return true
	}
	return false
}

// SizeInCodeUnits returns the width of the instruction, including payload
// tables.
func (in Instruction) SizeInCodeUnits() int {
	switch in.unit(0) {
	case PackedSwitchSignature:
		return 4 + int(in.unit(1))*2
	case SparseSwitchSignature:
		return 2 + int(in.unit(1))*4
	case ArrayDataSignature:
		width := int(in.unit(1))
		count := int(in.unit(2)) | int(in.unit(3))<<16
		return 4 + (width*count+1)/2
	}
	return in.Info().Format.Size()
}

// Next returns the instruction following this one.
func (in Instruction) Next() Instruction {
	return Instruction{code: in.code, pc: in.pc + in.SizeInCodeUnits()}
}

// ---------------------------------------------------------------------------
// Operand accessors
// ---------------------------------------------------------------------------

// VRegA returns the first operand. For 35c it is the argument count, and for
// branch formats it is the signed offset.
func (in Instruction) VRegA() int32 {
	u0 := in.unit(0)
	switch in.Info().Format {
	case Format12x, Format11n, Format22t, Format22s, Format22c:
		return int32((u0 >> 8) & 0xf)
	case Format11x, Format10t, Format22x, Format21t, Format21s, Format21h,
		Format21c, Format23x, Format22b, Format31i, Format31t, Format31c,
		Format51l, Format3rc:
		if in.Info().Format == Format10t {
			return int32(int8(u0 >> 8))
		}
		return int32(u0 >> 8)
	case Format20t:
		return int32(int16(in.unit(1)))
	case Format30t:
		return int32(uint32(in.unit(1)) | uint32(in.unit(2))<<16)
	case Format32x:
		return int32(in.unit(1))
	case Format35c:
		return int32(u0 >> 12)
	}
	return 0
}

// VRegB returns the second operand. Literals are sign-extended; 21h values
// are returned unshifted.
func (in Instruction) VRegB() int32 {
	u0 := in.unit(0)
	switch in.Info().Format {
	case Format12x, Format22t, Format22s, Format22c:
		return int32(u0 >> 12)
	case Format11n:
		return int32(int16(u0)) >> 12
	case Format22x, Format21c, Format35c, Format3rc:
		return int32(in.unit(1))
	case Format21t, Format21s, Format21h:
		if in.Info().Format == Format21h {
			return int32(in.unit(1))
		}
		return int32(int16(in.unit(1)))
	case Format23x, Format22b:
		return int32(in.unit(1) & 0xff)
	case Format31i, Format31t, Format31c:
		return int32(uint32(in.unit(1)) | uint32(in.unit(2))<<16)
	case Format32x:
		return int32(in.unit(2))
	case Format51l:
		return int32(in.WideLiteral())
	}
	return 0
}

// WideLiteral returns the 64-bit literal of a 51l instruction.
func (in Instruction) WideLiteral() int64 {
	var v uint64
	for i := 4; i >= 1; i-- {
		v = v<<16 | uint64(in.unit(i))
	}
	return int64(v)
}

// VRegC returns the third operand.
func (in Instruction) VRegC() int32 {
	switch in.Info().Format {
	case Format23x:
		return int32(in.unit(1) >> 8)
	case Format22b:
		return int32(int8(in.unit(1) >> 8))
	case Format22t, Format22s:
		return int32(int16(in.unit(1)))
	case Format22c:
		return int32(in.unit(1))
	case Format35c:
		return int32(in.unit(2) & 0xf)
	case Format3rc:
		return int32(in.unit(2))
	}
	return 0
}

// Args returns the argument registers of a 35c instruction.
func (in Instruction) Args() []uint32 {
	u2 := in.unit(2)
	all := [5]uint32{
		uint32(u2 & 0xf),
		uint32((u2 >> 4) & 0xf),
		uint32((u2 >> 8) & 0xf),
		uint32(u2 >> 12),
		uint32((in.unit(0) >> 8) & 0xf),
	}
	n := int(in.VRegA())
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// ArgRegs returns the argument registers of an invoke or filled-new-array
// instruction regardless of encoding.
func (in Instruction) ArgRegs() []uint32 {
	if in.Info().Format == Format3rc {
		first := uint32(in.VRegC())
		regs := make([]uint32, in.VRegA())
		for i := range regs {
			regs[i] = first + uint32(i)
		}
		return regs
	}
	return in.Args()
}

// ArgCount returns the number of argument registers.
func (in Instruction) ArgCount() int {
	return int(in.VRegA())
}

// IndexOperand returns the pool index referenced by a 21c, 22c, 31c, 35c or
// 3rc instruction.
func (in Instruction) IndexOperand() uint32 {
	switch in.Info().Format {
	case Format22c:
		return uint32(in.VRegC())
	case Format21c, Format31c, Format35c, Format3rc:
		return uint32(in.VRegB())
	}
	return 0
}

// BranchOffset returns the relative target for branch instructions, or
// (0, false) for everything else.
func (in Instruction) BranchOffset() (int32, bool) {
	switch in.Info().Format {
	case Format10t, Format20t, Format30t:
		return in.VRegA(), true
	case Format21t:
		return in.VRegB(), true
	case Format22t:
		return in.VRegC(), true
	}
	return 0, false
}

// PayloadOffset returns the relative address of the table referenced by a
// switch or fill-array-data instruction.
func (in Instruction) PayloadOffset() int32 {
	return in.VRegB()
}

// ---------------------------------------------------------------------------
// Payload tables
// ---------------------------------------------------------------------------

// SwitchTable is a decoded packed or sparse switch payload.
type SwitchTable struct {
	Keys    []int32
	Targets []int32 // relative to the switch instruction
}

// DecodeSwitch decodes the switch payload located at pc. It does no
// validation beyond what is needed to stay within code.
func DecodeSwitch(code []uint16, pc int) (SwitchTable, error) {
	if pc < 0 || pc+2 > len(code) {
		return SwitchTable{}, fmt.Errorf("switch payload at %d out of range", pc)
	}
	read32 := func(i int) int32 {
		return int32(uint32(code[i]) | uint32(code[i+1])<<16)
	}
	size := int(code[pc+1])
	switch code[pc] {
	case PackedSwitchSignature:
		if pc+4+size*2 > len(code) {
			return SwitchTable{}, fmt.Errorf("packed-switch payload at %d truncated", pc)
		}
		first := read32(pc + 2)
		t := SwitchTable{Keys: make([]int32, size), Targets: make([]int32, size)}
		for i := 0; i < size; i++ {
			t.Keys[i] = first + int32(i)
			t.Targets[i] = read32(pc + 4 + i*2)
		}
		return t, nil
	case SparseSwitchSignature:
		if pc+2+size*4 > len(code) {
			return SwitchTable{}, fmt.Errorf("sparse-switch payload at %d truncated", pc)
		}
		t := SwitchTable{Keys: make([]int32, size), Targets: make([]int32, size)}
		for i := 0; i < size; i++ {
			t.Keys[i] = read32(pc + 2 + i*2)
			t.Targets[i] = read32(pc + 2 + size*2 + i*2)
		}
		return t, nil
	}
	return SwitchTable{}, fmt.Errorf("no switch payload at %d (ident 0x%04x)", pc, code[pc])
}

// ArrayData is a decoded fill-array-data payload.
type ArrayData struct {
	ElementWidth int
	Count        int
	Data         []byte
}

// DecodeArrayData decodes the array-data payload located at pc.
func DecodeArrayData(code []uint16, pc int) (ArrayData, error) {
	if pc < 0 || pc+4 > len(code) || code[pc] != ArrayDataSignature {
		return ArrayData{}, fmt.Errorf("no array-data payload at %d", pc)
	}
	d := ArrayData{
		ElementWidth: int(code[pc+1]),
		Count:        int(code[pc+2]) | int(code[pc+3])<<16,
	}
	n := d.ElementWidth * d.Count
	if pc+4+(n+1)/2 > len(code) {
		return ArrayData{}, fmt.Errorf("array-data payload at %d truncated", pc)
	}
	d.Data = make([]byte, n)
	for i := 0; i < n; i++ {
		u := code[pc+4+i/2]
		if i%2 == 0 {
			d.Data[i] = byte(u)
		} else {
			d.Data[i] = byte(u >> 8)
		}
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// String renders the instruction without resolving pool references.
func (in Instruction) String() string {
	if in.IsPayload() {
		switch in.unit(0) {
		case PackedSwitchSignature:
			return ".packed-switch-payload"
		case SparseSwitchSignature:
			return ".sparse-switch-payload"
		}
		return ".array-data-payload"
	}
	info := in.Info()
	var b strings.Builder
	b.WriteString(info.Name)
	switch info.Format {
	case Format12x, Format22x, Format32x:
		fmt.Fprintf(&b, " v%d, v%d", in.VRegA(), in.VRegB())
	case Format11n, Format21s, Format31i:
		fmt.Fprintf(&b, " v%d, #%d", in.VRegA(), in.VRegB())
	case Format21h:
		fmt.Fprintf(&b, " v%d, #0x%x", in.VRegA(), in.VRegB())
	case Format51l:
		fmt.Fprintf(&b, " v%d, #%d", in.VRegA(), in.WideLiteral())
	case Format11x:
		fmt.Fprintf(&b, " v%d", in.VRegA())
	case Format10t, Format20t, Format30t:
		fmt.Fprintf(&b, " %+d", in.VRegA())
	case Format21t, Format31t:
		fmt.Fprintf(&b, " v%d, %+d", in.VRegA(), in.VRegB())
	case Format21c, Format31c:
		fmt.Fprintf(&b, " v%d, @%d", in.VRegA(), in.VRegB())
	case Format23x:
		fmt.Fprintf(&b, " v%d, v%d, v%d", in.VRegA(), in.VRegB(), in.VRegC())
	case Format22b, Format22s:
		fmt.Fprintf(&b, " v%d, v%d, #%d", in.VRegA(), in.VRegB(), in.VRegC())
	case Format22t:
		fmt.Fprintf(&b, " v%d, v%d, %+d", in.VRegA(), in.VRegB(), in.VRegC())
	case Format22c:
		fmt.Fprintf(&b, " v%d, v%d, @%d", in.VRegA(), in.VRegB(), in.VRegC())
	case Format35c, Format3rc:
		regs := in.ArgRegs()
		parts := make([]string, len(regs))
		for i, r := range regs {
			parts[i] = fmt.Sprintf("v%d", r)
		}
		fmt.Fprintf(&b, " {%s}, @%d", strings.Join(parts, ", "), in.VRegB())
	}
	return b.String()
}

// Disassemble returns a listing of code, one instruction per line.
func Disassemble(code []uint16) string {
	var b strings.Builder
	for pc := 0; pc < len(code); {
		in := At(code, pc)
		fmt.Fprintf(&b, "%04x: %s\n", pc, in)
		size := in.SizeInCodeUnits()
		if size <= 0 {
			size = 1
		}
		pc += size
	}
	return b.String()
}
