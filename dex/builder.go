package dex

import (
	"errors"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Code builder
// ---------------------------------------------------------------------------

// Label marks a position in the code being built. Forward references are
// patched when the builder is finished.
type Label struct {
	resolved bool
	position int
	name     string
}

// PC returns the resolved address, or -1 if the label is not yet bound.
func (l *Label) PC() int {
	if !l.resolved {
		return -1
	}
	return l.position
}

type offsetWidth uint8

const (
	offset8 offsetWidth = iota
	offset16
	offset32
)

type fixup struct {
	at     int // code unit index receiving the offset
	width  offsetWidth
	from   int    // instruction address the offset is relative to
	base   *Label // overrides from when set (switch payload entries)
	target *Label
}

// Builder assembles code units for a method body.
type Builder struct {
	code   []uint16
	fixups []fixup
	err    error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// NewLabel creates an unbound label.
func (b *Builder) NewLabel(name string) *Label {
	return &Label{name: name}
}

// Mark binds a label to the current position.
func (b *Builder) Mark(l *Label) {
	if l.resolved {
		b.setErr(fmt.Errorf("label %q bound twice", l.name))
		return
	}
	l.resolved = true
	l.position = len(b.code)
}

// PC returns the address of the next instruction.
func (b *Builder) PC() int {
	return len(b.code)
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) checkFormat(op Opcode, want ...Format) {
	got := op.Info().Format
	for _, f := range want {
		if got == f {
			return
		}
	}
	b.setErr(fmt.Errorf("%s cannot be emitted as format %v", op.Name(), want))
}

func unit0(op Opcode, hi uint16) uint16 {
	return uint16(op) | hi<<8
}

// Raw appends arbitrary code units.
func (b *Builder) Raw(units ...uint16) {
	b.code = append(b.code, units...)
}

// Op emits a 10x instruction.
func (b *Builder) Op(op Opcode) {
	b.checkFormat(op, Format10x)
	b.code = append(b.code, unit0(op, 0))
}

// Op12 emits an instruction taking two 4-bit registers (12x).
func (b *Builder) Op12(op Opcode, a, bReg uint16) {
	b.checkFormat(op, Format12x)
	b.code = append(b.code, unit0(op, (a&0xf)|(bReg&0xf)<<4))
}

// Const4 emits const/4 with a literal in [-8, 7].
func (b *Builder) Const4(a uint16, lit int32) {
	if lit < -8 || lit > 7 {
		b.setErr(fmt.Errorf("const/4 literal %d out of range", lit))
	}
	b.code = append(b.code, unit0(OpConst4, (a&0xf)|(uint16(lit)&0xf)<<4))
}

// Op11 emits an instruction taking one 8-bit register (11x).
func (b *Builder) Op11(op Opcode, a uint16) {
	b.checkFormat(op, Format11x)
	b.code = append(b.code, unit0(op, a&0xff))
}

// Op22x emits a from16 move.
func (b *Builder) Op22x(op Opcode, a, bReg uint16) {
	b.checkFormat(op, Format22x)
	b.code = append(b.code, unit0(op, a&0xff), bReg)
}

// Op32x emits a /16 move.
func (b *Builder) Op32x(op Opcode, a, bReg uint16) {
	b.checkFormat(op, Format32x)
	b.code = append(b.code, unit0(op, 0), a, bReg)
}

// Op21 emits a 21s, 21h or 21c instruction. For 21h the literal is the high
// 16 bits only.
func (b *Builder) Op21(op Opcode, a uint16, operand int32) {
	b.checkFormat(op, Format21s, Format21h, Format21c)
	b.code = append(b.code, unit0(op, a&0xff), uint16(operand))
}

// Op31 emits a 31i or 31c instruction.
func (b *Builder) Op31(op Opcode, a uint16, operand int32) {
	b.checkFormat(op, Format31i, Format31c)
	u := uint32(operand)
	b.code = append(b.code, unit0(op, a&0xff), uint16(u), uint16(u>>16))
}

// ConstWide emits const-wide with a 64-bit literal.
func (b *Builder) ConstWide(a uint16, lit int64) {
	u := uint64(lit)
	b.code = append(b.code, unit0(OpConstWide, a&0xff),
		uint16(u), uint16(u>>16), uint16(u>>32), uint16(u>>48))
}

// Op23 emits a three-register instruction (23x).
func (b *Builder) Op23(op Opcode, a, bReg, c uint16) {
	b.checkFormat(op, Format23x)
	b.code = append(b.code, unit0(op, a&0xff), (bReg&0xff)|(c&0xff)<<8)
}

// Op22 emits a 22b, 22s or 22c instruction. The third operand is a literal
// or a pool index depending on the format.
func (b *Builder) Op22(op Opcode, a, bReg uint16, c int32) {
	switch op.Info().Format {
	case Format22b:
		if c < math.MinInt8 || c > math.MaxInt8 {
			b.setErr(fmt.Errorf("%s literal %d out of range", op.Name(), c))
		}
		b.code = append(b.code, unit0(op, a&0xff), (bReg&0xff)|(uint16(c)&0xff)<<8)
	case Format22s, Format22c:
		b.code = append(b.code, unit0(op, (a&0xf)|(bReg&0xf)<<4), uint16(c))
	default:
		b.checkFormat(op, Format22b, Format22s, Format22c)
	}
}

// Invoke emits a 35c instruction with up to five argument registers.
func (b *Builder) Invoke(op Opcode, index uint16, args ...uint16) {
	b.checkFormat(op, Format35c)
	if len(args) > 5 {
		b.setErr(fmt.Errorf("%s takes at most 5 registers, got %d", op.Name(), len(args)))
		args = args[:5]
	}
	var regs [5]uint16
	copy(regs[:], args)
	u0 := unit0(op, uint16(len(args))<<4|regs[4]&0xf)
	u2 := regs[0]&0xf | (regs[1]&0xf)<<4 | (regs[2]&0xf)<<8 | (regs[3]&0xf)<<12
	b.code = append(b.code, u0, index, u2)
}

// InvokeRange emits a 3rc instruction over count registers starting at first.
func (b *Builder) InvokeRange(op Opcode, index, first uint16, count int) {
	b.checkFormat(op, Format3rc)
	if count > 255 {
		b.setErr(fmt.Errorf("%s range of %d registers too long", op.Name(), count))
	}
	b.code = append(b.code, unit0(op, uint16(count)&0xff), index, first)
}

// ---------------------------------------------------------------------------
// Branches
// ---------------------------------------------------------------------------

func (b *Builder) addFixup(at int, width offsetWidth, from int, target *Label) {
	b.fixups = append(b.fixups, fixup{at: at, width: width, from: from, target: target})
}

// Goto emits goto, goto/16 or goto/32 to target.
func (b *Builder) Goto(op Opcode, target *Label) {
	pc := len(b.code)
	switch op {
	case OpGoto:
		b.code = append(b.code, unit0(op, 0))
		b.addFixup(pc, offset8, pc, target)
	case OpGoto16:
		b.code = append(b.code, unit0(op, 0), 0)
		b.addFixup(pc+1, offset16, pc, target)
	case OpGoto32:
		b.code = append(b.code, unit0(op, 0), 0, 0)
		b.addFixup(pc+1, offset32, pc, target)
	default:
		b.setErr(fmt.Errorf("%s is not a goto", op.Name()))
	}
}

// If emits a two-register conditional branch (22t).
func (b *Builder) If(op Opcode, a, bReg uint16, target *Label) {
	b.checkFormat(op, Format22t)
	pc := len(b.code)
	b.code = append(b.code, unit0(op, (a&0xf)|(bReg&0xf)<<4), 0)
	b.addFixup(pc+1, offset16, pc, target)
}

// IfZ emits a compare-with-zero branch (21t).
func (b *Builder) IfZ(op Opcode, a uint16, target *Label) {
	b.checkFormat(op, Format21t)
	pc := len(b.code)
	b.code = append(b.code, unit0(op, a&0xff), 0)
	b.addFixup(pc+1, offset16, pc, target)
}

// PayloadRef emits a switch or fill-array-data instruction pointing at the
// payload bound to table.
func (b *Builder) PayloadRef(op Opcode, a uint16, table *Label) {
	b.checkFormat(op, Format31t)
	pc := len(b.code)
	b.code = append(b.code, unit0(op, a&0xff), 0, 0)
	b.addFixup(pc+1, offset32, pc, table)
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// AlignPayload pads with a nop so the next payload starts on an even address.
func (b *Builder) AlignPayload() {
	if len(b.code)%2 != 0 {
		b.code = append(b.code, uint16(OpNop))
	}
}

func (b *Builder) put32(v int32) {
	u := uint32(v)
	b.code = append(b.code, uint16(u), uint16(u>>16))
}

func (b *Builder) payloadTargets(sw *Label, targets []*Label) {
	for _, t := range targets {
		at := len(b.code)
		b.put32(0)
		b.fixups = append(b.fixups, fixup{at: at, width: offset32, base: sw, target: t})
	}
}

// PackedSwitchPayload emits a packed-switch table. Targets are relative to
// the switch instruction bound to sw.
func (b *Builder) PackedSwitchPayload(sw *Label, firstKey int32, targets []*Label) {
	b.code = append(b.code, PackedSwitchSignature, uint16(len(targets)))
	b.put32(firstKey)
	b.payloadTargets(sw, targets)
}

// SparseSwitchPayload emits a sparse-switch table. Keys must be sorted.
func (b *Builder) SparseSwitchPayload(sw *Label, keys []int32, targets []*Label) {
	if len(keys) != len(targets) {
		b.setErr(errors.New("sparse-switch keys and targets differ in length"))
		return
	}
	b.code = append(b.code, SparseSwitchSignature, uint16(len(keys)))
	for _, k := range keys {
		b.put32(k)
	}
	b.payloadTargets(sw, targets)
}

// ArrayDataPayload emits a fill-array-data table of count elements of the
// given width. data is little-endian and must hold width*count bytes.
func (b *Builder) ArrayDataPayload(width, count int, data []byte) {
	if len(data) != width*count {
		b.setErr(fmt.Errorf("array-data holds %d bytes, want %d", len(data), width*count))
		return
	}
	b.code = append(b.code, ArrayDataSignature, uint16(width))
	b.put32(int32(count))
	for i := 0; i < len(data); i += 2 {
		u := uint16(data[i])
		if i+1 < len(data) {
			u |= uint16(data[i+1]) << 8
		}
		b.code = append(b.code, u)
	}
}

// Build patches all label references and returns the code units.
func (b *Builder) Build() ([]uint16, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.fixups {
		if !f.target.resolved {
			return nil, fmt.Errorf("label %q never bound", f.target.name)
		}
		from := f.from
		if f.base != nil {
			if !f.base.resolved {
				return nil, fmt.Errorf("label %q never bound", f.base.name)
			}
			from = f.base.position
		}
		off := f.target.position - from
		switch f.width {
		case offset8:
			if off < math.MinInt8 || off > math.MaxInt8 {
				return nil, fmt.Errorf("branch to %q at %d does not fit in 8 bits", f.target.name, f.at)
			}
			b.code[f.at] = b.code[f.at]&0xff | uint16(uint8(int8(off)))<<8
		case offset16:
			if off < math.MinInt16 || off > math.MaxInt16 {
				return nil, fmt.Errorf("branch to %q at %d does not fit in 16 bits", f.target.name, f.at)
			}
			b.code[f.at] = uint16(int16(off))
		case offset32:
			u := uint32(int32(off))
			b.code[f.at] = uint16(u)
			b.code[f.at+1] = uint16(u >> 16)
		}
	}
	out := make([]uint16, len(b.code))
	copy(out, b.code)
	return out, nil
}
