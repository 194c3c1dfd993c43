package verifier

import (
	"fmt"
	"strings"

	"github.com/chazu/dexverify/dex"
)

// maxMonitorDepth bounds nested monitor-enter per method.
const maxMonitorDepth = 32

// failer records verification failures against the current instruction.
type failer interface {
	Fail(kind FailureKind, format string, args ...any)
}

// RegisterLine is the abstract machine state at one program point: one type
// per virtual register, the monitor stack and the pending result slot.
type RegisterLine struct {
	cache *Cache
	types []*RegType

	// monitors holds the pc of each active monitor-enter, innermost last.
	monitors []int
	// lockDepths maps a register to the bitset of monitor depths it locked.
	lockDepths map[int]uint32

	result [2]*RegType

	// thisInitialized is false in a constructor until the superclass or
	// sibling constructor has been called on every path.
	thisInitialized bool
}

// NewRegisterLine returns a line of n Undefined registers.
func NewRegisterLine(n int, cache *Cache) *RegisterLine {
	l := &RegisterLine{
		cache:      cache,
		types:      make([]*RegType, n),
		lockDepths: make(map[int]uint32),
	}
	for i := range l.types {
		l.types[i] = undefinedType
	}
	l.result = [2]*RegType{undefinedType, undefinedType}
	return l
}

// Len returns the number of registers.
func (l *RegisterLine) Len() int { return len(l.types) }

// Get returns the type of register reg.
func (l *RegisterLine) Get(reg int) *RegType { return l.types[reg] }

// Clone returns an independent copy of l.
func (l *RegisterLine) Clone() *RegisterLine {
	c := NewRegisterLine(len(l.types), l.cache)
	c.CopyFrom(l)
	return c
}

// CopyFrom overwrites l with the contents of src.
func (l *RegisterLine) CopyFrom(src *RegisterLine) {
	copy(l.types, src.types)
	l.monitors = append(l.monitors[:0], src.monitors...)
	clear(l.lockDepths)
	for reg, depths := range src.lockDepths {
		l.lockDepths[reg] = depths
	}
	l.result = src.result
	l.thisInitialized = src.thisInitialized
}

// Equals reports whether l and other describe the same state.
func (l *RegisterLine) Equals(other *RegisterLine) bool {
	if len(l.types) != len(other.types) || len(l.monitors) != len(other.monitors) ||
		len(l.lockDepths) != len(other.lockDepths) || l.thisInitialized != other.thisInitialized {
		return false
	}
	for i, t := range l.types {
		if t != other.types[i] {
			return false
		}
	}
	for i, pc := range l.monitors {
		if pc != other.monitors[i] {
			return false
		}
	}
	for reg, depths := range l.lockDepths {
		if other.lockDepths[reg] != depths {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Setting registers
// ---------------------------------------------------------------------------

// SetRegisterType stores a category-1 or reference type in reg. The other
// half of a wide value that reg used to hold is left for the caller.
func (l *RegisterLine) SetRegisterType(f failer, reg int, t *RegType) bool {
	switch {
	case t.IsLowHalf() || t.IsHighHalf():
		f.Fail(VerifyErrorBadClassHard, "expected category1 register type not '%s'", t)
		return false
	case t.IsConflict():
		f.Fail(VerifyErrorBadClassSoft, "set register to unknown type %s", t)
		return false
	}
	l.types[reg] = t
	delete(l.lockDepths, reg)
	return true
}

// SetRegisterTypeWide stores a wide value in reg and reg+1.
func (l *RegisterLine) SetRegisterTypeWide(f failer, reg int, lo, hi *RegType) bool {
	if !lo.CheckWidePair(hi) {
		f.Fail(VerifyErrorBadClassHard, "invalid wide pair '%s' '%s'", lo, hi)
		return false
	}
	l.types[reg] = lo
	l.types[reg+1] = hi
	delete(l.lockDepths, reg)
	delete(l.lockDepths, reg+1)
	return true
}

// SetResultTypeToUnknown invalidates the result slot.
func (l *RegisterLine) SetResultTypeToUnknown() {
	l.result = [2]*RegType{undefinedType, undefinedType}
}

// SetResultRegisterType records a category-1 or reference result.
func (l *RegisterLine) SetResultRegisterType(t *RegType) {
	l.result = [2]*RegType{t, undefinedType}
}

// SetResultRegisterTypeWide records a wide result.
func (l *RegisterLine) SetResultRegisterTypeWide(lo, hi *RegType) {
	l.result = [2]*RegType{lo, hi}
}

// ResultType returns the low half of the result slot.
func (l *RegisterLine) ResultType() *RegType { return l.result[0] }

// MarkAllRegistersAsConflicts kills every register.
func (l *RegisterLine) MarkAllRegistersAsConflicts() {
	for i := range l.types {
		l.types[i] = conflictType
	}
	clear(l.lockDepths)
}

// MarkAllRegistersAsConflictsExcept kills every register but reg.
func (l *RegisterLine) MarkAllRegistersAsConflictsExcept(reg int) {
	for i := range l.types {
		if i != reg {
			l.types[i] = conflictType
			delete(l.lockDepths, i)
		}
	}
}

// MarkAllRegistersAsConflictsExceptWide kills every register but the pair
// starting at reg.
func (l *RegisterLine) MarkAllRegistersAsConflictsExceptWide(reg int) {
	for i := range l.types {
		if i != reg && i != reg+1 {
			l.types[i] = conflictType
			delete(l.lockDepths, i)
		}
	}
}

// MarkUninitRefsAsInvalid kills every register that still holds the
// uninitialized value t.
func (l *RegisterLine) MarkUninitRefsAsInvalid(t *RegType) {
	for i, cur := range l.types {
		if cur.Equals(t) {
			l.types[i] = conflictType
			delete(l.lockDepths, i)
		}
	}
}

// MarkRefsAsInitialized retypes every alias of the uninitialized value t to
// its initialized type. It returns the number of registers changed.
func (l *RegisterLine) MarkRefsAsInitialized(t *RegType) int {
	initialized := l.cache.FromUninitialized(t)
	if t.IsUninitializedThisReference() || t.IsUnresolvedUninitializedThisReference() {
		l.thisInitialized = true
	}
	changed := 0
	for i, cur := range l.types {
		if cur.Equals(t) {
			l.types[i] = initialized
			changed++
		}
	}
	return changed
}

// SetThisInitialized records that "this" needs no constructor call.
func (l *RegisterLine) SetThisInitialized() { l.thisInitialized = true }

// CheckConstructorReturn fails if a constructor can return before "this"
// was initialized.
func (l *RegisterLine) CheckConstructorReturn(f failer) bool {
	if !l.thisInitialized {
		f.Fail(VerifyErrorBadClassHard, "constructor returning without calling superclass constructor")
	}
	return l.thisInitialized
}

// ---------------------------------------------------------------------------
// Checked access
// ---------------------------------------------------------------------------

// VerifyRegisterType checks that reg holds a value assignable to check. A
// mismatch involving a primitive is a hard failure, one involving an
// unresolved class is a linkage failure, anything else is soft.
func (l *RegisterLine) VerifyRegisterType(f failer, reg int, check *RegType) bool {
	src := l.types[reg]
	if !check.IsAssignableFrom(src) {
		var kind FailureKind
		switch {
		case !check.IsNonZeroReferenceTypes() || !src.IsNonZeroReferenceTypes():
			kind = VerifyErrorBadClassHard
		case check.IsUnresolvedTypes() || src.IsUnresolvedTypes():
			kind = VerifyErrorNoClass
		default:
			kind = VerifyErrorBadClassSoft
		}
		f.Fail(kind, "register v%d has type %s but expected %s", reg, src, check)
		return false
	}
	if check.IsLowHalf() {
		hi := l.types[reg+1]
		if !src.CheckWidePair(hi) {
			f.Fail(VerifyErrorBadClassHard, "wide register v%d has type %s/%s", reg, src, hi)
			return false
		}
	}
	return true
}

// InvocationThis returns the type of the receiver of an invoke.
func (l *RegisterLine) InvocationThis(f failer, in dex.Instruction) *RegType {
	args := in.ArgRegs()
	if len(args) < 1 {
		f.Fail(VerifyErrorBadClassHard, "invoke lacks 'this'")
		return conflictType
	}
	this := l.types[args[0]]
	if !this.IsReferenceTypes() {
		f.Fail(VerifyErrorBadClassHard, "tried to get class from non-reference register v%d (type=%s)", args[0], this)
		return conflictType
	}
	return this
}

// ---------------------------------------------------------------------------
// Moves
// ---------------------------------------------------------------------------

type copyCategory uint8

const (
	copyCategory1 copyCategory = iota
	copyCategoryRef
)

// CopyRegister1 implements move and move-object.
func (l *RegisterLine) CopyRegister1(f failer, dst, src int, cat copyCategory) {
	t := l.types[src]
	depths, locked := l.lockDepths[src]
	if !l.SetRegisterType(f, dst, t) {
		return
	}
	switch {
	case cat == copyCategory1 && !t.IsCategory1Types(),
		cat == copyCategoryRef && !t.IsReferenceTypes():
		f.Fail(VerifyErrorBadClassHard, "copy1 v%d<-v%d type=%s", dst, src, t)
	case cat == copyCategoryRef && locked:
		l.lockDepths[dst] = depths
	}
}

// CopyRegister2 implements move-wide.
func (l *RegisterLine) CopyRegister2(f failer, dst, src int) {
	lo, hi := l.types[src], l.types[src+1]
	if !lo.CheckWidePair(hi) {
		f.Fail(VerifyErrorBadClassHard, "copy2 v%d<-v%d type=%s/%s", dst, src, lo, hi)
		return
	}
	l.SetRegisterTypeWide(f, dst, lo, hi)
}

// CopyResultRegister1 implements move-result and move-result-object.
func (l *RegisterLine) CopyResultRegister1(f failer, dst int, isReference bool) {
	t := l.result[0]
	if (!isReference && !t.IsCategory1Types()) || (isReference && !t.IsReferenceTypes()) {
		f.Fail(VerifyErrorBadClassHard, "copyRes1 v%d<- result0 type=%s", dst, t)
		return
	}
	l.SetRegisterType(f, dst, t)
	l.SetResultTypeToUnknown()
}

// CopyResultRegister2 implements move-result-wide.
func (l *RegisterLine) CopyResultRegister2(f failer, dst int) {
	lo, hi := l.result[0], l.result[1]
	if !lo.IsCategory2Types() {
		f.Fail(VerifyErrorBadClassHard, "copyRes2 v%d<- result0 type=%s", dst, lo)
		return
	}
	l.SetRegisterTypeWide(f, dst, lo, hi)
	l.SetResultTypeToUnknown()
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func (l *RegisterLine) CheckUnaryOp(f failer, in dex.Instruction, dst, src *RegType) {
	if l.VerifyRegisterType(f, int(in.VRegB()), src) {
		l.SetRegisterType(f, int(in.VRegA()), dst)
	}
}

func (l *RegisterLine) CheckUnaryOpWide(f failer, in dex.Instruction, dstLo, dstHi, src *RegType) {
	if l.VerifyRegisterType(f, int(in.VRegB()), src) {
		l.SetRegisterTypeWide(f, int(in.VRegA()), dstLo, dstHi)
	}
}

func (l *RegisterLine) CheckUnaryOpFromWide(f failer, in dex.Instruction, dst, src *RegType) {
	if l.VerifyRegisterType(f, int(in.VRegB()), src) {
		l.SetRegisterType(f, int(in.VRegA()), dst)
	}
}

// CheckBinaryOp verifies a three-register op. With checkBoolean, two boolean
// operands produce a boolean.
func (l *RegisterLine) CheckBinaryOp(f failer, in dex.Instruction, dst, src1, src2 *RegType, checkBoolean bool) {
	b, c := int(in.VRegB()), int(in.VRegC())
	if !l.VerifyRegisterType(f, b, src1) || !l.VerifyRegisterType(f, c, src2) {
		return
	}
	if checkBoolean && l.types[b].IsBooleanTypes() && l.types[c].IsBooleanTypes() {
		dst = booleanType
	}
	l.SetRegisterType(f, int(in.VRegA()), dst)
}

func (l *RegisterLine) CheckBinaryOpWide(f failer, in dex.Instruction, dstLo, dstHi, src1, src2 *RegType) {
	if l.VerifyRegisterType(f, int(in.VRegB()), src1) && l.VerifyRegisterType(f, int(in.VRegC()), src2) {
		l.SetRegisterTypeWide(f, int(in.VRegA()), dstLo, dstHi)
	}
}

// CheckBinaryOp2addr is CheckBinaryOp for the two-address forms, where vA
// is both destination and first operand.
func (l *RegisterLine) CheckBinaryOp2addr(f failer, in dex.Instruction, dst, src1, src2 *RegType, checkBoolean bool) {
	a, b := int(in.VRegA()), int(in.VRegB())
	if !l.VerifyRegisterType(f, a, src1) || !l.VerifyRegisterType(f, b, src2) {
		return
	}
	if checkBoolean && l.types[a].IsBooleanTypes() && l.types[b].IsBooleanTypes() {
		dst = booleanType
	}
	l.SetRegisterType(f, a, dst)
}

func (l *RegisterLine) CheckBinaryOp2addrWide(f failer, in dex.Instruction, dstLo, dstHi, src1, src2 *RegType) {
	a := int(in.VRegA())
	if l.VerifyRegisterType(f, a, src1) && l.VerifyRegisterType(f, int(in.VRegB()), src2) {
		l.SetRegisterTypeWide(f, a, dstLo, dstHi)
	}
}

// CheckLiteralOp verifies the lit8 and lit16 forms.
func (l *RegisterLine) CheckLiteralOp(f failer, in dex.Instruction, dst, src *RegType, checkBoolean bool) {
	b := int(in.VRegB())
	if !l.VerifyRegisterType(f, b, src) {
		return
	}
	if lit := in.VRegC(); checkBoolean && l.types[b].IsBooleanTypes() && (lit == 0 || lit == 1) {
		dst = booleanType
	}
	l.SetRegisterType(f, int(in.VRegA()), dst)
}

// ---------------------------------------------------------------------------
// Monitors
// ---------------------------------------------------------------------------

// PushMonitor records a monitor-enter on reg at pc.
func (l *RegisterLine) PushMonitor(f failer, reg, pc int) {
	t := l.types[reg]
	switch {
	case !t.IsReferenceTypes():
		f.Fail(VerifyErrorBadClassHard, "monitor-enter on non-object (%s)", t)
	case len(l.monitors) >= maxMonitorDepth:
		f.Fail(VerifyErrorBadClassHard, "monitor-enter stack overflow: %d", len(l.monitors))
	default:
		l.lockDepths[reg] |= 1 << len(l.monitors)
		l.monitors = append(l.monitors, pc)
	}
}

// PopMonitor records a monitor-exit on reg. An exit with no monitor held is
// left to the runtime; exiting a monitor other than the innermost one is a
// hard failure.
func (l *RegisterLine) PopMonitor(f failer, reg int) {
	t := l.types[reg]
	if !t.IsReferenceTypes() {
		f.Fail(VerifyErrorBadClassHard, "monitor-exit on non-object (%s)", t)
		return
	}
	if len(l.monitors) == 0 {
		return
	}
	depth := len(l.monitors) - 1
	if l.lockDepths[reg]&(1<<depth) == 0 {
		f.Fail(VerifyErrorBadClassHard, "monitor-exit on v%d does not unlock the top-most monitor", reg)
		return
	}
	l.monitors = l.monitors[:depth]
	if d := l.lockDepths[reg] &^ (1 << depth); d == 0 {
		delete(l.lockDepths, reg)
	} else {
		l.lockDepths[reg] = d
	}
}

// MonitorStackDepth returns the number of held monitors.
func (l *RegisterLine) MonitorStackDepth() int { return len(l.monitors) }

// VerifyMonitorStackEmpty fails unless no monitor is held.
func (l *RegisterLine) VerifyMonitorStackEmpty(f failer) bool {
	if len(l.monitors) != 0 {
		f.Fail(VerifyErrorBadClassHard, "expected empty monitor stack")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

// MergeRegisters joins incoming into l and reports whether l changed.
// Monitor stacks must match exactly.
func (l *RegisterLine) MergeRegisters(f failer, incoming *RegisterLine) bool {
	changed := false
	for i, cur := range l.types {
		in := incoming.types[i]
		if cur == in {
			continue
		}
		merged := cur.Merge(in, l.cache)
		if merged != cur {
			l.types[i] = merged
			changed = true
		}
	}
	if len(l.monitors) != len(incoming.monitors) {
		f.Fail(VerifyErrorBadClassHard, "mismatched monitor stack depths (depth=%d, incoming depth=%d)",
			len(l.monitors), len(incoming.monitors))
		return changed
	}
	for i, pc := range l.monitors {
		if incoming.monitors[i] != pc {
			f.Fail(VerifyErrorBadClassHard, "mismatched monitor stacks: monitor %d entered at 0x%x and 0x%x",
				i, pc, incoming.monitors[i])
			return changed
		}
	}
	if l.thisInitialized && !incoming.thisInitialized {
		l.thisInitialized = false
		changed = true
	}
	// A register is known to hold a lock only if it does on every path.
	for reg, depths := range l.lockDepths {
		merged := depths & incoming.lockDepths[reg]
		if merged == depths {
			continue
		}
		if merged == 0 {
			delete(l.lockDepths, reg)
		} else {
			l.lockDepths[reg] = merged
		}
		changed = true
	}
	return changed
}

// ---------------------------------------------------------------------------
// GC support and formatting
// ---------------------------------------------------------------------------

// ReferenceBitmap returns a little-endian bitmap of the registers holding
// non-null references, padded to width bytes.
func (l *RegisterLine) ReferenceBitmap(width int) []byte {
	bits := make([]byte, width)
	for i, t := range l.types {
		if t.IsNonZeroReferenceTypes() && i/8 < width {
			bits[i/8] |= 1 << (i % 8)
		}
	}
	return bits
}

// String renders the line as "v0=Integer v1=..." for dumps.
func (l *RegisterLine) String() string {
	var sb strings.Builder
	for i, t := range l.types {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "v%d=%s", i, t)
	}
	for _, pc := range l.monitors {
		fmt.Fprintf(&sb, " {0x%x}", pc)
	}
	return sb.String()
}
