package verifier

import (
	"strings"

	"github.com/chazu/dexverify/dex"
)

// ---------------------------------------------------------------------------
// Structural pre-pass
// ---------------------------------------------------------------------------

// computeWidthsAndCountOps records the length of every instruction and
// notes the opcodes the auxiliary map generators care about.
func (v *MethodVerifier) computeWidthsAndCountOps() bool {
	insns := v.code.Insns
	pc := 0
	for pc < len(insns) {
		in := dex.At(insns, pc)
		switch in.Opcode() {
		case dex.OpNewInstance:
			v.newInstanceCount++
		case dex.OpMonitorEnter:
			v.monitorEnterCount++
		case dex.OpCheckCast:
			v.hasCheckCasts = true
		case dex.OpInvokeVirtual, dex.OpInvokeVirtualRange,
			dex.OpInvokeInterface, dex.OpInvokeInterfaceRange:
			v.hasVirtualOrInterfaceInvokes = true
		}
		size := in.SizeInCodeUnits()
		if pc+size > len(insns) {
			v.workPC = pc
			v.Fail(VerifyErrorBadClassHard, "code did not end where expected (%d vs. %d)", pc+size, len(insns))
			return false
		}
		v.insnFlags[pc].length = uint32(size)
		pc += size
	}
	return true
}

// scanTryCatchBlocks marks instructions covered by a try block and the
// handler entry points.
func (v *MethodVerifier) scanTryCatchBlocks() bool {
	size := len(v.code.Insns)
	for _, try := range v.code.Tries {
		start := int(try.StartAddr)
		end := start + int(try.InsnCount)
		switch {
		case start >= end || end > size:
			v.Fail(VerifyErrorBadClassHard, "bad exception entry: startAddr=%d endAddr=%d (size=%d)", start, end, size)
			return false
		case !v.insnFlags[start].IsOpcode():
			v.Fail(VerifyErrorBadClassHard, "'try' block starts inside an instruction (%d)", start)
			return false
		case try.HandlerIdx < 0 || try.HandlerIdx >= len(v.code.Handlers):
			v.Fail(VerifyErrorBadClassHard, "bad handler index %d for try at %d", try.HandlerIdx, start)
			return false
		}
		for pc := start; pc < end; pc += v.insnFlags[pc].LengthInCodeUnits() {
			v.insnFlags[pc].SetInTry()
		}
	}
	for _, h := range v.code.Handlers {
		for _, c := range h.Catches {
			if !v.checkHandler(int(c.Addr)) {
				return false
			}
			if int(c.TypeIdx) >= v.file.NumTypes() {
				v.Fail(VerifyErrorBadClassHard, "bad catch type index %d", c.TypeIdx)
				return false
			}
			// Unresolvable catch types are left for the runtime.
			if _, err := v.linker.ResolveClass(v.file.Type(c.TypeIdx)); err != nil {
				log.Debugf("%s: catch type: %s", v.methodName(), err)
			}
		}
		if h.CatchAllAddr >= 0 && !v.checkHandler(int(h.CatchAllAddr)) {
			return false
		}
	}
	return true
}

func (v *MethodVerifier) checkHandler(addr int) bool {
	if addr >= len(v.code.Insns) || !v.insnFlags[addr].IsOpcode() {
		v.Fail(VerifyErrorBadClassHard, "exception handler starts at bad address (%d)", addr)
		return false
	}
	if !v.checkNotMoveResult(addr) {
		return false
	}
	v.insnFlags[addr].SetBranchTarget()
	return true
}

// verifyInstructions runs the static operand checks and marks the GC
// points: the entry, branches, switches and returns.
func (v *MethodVerifier) verifyInstructions() bool {
	v.insnFlags[0].SetBranchTarget()
	v.insnFlags[0].SetCompileTimeInfoPoint()
	for pc := 0; pc < len(v.insnFlags); pc += v.insnFlags[pc].LengthInCodeUnits() {
		in := dex.At(v.code.Insns, pc)
		if in.IsPayload() {
			continue
		}
		v.workPC = pc
		if !v.verifyInstruction(in) {
			return false
		}
		flags := in.Info().Flags
		switch {
		case flags&(dex.FlagBranch|dex.FlagSwitch) != 0:
			v.insnFlags[pc].SetCompileTimeInfoPoint()
		case flags&dex.FlagReturn != 0:
			v.insnFlags[pc].SetCompileTimeInfoPointAndReturn()
		}
	}
	return true
}

// verifyInstruction checks every operand named by the opcode's verify
// flags.
func (v *MethodVerifier) verifyInstruction(in dex.Instruction) bool {
	vf := in.Info().Verify
	if vf&dex.VerifyError != 0 {
		v.Fail(VerifyErrorBadClassHard, "unexpected opcode %s", in.Info().Name)
		return false
	}
	ok := true
	check := func(flag dex.VerifyFlags, fn func() bool) {
		if ok && vf&flag != 0 {
			ok = fn()
		}
	}
	a, b, c := uint32(in.VRegA()), uint32(in.VRegB()), uint32(in.VRegC())
	check(dex.VerifyRegA, func() bool { return v.checkRegisterIndex(a) })
	check(dex.VerifyRegAWide, func() bool { return v.checkWideRegisterIndex(a) })
	check(dex.VerifyRegB, func() bool { return v.checkRegisterIndex(b) })
	check(dex.VerifyRegBWide, func() bool { return v.checkWideRegisterIndex(b) })
	check(dex.VerifyRegBField, func() bool { return v.checkIndex("field", b, v.file.NumFields()) })
	check(dex.VerifyRegBMethod, func() bool { return v.checkIndex("method", b, v.file.NumMethods()) })
	check(dex.VerifyRegBNewInstance, func() bool { return v.checkNewInstance(b) })
	check(dex.VerifyRegBString, func() bool { return v.checkIndex("string", b, v.file.NumStrings()) })
	check(dex.VerifyRegBType, func() bool { return v.checkIndex("type", b, v.file.NumTypes()) })
	check(dex.VerifyRegC, func() bool { return v.checkRegisterIndex(c) })
	check(dex.VerifyRegCWide, func() bool { return v.checkWideRegisterIndex(c) })
	check(dex.VerifyRegCField, func() bool { return v.checkIndex("field", c, v.file.NumFields()) })
	check(dex.VerifyRegCNewArray, func() bool { return v.checkNewArray(c) })
	check(dex.VerifyRegCType, func() bool { return v.checkIndex("type", c, v.file.NumTypes()) })
	check(dex.VerifyArrayData, func() bool { return v.checkArrayData(in) })
	check(dex.VerifyBranchTarget, func() bool { return v.checkBranchTarget(in) })
	check(dex.VerifySwitchTargets, func() bool { return v.checkSwitchTargets(in) })
	check(dex.VerifyVarArg, func() bool { return v.checkVarArgRegs(in) })
	check(dex.VerifyVarArgRange, func() bool { return v.checkVarArgRangeRegs(in) })
	return ok
}

// ---------------------------------------------------------------------------
// Operand checks
// ---------------------------------------------------------------------------

func (v *MethodVerifier) checkRegisterIndex(idx uint32) bool {
	if idx >= uint32(v.code.RegistersSize) {
		v.Fail(VerifyErrorBadClassHard, "register index out of range (%d >= %d)", idx, v.code.RegistersSize)
		return false
	}
	return true
}

func (v *MethodVerifier) checkWideRegisterIndex(idx uint32) bool {
	if idx+1 >= uint32(v.code.RegistersSize) {
		v.Fail(VerifyErrorBadClassHard, "wide register index out of range (%d+1 >= %d)", idx, v.code.RegistersSize)
		return false
	}
	return true
}

func (v *MethodVerifier) checkIndex(what string, idx uint32, limit int) bool {
	if idx >= uint32(limit) {
		v.Fail(VerifyErrorBadClassHard, "bad %s index %d (max %d)", what, idx, limit)
		return false
	}
	return true
}

func (v *MethodVerifier) checkNewInstance(idx uint32) bool {
	if !v.checkIndex("type", idx, v.file.NumTypes()) {
		return false
	}
	if desc := v.file.Type(idx); !strings.HasPrefix(desc, "L") {
		v.Fail(VerifyErrorBadClassHard, "can't call new-instance on type '%s'", desc)
		return false
	}
	return true
}

// maxArrayDimensions is the deepest array type new-array may create.
const maxArrayDimensions = 255

func (v *MethodVerifier) checkNewArray(idx uint32) bool {
	if !v.checkIndex("type", idx, v.file.NumTypes()) {
		return false
	}
	desc := v.file.Type(idx)
	dims := len(desc) - len(strings.TrimLeft(desc, "["))
	switch {
	case dims == 0:
		v.Fail(VerifyErrorBadClassHard, "can't new-array class '%s' (not an array)", desc)
		return false
	case dims > maxArrayDimensions:
		v.Fail(VerifyErrorBadClassHard, "can't new-array class '%s' (exceeds limit)", desc)
		return false
	}
	return true
}

// payloadStart returns the absolute address of the payload referenced by in,
// computed without overflow.
func (v *MethodVerifier) payloadStart(in dex.Instruction) (int64, bool) {
	start := int64(in.PC()) + int64(in.PayloadOffset())
	if start < 0 || start+2 > int64(len(v.code.Insns)) {
		return start, false
	}
	return start, true
}

func (v *MethodVerifier) checkArrayData(in dex.Instruction) bool {
	insns := v.code.Insns
	start, ok := v.payloadStart(in)
	if !ok || start+4 > int64(len(insns)) {
		v.Fail(VerifyErrorBadClassHard, "invalid array data start: at %d, data offset %d, count %d",
			in.PC(), in.PayloadOffset(), len(insns))
		return false
	}
	if start%2 != 0 {
		v.Fail(VerifyErrorBadClassHard, "unaligned array data table: at %d, data offset %d", in.PC(), in.PayloadOffset())
		return false
	}
	if insns[start] != dex.ArrayDataSignature {
		v.Fail(VerifyErrorBadClassHard, "invalid magic for array-data at %d", start)
		return false
	}
	width := int64(insns[start+1])
	count := int64(insns[start+2]) | int64(insns[start+3])<<16
	switch width {
	case 1, 2, 4, 8:
	default:
		v.Fail(VerifyErrorBadClassHard, "invalid array data element width %d", width)
		return false
	}
	if end := start + 4 + (width*count+1)/2; end > int64(len(insns)) {
		v.Fail(VerifyErrorBadClassHard, "invalid array data end: at %d, data offset %d, end %d, count %d",
			in.PC(), in.PayloadOffset(), end, len(insns))
		return false
	}
	return true
}

// branchOffset returns the relative target of a branch and whether a
// zero offset is allowed.
func branchOffset(in dex.Instruction) (offset int32, selfOK bool) {
	offset, _ = in.BranchOffset()
	return offset, in.Opcode() == dex.OpGoto32
}

func (v *MethodVerifier) checkBranchTarget(in dex.Instruction) bool {
	offset, selfOK := branchOffset(in)
	if !selfOK && offset == 0 {
		v.Fail(VerifyErrorBadClassHard, "branch offset of zero not allowed at %d", in.PC())
		return false
	}
	target := int64(in.PC()) + int64(offset)
	if target < 0 || target >= int64(len(v.code.Insns)) || !v.insnFlags[target].IsOpcode() ||
		dex.At(v.code.Insns, int(target)).IsPayload() {
		v.Fail(VerifyErrorBadClassHard, "invalid branch target %d (-> 0x%x) at %d", offset, target, in.PC())
		return false
	}
	v.insnFlags[target].SetBranchTarget()
	return true
}

func (v *MethodVerifier) checkSwitchTargets(in dex.Instruction) bool {
	insns := v.code.Insns
	start, ok := v.payloadStart(in)
	if !ok {
		v.Fail(VerifyErrorBadClassHard, "invalid switch start: at %d, switch offset %d, count %d",
			in.PC(), in.PayloadOffset(), len(insns))
		return false
	}
	if start%2 != 0 {
		v.Fail(VerifyErrorBadClassHard, "unaligned switch table: at %d, switch offset %d", in.PC(), in.PayloadOffset())
		return false
	}
	count := int64(insns[start+1])
	var tableSize int64
	want := dex.PackedSwitchSignature
	if in.Opcode() == dex.OpPackedSwitch {
		tableSize = 4 + count*2
	} else {
		want = dex.SparseSwitchSignature
		tableSize = 2 + count*4
	}
	if insns[start] != want {
		v.Fail(VerifyErrorBadClassHard, "wrong signature for switch table (%x, wanted %x)", insns[start], want)
		return false
	}
	if start+tableSize > int64(len(insns)) {
		v.Fail(VerifyErrorBadClassHard, "invalid switch end: at %d, switch offset %d, end %d, count %d",
			in.PC(), in.PayloadOffset(), start+tableSize, len(insns))
		return false
	}
	table, err := dex.DecodeSwitch(insns, int(start))
	if err != nil {
		v.Fail(VerifyErrorBadClassHard, "bad switch table at %d: %v", start, err)
		return false
	}
	if in.Opcode() == dex.OpSparseSwitch {
		for i := 1; i < len(table.Keys); i++ {
			if table.Keys[i] <= table.Keys[i-1] {
				v.Fail(VerifyErrorBadClassHard, "invalid sparse switch: last key=%d, this=%d", table.Keys[i-1], table.Keys[i])
				return false
			}
		}
	}
	for i, offset := range table.Targets {
		target := int64(in.PC()) + int64(offset)
		if target < 0 || target >= int64(len(insns)) || !v.insnFlags[target].IsOpcode() ||
			dex.At(insns, int(target)).IsPayload() {
			v.Fail(VerifyErrorBadClassHard, "invalid switch target %d (-> 0x%x) at %d[%d]", offset, target, in.PC(), i)
			return false
		}
		v.insnFlags[target].SetBranchTarget()
	}
	return true
}

func (v *MethodVerifier) checkVarArgRegs(in dex.Instruction) bool {
	if n := in.VRegA(); n > 5 {
		v.Fail(VerifyErrorBadClassHard, "invalid arg count (%d) in non-range invoke", n)
		return false
	}
	for _, reg := range in.Args() {
		if reg >= uint32(v.code.RegistersSize) {
			v.Fail(VerifyErrorBadClassHard, "invalid reg index (%d) in non-range invoke (>= %d)", reg, v.code.RegistersSize)
			return false
		}
	}
	return true
}

func (v *MethodVerifier) checkVarArgRangeRegs(in dex.Instruction) bool {
	count, first := int64(in.VRegA()), int64(in.VRegC())
	if count+first > int64(v.code.RegistersSize) {
		v.Fail(VerifyErrorBadClassHard, "invalid reg index %d+%d in range invoke (> %d)", count, first, v.code.RegistersSize)
		return false
	}
	return true
}

// checkNotMoveResult fails if the instruction at pc is a move-result, which
// must directly follow its producer.
func (v *MethodVerifier) checkNotMoveResult(pc int) bool {
	switch dex.At(v.code.Insns, pc).Opcode() {
	case dex.OpMoveResult, dex.OpMoveResultWide, dex.OpMoveResultObject:
		v.Fail(VerifyErrorBadClassHard, "invalid use of move-result*")
		return false
	}
	return true
}

// checkNotMoveException fails if the instruction at pc is a move-exception,
// which is only reachable by a throw.
func (v *MethodVerifier) checkNotMoveException(pc int) bool {
	if dex.At(v.code.Insns, pc).Opcode() == dex.OpMoveException {
		v.Fail(VerifyErrorBadClassHard, "invalid use of move-exception")
		return false
	}
	return true
}
