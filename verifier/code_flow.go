package verifier

import (
	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/dex"
)

// ---------------------------------------------------------------------------
// Fixpoint
// ---------------------------------------------------------------------------

// verifyCodeFlow allocates the persisted lines, seeds the entry line from
// the signature and iterates until no line changes.
func (v *MethodVerifier) verifyCodeFlow() bool {
	regs := int(v.code.RegistersSize)
	v.lines = make([]*RegisterLine, len(v.insnFlags))
	for pc := range v.insnFlags {
		fl := &v.insnFlags[pc]
		if fl.IsBranchTarget() || fl.IsCompileTimeInfoPoint() || v.needsAuxLine(pc) {
			v.lines[pc] = NewRegisterLine(regs, v.cache)
		}
	}
	v.workLine = NewRegisterLine(regs, v.cache)
	v.savedLine = NewRegisterLine(regs, v.cache)

	v.workPC = 0
	if !v.setTypesFromSignature() {
		v.Fail(VerifyErrorBadClassHard, "bad signature in %s", v.methodName())
		return false
	}
	if !v.codeFlowVerifyMethod() {
		return false
	}
	v.logDeadCode()
	return true
}

// codeFlowVerifyMethod processes changed instructions until none remain.
// Every pending pc owns a persisted line; straight-line successors without
// one are processed immediately with the carried work line.
func (v *MethodVerifier) codeFlowVerifyMethod() bool {
	n := len(v.insnFlags)
	v.insnFlags[0].SetChanged()
	start := 0
	for {
		pc := start
		for pc < n && !v.insnFlags[pc].IsChanged() {
			pc++
		}
		if pc == n {
			if start != 0 {
				start = 0
				continue
			}
			return true
		}
		v.workLine.CopyFrom(v.lines[pc])
		for pc >= 0 {
			v.workPC = pc
			next, ok := v.codeFlowVerifyInstruction(&start)
			if !ok {
				return false
			}
			v.insnFlags[pc].SetVisited()
			v.insnFlags[pc].ClearChanged()
			pc = next
		}
	}
}

func (v *MethodVerifier) logDeadCode() {
	deadStart := -1
	for pc := 0; pc < len(v.insnFlags); pc += v.insnFlags[pc].LengthInCodeUnits() {
		fl := &v.insnFlags[pc]
		switch {
		case !fl.IsVisited() && deadStart < 0 && !dex.At(v.code.Insns, pc).IsPayload():
			deadStart = pc
		case fl.IsVisited() && deadStart >= 0:
			log.Debugf("%s: dead code 0x%04x-0x%04x", v.methodName(), deadStart, pc-1)
			deadStart = -1
		}
	}
	if deadStart >= 0 {
		log.Debugf("%s: dead code 0x%04x-end", v.methodName(), deadStart)
	}
}

// ---------------------------------------------------------------------------
// One instruction
// ---------------------------------------------------------------------------

// transfer carries what the opcode rules decided about the successors.
type transfer struct {
	justSetResult bool
	// branchLine and fallthroughLine replace the work line on one edge when
	// the peephole sharpened a type.
	branchLine      *RegisterLine
	fallthroughLine *RegisterLine
}

// codeFlowVerifyInstruction applies the opcode rule at v.workPC and
// propagates the resulting line to every successor. It returns the pc of a
// straight-line successor that has no persisted line, or -1.
func (v *MethodVerifier) codeFlowVerifyInstruction(start *int) (int, bool) {
	pc := v.workPC
	in := dex.At(v.code.Insns, pc)
	flags := in.Info().Flags
	fl := &v.insnFlags[pc]

	// A throwing instruction reaches its handlers with the registers as they
	// were before it executed.
	if flags&dex.FlagThrow != 0 && fl.IsInTry() {
		v.savedLine.CopyFrom(v.workLine)
	}

	var t transfer
	if !in.IsPayload() {
		v.execute(in, &t)
	}

	if v.haveHardFailure {
		log.Debugf("%s: rejecting opcode %s at 0x%04x", v.methodName(), in.Info().Name, pc)
		return -1, false
	}
	if v.pendingRuntimeThrow {
		// The instruction always throws, so only the handlers are reachable.
		v.pendingRuntimeThrow = false
		flags = dex.FlagThrow
	}
	if !t.justSetResult {
		v.workLine.SetResultTypeToUnknown()
	}

	var branchTarget int
	if flags&dex.FlagBranch != 0 {
		offset, _ := in.BranchOffset()
		branchTarget = pc + int(offset)
		if !v.checkNotMoveException(branchTarget) {
			return -1, false
		}
		line := v.workLine
		if t.branchLine != nil {
			line = t.branchLine
		}
		if !v.updateRegisters(branchTarget, line) {
			return -1, false
		}
	}

	if flags&dex.FlagSwitch != 0 {
		table, err := dex.DecodeSwitch(v.code.Insns, pc+int(in.PayloadOffset()))
		if err != nil {
			v.Fail(VerifyErrorBadClassHard, "bad switch table: %v", err)
			return -1, false
		}
		for _, offset := range table.Targets {
			target := pc + int(offset)
			if !v.checkNotMoveException(target) || !v.updateRegisters(target, v.workLine) {
				return -1, false
			}
		}
	}

	if flags&dex.FlagThrow != 0 && fl.IsInTry() {
		if !v.propagateToHandlers(in) {
			return -1, false
		}
	}

	next := -1
	if flags&dex.FlagContinue != 0 {
		nextPC := pc + fl.LengthInCodeUnits()
		if nextPC >= len(v.insnFlags) {
			v.Fail(VerifyErrorBadClassHard, "Execution can walk off end of code area")
			return -1, false
		}
		if !v.checkNotMoveException(nextPC) {
			return -1, false
		}
		if t.fallthroughLine != nil {
			v.workLine.CopyFrom(t.fallthroughLine)
		}
		if v.lines[nextPC] != nil {
			if !v.updateRegisters(nextPC, v.workLine) {
				return -1, false
			}
		} else {
			next = nextPC
		}
	}

	if flags&dex.FlagReturn != 0 && !v.workLine.VerifyMonitorStackEmpty(v) {
		return -1, false
	}

	switch {
	case flags&dex.FlagContinue != 0:
		*start = pc + fl.LengthInCodeUnits()
	case flags&dex.FlagBranch != 0:
		*start = branchTarget
	}
	return next, true
}

// propagateToHandlers merges the pre-instruction line into every handler
// covering the current instruction. A held monitor requires a catch-all.
func (v *MethodVerifier) propagateToHandlers(in dex.Instruction) bool {
	withinCatchAll := false
	for _, h := range v.handlersAt(v.workPC) {
		for _, c := range h.Catches {
			if v.file.Type(c.TypeIdx) == classlink.ThrowableDescriptor {
				withinCatchAll = true
			}
			if !v.updateRegisters(int(c.Addr), v.savedLine) {
				return false
			}
		}
		if h.CatchAllAddr >= 0 {
			withinCatchAll = true
			if !v.updateRegisters(int(h.CatchAllAddr), v.savedLine) {
				return false
			}
		}
	}
	if depth := v.workLine.MonitorStackDepth(); depth > 0 && !withinCatchAll {
		// A monitor-enter that throws does so before taking the lock.
		if in.Opcode() != dex.OpMonitorEnter || depth != 1 {
			v.Fail(VerifyErrorBadClassHard, "expected to be within a catch-all for an instruction where a monitor is held")
			return false
		}
	}
	return true
}

// handlersAt returns the handler lists of the try blocks covering pc.
func (v *MethodVerifier) handlersAt(pc int) []dex.CatchHandler {
	var out []dex.CatchHandler
	for _, try := range v.code.Tries {
		if pc >= int(try.StartAddr) && pc < int(try.StartAddr)+int(try.InsnCount) {
			out = append(out, v.code.Handlers[try.HandlerIdx])
		}
	}
	return out
}

// updateRegisters propagates line to the instruction at target. The first
// arrival copies, later ones merge; target is marked changed when its
// persisted line changed. Registers dead at a return are pruned first.
func (v *MethodVerifier) updateRegisters(target int, line *RegisterLine) bool {
	fl := &v.insnFlags[target]
	if fl.IsReturn() {
		if !line.VerifyMonitorStackEmpty(v) {
			return false
		}
		line = v.pruneForReturn(target, line)
	}
	targetLine := v.lines[target]
	changed := true
	if !fl.IsVisitedOrChanged() {
		targetLine.CopyFrom(line)
	} else {
		changed = targetLine.MergeRegisters(v, line)
		if v.haveHardFailure {
			return false
		}
	}
	if changed {
		fl.SetChanged()
	}
	return true
}

// pruneForReturn returns a copy of line in which only the registers read by
// the return at pc survive.
func (v *MethodVerifier) pruneForReturn(pc int, line *RegisterLine) *RegisterLine {
	pruned := line.Clone()
	ret := dex.At(v.code.Insns, pc)
	switch ret.Opcode() {
	case dex.OpReturnVoid:
		pruned.MarkAllRegistersAsConflicts()
	case dex.OpReturnWide:
		pruned.MarkAllRegistersAsConflictsExceptWide(int(ret.VRegA()))
	default:
		pruned.MarkAllRegistersAsConflictsExcept(int(ret.VRegA()))
	}
	return pruned
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// caughtExceptionType joins the types of every catch clause whose handler
// starts at the current instruction.
func (v *MethodVerifier) caughtExceptionType() *RegType {
	throwable := v.cache.JavaLangThrowable(false)
	var common *RegType
	for _, h := range v.code.Handlers {
		for _, c := range h.Catches {
			if int(c.Addr) != v.workPC {
				continue
			}
			exc := v.resolveClassAndCheckAccess(c.TypeIdx)
			switch {
			case !throwable.IsAssignableFrom(exc):
				if exc.IsUnresolvedTypes() {
					v.Fail(VerifyErrorNoClass, "unresolved exception class %s", exc)
					return exc
				}
				v.Fail(VerifyErrorBadClassSoft, "unexpected non-exception class %s", exc)
				return v.cache.Conflict()
			case common == nil:
				common = exc
			default:
				common = common.Merge(exc, v.cache)
			}
		}
		if int(h.CatchAllAddr) == v.workPC {
			if common == nil {
				common = throwable
			} else {
				common = common.Merge(throwable, v.cache)
			}
		}
	}
	if common == nil {
		v.Fail(VerifyErrorBadClassSoft, "unable to find exception handler")
		return v.cache.Conflict()
	}
	if !throwable.IsAssignableFrom(common) {
		v.Fail(VerifyErrorBadClassHard, "java.lang.Throwable is not assignable-from common_super at 0x%x", v.workPC)
	}
	return common
}

// ---------------------------------------------------------------------------
// Peephole
// ---------------------------------------------------------------------------

// previousOpcodePC returns the start of the instruction before pc, or -1.
func (v *MethodVerifier) previousOpcodePC(pc int) int {
	for p := pc - 1; p >= 0; p-- {
		if v.insnFlags[p].IsOpcode() {
			return p
		}
	}
	return -1
}

// sharpenAfterInstanceOf recognizes
//
//	instance-of vX, vY, T
//	if-eqz/if-nez vX, label
//
// and gives vY the type T on the edge where the test succeeded. A preceding
// move-object into vY carries the type to its source as well.
func (v *MethodVerifier) sharpenAfterInstanceOf(in dex.Instruction, t *transfer) {
	pc := v.workPC
	if pc == 0 || v.insnFlags[pc].IsBranchTarget() {
		return
	}
	ioPC := v.previousOpcodePC(pc)
	if ioPC < 0 {
		return
	}
	io := dex.At(v.code.Insns, ioPC)
	if io.Opcode() != dex.OpInstanceOf || io.VRegA() != in.VRegA() || io.VRegA() == io.VRegB() {
		return
	}
	obj := int(io.VRegB())
	orig := v.workLine.Get(obj)
	cast := v.resolveClassAndCheckAccess(uint32(io.VRegC()))
	if !cast.HasClass() || cast.IsUnresolvedTypes() || orig.IsUnresolvedTypes() ||
		cast.Class().IsInterface() || cast.IsAssignableFrom(orig) {
		return
	}
	update := v.workLine.Clone()
	if in.Opcode() == dex.OpIfEqz {
		t.fallthroughLine = update
	} else {
		t.branchLine = update
	}
	update.SetRegisterType(v, obj, cast)

	if ioPC == 0 || v.insnFlags[ioPC].IsBranchTarget() {
		return
	}
	movePC := v.previousOpcodePC(ioPC)
	if movePC < 0 {
		return
	}
	move := dex.At(v.code.Insns, movePC)
	switch move.Opcode() {
	case dex.OpMoveObject, dex.OpMoveObjectFrom16, dex.OpMoveObject16:
		if int(move.VRegA()) == obj {
			update.SetRegisterType(v, int(move.VRegB()), cast)
		}
	}
}
