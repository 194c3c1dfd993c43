// Package verifier implements the bytecode verifier: a structural pre-pass
// over a method's instructions followed by an abstract-interpretation
// fixpoint over register types, plus the auxiliary maps a compiler backend
// consumes once a method verifies.
package verifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/dex"
)

var log = commonlog.GetLogger("dexverify.verifier")

// ---------------------------------------------------------------------------
// MethodVerifier
// ---------------------------------------------------------------------------

// MethodVerifier verifies exactly one method. It is not safe for concurrent
// use; concurrent workers each create their own.
type MethodVerifier struct {
	linker *classlink.Linker
	method *classlink.Method
	file   *dex.File
	code   *dex.CodeItem
	opts   Options
	cache  *Cache

	insnFlags []InstructionFlags
	// lines holds the persisted state of every branch target and GC point;
	// other entries are nil.
	lines     []*RegisterLine
	workLine  *RegisterLine
	savedLine *RegisterLine
	workPC    int

	declaringClass *RegType

	failures            []Failure
	haveHardFailure     bool
	haveSoftFailure     bool
	haveRuntimeThrow    bool
	pendingRuntimeThrow bool
	runtimeThrowPCs     map[int]bool

	newInstanceCount             int
	monitorEnterCount            int
	hasCheckCasts                bool
	hasVirtualOrInterfaceInvokes bool

	aux *MethodResult
}

// NewMethodVerifier prepares verification of m.
func NewMethodVerifier(linker *classlink.Linker, m *classlink.Method, opts Options) *MethodVerifier {
	return &MethodVerifier{
		linker:          linker,
		method:          m,
		file:            m.Class.File,
		code:            m.Code,
		opts:            opts,
		cache:           NewCache(linker),
		runtimeThrowPCs: make(map[int]bool),
	}
}

// Method returns the method being verified.
func (v *MethodVerifier) Method() *classlink.Method { return v.method }

// Cache returns the type cache of this verification.
func (v *MethodVerifier) Cache() *Cache { return v.cache }

func (v *MethodVerifier) methodName() string { return v.method.String() }

func (v *MethodVerifier) isStatic() bool      { return v.method.IsStatic() }
func (v *MethodVerifier) isConstructor() bool { return v.method.Name == "<init>" }

// Verify runs the structural checks and the code-flow analysis, then builds
// the auxiliary maps when requested and the method verified without a hard
// failure.
func (v *MethodVerifier) Verify() Outcome {
	if v.code == nil {
		if !v.method.IsAbstract() && !v.method.IsNative() {
			v.Fail(VerifyErrorBadClassHard, "zero-length code in concrete non-native method")
		}
		return v.Outcome()
	}
	if v.method.IsAbstract() || v.method.IsNative() {
		v.Fail(VerifyErrorBadClassHard, "method is abstract or native but has code")
		return v.Outcome()
	}
	if v.code.InsSize > v.code.RegistersSize {
		v.Fail(VerifyErrorBadClassHard, "bad register counts (ins=%d regs=%d)", v.code.InsSize, v.code.RegistersSize)
		return v.Outcome()
	}
	if len(v.code.Insns) == 0 {
		v.Fail(VerifyErrorBadClassHard, "empty instruction stream")
		return v.Outcome()
	}
	v.insnFlags = make([]InstructionFlags, len(v.code.Insns))
	ok := v.computeWidthsAndCountOps() &&
		v.scanTryCatchBlocks() &&
		v.verifyInstructions() &&
		v.verifyCodeFlow()
	if v.cache.Full() {
		v.Fail(VerifyErrorBadClassHard, "too many register types (limit %d)", maxEntries)
		ok = false
	}
	if ok && !v.haveHardFailure && v.opts.GenerateAuxMaps {
		v.generateAuxMaps()
	}
	switch o := v.Outcome(); o {
	case HardFailure:
		log.Warningf("%s: rejected (%d failures)", v.methodName(), len(v.failures))
	case SoftFailure:
		log.Infof("%s: soft failures (%d)", v.methodName(), len(v.failures))
	}
	return v.Outcome()
}

// ---------------------------------------------------------------------------
// Accessors for results and debugging
// ---------------------------------------------------------------------------

// LineAt returns the persisted register line at pc, or nil when pc is
// neither a branch target nor a GC point.
func (v *MethodVerifier) LineAt(pc int) *RegisterLine {
	if pc < 0 || pc >= len(v.lines) {
		return nil
	}
	return v.lines[pc]
}

// FlagsAt returns the instruction flags at pc.
func (v *MethodVerifier) FlagsAt(pc int) InstructionFlags {
	return v.insnFlags[pc]
}

// Result returns the auxiliary data produced by Verify, or nil when none was
// generated.
func (v *MethodVerifier) Result() *MethodResult { return v.aux }

// Dump renders the method's instructions with flags and persisted register
// lines.
func (v *MethodVerifier) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (regs=%d ins=%d)\n", v.methodName(), v.code.RegistersSize, v.code.InsSize)
	for pc := 0; pc < len(v.insnFlags); {
		fl := &v.insnFlags[pc]
		if !fl.IsOpcode() {
			pc++
			continue
		}
		in := dex.At(v.code.Insns, pc)
		fmt.Fprintf(&sb, "%s %04x: %s\n", fl, pc, in)
		if line := v.lines[pc]; line != nil && fl.IsVisited() {
			fmt.Fprintf(&sb, "            %s\n", line)
		}
		pc += fl.LengthInCodeUnits()
	}
	for _, f := range v.failures {
		fmt.Fprintf(&sb, "%s\n", f)
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Type resolution helpers
// ---------------------------------------------------------------------------

// DeclaringClass returns the type of the class declaring the method.
func (v *MethodVerifier) DeclaringClass() *RegType {
	if v.declaringClass == nil {
		c := v.method.Class
		v.declaringClass = v.cache.FromClass(c.Descriptor, c, c.CannotBeAssignedFromOtherTypes())
	}
	return v.declaringClass
}

// resolveClassAndCheckAccess returns the type named by a type index and
// checks that the declaring class may see it.
func (v *MethodVerifier) resolveClassAndCheckAccess(typeIdx uint32) *RegType {
	return v.resolveDescriptorAndCheckAccess(v.file.Type(typeIdx))
}

func (v *MethodVerifier) resolveDescriptorAndCheckAccess(desc string) *RegType {
	t := v.cache.FromDescriptor(desc, false)
	if t.IsConflict() {
		v.Fail(VerifyErrorBadClassHard, "accessing broken descriptor '%s' in %s", desc, v.DeclaringClass())
		return t
	}
	referrer := v.DeclaringClass()
	if t.IsNonZeroReferenceTypes() && !t.IsUnresolvedTypes() && !referrer.CanAccess(t) {
		v.Fail(VerifyErrorAccessClass, "illegal class access: '%s' -> '%s'", referrer, t)
	}
	return t
}

// setTypesFromSignature seeds the entry line from the method's receiver and
// parameters, which occupy the last InsSize registers.
func (v *MethodVerifier) setTypesFromSignature() bool {
	line := v.lines[0]
	argStart := int(v.code.RegistersSize - v.code.InsSize)
	expected := int(v.code.InsSize)
	cur := 0
	if !v.isStatic() {
		if expected == 0 {
			v.Fail(VerifyErrorBadClassHard, "expected 0 args, but method is not static")
			return false
		}
		declaring := v.DeclaringClass()
		switch {
		case v.isConstructor() && declaring.IsJavaLangObject():
			line.SetThisInitialized()
			line.SetRegisterType(v, argStart, declaring)
		case v.isConstructor():
			line.SetRegisterType(v, argStart, v.cache.UninitializedThisArgument(declaring))
		default:
			line.SetThisInitialized()
			line.SetRegisterType(v, argStart, declaring)
		}
		cur++
	} else {
		line.SetThisInitialized()
	}
	for _, desc := range v.method.Proto.Params {
		if cur >= expected {
			v.Fail(VerifyErrorBadClassHard, "expected %d args, found more (%s)", expected, desc)
			return false
		}
		switch desc[0] {
		case 'L', '[':
			// Access to parameter classes is checked where they are used.
			t := v.cache.FromDescriptor(desc, false)
			if !t.IsNonZeroReferenceTypes() {
				v.Fail(VerifyErrorBadClassHard, "unexpected signature type '%s'", desc)
				return false
			}
			line.SetRegisterType(v, argStart+cur, t)
		case 'Z', 'C', 'B', 'I', 'S', 'F':
			line.SetRegisterType(v, argStart+cur, v.cache.FromDescriptor(desc, false))
		case 'J', 'D':
			if cur+1 >= expected {
				v.Fail(VerifyErrorBadClassHard, "expected %d args, found more (%s)", expected, desc)
				return false
			}
			lo := v.cache.FromDescriptor(desc, false)
			line.SetRegisterTypeWide(v, argStart+cur, lo, v.cache.HighHalf(lo))
			cur++
		default:
			v.Fail(VerifyErrorBadClassHard, "unexpected signature type char '%s'", desc)
			return false
		}
		cur++
	}
	if cur != expected {
		v.Fail(VerifyErrorBadClassHard, "expected %d arguments, found %d", expected, cur)
		return false
	}
	if ret := v.method.Proto.Return; ret != "V" && v.cache.FromDescriptor(ret, false).IsConflict() {
		v.Fail(VerifyErrorBadClassHard, "unexpected char in return type descriptor '%s'", ret)
		return false
	}
	return true
}

// methodReturnType returns the declared return type, Conflict for void.
func (v *MethodVerifier) methodReturnType() *RegType {
	return v.cache.FromDescriptor(v.method.Proto.Return, false)
}

func sortedPCs(set map[int]bool) []int {
	pcs := make([]int, 0, len(set))
	for pc := range set {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	return pcs
}
