package verifier

import (
	"fmt"
	"sort"

	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/dex"
)

// MethodRef names a method by the location of its file and its method index.
type MethodRef struct {
	Location string `cbor:"1,keyasint" yaml:"location"`
	Index    uint32 `cbor:"2,keyasint" yaml:"index"`
}

func (r MethodRef) String() string { return fmt.Sprintf("%s#%d", r.Location, r.Index) }

// RefOf returns the reference of m.
func RefOf(m *classlink.Method) MethodRef {
	return MethodRef{Location: m.Location(), Index: m.Index}
}

// DevirtTarget is the single concrete method an invoke site dispatches to.
type DevirtTarget struct {
	Ref    MethodRef `cbor:"1,keyasint" yaml:"ref"`
	Method string    `cbor:"2,keyasint" yaml:"method"`
}

// MethodResult holds what a compiler backend consumes from a verified method.
type MethodResult struct {
	GcMap     []byte               `cbor:"1,keyasint,omitempty" yaml:"-"`
	SafeCasts []int                `cbor:"2,keyasint,omitempty" yaml:"safe_casts,omitempty"`
	Devirt    map[int]DevirtTarget `cbor:"3,keyasint,omitempty" yaml:"devirt,omitempty"`
}

// IsSafeCast reports whether the check-cast at pc can be elided.
func (r *MethodResult) IsSafeCast(pc int) bool {
	if r == nil {
		return false
	}
	i := sort.SearchInts(r.SafeCasts, pc)
	return i < len(r.SafeCasts) && r.SafeCasts[i] == pc
}

// needsAuxLine reports whether pc needs a persisted line only for the
// auxiliary maps.
func (v *MethodVerifier) needsAuxLine(pc int) bool {
	if !v.opts.GenerateAuxMaps || !v.insnFlags[pc].IsOpcode() {
		return false
	}
	switch dex.At(v.code.Insns, pc).Opcode() {
	case dex.OpCheckCast:
		return v.hasCheckCasts
	case dex.OpInvokeVirtual, dex.OpInvokeVirtualRange, dex.OpInvokeInterface, dex.OpInvokeInterfaceRange:
		return v.hasVirtualOrInterfaceInvokes
	}
	return false
}

// generateAuxMaps builds the GC map, then the cast-elision set and the
// devirtualization map when the method contains the instructions they
// describe.
func (v *MethodVerifier) generateAuxMaps() {
	res := &MethodResult{}
	if v.hasCheckCasts {
		res.SafeCasts = v.generateSafeCastSet()
	}
	if v.hasVirtualOrInterfaceInvokes {
		res.Devirt = v.generateDevirtMap()
	}
	res.GcMap = v.generateGcMap()
	if res.GcMap == nil {
		return
	}
	v.aux = res
}

// generateSafeCastSet returns the pcs of check-casts whose operand is already
// known to be of the cast type.
func (v *MethodVerifier) generateSafeCastSet() []int {
	if len(v.failures) != 0 {
		return nil
	}
	var pcs []int
	for pc := 0; pc < len(v.insnFlags); pc += v.insnFlags[pc].LengthInCodeUnits() {
		line := v.lines[pc]
		if line == nil || !v.insnFlags[pc].IsVisited() {
			continue
		}
		in := dex.At(v.code.Insns, pc)
		if in.Opcode() != dex.OpCheckCast {
			continue
		}
		have := line.Get(int(in.VRegA()))
		cast := v.cache.FromDescriptor(v.file.Type(in.IndexOperand()), false)
		if cast.IsStrictlyAssignableFrom(have) {
			pcs = append(pcs, pc)
		}
	}
	return pcs
}

// generateDevirtMap records invoke sites whose receiver's class, or the
// finality of the target, fixes the method actually called.
func (v *MethodVerifier) generateDevirtMap() map[int]DevirtTarget {
	var targets map[int]DevirtTarget
	for pc := 0; pc < len(v.insnFlags); pc += v.insnFlags[pc].LengthInCodeUnits() {
		line := v.lines[pc]
		if line == nil || !v.insnFlags[pc].IsVisited() {
			continue
		}
		in := dex.At(v.code.Insns, pc)
		var kind classlink.MethodKind
		switch in.Opcode() {
		case dex.OpInvokeVirtual, dex.OpInvokeVirtualRange:
			kind = classlink.KindVirtual
		case dex.OpInvokeInterface, dex.OpInvokeInterfaceRange:
			kind = classlink.KindInterface
		default:
			continue
		}
		regs := in.ArgRegs()
		if len(regs) == 0 {
			continue
		}
		recv := line.Get(int(regs[0]))
		if !recv.HasClass() {
			continue
		}
		c := recv.Class()
		if c.IsInterface() || (c.IsAbstract() && !c.IsArray()) {
			continue
		}
		abstract, err := v.linker.ResolveMethod(v.file.Method(in.IndexOperand()), kind)
		if err != nil {
			continue
		}
		var concrete *classlink.Method
		if kind == classlink.KindInterface {
			concrete = c.FindVirtualMethodForInterface(abstract)
		} else {
			concrete = c.FindVirtualMethodForVirtual(abstract)
		}
		if concrete == nil || concrete.IsAbstract() {
			continue
		}
		if recv.IsPreciseReference() || concrete.IsFinal() || concrete.Class.IsFinal() {
			if targets == nil {
				targets = make(map[int]DevirtTarget)
			}
			targets[pc] = DevirtTarget{Ref: RefOf(concrete), Method: concrete.String()}
		}
	}
	return targets
}
