package verifier

import (
	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/dex"
)

// ---------------------------------------------------------------------------
// Operand type tables
// ---------------------------------------------------------------------------

// unaryTypes is indexed by opcode - OpNegInt.
var unaryTypes = [...]struct{ dst, src *RegType }{
	{integerType, integerType}, {integerType, integerType},
	{longLoType, longLoType}, {longLoType, longLoType},
	{floatType, floatType}, {doubleLoType, doubleLoType},
	{longLoType, integerType}, {floatType, integerType}, {doubleLoType, integerType},
	{integerType, longLoType}, {floatType, longLoType}, {doubleLoType, longLoType},
	{integerType, floatType}, {longLoType, floatType}, {doubleLoType, floatType},
	{integerType, doubleLoType}, {longLoType, doubleLoType}, {floatType, doubleLoType},
	{byteType, integerType}, {charType, integerType}, {shortType, integerType},
}

// binaryOp describes one arithmetic family member, indexed by opcode -
// OpAddInt or opcode - OpAddInt2Addr.
type binaryOp struct {
	// operand is the type of both operands and the result.
	operand *RegType
	// shiftWide ops take an int shift distance.
	shiftWide bool
	// bitwise ops on two booleans produce a boolean.
	bitwise bool
}

var binaryTypes = func() [32]binaryOp {
	var ops [32]binaryOp
	for i := range ops {
		switch {
		case i <= 10:
			ops[i] = binaryOp{operand: integerType, bitwise: i >= 5 && i <= 7}
		case i <= 21:
			ops[i] = binaryOp{operand: longLoType, shiftWide: i >= 19}
		case i <= 26:
			ops[i] = binaryOp{operand: floatType}
		default:
			ops[i] = binaryOp{operand: doubleLoType}
		}
	}
	return ops
}()

// elementType returns the value type implied by the position of an
// aget/aput/iget/iput/sget/sput opcode within its family.
func (v *MethodVerifier) elementType(member int) (t *RegType, primitive bool) {
	switch member {
	case 0:
		return integerType, true
	case 1:
		return longLoType, true
	case 2:
		return v.cache.JavaLangObject(false), false
	case 3:
		return booleanType, true
	case 4:
		return byteType, true
	case 5:
		return charType, true
	}
	return shortType, true
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// execute applies the typing rule of one instruction to the work line.
func (v *MethodVerifier) execute(in dex.Instruction, t *transfer) {
	line := v.workLine
	op := in.Opcode()
	a, b := int(in.VRegA()), int(in.VRegB())

	switch {
	case op == dex.OpNop:

	case op == dex.OpMove || op == dex.OpMoveFrom16 || op == dex.OpMove16:
		line.CopyRegister1(v, a, b, copyCategory1)
	case op == dex.OpMoveWide || op == dex.OpMoveWideFrom16 || op == dex.OpMoveWide16:
		line.CopyRegister2(v, a, b)
	case op == dex.OpMoveObject || op == dex.OpMoveObjectFrom16 || op == dex.OpMoveObject16:
		line.CopyRegister1(v, a, b, copyCategoryRef)

	case op == dex.OpMoveResult:
		line.CopyResultRegister1(v, a, false)
	case op == dex.OpMoveResultWide:
		line.CopyResultRegister2(v, a)
	case op == dex.OpMoveResultObject:
		line.CopyResultRegister1(v, a, true)

	case op == dex.OpMoveException:
		if v.workPC == 0 {
			v.Fail(VerifyErrorBadClassHard, "move-exception at pc 0x0")
			return
		}
		line.SetRegisterType(v, a, v.caughtExceptionType())

	case op >= dex.OpReturnVoid && op <= dex.OpReturnObject:
		v.verifyReturn(in)

	case op == dex.OpConst4 || op == dex.OpConst16 || op == dex.OpConst:
		line.SetRegisterType(v, a, v.cache.FromCat1Const(in.VRegB(), true))
	case op == dex.OpConstHigh16:
		line.SetRegisterType(v, a, v.cache.FromCat1Const(in.VRegB()<<16, true))
	case op == dex.OpConstWide16 || op == dex.OpConstWide32:
		v.setWideConst(a, int64(in.VRegB()))
	case op == dex.OpConstWide:
		v.setWideConst(a, in.WideLiteral())
	case op == dex.OpConstWideHigh16:
		v.setWideConst(a, int64(in.VRegB())<<48)
	case op == dex.OpConstString || op == dex.OpConstStringJumbo:
		line.SetRegisterType(v, a, v.cache.JavaLangString())
	case op == dex.OpConstClass:
		// The register holds a Class object; on error it holds Conflict.
		res := v.resolveClassAndCheckAccess(uint32(in.VRegB()))
		if !res.IsConflict() {
			res = v.cache.JavaLangClass(true)
		}
		line.SetRegisterType(v, a, res)

	case op == dex.OpMonitorEnter:
		line.PushMonitor(v, a, v.workPC)
	case op == dex.OpMonitorExit:
		line.PopMonitor(v, a)

	case op == dex.OpCheckCast || op == dex.OpInstanceOf:
		v.verifyCast(in)
	case op == dex.OpArrayLength:
		arr := line.Get(b)
		if !arr.IsReferenceTypes() || (!arr.IsArrayTypes() && !arr.IsZero()) {
			v.Fail(VerifyErrorBadClassHard, "array-length on non-array %s", arr)
			return
		}
		line.SetRegisterType(v, a, integerType)
	case op == dex.OpNewInstance:
		v.verifyNewInstance(in)
	case op == dex.OpNewArray:
		v.verifyNewArray(in, false)
	case op == dex.OpFilledNewArray || op == dex.OpFilledNewArrayRange:
		v.verifyNewArray(in, true)
		t.justSetResult = true
	case op == dex.OpFillArrayData:
		v.verifyFillArrayData(in)
	case op == dex.OpThrow:
		exc := line.Get(a)
		switch {
		case !exc.IsReferenceTypes():
			v.Fail(VerifyErrorBadClassHard, "thrown value of non-reference type %s", exc)
		case !v.cache.JavaLangThrowable(false).IsAssignableFrom(exc):
			kind := VerifyErrorBadClassSoft
			if exc.IsUnresolvedTypes() {
				kind = VerifyErrorNoClass
			}
			v.Fail(kind, "thrown class %s not instanceof Throwable", exc)
		}

	case op == dex.OpGoto || op == dex.OpGoto16 || op == dex.OpGoto32:

	case op == dex.OpPackedSwitch || op == dex.OpSparseSwitch:
		line.VerifyRegisterType(v, a, integerType)

	case op == dex.OpCmplFloat || op == dex.OpCmpgFloat:
		v.verifyCompare(in, floatType)
	case op == dex.OpCmplDouble || op == dex.OpCmpgDouble:
		v.verifyCompare(in, doubleLoType)
	case op == dex.OpCmpLong:
		v.verifyCompare(in, longLoType)

	case op == dex.OpIfEq || op == dex.OpIfNe:
		t1, t2 := line.Get(a), line.Get(b)
		var mismatch bool
		switch {
		case t1.IsZero():
			mismatch = !t2.IsReferenceTypes() && !t2.IsIntegralTypes()
		case t1.IsReferenceTypes():
			mismatch = !t2.IsReferenceTypes()
		default:
			mismatch = !t1.IsIntegralTypes() || !t2.IsIntegralTypes()
		}
		if mismatch {
			v.Fail(VerifyErrorBadClassHard, "args to if-eq/if-ne (%s,%s) must both be references or integral", t1, t2)
		}
	case op >= dex.OpIfLt && op <= dex.OpIfLe:
		t1, t2 := line.Get(a), line.Get(b)
		if !t1.IsIntegralTypes() || !t2.IsIntegralTypes() {
			v.Fail(VerifyErrorBadClassHard, "args to 'if' (%s,%s) must be integral", t1, t2)
		}
	case op == dex.OpIfEqz || op == dex.OpIfNez:
		tested := line.Get(a)
		if !tested.IsReferenceTypes() && !tested.IsIntegralTypes() {
			v.Fail(VerifyErrorBadClassHard, "type %s unexpected as arg to if-eqz/if-nez", tested)
			return
		}
		v.sharpenAfterInstanceOf(in, t)
	case op >= dex.OpIfLtz && op <= dex.OpIfLez:
		if tested := line.Get(a); !tested.IsIntegralTypes() {
			v.Fail(VerifyErrorBadClassHard, "type %s unexpected as arg to if-ltz/if-gez/if-gtz/if-lez", tested)
		}

	case op >= dex.OpAget && op <= dex.OpAgetShort:
		et, prim := v.elementType(int(op - dex.OpAget))
		v.verifyAGet(in, et, prim)
	case op >= dex.OpAput && op <= dex.OpAputShort:
		et, prim := v.elementType(int(op - dex.OpAput))
		v.verifyAPut(in, et, prim)
	case op >= dex.OpIget && op <= dex.OpIgetShort:
		et, prim := v.elementType(int(op - dex.OpIget))
		v.verifyFieldGet(in, et, prim, false)
	case op >= dex.OpIput && op <= dex.OpIputShort:
		et, prim := v.elementType(int(op - dex.OpIput))
		v.verifyFieldPut(in, et, prim, false)
	case op >= dex.OpSget && op <= dex.OpSgetShort:
		et, prim := v.elementType(int(op - dex.OpSget))
		v.verifyFieldGet(in, et, prim, true)
	case op >= dex.OpSput && op <= dex.OpSputShort:
		et, prim := v.elementType(int(op - dex.OpSput))
		v.verifyFieldPut(in, et, prim, true)

	case op >= dex.OpInvokeVirtual && op <= dex.OpInvokeInterface,
		op >= dex.OpInvokeVirtualRange && op <= dex.OpInvokeInterfaceRange:
		v.verifyInvoke(in)
		t.justSetResult = true

	case op >= dex.OpNegInt && op <= dex.OpIntToShort:
		u := unaryTypes[op-dex.OpNegInt]
		if u.dst.IsLowHalf() {
			line.CheckUnaryOpWide(v, in, u.dst, v.cache.HighHalf(u.dst), u.src)
		} else {
			line.CheckUnaryOp(v, in, u.dst, u.src)
		}

	case op >= dex.OpAddInt && op <= dex.OpRemDouble:
		bt := binaryTypes[op-dex.OpAddInt]
		src2 := bt.operand
		if bt.shiftWide {
			src2 = integerType
		}
		if bt.operand.IsLowHalf() {
			line.CheckBinaryOpWide(v, in, bt.operand, v.cache.HighHalf(bt.operand), bt.operand, src2)
		} else {
			line.CheckBinaryOp(v, in, bt.operand, bt.operand, src2, bt.bitwise)
		}
	case op >= dex.OpAddInt2Addr && op <= dex.OpRemDouble2Addr:
		bt := binaryTypes[op-dex.OpAddInt2Addr]
		src2 := bt.operand
		if bt.shiftWide {
			src2 = integerType
		}
		if bt.operand.IsLowHalf() {
			line.CheckBinaryOp2addrWide(v, in, bt.operand, v.cache.HighHalf(bt.operand), bt.operand, src2)
		} else {
			line.CheckBinaryOp2addr(v, in, bt.operand, bt.operand, src2, bt.bitwise)
		}
	case op >= dex.OpAddIntLit16 && op <= dex.OpXorIntLit16:
		i := op - dex.OpAddIntLit16
		line.CheckLiteralOp(v, in, integerType, integerType, i >= 5)
	case op >= dex.OpAddIntLit8 && op <= dex.OpUshrIntLit8:
		i := op - dex.OpAddIntLit8
		line.CheckLiteralOp(v, in, integerType, integerType, i >= 5 && i <= 7)

	default:
		v.Fail(VerifyErrorBadClassHard, "unexpected opcode %s", in.Info().Name)
	}
}

func (v *MethodVerifier) setWideConst(reg int, value int64) {
	lo := v.cache.FromCat2ConstLo(int32(value), true)
	hi := v.cache.FromCat2ConstHi(int32(value>>32), true)
	v.workLine.SetRegisterTypeWide(v, reg, lo, hi)
}

// ---------------------------------------------------------------------------
// Returns, casts and comparisons
// ---------------------------------------------------------------------------

func (v *MethodVerifier) verifyReturn(in dex.Instruction) {
	line := v.workLine
	if v.isConstructor() && !line.CheckConstructorReturn(v) {
		return
	}
	ret := v.methodReturnType()
	reg := int(in.VRegA())
	switch in.Opcode() {
	case dex.OpReturnVoid:
		if !ret.IsConflict() {
			v.Fail(VerifyErrorBadClassHard, "return-void not expected")
		}
	case dex.OpReturn:
		if !ret.IsCategory1Types() {
			v.Fail(VerifyErrorBadClassHard, "unexpected non-category 1 return type %s", ret)
			return
		}
		// Compilers write ints into narrower return types.
		src := line.Get(reg)
		useSrc := (ret.IsBoolean() && src.IsByte()) ||
			((ret.IsBoolean() || ret.IsByte() || ret.IsShort() || ret.IsChar()) && src.IsInteger())
		check := ret
		if useSrc {
			check = src
		}
		line.VerifyRegisterType(v, reg, check)
	case dex.OpReturnWide:
		if !ret.IsCategory2Types() {
			v.Fail(VerifyErrorBadClassHard, "return-wide not expected")
			return
		}
		line.VerifyRegisterType(v, reg, ret)
	case dex.OpReturnObject:
		if !ret.IsReferenceTypes() {
			v.Fail(VerifyErrorBadClassHard, "return-object not expected")
			return
		}
		src := line.Get(reg)
		switch {
		case !src.IsReferenceTypes():
			v.Fail(VerifyErrorBadClassHard, "returning non-reference type %s", src)
		case src.IsUninitializedTypes():
			v.Fail(VerifyErrorBadClassSoft, "returning uninitialized object '%s'", src)
		case !ret.IsAssignableFrom(src):
			if src.IsUnresolvedTypes() || ret.IsUnresolvedTypes() {
				v.Fail(VerifyErrorNoClass, "can't resolve returned type '%s' or '%s'", ret, src)
			} else {
				v.Fail(VerifyErrorBadClassSoft, "returning '%s', but expected from declaration '%s'", src, ret)
			}
		}
	}
}

// verifyCast handles check-cast and instance-of.
func (v *MethodVerifier) verifyCast(in dex.Instruction) {
	line := v.workLine
	isCheckCast := in.Opcode() == dex.OpCheckCast
	typeIdx, objReg := uint32(in.VRegC()), int(in.VRegB())
	if isCheckCast {
		typeIdx, objReg = uint32(in.VRegB()), int(in.VRegA())
	}
	name := in.Info().Name
	res := v.resolveClassAndCheckAccess(typeIdx)
	if res.IsConflict() {
		if !isCheckCast {
			line.SetRegisterType(v, int(in.VRegA()), booleanType)
		}
		return
	}
	orig := line.Get(objReg)
	switch {
	case !res.IsNonZeroReferenceTypes():
		v.Fail(VerifyErrorBadClassHard, "%s on unexpected class %s", name, res)
	case !orig.IsReferenceTypes():
		v.Fail(VerifyErrorBadClassHard, "%s on non-reference in v%d", name, objReg)
	case isCheckCast:
		line.SetRegisterType(v, objReg, res)
	default:
		line.SetRegisterType(v, int(in.VRegA()), booleanType)
	}
}

func (v *MethodVerifier) verifyCompare(in dex.Instruction, operand *RegType) {
	line := v.workLine
	if line.VerifyRegisterType(v, int(in.VRegB()), operand) &&
		line.VerifyRegisterType(v, int(in.VRegC()), operand) {
		line.SetRegisterType(v, int(in.VRegA()), integerType)
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func (v *MethodVerifier) verifyNewInstance(in dex.Instruction) {
	res := v.resolveClassAndCheckAccess(uint32(in.VRegB()))
	if res.IsConflict() {
		return
	}
	if !res.IsInstantiableTypes() {
		// Not fatal: the register still gets its type.
		v.Fail(VerifyErrorInstantiation, "new-instance on primitive, interface or abstract class %s", res)
	}
	uninit := v.cache.Uninitialized(res, v.workPC)
	v.workLine.MarkUninitRefsAsInvalid(uninit)
	v.workLine.SetRegisterType(v, int(in.VRegA()), uninit)
}

// verifyNewArray handles new-array and both filled-new-array forms.
func (v *MethodVerifier) verifyNewArray(in dex.Instruction, filled bool) {
	line := v.workLine
	typeIdx := in.IndexOperand()
	res := v.resolveClassAndCheckAccess(typeIdx)
	if res.IsConflict() {
		return
	}
	if !res.IsArrayTypes() {
		v.Fail(VerifyErrorBadClassHard, "new-array on non-array class %s", res)
		return
	}
	exact := v.cache.FromUninitialized(res)
	if !filled {
		line.VerifyRegisterType(v, int(in.VRegB()), integerType)
		line.SetRegisterType(v, int(in.VRegA()), exact)
		return
	}
	component := v.cache.ComponentType(res)
	for _, reg := range in.ArgRegs() {
		if !line.VerifyRegisterType(v, int(reg), component) {
			line.SetResultRegisterType(conflictType)
			return
		}
	}
	line.SetResultRegisterType(exact)
}

// primitiveWidth returns the size in bytes of a primitive array element.
func primitiveWidth(desc byte) int {
	switch desc {
	case 'Z', 'B':
		return 1
	case 'C', 'S':
		return 2
	case 'I', 'F':
		return 4
	case 'J', 'D':
		return 8
	}
	return 0
}

func (v *MethodVerifier) verifyFillArrayData(in dex.Instruction) {
	arr := v.workLine.Get(int(in.VRegA()))
	if arr.IsZero() {
		// Fails at runtime with a NullPointerException.
		return
	}
	if !arr.IsArrayTypes() {
		v.Fail(VerifyErrorBadClassHard, "invalid fill-array-data with array type %s", arr)
		return
	}
	component := v.cache.ComponentType(arr)
	if component.IsNonZeroReferenceTypes() || len(arr.Descriptor()) != 2 {
		v.Fail(VerifyErrorBadClassHard, "invalid fill-array-data with component type %s", component)
		return
	}
	data, err := dex.DecodeArrayData(v.code.Insns, v.workPC+int(in.PayloadOffset()))
	if err != nil {
		v.Fail(VerifyErrorBadClassHard, "invalid magic for array-data")
		return
	}
	if want := primitiveWidth(arr.Descriptor()[1]); data.ElementWidth != want {
		v.Fail(VerifyErrorBadClassHard, "array-data size mismatch (%d vs %d)", data.ElementWidth, want)
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// arrayComponent checks the index and array operands of an aget/aput and
// returns the array's component type, or nil when the array is null or a
// failure was recorded.
func (v *MethodVerifier) arrayComponent(in dex.Instruction, insnType *RegType, primitive bool) (*RegType, bool) {
	line := v.workLine
	if idx := line.Get(int(in.VRegC())); !idx.IsArrayIndexTypes() {
		v.Fail(VerifyErrorBadClassHard, "Invalid reg type for array index (%s)", idx)
		return nil, false
	}
	arr := line.Get(int(in.VRegB()))
	if arr.IsZero() {
		return nil, true
	}
	name := in.Info().Name
	if !arr.IsArrayTypes() {
		v.Fail(VerifyErrorBadClassHard, "not array type %s with %s", arr, name)
		return nil, false
	}
	component := v.cache.ComponentType(arr)
	switch {
	case !primitive && !component.IsReferenceTypes():
		v.Fail(VerifyErrorBadClassHard, "primitive array type %s source for %s", arr, name)
	case primitive && component.IsNonZeroReferenceTypes():
		v.Fail(VerifyErrorBadClassHard, "reference array type %s source for %s", arr, name)
	case primitive && insnType != component &&
		!(insnType.IsInteger() && component.IsFloat()) &&
		!(insnType.IsLongLo() && component.IsDoubleLo()):
		v.Fail(VerifyErrorBadClassHard, "array type %s incompatible with %s of type %s", arr, name, insnType)
	default:
		return component, true
	}
	return nil, false
}

func (v *MethodVerifier) verifyAGet(in dex.Instruction, insnType *RegType, primitive bool) {
	line := v.workLine
	dst := int(in.VRegA())
	component, ok := v.arrayComponent(in, insnType, primitive)
	switch {
	case !ok:
	case component == nil:
		// A null array throws at runtime; pick a type every use accepts.
		if !primitive || insnType.IsCategory1Types() {
			line.SetRegisterType(v, dst, v.cache.Zero())
		} else {
			line.SetRegisterTypeWide(v, dst, v.cache.FromCat2ConstLo(0, false), v.cache.FromCat2ConstHi(0, false))
		}
	case component.IsLowHalf():
		line.SetRegisterTypeWide(v, dst, component, v.cache.HighHalf(component))
	default:
		line.SetRegisterType(v, dst, component)
	}
}

func (v *MethodVerifier) verifyAPut(in dex.Instruction, insnType *RegType, primitive bool) {
	component, ok := v.arrayComponent(in, insnType, primitive)
	if !ok || component == nil {
		return
	}
	if primitive {
		v.verifyPrimitivePut(component, insnType, int(in.VRegA()))
		return
	}
	// Element store compatibility is checked at runtime.
	v.workLine.VerifyRegisterType(v, int(in.VRegA()), insnType)
}

// verifyPrimitivePut checks a primitive store of vreg into a location of
// type target using the weaker primitive assignability rules.
func (v *MethodVerifier) verifyPrimitivePut(target, insnType *RegType, vreg int) {
	line := v.workLine
	value := line.Get(vreg)
	var insnOK, valueOK bool
	switch {
	case target.IsIntegralTypes():
		insnOK = target == insnType
		valueOK = value.IsIntegralTypes()
	case target.IsFloat():
		insnOK = insnType.IsInteger()
		valueOK = value.IsFloatTypes()
	case target.IsLongLo():
		insnOK = insnType.IsLongLo()
		valueOK = insnOK && vreg+1 < line.Len() && value.IsLongTypes() && value.CheckWidePair(line.Get(vreg+1))
	case target.IsDoubleLo():
		insnOK = insnType.IsLongLo()
		valueOK = insnOK && vreg+1 < line.Len() && value.IsDoubleTypes() && value.CheckWidePair(line.Get(vreg+1))
	}
	switch {
	case !insnOK:
		v.Fail(VerifyErrorBadClassHard, "put insn has type '%s' but expected type '%s'", insnType, target)
	case !valueOK:
		v.Fail(VerifyErrorBadClassHard, "unexpected value in v%d of type %s but expected %s for put", vreg, value, target)
	}
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// resolveField resolves a field reference and checks access and staticness.
// It returns nil when the owner is unresolved or a failure was recorded.
func (v *MethodVerifier) resolveField(idx uint32, static bool) *classlink.Field {
	id := v.file.Field(idx)
	owner := v.resolveDescriptorAndCheckAccess(id.Class)
	if owner.IsConflict() || owner.IsUnresolvedTypes() {
		return nil
	}
	field, err := v.linker.ResolveField(id)
	if err != nil {
		v.Fail(VerifyErrorNoField, "unable to resolve field %s", id)
		return nil
	}
	referrer := v.DeclaringClass()
	switch {
	case !referrer.CanAccessMember(field.Class, field.Access):
		v.Fail(VerifyErrorAccessField, "cannot access field %s from %s", field, referrer)
		return nil
	case static && !field.IsStatic():
		v.Fail(VerifyErrorClassChange, "expected field %s to be static", field)
		return nil
	case !static && field.IsStatic():
		v.Fail(VerifyErrorClassChange, "expected field %s to not be static", field)
		return nil
	}
	return field
}

// instanceField resolves the field of an iget/iput and checks the object
// register against the declaring class.
func (v *MethodVerifier) instanceField(in dex.Instruction) (*classlink.Field, bool) {
	obj := v.workLine.Get(int(in.VRegB()))
	if !obj.IsReferenceTypes() {
		v.Fail(VerifyErrorBadClassHard, "instance field access on non-reference type %s", obj)
		return nil, false
	}
	field := v.resolveField(uint32(in.VRegC()), false)
	if field == nil || obj.IsZero() {
		// A null object throws at runtime.
		return field, true
	}
	owner := v.cache.FromClass(field.Class.Descriptor, field.Class, field.Class.CannotBeAssignedFromOtherTypes())
	if obj.IsUninitializedTypes() {
		// Constructors may store into their own fields before the
		// superclass constructor runs.
		if !obj.IsUninitializedThisReference() || !v.isConstructor() || owner != v.DeclaringClass() {
			v.Fail(VerifyErrorBadClassHard, "cannot access instance field %s of a not fully initialized object within the context of %s",
				field, v.methodName())
			return nil, false
		}
		return field, true
	}
	if !owner.IsAssignableFrom(obj) {
		v.Fail(VerifyErrorNoField, "cannot access instance field %s from object of type %s", field, obj)
		return nil, true
	}
	return field, true
}

func (v *MethodVerifier) fieldIndex(in dex.Instruction, static bool) uint32 {
	if static {
		return uint32(in.VRegB())
	}
	return uint32(in.VRegC())
}

func (v *MethodVerifier) verifyFieldGet(in dex.Instruction, insnType *RegType, primitive, static bool) {
	line := v.workLine
	if static {
		v.resolveField(uint32(in.VRegB()), true)
	} else if _, ok := v.instanceField(in); !ok {
		return
	}
	if v.haveHardFailure {
		return
	}
	id := v.file.Field(v.fieldIndex(in, static))
	fieldType := v.cache.FromDescriptor(id.Type, false)
	dst := int(in.VRegA())
	if primitive {
		if fieldType != insnType &&
			!(fieldType.IsFloat() && insnType.IsInteger()) &&
			!(fieldType.IsDoubleLo() && insnType.IsLongLo()) {
			v.Fail(VerifyErrorBadClassHard, "expected field %s to be of type '%s' but found type '%s' in get",
				id, insnType, fieldType)
			return
		}
	} else if !insnType.IsAssignableFrom(fieldType) {
		v.Fail(VerifyErrorBadClassHard, "expected field %s to be compatible with type '%s' but found type '%s' in get-object",
			id, insnType, fieldType)
		return
	}
	if fieldType.IsLowHalf() {
		line.SetRegisterTypeWide(v, dst, fieldType, v.cache.HighHalf(fieldType))
	} else {
		line.SetRegisterType(v, dst, fieldType)
	}
}

func (v *MethodVerifier) verifyFieldPut(in dex.Instruction, insnType *RegType, primitive, static bool) {
	var field *classlink.Field
	if static {
		field = v.resolveField(uint32(in.VRegB()), true)
	} else {
		var ok bool
		if field, ok = v.instanceField(in); !ok {
			return
		}
	}
	if field != nil && field.IsFinal() && field.Class != v.method.Class {
		v.Fail(VerifyErrorAccessField, "cannot modify final field %s from other class %s", field, v.DeclaringClass())
		return
	}
	if v.haveHardFailure {
		return
	}
	id := v.file.Field(v.fieldIndex(in, static))
	fieldType := v.cache.FromDescriptor(id.Type, false)
	if primitive {
		v.verifyPrimitivePut(fieldType, insnType, int(in.VRegA()))
		return
	}
	if !insnType.IsAssignableFrom(fieldType) {
		v.Fail(VerifyErrorBadClassHard, "expected field %s to be compatible with type '%s' but found type '%s' in put-object",
			id, insnType, fieldType)
		return
	}
	v.workLine.VerifyRegisterType(v, int(in.VRegA()), fieldType)
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// invokeKind maps an invoke opcode to its method lookup rule.
func invokeKind(op dex.Opcode) (kind classlink.MethodKind, super bool) {
	if op >= dex.OpInvokeVirtualRange {
		op -= dex.OpInvokeVirtualRange - dex.OpInvokeVirtual
	}
	switch op {
	case dex.OpInvokeSuper:
		return classlink.KindVirtual, true
	case dex.OpInvokeDirect:
		return classlink.KindDirect, false
	case dex.OpInvokeStatic:
		return classlink.KindStatic, false
	case dex.OpInvokeInterface:
		return classlink.KindInterface, false
	}
	return classlink.KindVirtual, false
}

// resolveMethodAndCheckAccess resolves a method reference with the lookup
// rule of kind and checks that the invoke matches the method it found.
func (v *MethodVerifier) resolveMethodAndCheckAccess(idx uint32, kind classlink.MethodKind) *classlink.Method {
	id := v.file.Method(idx)
	owner := v.resolveDescriptorAndCheckAccess(id.Class)
	if owner.IsConflict() || owner.IsUnresolvedTypes() {
		return nil
	}
	klass := owner.Class()
	if klass == nil {
		v.Fail(VerifyErrorBadClassHard, "method owner %s is not a class", owner)
		return nil
	}
	m, err := v.linker.ResolveMethod(id, kind)
	if err != nil && (kind == classlink.KindVirtual || kind == classlink.KindInterface) {
		// A wrong invoke kind is reported by the checks below.
		m, err = v.linker.ResolveMethod(id, classlink.KindDirect)
	}
	if err != nil {
		v.Fail(VerifyErrorNoMethod, "couldn't find method %s.%s %s", dex.PrettyDescriptor(id.Class), id.Name, id.Proto.Descriptor())
		return nil
	}
	referrer := v.DeclaringClass()
	switch {
	case m.IsConstructor() && kind != classlink.KindDirect:
		v.Fail(VerifyErrorBadClassHard, "rejecting non-direct call to constructor %s", m)
		return nil
	case m.Name == "<clinit>":
		v.Fail(VerifyErrorBadClassHard, "rejecting call to class initializer %s", m)
		return nil
	case !referrer.CanAccessMember(m.Class, m.Access):
		v.Fail(VerifyErrorAccessMethod, "illegal method access (call %s from %s)", m, referrer)
		return m
	case m.IsPrivate() && kind == classlink.KindVirtual:
		v.Fail(VerifyErrorBadClassHard, "invoke-super/virtual can't be used on private method %s", m)
		return nil
	case klass.IsInterface() && kind != classlink.KindInterface:
		v.Fail(VerifyErrorClassChange, "non-interface method %s is in an interface class %s", m, klass)
		return nil
	case !klass.IsInterface() && kind == classlink.KindInterface:
		v.Fail(VerifyErrorClassChange, "interface method %s is in a non-interface class %s", m, klass)
		return nil
	case kind == classlink.KindDirect && !m.IsDirect(),
		kind == classlink.KindStatic && !m.IsStatic(),
		(kind == classlink.KindVirtual || kind == classlink.KindInterface) && m.IsDirect():
		v.Fail(VerifyErrorClassChange, "invoke type (%s) does not match method type of %s", kind, m)
		return nil
	}
	return m
}

// signatureRegisters counts the argument registers a call with this
// prototype needs.
func signatureRegisters(proto dex.Proto, static bool) int {
	n := 0
	if !static {
		n = 1
	}
	for _, p := range proto.Params {
		if p == "J" || p == "D" {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// verifyInvocationArgs checks the receiver and arguments of an invoke. It
// returns the resolved callee when there is one.
func (v *MethodVerifier) verifyInvocationArgs(in dex.Instruction, kind classlink.MethodKind, super bool) *classlink.Method {
	line := v.workLine
	idx := in.IndexOperand()
	id := v.file.Method(idx)
	static := kind == classlink.KindStatic
	if want := signatureRegisters(id.Proto, static); in.ArgCount() != want {
		v.Fail(VerifyErrorBadClassHard, "Rejecting invocation, expected %d arguments, found %d", want, in.ArgCount())
		return nil
	}
	if in.ArgCount() > int(v.code.OutsSize) {
		v.Fail(VerifyErrorBadClassHard, "invalid argument count (%d) exceeds outsSize (%d)", in.ArgCount(), v.code.OutsSize)
		return nil
	}
	m := v.resolveMethodAndCheckAccess(idx, kind)
	if v.haveHardFailure {
		return nil
	}

	if super && m != nil {
		sup := v.cache.SuperClass(v.DeclaringClass())
		switch {
		case sup.IsUnresolvedTypes() || !sup.HasClass():
			v.Fail(VerifyErrorNoMethod, "unknown super class in invoke-super from %s to super %s", v.methodName(), m)
			return nil
		case sup.Class().FindVirtualMethod(m.Name, m.Signature()) == nil:
			v.Fail(VerifyErrorNoMethod, "invalid invoke-super from %s to super %s.%s%s", v.methodName(), sup, m.Name, m.Signature())
			return nil
		}
	}

	args := in.ArgRegs()
	next := 0
	if !static {
		this := line.InvocationThis(v, in)
		if this.IsConflict() {
			return nil
		}
		isInit := id.Name == "<init>"
		if this.IsUninitializedTypes() && !isInit {
			v.Fail(VerifyErrorBadClassHard, "'this' arg must be initialized")
			return nil
		}
		// Soft receiver mismatches still let the arguments be checked.
		if kind != classlink.KindInterface && !this.IsZero() &&
			!v.receiverCompatible(m, id, this) && v.haveHardFailure {
			return nil
		}
		next = 1
	}
	for _, desc := range id.Proto.Params {
		if next >= len(args) {
			v.Fail(VerifyErrorBadClassHard, "Rejecting invalid call to '%s'. Expected %d arguments, processing argument %d (where longs/doubles count twice).",
				id, len(args), next)
			return nil
		}
		want := v.cache.FromDescriptor(desc, false)
		reg := int(args[next])
		if want.IsIntegralTypes() {
			if src := line.Get(reg); !src.IsIntegralTypes() {
				v.Fail(VerifyErrorBadClassHard, "register v%d has type %s but expected %s", reg, src, want)
				return m
			}
		} else if !line.VerifyRegisterType(v, reg, want) {
			return m
		}
		if want.IsLowHalf() {
			next += 2
		} else {
			next++
		}
	}
	if next != len(args) {
		v.Fail(VerifyErrorBadClassHard, "Rejecting invocation of %s expected %d arguments, found %d", id, len(args), next)
		return nil
	}
	return m
}

// receiverCompatible checks that the receiver is an instance of the class
// declaring the callee. A constructor receiver is still uninitialized and
// is compared by class.
func (v *MethodVerifier) receiverCompatible(m *classlink.Method, id dex.MethodID, this *RegType) bool {
	var want *RegType
	if m != nil {
		want = v.cache.FromClass(m.Class.Descriptor, m.Class, m.Class.CannotBeAssignedFromOtherTypes())
	} else {
		want = v.cache.FromDescriptor(id.Class, false)
	}
	if this.IsUninitializedTypes() {
		if this.IsUnresolvedTypes() || want.IsUnresolvedTypes() || !want.HasClass() ||
			want.Class().IsAssignableFrom(this.Class()) {
			return true
		}
		v.Fail(VerifyErrorBadClassHard, "'this' argument '%s' not instance of '%s'", this, want)
		return false
	}
	if want.IsAssignableFrom(this) {
		return true
	}
	kind := VerifyErrorBadClassSoft
	if this.IsUnresolvedTypes() {
		kind = VerifyErrorNoClass
	}
	v.Fail(kind, "'this' argument '%s' not instance of '%s'", this, want)
	return false
}

// verifyInvoke checks an invoke and records the callee's return type in
// the result slot.
func (v *MethodVerifier) verifyInvoke(in dex.Instruction) {
	line := v.workLine
	kind, super := invokeKind(in.Opcode())
	m := v.verifyInvocationArgs(in, kind, super)
	if v.haveHardFailure {
		return
	}
	id := v.file.Method(in.IndexOperand())

	switch kind {
	case classlink.KindDirect:
		if id.Name == "<init>" && !v.initializeReceiver(in) {
			return
		}
	case classlink.KindInterface:
		if m != nil && !m.Class.IsInterface() && !m.Class.IsObject() {
			v.Fail(VerifyErrorClassChange, "expected interface class in invoke-interface '%s'", m)
			return
		}
		// The receiver's interfaces are not tracked precisely through joins,
		// so only initialization is checked here.
		if this := line.InvocationThis(v, in); this.IsUninitializedTypes() {
			v.Fail(VerifyErrorBadClassHard, "interface call on uninitialized object %s", this)
			return
		}
	}

	ret := v.cache.FromDescriptor(id.Proto.Return, false)
	if ret.IsLowHalf() {
		line.SetResultRegisterTypeWide(ret, v.cache.HighHalf(ret))
	} else {
		line.SetResultRegisterType(ret)
	}
}

// initializeReceiver retypes every alias of the receiver of a constructor
// call once it returns.
func (v *MethodVerifier) initializeReceiver(in dex.Instruction) bool {
	line := v.workLine
	this := line.InvocationThis(v, in)
	switch {
	case this.IsConflict():
		return false
	case this.IsZero():
		v.Fail(VerifyErrorBadClassHard, "unable to initialize null ref")
		return false
	case !this.IsUninitializedTypes():
		v.Fail(VerifyErrorBadClassHard, "Expected initialization on uninitialized reference %s", this)
		return false
	}
	line.MarkRefsAsInitialized(this)
	return true
}
