package verifier

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/dex"
)

// Kind is the variant tag of a RegType.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindConflict
	KindBoolean
	KindByte
	KindShort
	KindChar
	KindInteger
	KindFloat
	KindLongLo
	KindLongHi
	KindDoubleLo
	KindDoubleHi
	KindPreciseConst
	KindImpreciseConst
	KindPreciseConstLo
	KindPreciseConstHi
	KindImpreciseConstLo
	KindImpreciseConstHi
	KindReference
	KindPreciseReference
	KindUninitializedReference
	KindUninitializedThisReference
	KindUnresolvedReference
	KindUnresolvedUninitializedReference
	KindUnresolvedUninitializedThisReference
	KindUnresolvedSuperClass
	KindUnresolvedMergedReference
)

// RegType is an immutable abstract value held by a register. Instances are
// interned by a Cache, so two RegTypes are equal exactly when they are the
// same pointer.
type RegType struct {
	kind       Kind
	id         uint16
	descriptor string
	klass      *classlink.Class
	constant   int32
	allocPC    int
	child      *RegType   // UnresolvedSuperClass
	members    []*RegType // UnresolvedMergedReference, sorted by id
}

// Primitive types shared by every cache. Their ids are fixed.
var (
	undefinedType = &RegType{kind: KindUndefined, id: 0}
	conflictType  = &RegType{kind: KindConflict, id: 1}
	booleanType   = &RegType{kind: KindBoolean, id: 2}
	byteType      = &RegType{kind: KindByte, id: 3}
	shortType     = &RegType{kind: KindShort, id: 4}
	charType      = &RegType{kind: KindChar, id: 5}
	integerType   = &RegType{kind: KindInteger, id: 6}
	floatType     = &RegType{kind: KindFloat, id: 7}
	longLoType    = &RegType{kind: KindLongLo, id: 8}
	longHiType    = &RegType{kind: KindLongHi, id: 9}
	doubleLoType  = &RegType{kind: KindDoubleLo, id: 10}
	doubleHiType  = &RegType{kind: KindDoubleHi, id: 11}

	primitiveTypes = []*RegType{
		undefinedType, conflictType, booleanType, byteType, shortType, charType,
		integerType, floatType, longLoType, longHiType, doubleLoType, doubleHiType,
	}
)

func (r *RegType) Kind() Kind                { return r.kind }
func (r *RegType) ID() uint16                { return r.id }
func (r *RegType) Descriptor() string        { return r.descriptor }
func (r *RegType) Class() *classlink.Class   { return r.klass }
func (r *RegType) ConstantValue() int32      { return r.constant }
func (r *RegType) AllocationPC() int         { return r.allocPC }
func (r *RegType) MergedMembers() []*RegType { return r.members }

// Equals reports whether r and other are the same lattice element.
func (r *RegType) Equals(other *RegType) bool { return r == other }

// ---------------------------------------------------------------------------
// Kind predicates
// ---------------------------------------------------------------------------

func (r *RegType) IsUndefined() bool { return r.kind == KindUndefined }
func (r *RegType) IsConflict() bool  { return r.kind == KindConflict }
func (r *RegType) IsBoolean() bool   { return r.kind == KindBoolean }
func (r *RegType) IsByte() bool      { return r.kind == KindByte }
func (r *RegType) IsShort() bool     { return r.kind == KindShort }
func (r *RegType) IsChar() bool      { return r.kind == KindChar }
func (r *RegType) IsInteger() bool   { return r.kind == KindInteger }
func (r *RegType) IsFloat() bool     { return r.kind == KindFloat }
func (r *RegType) IsLongLo() bool    { return r.kind == KindLongLo }
func (r *RegType) IsLongHi() bool    { return r.kind == KindLongHi }
func (r *RegType) IsDoubleLo() bool  { return r.kind == KindDoubleLo }
func (r *RegType) IsDoubleHi() bool  { return r.kind == KindDoubleHi }

func (r *RegType) IsReference() bool        { return r.kind == KindReference }
func (r *RegType) IsPreciseReference() bool { return r.kind == KindPreciseReference }
func (r *RegType) IsUninitializedReference() bool {
	return r.kind == KindUninitializedReference
}
func (r *RegType) IsUninitializedThisReference() bool {
	return r.kind == KindUninitializedThisReference
}
func (r *RegType) IsUnresolvedReference() bool { return r.kind == KindUnresolvedReference }
func (r *RegType) IsUnresolvedUninitializedReference() bool {
	return r.kind == KindUnresolvedUninitializedReference
}
func (r *RegType) IsUnresolvedUninitializedThisReference() bool {
	return r.kind == KindUnresolvedUninitializedThisReference
}
func (r *RegType) IsUnresolvedSuperClass() bool { return r.kind == KindUnresolvedSuperClass }
func (r *RegType) IsUnresolvedMergedReference() bool {
	return r.kind == KindUnresolvedMergedReference
}

// IsConstant reports a category-1 constant.
func (r *RegType) IsConstant() bool {
	return r.kind == KindPreciseConst || r.kind == KindImpreciseConst
}

func (r *RegType) IsConstantLo() bool {
	return r.kind == KindPreciseConstLo || r.kind == KindImpreciseConstLo
}

func (r *RegType) IsConstantHi() bool {
	return r.kind == KindPreciseConstHi || r.kind == KindImpreciseConstHi
}

// IsConstantTypes reports any constant, of either category.
func (r *RegType) IsConstantTypes() bool {
	return r.IsConstant() || r.IsConstantLo() || r.IsConstantHi()
}

func (r *RegType) IsPreciseConstant() bool {
	return r.kind == KindPreciseConst || r.kind == KindPreciseConstLo || r.kind == KindPreciseConstHi
}

// IsZero reports the precise constant 0, which doubles as null.
func (r *RegType) IsZero() bool {
	return r.kind == KindPreciseConst && r.constant == 0
}

func (r *RegType) IsConstantBoolean() bool {
	return r.IsConstant() && (r.constant == 0 || r.constant == 1)
}

func (r *RegType) IsConstantByte() bool {
	return r.IsConstant() && r.constant >= math.MinInt8 && r.constant <= math.MaxInt8
}

func (r *RegType) IsConstantShort() bool {
	return r.IsConstant() && r.constant >= math.MinInt16 && r.constant <= math.MaxInt16
}

func (r *RegType) IsConstantChar() bool {
	return r.IsConstant() && r.constant >= 0 && r.constant <= math.MaxUint16
}

func (r *RegType) IsUninitializedTypes() bool {
	switch r.kind {
	case KindUninitializedReference, KindUninitializedThisReference,
		KindUnresolvedUninitializedReference, KindUnresolvedUninitializedThisReference:
		return true
	}
	return false
}

func (r *RegType) IsUnresolvedTypes() bool {
	switch r.kind {
	case KindUnresolvedReference, KindUnresolvedUninitializedReference,
		KindUnresolvedUninitializedThisReference, KindUnresolvedSuperClass,
		KindUnresolvedMergedReference:
		return true
	}
	return false
}

func (r *RegType) IsNonZeroReferenceTypes() bool {
	return r.kind >= KindReference
}

func (r *RegType) IsReferenceTypes() bool {
	return r.IsNonZeroReferenceTypes() || r.IsZero()
}

// HasClass reports whether r carries a resolved class.
func (r *RegType) HasClass() bool {
	switch r.kind {
	case KindReference, KindPreciseReference, KindUninitializedReference,
		KindUninitializedThisReference:
		return true
	}
	return false
}

func (r *RegType) IsLowHalf() bool {
	return r.kind == KindLongLo || r.kind == KindDoubleLo || r.IsConstantLo()
}

func (r *RegType) IsHighHalf() bool {
	return r.kind == KindLongHi || r.kind == KindDoubleHi || r.IsConstantHi()
}

func (r *RegType) IsBooleanTypes() bool { return r.IsBoolean() || r.IsConstantBoolean() }

func (r *RegType) IsByteTypes() bool {
	return r.IsConstantByte() || r.IsByte() || r.IsBoolean()
}

func (r *RegType) IsShortTypes() bool {
	return r.IsShort() || r.IsByte() || r.IsBoolean() || r.IsConstantShort()
}

func (r *RegType) IsCharTypes() bool {
	return r.IsChar() || r.IsBooleanTypes() || r.IsConstantChar()
}

func (r *RegType) IsIntegralTypes() bool {
	return r.IsInteger() || r.IsConstant() || r.IsByte() || r.IsShort() ||
		r.IsChar() || r.IsBoolean()
}

func (r *RegType) IsArrayIndexTypes() bool { return r.IsIntegralTypes() }
func (r *RegType) IsFloatTypes() bool      { return r.IsFloat() || r.IsConstant() }
func (r *RegType) IsLongTypes() bool       { return r.IsLongLo() || r.IsConstantLo() }
func (r *RegType) IsLongHighTypes() bool   { return r.IsLongHi() || r.IsConstantHi() }
func (r *RegType) IsDoubleTypes() bool     { return r.IsDoubleLo() || r.IsConstantLo() }
func (r *RegType) IsDoubleHighTypes() bool { return r.IsDoubleHi() || r.IsConstantHi() }

func (r *RegType) IsCategory1Types() bool {
	return r.IsChar() || r.IsInteger() || r.IsFloat() || r.IsConstant() ||
		r.IsByte() || r.IsShort() || r.IsBoolean()
}

func (r *RegType) IsCategory2Types() bool { return r.IsLowHalf() }

// CheckWidePair reports whether r and hi form the two halves of one wide
// value.
func (r *RegType) CheckWidePair(hi *RegType) bool {
	switch {
	case r.IsConstantLo():
		return hi.IsConstantHi()
	case r.IsLongLo():
		return hi.IsLongHi()
	case r.IsDoubleLo():
		return hi.IsDoubleHi()
	}
	return false
}

// IsJavaLangObject reports a resolved java.lang.Object.
func (r *RegType) IsJavaLangObject() bool {
	return (r.IsReference() || r.IsPreciseReference()) && r.klass.IsObject()
}

func (r *RegType) IsArrayTypes() bool {
	if r.HasClass() {
		return r.klass.IsArray()
	}
	return r.IsUnresolvedTypes() && strings.HasPrefix(r.descriptor, "[")
}

func (r *RegType) IsObjectArrayTypes() bool {
	if r.HasClass() {
		return r.klass.IsObjectArray()
	}
	if r.IsUnresolvedTypes() && strings.HasPrefix(r.descriptor, "[") {
		c := r.descriptor[1]
		return c == '[' || c == 'L'
	}
	return false
}

func (r *RegType) IsJavaLangObjectArray() bool {
	return r.HasClass() && r.klass.IsArray() && r.klass.Component.IsObject()
}

// IsInstantiableTypes reports whether new-instance may allocate r.
func (r *RegType) IsInstantiableTypes() bool {
	return r.IsUnresolvedTypes() || (r.HasClass() && r.klass.IsInstantiable())
}

// CanAccess reports whether code in class r may refer to type other.
// Unresolved types are only accessible when trivially so.
func (r *RegType) CanAccess(other *RegType) bool {
	switch {
	case r.Equals(other):
		return true
	case !r.IsUnresolvedTypes() && !other.IsUnresolvedTypes():
		return classlink.CanAccess(r.klass, other.klass)
	case !other.IsUnresolvedTypes():
		return other.klass.IsPublic()
	}
	return false
}

// CanAccessMember reports whether code in class r may use a member of owner
// with the given flags.
func (r *RegType) CanAccessMember(owner *classlink.Class, flags dex.AccessFlags) bool {
	if flags.Is(dex.AccPublic) {
		return true
	}
	if r.IsUnresolvedTypes() {
		return false
	}
	return classlink.CanAccessMember(r.klass, owner, flags)
}

// ---------------------------------------------------------------------------
// Assignability
// ---------------------------------------------------------------------------

// IsAssignableFrom reports whether a value of type src may be stored where
// r is expected. Interfaces accept any reference, leaving the check to the
// runtime.
func (r *RegType) IsAssignableFrom(src *RegType) bool {
	return assignableFrom(r, src, false)
}

// IsStrictlyAssignableFrom is IsAssignableFrom without interface leniency.
func (r *RegType) IsStrictlyAssignableFrom(src *RegType) bool {
	return assignableFrom(r, src, true)
}

func assignableFrom(lhs, rhs *RegType, strict bool) bool {
	if lhs.Equals(rhs) {
		return true
	}
	switch lhs.kind {
	case KindBoolean:
		return rhs.IsBooleanTypes()
	case KindByte:
		return rhs.IsByteTypes()
	case KindShort:
		return rhs.IsShortTypes()
	case KindChar:
		return rhs.IsCharTypes()
	case KindInteger:
		return rhs.IsIntegralTypes()
	case KindFloat:
		return rhs.IsFloatTypes()
	case KindLongLo:
		return rhs.IsLongTypes()
	case KindDoubleLo:
		return rhs.IsDoubleTypes()
	}
	if !lhs.IsReferenceTypes() {
		return false
	}
	switch {
	case rhs.IsZero():
		return true
	case !rhs.IsReferenceTypes():
		return false
	case lhs.IsUninitializedTypes() || rhs.IsUninitializedTypes():
		return false
	case lhs.IsJavaLangObject():
		return true
	case !strict && lhs.HasClass() && lhs.klass.IsInterface():
		return true
	case lhs.IsJavaLangObjectArray():
		return rhs.IsObjectArrayTypes()
	case lhs.IsUnresolvedMergedReference() && !rhs.IsUnresolvedMergedReference():
		for _, m := range lhs.members {
			if assignableFrom(m, rhs, strict) {
				return true
			}
		}
		return false
	case rhs.IsUnresolvedMergedReference():
		for _, m := range rhs.members {
			if !assignableFrom(lhs, m, strict) {
				return false
			}
		}
		return true
	case lhs.HasClass() && rhs.HasClass():
		return lhs.klass.IsAssignableFrom(rhs.klass)
	}
	return false
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

// Merge returns the least upper bound of r and incoming, or Conflict when
// they have no sound common type.
func (r *RegType) Merge(incoming *RegType, cache *Cache) *RegType {
	switch {
	case r.Equals(incoming):
		return r
	case r.IsConflict() || incoming.IsConflict():
		return conflictType
	case r.IsUndefined() || incoming.IsUndefined():
		return conflictType
	case r.IsConstant() && incoming.IsConstant():
		return mergeConstants(r, incoming, cache)
	case r.IsConstantLo() && incoming.IsConstantLo():
		return cache.FromCat2ConstLo(r.constant|incoming.constant, false)
	case r.IsConstantHi() && incoming.IsConstantHi():
		return cache.FromCat2ConstHi(r.constant|incoming.constant, false)
	case r.IsIntegralTypes() && incoming.IsIntegralTypes():
		return mergeIntegral(r, incoming)
	case r.IsFloatTypes() && incoming.IsFloatTypes():
		return floatType
	case r.IsLongTypes() && incoming.IsLongTypes():
		return longLoType
	case r.IsLongHighTypes() && incoming.IsLongHighTypes():
		return longHiType
	case r.IsDoubleTypes() && incoming.IsDoubleTypes():
		return doubleLoType
	case r.IsDoubleHighTypes() && incoming.IsDoubleHighTypes():
		return doubleHiType
	case r.IsReferenceTypes() && incoming.IsReferenceTypes():
		return mergeReferences(r, incoming, cache)
	}
	return conflictType
}

// mergeIntegral joins two distinct integral types, at most one of them a
// constant. A narrow type survives only a merge with a constant in its own
// range; every other pair widens to int.
func mergeIntegral(a, b *RegType) *RegType {
	if a.IsConstant() {
		a, b = b, a
	}
	if b.IsConstant() {
		switch {
		case a.IsBoolean() && b.IsConstantBoolean():
			return booleanType
		case a.IsByte() && b.IsConstantByte():
			return byteType
		case a.IsShort() && b.IsConstantShort():
			return shortType
		case a.IsChar() && b.IsConstantChar():
			return charType
		}
	}
	return integerType
}

func mergeConstants(a, b *RegType, cache *Cache) *RegType {
	v1, v2 := a.constant, b.constant
	// keep returns the larger-magnitude side, dropping precision.
	keep := func(t *RegType) *RegType {
		if !t.IsPreciseConstant() {
			return t
		}
		return cache.FromCat1Const(t.constant, false)
	}
	switch {
	case v1 >= 0 && v2 >= 0:
		if v1 >= v2 {
			return keep(a)
		}
		return keep(b)
	case v1 < 0 && v2 < 0:
		if v1 <= v2 {
			return keep(a)
		}
		return keep(b)
	}
	// Mixed signs cannot be ordered; only the int range is known to hold
	// both.
	return cache.IntConstant()
}

func mergeReferences(a, b *RegType, cache *Cache) *RegType {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case a.IsUninitializedTypes() || b.IsUninitializedTypes():
		return conflictType
	case a.IsJavaLangObject() || b.IsJavaLangObject():
		return cache.JavaLangObject(false)
	case a.IsUnresolvedTypes() || b.IsUnresolvedTypes():
		return cache.FromUnresolvedMerge(a, b)
	}
	join := cache.linker.ClassJoin(a.klass, b.klass)
	switch {
	case join == a.klass && !a.IsPreciseReference():
		return a
	case join == b.klass && !b.IsPreciseReference():
		return b
	}
	return cache.FromClass(join.Descriptor, join, false)
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

var kindNames = map[Kind]string{
	KindUndefined:                            "Undefined",
	KindConflict:                             "Conflict",
	KindBoolean:                              "Boolean",
	KindByte:                                 "Byte",
	KindShort:                                "Short",
	KindChar:                                 "Char",
	KindInteger:                              "Integer",
	KindFloat:                                "Float",
	KindLongLo:                               "Long (Low Half)",
	KindLongHi:                               "Long (High Half)",
	KindDoubleLo:                             "Double (Low Half)",
	KindDoubleHi:                             "Double (High Half)",
	KindPreciseConst:                         "Precise Constant",
	KindImpreciseConst:                       "Imprecise Constant",
	KindPreciseConstLo:                       "Precise Low-half Constant",
	KindPreciseConstHi:                       "Precise High-half Constant",
	KindImpreciseConstLo:                     "Imprecise Low-half Constant",
	KindImpreciseConstHi:                     "Imprecise High-half Constant",
	KindReference:                            "Reference",
	KindPreciseReference:                     "Precise Reference",
	KindUninitializedReference:               "Uninitialized Reference",
	KindUninitializedThisReference:           "Uninitialized This Reference",
	KindUnresolvedReference:                  "Unresolved Reference",
	KindUnresolvedUninitializedReference:     "Unresolved And Uninitialized Reference",
	KindUnresolvedUninitializedThisReference: "Unresolved And Uninitialized This Reference",
	KindUnresolvedSuperClass:                 "Unresolved Super Class",
	KindUnresolvedMergedReference:            "Unresolved Merged Reference",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// String describes the type for failure messages and dumps.
func (r *RegType) String() string {
	switch {
	case r.IsZero():
		return "Zero/null"
	case r.IsConstantTypes():
		return fmt.Sprintf("%s: %d", r.kind, r.constant)
	case r.IsUnresolvedMergedReference():
		parts := make([]string, len(r.members))
		for i, m := range r.members {
			parts[i] = m.String()
		}
		return r.kind.String() + ": {" + strings.Join(parts, ", ") + "}"
	case r.IsUnresolvedSuperClass():
		return r.kind.String() + ": " + r.child.String()
	case r.kind == KindUninitializedReference || r.kind == KindUnresolvedUninitializedReference:
		return fmt.Sprintf("%s: %s Allocation PC: %d", r.kind, dex.PrettyDescriptor(r.descriptor), r.allocPC)
	case r.descriptor != "":
		return r.kind.String() + ": " + dex.PrettyDescriptor(r.descriptor)
	}
	return r.kind.String()
}
