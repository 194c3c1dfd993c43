package verifier

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/dexverify/classlink"
)

type cacheKey struct {
	kind    Kind
	desc    string
	value   int32
	pc      int
	members string
}

// Cache interns RegTypes for one method verification. Ids are dense and
// stable for the life of the cache; the primitive types share the same ids
// in every cache.
type Cache struct {
	linker  *classlink.Linker
	entries []*RegType
	byKey   map[cacheKey]*RegType
	full    bool
}

// maxEntries bounds the cache so that every id fits in a uint16.
const maxEntries = math.MaxUint16 + 1

// NewCache creates a cache that resolves descriptors through linker.
func NewCache(linker *classlink.Linker) *Cache {
	c := &Cache{
		linker:  linker,
		entries: append([]*RegType(nil), primitiveTypes...),
		byKey:   make(map[cacheKey]*RegType),
	}
	return c
}

// Len returns the number of interned types.
func (c *Cache) Len() int { return len(c.entries) }

// Full reports whether an intern request was refused because every id is
// taken. Refused requests yield Conflict.
func (c *Cache) Full() bool { return c.full }

// Get returns the type with the given id.
func (c *Cache) Get(id uint16) *RegType { return c.entries[id] }

func (c *Cache) intern(key cacheKey, build func() *RegType) *RegType {
	if t, ok := c.byKey[key]; ok {
		return t
	}
	if len(c.entries) >= maxEntries {
		c.full = true
		return conflictType
	}
	t := build()
	t.kind = key.kind
	t.id = uint16(len(c.entries))
	c.entries = append(c.entries, t)
	c.byKey[key] = t
	return t
}

func (c *Cache) Undefined() *RegType { return undefinedType }
func (c *Cache) Conflict() *RegType  { return conflictType }
func (c *Cache) Boolean() *RegType   { return booleanType }
func (c *Cache) Byte() *RegType      { return byteType }
func (c *Cache) Short() *RegType     { return shortType }
func (c *Cache) Char() *RegType      { return charType }
func (c *Cache) Integer() *RegType   { return integerType }
func (c *Cache) Float() *RegType     { return floatType }
func (c *Cache) LongLo() *RegType    { return longLoType }
func (c *Cache) LongHi() *RegType    { return longHiType }
func (c *Cache) DoubleLo() *RegType  { return doubleLoType }
func (c *Cache) DoubleHi() *RegType  { return doubleHiType }

// FromDescriptor returns the type named by a field descriptor. Reference
// types that cannot be resolved become unresolved references; void is a
// Conflict.
func (c *Cache) FromDescriptor(desc string, precise bool) *RegType {
	if len(desc) == 1 {
		switch desc[0] {
		case 'Z':
			return booleanType
		case 'B':
			return byteType
		case 'S':
			return shortType
		case 'C':
			return charType
		case 'I':
			return integerType
		case 'F':
			return floatType
		case 'J':
			return longLoType
		case 'D':
			return doubleLoType
		}
		return conflictType
	}
	if !validReferenceDescriptor(desc) {
		return conflictType
	}
	klass, err := c.linker.ResolveClass(desc)
	if err != nil {
		return c.intern(cacheKey{kind: KindUnresolvedReference, desc: desc}, func() *RegType {
			return &RegType{descriptor: desc}
		})
	}
	return c.FromClass(desc, klass, precise)
}

func validReferenceDescriptor(desc string) bool {
	d := strings.TrimLeft(desc, "[")
	if d == "" || len(desc)-len(d) > 255 {
		return false
	}
	if len(d) == 1 {
		return d != desc && strings.ContainsRune("ZBSCIJFD", rune(d[0]))
	}
	return d[0] == 'L' && d[len(d)-1] == ';' && len(d) > 2
}

// FromClass returns the reference type for a resolved class. Classes that
// admit no subtypes are always precise.
func (c *Cache) FromClass(desc string, klass *classlink.Class, precise bool) *RegType {
	if klass.IsPrimitive() {
		return c.FromDescriptor(klass.Descriptor, false)
	}
	kind := KindReference
	if precise || klass.CannotBeAssignedFromOtherTypes() {
		kind = KindPreciseReference
	}
	return c.intern(cacheKey{kind: kind, desc: desc}, func() *RegType {
		return &RegType{descriptor: desc, klass: klass}
	})
}

// FromCat1Const returns a category-1 constant.
func (c *Cache) FromCat1Const(value int32, precise bool) *RegType {
	kind := KindImpreciseConst
	if precise {
		kind = KindPreciseConst
	}
	return c.constant(kind, value)
}

// FromCat2ConstLo returns the low half of a wide constant.
func (c *Cache) FromCat2ConstLo(value int32, precise bool) *RegType {
	kind := KindImpreciseConstLo
	if precise {
		kind = KindPreciseConstLo
	}
	return c.constant(kind, value)
}

// FromCat2ConstHi returns the high half of a wide constant.
func (c *Cache) FromCat2ConstHi(value int32, precise bool) *RegType {
	kind := KindImpreciseConstHi
	if precise {
		kind = KindPreciseConstHi
	}
	return c.constant(kind, value)
}

func (c *Cache) constant(kind Kind, value int32) *RegType {
	return c.intern(cacheKey{kind: kind, value: value}, func() *RegType {
		return &RegType{constant: value}
	})
}

// Zero is the precise constant 0, also used for null.
func (c *Cache) Zero() *RegType { return c.FromCat1Const(0, true) }

// IntConstant is the imprecise constant at the minimum of the int range,
// used when merged constants of mixed sign lose their value.
func (c *Cache) IntConstant() *RegType { return c.FromCat1Const(math.MinInt32, false) }

func (c *Cache) JavaLangObject(precise bool) *RegType {
	return c.FromDescriptor(classlink.ObjectDescriptor, precise)
}

func (c *Cache) JavaLangString() *RegType {
	return c.FromDescriptor(classlink.StringDescriptor, false)
}

func (c *Cache) JavaLangClass(precise bool) *RegType {
	return c.FromDescriptor(classlink.ClassDescriptor, precise)
}

func (c *Cache) JavaLangThrowable(precise bool) *RegType {
	return c.FromDescriptor(classlink.ThrowableDescriptor, precise)
}

// Uninitialized returns the type produced by new-instance of t at pc.
func (c *Cache) Uninitialized(t *RegType, pc int) *RegType {
	if t.IsUnresolvedTypes() {
		return c.intern(cacheKey{kind: KindUnresolvedUninitializedReference, desc: t.descriptor, pc: pc}, func() *RegType {
			return &RegType{descriptor: t.descriptor, allocPC: pc}
		})
	}
	return c.intern(cacheKey{kind: KindUninitializedReference, desc: t.descriptor, pc: pc}, func() *RegType {
		return &RegType{descriptor: t.descriptor, klass: t.klass, allocPC: pc}
	})
}

// UninitializedThisArgument returns the type of "this" on entry to a
// constructor of t.
func (c *Cache) UninitializedThisArgument(t *RegType) *RegType {
	if t.IsUnresolvedTypes() {
		return c.intern(cacheKey{kind: KindUnresolvedUninitializedThisReference, desc: t.descriptor}, func() *RegType {
			return &RegType{descriptor: t.descriptor}
		})
	}
	return c.intern(cacheKey{kind: KindUninitializedThisReference, desc: t.descriptor}, func() *RegType {
		return &RegType{descriptor: t.descriptor, klass: t.klass}
	})
}

// FromUninitialized returns the initialized type corresponding to an
// uninitialized one.
func (c *Cache) FromUninitialized(u *RegType) *RegType {
	if u.IsUnresolvedTypes() {
		return c.intern(cacheKey{kind: KindUnresolvedReference, desc: u.descriptor}, func() *RegType {
			return &RegType{descriptor: u.descriptor}
		})
	}
	// "this" may be a subclass instance, a fresh allocation is exact.
	return c.FromClass(u.descriptor, u.klass, !u.IsUninitializedThisReference())
}

// FromUnresolvedMerge returns the merge of two reference types at least one
// of which is unresolved. Nested merges are flattened into one member set.
func (c *Cache) FromUnresolvedMerge(a, b *RegType) *RegType {
	seen := make(map[uint16]*RegType)
	for _, t := range []*RegType{a, b} {
		if t.IsUnresolvedMergedReference() {
			for _, m := range t.members {
				seen[m.id] = m
			}
			continue
		}
		seen[t.id] = t
	}
	members := make([]*RegType, 0, len(seen))
	for _, m := range seen {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = strconv.Itoa(int(m.id))
	}
	return c.intern(cacheKey{kind: KindUnresolvedMergedReference, members: strings.Join(ids, ",")}, func() *RegType {
		return &RegType{members: members}
	})
}

// FromUnresolvedSuperClass returns the superclass of an unresolved type.
func (c *Cache) FromUnresolvedSuperClass(child *RegType) *RegType {
	return c.intern(cacheKey{kind: KindUnresolvedSuperClass, value: int32(child.id)}, func() *RegType {
		return &RegType{child: child}
	})
}

// SuperClass returns the type of t's superclass, Conflict for Object and
// non-references.
func (c *Cache) SuperClass(t *RegType) *RegType {
	switch {
	case t.HasClass():
		if t.klass.Super == nil {
			return conflictType
		}
		return c.FromClass(t.klass.Super.Descriptor, t.klass.Super, false)
	case t.IsUnresolvedTypes():
		return c.FromUnresolvedSuperClass(t)
	}
	return conflictType
}

// ComponentType returns the element type of an array type, or Conflict.
func (c *Cache) ComponentType(array *RegType) *RegType {
	if !array.IsArrayTypes() {
		return conflictType
	}
	if array.HasClass() {
		comp := array.klass.Component
		if comp.IsPrimitive() {
			return c.FromDescriptor(comp.Descriptor, false)
		}
		return c.FromClass(comp.Descriptor, comp, comp.CannotBeAssignedFromOtherTypes())
	}
	return c.FromDescriptor(array.descriptor[1:], false)
}

// HighHalf returns the high-half type paired with a low half.
func (c *Cache) HighHalf(lo *RegType) *RegType {
	switch lo.kind {
	case KindLongLo:
		return longHiType
	case KindDoubleLo:
		return doubleHiType
	case KindPreciseConstLo:
		return c.FromCat2ConstHi(lo.constant, true)
	case KindImpreciseConstLo:
		return c.FromCat2ConstHi(lo.constant, false)
	}
	return conflictType
}
