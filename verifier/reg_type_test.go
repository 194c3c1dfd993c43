package verifier

import (
	"testing"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	l, _ := link(t, hierarchyYAML)
	return NewCache(l)
}

func TestInterning(t *testing.T) {
	c := newTestCache(t)
	if c.FromDescriptor("Lpkg/A;", false) != c.FromDescriptor("Lpkg/A;", false) {
		t.Error("same descriptor should intern to the same type")
	}
	if c.FromDescriptor("Lpkg/A;", false) == c.FromDescriptor("Lpkg/A;", true) {
		t.Error("precise and imprecise references should differ")
	}
	if c.FromCat1Const(5, true) == c.FromCat1Const(6, true) {
		t.Error("constants with different values should differ")
	}
	if c.FromCat1Const(5, true) == c.FromCat1Const(5, false) {
		t.Error("constants with different precision should differ")
	}
	if got := c.FromDescriptor("Lnope/Missing;", false); !got.IsUnresolvedReference() {
		t.Errorf("missing class = %s, want unresolved reference", got)
	}
	if got := c.FromDescriptor("Lpkg/Fin;", false); !got.IsPreciseReference() {
		t.Errorf("final class = %s, want precise reference", got)
	}
	if got := c.FromDescriptor("V", false); !got.IsConflict() {
		t.Errorf("void = %s, want Conflict", got)
	}
	if id := c.FromDescriptor("Lpkg/B;", false).ID(); c.Get(id) != c.FromDescriptor("Lpkg/B;", false) {
		t.Error("Get(ID()) should return the interned type")
	}
}

func TestMergeConstants(t *testing.T) {
	c := newTestCache(t)

	got := c.FromCat1Const(5, true).Merge(c.FromCat1Const(200, true), c)
	if !got.IsConstant() || got.IsPreciseConstant() {
		t.Fatalf("5 merge 200 = %s, want imprecise constant", got)
	}
	if !got.IsConstantShort() || got.IsConstantByte() {
		t.Errorf("5 merge 200 = %s, want short-range constant", got)
	}

	got = c.FromCat1Const(-5, true).Merge(c.FromCat1Const(3, true), c)
	if got != c.IntConstant() {
		t.Errorf("-5 merge 3 = %s, want %s", got, c.IntConstant())
	}

	got = c.FromCat1Const(-5, true).Merge(c.FromCat1Const(-300, true), c)
	if !got.IsConstantShort() || got.IsConstantByte() {
		t.Errorf("-5 merge -300 = %s, want short-range constant", got)
	}

	got = c.Zero().Merge(c.FromCat1Const(1, true), c)
	if !got.IsConstantBoolean() {
		t.Errorf("0 merge 1 = %s, want boolean-range constant", got)
	}

	got = c.FromCat2ConstLo(1, true).Merge(c.FromCat2ConstLo(2, true), c)
	if !got.IsConstantLo() || got.IsPreciseConstant() {
		t.Errorf("wide constant merge = %s, want imprecise low-half constant", got)
	}
}

func TestMergePrimitives(t *testing.T) {
	c := newTestCache(t)
	tests := []struct {
		a, b, want *RegType
	}{
		{c.Boolean(), c.Boolean(), c.Boolean()},
		{c.Byte(), c.Boolean(), c.Integer()},
		{c.Byte(), c.Char(), c.Integer()},
		{c.Short(), c.Byte(), c.Integer()},
		{c.Char(), c.Boolean(), c.Integer()},
		{c.Short(), c.Char(), c.Integer()},
		{c.Integer(), c.FromCat1Const(7, true), c.Integer()},
		{c.Boolean(), c.FromCat1Const(1, true), c.Boolean()},
		{c.Boolean(), c.FromCat1Const(2, true), c.Integer()},
		{c.Byte(), c.FromCat1Const(-128, true), c.Byte()},
		{c.Byte(), c.FromCat1Const(200, false), c.Integer()},
		{c.Short(), c.FromCat1Const(-1000, true), c.Short()},
		{c.Short(), c.FromCat1Const(40000, true), c.Integer()},
		{c.Char(), c.FromCat1Const(65535, true), c.Char()},
		{c.Char(), c.FromCat1Const(-1, true), c.Integer()},
		{c.Float(), c.FromCat1Const(7, true), c.Float()},
		{c.Integer(), c.Float(), c.Conflict()},
		{c.LongLo(), c.DoubleLo(), c.Conflict()},
		{c.LongLo(), c.FromCat2ConstLo(3, true), c.LongLo()},
		{c.LongHi(), c.FromCat2ConstHi(0, true), c.LongHi()},
		{c.Integer(), c.Undefined(), c.Conflict()},
		{c.Integer(), c.FromDescriptor("Lpkg/A;", false), c.Conflict()},
	}
	for _, tt := range tests {
		if got := tt.a.Merge(tt.b, c); got != tt.want {
			t.Errorf("%s merge %s = %s, want %s", tt.a, tt.b, got, tt.want)
		}
		if got := tt.b.Merge(tt.a, c); got != tt.want {
			t.Errorf("%s merge %s = %s, want %s", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestCacheFull(t *testing.T) {
	c := newTestCache(t)
	for v := int32(0); c.Len() < maxEntries; v++ {
		c.FromCat1Const(v, true)
	}
	if c.Full() {
		t.Fatal("cache reported full before refusing a request")
	}
	if got := c.FromCat1Const(-1, true); !got.IsConflict() {
		t.Errorf("intern past the limit = %s, want Conflict", got)
	}
	if !c.Full() {
		t.Error("cache should report full")
	}
	if got := c.FromCat1Const(0, true); got.IsConflict() {
		t.Error("already interned types should still be returned")
	}
}

func TestMergeReferences(t *testing.T) {
	c := newTestCache(t)
	a := c.FromDescriptor("Lpkg/A;", false)
	b := c.FromDescriptor("Lpkg/B;", false)
	cc := c.FromDescriptor("Lpkg/C;", false)
	str := c.JavaLangString()
	obj := c.JavaLangObject(false)

	tests := []struct {
		name    string
		a, b    *RegType
		want    *RegType
		wantStr string
	}{
		{name: "siblings join at parent", a: b, b: cc, want: a},
		{name: "null keeps reference", a: b, b: c.Zero(), want: b},
		{name: "reference keeps null", a: c.Zero(), b: str, want: str},
		{name: "object absorbs", a: obj, b: b, want: obj},
		{name: "subclass merges to parent", a: a, b: b, want: a},
		{name: "unrelated join at object", a: str, b: b, want: obj},
		{name: "uninitialized conflicts", a: c.Uninitialized(a, 5), b: a, want: c.Conflict()},
		{name: "uninitialized conflicts with object", a: obj, b: c.Uninitialized(a, 5), want: c.Conflict()},
		{name: "distinct allocations conflict", a: c.Uninitialized(a, 5), b: c.Uninitialized(a, 9), want: c.Conflict()},
		{name: "same allocation", a: c.Uninitialized(a, 5), b: c.Uninitialized(a, 5), want: c.Uninitialized(a, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Merge(tt.b, c); got != tt.want {
				t.Errorf("%s merge %s = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMergeUnresolved(t *testing.T) {
	c := newTestCache(t)
	x := c.FromDescriptor("Lnope/X;", false)
	y := c.FromDescriptor("Lnope/Y;", false)
	z := c.FromDescriptor("Lnope/Z;", false)
	b := c.FromDescriptor("Lpkg/B;", false)

	xy := x.Merge(y, c)
	if !xy.IsUnresolvedMergedReference() || len(xy.MergedMembers()) != 2 {
		t.Fatalf("X merge Y = %s, want merged reference of 2", xy)
	}
	if y.Merge(x, c) != xy {
		t.Error("unresolved merge should not depend on order")
	}
	xyz := xy.Merge(z, c)
	if len(xyz.MergedMembers()) != 3 {
		t.Errorf("(X|Y) merge Z has %d members, want 3 (flattened)", len(xyz.MergedMembers()))
	}
	if xyz.Merge(x, c) != xyz {
		t.Error("merging a member back in should not grow the set")
	}
	if got := x.Merge(b, c); !got.IsUnresolvedMergedReference() {
		t.Errorf("X merge B = %s, want merged reference", got)
	}
	if !xy.IsAssignableFrom(x) || !xy.IsAssignableFrom(y) {
		t.Error("merged reference should accept its members")
	}
	if x.IsAssignableFrom(y) {
		t.Error("unresolved types are assignable only to themselves")
	}
}

// TestMergeLattice checks commutativity, idempotence, Conflict absorption
// and that a non-constant merge accepts both inputs.
func TestMergeLattice(t *testing.T) {
	c := newTestCache(t)
	a := c.FromDescriptor("Lpkg/A;", false)
	types := []*RegType{
		c.Boolean(), c.Byte(), c.Short(), c.Char(), c.Integer(), c.Float(),
		c.LongLo(), c.DoubleLo(), c.Zero(), c.FromCat1Const(3, true),
		c.FromCat1Const(-1000, false), a, c.FromDescriptor("Lpkg/B;", false),
		c.FromDescriptor("Lpkg/C;", true), c.FromDescriptor("Lpkg/I;", false),
		c.JavaLangString(), c.JavaLangObject(false), c.FromDescriptor("[Lpkg/A;", false),
		c.FromDescriptor("[I", false), c.FromDescriptor("Lnope/X;", false),
		c.Uninitialized(a, 3), c.Conflict(),
	}
	for _, x := range types {
		if x.Merge(x, c) != x {
			t.Errorf("%s merge itself = %s", x, x.Merge(x, c))
		}
		if got := x.Merge(c.Conflict(), c); got != c.Conflict() {
			t.Errorf("%s merge Conflict = %s", x, got)
		}
		for _, y := range types {
			m := x.Merge(y, c)
			if n := y.Merge(x, c); m != n {
				t.Errorf("merge not commutative: %s,%s = %s vs %s", x, y, m, n)
			}
			if m.IsConflict() || m.IsConstantTypes() {
				continue
			}
			if !m.IsAssignableFrom(x) || !m.IsAssignableFrom(y) {
				t.Errorf("%s merge %s = %s does not accept both", x, y, m)
			}
		}
	}
}

func TestWidePairs(t *testing.T) {
	c := newTestCache(t)
	tests := []struct {
		lo, hi *RegType
		want   bool
	}{
		{c.LongLo(), c.LongHi(), true},
		{c.DoubleLo(), c.DoubleHi(), true},
		{c.LongLo(), c.DoubleHi(), false},
		{c.FromCat2ConstLo(1, true), c.FromCat2ConstHi(0, true), true},
		{c.Integer(), c.Integer(), false},
	}
	for _, tt := range tests {
		if got := tt.lo.CheckWidePair(tt.hi); got != tt.want {
			t.Errorf("CheckWidePair(%s, %s) = %v, want %v", tt.lo, tt.hi, got, tt.want)
		}
	}
	if c.HighHalf(c.LongLo()) != c.LongHi() {
		t.Error("HighHalf(LongLo) should be LongHi")
	}
}

func TestAssignability(t *testing.T) {
	c := newTestCache(t)
	a := c.FromDescriptor("Lpkg/A;", false)
	b := c.FromDescriptor("Lpkg/B;", false)
	iface := c.FromDescriptor("Lpkg/I;", false)
	tests := []struct {
		name     string
		lhs, rhs *RegType
		want     bool
		strict   bool
	}{
		{name: "parent from child", lhs: a, rhs: b, want: true},
		{name: "child from parent", lhs: b, rhs: a, want: false},
		{name: "reference from null", lhs: b, rhs: c.Zero(), want: true},
		{name: "interface lenient", lhs: iface, rhs: b, want: true},
		{name: "interface strict", lhs: iface, rhs: b, want: false, strict: true},
		{name: "object from array", lhs: c.JavaLangObject(false), rhs: c.FromDescriptor("[I", false), want: true},
		{name: "object array from ref array", lhs: c.FromDescriptor("[Ljava/lang/Object;", false), rhs: c.FromDescriptor("[Lpkg/A;", false), want: true},
		{name: "object array from int array", lhs: c.FromDescriptor("[Ljava/lang/Object;", false), rhs: c.FromDescriptor("[I", false), want: false},
		{name: "int from short", lhs: c.Integer(), rhs: c.Short(), want: true},
		{name: "short from int", lhs: c.Short(), rhs: c.Integer(), want: false},
		{name: "byte from small constant", lhs: c.Byte(), rhs: c.FromCat1Const(-3, true), want: true},
		{name: "byte from large constant", lhs: c.Byte(), rhs: c.FromCat1Const(300, true), want: false},
		{name: "reference from uninitialized", lhs: a, rhs: c.Uninitialized(a, 1), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.lhs.IsAssignableFrom(tt.rhs)
			if tt.strict {
				got = tt.lhs.IsStrictlyAssignableFrom(tt.rhs)
			}
			if got != tt.want {
				t.Errorf("%s assignable from %s = %v, want %v", tt.lhs, tt.rhs, got, tt.want)
			}
		})
	}
}
