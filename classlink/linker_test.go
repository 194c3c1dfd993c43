package classlink

import (
	"errors"
	"testing"

	"github.com/chazu/dexverify/dex"
)

// hierarchy builds A, B extends A, C extends A, D extends B, an interface I
// implemented by C, and a final class F in package other.
func hierarchy(t *testing.T) *Linker {
	t.Helper()
	f := dex.NewFile("test.dex")
	add := func(desc, super string, access dex.AccessFlags, ifaces ...string) *dex.ClassDef {
		def := &dex.ClassDef{Descriptor: desc, Super: super, Access: access, Interfaces: ifaces}
		f.AddClass(def)
		return def
	}
	a := add("Lpkg/A;", ObjectDescriptor, dex.AccPublic)
	add("Lpkg/I;", ObjectDescriptor, dex.AccPublic|dex.AccInterface|dex.AccAbstract)
	add("Lpkg/B;", "Lpkg/A;", dex.AccPublic)
	add("Lpkg/C;", "Lpkg/A;", 0, "Lpkg/I;")
	add("Lpkg/D;", "Lpkg/B;", dex.AccPublic)
	add("Lother/F;", ObjectDescriptor, dex.AccFinal)
	add("Lpkg/Loop1;", "Lpkg/Loop2;", dex.AccPublic)
	add("Lpkg/Loop2;", "Lpkg/Loop1;", dex.AccPublic)
	add("Lpkg/Orphan;", "Lmissing/Base;", dex.AccPublic)

	a.InstanceFields = append(a.InstanceFields, dex.EncodedField{
		FieldIdx: f.InternField(dex.FieldID{Class: "Lpkg/A;", Name: "x", Type: "I"}),
		Access:   dex.AccProtected,
	})
	proto, _ := dex.ParseProto("()I")
	a.VirtualMethods = append(a.VirtualMethods, &dex.EncodedMethod{
		MethodIdx: f.InternMethod(dex.MethodID{Class: "Lpkg/A;", Name: "get", Proto: proto}),
		Access:    dex.AccPublic,
	})

	l, err := New(f)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func mustResolve(t *testing.T, l *Linker, desc string) *Class {
	t.Helper()
	c, err := l.ResolveClass(desc)
	if err != nil {
		t.Fatalf("ResolveClass(%s) failed: %v", desc, err)
	}
	return c
}

func TestResolveClass(t *testing.T) {
	l := hierarchy(t)
	d := mustResolve(t, l, "Lpkg/D;")
	if d.Depth() != 3 {
		t.Errorf("D depth = %d, want 3", d.Depth())
	}
	if d.Super.Descriptor != "Lpkg/B;" {
		t.Errorf("D super = %s", d.Super)
	}
	if again := mustResolve(t, l, "Lpkg/D;"); again != d {
		t.Error("ResolveClass should return the same class twice")
	}

	tests := []string{"Lnope/Missing;", "Lpkg/Loop1;", "Lpkg/Orphan;", "Q"}
	for _, desc := range tests {
		if _, err := l.ResolveClass(desc); !errors.Is(err, ErrUnresolved) {
			t.Errorf("ResolveClass(%s) error = %v, want ErrUnresolved", desc, err)
		}
	}
}

func TestArrayClasses(t *testing.T) {
	l := hierarchy(t)
	arr := mustResolve(t, l, "[[Lpkg/B;")
	if !arr.IsArray() || arr.Component.Descriptor != "[Lpkg/B;" {
		t.Fatalf("bad array class %s", arr.Descriptor)
	}
	if !arr.IsObjectArray() {
		t.Error("[[Lpkg/B; should be an object array")
	}
	ints := mustResolve(t, l, "[I")
	if ints.IsObjectArray() || !ints.CannotBeAssignedFromOtherTypes() {
		t.Error("[I should be a primitive array with no subtypes")
	}
	cloneable := mustResolve(t, l, CloneableDescriptor)
	if !cloneable.IsAssignableFrom(ints) {
		t.Error("arrays should implement Cloneable")
	}
	if _, err := l.ResolveClass("[Lnope/Missing;"); !errors.Is(err, ErrUnresolved) {
		t.Errorf("array of missing class error = %v", err)
	}
}

func TestIsAssignableFrom(t *testing.T) {
	l := hierarchy(t)
	get := func(d string) *Class { return mustResolve(t, l, d) }
	tests := []struct {
		dst, src string
		want     bool
	}{
		{"Lpkg/A;", "Lpkg/D;", true},
		{"Lpkg/D;", "Lpkg/A;", false},
		{"Lpkg/B;", "Lpkg/C;", false},
		{"Lpkg/I;", "Lpkg/C;", true},
		{"Lpkg/I;", "Lpkg/B;", false},
		{ObjectDescriptor, "[I", true},
		{ObjectDescriptor, "Lpkg/I;", true},
		{"[Lpkg/A;", "[Lpkg/D;", true},
		{"[Lpkg/D;", "[Lpkg/A;", false},
		{"[Ljava/lang/Object;", "[I", false},
		{"[I", "[I", true},
		{"I", "I", true},
		{"I", "S", false},
		{ThrowableDescriptor, IOExceptionDescriptor, true},
		{SerializableDescriptor, StringDescriptor, true},
	}
	for _, tt := range tests {
		if got := get(tt.dst).IsAssignableFrom(get(tt.src)); got != tt.want {
			t.Errorf("%s.IsAssignableFrom(%s) = %v, want %v", tt.dst, tt.src, got, tt.want)
		}
	}
}

func TestClassJoin(t *testing.T) {
	l := hierarchy(t)
	tests := []struct {
		s, t, want string
	}{
		{"Lpkg/B;", "Lpkg/C;", "Lpkg/A;"},
		{"Lpkg/D;", "Lpkg/C;", "Lpkg/A;"},
		{"Lpkg/D;", "Lpkg/B;", "Lpkg/B;"},
		{"Lpkg/B;", "Lpkg/B;", "Lpkg/B;"},
		{"Lpkg/A;", StringDescriptor, ObjectDescriptor},
		{"Lpkg/I;", "Lpkg/B;", ObjectDescriptor},
		{"Lpkg/I;", "Lpkg/C;", "Lpkg/I;"},
		{"[Lpkg/B;", "[Lpkg/C;", "[Lpkg/A;"},
		{"[I", "[J", ObjectDescriptor},
		{"[I", "[Lpkg/A;", ObjectDescriptor},
		{IOExceptionDescriptor, RuntimeExceptionDescriptor, ExceptionDescriptor},
	}
	for _, tt := range tests {
		s, u := mustResolve(t, l, tt.s), mustResolve(t, l, tt.t)
		got := l.ClassJoin(s, u)
		if got.Descriptor != tt.want {
			t.Errorf("ClassJoin(%s, %s) = %s, want %s", tt.s, tt.t, got.Descriptor, tt.want)
		}
		if back := l.ClassJoin(u, s); back != got {
			t.Errorf("ClassJoin(%s, %s) is not symmetric: %s", tt.t, tt.s, back.Descriptor)
		}
	}
}

func TestResolveMembers(t *testing.T) {
	l := hierarchy(t)
	f, err := l.ResolveField(dex.FieldID{Class: "Lpkg/D;", Name: "x", Type: "I"})
	if err != nil {
		t.Fatalf("ResolveField failed: %v", err)
	}
	if f.Class.Descriptor != "Lpkg/A;" || f.IsStatic() {
		t.Errorf("field = %s static=%v", f, f.IsStatic())
	}
	if _, err := l.ResolveField(dex.FieldID{Class: "Lpkg/D;", Name: "y", Type: "I"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing field error = %v", err)
	}

	proto, _ := dex.ParseProto("()I")
	m, err := l.ResolveMethod(dex.MethodID{Class: "Lpkg/D;", Name: "get", Proto: proto}, KindVirtual)
	if err != nil {
		t.Fatalf("ResolveMethod failed: %v", err)
	}
	if m.Class.Descriptor != "Lpkg/A;" || m.Location() != "test.dex" {
		t.Errorf("method = %s in %s", m, m.Location())
	}
	if _, err := l.ResolveMethod(dex.MethodID{Class: "Lpkg/D;", Name: "get", Proto: proto}, KindDirect); !errors.Is(err, ErrNotFound) {
		t.Errorf("direct lookup of virtual method error = %v", err)
	}
	hash, _ := dex.ParseProto("()I")
	if _, err := l.ResolveMethod(dex.MethodID{Class: "Lpkg/I;", Name: "hashCode", Proto: hash}, KindInterface); err != nil {
		t.Errorf("Object methods should be visible through interfaces: %v", err)
	}
	if _, err := l.ResolveMethod(dex.MethodID{Class: "Lnope/X;", Name: "get", Proto: proto}, KindVirtual); !errors.Is(err, ErrUnresolved) {
		t.Errorf("unresolved class error = %v", err)
	}
}

func TestAccess(t *testing.T) {
	l := hierarchy(t)
	a := mustResolve(t, l, "Lpkg/A;")
	c := mustResolve(t, l, "Lpkg/C;")
	d := mustResolve(t, l, "Lpkg/D;")
	fin := mustResolve(t, l, "Lother/F;")

	if CanAccess(fin, c) {
		t.Error("package-private C should not be visible from other/F")
	}
	if !CanAccess(d, c) {
		t.Error("C should be visible within its package")
	}
	if !CanAccess(fin, a) {
		t.Error("public A should be visible everywhere")
	}
	if CanAccess(a, mustResolve(t, l, "[Lother/F;")) {
		t.Error("array of package-private class should not be visible")
	}

	if !CanAccessMember(d, a, dex.AccProtected) {
		t.Error("protected member should be visible to subclass")
	}
	if CanAccessMember(fin, a, dex.AccProtected) {
		t.Error("protected member should not be visible outside package and hierarchy")
	}
	if CanAccessMember(d, a, dex.AccPrivate) {
		t.Error("private member should only be visible to its class")
	}
	if !CanAccessMember(a, a, dex.AccPrivate) {
		t.Error("private member should be visible to its class")
	}
}

func TestVirtualDispatch(t *testing.T) {
	l := hierarchy(t)
	str := mustResolve(t, l, StringDescriptor)
	obj := l.Object()
	hash := obj.FindVirtualMethod("hashCode", "()I")
	if hash == nil {
		t.Fatal("Object.hashCode not found")
	}
	impl := str.FindVirtualMethodForVirtual(hash)
	if impl == nil || impl.Class != str {
		t.Errorf("String dispatch of hashCode = %v", impl)
	}
	run := mustResolve(t, l, RunnableDescriptor).FindInterfaceMethod("run", "()V")
	if run == nil {
		t.Fatal("Runnable.run not found")
	}
	if impl := str.FindVirtualMethodForInterface(run); impl != nil {
		t.Errorf("String does not implement run, got %s", impl)
	}
}
