// Package classlink resolves class, field and method references for the
// verifier against a set of loaded dex files and a built-in boot class path.
package classlink

import (
	"strings"

	"github.com/chazu/dexverify/dex"
)

// ---------------------------------------------------------------------------
// Class: a linked class, array class or primitive
// ---------------------------------------------------------------------------

// Class is a linked type. Array classes carry a Component; primitives carry
// only a one-character descriptor.
type Class struct {
	Descriptor string
	Super      *Class
	Interfaces []*Class
	Access     dex.AccessFlags
	Component  *Class
	Fields     []*Field
	Methods    []*Method

	// File and Def are nil for array and primitive classes.
	File *dex.File
	Def  *dex.ClassDef

	depth int
}

// Field is a field declared by a class.
type Field struct {
	Class  *Class
	Name   string
	Type   string
	Access dex.AccessFlags
}

// Method is a method declared by a class. Index is the method_id index in
// the declaring class's file.
type Method struct {
	Class  *Class
	Name   string
	Proto  dex.Proto
	Access dex.AccessFlags
	Index  uint32
	Code   *dex.CodeItem
}

func (c *Class) IsInterface() bool { return c.Access.Is(dex.AccInterface) }
func (c *Class) IsFinal() bool     { return c.Access.Is(dex.AccFinal) }
func (c *Class) IsAbstract() bool  { return c.Access.Is(dex.AccAbstract) }
func (c *Class) IsPublic() bool    { return c.Access.Is(dex.AccPublic) }
func (c *Class) IsArray() bool     { return c.Component != nil }
func (c *Class) IsPrimitive() bool { return len(c.Descriptor) == 1 }

// IsObject reports whether c is java.lang.Object.
func (c *Class) IsObject() bool { return c.Descriptor == ObjectDescriptor }

// IsObjectArray reports whether c is an array of references.
func (c *Class) IsObjectArray() bool {
	return c.IsArray() && !c.Component.IsPrimitive()
}

// IsInstantiable reports whether new-instance may create c.
func (c *Class) IsInstantiable() bool {
	return !c.IsPrimitive() && !c.IsInterface() && !c.IsAbstract() && !c.IsArray()
}

// CannotBeAssignedFromOtherTypes reports whether the only values assignable
// to c are instances of exactly c.
func (c *Class) CannotBeAssignedFromOtherTypes() bool {
	if c.IsPrimitive() {
		return true
	}
	if c.IsArray() {
		return c.Component.CannotBeAssignedFromOtherTypes()
	}
	return c.IsFinal() && !c.IsInterface()
}

// Depth returns the inheritance depth, 0 for java.lang.Object.
func (c *Class) Depth() int { return c.depth }

// Package returns the descriptor prefix up to the last '/'.
func (c *Class) Package() string {
	d := c.Descriptor
	for c.IsArray() {
		c = c.Component
		d = c.Descriptor
	}
	if i := strings.LastIndexByte(d, '/'); i >= 0 {
		return d[1:i]
	}
	return ""
}

// IsInSamePackage reports whether c and other share a package.
func (c *Class) IsInSamePackage(other *Class) bool {
	return c.Package() == other.Package()
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return dex.PrettyDescriptor(c.Descriptor)
}

// ---------------------------------------------------------------------------
// Hierarchy queries
// ---------------------------------------------------------------------------

// IsSubclassOf reports whether c is other or extends it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Super {
		if current == other {
			return true
		}
	}
	return false
}

// Implements reports whether c or one of its superclasses implements iface,
// directly or through a superinterface.
func (c *Class) Implements(iface *Class) bool {
	for current := c; current != nil; current = current.Super {
		for _, i := range current.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of class src can be stored in a
// location of class c.
func (c *Class) IsAssignableFrom(src *Class) bool {
	switch {
	case c == src:
		return true
	case c.IsObject():
		return !src.IsPrimitive()
	case c.IsInterface():
		return src.Implements(c)
	case c.IsArray():
		return src.IsArray() && c.Component.IsAssignableFrom(src.Component)
	case c.IsPrimitive() || src.IsPrimitive():
		return false
	default:
		return !src.IsInterface() && src.IsSubclassOf(c)
	}
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (f *Field) IsStatic() bool { return f.Access.Is(dex.AccStatic) }
func (f *Field) IsFinal() bool  { return f.Access.Is(dex.AccFinal) }

// String renders the field as Lowner;->name:type.
func (f *Field) String() string {
	return f.Class.Descriptor + "->" + f.Name + ":" + f.Type
}

func (m *Method) IsStatic() bool   { return m.Access.Is(dex.AccStatic) }
func (m *Method) IsPrivate() bool  { return m.Access.Is(dex.AccPrivate) }
func (m *Method) IsAbstract() bool { return m.Access.Is(dex.AccAbstract) }
func (m *Method) IsFinal() bool    { return m.Access.Is(dex.AccFinal) }
func (m *Method) IsNative() bool   { return m.Access.Is(dex.AccNative) }

// IsConstructor reports whether m is an instance or class initializer.
func (m *Method) IsConstructor() bool {
	return m.Name == "<init>" || m.Name == "<clinit>"
}

// IsDirect reports whether m is dispatched without a vtable.
func (m *Method) IsDirect() bool {
	return m.IsStatic() || m.IsPrivate() || m.IsConstructor()
}

// Signature returns the method descriptor.
func (m *Method) Signature() string { return m.Proto.Descriptor() }

// Location returns the location of the file declaring m, or "" for
// synthesised methods.
func (m *Method) Location() string {
	if m.Class.File == nil {
		return ""
	}
	return m.Class.File.Location
}

// String renders the method as Lowner;->name(params)ret.
func (m *Method) String() string {
	return m.Class.Descriptor + "->" + m.Name + m.Signature()
}

func (c *Class) findDeclaredMethod(name, sig string, direct bool) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Signature() == sig && m.IsDirect() == direct {
			return m
		}
	}
	return nil
}

// FindDirectMethod searches c and its superclasses for a static, private or
// constructor method.
func (c *Class) FindDirectMethod(name, sig string) *Method {
	for current := c; current != nil; current = current.Super {
		if m := current.findDeclaredMethod(name, sig, true); m != nil {
			return m
		}
	}
	return nil
}

// FindVirtualMethod searches c and its superclasses for a virtual method,
// then the interfaces they implement.
func (c *Class) FindVirtualMethod(name, sig string) *Method {
	for current := c; current != nil; current = current.Super {
		if m := current.findDeclaredMethod(name, sig, false); m != nil {
			return m
		}
	}
	for current := c; current != nil; current = current.Super {
		for _, i := range current.Interfaces {
			if m := i.FindInterfaceMethod(name, sig); m != nil {
				return m
			}
		}
	}
	return nil
}

// FindInterfaceMethod searches an interface and its superinterfaces. Methods
// of java.lang.Object are also visible through every interface.
func (c *Class) FindInterfaceMethod(name, sig string) *Method {
	if m := c.findDeclaredMethod(name, sig, false); m != nil {
		return m
	}
	for _, i := range c.Interfaces {
		if m := i.FindInterfaceMethod(name, sig); m != nil {
			return m
		}
	}
	if c.IsInterface() && c.Super != nil {
		return c.Super.FindVirtualMethod(name, sig)
	}
	return nil
}

// FindVirtualMethodForVirtual returns the implementation of m selected by
// virtual dispatch on a receiver of class c.
func (c *Class) FindVirtualMethodForVirtual(m *Method) *Method {
	if m.IsDirect() {
		return m
	}
	for current := c; current != nil; current = current.Super {
		if impl := current.findDeclaredMethod(m.Name, m.Signature(), false); impl != nil {
			return impl
		}
	}
	return nil
}

// FindVirtualMethodForInterface returns the implementation of interface
// method m for a receiver of class c.
func (c *Class) FindVirtualMethodForInterface(m *Method) *Method {
	impl := c.FindVirtualMethodForVirtual(m)
	if impl != nil && !impl.Class.IsInterface() {
		return impl
	}
	return nil
}

// FindField searches c, its interfaces and superclasses for a field.
func (c *Class) FindField(name, typ string) *Field {
	for current := c; current != nil; current = current.Super {
		for _, f := range current.Fields {
			if f.Name == name && f.Type == typ {
				return f
			}
		}
		for _, i := range current.Interfaces {
			if f := i.FindField(name, typ); f != nil {
				return f
			}
		}
	}
	return nil
}
