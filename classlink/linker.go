package classlink

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tliron/commonlog"

	"github.com/chazu/dexverify/dex"
)

var log = commonlog.GetLogger("dexverify.classlink")

var (
	// ErrUnresolved is returned when a class cannot be found or linked.
	ErrUnresolved = errors.New("class not resolved")
	// ErrNotFound is returned when a field or method does not exist.
	ErrNotFound = errors.New("member not found")
)

// DefaultCacheSize bounds the member resolution cache.
const DefaultCacheSize = 4096

// MethodKind selects the lookup rule used by ResolveMethod.
type MethodKind uint8

const (
	KindDirect MethodKind = iota
	KindStatic
	KindVirtual
	KindSuper
	KindInterface
)

var kindNames = [...]string{"direct", "static", "virtual", "super", "interface"}

func (k MethodKind) String() string { return kindNames[k] }

type fileDef struct {
	file *dex.File
	def  *dex.ClassDef
}

// ---------------------------------------------------------------------------
// Linker
// ---------------------------------------------------------------------------

// Linker links classes on demand. It is safe for concurrent use by
// verifier workers.
type Linker struct {
	mu      sync.RWMutex
	defs    map[string]fileDef
	classes map[string]*Class
	loading map[string]bool
	members *lru.Cache

	object       *Class
	cloneable    *Class
	serializable *Class
}

// New creates a linker over the boot class path followed by files. A class
// defined by several files resolves to the first definition.
func New(files ...*dex.File) (*Linker, error) {
	return NewWithCacheSize(DefaultCacheSize, files...)
}

// NewWithCacheSize is New with an explicit member cache bound.
func NewWithCacheSize(size int, files ...*dex.File) (*Linker, error) {
	members, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("cannot create member cache: %w", err)
	}
	l := &Linker{
		defs:    make(map[string]fileDef),
		classes: make(map[string]*Class),
		loading: make(map[string]bool),
		members: members,
	}
	for _, p := range "ZBSCIJFD" {
		d := string(p)
		l.classes[d] = &Class{Descriptor: d, Access: dex.AccPublic | dex.AccFinal | dex.AccAbstract}
	}
	l.AddFile(BootFile())
	for _, f := range files {
		l.AddFile(f)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for desc, dst := range map[string]**Class{
		ObjectDescriptor:       &l.object,
		CloneableDescriptor:    &l.cloneable,
		SerializableDescriptor: &l.serializable,
	} {
		c, err := l.resolveLocked(desc)
		if err != nil {
			return nil, fmt.Errorf("boot class path: %w", err)
		}
		*dst = c
	}
	return l, nil
}

// AddFile makes the classes defined by f resolvable.
func (l *Linker) AddFile(f *dex.File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, def := range f.Classes {
		if _, ok := l.defs[def.Descriptor]; ok {
			log.Debugf("%s: duplicate definition of %s ignored", f.Location, def.Descriptor)
			continue
		}
		l.defs[def.Descriptor] = fileDef{file: f, def: def}
	}
}

// Object returns java.lang.Object.
func (l *Linker) Object() *Class { return l.object }

// ResolveClass returns the linked class for a descriptor. Unknown classes,
// and classes whose superclass or interfaces cannot be linked, yield an
// error wrapping ErrUnresolved.
func (l *Linker) ResolveClass(desc string) (*Class, error) {
	l.mu.RLock()
	c, ok := l.classes[desc]
	l.mu.RUnlock()
	if ok {
		return c, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolveLocked(desc)
}

// resolveLocked links desc. Caller must hold the write lock.
func (l *Linker) resolveLocked(desc string) (*Class, error) {
	if c, ok := l.classes[desc]; ok {
		return c, nil
	}
	if strings.HasPrefix(desc, "[") {
		component, err := l.resolveLocked(desc[1:])
		if err != nil {
			return nil, err
		}
		return l.arrayOfLocked(component), nil
	}
	if !strings.HasPrefix(desc, "L") || !strings.HasSuffix(desc, ";") {
		return nil, fmt.Errorf("%w: bad descriptor %q", ErrUnresolved, desc)
	}
	fd, ok := l.defs[desc]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, desc)
	}
	if l.loading[desc] {
		return nil, fmt.Errorf("%w: circular class hierarchy at %s", ErrUnresolved, desc)
	}
	l.loading[desc] = true
	defer delete(l.loading, desc)
	return l.link(fd.file, fd.def)
}

func (l *Linker) link(f *dex.File, def *dex.ClassDef) (*Class, error) {
	c := &Class{
		Descriptor: def.Descriptor,
		Access:     def.Access,
		File:       f,
		Def:        def,
	}
	switch {
	case def.Super != "":
		super, err := l.resolveLocked(def.Super)
		if err != nil {
			return nil, fmt.Errorf("superclass of %s: %w", def.Descriptor, err)
		}
		c.Super = super
		c.depth = super.depth + 1
	case def.Descriptor != ObjectDescriptor:
		return nil, fmt.Errorf("%w: %s has no superclass", ErrUnresolved, def.Descriptor)
	}
	for _, desc := range def.Interfaces {
		iface, err := l.resolveLocked(desc)
		if err != nil {
			return nil, fmt.Errorf("interface of %s: %w", def.Descriptor, err)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}
	for _, group := range [][]dex.EncodedField{def.StaticFields, def.InstanceFields} {
		for _, ef := range group {
			id := f.Field(ef.FieldIdx)
			c.Fields = append(c.Fields, &Field{Class: c, Name: id.Name, Type: id.Type, Access: ef.Access})
		}
	}
	for _, em := range def.Methods() {
		id := f.Method(em.MethodIdx)
		c.Methods = append(c.Methods, &Method{
			Class:  c,
			Name:   id.Name,
			Proto:  id.Proto,
			Access: em.Access,
			Index:  em.MethodIdx,
			Code:   em.Code,
		})
	}
	l.classes[c.Descriptor] = c
	log.Debugf("linked %s (depth %d)", c.Descriptor, c.depth)
	return c, nil
}

// arrayOfLocked returns the array class with the given component. Caller
// must hold the write lock.
func (l *Linker) arrayOfLocked(component *Class) *Class {
	desc := "[" + component.Descriptor
	if c, ok := l.classes[desc]; ok {
		return c
	}
	access := dex.AccFinal | dex.AccAbstract
	if component.IsPrimitive() || component.IsPublic() {
		access |= dex.AccPublic
	}
	c := &Class{
		Descriptor: desc,
		Super:      l.classes[ObjectDescriptor],
		Interfaces: []*Class{l.classes[CloneableDescriptor], l.classes[SerializableDescriptor]},
		Access:     access,
		Component:  component,
		depth:      1,
	}
	l.classes[desc] = c
	return c
}

// ArrayOf returns the array class with the given component.
func (l *Linker) ArrayOf(component *Class) *Class {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arrayOfLocked(component)
}

// ---------------------------------------------------------------------------
// Member resolution
// ---------------------------------------------------------------------------

// ResolveField resolves a field reference by searching the named class and
// its supertypes.
func (l *Linker) ResolveField(id dex.FieldID) (*Field, error) {
	key := "F" + id.String()
	if v, ok := l.members.Get(key); ok {
		return v.(*Field), nil
	}
	c, err := l.ResolveClass(id.Class)
	if err != nil {
		return nil, err
	}
	f := c.FindField(id.Name, id.Type)
	if f == nil {
		return nil, fmt.Errorf("%w: field %s", ErrNotFound, id)
	}
	l.members.Add(key, f)
	return f, nil
}

// ResolveMethod resolves a method reference using the lookup rule of kind.
func (l *Linker) ResolveMethod(id dex.MethodID, kind MethodKind) (*Method, error) {
	key := kind.String() + id.String()
	if v, ok := l.members.Get(key); ok {
		return v.(*Method), nil
	}
	c, err := l.ResolveClass(id.Class)
	if err != nil {
		return nil, err
	}
	name, sig := id.Name, id.Proto.Descriptor()
	var m *Method
	switch kind {
	case KindDirect, KindStatic:
		m = c.FindDirectMethod(name, sig)
	case KindInterface:
		m = c.FindInterfaceMethod(name, sig)
	default:
		m = c.FindVirtualMethod(name, sig)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s method %s", ErrNotFound, kind, id)
	}
	l.members.Add(key, m)
	return m, nil
}

// ---------------------------------------------------------------------------
// Access checks
// ---------------------------------------------------------------------------

// CanAccess reports whether code in from may refer to class to.
func CanAccess(from, to *Class) bool {
	for to.IsArray() {
		to = to.Component
	}
	if to.IsPrimitive() || to.IsPublic() {
		return true
	}
	return from.IsInSamePackage(to)
}

// CanAccessMember reports whether code in from may use a member of owner
// with the given flags.
func CanAccessMember(from, owner *Class, flags dex.AccessFlags) bool {
	switch {
	case flags.Is(dex.AccPublic):
		return true
	case flags.Is(dex.AccPrivate):
		return from == owner
	case flags.Is(dex.AccProtected) && !from.IsInterface() && from.IsSubclassOf(owner):
		return true
	}
	return from.IsInSamePackage(owner)
}

// ---------------------------------------------------------------------------
// Class join
// ---------------------------------------------------------------------------

// ClassJoin returns the most specific common superclass of s and t. Arrays
// of references join element-wise; interfaces join to a common superclass,
// which is java.lang.Object unless one is assignable from the other.
func (l *Linker) ClassJoin(s, t *Class) *Class {
	switch {
	case s == t:
		return s
	case s.IsAssignableFrom(t):
		return s
	case t.IsAssignableFrom(s):
		return t
	case s.IsArray() && t.IsArray():
		sc, tc := s.Component, t.Component
		if sc.IsPrimitive() || tc.IsPrimitive() {
			return l.object
		}
		return l.ArrayOf(l.ClassJoin(sc, tc))
	}
	for s.depth > t.depth {
		s = s.Super
	}
	for t.depth > s.depth {
		t = t.Super
	}
	for s != t {
		s = s.Super
		t = t.Super
	}
	return s
}
