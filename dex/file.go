// Package dex models the parts of a dex file the verifier consumes: constant
// pools, class definitions and method bodies in 16-bit code units.
package dex

import (
	"fmt"
	"strings"
)

// AccessFlags are the access_flags bits of classes, fields and methods.
type AccessFlags uint32

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSynchronized AccessFlags = 0x0020
	AccVolatile     AccessFlags = 0x0040
	AccBridge       AccessFlags = 0x0040
	AccTransient    AccessFlags = 0x0080
	AccVarargs      AccessFlags = 0x0080
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
	AccStrict       AccessFlags = 0x0800
	AccSynthetic    AccessFlags = 0x1000
	AccAnnotation   AccessFlags = 0x2000
	AccEnum         AccessFlags = 0x4000
	AccConstructor  AccessFlags = 0x10000
)

var accessNames = map[string]AccessFlags{
	"public":       AccPublic,
	"private":      AccPrivate,
	"protected":    AccProtected,
	"static":       AccStatic,
	"final":        AccFinal,
	"synchronized": AccSynchronized,
	"volatile":     AccVolatile,
	"bridge":       AccBridge,
	"transient":    AccTransient,
	"varargs":      AccVarargs,
	"native":       AccNative,
	"interface":    AccInterface,
	"abstract":     AccAbstract,
	"strict":       AccStrict,
	"synthetic":    AccSynthetic,
	"annotation":   AccAnnotation,
	"enum":         AccEnum,
	"constructor":  AccConstructor,
}

// ParseAccess converts a list of modifier names into flags.
func ParseAccess(names []string) (AccessFlags, error) {
	var flags AccessFlags
	for _, n := range names {
		f, ok := accessNames[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown access flag %q", n)
		}
		flags |= f
	}
	return flags, nil
}

func (a AccessFlags) Is(f AccessFlags) bool { return a&f != 0 }

// ---------------------------------------------------------------------------
// Pool entries
// ---------------------------------------------------------------------------

// Proto is a method prototype.
type Proto struct {
	Return string
	Params []string
}

// Descriptor renders the prototype as "(params)return".
func (p Proto) Descriptor() string {
	return "(" + strings.Join(p.Params, "") + ")" + p.Return
}

// ParseProto splits a method descriptor such as "(I[Ljava/lang/String;)V".
func ParseProto(desc string) (Proto, error) {
	if !strings.HasPrefix(desc, "(") {
		return Proto{}, fmt.Errorf("bad method descriptor %q", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return Proto{}, fmt.Errorf("bad method descriptor %q", desc)
	}
	params, err := SplitDescriptors(desc[1:end])
	if err != nil {
		return Proto{}, fmt.Errorf("bad method descriptor %q: %w", desc, err)
	}
	ret := desc[end+1:]
	if rest, err := SplitDescriptors(ret); err != nil || len(rest) != 1 {
		return Proto{}, fmt.Errorf("bad return type in %q", desc)
	}
	return Proto{Return: ret, Params: params}, nil
}

// SplitDescriptors splits a concatenation of type descriptors.
func SplitDescriptors(s string) ([]string, error) {
	var out []string
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("truncated array descriptor in %q", s)
		}
		switch s[i] {
		case 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D', 'V':
			i++
		case 'L':
			semi := strings.IndexByte(s[i:], ';')
			if semi < 0 {
				return nil, fmt.Errorf("unterminated class descriptor in %q", s)
			}
			i += semi + 1
		default:
			return nil, fmt.Errorf("bad descriptor character %q in %q", s[i], s)
		}
		out = append(out, s[start:i])
	}
	return out, nil
}

// FieldID is a field_id_item.
type FieldID struct {
	Class string
	Name  string
	Type  string
}

func (f FieldID) String() string {
	return f.Class + "->" + f.Name + ":" + f.Type
}

// MethodID is a method_id_item.
type MethodID struct {
	Class string
	Name  string
	Proto Proto
}

func (m MethodID) String() string {
	return m.Class + "->" + m.Name + m.Proto.Descriptor()
}

// ---------------------------------------------------------------------------
// Code items
// ---------------------------------------------------------------------------

// TryItem covers [StartAddr, StartAddr+InsnCount) with a handler list.
type TryItem struct {
	StartAddr  uint32
	InsnCount  uint16
	HandlerIdx int
}

// CatchPair routes exceptions of a type to an address.
type CatchPair struct {
	TypeIdx uint32
	Addr    uint32
}

// CatchHandler is an encoded_catch_handler. CatchAllAddr is -1 when absent.
type CatchHandler struct {
	Catches      []CatchPair
	CatchAllAddr int32
}

// CodeItem is a method body.
type CodeItem struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	Insns         []uint16
	Tries         []TryItem
	Handlers      []CatchHandler
}

// EncodedField is a field declared by a class.
type EncodedField struct {
	FieldIdx uint32
	Access   AccessFlags
}

// EncodedMethod is a method declared by a class.
type EncodedMethod struct {
	MethodIdx uint32
	Access    AccessFlags
	Code      *CodeItem
}

// ClassDef is a class_def_item with its class_data.
type ClassDef struct {
	Descriptor     string
	Super          string
	Interfaces     []string
	Access         AccessFlags
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []*EncodedMethod
	VirtualMethods []*EncodedMethod
}

// Methods returns direct then virtual methods.
func (c *ClassDef) Methods() []*EncodedMethod {
	out := make([]*EncodedMethod, 0, len(c.DirectMethods)+len(c.VirtualMethods))
	out = append(out, c.DirectMethods...)
	return append(out, c.VirtualMethods...)
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// File is an in-memory dex file. Pools are append-only; Intern returns the
// existing index for a repeated entry.
type File struct {
	Location string
	Classes  []*ClassDef

	strings []string
	types   []string
	fields  []FieldID
	methods []MethodID

	stringIdx map[string]uint32
	typeIdx   map[string]uint32
	fieldIdx  map[FieldID]uint32
	methodIdx map[string]uint32
}

// NewFile creates an empty file identified by location.
func NewFile(location string) *File {
	return &File{
		Location:  location,
		stringIdx: make(map[string]uint32),
		typeIdx:   make(map[string]uint32),
		fieldIdx:  make(map[FieldID]uint32),
		methodIdx: make(map[string]uint32),
	}
}

// InternString returns the string pool index for s.
func (f *File) InternString(s string) uint32 {
	if idx, ok := f.stringIdx[s]; ok {
		return idx
	}
	idx := uint32(len(f.strings))
	f.strings = append(f.strings, s)
	f.stringIdx[s] = idx
	return idx
}

// InternType returns the type pool index for a descriptor.
func (f *File) InternType(desc string) uint32 {
	if idx, ok := f.typeIdx[desc]; ok {
		return idx
	}
	f.InternString(desc)
	idx := uint32(len(f.types))
	f.types = append(f.types, desc)
	f.typeIdx[desc] = idx
	return idx
}

// InternField returns the field pool index for id.
func (f *File) InternField(id FieldID) uint32 {
	if idx, ok := f.fieldIdx[id]; ok {
		return idx
	}
	f.InternType(id.Class)
	f.InternType(id.Type)
	f.InternString(id.Name)
	idx := uint32(len(f.fields))
	f.fields = append(f.fields, id)
	f.fieldIdx[id] = idx
	return idx
}

// InternMethod returns the method pool index for id.
func (f *File) InternMethod(id MethodID) uint32 {
	key := id.String()
	if idx, ok := f.methodIdx[key]; ok {
		return idx
	}
	f.InternType(id.Class)
	f.InternString(id.Name)
	idx := uint32(len(f.methods))
	f.methods = append(f.methods, id)
	f.methodIdx[key] = idx
	return idx
}

func (f *File) NumStrings() int { return len(f.strings) }
func (f *File) NumTypes() int   { return len(f.types) }
func (f *File) NumFields() int  { return len(f.fields) }
func (f *File) NumMethods() int { return len(f.methods) }

// StringAt returns the string at idx. Callers validate idx with NumStrings.
func (f *File) StringAt(idx uint32) string { return f.strings[idx] }

// Type returns the descriptor at idx.
func (f *File) Type(idx uint32) string { return f.types[idx] }

// Field returns the field_id at idx.
func (f *File) Field(idx uint32) FieldID { return f.fields[idx] }

// Method returns the method_id at idx.
func (f *File) Method(idx uint32) MethodID { return f.methods[idx] }

// FindClass returns the class definition with the given descriptor.
func (f *File) FindClass(desc string) *ClassDef {
	for _, c := range f.Classes {
		if c.Descriptor == desc {
			return c
		}
	}
	return nil
}

// AddClass appends a class definition and interns its descriptors.
func (f *File) AddClass(c *ClassDef) {
	f.InternType(c.Descriptor)
	if c.Super != "" {
		f.InternType(c.Super)
	}
	for _, i := range c.Interfaces {
		f.InternType(i)
	}
	f.Classes = append(f.Classes, c)
}

// PrettyMethod renders a method reference for messages.
func (f *File) PrettyMethod(idx uint32) string {
	if int(idx) >= len(f.methods) {
		return fmt.Sprintf("<invalid method %d>", idx)
	}
	return f.methods[idx].String()
}

// PrettyField renders a field reference for messages.
func (f *File) PrettyField(idx uint32) string {
	if int(idx) >= len(f.fields) {
		return fmt.Sprintf("<invalid field %d>", idx)
	}
	return f.fields[idx].String()
}

// PrettyDescriptor converts "Ljava/lang/String;" to "java.lang.String".
func PrettyDescriptor(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	var name string
	switch base {
	case "Z":
		name = "boolean"
	case "B":
		name = "byte"
	case "S":
		name = "short"
	case "C":
		name = "char"
	case "I":
		name = "int"
	case "J":
		name = "long"
	case "F":
		name = "float"
	case "D":
		name = "double"
	case "V":
		name = "void"
	default:
		if strings.HasPrefix(base, "L") && strings.HasSuffix(base, ";") {
			name = strings.ReplaceAll(base[1:len(base)-1], "/", ".")
		} else {
			name = base
		}
	}
	return name + strings.Repeat("[]", dims)
}
