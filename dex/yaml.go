package dex

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML program format
// ---------------------------------------------------------------------------

type yamlProgram struct {
	Location string      `yaml:"location"`
	Classes  []yamlClass `yaml:"classes"`
}

type yamlClass struct {
	Name       string       `yaml:"name"`
	Super      string       `yaml:"super"`
	Interfaces []string     `yaml:"interfaces"`
	Access     []string     `yaml:"access"`
	Fields     []yamlField  `yaml:"fields"`
	Methods    []yamlMethod `yaml:"methods"`
}

type yamlField struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Access []string `yaml:"access"`
}

type yamlMethod struct {
	Name      string   `yaml:"name"`
	Signature string   `yaml:"signature"`
	Access    []string `yaml:"access"`
	Registers int      `yaml:"registers"`
	Code      string   `yaml:"code"`
}

// LoadYAML reads a program description from path.
func LoadYAML(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	f, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Location == "" {
		f.Location = path
	}
	return f, nil
}

// ParseYAML builds a File from a YAML program description. Method bodies
// are assembled with Assemble.
func ParseYAML(data []byte) (*File, error) {
	var prog yamlProgram
	if err := yaml.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("invalid program: %w", err)
	}
	f := NewFile(prog.Location)
	for _, yc := range prog.Classes {
		c, err := buildClass(f, yc)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", yc.Name, err)
		}
		f.AddClass(c)
	}
	return f, nil
}

func buildClass(f *File, yc yamlClass) (*ClassDef, error) {
	access, err := ParseAccess(yc.Access)
	if err != nil {
		return nil, err
	}
	c := &ClassDef{
		Descriptor: yc.Name,
		Super:      yc.Super,
		Interfaces: yc.Interfaces,
		Access:     access,
	}
	if c.Super == "" && c.Descriptor != "Ljava/lang/Object;" {
		c.Super = "Ljava/lang/Object;"
	}
	for _, yf := range yc.Fields {
		fa, err := ParseAccess(yf.Access)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", yf.Name, err)
		}
		ef := EncodedField{
			FieldIdx: f.InternField(FieldID{Class: c.Descriptor, Name: yf.Name, Type: yf.Type}),
			Access:   fa,
		}
		if fa.Is(AccStatic) {
			c.StaticFields = append(c.StaticFields, ef)
		} else {
			c.InstanceFields = append(c.InstanceFields, ef)
		}
	}
	for _, ym := range yc.Methods {
		m, err := buildMethod(f, c.Descriptor, ym)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", ym.Name, ym.Signature, err)
		}
		if m.Access.Is(AccStatic|AccPrivate|AccConstructor) || ym.Name == "<init>" || ym.Name == "<clinit>" {
			c.DirectMethods = append(c.DirectMethods, m)
		} else {
			c.VirtualMethods = append(c.VirtualMethods, m)
		}
	}
	return c, nil
}

func buildMethod(f *File, class string, ym yamlMethod) (*EncodedMethod, error) {
	access, err := ParseAccess(ym.Access)
	if err != nil {
		return nil, err
	}
	if ym.Name == "<init>" || ym.Name == "<clinit>" {
		access |= AccConstructor
	}
	proto, err := ParseProto(ym.Signature)
	if err != nil {
		return nil, err
	}
	m := &EncodedMethod{
		MethodIdx: f.InternMethod(MethodID{Class: class, Name: ym.Name, Proto: proto}),
		Access:    access,
	}
	if access.Is(AccAbstract | AccNative) {
		return m, nil
	}
	ins := InsSize(proto, access.Is(AccStatic))
	regs := ym.Registers
	if regs == 0 {
		regs = ins
	}
	m.Code, err = Assemble(f, ym.Code, AsmOptions{Registers: regs, Ins: ins})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// InsSize returns the number of argument registers a method with the given
// prototype receives.
func InsSize(proto Proto, static bool) int {
	n := 0
	if !static {
		n++
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
