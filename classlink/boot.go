package classlink

import (
	"sync"

	"github.com/chazu/dexverify/dex"
)

// Boot class path descriptors.
const (
	ObjectDescriptor           = "Ljava/lang/Object;"
	StringDescriptor           = "Ljava/lang/String;"
	ClassDescriptor            = "Ljava/lang/Class;"
	ThrowableDescriptor        = "Ljava/lang/Throwable;"
	ExceptionDescriptor        = "Ljava/lang/Exception;"
	RuntimeExceptionDescriptor = "Ljava/lang/RuntimeException;"
	ErrorDescriptor            = "Ljava/lang/Error;"
	IOExceptionDescriptor      = "Ljava/io/IOException;"
	CloneableDescriptor        = "Ljava/lang/Cloneable;"
	SerializableDescriptor     = "Ljava/io/Serializable;"
	RunnableDescriptor         = "Ljava/lang/Runnable;"
)

// BootLocation is the location of the boot class path file.
const BootLocation = "boot.dex"

type bootMethod struct {
	name   string
	sig    string
	access dex.AccessFlags
}

type bootClass struct {
	desc       string
	super      string
	interfaces []string
	access     dex.AccessFlags
	methods    []bootMethod
}

const (
	pub       = dex.AccPublic
	pubCtor   = dex.AccPublic | dex.AccConstructor
	pubFinal  = dex.AccPublic | dex.AccFinal
	pubStatic = dex.AccPublic | dex.AccStatic
	pubAbs    = dex.AccPublic | dex.AccAbstract
	pubIface  = dex.AccPublic | dex.AccInterface | dex.AccAbstract
	native    = dex.AccNative
)

var throwableCtors = []bootMethod{
	{"<init>", "()V", pubCtor},
	{"<init>", "(Ljava/lang/String;)V", pubCtor},
}

var bootClasses = []bootClass{
	{ObjectDescriptor, "", nil, pub, []bootMethod{
		{"<init>", "()V", pubCtor},
		{"equals", "(Ljava/lang/Object;)Z", pub},
		{"hashCode", "()I", pub | native},
		{"toString", "()Ljava/lang/String;", pub},
		{"getClass", "()Ljava/lang/Class;", pubFinal | native},
		{"clone", "()Ljava/lang/Object;", dex.AccProtected | native},
		{"finalize", "()V", dex.AccProtected},
	}},
	{SerializableDescriptor, ObjectDescriptor, nil, pubIface, nil},
	{CloneableDescriptor, ObjectDescriptor, nil, pubIface, nil},
	{RunnableDescriptor, ObjectDescriptor, nil, pubIface, []bootMethod{
		{"run", "()V", pubAbs},
	}},
	{StringDescriptor, ObjectDescriptor, []string{SerializableDescriptor}, pubFinal, []bootMethod{
		{"<init>", "()V", pubCtor},
		{"length", "()I", pub},
		{"charAt", "(I)C", pub},
		{"concat", "(Ljava/lang/String;)Ljava/lang/String;", pub},
		{"equals", "(Ljava/lang/Object;)Z", pub},
		{"hashCode", "()I", pub},
		{"valueOf", "(I)Ljava/lang/String;", pubStatic},
	}},
	{ClassDescriptor, ObjectDescriptor, []string{SerializableDescriptor}, pubFinal, []bootMethod{
		{"getName", "()Ljava/lang/String;", pub},
	}},
	{ThrowableDescriptor, ObjectDescriptor, []string{SerializableDescriptor}, pub, append([]bootMethod{
		{"getMessage", "()Ljava/lang/String;", pub},
	}, throwableCtors...)},
	{ExceptionDescriptor, ThrowableDescriptor, nil, pub, throwableCtors},
	{RuntimeExceptionDescriptor, ExceptionDescriptor, nil, pub, throwableCtors},
	{ErrorDescriptor, ThrowableDescriptor, nil, pub, throwableCtors},
	{IOExceptionDescriptor, ExceptionDescriptor, nil, pub, throwableCtors},
}

var (
	bootOnce sync.Once
	bootFile *dex.File
)

// BootFile returns the shared boot class path file. Boot methods have no
// code and are never verified.
func BootFile() *dex.File {
	bootOnce.Do(func() {
		f := dex.NewFile(BootLocation)
		for _, bc := range bootClasses {
			def := &dex.ClassDef{
				Descriptor: bc.desc,
				Super:      bc.super,
				Interfaces: bc.interfaces,
				Access:     bc.access,
			}
			for _, bm := range bc.methods {
				proto, err := dex.ParseProto(bm.sig)
				if err != nil {
					panic("boot class path: " + err.Error())
				}
				em := &dex.EncodedMethod{
					MethodIdx: f.InternMethod(dex.MethodID{Class: bc.desc, Name: bm.name, Proto: proto}),
					Access:    bm.access,
				}
				if bm.access.Is(dex.AccStatic | dex.AccPrivate | dex.AccConstructor) {
					def.DirectMethods = append(def.DirectMethods, em)
				} else {
					def.VirtualMethods = append(def.VirtualMethods, em)
				}
			}
			f.AddClass(def)
		}
		bootFile = f
	})
	return bootFile
}
