package verifier

import (
	"strconv"
	"strings"
	"testing"

	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/dex"
)

// hierarchyYAML declares A, B extends A, C extends A, an interface I, an
// abstract class Abs and a final class Fin.
const hierarchyYAML = `
location: test.dex
classes:
  - name: Lpkg/A;
    access: [public]
    fields:
      - {name: count, type: I, access: [public]}
      - {name: ref, type: Ljava/lang/String;, access: [public, final]}
      - {name: shared, type: J, access: [public, static]}
    methods:
      - name: <init>
        signature: ()V
        access: [public]
        code: |
          invoke-direct {p0}, Ljava/lang/Object;-><init>()V
          return-void
      - name: get
        signature: ()I
        access: [public]
        registers: 2
        code: |
          const/4 v0, 1
          return v0
  - name: Lpkg/B;
    super: Lpkg/A;
    access: [public]
    methods:
      - name: <init>
        signature: ()V
        access: [public]
        code: |
          invoke-direct {p0}, Lpkg/A;-><init>()V
          return-void
  - name: Lpkg/C;
    super: Lpkg/A;
    access: [public]
    interfaces: [Lpkg/I;]
  - name: Lpkg/I;
    access: [public, interface, abstract]
    methods:
      - {name: run, signature: ()V, access: [public, abstract]}
  - name: Lpkg/Abs;
    access: [public, abstract]
  - name: Lpkg/Fin;
    super: Lpkg/A;
    access: [public, final]
    methods:
      - name: <init>
        signature: ()V
        access: [public]
        code: |
          invoke-direct {p0}, Lpkg/A;-><init>()V
          return-void
`

// link parses a program and links it with the boot class path.
func link(t *testing.T, src string) (*classlink.Linker, *dex.File) {
	t.Helper()
	f, err := dex.ParseYAML([]byte(src))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	l, err := classlink.New(f)
	if err != nil {
		t.Fatalf("classlink.New failed: %v", err)
	}
	return l, f
}

func findMethod(t *testing.T, l *classlink.Linker, class, name string) *classlink.Method {
	t.Helper()
	c, err := l.ResolveClass(class)
	if err != nil {
		t.Fatalf("ResolveClass(%s) failed: %v", class, err)
	}
	for _, m := range c.Methods {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("%s has no method %s", class, name)
	return nil
}

// methodYAML wraps one method body in a class Lt/T; extending Lpkg/A;,
// appended to the shared hierarchy.
func methodYAML(name, sig string, access []string, regs int, code string) string {
	var sb strings.Builder
	sb.WriteString(hierarchyYAML)
	sb.WriteString("  - name: Lt/T;\n    super: Lpkg/A;\n    access: [public]\n    methods:\n")
	sb.WriteString("      - name: " + name + "\n")
	sb.WriteString("        signature: " + sig + "\n")
	sb.WriteString("        access: [" + strings.Join(access, ", ") + "]\n")
	if regs > 0 {
		sb.WriteString("        registers: " + strconv.Itoa(regs) + "\n")
	}
	sb.WriteString("        code: |\n")
	for _, line := range strings.Split(strings.TrimSpace(code), "\n") {
		sb.WriteString("          " + strings.TrimSpace(line) + "\n")
	}
	return sb.String()
}

// verifyBody verifies a single method of Lt/T; and returns its verifier.
func verifyBody(t *testing.T, name, sig string, access []string, regs int, code string, opts Options) *MethodVerifier {
	t.Helper()
	l, _ := link(t, methodYAML(name, sig, access, regs, code))
	v := NewMethodVerifier(l, findMethod(t, l, "Lt/T;", name), opts)
	v.Verify()
	return v
}

func hasFailure(v *MethodVerifier, kind FailureKind, substr string) bool {
	for _, f := range v.Failures() {
		if f.Kind == kind && strings.Contains(f.Message, substr) {
			return true
		}
	}
	return false
}

func failureDump(v *MethodVerifier) string {
	var sb strings.Builder
	for _, f := range v.Failures() {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
