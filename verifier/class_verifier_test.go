package verifier

import (
	"strings"
	"testing"
)

func TestVerifyClass(t *testing.T) {
	l, _ := link(t, hierarchyYAML)
	results := NewResults()
	defer results.Close()

	for _, desc := range []string{"Lpkg/A;", "Lpkg/B;", "Lpkg/Fin;"} {
		c, err := l.ResolveClass(desc)
		if err != nil {
			t.Fatalf("ResolveClass(%s) failed: %v", desc, err)
		}
		rep := VerifyClass(l, c, DefaultOptions(), results)
		if rep.Outcome != NoFailure {
			t.Errorf("%s: Outcome = %s, failures %v", desc, rep.Outcome, rep.Methods)
		}
	}
	if methods, rejected := results.Counts(); methods != 4 || rejected != 0 {
		t.Errorf("Counts = %d, %d, want 4, 0", methods, rejected)
	}
}

func TestVerifyClassRejects(t *testing.T) {
	tests := []struct {
		name  string
		class string
		want  string
	}{
		{
			name: "final superclass",
			class: `
  - name: Lbad/Sub;
    super: Lpkg/Fin;
`,
			want: "sub-class final class",
		},
		{
			name: "interface superclass",
			class: `
  - name: Lbad/Sub;
    super: Lpkg/I;
`,
			want: "interface Lpkg/I; as its superclass",
		},
		{
			name: "duplicate method",
			class: `
  - name: Lbad/Sub;
    methods:
      - {name: m, signature: ()V, access: [public, abstract]}
      - {name: m, signature: ()V, access: [public, abstract]}
`,
			want: "duplicate method",
		},
		{
			name: "bad method",
			class: `
  - name: Lbad/Sub;
    methods:
      - name: m
        signature: ()V
        access: [public, static]
        code: |
          const/4 v0, 0
`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := link(t, hierarchyYAML+tt.class)
			c, err := l.ResolveClass("Lbad/Sub;")
			if err != nil {
				t.Fatalf("ResolveClass failed: %v", err)
			}
			results := NewResults()
			defer results.Close()
			rep := VerifyClass(l, c, DefaultOptions(), results)
			if rep.Outcome != HardFailure {
				t.Fatalf("Outcome = %s, want %s", rep.Outcome, HardFailure)
			}
			if !results.IsClassRejected(rep.Ref) {
				t.Error("class not marked rejected")
			}
			if tt.want == "" {
				return
			}
			for _, f := range rep.Failures {
				if strings.Contains(f.Message, tt.want) {
					return
				}
			}
			t.Errorf("no class failure mentioning %q: %v", tt.want, rep.Failures)
		})
	}
}
