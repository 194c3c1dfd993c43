package verifier

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGcMapEncoding(t *testing.T) {
	v := verifyBody(t, "m", "(Ljava/lang/String;)V", []string{"public"}, 3, `
		if-eqz p1, :done
		const/4 v0, 0
		:done
		return-void
	`, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
	got := v.Result().GcMap
	// Entry at 0 holds this (v1) and the string (v2); the return at 3 is
	// pruned to nothing.
	want := []byte{GcMapFormatCompact8, 1, 2, 0, 0, 0x06, 3, 0x00}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("gc map mismatch (-want +got):\n%s", diff)
	}

	m, err := DecodeGcMap(got)
	if err != nil {
		t.Fatalf("DecodeGcMap failed: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, m.References(0)); diff != "" {
		t.Errorf("references at 0 mismatch (-want +got):\n%s", diff)
	}
	if refs := m.References(3); len(refs) != 0 {
		t.Errorf("references at return = %v, want none", refs)
	}
	if _, ok := m.Bitmap(2); ok {
		t.Error("pc 2 is not a GC point")
	}
}

func TestGcMapWidePCs(t *testing.T) {
	// Enough padding to push the final return past pc 255.
	code := "if-eqz p0, :done\n"
	for i := 0; i < 300; i++ {
		code += "nop\n"
	}
	code += ":done\nreturn-void"
	v := verifyBody(t, "m", "(Ljava/lang/Object;)V", publicStatic, 1, code, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
	m, err := DecodeGcMap(v.Result().GcMap)
	if err != nil {
		t.Fatalf("DecodeGcMap failed: %v", err)
	}
	if m.Format != GcMapFormatCompact16 {
		t.Errorf("format = %d, want %d", m.Format, GcMapFormatCompact16)
	}
	if _, ok := m.Bitmap(302); !ok {
		t.Errorf("missing entry for return at 302: %+v", m.Entries)
	}
}

func TestDecodeGcMapErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short header", []byte{2, 1}},
		{"unknown format", []byte{5, 1, 0, 0}},
		{"truncated body", []byte{GcMapFormatCompact8, 1, 2, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeGcMap(tt.data); !errors.Is(err, ErrBadGcMap) {
				t.Errorf("error = %v, want ErrBadGcMap", err)
			}
		})
	}
}
