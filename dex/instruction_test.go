package dex

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInstructionOperands(t *testing.T) {
	b := NewBuilder()
	b.Const4(3, -2)                                // 0
	b.Op21(OpConst16, 200, -1000)                  // 1
	b.Op31(OpConst, 7, 0x12345678)                 // 3
	b.ConstWide(4, -5)                             // 6
	b.Op23(OpAddInt, 1, 2, 3)                      // 11
	b.Op22(OpAddIntLit8, 1, 2, -7)                 // 13
	b.Op22(OpIget, 9, 10, 42)                      // 15
	b.Invoke(OpInvokeStatic, 17, 1, 2, 3, 4, 5)    // 17
	b.InvokeRange(OpInvokeVirtualRange, 18, 20, 3) // 20
	b.Op32x(OpMove16, 300, 400)                    // 23
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	tests := []struct {
		pc      int
		op      Opcode
		size    int
		a, b, c int32
	}{
		{0, OpConst4, 1, 3, -2, 0},
		{1, OpConst16, 2, 200, -1000, 0},
		{3, OpConst, 3, 7, 0x12345678, 0},
		{6, OpConstWide, 5, 4, -5, 0},
		{11, OpAddInt, 2, 1, 2, 3},
		{13, OpAddIntLit8, 2, 1, 2, -7},
		{15, OpIget, 2, 9, 10, 42},
		{17, OpInvokeStatic, 3, 5, 17, 1},
		{20, OpInvokeVirtualRange, 3, 3, 18, 20},
		{23, OpMove16, 3, 300, 400, 0},
	}
	for _, tt := range tests {
		in := At(code, tt.pc)
		if in.Opcode() != tt.op {
			t.Errorf("pc %d: Opcode = %s, want %s", tt.pc, in.Opcode(), tt.op)
			continue
		}
		if got := in.SizeInCodeUnits(); got != tt.size {
			t.Errorf("%s: size = %d, want %d", tt.op, got, tt.size)
		}
		if got := in.VRegA(); got != tt.a {
			t.Errorf("%s: VRegA = %d, want %d", tt.op, got, tt.a)
		}
		if got := in.VRegB(); got != tt.b {
			t.Errorf("%s: VRegB = %d, want %d", tt.op, got, tt.b)
		}
		if got := in.VRegC(); got != tt.c {
			t.Errorf("%s: VRegC = %d, want %d", tt.op, got, tt.c)
		}
	}

	if got := At(code, 6).WideLiteral(); got != -5 {
		t.Errorf("WideLiteral = %d, want -5", got)
	}
	if diff := cmp.Diff([]uint32{1, 2, 3, 4, 5}, At(code, 17).ArgRegs()); diff != "" {
		t.Errorf("35c args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{20, 21, 22}, At(code, 20).ArgRegs()); diff != "" {
		t.Errorf("3rc args mismatch (-want +got):\n%s", diff)
	}
}

func TestBranchFixups(t *testing.T) {
	b := NewBuilder()
	top := b.NewLabel("top")
	end := b.NewLabel("end")
	b.Mark(top)
	b.IfZ(OpIfEqz, 0, end)  // 0
	b.If(OpIfNe, 0, 1, top) // 2
	b.Goto(OpGoto, top)     // 4
	b.Goto(OpGoto32, end)   // 5
	b.Mark(end)
	b.Op(OpReturnVoid) // 8
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	tests := []struct {
		pc   int
		want int32
	}{
		{0, 8},
		{2, -2},
		{4, -4},
		{5, 3},
	}
	for _, tt := range tests {
		off, ok := At(code, tt.pc).BranchOffset()
		if !ok || off != tt.want {
			t.Errorf("pc %d: BranchOffset = %d, %v; want %d", tt.pc, off, ok, tt.want)
		}
	}
	if _, ok := At(code, 8).BranchOffset(); ok {
		t.Error("return-void should have no branch offset")
	}
}

func TestBuilderErrors(t *testing.T) {
	b := NewBuilder()
	b.Goto(OpGoto, b.NewLabel("nowhere"))
	if _, err := b.Build(); err == nil || !strings.Contains(err.Error(), "never bound") {
		t.Errorf("expected unbound label error, got %v", err)
	}

	b = NewBuilder()
	b.Const4(0, 9)
	if _, err := b.Build(); err == nil {
		t.Error("expected const/4 range error")
	}

	b = NewBuilder()
	b.Op12(OpAddInt, 0, 1)
	if _, err := b.Build(); err == nil {
		t.Error("expected format mismatch error")
	}
}

func TestSwitchPayload(t *testing.T) {
	b := NewBuilder()
	sw := b.NewLabel("sw")
	table := b.NewLabel("table")
	c0, c1 := b.NewLabel("c0"), b.NewLabel("c1")
	b.Mark(sw)
	b.PayloadRef(OpPackedSwitch, 0, table) // 0
	b.Mark(c0)
	b.Op(OpReturnVoid) // 3
	b.Mark(c1)
	b.Op(OpReturnVoid) // 4
	b.AlignPayload()   // nop at 5
	b.Mark(table)
	b.PackedSwitchPayload(sw, 10, []*Label{c0, c1}) // 6
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := At(code, 0).PayloadOffset(); got != 6 {
		t.Fatalf("payload offset = %d, want 6", got)
	}
	payload := At(code, 6)
	if !payload.IsPayload() || payload.SizeInCodeUnits() != 8 {
		t.Errorf("payload size = %d, want 8", payload.SizeInCodeUnits())
	}
	tbl, err := DecodeSwitch(code, 6)
	if err != nil {
		t.Fatalf("DecodeSwitch failed: %v", err)
	}
	want := SwitchTable{Keys: []int32{10, 11}, Targets: []int32{3, 4}}
	if diff := cmp.Diff(want, tbl); diff != "" {
		t.Errorf("switch table mismatch (-want +got):\n%s", diff)
	}
}

func TestArrayDataPayload(t *testing.T) {
	b := NewBuilder()
	b.ArrayDataPayload(2, 3, []byte{1, 0, 2, 0, 3, 0})
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := At(code, 0).SizeInCodeUnits(); got != 7 {
		t.Errorf("size = %d, want 7", got)
	}
	d, err := DecodeArrayData(code, 0)
	if err != nil {
		t.Fatalf("DecodeArrayData failed: %v", err)
	}
	if d.ElementWidth != 2 || d.Count != 3 {
		t.Errorf("width/count = %d/%d, want 2/3", d.ElementWidth, d.Count)
	}
	if diff := cmp.Diff([]byte{1, 0, 2, 0, 3, 0}, d.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestDisassemble(t *testing.T) {
	b := NewBuilder()
	b.Const4(0, 1)
	b.Op23(OpAddInt, 1, 0, 0)
	b.Op11(OpReturn, 1)
	code, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "0000: const/4 v0, #1\n" +
		"0001: add-int v1, v0, v0\n" +
		"0003: return v1\n"
	if got := Disassemble(code); got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
}
