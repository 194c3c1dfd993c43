package dex

import "testing"

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		format Format
	}{
		{OpNop, "nop", Format10x},
		{OpMoveObjectFrom16, "move-object/from16", Format22x},
		{OpConstWide, "const-wide", Format51l},
		{OpConstStringJumbo, "const-string/jumbo", Format31c},
		{OpIfLe, "if-le", Format22t},
		{OpIfLez, "if-lez", Format21t},
		{OpAgetShort, "aget-short", Format23x},
		{OpAputObject, "aput-object", Format23x},
		{OpIgetWide, "iget-wide", Format22c},
		{OpSputBoolean, "sput-boolean", Format21c},
		{OpInvokeInterface, "invoke-interface", Format35c},
		{OpInvokeStaticRange, "invoke-static/range", Format3rc},
		{OpIntToShort, "int-to-short", Format12x},
		{OpRemDouble, "rem-double", Format23x},
		{OpUshrLong2Addr, "ushr-long/2addr", Format12x},
		{OpRemDouble2Addr, "rem-double/2addr", Format12x},
		{OpRsubInt, "rsub-int", Format22s},
		{OpXorIntLit16, "xor-int/lit16", Format22s},
		{OpRsubIntLit8, "rsub-int/lit8", Format22b},
		{OpUshrIntLit8, "ushr-int/lit8", Format22b},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("0x%02x: Name = %q, want %q", byte(tt.op), info.Name, tt.name)
		}
		if info.Format != tt.format {
			t.Errorf("%s: Format = %d, want %d", tt.op, info.Format, tt.format)
		}
	}
}

func TestUnusedOpcodes(t *testing.T) {
	for _, op := range []Opcode{0x3e, 0x43, 0x73, 0x79, 0x7a, 0xe3, 0xff} {
		if op.Valid() {
			t.Errorf("0x%02x should be unused", byte(op))
		}
		if op.Info().Verify&VerifyError == 0 {
			t.Errorf("0x%02x should carry VerifyError", byte(op))
		}
	}
	assigned := 0
	for i := 0; i < 256; i++ {
		if Opcode(i).Valid() {
			assigned++
		}
	}
	if assigned != 218 {
		t.Errorf("assigned opcodes = %d, want 218", assigned)
	}
}

func TestOpcodeFlags(t *testing.T) {
	tests := []struct {
		op   Opcode
		want Flags
	}{
		{OpReturnVoid, FlagReturn},
		{OpThrow, FlagThrow},
		{OpGoto, FlagBranch | FlagUnconditional},
		{OpIfEqz, FlagBranch | FlagContinue},
		{OpPackedSwitch, FlagSwitch | FlagContinue},
		{OpDivInt, FlagContinue | FlagThrow},
		{OpAddInt, FlagContinue},
		{OpDivIntLit8, FlagContinue | FlagThrow},
		{OpInvokeDirect, FlagContinue | FlagThrow | FlagInvoke},
	}
	for _, tt := range tests {
		if got := tt.op.Info().Flags; got != tt.want {
			t.Errorf("%s: Flags = %b, want %b", tt.op, got, tt.want)
		}
	}
}

func TestWideOperands(t *testing.T) {
	tests := []struct {
		op   Opcode
		want VerifyFlags
	}{
		{OpShlLong, VerifyRegAWide | VerifyRegBWide | VerifyRegC},
		{OpShlLong2Addr, VerifyRegAWide | VerifyRegB},
		{OpIntToDouble, VerifyRegAWide | VerifyRegB},
		{OpDoubleToInt, VerifyRegA | VerifyRegBWide},
		{OpCmpLong, VerifyRegA | VerifyRegBWide | VerifyRegCWide},
		{OpAgetWide, VerifyRegAWide | VerifyRegB | VerifyRegC},
	}
	for _, tt := range tests {
		if got := tt.op.Info().Verify; got != tt.want {
			t.Errorf("%s: Verify = %b, want %b", tt.op, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	op, ok := Lookup("invoke-virtual/range")
	if !ok || op != OpInvokeVirtualRange {
		t.Errorf("Lookup(invoke-virtual/range) = %v, %v", op, ok)
	}
	if _, ok := Lookup("unused-3e"); ok {
		t.Error("unused opcodes should not be found by name")
	}
}
