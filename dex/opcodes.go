package dex

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the low byte of the first code unit of an instruction.
type Opcode byte

// Moves and returns
const (
	OpNop              Opcode = 0x00
	OpMove             Opcode = 0x01
	OpMoveFrom16       Opcode = 0x02
	OpMove16           Opcode = 0x03
	OpMoveWide         Opcode = 0x04
	OpMoveWideFrom16   Opcode = 0x05
	OpMoveWide16       Opcode = 0x06
	OpMoveObject       Opcode = 0x07
	OpMoveObjectFrom16 Opcode = 0x08
	OpMoveObject16     Opcode = 0x09
	OpMoveResult       Opcode = 0x0a
	OpMoveResultWide   Opcode = 0x0b
	OpMoveResultObject Opcode = 0x0c
	OpMoveException    Opcode = 0x0d
	OpReturnVoid       Opcode = 0x0e
	OpReturn           Opcode = 0x0f
	OpReturnWide       Opcode = 0x10
	OpReturnObject     Opcode = 0x11
)

// Constants
const (
	OpConst4           Opcode = 0x12
	OpConst16          Opcode = 0x13
	OpConst            Opcode = 0x14
	OpConstHigh16      Opcode = 0x15
	OpConstWide16      Opcode = 0x16
	OpConstWide32      Opcode = 0x17
	OpConstWide        Opcode = 0x18
	OpConstWideHigh16  Opcode = 0x19
	OpConstString      Opcode = 0x1a
	OpConstStringJumbo Opcode = 0x1b
	OpConstClass       Opcode = 0x1c
)

// Objects, arrays and monitors
const (
	OpMonitorEnter        Opcode = 0x1d
	OpMonitorExit         Opcode = 0x1e
	OpCheckCast           Opcode = 0x1f
	OpInstanceOf          Opcode = 0x20
	OpArrayLength         Opcode = 0x21
	OpNewInstance         Opcode = 0x22
	OpNewArray            Opcode = 0x23
	OpFilledNewArray      Opcode = 0x24
	OpFilledNewArrayRange Opcode = 0x25
	OpFillArrayData       Opcode = 0x26
	OpThrow               Opcode = 0x27
)

// Control flow
const (
	OpGoto         Opcode = 0x28
	OpGoto16       Opcode = 0x29
	OpGoto32       Opcode = 0x2a
	OpPackedSwitch Opcode = 0x2b
	OpSparseSwitch Opcode = 0x2c
	OpCmplFloat    Opcode = 0x2d
	OpCmpgFloat    Opcode = 0x2e
	OpCmplDouble   Opcode = 0x2f
	OpCmpgDouble   Opcode = 0x30
	OpCmpLong      Opcode = 0x31
	OpIfEq         Opcode = 0x32
	OpIfNe         Opcode = 0x33
	OpIfLt         Opcode = 0x34
	OpIfGe         Opcode = 0x35
	OpIfGt         Opcode = 0x36
	OpIfLe         Opcode = 0x37
	OpIfEqz        Opcode = 0x38
	OpIfNez        Opcode = 0x39
	OpIfLtz        Opcode = 0x3a
	OpIfGez        Opcode = 0x3b
	OpIfGtz        Opcode = 0x3c
	OpIfLez        Opcode = 0x3d
)

// Array element access
const (
	OpAget        Opcode = 0x44
	OpAgetWide    Opcode = 0x45
	OpAgetObject  Opcode = 0x46
	OpAgetBoolean Opcode = 0x47
	OpAgetByte    Opcode = 0x48
	OpAgetChar    Opcode = 0x49
	OpAgetShort   Opcode = 0x4a
	OpAput        Opcode = 0x4b
	OpAputWide    Opcode = 0x4c
	OpAputObject  Opcode = 0x4d
	OpAputBoolean Opcode = 0x4e
	OpAputByte    Opcode = 0x4f
	OpAputChar    Opcode = 0x50
	OpAputShort   Opcode = 0x51
)

// Field access
const (
	OpIget        Opcode = 0x52
	OpIgetWide    Opcode = 0x53
	OpIgetObject  Opcode = 0x54
	OpIgetBoolean Opcode = 0x55
	OpIgetByte    Opcode = 0x56
	OpIgetChar    Opcode = 0x57
	OpIgetShort   Opcode = 0x58
	OpIput        Opcode = 0x59
	OpIputWide    Opcode = 0x5a
	OpIputObject  Opcode = 0x5b
	OpIputBoolean Opcode = 0x5c
	OpIputByte    Opcode = 0x5d
	OpIputChar    Opcode = 0x5e
	OpIputShort   Opcode = 0x5f
	OpSget        Opcode = 0x60
	OpSgetWide    Opcode = 0x61
	OpSgetObject  Opcode = 0x62
	OpSgetBoolean Opcode = 0x63
	OpSgetByte    Opcode = 0x64
	OpSgetChar    Opcode = 0x65
	OpSgetShort   Opcode = 0x66
	OpSput        Opcode = 0x67
	OpSputWide    Opcode = 0x68
	OpSputObject  Opcode = 0x69
	OpSputBoolean Opcode = 0x6a
	OpSputByte    Opcode = 0x6b
	OpSputChar    Opcode = 0x6c
	OpSputShort   Opcode = 0x6d
)

// Invokes
const (
	OpInvokeVirtual        Opcode = 0x6e
	OpInvokeSuper          Opcode = 0x6f
	OpInvokeDirect         Opcode = 0x70
	OpInvokeStatic         Opcode = 0x71
	OpInvokeInterface      Opcode = 0x72
	OpInvokeVirtualRange   Opcode = 0x74
	OpInvokeSuperRange     Opcode = 0x75
	OpInvokeDirectRange    Opcode = 0x76
	OpInvokeStaticRange    Opcode = 0x77
	OpInvokeInterfaceRange Opcode = 0x78
)

// Unary operations and conversions
const (
	OpNegInt        Opcode = 0x7b
	OpNotInt        Opcode = 0x7c
	OpNegLong       Opcode = 0x7d
	OpNotLong       Opcode = 0x7e
	OpNegFloat      Opcode = 0x7f
	OpNegDouble     Opcode = 0x80
	OpIntToLong     Opcode = 0x81
	OpIntToFloat    Opcode = 0x82
	OpIntToDouble   Opcode = 0x83
	OpLongToInt     Opcode = 0x84
	OpLongToFloat   Opcode = 0x85
	OpLongToDouble  Opcode = 0x86
	OpFloatToInt    Opcode = 0x87
	OpFloatToLong   Opcode = 0x88
	OpFloatToDouble Opcode = 0x89
	OpDoubleToInt   Opcode = 0x8a
	OpDoubleToLong  Opcode = 0x8b
	OpDoubleToFloat Opcode = 0x8c
	OpIntToByte     Opcode = 0x8d
	OpIntToChar     Opcode = 0x8e
	OpIntToShort    Opcode = 0x8f
)

// Binary operations. Each family (plain, /2addr) repeats the same order:
// int (add..ushr), long (add..ushr), float (add..rem), double (add..rem).
const (
	OpAddInt    Opcode = 0x90
	OpSubInt    Opcode = 0x91
	OpMulInt    Opcode = 0x92
	OpDivInt    Opcode = 0x93
	OpRemInt    Opcode = 0x94
	OpAndInt    Opcode = 0x95
	OpOrInt     Opcode = 0x96
	OpXorInt    Opcode = 0x97
	OpShlInt    Opcode = 0x98
	OpShrInt    Opcode = 0x99
	OpUshrInt   Opcode = 0x9a
	OpAddLong   Opcode = 0x9b
	OpSubLong   Opcode = 0x9c
	OpMulLong   Opcode = 0x9d
	OpDivLong   Opcode = 0x9e
	OpRemLong   Opcode = 0x9f
	OpAndLong   Opcode = 0xa0
	OpOrLong    Opcode = 0xa1
	OpXorLong   Opcode = 0xa2
	OpShlLong   Opcode = 0xa3
	OpShrLong   Opcode = 0xa4
	OpUshrLong  Opcode = 0xa5
	OpAddFloat  Opcode = 0xa6
	OpSubFloat  Opcode = 0xa7
	OpMulFloat  Opcode = 0xa8
	OpDivFloat  Opcode = 0xa9
	OpRemFloat  Opcode = 0xaa
	OpAddDouble Opcode = 0xab
	OpSubDouble Opcode = 0xac
	OpMulDouble Opcode = 0xad
	OpDivDouble Opcode = 0xae
	OpRemDouble Opcode = 0xaf

	OpAddInt2Addr    Opcode = 0xb0
	OpDivInt2Addr    Opcode = 0xb3
	OpRemInt2Addr    Opcode = 0xb4
	OpUshrInt2Addr   Opcode = 0xba
	OpAddLong2Addr   Opcode = 0xbb
	OpDivLong2Addr   Opcode = 0xbe
	OpRemLong2Addr   Opcode = 0xbf
	OpShlLong2Addr   Opcode = 0xc3
	OpUshrLong2Addr  Opcode = 0xc5
	OpAddFloat2Addr  Opcode = 0xc6
	OpRemFloat2Addr  Opcode = 0xca
	OpAddDouble2Addr Opcode = 0xcb
	OpRemDouble2Addr Opcode = 0xcf

	OpAddIntLit16 Opcode = 0xd0
	OpRsubInt     Opcode = 0xd1
	OpMulIntLit16 Opcode = 0xd2
	OpDivIntLit16 Opcode = 0xd3
	OpRemIntLit16 Opcode = 0xd4
	OpAndIntLit16 Opcode = 0xd5
	OpOrIntLit16  Opcode = 0xd6
	OpXorIntLit16 Opcode = 0xd7
	OpAddIntLit8  Opcode = 0xd8
	OpRsubIntLit8 Opcode = 0xd9
	OpMulIntLit8  Opcode = 0xda
	OpDivIntLit8  Opcode = 0xdb
	OpRemIntLit8  Opcode = 0xdc
	OpAndIntLit8  Opcode = 0xdd
	OpOrIntLit8   Opcode = 0xde
	OpXorIntLit8  Opcode = 0xdf
	OpShlIntLit8  Opcode = 0xe0
	OpShrIntLit8  Opcode = 0xe1
	OpUshrIntLit8 Opcode = 0xe2
)

// Payload identifiers stored in the first code unit of a data table. The low
// byte is always OpNop.
const (
	PackedSwitchSignature uint16 = 0x0100
	SparseSwitchSignature uint16 = 0x0200
	ArrayDataSignature    uint16 = 0x0300
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Format is the encoding layout of an instruction, named after the number of
// code units, number of registers and operand kind.
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format3rc
	Format51l
)

var formatSizes = [...]int{
	Format10x: 1, Format12x: 1, Format11n: 1, Format11x: 1, Format10t: 1,
	Format20t: 2, Format22x: 2, Format21t: 2, Format21s: 2, Format21h: 2,
	Format21c: 2, Format23x: 2, Format22b: 2, Format22t: 2, Format22s: 2,
	Format22c: 2, Format30t: 3, Format32x: 3, Format31i: 3, Format31t: 3,
	Format31c: 3, Format35c: 3, Format3rc: 3, Format51l: 5,
}

// Size returns the number of code units used by the format.
func (f Format) Size() int {
	return formatSizes[f]
}

// Flags describe how control leaves an instruction.
type Flags uint16

const (
	FlagBranch        Flags = 1 << iota // conditional or unconditional branch
	FlagContinue                        // flow can continue to the next instruction
	FlagSwitch                          // switch statement
	FlagThrow                           // could cause an exception to be thrown
	FlagReturn                          // returns, no additional statements
	FlagInvoke                          // a flavor of invoke
	FlagUnconditional                   // unconditional branch
)

// VerifyFlags name the operands the static checker has to validate.
type VerifyFlags uint32

const (
	VerifyNone VerifyFlags = 0
	VerifyRegA VerifyFlags = 1 << iota
	VerifyRegAWide
	VerifyRegB
	VerifyRegBField
	VerifyRegBMethod
	VerifyRegBNewInstance
	VerifyRegBString
	VerifyRegBType
	VerifyRegBWide
	VerifyRegC
	VerifyRegCField
	VerifyRegCNewArray
	VerifyRegCType
	VerifyRegCWide
	VerifyArrayData
	VerifyBranchTarget
	VerifySwitchTargets
	VerifyVarArg
	VerifyVarArgRange
	VerifyError
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Format Format
	Flags  Flags
	Verify VerifyFlags
}

const (
	cont  = FlagContinue
	throw = FlagContinue | FlagThrow
	ra    = VerifyRegA
	raw   = VerifyRegAWide
	rb    = VerifyRegB
	rbw   = VerifyRegBWide
	rc    = VerifyRegC
	rcw   = VerifyRegCWide
)

// opcodeTable maps opcodes to their metadata. The regular arithmetic
// families are filled in by init.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:              {"nop", Format10x, cont, VerifyNone},
	OpMove:             {"move", Format12x, cont, ra | rb},
	OpMoveFrom16:       {"move/from16", Format22x, cont, ra | rb},
	OpMove16:           {"move/16", Format32x, cont, ra | rb},
	OpMoveWide:         {"move-wide", Format12x, cont, raw | rbw},
	OpMoveWideFrom16:   {"move-wide/from16", Format22x, cont, raw | rbw},
	OpMoveWide16:       {"move-wide/16", Format32x, cont, raw | rbw},
	OpMoveObject:       {"move-object", Format12x, cont, ra | rb},
	OpMoveObjectFrom16: {"move-object/from16", Format22x, cont, ra | rb},
	OpMoveObject16:     {"move-object/16", Format32x, cont, ra | rb},
	OpMoveResult:       {"move-result", Format11x, cont, ra},
	OpMoveResultWide:   {"move-result-wide", Format11x, cont, raw},
	OpMoveResultObject: {"move-result-object", Format11x, cont, ra},
	OpMoveException:    {"move-exception", Format11x, cont, ra},
	OpReturnVoid:       {"return-void", Format10x, FlagReturn, VerifyNone},
	OpReturn:           {"return", Format11x, FlagReturn, ra},
	OpReturnWide:       {"return-wide", Format11x, FlagReturn, raw},
	OpReturnObject:     {"return-object", Format11x, FlagReturn, ra},

	OpConst4:           {"const/4", Format11n, cont, ra},
	OpConst16:          {"const/16", Format21s, cont, ra},
	OpConst:            {"const", Format31i, cont, ra},
	OpConstHigh16:      {"const/high16", Format21h, cont, ra},
	OpConstWide16:      {"const-wide/16", Format21s, cont, raw},
	OpConstWide32:      {"const-wide/32", Format31i, cont, raw},
	OpConstWide:        {"const-wide", Format51l, cont, raw},
	OpConstWideHigh16:  {"const-wide/high16", Format21h, cont, raw},
	OpConstString:      {"const-string", Format21c, throw, ra | VerifyRegBString},
	OpConstStringJumbo: {"const-string/jumbo", Format31c, throw, ra | VerifyRegBString},
	OpConstClass:       {"const-class", Format21c, throw, ra | VerifyRegBType},

	OpMonitorEnter:        {"monitor-enter", Format11x, throw, ra},
	OpMonitorExit:         {"monitor-exit", Format11x, throw, ra},
	OpCheckCast:           {"check-cast", Format21c, throw, ra | VerifyRegBType},
	OpInstanceOf:          {"instance-of", Format22c, throw, ra | rb | VerifyRegCType},
	OpArrayLength:         {"array-length", Format12x, throw, ra | rb},
	OpNewInstance:         {"new-instance", Format21c, throw, ra | VerifyRegBNewInstance},
	OpNewArray:            {"new-array", Format22c, throw, ra | rb | VerifyRegCNewArray},
	OpFilledNewArray:      {"filled-new-array", Format35c, throw, VerifyRegBType | VerifyVarArg},
	OpFilledNewArrayRange: {"filled-new-array/range", Format3rc, throw, VerifyRegBType | VerifyVarArgRange},
	OpFillArrayData:       {"fill-array-data", Format31t, throw, ra | VerifyArrayData},
	OpThrow:               {"throw", Format11x, FlagThrow, ra},

	OpGoto:         {"goto", Format10t, FlagBranch | FlagUnconditional, VerifyBranchTarget},
	OpGoto16:       {"goto/16", Format20t, FlagBranch | FlagUnconditional, VerifyBranchTarget},
	OpGoto32:       {"goto/32", Format30t, FlagBranch | FlagUnconditional, VerifyBranchTarget},
	OpPackedSwitch: {"packed-switch", Format31t, cont | FlagSwitch, ra | VerifySwitchTargets},
	OpSparseSwitch: {"sparse-switch", Format31t, cont | FlagSwitch, ra | VerifySwitchTargets},
	OpCmplFloat:    {"cmpl-float", Format23x, cont, ra | rb | rc},
	OpCmpgFloat:    {"cmpg-float", Format23x, cont, ra | rb | rc},
	OpCmplDouble:   {"cmpl-double", Format23x, cont, ra | rbw | rcw},
	OpCmpgDouble:   {"cmpg-double", Format23x, cont, ra | rbw | rcw},
	OpCmpLong:      {"cmp-long", Format23x, cont, ra | rbw | rcw},
}

type familyMember struct {
	suffix string
	aWide  bool
}

var elementKinds = []familyMember{
	{"", false}, {"-wide", true}, {"-object", false}, {"-boolean", false},
	{"-byte", false}, {"-char", false}, {"-short", false},
}

var unaryOps = []struct {
	name         string
	aWide, bWide bool
}{
	{"neg-int", false, false}, {"not-int", false, false},
	{"neg-long", true, true}, {"not-long", true, true},
	{"neg-float", false, false}, {"neg-double", true, true},
	{"int-to-long", true, false}, {"int-to-float", false, false}, {"int-to-double", true, false},
	{"long-to-int", false, true}, {"long-to-float", false, true}, {"long-to-double", true, true},
	{"float-to-int", false, false}, {"float-to-long", true, false}, {"float-to-double", true, false},
	{"double-to-int", false, true}, {"double-to-long", true, true}, {"double-to-float", false, true},
	{"int-to-byte", false, false}, {"int-to-char", false, false}, {"int-to-short", false, false},
}

var binaryOps = []struct {
	name              string
	wide, shift, trap bool
}{
	{"add-int", false, false, false}, {"sub-int", false, false, false}, {"mul-int", false, false, false},
	{"div-int", false, false, true}, {"rem-int", false, false, true}, {"and-int", false, false, false},
	{"or-int", false, false, false}, {"xor-int", false, false, false}, {"shl-int", false, false, false},
	{"shr-int", false, false, false}, {"ushr-int", false, false, false},
	{"add-long", true, false, false}, {"sub-long", true, false, false}, {"mul-long", true, false, false},
	{"div-long", true, false, true}, {"rem-long", true, false, true}, {"and-long", true, false, false},
	{"or-long", true, false, false}, {"xor-long", true, false, false}, {"shl-long", true, true, false},
	{"shr-long", true, true, false}, {"ushr-long", true, true, false},
	{"add-float", false, false, false}, {"sub-float", false, false, false}, {"mul-float", false, false, false},
	{"div-float", false, false, false}, {"rem-float", false, false, false},
	{"add-double", true, false, false}, {"sub-double", true, false, false}, {"mul-double", true, false, false},
	{"div-double", true, false, false}, {"rem-double", true, false, false},
}

var literalOps = []string{"add-int", "rsub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int", "shl-int", "shr-int", "ushr-int"}

var comparisons = []string{"eq", "ne", "lt", "ge", "gt", "le"}

func init() {
	for i, cmp := range comparisons {
		opcodeTable[OpIfEq+Opcode(i)] = OpcodeInfo{"if-" + cmp, Format22t, cont | FlagBranch, ra | rb | VerifyBranchTarget}
		opcodeTable[OpIfEqz+Opcode(i)] = OpcodeInfo{"if-" + cmp + "z", Format21t, cont | FlagBranch, ra | VerifyBranchTarget}
	}
	for i, k := range elementKinds {
		a := ra
		if k.aWide {
			a = raw
		}
		opcodeTable[OpAget+Opcode(i)] = OpcodeInfo{"aget" + k.suffix, Format23x, throw, a | rb | rc}
		opcodeTable[OpAput+Opcode(i)] = OpcodeInfo{"aput" + k.suffix, Format23x, throw, a | rb | rc}
		opcodeTable[OpIget+Opcode(i)] = OpcodeInfo{"iget" + k.suffix, Format22c, throw, a | rb | VerifyRegCField}
		opcodeTable[OpIput+Opcode(i)] = OpcodeInfo{"iput" + k.suffix, Format22c, throw, a | rb | VerifyRegCField}
		opcodeTable[OpSget+Opcode(i)] = OpcodeInfo{"sget" + k.suffix, Format21c, throw, a | VerifyRegBField}
		opcodeTable[OpSput+Opcode(i)] = OpcodeInfo{"sput" + k.suffix, Format21c, throw, a | VerifyRegBField}
	}
	for i, kind := range []string{"virtual", "super", "direct", "static", "interface"} {
		flags := throw | FlagInvoke
		opcodeTable[OpInvokeVirtual+Opcode(i)] = OpcodeInfo{"invoke-" + kind, Format35c, flags, VerifyRegBMethod | VerifyVarArg}
		opcodeTable[OpInvokeVirtualRange+Opcode(i)] = OpcodeInfo{"invoke-" + kind + "/range", Format3rc, flags, VerifyRegBMethod | VerifyVarArgRange}
	}
	for i, u := range unaryOps {
		a, b := ra, rb
		if u.aWide {
			a = raw
		}
		if u.bWide {
			b = rbw
		}
		opcodeTable[OpNegInt+Opcode(i)] = OpcodeInfo{u.name, Format12x, cont, a | b}
	}
	for i, op := range binaryOps {
		flags := cont
		if op.trap {
			flags = throw
		}
		v, v2 := ra|rb|rc, ra|rb
		if op.wide {
			v, v2 = raw|rbw|rcw, raw|rbw
			if op.shift {
				v, v2 = raw|rbw|rc, raw|rb
			}
		}
		opcodeTable[OpAddInt+Opcode(i)] = OpcodeInfo{op.name, Format23x, flags, v}
		opcodeTable[OpAddInt2Addr+Opcode(i)] = OpcodeInfo{op.name + "/2addr", Format12x, flags, v2}
	}
	for i, name := range literalOps {
		flags := cont
		if name == "div-int" || name == "rem-int" {
			flags = throw
		}
		if i < 8 {
			lit16 := name + "/lit16"
			if name == "rsub-int" {
				lit16 = name
			}
			opcodeTable[OpAddIntLit16+Opcode(i)] = OpcodeInfo{lit16, Format22s, flags, ra | rb}
		}
		opcodeTable[OpAddIntLit8+Opcode(i)] = OpcodeInfo{name + "/lit8", Format22b, flags, ra | rb}
	}
	for name, op := range mnemonics() {
		byName[name] = op
	}
}

var byName = make(map[string]Opcode)

func mnemonics() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unused-%02x", byte(op)), Format: Format10x, Verify: VerifyError}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Valid reports whether the opcode is assigned.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsInvoke reports whether op is one of the invoke family.
func (op Opcode) IsInvoke() bool {
	return op.Info().Flags&FlagInvoke != 0
}

// IsReturn reports whether op returns from the method.
func (op Opcode) IsReturn() bool {
	return op.Info().Flags&FlagReturn != 0
}

// IsRange reports whether op uses the 3rc register-range encoding.
func (op Opcode) IsRange() bool {
	return op.Info().Format == Format3rc
}
