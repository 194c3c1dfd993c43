package verifier

// InstructionFlags is the per-code-unit bookkeeping of the verifier. Only
// units that start an instruction have a non-zero length.
type InstructionFlags struct {
	length uint32
	bits   uint8
}

const (
	flagInTry uint8 = 1 << iota
	flagBranchTarget
	flagCompileTimeInfoPoint
	flagVisited
	flagChanged
	flagReturn
)

func (f *InstructionFlags) LengthInCodeUnits() int { return int(f.length) }
func (f *InstructionFlags) IsOpcode() bool         { return f.length != 0 }

func (f *InstructionFlags) IsInTry() bool        { return f.bits&flagInTry != 0 }
func (f *InstructionFlags) IsBranchTarget() bool { return f.bits&flagBranchTarget != 0 }
func (f *InstructionFlags) IsVisited() bool      { return f.bits&flagVisited != 0 }
func (f *InstructionFlags) IsChanged() bool      { return f.bits&flagChanged != 0 }
func (f *InstructionFlags) IsReturn() bool       { return f.bits&flagReturn != 0 }

// IsCompileTimeInfoPoint reports a GC-safe point: the method entry,
// branches, switches and returns.
func (f *InstructionFlags) IsCompileTimeInfoPoint() bool {
	return f.bits&flagCompileTimeInfoPoint != 0
}

func (f *InstructionFlags) IsVisitedOrChanged() bool {
	return f.bits&(flagVisited|flagChanged) != 0
}

func (f *InstructionFlags) SetInTry()                { f.bits |= flagInTry }
func (f *InstructionFlags) SetBranchTarget()         { f.bits |= flagBranchTarget }
func (f *InstructionFlags) SetCompileTimeInfoPoint() { f.bits |= flagCompileTimeInfoPoint }
func (f *InstructionFlags) SetVisited()              { f.bits |= flagVisited }
func (f *InstructionFlags) SetChanged()              { f.bits |= flagChanged }
func (f *InstructionFlags) ClearChanged()            { f.bits &^= flagChanged }

// SetCompileTimeInfoPointAndReturn marks a return instruction.
func (f *InstructionFlags) SetCompileTimeInfoPointAndReturn() {
	f.bits |= flagCompileTimeInfoPoint | flagReturn
}

// String renders the flags as in a method dump: T in try, B branch target,
// G GC point, V visited, C changed.
func (f *InstructionFlags) String() string {
	if !f.IsOpcode() {
		return "     "
	}
	buf := []byte("-----")
	for i, c := range []struct {
		set  bool
		char byte
	}{
		{f.IsInTry(), 'T'},
		{f.IsBranchTarget(), 'B'},
		{f.IsCompileTimeInfoPoint(), 'G'},
		{f.IsVisited(), 'V'},
		{f.IsChanged(), 'C'},
	} {
		if c.set {
			buf[i] = c.char
		}
	}
	return string(buf)
}
