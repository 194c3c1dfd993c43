package dex

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// AsmOptions configure register naming for Assemble. Parameter registers pN
// map to v(Registers-Ins+N).
type AsmOptions struct {
	Registers int
	Ins       int
}

type asmCatch struct {
	typ        string // empty for catch-all
	start, end string
	handler    string
}

type assembler struct {
	file    *File
	opts    AsmOptions
	b       *Builder
	labels  map[string]*Label
	sites   map[string]*Label
	catches []asmCatch
	outs    int
	lineNo  int
	recent  string // label bound since the last instruction
}

// Assemble translates smali-like source into a code item whose pool
// references are interned into file.
//
//	const/4 v0, 0
//	if-eqz p0, :done
//	invoke-virtual {p0}, Ljava/lang/Object;->hashCode()I
//	:done
//	return-void
func Assemble(file *File, src string, opts AsmOptions) (*CodeItem, error) {
	a := &assembler{
		file:   file,
		opts:   opts,
		b:      NewBuilder(),
		labels: make(map[string]*Label),
		sites:  make(map[string]*Label),
	}
	lines := strings.Split(src, "\n")
	for i := 0; i < len(lines); i++ {
		a.lineNo = i + 1
		line := stripComment(lines[i])
		if line == "" {
			continue
		}
		var err error
		switch {
		case strings.HasPrefix(line, ":"):
			if isPayloadDirective(nextLine(lines, i+1)) {
				a.b.AlignPayload()
			}
			a.b.Mark(a.label(line[1:]))
			a.recent = line[1:]
		case strings.HasPrefix(line, ".packed-switch"),
			strings.HasPrefix(line, ".sparse-switch"),
			strings.HasPrefix(line, ".array-data"):
			i, err = a.payload(lines, i, line)
		case strings.HasPrefix(line, ".catch"):
			err = a.catch(line)
		case strings.HasPrefix(line, "."):
			err = fmt.Errorf("unknown directive %q", line)
		default:
			err = a.instruction(line)
			a.recent = ""
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", a.lineNo, err)
		}
	}
	insns, err := a.b.Build()
	if err != nil {
		return nil, err
	}
	code := &CodeItem{
		RegistersSize: uint16(opts.Registers),
		InsSize:       uint16(opts.Ins),
		OutsSize:      uint16(a.outs),
		Insns:         insns,
	}
	if err := a.buildTries(code); err != nil {
		return nil, err
	}
	return code, nil
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return strings.TrimSpace(line)
}

func nextLine(lines []string, from int) string {
	for ; from < len(lines); from++ {
		if l := stripComment(lines[from]); l != "" {
			return l
		}
	}
	return ""
}

func isPayloadDirective(line string) bool {
	return strings.HasPrefix(line, ".packed-switch") ||
		strings.HasPrefix(line, ".sparse-switch") ||
		strings.HasPrefix(line, ".array-data")
}

func (a *assembler) label(name string) *Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.b.NewLabel(name)
		a.labels[name] = l
	}
	return l
}

// site returns the label bound to the switch instruction referencing the
// payload named table.
func (a *assembler) site(table string) *Label {
	l, ok := a.sites[table]
	if !ok {
		l = a.b.NewLabel(table + "@site")
		a.sites[table] = l
	}
	return l
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

func splitOperands(s string) []string {
	var out []string
	depth, start, inQuote := 0, 0, false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '{':
			if !inQuote {
				depth++
			}
		case '}':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func (a *assembler) reg(s string) (uint16, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("bad register %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad register %q", s)
	}
	switch s[0] {
	case 'v':
		return uint16(n), nil
	case 'p':
		return uint16(a.opts.Registers - a.opts.Ins + n), nil
	}
	return 0, fmt.Errorf("bad register %q", s)
}

func (a *assembler) regs(ops []string) ([]uint16, error) {
	out := make([]uint16, len(ops))
	for i, s := range ops {
		r, err := a.reg(s)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func literal(s string) (int64, error) {
	s = strings.TrimPrefix(s, "#")
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			return 0, fmt.Errorf("bad literal %q", s)
		}
		v = int64(u)
	}
	return v, nil
}

func (a *assembler) target(s string) (*Label, error) {
	if !strings.HasPrefix(s, ":") {
		return nil, fmt.Errorf("expected label, got %q", s)
	}
	return a.label(s[1:]), nil
}

// poolRef interns a reference operand. "@N" passes a raw index through.
func (a *assembler) poolRef(s string, verify VerifyFlags) (uint32, error) {
	if strings.HasPrefix(s, "@") {
		v, err := strconv.ParseUint(s[1:], 0, 32)
		if err != nil {
			return 0, fmt.Errorf("bad index %q", s)
		}
		return uint32(v), nil
	}
	switch {
	case verify&VerifyRegBString != 0:
		str, err := strconv.Unquote(s)
		if err != nil {
			return 0, fmt.Errorf("bad string literal %s", s)
		}
		return a.file.InternString(str), nil
	case verify&(VerifyRegBField|VerifyRegCField) != 0:
		id, err := parseFieldRef(s)
		if err != nil {
			return 0, err
		}
		return a.file.InternField(id), nil
	case verify&VerifyRegBMethod != 0:
		id, err := parseMethodRef(s)
		if err != nil {
			return 0, err
		}
		return a.file.InternMethod(id), nil
	default:
		if _, err := SplitDescriptors(s); err != nil {
			return 0, err
		}
		return a.file.InternType(s), nil
	}
}

func parseFieldRef(s string) (FieldID, error) {
	arrow := strings.Index(s, "->")
	colon := strings.LastIndexByte(s, ':')
	if arrow < 0 || colon < arrow {
		return FieldID{}, fmt.Errorf("bad field reference %q", s)
	}
	return FieldID{Class: s[:arrow], Name: s[arrow+2 : colon], Type: s[colon+1:]}, nil
}

func parseMethodRef(s string) (MethodID, error) {
	arrow := strings.Index(s, "->")
	paren := strings.IndexByte(s, '(')
	if arrow < 0 || paren < arrow {
		return MethodID{}, fmt.Errorf("bad method reference %q", s)
	}
	proto, err := ParseProto(s[paren:])
	if err != nil {
		return MethodID{}, err
	}
	return MethodID{Class: s[:arrow], Name: s[arrow+2 : paren], Proto: proto}, nil
}

// argList parses "{v0, v1}" or "{v0 .. v3}".
func (a *assembler) argList(s string) (regs []uint16, rangeStart uint16, count int, isRange bool, err error) {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, 0, 0, false, fmt.Errorf("expected register list, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, 0, 0, false, nil
	}
	if lo, hi, ok := strings.Cut(inner, ".."); ok {
		first, err := a.reg(strings.TrimSpace(lo))
		if err != nil {
			return nil, 0, 0, false, err
		}
		last, err := a.reg(strings.TrimSpace(hi))
		if err != nil {
			return nil, 0, 0, false, err
		}
		if last < first {
			return nil, 0, 0, false, fmt.Errorf("empty register range %q", s)
		}
		return nil, first, int(last-first) + 1, true, nil
	}
	regs, err = a.regs(splitOperands(inner))
	return regs, 0, len(regs), false, err
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (a *assembler) instruction(line string) error {
	name, rest, _ := strings.Cut(line, " ")
	op, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("unknown instruction %q", name)
	}
	ops := splitOperands(rest)
	info := op.Info()
	want := map[Format]int{
		Format10x: 0, Format11x: 1, Format10t: 1, Format20t: 1, Format30t: 1,
		Format23x: 3, Format22b: 3, Format22s: 3, Format22t: 3, Format22c: 3,
	}
	n, fixed := want[info.Format]
	if !fixed {
		n = 2
	}
	if len(ops) != n {
		return fmt.Errorf("%s takes %d operands, got %d", name, n, len(ops))
	}
	b := a.b

	switch info.Format {
	case Format10x:
		b.Op(op)
	case Format10t, Format20t, Format30t:
		t, err := a.target(ops[0])
		if err != nil {
			return err
		}
		b.Goto(op, t)
	case Format11x:
		r, err := a.reg(ops[0])
		if err != nil {
			return err
		}
		b.Op11(op, r)
	case Format12x, Format22x, Format32x:
		r, err := a.regs(ops)
		if err != nil {
			return err
		}
		switch info.Format {
		case Format12x:
			b.Op12(op, r[0], r[1])
		case Format22x:
			b.Op22x(op, r[0], r[1])
		default:
			b.Op32x(op, r[0], r[1])
		}
	case Format11n, Format21s, Format21h, Format31i, Format51l:
		r, err := a.reg(ops[0])
		if err != nil {
			return err
		}
		v, err := literal(ops[1])
		if err != nil {
			return err
		}
		switch info.Format {
		case Format11n:
			b.Const4(r, int32(v))
		case Format21s:
			b.Op21(op, r, int32(v))
		case Format21h:
			shift := 16
			if op == OpConstWideHigh16 {
				shift = 48
			}
			b.Op21(op, r, int32(v>>shift))
		case Format31i:
			b.Op31(op, r, int32(v))
		default:
			b.ConstWide(r, v)
		}
	case Format21t, Format31t:
		r, err := a.reg(ops[0])
		if err != nil {
			return err
		}
		t, err := a.target(ops[1])
		if err != nil {
			return err
		}
		if info.Format == Format21t {
			b.IfZ(op, r, t)
			break
		}
		if op == OpPackedSwitch || op == OpSparseSwitch {
			b.Mark(a.site(ops[1][1:]))
		}
		b.PayloadRef(op, r, t)
	case Format21c, Format31c:
		r, err := a.reg(ops[0])
		if err != nil {
			return err
		}
		idx, err := a.poolRef(ops[1], info.Verify)
		if err != nil {
			return err
		}
		if info.Format == Format21c {
			b.Op21(op, r, int32(idx))
		} else {
			b.Op31(op, r, int32(idx))
		}
	case Format23x:
		r, err := a.regs(ops)
		if err != nil {
			return err
		}
		b.Op23(op, r[0], r[1], r[2])
	case Format22b, Format22s:
		r, err := a.regs(ops[:2])
		if err != nil {
			return err
		}
		v, err := literal(ops[2])
		if err != nil {
			return err
		}
		b.Op22(op, r[0], r[1], int32(v))
	case Format22t:
		r, err := a.regs(ops[:2])
		if err != nil {
			return err
		}
		t, err := a.target(ops[2])
		if err != nil {
			return err
		}
		b.If(op, r[0], r[1], t)
	case Format22c:
		r, err := a.regs(ops[:2])
		if err != nil {
			return err
		}
		idx, err := a.poolRef(ops[2], info.Verify)
		if err != nil {
			return err
		}
		b.Op22(op, r[0], r[1], int32(idx))
	case Format35c, Format3rc:
		regs, first, count, isRange, err := a.argList(ops[0])
		if err != nil {
			return err
		}
		idx, err := a.poolRef(ops[1], info.Verify)
		if err != nil {
			return err
		}
		if count > a.outs && op.IsInvoke() {
			a.outs = count
		}
		if info.Format == Format35c {
			if isRange {
				return fmt.Errorf("%s takes a register list, not a range", name)
			}
			b.Invoke(op, uint16(idx), regs...)
		} else {
			if !isRange && count > 0 {
				first = regs[0]
				for i, r := range regs {
					if int(r) != int(first)+i {
						return fmt.Errorf("%s registers must be contiguous", name)
					}
				}
			}
			b.InvokeRange(op, uint16(idx), first, count)
		}
	default:
		return fmt.Errorf("%s: unsupported format", name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payload directives
// ---------------------------------------------------------------------------

// payload consumes a directive block starting at lines[i] and returns the
// index of its .end line.
func (a *assembler) payload(lines []string, i int, head string) (int, error) {
	kind, arg, _ := strings.Cut(strings.TrimPrefix(head, "."), " ")
	var body []string
	end := -1
	for j := i + 1; j < len(lines); j++ {
		l := stripComment(lines[j])
		if l == "" {
			continue
		}
		if l == ".end "+kind {
			end = j
			break
		}
		body = append(body, l)
	}
	if end < 0 {
		return i, fmt.Errorf("missing .end %s", kind)
	}
	table := a.recent
	a.recent = ""
	switch kind {
	case "packed-switch":
		first, err := literal(strings.TrimSpace(arg))
		if err != nil {
			return end, err
		}
		targets := make([]*Label, len(body))
		for k, l := range body {
			if targets[k], err = a.target(l); err != nil {
				return end, err
			}
		}
		if table == "" {
			return end, fmt.Errorf("packed-switch payload needs a label")
		}
		a.b.PackedSwitchPayload(a.site(table), int32(first), targets)
	case "sparse-switch":
		keys := make([]int32, len(body))
		targets := make([]*Label, len(body))
		for k, l := range body {
			key, tgt, ok := strings.Cut(l, "->")
			if !ok {
				return end, fmt.Errorf("bad sparse-switch entry %q", l)
			}
			v, err := literal(strings.TrimSpace(key))
			if err != nil {
				return end, err
			}
			keys[k] = int32(v)
			if targets[k], err = a.target(strings.TrimSpace(tgt)); err != nil {
				return end, err
			}
		}
		if table == "" {
			return end, fmt.Errorf("sparse-switch payload needs a label")
		}
		a.b.SparseSwitchPayload(a.site(table), keys, targets)
	case "array-data":
		width, err := literal(strings.TrimSpace(arg))
		if err != nil || width < 1 || width > 8 {
			return end, fmt.Errorf("bad array-data width %q", arg)
		}
		var data []byte
		for _, l := range body {
			for _, f := range strings.Fields(l) {
				v, err := literal(f)
				if err != nil {
					return end, err
				}
				var buf [8]byte
				binary.LittleEndian.PutUint64(buf[:], uint64(v))
				data = append(data, buf[:width]...)
			}
		}
		a.b.ArrayDataPayload(int(width), len(data)/int(width), data)
	}
	return end, nil
}

// ---------------------------------------------------------------------------
// Try blocks
// ---------------------------------------------------------------------------

// catch parses ".catch Ltype; {:start .. :end} :handler" and
// ".catchall {:start .. :end} :handler".
func (a *assembler) catch(line string) error {
	fields := strings.Fields(line)
	var c asmCatch
	switch fields[0] {
	case ".catch":
		if len(fields) != 6 {
			return fmt.Errorf("bad .catch %q", line)
		}
		c.typ = fields[1]
		fields = fields[2:]
	case ".catchall":
		if len(fields) != 5 {
			return fmt.Errorf("bad .catchall %q", line)
		}
		fields = fields[1:]
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	if fields[1] != ".." || !strings.HasPrefix(fields[0], "{:") || !strings.HasSuffix(fields[2], "}") {
		return fmt.Errorf("bad try range in %q", line)
	}
	c.start = strings.TrimPrefix(fields[0], "{:")
	c.end = strings.TrimSuffix(strings.TrimPrefix(fields[2], ":"), "}")
	c.handler = strings.TrimPrefix(fields[3], ":")
	a.catches = append(a.catches, c)
	return nil
}

func (a *assembler) buildTries(code *CodeItem) error {
	type span struct{ start, end int }
	index := make(map[span]int)
	var order []span
	for _, c := range a.catches {
		addr := func(name string) (int, error) {
			l, ok := a.labels[name]
			if !ok || !l.resolved {
				return 0, fmt.Errorf("catch label %q not defined", name)
			}
			return l.position, nil
		}
		start, err := addr(c.start)
		if err != nil {
			return err
		}
		end, err := addr(c.end)
		if err != nil {
			return err
		}
		handler, err := addr(c.handler)
		if err != nil {
			return err
		}
		s := span{start, end}
		h, ok := index[s]
		if !ok {
			h = len(code.Handlers)
			index[s] = h
			order = append(order, s)
			code.Handlers = append(code.Handlers, CatchHandler{CatchAllAddr: -1})
		}
		if c.typ == "" {
			code.Handlers[h].CatchAllAddr = int32(handler)
		} else {
			code.Handlers[h].Catches = append(code.Handlers[h].Catches,
				CatchPair{TypeIdx: a.file.InternType(c.typ), Addr: uint32(handler)})
		}
	}
	for _, s := range order {
		code.Tries = append(code.Tries, TryItem{
			StartAddr:  uint32(s.start),
			InsnCount:  uint16(s.end - s.start),
			HandlerIdx: index[s],
		})
	}
	return nil
}
