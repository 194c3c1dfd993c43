package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chazu/dexverify/driver"
	"github.com/chazu/dexverify/verifier"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

type report struct {
	Session string                  `yaml:"session"`
	Summary driver.Summary          `yaml:"summary"`
	Classes []*verifier.ClassReport `yaml:"classes"`
}

type textOptions struct {
	color bool
	dump  bool
}

func newReport(session string, classes []*verifier.ClassReport) *report {
	return &report{Session: session, Summary: driver.Summarize(classes), Classes: classes}
}

func (r *report) writeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func (r *report) writeText(w io.Writer, opts textOptions) error {
	var b strings.Builder
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%s (%s): %s\n", c.Ref.Descriptor, c.Ref.Location, paint(c.Outcome, opts.color))
		writeFailures(&b, "  ", c.Failures)
		for _, m := range c.Methods {
			fmt.Fprintf(&b, "  %s: %s\n", m.Method, paint(m.Outcome, opts.color))
			writeFailures(&b, "    ", m.Failures)
			if opts.dump && m.Aux != nil {
				writeAux(&b, m.Aux)
			}
		}
	}
	fmt.Fprintf(&b, "summary: %d verified, %d soft failures, %d hard failures (session %s)\n",
		r.Summary.Verified, r.Summary.Soft, r.Summary.Hard, r.Session)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeFailures(b *strings.Builder, indent string, failures []verifier.Failure) {
	for _, f := range failures {
		fmt.Fprintf(b, "%s%s\n", indent, f)
	}
}

func writeAux(b *strings.Builder, aux *verifier.MethodResult) {
	if gc, err := verifier.DecodeGcMap(aux.GcMap); err != nil {
		fmt.Fprintf(b, "    gc map: %v\n", err)
	} else {
		for _, e := range gc.Entries {
			fmt.Fprintf(b, "    gc 0x%04x: %s\n", e.PC, registers(gc.References(e.PC)))
		}
	}
	if len(aux.SafeCasts) > 0 {
		pcs := make([]string, len(aux.SafeCasts))
		for i, pc := range aux.SafeCasts {
			pcs[i] = fmt.Sprintf("0x%04x", pc)
		}
		fmt.Fprintf(b, "    safe casts: %s\n", strings.Join(pcs, " "))
	}
	pcs := make([]int, 0, len(aux.Devirt))
	for pc := range aux.Devirt {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	for _, pc := range pcs {
		fmt.Fprintf(b, "    devirt 0x%04x: %s\n", pc, aux.Devirt[pc].Method)
	}
}

func registers(regs []int) string {
	if len(regs) == 0 {
		return "-"
	}
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = fmt.Sprintf("v%d", r)
	}
	return strings.Join(names, " ")
}

func paint(o verifier.Outcome, color bool) string {
	if !color {
		return o.String()
	}
	code := ansiGreen
	switch o {
	case verifier.SoftFailure:
		code = ansiYellow
	case verifier.HardFailure:
		code = ansiRed
	}
	return code + o.String() + ansiReset
}
