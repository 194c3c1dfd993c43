package verifier

import (
	"fmt"

	"github.com/chazu/dexverify/classlink"
)

// ClassReport is the outcome of verifying every method of a class.
type ClassReport struct {
	Ref      ClassRef        `yaml:"class"`
	Outcome  Outcome         `yaml:"outcome"`
	Failures []Failure       `yaml:"failures,omitempty"`
	Methods  []*MethodRecord `yaml:"methods,omitempty"`
}

// VerifyClass checks the class-level rules and then verifies each method
// with a fresh MethodVerifier. A hard failure in any method rejects the
// class; the remaining methods are still verified so that every failure is
// reported. When results is non-nil, every method record and the rejection
// are filed in it.
func VerifyClass(linker *classlink.Linker, c *classlink.Class, opts Options, results *Results) *ClassReport {
	rep := &ClassReport{Ref: ClassRef{Location: location(c), Descriptor: c.Descriptor}}
	rep.classChecks(c)
	if rep.Outcome != HardFailure {
		for _, m := range c.Methods {
			rec := VerifyMethod(linker, m, opts)
			rep.Methods = append(rep.Methods, rec)
			rep.Outcome = rep.Outcome.Worse(rec.Outcome)
			if results != nil {
				results.Record(rec)
			}
		}
	}
	switch rep.Outcome {
	case HardFailure:
		log.Errorf("rejected class %s", c.Descriptor)
		if results != nil {
			results.AddRejectedClass(rep.Ref)
		}
	case SoftFailure:
		log.Warningf("class %s has soft failures", c.Descriptor)
	default:
		log.Infof("verified class %s (%d methods)", c.Descriptor, len(rep.Methods))
	}
	return rep
}

func (rep *ClassReport) fail(format string, args ...any) {
	rep.Failures = append(rep.Failures, Failure{Kind: VerifyErrorBadClassHard, Message: fmt.Sprintf(format, args...)})
	rep.Outcome = HardFailure
}

func (rep *ClassReport) classChecks(c *classlink.Class) {
	if sup := c.Super; sup != nil {
		if sup.IsFinal() {
			rep.fail("class %s attempts to sub-class final class %s", c.Descriptor, sup.Descriptor)
		}
		if sup.IsInterface() {
			rep.fail("class %s has interface %s as its superclass", c.Descriptor, sup.Descriptor)
		}
	} else if !c.IsObject() {
		rep.fail("class %s has no superclass", c.Descriptor)
	}
	for _, iface := range c.Interfaces {
		if !iface.IsInterface() {
			rep.fail("class %s implements non-interface class %s", c.Descriptor, iface.Descriptor)
		}
	}
	seen := make(map[string]bool, len(c.Methods))
	for _, m := range c.Methods {
		key := m.Name + m.Signature()
		if seen[key] {
			rep.fail("duplicate method %s", m)
		}
		seen[key] = true
	}
}

// VerifyMethod verifies one method and summarizes the outcome.
func VerifyMethod(linker *classlink.Linker, m *classlink.Method, opts Options) *MethodRecord {
	v := NewMethodVerifier(linker, m, opts)
	outcome := v.Verify()
	return &MethodRecord{
		Ref:             RefOf(m),
		Class:           m.Class.Descriptor,
		Method:          m.String(),
		Outcome:         outcome,
		Failures:        v.Failures(),
		RuntimeThrowPCs: v.RuntimeThrowPCs(),
		Aux:             v.Result(),
	}
}

func location(c *classlink.Class) string {
	if c.File == nil {
		return ""
	}
	return c.File.Location
}
