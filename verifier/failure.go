package verifier

import "fmt"

// FailureKind classifies a single verification failure.
type FailureKind uint8

const (
	// VerifyErrorBadClassHard rejects the class outright.
	VerifyErrorBadClassHard FailureKind = iota
	// VerifyErrorBadClassSoft defers the method to runtime re-verification.
	VerifyErrorBadClassSoft
	VerifyErrorNoClass
	VerifyErrorNoField
	VerifyErrorNoMethod
	VerifyErrorAccessClass
	VerifyErrorAccessField
	VerifyErrorAccessMethod
	VerifyErrorClassChange
	VerifyErrorInstantiation
)

var failureKindNames = [...]string{
	"BAD_CLASS_HARD",
	"BAD_CLASS_SOFT",
	"NO_CLASS",
	"NO_FIELD",
	"NO_METHOD",
	"ACCESS_CLASS",
	"ACCESS_FIELD",
	"ACCESS_METHOD",
	"CLASS_CHANGE",
	"INSTANTIATION",
}

func (k FailureKind) String() string {
	if int(k) < len(failureKindNames) {
		return failureKindNames[k]
	}
	return fmt.Sprintf("FailureKind(%d)", uint8(k))
}

// MarshalYAML renders the kind by name in reports.
func (k FailureKind) MarshalYAML() (any, error) { return k.String(), nil }

// IsRuntimeThrow reports whether the failure names a linkage error that the
// runtime can raise at the failing instruction.
func (k FailureKind) IsRuntimeThrow() bool {
	return k >= VerifyErrorNoClass
}

// Failure is one recorded verification failure.
type Failure struct {
	Kind    FailureKind `yaml:"kind" cbor:"1,keyasint"`
	PC      int         `yaml:"pc" cbor:"2,keyasint"`
	Message string      `yaml:"message" cbor:"3,keyasint"`
}

func (f Failure) String() string {
	return fmt.Sprintf("[0x%x] %s: %s", f.PC, f.Kind, f.Message)
}

// Outcome is the aggregate result of verifying a method or class.
type Outcome uint8

const (
	NoFailure Outcome = iota
	SoftFailure
	HardFailure
)

var outcomeNames = [...]string{"verified", "soft-failure", "hard-failure"}

func (o Outcome) String() string { return outcomeNames[o] }

// MarshalYAML renders the outcome by name in reports.
func (o Outcome) MarshalYAML() (any, error) { return o.String(), nil }

// Worse returns the more severe of o and other.
func (o Outcome) Worse(other Outcome) Outcome {
	if other > o {
		return other
	}
	return o
}

// Options select the verification mode.
type Options struct {
	// AheadOfTime verifies for a compiler that cannot raise linkage errors;
	// those are recorded as soft failures instead.
	AheadOfTime bool
	// AllowSoftFailures permits soft failures in ahead-of-time mode. When
	// false every soft failure is promoted to a hard failure.
	AllowSoftFailures bool
	// GenerateAuxMaps builds the GC map, cast-elision set and
	// devirtualization map after a successful verification.
	GenerateAuxMaps bool
}

// DefaultOptions verifies ahead of time with soft failures allowed and
// auxiliary maps generated.
func DefaultOptions() Options {
	return Options{AheadOfTime: true, AllowSoftFailures: true, GenerateAuxMaps: true}
}

// ---------------------------------------------------------------------------
// Failure recording
// ---------------------------------------------------------------------------

// Fail records a failure at the current instruction. The kind actually
// recorded depends on the verification mode.
func (v *MethodVerifier) Fail(kind FailureKind, format string, args ...any) {
	if kind.IsRuntimeThrow() {
		if v.opts.AheadOfTime {
			kind = VerifyErrorBadClassSoft
		} else {
			v.haveRuntimeThrow = true
			v.pendingRuntimeThrow = true
			v.runtimeThrowPCs[v.workPC] = true
		}
	}
	if kind != VerifyErrorBadClassHard && v.opts.AheadOfTime && !v.opts.AllowSoftFailures {
		kind = VerifyErrorBadClassHard
	}
	switch kind {
	case VerifyErrorBadClassHard:
		v.haveHardFailure = true
	case VerifyErrorBadClassSoft:
		v.haveSoftFailure = true
	}
	f := Failure{Kind: kind, PC: v.workPC, Message: fmt.Sprintf(format, args...)}
	v.failures = append(v.failures, f)
	if kind == VerifyErrorBadClassHard {
		log.Debugf("%s: %s", v.methodName(), f)
	}
}

// Failures returns the failures recorded so far, in order.
func (v *MethodVerifier) Failures() []Failure { return v.failures }

// HasHardFailure reports whether verification must abort.
func (v *MethodVerifier) HasHardFailure() bool { return v.haveHardFailure }

// Outcome returns the aggregate kind of the recorded failures. Runtime-throw
// failures leave the method runnable, so they count as soft.
func (v *MethodVerifier) Outcome() Outcome {
	switch {
	case v.haveHardFailure:
		return HardFailure
	case v.haveSoftFailure || v.haveRuntimeThrow:
		return SoftFailure
	}
	return NoFailure
}

// RuntimeThrowPCs returns the instructions known to throw at runtime.
func (v *MethodVerifier) RuntimeThrowPCs() []int {
	return sortedPCs(v.runtimeThrowPCs)
}
