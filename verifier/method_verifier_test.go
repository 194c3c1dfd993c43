package verifier

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/dexverify/classlink"
)

var publicStatic = []string{"public", "static"}

func TestNullOrStringJoin(t *testing.T) {
	v := verifyBody(t, "m", "(I)V", publicStatic, 3, `
		const/4 v1, 0
		if-eqz p0, :join
		const-string v1, "s"
		:join
		invoke-virtual {v1}, Ljava/lang/String;->length()I
		return-void
	`, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
	line := v.LineAt(5)
	if line == nil {
		t.Fatal("no line at join point")
	}
	if got, want := line.Get(1), v.Cache().JavaLangString(); got != want {
		t.Errorf("v1 at join = %s, want %s", got, want)
	}
}

func TestConstructorAliases(t *testing.T) {
	v := verifyBody(t, "make", "()Lpkg/A;", publicStatic, 2, `
		new-instance v0, Lpkg/B;
		move-object v1, v0
		invoke-direct {v0}, Lpkg/B;-><init>()V
		invoke-virtual {v0}, Lpkg/A;->get()I
		invoke-virtual {v1}, Lpkg/A;->get()I
		return-object v1
	`, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
	line := v.LineAt(6)
	if line == nil {
		t.Fatal("no line at first call after constructor")
	}
	want := v.Cache().FromDescriptor("Lpkg/B;", true)
	for _, reg := range []int{0, 1} {
		if got := line.Get(reg); got != want {
			t.Errorf("v%d after constructor = %s, want %s", reg, got, want)
		}
	}

	res := v.Result()
	if res == nil {
		t.Fatal("no auxiliary maps")
	}
	target, ok := res.Devirt[6]
	if !ok {
		t.Fatalf("call at 6 not devirtualized: %v", res.Devirt)
	}
	if target.Method != "Lpkg/A;->get()I" {
		t.Errorf("devirtualized to %s", target.Method)
	}
}

func TestUninitializedUse(t *testing.T) {
	v := verifyBody(t, "make", "()V", publicStatic, 1, `
		new-instance v0, Lpkg/B;
		invoke-virtual {v0}, Lpkg/A;->get()I
		return-void
	`, DefaultOptions())
	if v.Outcome() != HardFailure {
		t.Errorf("Outcome = %s, want %s", v.Outcome(), HardFailure)
	}
}

func TestConstructorMustInitializeThis(t *testing.T) {
	v := verifyBody(t, "<init>", "()V", []string{"public"}, 1, `
		return-void
	`, DefaultOptions())
	if !hasFailure(v, VerifyErrorBadClassHard, "without calling superclass constructor") {
		t.Errorf("missing constructor failure, got:\n%s", failureDump(v))
	}
}

func TestExceptionHandlerSeeding(t *testing.T) {
	tests := []struct {
		name  string
		catch string
		want  string
	}{
		{"typed", ".catch Ljava/io/IOException; {:start .. :end} :handler", classlink.IOExceptionDescriptor},
		{"catch-all", ".catchall {:start .. :end} :handler", classlink.ThrowableDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := verifyBody(t, "m", "()Ljava/lang/Object;", publicStatic, 1, `
				:start
				const/4 v0, 1
				invoke-static {v0}, Ljava/lang/String;->valueOf(I)Ljava/lang/String;
				:end
				move-result-object v0
				return-object v0
				:handler
				move-exception v0
				return-object v0
				`+tt.catch, DefaultOptions())
			if v.Outcome() != NoFailure {
				t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
			}
			line := v.LineAt(7)
			if line == nil {
				t.Fatal("no line at handler return")
			}
			if got, want := line.Get(0), v.Cache().FromDescriptor(tt.want, false); got != want {
				t.Errorf("exception register = %s, want %s", got, want)
			}
		})
	}
}

func TestWidePairBroken(t *testing.T) {
	v := verifyBody(t, "m", "()J", publicStatic, 2, `
		const-wide v0, 5
		const/4 v1, 0
		return-wide v0
	`, DefaultOptions())
	if v.Outcome() != HardFailure {
		t.Errorf("Outcome = %s, want %s:\n%s", v.Outcome(), HardFailure, failureDump(v))
	}
	ok := verifyBody(t, "m", "()J", publicStatic, 2, `
		const-wide v0, 5
		return-wide v0
	`, DefaultOptions())
	if ok.Outcome() != NoFailure {
		t.Errorf("Outcome = %s, failures:\n%s", ok.Outcome(), failureDump(ok))
	}
}

func TestStructuralFailures(t *testing.T) {
	tests := []struct {
		name string
		regs int
		code string
		want string
	}{
		{"register out of range", 1, "const/4 v3, 0\nreturn-void", "register index out of range"},
		{"walk off end", 1, "const/4 v0, 0", "walk off end of code area"},
		{"move-result without invoke", 1, "move-result v0\nreturn-void", "copyRes1"},
		{"move-exception outside handler", 1, "const/4 v0, 0\nmove-exception v0\nreturn-void", "move-exception"},
		{"new-instance of array", 1, "new-instance v0, [I\nreturn-void", "can't call new-instance"},
		{"new-array of class", 2, "const/4 v0, 1\nnew-array v1, v0, Lpkg/A;\nreturn-void", "not an array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := verifyBody(t, "m", "()V", publicStatic, tt.regs, tt.code, DefaultOptions())
			if v.Outcome() != HardFailure {
				t.Fatalf("Outcome = %s, want %s", v.Outcome(), HardFailure)
			}
			if !hasFailure(v, VerifyErrorBadClassHard, tt.want) {
				t.Errorf("no failure mentioning %q, got:\n%s", tt.want, failureDump(v))
			}
		})
	}
}

func TestFailureModes(t *testing.T) {
	code := `
		invoke-static {}, Lpkg/A;->missing()V
		return-void
	`
	tests := []struct {
		name        string
		opts        Options
		want        Outcome
		wantThrowAt []int
	}{
		{"ahead of time", DefaultOptions(), SoftFailure, nil},
		{"ahead of time strict", Options{AheadOfTime: true}, HardFailure, nil},
		{"runtime", Options{}, SoftFailure, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := verifyBody(t, "m", "()V", publicStatic, 0, code, tt.opts)
			if v.Outcome() != tt.want {
				t.Errorf("Outcome = %s, want %s:\n%s", v.Outcome(), tt.want, failureDump(v))
			}
			if diff := cmp.Diff(tt.wantThrowAt, v.RuntimeThrowPCs(), cmpEmpty); diff != "" {
				t.Errorf("runtime throws mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

var cmpEmpty = cmp.FilterValues(func(a, b []int) bool { return len(a) == 0 && len(b) == 0 }, cmp.Ignore())

func TestSafeCasts(t *testing.T) {
	v := verifyBody(t, "m", "(Lpkg/B;)Lpkg/A;", publicStatic, 1, `
		check-cast p0, Lpkg/A;
		return-object p0
	`, DefaultOptions())
	if !v.Result().IsSafeCast(0) {
		t.Errorf("upcast should be elided, safe casts = %v", v.Result().SafeCasts)
	}

	v = verifyBody(t, "m", "(Lpkg/A;)Lpkg/A;", publicStatic, 1, `
		check-cast p0, Lpkg/B;
		return-object p0
	`, DefaultOptions())
	if v.Result().IsSafeCast(0) {
		t.Error("downcast should not be elided")
	}
}

func TestInstanceOfRefinesBranch(t *testing.T) {
	v := verifyBody(t, "m", "(Lpkg/A;)V", publicStatic, 2, `
		instance-of v0, p0, Lpkg/B;
		if-eqz v0, :out
		check-cast p0, Lpkg/B;
		:out
		return-void
	`, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
	if !v.Result().IsSafeCast(4) {
		t.Errorf("cast after instance-of should be elided, safe casts = %v", v.Result().SafeCasts)
	}
}

func TestMonitors(t *testing.T) {
	ok := verifyBody(t, "m", "(Ljava/lang/Object;)V", publicStatic, 1, `
		monitor-enter p0
		monitor-exit p0
		return-void
	`, DefaultOptions())
	if ok.Outcome() != NoFailure {
		t.Errorf("Outcome = %s, failures:\n%s", ok.Outcome(), failureDump(ok))
	}

	held := verifyBody(t, "m", "(Ljava/lang/Object;)V", publicStatic, 1, `
		monitor-enter p0
		return-void
	`, DefaultOptions())
	if !hasFailure(held, VerifyErrorBadClassHard, "expected empty monitor stack") {
		t.Errorf("missing monitor failure, got:\n%s", failureDump(held))
	}
}

func TestLoopTerminates(t *testing.T) {
	v := verifyBody(t, "m", "(I)I", publicStatic, 2, `
		const/4 v0, 0
		:loop
		if-ge v0, p0, :done
		add-int/lit8 v0, v0, 1
		goto :loop
		:done
		return v0
	`, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Fatalf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
	if got := v.LineAt(1).Get(0); got != v.Cache().Integer() {
		t.Errorf("loop counter at head = %s, want Integer", got)
	}
}

func TestDump(t *testing.T) {
	v := verifyBody(t, "m", "()I", publicStatic, 2, `
		const/4 v0, 1
		return v0
	`, DefaultOptions())
	d := v.Dump()
	for _, want := range []string{"(regs=2 ins=0)", " 0000: ", " 0001: "} {
		if !strings.Contains(d, want) {
			t.Errorf("Dump missing %q:\n%s", want, d)
		}
	}
}

func TestInaccessibleParameterStillVerified(t *testing.T) {
	src := methodYAML("m", "(Lq/Hidden;)V", publicStatic, 2, `
		const/4 v0, 0
		add-int v0, v0, v1
		return-void
	`) + "  - name: Lq/Hidden;\n    access: [final]\n"
	for _, tt := range []struct {
		name string
		opts Options
	}{
		{"ahead of time", DefaultOptions()},
		{"runtime", Options{}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := link(t, src)
			v := NewMethodVerifier(l, findMethod(t, l, "Lt/T;", "m"), tt.opts)
			if got := v.Verify(); got != HardFailure {
				t.Errorf("Outcome = %s, want %s:\n%s", got, HardFailure, failureDump(v))
			}
			if !hasFailure(v, VerifyErrorBadClassHard, "expected Integer") {
				t.Errorf("add-int operand not checked:\n%s", failureDump(v))
			}
			if len(v.RuntimeThrowPCs()) != 0 {
				t.Errorf("runtime throws = %v, want none", v.RuntimeThrowPCs())
			}
		})
	}
}

func TestMonitorSurvivesSelfMove(t *testing.T) {
	v := verifyBody(t, "m", "(Ljava/lang/Object;)V", publicStatic, 1, `
		monitor-enter p0
		move-object p0, p0
		monitor-exit p0
		return-void
	`, DefaultOptions())
	if v.Outcome() != NoFailure {
		t.Errorf("Outcome = %s, failures:\n%s", v.Outcome(), failureDump(v))
	}
}

func TestInvokeArgumentCountMessage(t *testing.T) {
	v := verifyBody(t, "m", "()V", publicStatic, 1, `
		const/4 v0, 1
		invoke-static {v0}, Lpkg/A;->none()V
		return-void
	`, DefaultOptions())
	if !hasFailure(v, VerifyErrorBadClassHard, "expected 0 arguments, found 1") {
		t.Errorf("failures:\n%s", failureDump(v))
	}
}

func TestTooManyRegisterTypes(t *testing.T) {
	l, _ := link(t, methodYAML("m", "()V", publicStatic, 1, `
		const/4 v0, 5
		return-void
	`))
	v := NewMethodVerifier(l, findMethod(t, l, "Lt/T;", "m"), DefaultOptions())
	for c := int32(-1); v.Cache().Len() < maxEntries; c-- {
		v.Cache().FromCat1Const(c, true)
	}
	if got := v.Verify(); got != HardFailure {
		t.Errorf("Outcome = %s, want %s", got, HardFailure)
	}
	if !hasFailure(v, VerifyErrorBadClassHard, "too many register types") {
		t.Errorf("failures:\n%s", failureDump(v))
	}
}
