package verifier

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResultsConcurrentRecord(t *testing.T) {
	r := NewResults()
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := MethodRef{Location: "a.dex", Index: uint32(i)}
			rec := &MethodRecord{
				Ref:     ref,
				Method:  fmt.Sprintf("LFoo;->m%d()V", i),
				Outcome: NoFailure,
				Aux: &MethodResult{
					GcMap:     []byte{GcMapFormatCompact8, 0, 0, 0},
					SafeCasts: []int{i},
					Devirt:    map[int]DevirtTarget{2: {Method: "LBar;->run()V"}},
				},
			}
			if i%2 == 1 {
				rec.Outcome = SoftFailure
				rec.RuntimeThrowPCs = []int{4}
			}
			r.Record(rec)
			// Readers run alongside writers.
			r.IsSafeCast(ref, i)
			r.IsClassRejected(ClassRef{Location: "a.dex", Descriptor: "LFoo;"})
		}(i)
	}
	wg.Wait()

	methods, rejected := r.Counts()
	if methods != 16 || rejected != 0 {
		t.Fatalf("Counts = %d, %d, want 16, 0", methods, rejected)
	}
	recs := r.Methods()
	for i, rec := range recs {
		if rec.Ref.Index != uint32(i) {
			t.Fatalf("Methods not sorted: index %d at %d", rec.Ref.Index, i)
		}
	}
	ref := MethodRef{Location: "a.dex", Index: 3}
	if !r.IsSafeCast(ref, 3) || r.IsSafeCast(ref, 4) {
		t.Error("IsSafeCast mismatch")
	}
	if tgt, ok := r.DevirtTarget(ref, 2); !ok || tgt.Method != "LBar;->run()V" {
		t.Errorf("DevirtTarget = %+v, %v", tgt, ok)
	}
	if _, ok := r.GcMap(ref); !ok {
		t.Error("missing gc map")
	}
	if pcs, ok := r.NeedsReverification(ref); !ok || !cmp.Equal(pcs, []int{4}) {
		t.Errorf("NeedsReverification = %v, %v", pcs, ok)
	}
	if _, ok := r.NeedsReverification(MethodRef{Location: "a.dex", Index: 2}); ok {
		t.Error("verified method should not need reverification")
	}
}

func TestResultsRejectedAndClose(t *testing.T) {
	r := NewResults()
	r.AddRejectedClass(ClassRef{Location: "b.dex", Descriptor: "LZ;"})
	r.AddRejectedClass(ClassRef{Location: "a.dex", Descriptor: "LY;"})
	r.AddRejectedClass(ClassRef{Location: "a.dex", Descriptor: "LX;"})
	want := []ClassRef{
		{Location: "a.dex", Descriptor: "LX;"},
		{Location: "a.dex", Descriptor: "LY;"},
		{Location: "b.dex", Descriptor: "LZ;"},
	}
	if diff := cmp.Diff(want, r.RejectedClasses()); diff != "" {
		t.Errorf("RejectedClasses mismatch (-want +got):\n%s", diff)
	}

	r.Close()
	if r.IsClassRejected(want[0]) {
		t.Error("lookups after Close should find nothing")
	}
	r.Record(&MethodRecord{Ref: MethodRef{Location: "a.dex"}})
	if n, _ := r.Counts(); n != 0 {
		t.Errorf("Record after Close stored %d records", n)
	}
}
