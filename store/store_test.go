package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/dexverify/verifier"
)

func sampleResults() *verifier.Results {
	r := verifier.NewResults()
	r.Record(&verifier.MethodRecord{
		Ref:     verifier.MethodRef{Location: "app.dex", Index: 1},
		Class:   "LFoo;",
		Method:  "LFoo;->run()V",
		Outcome: verifier.NoFailure,
		Aux: &verifier.MethodResult{
			GcMap:     []byte{verifier.GcMapFormatCompact8, 1, 1, 0, 0, 0x02},
			SafeCasts: []int{4},
			Devirt: map[int]verifier.DevirtTarget{
				6: {Ref: verifier.MethodRef{Location: "app.dex", Index: 7}, Method: "LBar;->get()I"},
			},
		},
	})
	r.Record(&verifier.MethodRecord{
		Ref:             verifier.MethodRef{Location: "app.dex", Index: 2},
		Class:           "LFoo;",
		Method:          "LFoo;->load()V",
		Outcome:         verifier.SoftFailure,
		Failures:        []verifier.Failure{{Kind: verifier.VerifyErrorNoMethod, PC: 3, Message: "missing"}},
		RuntimeThrowPCs: []int{3},
	})
	r.AddRejectedClass(verifier.ClassRef{Location: "app.dex", Descriptor: "LBad;"})
	return r
}

func TestRecordCodec(t *testing.T) {
	results := sampleResults()
	defer results.Close()
	for _, rec := range results.Methods() {
		data, err := MarshalRecord(rec)
		if err != nil {
			t.Fatalf("MarshalRecord failed: %v", err)
		}
		again, err := MarshalRecord(rec)
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.Equal(data, again) {
			t.Error("encoding is not deterministic")
		}
		got, err := UnmarshalRecord(data)
		if err != nil {
			t.Fatalf("UnmarshalRecord failed: %v", err)
		}
		if diff := cmp.Diff(rec, got); diff != "" {
			t.Errorf("record mismatch (-want +got):\n%s", diff)
		}
	}
	if _, err := UnmarshalRecord([]byte{0xff}); err == nil {
		t.Error("UnmarshalRecord should reject garbage")
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "db", "results.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	results := sampleResults()
	defer results.Close()
	if err := s.Save(ctx, "session-1", results); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Saving again replaces rows.
	if err := s.Save(ctx, "session-2", results); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	ref := verifier.MethodRef{Location: "app.dex", Index: 1}
	got, err := s.LoadMethod(ctx, ref)
	if err != nil {
		t.Fatalf("LoadMethod failed: %v", err)
	}
	want, _ := results.Method(ref)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded record mismatch (-want +got):\n%s", diff)
	}

	_, err = s.LoadMethod(ctx, verifier.MethodRef{Location: "app.dex", Index: 99})
	if !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("LoadMethod error = %v, want ErrMethodNotFound", err)
	}

	recs, err := s.MethodsOfClass(ctx, verifier.ClassRef{Location: "app.dex", Descriptor: "LFoo;"})
	if err != nil {
		t.Fatalf("MethodsOfClass failed: %v", err)
	}
	if len(recs) != 2 || recs[1].Outcome != verifier.SoftFailure {
		t.Errorf("MethodsOfClass = %+v", recs)
	}

	rejected, err := s.RejectedClasses(ctx)
	if err != nil {
		t.Fatalf("RejectedClasses failed: %v", err)
	}
	if diff := cmp.Diff([]verifier.ClassRef{{Location: "app.dex", Descriptor: "LBad;"}}, rejected); diff != "" {
		t.Errorf("rejected mismatch (-want +got):\n%s", diff)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if diff := cmp.Diff([]string{"session-1", "session-2"}, sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}
