package verifier

import (
	"sort"
	"sync"
)

// ClassRef names a class by the location of its file and its descriptor.
type ClassRef struct {
	Location   string `cbor:"1,keyasint" yaml:"location"`
	Descriptor string `cbor:"2,keyasint" yaml:"descriptor"`
}

func (r ClassRef) String() string { return r.Location + ":" + r.Descriptor }

// MethodRecord is the outcome of verifying one method.
type MethodRecord struct {
	Ref             MethodRef     `cbor:"1,keyasint" yaml:"ref"`
	Class           string        `cbor:"2,keyasint" yaml:"class"`
	Method          string        `cbor:"3,keyasint" yaml:"method"`
	Outcome         Outcome       `cbor:"4,keyasint" yaml:"outcome"`
	Failures        []Failure     `cbor:"5,keyasint,omitempty" yaml:"failures,omitempty"`
	RuntimeThrowPCs []int         `cbor:"6,keyasint,omitempty" yaml:"runtime_throws,omitempty"`
	Aux             *MethodResult `cbor:"7,keyasint,omitempty" yaml:"aux,omitempty"`
}

// table is a map guarded by its own reader/writer lock.
type table[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func (t *table[K, V]) init() {
	t.mu.Lock()
	t.m = make(map[K]V)
	t.mu.Unlock()
}

func (t *table[K, V]) put(k K, v V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		return false
	}
	t.m[k] = v
	return true
}

func (t *table[K, V]) get(k K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[k]
	return v, ok
}

func (t *table[K, V]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

func (t *table[K, V]) values() []V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vs := make([]V, 0, len(t.m))
	for _, v := range t.m {
		vs = append(vs, v)
	}
	return vs
}

func (t *table[K, V]) teardown() {
	t.mu.Lock()
	t.m = nil
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Results are the lookup tables shared by every verifier worker of a session
// and read by later compiler stages. Each table has its own lock. Inserts
// replace any previous entry. After Close, inserts are dropped and lookups
// find nothing.
type Results struct {
	records   table[MethodRef, *MethodRecord]
	gcMaps    table[MethodRef, []byte]
	safeCasts table[MethodRef, []int]
	devirt    table[MethodRef, map[int]DevirtTarget]
	reverify  table[MethodRef, []int]
	rejected  table[ClassRef, struct{}]
}

// NewResults creates empty tables.
func NewResults() *Results {
	r := new(Results)
	r.records.init()
	r.gcMaps.init()
	r.safeCasts.init()
	r.devirt.init()
	r.reverify.init()
	r.rejected.init()
	return r
}

// Close tears the tables down.
func (r *Results) Close() {
	r.records.teardown()
	r.gcMaps.teardown()
	r.safeCasts.teardown()
	r.devirt.teardown()
	r.reverify.teardown()
	r.rejected.teardown()
}

// Record stores the outcome of a method and files its auxiliary maps.
// Soft-failed methods are marked for runtime re-verification.
func (r *Results) Record(rec *MethodRecord) {
	if !r.records.put(rec.Ref, rec) {
		log.Warningf("results closed, dropping %s", rec.Method)
		return
	}
	if rec.Outcome == SoftFailure {
		r.reverify.put(rec.Ref, rec.RuntimeThrowPCs)
	}
	if aux := rec.Aux; aux != nil {
		r.gcMaps.put(rec.Ref, aux.GcMap)
		if len(aux.SafeCasts) > 0 {
			r.safeCasts.put(rec.Ref, aux.SafeCasts)
		}
		if len(aux.Devirt) > 0 {
			r.devirt.put(rec.Ref, aux.Devirt)
		}
	}
}

// Method returns the recorded outcome of a method.
func (r *Results) Method(ref MethodRef) (*MethodRecord, bool) {
	return r.records.get(ref)
}

// Methods returns every record, ordered by reference.
func (r *Results) Methods() []*MethodRecord {
	recs := r.records.values()
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Ref, recs[j].Ref
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.Index < b.Index
	})
	return recs
}

// GcMap returns the encoded GC map of a method.
func (r *Results) GcMap(ref MethodRef) ([]byte, bool) { return r.gcMaps.get(ref) }

// IsSafeCast reports whether the check-cast at pc in a method can be elided.
func (r *Results) IsSafeCast(ref MethodRef, pc int) bool {
	pcs, ok := r.safeCasts.get(ref)
	if !ok {
		return false
	}
	return (&MethodResult{SafeCasts: pcs}).IsSafeCast(pc)
}

// DevirtTarget returns the concrete method called by the invoke at pc.
func (r *Results) DevirtTarget(ref MethodRef, pc int) (DevirtTarget, bool) {
	m, ok := r.devirt.get(ref)
	if !ok {
		return DevirtTarget{}, false
	}
	t, ok := m[pc]
	return t, ok
}

// NeedsReverification reports whether a method must be verified again at
// runtime, with the instructions already known to throw.
func (r *Results) NeedsReverification(ref MethodRef) ([]int, bool) {
	return r.reverify.get(ref)
}

// AddRejectedClass marks a class as permanently rejected.
func (r *Results) AddRejectedClass(ref ClassRef) {
	r.rejected.put(ref, struct{}{})
}

// IsClassRejected reports whether a class was rejected.
func (r *Results) IsClassRejected(ref ClassRef) bool {
	_, ok := r.rejected.get(ref)
	return ok
}

// RejectedClasses returns the rejected classes, sorted.
func (r *Results) RejectedClasses() []ClassRef {
	r.rejected.mu.RLock()
	refs := make([]ClassRef, 0, len(r.rejected.m))
	for ref := range r.rejected.m {
		refs = append(refs, ref)
	}
	r.rejected.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Location != refs[j].Location {
			return refs[i].Location < refs[j].Location
		}
		return refs[i].Descriptor < refs[j].Descriptor
	})
	return refs
}

// Counts returns the number of recorded methods and rejected classes.
func (r *Results) Counts() (methods, rejected int) {
	return r.records.len(), r.rejected.len()
}
