package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/dexverify/verifier"
)

// cborEncMode encodes canonically so equal records store identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalRecord serializes a method record to CBOR bytes.
func MarshalRecord(rec *verifier.MethodRecord) ([]byte, error) {
	return cborEncMode.Marshal(rec)
}

// UnmarshalRecord deserializes a method record from CBOR bytes.
func UnmarshalRecord(data []byte) (*verifier.MethodRecord, error) {
	var rec verifier.MethodRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record: %w", err)
	}
	return &rec, nil
}
