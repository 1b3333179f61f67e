// Package signature holds per-user voice signatures and the tiered store
// that keeps them durable: an in-process map for hot lookups, a local
// directory of per-user files for restart survival, and an optional remote
// object store for cross-instance durability.
package signature

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotEnrolled is returned when no signature exists for a user in any tier.
var ErrNotEnrolled = errors.New("signature: user not enrolled")

// Signature is an opaque numeric tensor describing a speaker's vocal
// identity. It is produced once by the voice-conversion engine's extraction
// call at enrollment and never mutated; re-enrollment replaces it wholesale.
type Signature struct {
	// Dims is the tensor shape, e.g. [1 256 1].
	Dims []int `msgpack:"dims"`

	// Data holds the flattened values, row-major.
	Data []float32 `msgpack:"data"`
}

// IsZero reports whether the signature carries no data.
func (s Signature) IsZero() bool {
	return len(s.Data) == 0
}

// Encode serializes the signature for the durable tiers.
func Encode(s Signature) ([]byte, error) {
	return msgpack.Marshal(&s)
}

// Decode parses a serialized signature.
func Decode(data []byte) (Signature, error) {
	var s Signature
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return Signature{}, fmt.Errorf("signature: decode: %w", err)
	}
	if s.IsZero() {
		return Signature{}, errors.New("signature: decode: empty signature")
	}
	return s, nil
}
