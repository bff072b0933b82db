// Package identity mints opaque, prefixed, collision-resistant IDs for
// every entity VoxCortex creates (trc_, evt_, evd_, blf_, ...).
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Prefix constants for the entity kinds this system mints IDs for.
const (
	PrefixTrace     = "trc"
	PrefixEvent     = "evt"
	PrefixEvidence  = "evd"
	PrefixBelief    = "blf"
	PrefixHypothesis = "hyp"
)

// New returns "{prefix}_{hex}" where hex is the 128 bits of a V4 UUID
// (generated from crypto/rand by google/uuid) encoded without separators.
// Collision probability is the same as a random UUID's: negligible across
// the system's lifetime. IDs are opaque — callers must not parse them.
func New(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(id[:]))
}
