// Package names generates human-friendly default names for agents whose
// configuration does not set one.
package names

import (
	"fmt"
	"math/rand/v2"
)

var adjectives = []string{
	"punctual", "patient", "brisk", "steady", "quiet",
	"earnest", "nimble", "careful", "prompt", "candid",
	"diligent", "amiable", "orderly", "vigilant", "gracious",
}

var nouns = []string{
	"heron", "compass", "meridian", "quill", "lantern",
	"sundial", "almanac", "courier", "ledger", "beacon",
	"satchel", "sparrow", "pendulum", "signet", "atlas",
}

// Random returns a name like "punctual-heron-42".
func Random() string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(100))
}
