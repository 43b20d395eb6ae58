// Package pseudonym generates throwaway display names for participants who
// join without choosing one.
package pseudonym

import (
	"fmt"
	"math/rand/v2"
)

var (
	adjectives = []string{"Calm", "Brave", "Wise", "Happy", "Gentle", "Silent", "Swift"}
	nouns      = []string{"Tiger", "Eagle", "River", "Sky", "Moon", "Sun", "Leaf"}
)

// Generate returns a random adjective+noun+two-digit pseudonym, e.g. "CalmTiger42".
func Generate() string {
	return fmt.Sprintf("%s%s%d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		10+rand.IntN(90),
	)
}
