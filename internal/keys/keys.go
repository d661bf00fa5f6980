// Package keys implements API key rotation over comma-separated key lists.
package keys

import (
	"math/rand/v2"
	"strings"
)

// Select resolves a raw key query parameter value to a single API key.
//
// A value without a comma (including the empty string) is returned unchanged.
// A comma-separated list is split, each token trimmed of surrounding
// whitespace and empty tokens dropped; one of the survivors is chosen
// uniformly at random. Duplicate tokens stay in the list, so a key listed
// twice is picked proportionally more often. If every token is empty after
// trimming, the raw value is returned unchanged and left for the upstream
// to reject.
func Select(raw string) string {
	if !strings.Contains(raw, ",") {
		return raw
	}

	parts := strings.Split(raw, ",")
	candidates := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			candidates = append(candidates, k)
		}
	}

	if len(candidates) == 0 {
		return raw
	}
	return candidates[rand.IntN(len(candidates))]
}
