// Package dedupe filters candidate paper IDs against the set already stored.
package dedupe

// ExistingIDSource provides the bulk snapshot of stored canonical IDs.
// The persistence sink satisfies it.
type ExistingIDSource interface {
	ExistingIDs() (map[string]bool, error)
}

// FilterNew returns the candidates not present in existing, preserving input
// order and dropping duplicates within the batch itself. A candidate is
// either new or stored, never both.
func FilterNew(candidates []string, existing map[string]bool) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || existing[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
