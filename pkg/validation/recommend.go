package validation

import "sort"

// Fixed recommendation table keyed by the predominant conflict type. The
// strings are deterministic so repeated validations of the same inputs
// produce identical output.
const (
	recommendEmpty = "Strategy produced no sampling points; check rule parameters and conditions"

	recommendOutOfBounds    = "Adjust transformation offset or edge margin so points land inside the die grid"
	recommendDuplicateSite  = "Reduce rule overlap or increase minSpacing to avoid sampling the same die twice"
	recommendUnavailableDie = "Exclude unavailable dies via conditions or re-upload the schematic with corrected availability"
	recommendCluster        = "Spread sampling points with a larger grid spacing or a minSpacing tool constraint"
)

func recommendationFor(t ConflictType) string {
	switch t {
	case ConflictOutOfBounds:
		return recommendOutOfBounds
	case ConflictDuplicateSite, ConflictOverlap:
		return recommendDuplicateSite
	case ConflictUnavailableDie:
		return recommendUnavailableDie
	case ConflictClusterViolation:
		return recommendCluster
	default:
		return ""
	}
}

// recommend returns one recommendation per conflict type present, ordered
// by how often the type occurs (most frequent first, ties alphabetical).
func recommend(conflicts []Conflict) []string {
	if len(conflicts) == 0 {
		return []string{}
	}
	counts := make(map[ConflictType]int)
	for _, c := range conflicts {
		counts[c.ConflictType]++
	}
	types := make([]ConflictType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})

	out := make([]string, 0, len(types))
	for _, t := range types {
		if r := recommendationFor(t); r != "" {
			out = append(out, r)
		}
	}
	return out
}
