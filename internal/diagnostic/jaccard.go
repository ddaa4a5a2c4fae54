package diagnostic

// Jaccard computes the Jaccard index |a∩b|/|a∪b| between two term sets.
// Returns 0.0 when either set is empty; the 0/0 case for two empty sets is
// defined as 0.0 by convention rather than an error.
func Jaccard(a, b TermSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	intersection := 0
	for t := range small {
		if _, ok := large[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
