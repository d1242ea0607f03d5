package recognize

// Policy turns raw matcher output into a single identity decision.
//
// Gallery mode takes the top-ranked candidate as long as it clears the
// similarity floor; with the floor at zero the backend's own detection gate
// is the only filter. Pairwise mode accepts the first verified reference in
// gallery enumeration order rather than the best one; that trade-off
// (latency over optimality) is deliberate and must not change silently.
type Policy struct {
	SimilarityFloor float64
}

// Decide picks the identity for a ranked candidate list. ok is false when
// the list is empty or nothing clears the floor - the Unknown outcome.
func (p Policy) Decide(matches []Match) (string, bool) {
	if len(matches) == 0 {
		return "", false
	}
	top := matches[0]
	if top.Similarity < p.SimilarityFloor {
		return "", false
	}
	return top.Subject, true
}

// DecideVerification maps a single pairwise verification to accept/reject.
func (p Policy) DecideVerification(v Verification) bool {
	return v.Verified && v.Similarity >= p.SimilarityFloor
}
