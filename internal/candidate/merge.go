package candidate

// #region dedupe

// Dedupe collapses candidates sharing an id, preserving first-seen order. The
// survivor is the one with the higher semantic score, else the higher recency
// score, else the earlier one; its features become the field-wise max of both.
// Survivors are updated in place.
func Dedupe(cands []Candidate) []Candidate {
	byID := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		id := c.Meta().ID
		i, seen := byID[id]
		if !seen {
			byID[id] = len(out)
			out = append(out, c)
			continue
		}
		prev := out[i]
		winner, loser := prev, c
		if prefer(c, prev) {
			winner, loser = c, prev
		}
		winner.Meta().Features = mergeFeatures(winner.Meta().Features, loser.Meta().Features)
		out[i] = winner
	}
	return out
}

// prefer reports whether a should replace b.
func prefer(a, b Candidate) bool {
	fa, fb := a.Meta().Features, b.Meta().Features
	sa, sb := Value(fa.SemanticScore, -1), Value(fb.SemanticScore, -1)
	if sa != sb {
		return sa > sb
	}
	return Value(fa.RecencyScore, -1) > Value(fb.RecencyScore, -1)
}

func mergeFeatures(w, l Features) Features {
	w.SemanticScore = maxScore(w.SemanticScore, l.SemanticScore)
	w.RecencyScore = maxScore(w.RecencyScore, l.RecencyScore)
	w.TemporalScore = maxScore(w.TemporalScore, l.TemporalScore)
	w.ScopeScore = maxScore(w.ScopeScore, l.ScopeScore)
	if w.CreatedAt == "" {
		w.CreatedAt = l.CreatedAt
	}
	return w
}

func maxScore(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b > *a:
		return Score(*b)
	}
	return Score(*a)
}

// #endregion dedupe

// #region grouping

// GroupBySource buckets candidates by source, preserving order within a bucket.
func GroupBySource(cands []Candidate) map[Source][]Candidate {
	out := map[Source][]Candidate{}
	for _, c := range cands {
		s := c.Meta().Source
		out[s] = append(out[s], c)
	}
	return out
}

// CountBySource returns the number of candidates per source.
func CountBySource(cands []Candidate) map[Source]int {
	out := map[Source]int{}
	for _, c := range cands {
		out[c.Meta().Source]++
	}
	return out
}

// #endregion grouping
