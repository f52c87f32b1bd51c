// Package fusion merges dense and lexical candidate lists into one
// deterministic ranking and optionally reorders the head with a second, more
// expensive scoring pass.
package fusion

import (
	"sort"

	"github.com/docpilot/backend/internal/retrieval"
)

// Fuser combines per-method candidate lists. Each method's raw scores are
// min-max normalized before the weighted sum so neither scale dominates.
type Fuser struct {
	denseWeight float64
}

func NewFuser(denseWeight float64) *Fuser {
	if denseWeight <= 0 || denseWeight >= 1 {
		denseWeight = 0.5
	}
	return &Fuser{denseWeight: denseWeight}
}

type fusedEntry struct {
	candidate retrieval.Candidate
	combined  float64
	firstSeen int
}

// Fuse deduplicates by chunk id. A chunk found by both methods keeps the
// union of method tags and the sum of its weighted normalized scores, so it
// outranks a chunk found by only one method with a lower normalized score.
// Ordering is combined score desc, then first-seen position, then chunk id —
// deterministic for identical inputs.
func (f *Fuser) Fuse(dense, lexical []retrieval.Candidate) []retrieval.Candidate {
	denseNorm := normalize(dense)
	lexicalNorm := normalize(lexical)

	byID := make(map[string]*fusedEntry)
	order := 0

	accumulate := func(cands []retrieval.Candidate, norms []float64, weight float64, method retrieval.Method) {
		for i, cand := range cands {
			contribution := weight * norms[i]
			entry, ok := byID[cand.ChunkID]
			if !ok {
				cand.Methods = []retrieval.Method{method}
				cand.NormScore = contribution
				byID[cand.ChunkID] = &fusedEntry{
					candidate: cand,
					combined:  contribution,
					firstSeen: order,
				}
				order++
				continue
			}
			if !entry.candidate.HasMethod(method) {
				entry.candidate.Methods = append(entry.candidate.Methods, method)
			}
			entry.combined += contribution
			entry.candidate.NormScore = entry.combined
		}
	}

	accumulate(dense, denseNorm, f.denseWeight, retrieval.MethodDense)
	accumulate(lexical, lexicalNorm, 1-f.denseWeight, retrieval.MethodLexical)

	entries := make([]*fusedEntry, 0, len(byID))
	for _, entry := range byID {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].combined != entries[j].combined {
			return entries[i].combined > entries[j].combined
		}
		if entries[i].firstSeen != entries[j].firstSeen {
			return entries[i].firstSeen < entries[j].firstSeen
		}
		return entries[i].candidate.ChunkID < entries[j].candidate.ChunkID
	})

	fused := make([]retrieval.Candidate, len(entries))
	for i, entry := range entries {
		entry.candidate.Rank = i
		fused[i] = entry.candidate
	}
	return fused
}

// normalize maps raw scores onto [0,1] per method. A list whose scores are
// all equal (including a single element) maps to 1.0 everywhere.
func normalize(cands []retrieval.Candidate) []float64 {
	norms := make([]float64, len(cands))
	if len(cands) == 0 {
		return norms
	}

	lo, hi := cands[0].Score, cands[0].Score
	for _, c := range cands[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}

	if hi == lo {
		for i := range norms {
			norms[i] = 1.0
		}
		return norms
	}

	for i, c := range cands {
		norms[i] = (c.Score - lo) / (hi - lo)
	}
	return norms
}
