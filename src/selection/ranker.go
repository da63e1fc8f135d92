package selection

import (
	"math/rand"
	"sort"

	"rebalancer/src/datamodels"
)

// TieBreaker resolves the case where more instruments share the top
// score than the portfolio has room for. It receives the tied set
// sorted by instrument code and must return exactly n of them.
type TieBreaker interface {
	Pick(tied []string, n int) []string
}

// SeededRandomTieBreaker samples the tied set with a private seeded
// generator, so the pick is random in distribution but reproducible for
// a given seed. The reference policy.
type SeededRandomTieBreaker struct {
	rng *rand.Rand
}

func NewSeededRandomTieBreaker(seed int64) *SeededRandomTieBreaker {
	return &SeededRandomTieBreaker{rng: rand.New(rand.NewSource(seed))}
}

func (t *SeededRandomTieBreaker) Pick(tied []string, n int) []string {
	if n >= len(tied) {
		return tied
	}
	shuffled := make([]string, len(tied))
	copy(shuffled, tied)
	t.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// LexicographicTieBreaker keeps the first n codes in order. Used in
// tests and anywhere fully deterministic selection matters more than
// unbiased sampling.
type LexicographicTieBreaker struct{}

func (LexicographicTieBreaker) Pick(tied []string, n int) []string {
	if n >= len(tied) {
		return tied
	}
	return tied[:n]
}

// SelectBuySet turns scored candidates into the cycle's buy set:
// ineligible candidates are dropped, the top optional-count score
// defines the winners, and a tie wider than maxHoldings is resolved by
// the tie breaker. The result is sorted by instrument code. An empty
// result means the cycle holds cash.
func SelectBuySet(scores []datamodels.CandidateScore, maxHoldings int, tieBreaker TieBreaker) []string {
	if maxHoldings <= 0 {
		return nil
	}

	best := -1
	for _, s := range scores {
		if s.Eligible && s.OptionalSatisfied > best {
			best = s.OptionalSatisfied
		}
	}
	if best < 0 {
		return nil
	}

	var tied []string
	for _, s := range scores {
		if s.Eligible && s.OptionalSatisfied == best {
			tied = append(tied, s.Instrument)
		}
	}
	sort.Strings(tied)

	picked := tieBreaker.Pick(tied, maxHoldings)
	out := make([]string, len(picked))
	copy(out, picked)
	sort.Strings(out)
	return out
}
