package transform

import (
	"math/rand"

	"github.com/logflow/bxes/pkg/model"
)

// ReservoirSampler implements Algorithm R for streaming random sampling.
// It keeps a uniform sample of k items in a single pass.
type ReservoirSampler[T any] struct {
	reservoir []T
	k         int // Target sample size
	n         int // Total items seen
	rng       *rand.Rand
}

// NewReservoirSampler creates a sampler for k items.
func NewReservoirSampler[T any](k int, seed int64) *ReservoirSampler[T] {
	return &ReservoirSampler[T]{
		reservoir: make([]T, 0, k),
		k:         k,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Add processes an item for potential inclusion in the sample.
// First k items go directly into the reservoir; after that item i replaces a
// random item with probability k/i.
func (s *ReservoirSampler[T]) Add(item T) {
	s.n++

	if s.n <= s.k {
		s.reservoir = append(s.reservoir, item)
		return
	}

	j := s.rng.Intn(s.n)
	if j < s.k {
		s.reservoir[j] = item
	}
}

// Sample returns the current reservoir contents.
func (s *ReservoirSampler[T]) Sample() []T {
	return s.reservoir
}

// Count returns the total number of items seen.
func (s *ReservoirSampler[T]) Count() int {
	return s.n
}

// SampleLog replaces the variants of log with a uniform sample of at most k,
// kept in their original relative order.
func SampleLog(log *model.EventLog, k int, seed int64) {
	if k <= 0 || len(log.Variants) <= k {
		return
	}

	s := NewReservoirSampler[int](k, seed)
	for i := range log.Variants {
		s.Add(i)
	}

	keep := make([]bool, len(log.Variants))
	for _, i := range s.Sample() {
		keep[i] = true
	}
	out := log.Variants[:0]
	for i, v := range log.Variants {
		if keep[i] {
			out = append(out, v)
		}
	}
	log.Variants = out
}
