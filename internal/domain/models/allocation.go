package models

import (
	"math"
	"sort"
	"time"
)

type Bucket string

const (
	BucketYield Bucket = "yield"
	BucketBTC   Bucket = "btc"
	BucketETH   Bucket = "eth"
	BucketCash  Bucket = "cash"
)

// AllBuckets is the canonical order used for reports and plans.
var AllBuckets = []Bucket{BucketYield, BucketBTC, BucketETH, BucketCash}

// TacticalBuckets are the volatile holdings sell tiers de-risk.
var TacticalBuckets = []Bucket{BucketBTC, BucketETH}

// SumTolerance bounds how far a target allocation may stray from 1.0.
const SumTolerance = 1e-6

// Allocation maps a bucket to a fraction of total value.
type Allocation map[Bucket]float64

func (a Allocation) Sum() float64 {
	s := 0.0
	for _, v := range a {
		s += v
	}
	return s
}

// Valid reports non-negative fractions summing to 1 within SumTolerance.
func (a Allocation) Valid() bool {
	for _, v := range a {
		if v < 0 || math.IsNaN(v) {
			return false
		}
	}
	return math.Abs(a.Sum()-1) <= SumTolerance
}

func (a Allocation) Clone() Allocation {
	out := make(Allocation, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Buckets returns the union of keys in a and others, in canonical order first.
func (a Allocation) Buckets(others ...Allocation) []Bucket {
	seen := map[Bucket]bool{}
	for _, m := range append([]Allocation{a}, others...) {
		for b := range m {
			seen[b] = true
		}
	}
	out := make([]Bucket, 0, len(seen))
	for _, b := range AllBuckets {
		if seen[b] {
			out = append(out, b)
			delete(seen, b)
		}
	}
	extra := make([]Bucket, 0, len(seen))
	for b := range seen {
		extra = append(extra, b)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

type AllocationSignal struct {
	Timestamp            time.Time   `json:"timestamp"`
	Phase                MarketPhase `json:"phase"`
	Tier                 string      `json:"tier"`
	Target               Allocation  `json:"target"`
	Reasoning            string      `json:"reasoning"`
	Confidence           float64     `json:"confidence"`
	HardThresholdCrossed bool        `json:"hard_threshold_crossed"`
	ExtremeFunding       bool        `json:"extreme_funding"`
	Degraded             bool        `json:"degraded"`
}
