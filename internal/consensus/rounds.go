package consensus

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultMinLatency       = 100 * time.Millisecond
	DefaultMaxLatency       = 500 * time.Millisecond
	DefaultFaultProbability = 0.1
)

// Round is the simulated network behaviour of one validator for one vote.
type Round struct {
	Latency time.Duration
	// Err is non-nil when the validator is unreachable.
	Err error
}

// RoundFunc produces the round of a validator. It is called concurrently for
// every validator of a vote.
type RoundFunc func(validator string) Round

// RandomRounds samples a latency uniformly in [minLatency, maxLatency) and
// faults with probability faultProbability.
func RandomRounds(minLatency, maxLatency time.Duration, faultProbability float64) RoundFunc {
	span := maxLatency - minLatency
	return func(string) Round {
		latency := minLatency
		if span > 0 {
			latency += time.Duration(rand.Int64N(int64(span)))
		}
		r := Round{Latency: latency}
		if rand.Float64() < faultProbability {
			r.Err = ErrValidatorUnreachable
		}
		return r
	}
}

// FixedRounds returns the listed round for each validator, and a reachable
// zero-latency round for every validator not listed.
func FixedRounds(rounds map[string]Round) RoundFunc {
	return func(validator string) Round {
		return rounds[validator]
	}
}

// RequiredVotes is the Byzantine quorum for n validators.
func RequiredVotes(n int) int {
	return (2*n)/3 + 1
}
