package audit

import (
	"time"

	"github.com/kakavi/central-backend/backoff"
)

// ClaimPolicy decides when an unprocessed event is eligible for
// claiming. Every store backend enforces the same predicate; the policy
// is configuration owned by the checker and passed on each claim call.
type ClaimPolicy struct {
	// RetryCap is the failure count at which an event stops being
	// eligible, regardless of elapsed time.
	RetryCap int

	// Retry computes the minimum wait after the nth failure before the
	// event becomes claimable again.
	Retry backoff.Strategy

	// StaleClaim is how old a claim must be before the claimant is
	// presumed dead and the event may be reclaimed.
	StaleClaim time.Duration
}

// DefaultClaimPolicy returns the policy defaults: five attempts, a
// constant ten minute backoff, and a two hour stale-claim threshold.
func DefaultClaimPolicy() ClaimPolicy {
	return ClaimPolicy{
		RetryCap:   5,
		Retry:      backoff.DefaultStrategy(),
		StaleClaim: 2 * time.Hour,
	}
}

// Eligible reports whether the event may be claimed at the given time.
// All four conditions must hold: not processed; unclaimed or the claim
// is stale; below the retry cap; and past the backoff interval since
// the last failure.
func (p ClaimPolicy) Eligible(e *Event, now time.Time) bool {
	if e.Processed != nil {
		return false
	}
	if e.Claimed != nil && e.Claimed.After(now.Add(-p.StaleClaim)) {
		return false
	}
	if e.Failures >= p.RetryCap {
		return false
	}
	if e.LastFailure != nil {
		wait := p.Retry.Delay(e.Failures)
		if e.LastFailure.After(now.Add(-wait)) {
			return false
		}
	}
	return true
}

// StaleCutoff returns the claim timestamp boundary: claims at or before
// it are stale and reclaimable.
func (p ClaimPolicy) StaleCutoff(now time.Time) time.Time {
	return now.Add(-p.StaleClaim)
}

// RetryCutoffs returns one last-failure boundary per failure count in
// [0, RetryCap): an event with Failures=n is past its backoff when its
// LastFailure is at or before element n. SQL backends pass the slice as
// an array parameter so the per-row predicate stays inside the atomic
// claim statement.
func (p ClaimPolicy) RetryCutoffs(now time.Time) []time.Time {
	cutoffs := make([]time.Time, p.RetryCap)
	for n := range cutoffs {
		cutoffs[n] = now.Add(-p.Retry.Delay(n))
	}
	return cutoffs
}
