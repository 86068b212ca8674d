package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// slack absorbs float error when a stored instant is turned back into tokens.
const slack = 1e-6

// BatchSize is how many rows one tick may claim so that ticks every interval add up to emailsPerHour.
func BatchSize(emailsPerHour int, interval time.Duration) int {
	if emailsPerHour <= 0 || interval <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(emailsPerHour) * interval.Hours()))
	if n < 1 {
		return 1
	}
	return n
}

// Budget is a campaign's send allowance: a token bucket that refills at EmailsPerHour and holds at
// most one batch plus a fractional carry. The bucket's whole state is a single instant, the time it
// was (or will be) empty, which the store keeps next to the campaign so every dispatcher draws from
// the same bucket. A nil instant is a bucket that was never charged; it holds one batch.
type Budget struct {
	EmailsPerHour int
	Interval      time.Duration
}

func (b Budget) Batch() int {
	return BatchSize(b.EmailsPerHour, b.Interval)
}

// Available returns how many sends may start at now, capped at one batch.
func (b Budget) Available(emptyAt *time.Time, now time.Time) int {
	if b.EmailsPerHour <= 0 {
		return 0
	}
	n := int(math.Floor(b.limiter(emptyAt, now).TokensAt(now) + slack))
	if batch := b.Batch(); n > batch {
		return batch
	}
	if n < 0 {
		return 0
	}
	return n
}

// Charge takes n tokens at now and returns the instant to store in place of emptyAt.
func (b Budget) Charge(emptyAt *time.Time, n int, now time.Time) time.Time {
	if b.EmailsPerHour <= 0 {
		return now
	}
	at := now
	if emptyAt != nil && emptyAt.After(now) {
		// already in debt; the new debt starts where the old one ends
		at = *emptyAt
	}
	lim := b.limiter(emptyAt, at)
	if n > 0 {
		lim.ReserveN(at, n)
	}
	tokens := lim.TokensAt(at)

	// round toward an emptier bucket; Postgres keeps microseconds
	nanos := math.Ceil(-tokens / float64(b.limit()) * float64(time.Second))
	next := at.Add(time.Duration(nanos))
	if t := next.Truncate(time.Microsecond); !t.Equal(next) {
		next = t.Add(time.Microsecond)
	}
	return next
}

func (b Budget) limit() rate.Limit {
	return rate.Limit(float64(b.EmailsPerHour) / time.Hour.Seconds())
}

func (b Budget) limiter(emptyAt *time.Time, now time.Time) *rate.Limiter {
	burst := b.Batch() + 1
	lim := rate.NewLimiter(b.limit(), burst)
	if emptyAt == nil {
		// start with one batch, not a full bucket
		lim.AllowN(now, 1)
		return lim
	}
	lim.AllowN(*emptyAt, burst)
	return lim
}
