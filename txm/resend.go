package txm

import (
	"math/rand"
	"sync"
	"time"
)

// Default resend policy knobs. The schedule is looked up by attempt number,
// saturating at the last entry; the floor and ceiling bound the jittered
// delay against clock skew or a misconfigured schedule.
var DefaultResendSchedule = []time.Duration{45 * time.Second, 90 * time.Second, 180 * time.Second}

const (
	DefaultMaxResends     = 3
	DefaultJitterFraction = 0.25
	DefaultMinResendDelay = 10 * time.Second
	DefaultMaxResendDelay = 10 * time.Minute
	DefaultStuckThreshold = 20 * time.Second
)

// ResendPolicy computes when a pending transaction becomes eligible for its
// next resend attempt. MaxResends is enforced by the monitor, not here.
type ResendPolicy struct {
	Schedule []time.Duration
	Jitter   float64
	Floor    time.Duration
	Ceiling  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewResendPolicy builds a policy from a schedule and a jitter source. Pass
// a seeded source in tests for reproducible bounds; production callers use
// NewResendPolicyWithDefaults.
func NewResendPolicy(schedule []time.Duration, floor, ceiling time.Duration, src rand.Source) *ResendPolicy {
	if len(schedule) == 0 {
		schedule = DefaultResendSchedule
	}
	if floor <= 0 {
		floor = DefaultMinResendDelay
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxResendDelay
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &ResendPolicy{
		Schedule: schedule,
		Jitter:   DefaultJitterFraction,
		Floor:    floor,
		Ceiling:  ceiling,
		rnd:      rand.New(src),
	}
}

func NewResendPolicyWithDefaults() *ResendPolicy {
	return NewResendPolicy(nil, 0, 0, nil)
}

// NextResendAt returns the next eligibility time for the given attempt
// count, jittered by +/-Jitter and clamped to [Floor, Ceiling].
func (p *ResendPolicy) NextResendAt(attempt uint32, base time.Time) time.Time {
	idx := int(attempt)
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	delay := p.Schedule[idx]

	p.mu.Lock()
	factor := 1 + p.Jitter*(2*p.rnd.Float64()-1)
	p.mu.Unlock()

	delay = time.Duration(float64(delay) * factor)
	if delay < p.Floor {
		delay = p.Floor
	}
	if delay > p.Ceiling {
		delay = p.Ceiling
	}
	return base.Add(delay)
}
