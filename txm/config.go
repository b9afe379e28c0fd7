package txm

import "time"

const (
	DefaultPollPeriod      = 5 * time.Second
	DefaultBatchSize       = 30
	DefaultRetentionPeriod = time.Hour
)

// Config holds the runtime knobs of the lifecycle monitor. Zero values are
// replaced by defaults; ReapInterval of zero disables the background reaper
// (GC stays available to the caller either way).
type Config struct {
	// PollPeriod is the monitor tick period.
	PollPeriod time.Duration
	// BatchSize caps how many non-terminal entries one tick processes,
	// newest first.
	BatchSize int
	// MaxResends caps fee-bump resend attempts per entry.
	MaxResends uint32
	// ResendSchedule is the base delay per attempt, saturating at the last
	// entry.
	ResendSchedule []time.Duration
	// MinResendDelay and MaxResendDelay clamp the jittered resend delay.
	MinResendDelay time.Duration
	MaxResendDelay time.Duration
	// StuckThreshold is how long past the resend gate a still-visible
	// transaction may sit before it is treated as stuck with too low a fee.
	// A heuristic, not a correctness bound.
	StuckThreshold time.Duration
	// RetentionPeriod is how long terminal entries are kept before the
	// reaper collects them.
	RetentionPeriod time.Duration
	// ReapInterval is how often the background reaper runs. Zero disables
	// it.
	ReapInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollPeriod <= 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxResends == 0 {
		c.MaxResends = DefaultMaxResends
	}
	if len(c.ResendSchedule) == 0 {
		c.ResendSchedule = DefaultResendSchedule
	}
	if c.MinResendDelay <= 0 {
		c.MinResendDelay = DefaultMinResendDelay
	}
	if c.MaxResendDelay <= 0 {
		c.MaxResendDelay = DefaultMaxResendDelay
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = DefaultStuckThreshold
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = DefaultRetentionPeriod
	}
}
