package radar

import "time"

// Default refresh timings.
const (
	DefaultSafetyMargin   = 30 * time.Second
	DefaultMinimumDelay   = 5 * time.Second
	DefaultBaseRetryDelay = 5 * time.Second
	DefaultMaxRetryDelay  = 60 * time.Second
)

// RefreshPolicy decides when the next poll happens.
type RefreshPolicy struct {
	// PublicationInterval is how often the provider publishes a new frame.
	PublicationInterval time.Duration
	SafetyMargin        time.Duration
	MinimumDelay        time.Duration
	BaseRetryDelay      time.Duration
	MaxRetryDelay       time.Duration
}

// WithDefaults fills unset fields. PublicationInterval defaults to ten
// minutes.
func (p RefreshPolicy) WithDefaults() RefreshPolicy {
	if p.PublicationInterval <= 0 {
		p.PublicationInterval = 10 * time.Minute
	}
	if p.SafetyMargin < 0 {
		p.SafetyMargin = 0
	} else if p.SafetyMargin == 0 {
		p.SafetyMargin = DefaultSafetyMargin
	}
	if p.MinimumDelay <= 0 {
		p.MinimumDelay = DefaultMinimumDelay
	}
	if p.BaseRetryDelay <= 0 {
		p.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if p.MaxRetryDelay <= 0 {
		p.MaxRetryDelay = DefaultMaxRetryDelay
	}
	return p
}

// MaxRetryCount is the retry count past which the delay stops growing.
func (p RefreshPolicy) MaxRetryCount() int {
	p = p.WithDefaults()
	n := 0
	for d := p.BaseRetryDelay; d < p.MaxRetryDelay; d *= 2 {
		n++
	}
	return n
}

// RetryDelay returns min(base * 2^count, max).
func (p RefreshPolicy) RetryDelay(count int) time.Duration {
	p = p.WithDefaults()
	count = min(max(count, 0), p.MaxRetryCount())
	d := p.BaseRetryDelay << count
	return min(d, p.MaxRetryDelay)
}

// NextPollDelay anticipates the provider's next publication after newest,
// never returning less than MinimumDelay.
func (p RefreshPolicy) NextPollDelay(newest, now time.Time) time.Duration {
	p = p.WithDefaults()
	d := newest.Add(p.PublicationInterval + p.SafetyMargin).Sub(now)
	return max(d, p.MinimumDelay)
}

// RefreshState is the poll loop bookkeeping.
type RefreshState struct {
	Retries     int  `json:"retries"`
	InFlight    bool `json:"inFlight"`
	Initialized bool `json:"initialized"`
}

// RefreshMode says how a successful snapshot enters the window.
type RefreshMode int

const (
	ModeReplace RefreshMode = iota
	ModeMerge
)

// Begin marks a poll as started. It reports false if one is already running.
func (p RefreshPolicy) Begin(s RefreshState) (RefreshState, bool) {
	if s.InFlight {
		return s, false
	}
	s.InFlight = true
	return s, true
}

// Succeeded resets the retry counter and returns how to apply the snapshot
// and how long to wait before the next poll.
func (p RefreshPolicy) Succeeded(s RefreshState, snap Snapshot, now time.Time) (RefreshState, RefreshMode, time.Duration) {
	mode := ModeMerge
	if !s.Initialized {
		mode = ModeReplace
	}
	return RefreshState{Initialized: true}, mode, p.NextPollDelay(snap.NewestTimestamp, now)
}

// Failed schedules a retry with exponential backoff. The counter stops
// growing once the delay has reached its cap.
func (p RefreshPolicy) Failed(s RefreshState) (RefreshState, time.Duration) {
	d := p.RetryDelay(s.Retries)
	s.InFlight = false
	s.Retries = min(s.Retries+1, p.MaxRetryCount())
	return s, d
}

// Reset makes the next successful poll replace the window.
func (p RefreshPolicy) Reset(s RefreshState) RefreshState {
	s.Initialized = false
	return s
}
