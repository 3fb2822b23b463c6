// Package governor gates every poll attempt behind the kill switch, the
// hourly rate limiter, and the consecutive-failure circuit breaker.
package governor

import (
	"os"
	"path/filepath"
	"time"

	"atcwatch/pkg/logx"
)

// State is the governor's externally visible mode.
type State string

const (
	StateRunning         State = "RUNNING"
	StatePausedRateLimit State = "PAUSED_RATE_LIMIT"
	StatePausedCircuit   State = "PAUSED_CIRCUIT_OPEN"
	StateStoppedKill     State = "STOPPED_KILL_SWITCH"
)

// Persisted is the durable safety surface. It survives restarts so backoff
// accumulated before a restart is not reset.
type Persisted struct {
	SchemaVersion       int         `json:"schema_version"`
	State               State       `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	BreakerOpenUntil    time.Time   `json:"breaker_open_until,omitempty"`
	BreakerStep         int         `json:"breaker_step"`
	PollStarts          []time.Time `json:"poll_starts,omitempty"`
	LastTransition      time.Time   `json:"last_transition,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
}

// Config holds effective safety settings (defaults already applied).
type Config struct {
	KillSwitchFile   string // checked by name in WorkDir; content ignored
	WorkDir          string
	MaxPollsPerHour  int
	FailureThreshold int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

// Decision is the answer to "may this tick fetch?".
type Decision struct {
	Allow  bool
	State  State
	Reason string
	// Probe marks the single allowed fetch after a breaker open period
	// expires. A probe failure reopens the breaker at the next step.
	Probe bool
	// ResumeAt hints when a paused state self-heals (zero when unknown).
	ResumeAt time.Time
}

type Governor struct {
	cfg Config
	st  Persisted
	log logx.Logger

	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Governor {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.MaxPollsPerHour <= 0 {
		cfg.MaxPollsPerHour = 12
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 10 * time.Minute
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Governor{
		cfg: cfg,
		st:  Persisted{State: StateRunning},
		log: log,
		now: time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (g *Governor) SetClock(now func() time.Time) { g.now = now }

// Restore adopts a previously persisted safety state.
func (g *Governor) Restore(st Persisted) {
	if st.State == "" {
		st.State = StateRunning
	}
	g.st = st
}

// Snapshot returns the current safety state for persistence.
func (g *Governor) Snapshot() Persisted {
	cp := g.st
	cp.SchemaVersion = 1
	cp.PollStarts = append([]time.Time(nil), g.st.PollStarts...)
	return cp
}

func (g *Governor) State() State { return g.st.State }

// Gate decides whether this tick may fetch. Checked in priority order:
// kill switch, rate limit, circuit breaker.
func (g *Governor) Gate() Decision {
	now := g.now()

	if g.killSwitchPresent() {
		g.transition(StateStoppedKill, now, "kill switch marker present")
		return Decision{Allow: false, State: StateStoppedKill, Reason: "kill switch marker present"}
	}

	g.pruneWindow(now)
	if len(g.st.PollStarts) >= g.cfg.MaxPollsPerHour {
		resume := g.st.PollStarts[0].Add(time.Hour)
		g.transition(StatePausedRateLimit, now, "")
		return Decision{
			Allow:    false,
			State:    StatePausedRateLimit,
			Reason:   "hourly poll budget exhausted",
			ResumeAt: resume,
		}
	}

	if !g.st.BreakerOpenUntil.IsZero() && now.Before(g.st.BreakerOpenUntil) {
		g.transition(StatePausedCircuit, now, "")
		return Decision{
			Allow:    false,
			State:    StatePausedCircuit,
			Reason:   "circuit breaker open",
			ResumeAt: g.st.BreakerOpenUntil,
		}
	}

	if g.st.State == StatePausedRateLimit {
		// Window rolled over; the pause is self-healing.
		g.transition(StateRunning, now, "")
	}
	probe := g.st.State == StatePausedCircuit && !g.st.BreakerOpenUntil.IsZero()
	return Decision{Allow: true, State: g.st.State, Probe: probe}
}

// RecordAttempt counts one poll start against the hourly window. Call it
// only when a fetch is actually attempted.
func (g *Governor) RecordAttempt() {
	now := g.now()
	g.pruneWindow(now)
	g.st.PollStarts = append(g.st.PollStarts, now)
}

// RecordSuccess closes the breaker and returns to RUNNING.
func (g *Governor) RecordSuccess() {
	now := g.now()
	g.st.ConsecutiveFailures = 0
	g.st.BreakerStep = 0
	g.st.BreakerOpenUntil = time.Time{}
	g.st.LastError = ""
	g.transition(StateRunning, now, "")
}

// RecordFailure counts a fetch failure and opens (or reopens) the breaker
// once the threshold is reached.
func (g *Governor) RecordFailure(err error) {
	now := g.now()
	g.st.ConsecutiveFailures++
	if err != nil {
		g.st.LastError = err.Error()
	}

	if g.st.ConsecutiveFailures < g.cfg.FailureThreshold {
		return
	}

	d := g.backoff(g.st.BreakerStep)
	g.st.BreakerStep++
	g.st.BreakerOpenUntil = now.Add(d)
	g.transition(StatePausedCircuit, now, "")
	if !g.log.IsZero() {
		g.log.Warn("circuit breaker open",
			logx.Int("consecutive_failures", g.st.ConsecutiveFailures),
			logx.Duration("open_for", d),
			logx.Time("open_until", g.st.BreakerOpenUntil),
		)
	}
}

// backoff doubles from base per open period, bounded by max. Each open is
// at least as long as the previous one.
func (g *Governor) backoff(step int) time.Duration {
	d := g.cfg.BackoffBase
	for i := 0; i < step; i++ {
		d *= 2
		if d >= g.cfg.BackoffMax {
			return g.cfg.BackoffMax
		}
	}
	if d > g.cfg.BackoffMax {
		d = g.cfg.BackoffMax
	}
	return d
}

func (g *Governor) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Hour)
	starts := g.st.PollStarts
	i := 0
	for i < len(starts) && starts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		g.st.PollStarts = append([]time.Time(nil), starts[i:]...)
	}
}

func (g *Governor) killSwitchPresent() bool {
	name := g.cfg.KillSwitchFile
	if name == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(g.cfg.WorkDir, name))
	return err == nil
}

func (g *Governor) transition(to State, now time.Time, reason string) {
	if g.st.State == to {
		return
	}
	from := g.st.State
	g.st.State = to
	g.st.LastTransition = now
	if reason != "" {
		g.st.LastError = reason
	}
	if !g.log.IsZero() {
		g.log.Info("governor transition",
			logx.String("from", string(from)),
			logx.String("to", string(to)),
		)
	}
}
