package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/amoylab/unla-edge/internal/common/errorx"
)

// State is the position of a breaker in its state machine
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings are shared by every breaker of a Registry
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	// IsExpected reports errors that pass through without being counted.
	// Defaults to errorx.IsExpected.
	IsExpected func(error) bool
	// Now defaults to time.Now
	Now func() time.Time
	// OnStateChange is called after a transition, outside the breaker lock
	OnStateChange func(name string, from, to State)
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 60 * time.Second
	}
	if s.IsExpected == nil {
		s.IsExpected = errorx.IsExpected
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Snapshot is a point-in-time copy of a breaker's counters
type Snapshot struct {
	Name                 string     `json:"name"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutiveFailures"`
	ConsecutiveSuccesses int        `json:"consecutiveSuccesses"`
	OpenedUntil          *time.Time `json:"openedUntil,omitempty"`
}

// Breaker guards calls to one downstream target
type Breaker struct {
	name     string
	settings Settings

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedUntil   time.Time
	trialInFlight bool
	// generation advances on every transition; results of calls admitted
	// under an older generation are not counted
	generation uint64
}

func New(name string, settings Settings) *Breaker {
	return &Breaker{name: name, settings: settings.withDefaults()}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
	}
	if !b.openedUntil.IsZero() {
		until := b.openedUntil
		snap.OpenedUntil = &until
	}
	return snap
}

// Execute runs fn unless the circuit is open. While open it returns a
// *errorx.CircuitOpenError without calling fn. Once the recovery timeout has
// passed a single trial call is admitted; concurrent callers fail fast until
// the trial completes.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, trial, err := b.before()
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			// fn panicked
			b.after(gen, trial, errPanicked)
		}
	}()

	err = fn(ctx)
	completed = true
	b.after(gen, trial, err)
	return err
}

// Do is Execute for calls that produce a value
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

type panicError struct{}

func (panicError) Error() string { return "protected call panicked" }

var errPanicked error = panicError{}

func (b *Breaker) before() (gen uint64, trial bool, err error) {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	now := b.settings.Now()
	switch b.state {
	case StateOpen:
		if now.Before(b.openedUntil) {
			return 0, false, &errorx.CircuitOpenError{Target: b.name, RetryAfter: b.openedUntil.Sub(now)}
		}
		transition = b.setState(StateHalfOpen)
		b.trialInFlight = true
		return b.generation, true, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return 0, false, &errorx.CircuitOpenError{Target: b.name}
		}
		b.trialInFlight = true
		return b.generation, true, nil
	default:
		return b.generation, false, nil
	}
}

func (b *Breaker) after(gen uint64, trial bool, err error) {
	b.mu.Lock()
	var transition func()
	defer func() {
		b.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	if gen != b.generation {
		return
	}
	if trial {
		b.trialInFlight = false
	}
	if err != nil && b.settings.IsExpected(err) {
		return
	}

	if err == nil {
		b.successes++
		b.failures = 0
		if b.state == StateHalfOpen && b.successes >= b.settings.SuccessThreshold {
			transition = b.setState(StateClosed)
		}
		return
	}

	b.failures++
	b.successes = 0
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.settings.FailureThreshold) {
		b.openedUntil = b.settings.Now().Add(b.settings.RecoveryTimeout)
		transition = b.setState(StateOpen)
	}
}

// setState must be called with mu held. The returned func notifies the hook.
func (b *Breaker) setState(to State) func() {
	from := b.state
	b.state = to
	if from != to {
		b.generation++
	}
	if to == StateClosed {
		b.openedUntil = time.Time{}
	}
	hook := b.settings.OnStateChange
	if hook == nil || from == to {
		return nil
	}
	return func() { hook(b.name, from, to) }
}
