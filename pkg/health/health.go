// Package health tracks the health of named components from their recent
// successes and failures.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the health state of a component
type State int

const (
	// StateHealthy indicates the component's last operation succeeded
	StateHealthy State = iota

	// StateDegraded indicates repeated failures; data may be stale
	StateDegraded

	// StateUnavailable indicates the component has been failing for a long time
	StateUnavailable
)

// String returns the string representation of a health state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth is a snapshot of one component's health
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	LastSuccess       time.Time `json:"last_success"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// Config configures health tracking behavior
type Config struct {
	// DegradedThreshold is the number of consecutive errors before a component is degraded
	DegradedThreshold int `yaml:"degraded_threshold" json:"degraded_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a component is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// OnStateChange is called after a component changes state, outside the tracker lock
	OnStateChange func(component string, from, to State, err error) `yaml:"-" json:"-"`

	Clock clockwork.Clock `yaml:"-" json:"-"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() Config {
	return Config{
		DegradedThreshold:    3,
		UnavailableThreshold: 10,
	}
}

// Tracker tracks the health of multiple components. The zero value is not usable; use NewTracker.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     Config
	clock      clockwork.Clock
}

// NewTracker creates a new health tracker
func NewTracker(config Config) *Tracker {
	defaults := DefaultConfig()
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = defaults.DegradedThreshold
	}
	if config.UnavailableThreshold <= 0 {
		config.UnavailableThreshold = defaults.UnavailableThreshold
	}
	if config.UnavailableThreshold < config.DegradedThreshold {
		config.UnavailableThreshold = config.DegradedThreshold
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		clock:      clock,
	}
}

// Register starts tracking a component as healthy. Registering twice is a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.component(name)
}

// RecordSuccess marks the component healthy and clears its error streak
func (t *Tracker) RecordSuccess(name string) {
	t.record(name, nil)
}

// RecordError extends the component's error streak, degrading it past the thresholds
func (t *Tracker) RecordError(name string, err error) {
	t.record(name, err)
}

// RecordWarmPass records the outcome of refreshing one warm set
func (t *Tracker) RecordWarmPass(set string, _ time.Duration, err error) {
	t.record(set, err)
}

// State returns the component's state. Unknown components are unavailable.
func (t *Tracker) State(name string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, ok := t.components[name]; ok {
		return c.State
	}
	return StateUnavailable
}

// Component returns a snapshot of one component
func (t *Tracker) Component(name string) (ComponentHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.components[name]
	if !ok {
		return ComponentHealth{}, false
	}
	return *c, true
}

// Components returns snapshots of every component, ordered by name
func (t *Tracker) Components() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(t.components))
	for _, c := range t.components {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall returns the worst state across all components; healthy when none are tracked
func (t *Tracker) Overall() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, c := range t.components {
		if c.State > overall {
			overall = c.State
		}
	}
	return overall
}

func (t *Tracker) record(name string, err error) {
	t.mu.Lock()
	c := t.component(name)
	now := t.clock.Now()
	from := c.State
	c.LastCheck = now

	if err == nil {
		c.LastSuccess = now
		c.ConsecutiveErrors = 0
		c.LastErrorMessage = ""
		c.State = StateHealthy
	} else {
		c.ConsecutiveErrors++
		c.LastErrorMessage = err.Error()
		switch {
		case c.ConsecutiveErrors >= t.config.UnavailableThreshold:
			c.State = StateUnavailable
		case c.ConsecutiveErrors >= t.config.DegradedThreshold:
			c.State = StateDegraded
		}
	}

	to := c.State
	if to != from {
		c.LastStateChange = now
	}
	t.mu.Unlock()

	if to != from && t.config.OnStateChange != nil {
		t.config.OnStateChange(name, from, to, err)
	}
}

// component returns the named component, creating it if needed (must be called with lock held)
func (t *Tracker) component(name string) *ComponentHealth {
	c, ok := t.components[name]
	if !ok {
		now := t.clock.Now()
		c = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastCheck:       now,
		}
		t.components[name] = c
	}
	return c
}
