// Package health tracks the health of tiercache components such as the
// durable medium, and derives an overall state from the worst of them.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/objectfs/tiercache/pkg/errors"
)

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates the component is failing intermittently
	StateDegraded

	// StateReadOnly indicates reads work but writes are being rejected
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// HealthCheckInterval is the interval for automatic health checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
	}
}

// Tracker tracks the health of multiple components
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	defaults := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = defaults.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaults.HealthCheckInterval
	}

	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		now:        time.Now,
	}
}

// RegisterComponent registers a new component for health tracking
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := t.now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
		}
	}
}

// OnStateChange registers a callback run synchronously after every transition.
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// RecordSuccess records a successful check. Any success restores a
// component to healthy.
func (t *Tracker) RecordSuccess(component string) {
	t.record(component, nil)
}

// RecordError records a failed check for a component
func (t *Tracker) RecordError(component string, err error) {
	if err == nil {
		err = fmt.Errorf("unspecified failure")
	}
	t.record(component, err)
}

func (t *Tracker) record(component string, err error) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = t.now()

	newState := oldState
	if err == nil {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
		newState = StateHealthy
	} else {
		health.ConsecutiveErrors++
		health.LastErrorMessage = err.Error()
		switch {
		case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
			newState = StateUnavailable
		case health.ConsecutiveErrors >= t.config.ErrorThreshold:
			if isWriteError(err) {
				newState = StateReadOnly
			} else {
				newState = StateDegraded
			}
		}
	}

	if newState != oldState {
		health.State = newState
		health.LastStateChange = health.LastHealthCheck
	}
	callbacks := append([]StateChangeCallback(nil), t.callbacks...)
	t.mu.Unlock()

	if newState != oldState {
		for _, callback := range callbacks {
			callback(component, oldState, newState, err)
		}
	}
}

// GetState returns the current health state of a component. Unknown
// components are reported unavailable.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health information for a component
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return ComponentHealth{}, errors.NewError(errors.ErrCodeInvalidState,
			fmt.Sprintf("component %s not registered", component)).WithComponent("health")
	}
	return *health, nil
}

// GetAllComponents returns copies of all registered components
func (t *Tracker) GetAllComponents() map[string]ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ComponentHealth, len(t.components))
	for name, health := range t.components {
		result[name] = *health
	}
	return result
}

// GetOverallHealth returns the worst state among all components
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, health := range t.components {
		if health.State > overall {
			overall = health.State
		}
	}
	return overall
}

// IsHealthy returns true if the component is in a healthy state
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanRead returns true if the component can serve reads
func (t *Tracker) CanRead(component string) bool {
	return t.GetState(component) != StateUnavailable
}

// CanWrite returns true if the component accepts writes
func (t *Tracker) CanWrite(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// Run checks every registered component each interval until ctx ends.
func (t *Tracker) Run(ctx context.Context, check func(ctx context.Context, component string) error) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckNow(ctx, check)
		}
	}
}

// CheckNow runs check once for every registered component.
func (t *Tracker) CheckNow(ctx context.Context, check func(ctx context.Context, component string) error) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()

	for _, component := range components {
		if err := check(ctx, component); err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}

// isWriteError reports failures that reject writes while reads may still work.
func isWriteError(err error) bool {
	return errors.IsCode(err, errors.ErrCodeQuotaExceeded) ||
		errors.IsCode(err, errors.ErrCodePersistenceWrite) ||
		errors.IsCode(err, errors.ErrCodeAccessDenied)
}
