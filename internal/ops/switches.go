// Package ops implements the operational kill-switches that gate the
// collector fleet and scheduler independently of restarts: per-venue
// enable/disable, and two process-wide emergency switches (ingestion,
// read-only). Adapted from the teacher's momentum-scan feature-flag
// switch manager, repurposed to this domain's venue-level operational
// controls.
package ops

import (
	"sync"
	"time"

	"github.com/sawpanic/fundingedge/internal/venue"
)

// EmergencySwitch is one of the two process-wide kill-switches.
type EmergencySwitch string

const (
	// SwitchIngestion gates the entire collector fleet: when active at
	// `serve` startup, the fleet is not started. It is read only at startup;
	// setting it later does not stop workers that are already running.
	SwitchIngestion EmergencySwitch = "ingestion"
	// SwitchReadOnly gates the scheduler: when enabled, rollup/unified/MA/
	// arbitrage passes are skipped and only reads are served.
	SwitchReadOnly EmergencySwitch = "read_only"
)

// VenueSwitchConfig seeds the initial per-venue enabled state, loaded from
// YAML alongside the rest of the operational config.
type VenueSwitchConfig struct {
	Enabled map[venue.Tag]bool `yaml:"enabled"`
}

// SwitchManager tracks per-venue and emergency operational switches,
// queried by the collector fleet on startup and by the scheduler on every
// tick. All state is in-memory; it resets to config defaults on restart.
type SwitchManager struct {
	mu sync.RWMutex

	venues      map[venue.Tag]bool
	emergencies map[EmergencySwitch]bool
	lastUpdated map[string]time.Time
}

// NewSwitchManager builds a manager with every venue enabled and no
// emergency switch active, then applies cfg overrides.
func NewSwitchManager(cfg VenueSwitchConfig) *SwitchManager {
	m := &SwitchManager{
		venues:      make(map[venue.Tag]bool, len(venue.All)),
		emergencies: make(map[EmergencySwitch]bool),
		lastUpdated: make(map[string]time.Time),
	}
	for _, v := range venue.All {
		m.venues[v] = true
	}
	for v, enabled := range cfg.Enabled {
		m.venues[v] = enabled
	}
	return m
}

// IsVenueEnabled reports whether the fleet should run the given venue's
// worker. StartAll still launches a disabled venue's actor loop but does not
// send it the initial CmdStart.
func (m *SwitchManager) IsVenueEnabled(v venue.Tag) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enabled, ok := m.venues[v]
	return ok && enabled
}

// SetVenue enables or disables one venue's collector.
func (m *SwitchManager) SetVenue(v venue.Tag, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.venues[v] = enabled
	m.lastUpdated["venue:"+string(v)] = time.Now()
}

// EnabledVenues returns every venue currently enabled, in registry order.
func (m *SwitchManager) EnabledVenues() []venue.Tag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]venue.Tag, 0, len(venue.All))
	for _, v := range venue.All {
		if m.venues[v] {
			out = append(out, v)
		}
	}
	return out
}

// IsEmergencyActive reports whether a named emergency switch is set.
func (m *SwitchManager) IsEmergencyActive(s EmergencySwitch) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencies[s]
}

// SetEmergency flips a process-wide kill-switch.
func (m *SwitchManager) SetEmergency(s EmergencySwitch, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencies[s] = active
	m.lastUpdated["emergency:"+string(s)] = time.Now()
}

// Status is a point-in-time snapshot of every switch, as returned by
// GetStatus.
type Status struct {
	Venues      map[venue.Tag]bool         `json:"venues"`
	Emergencies map[EmergencySwitch]bool   `json:"emergencies"`
}

// GetStatus returns a copy of the current switch state.
func (m *SwitchManager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	venues := make(map[venue.Tag]bool, len(m.venues))
	for v, enabled := range m.venues {
		venues[v] = enabled
	}
	emergencies := make(map[EmergencySwitch]bool, len(m.emergencies))
	for s, active := range m.emergencies {
		emergencies[s] = active
	}
	return Status{Venues: venues, Emergencies: emergencies}
}
