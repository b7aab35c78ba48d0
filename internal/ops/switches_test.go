package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundingedge/internal/venue"
)

func TestNewSwitchManager_DefaultsAllVenuesEnabled(t *testing.T) {
	m := NewSwitchManager(VenueSwitchConfig{})
	for _, v := range venue.All {
		require.True(t, m.IsVenueEnabled(v), "venue %s should default to enabled", v)
	}
	require.Len(t, m.EnabledVenues(), len(venue.All))
}

func TestNewSwitchManager_ConfigOverridesDefault(t *testing.T) {
	m := NewSwitchManager(VenueSwitchConfig{Enabled: map[venue.Tag]bool{venue.Hyena: false}})
	require.False(t, m.IsVenueEnabled(venue.Hyena))
	require.True(t, m.IsVenueEnabled(venue.Lighter))
}

func TestSetVenue_TogglesRuntimeState(t *testing.T) {
	m := NewSwitchManager(VenueSwitchConfig{})
	m.SetVenue(venue.Paradex, false)
	require.False(t, m.IsVenueEnabled(venue.Paradex))

	m.SetVenue(venue.Paradex, true)
	require.True(t, m.IsVenueEnabled(venue.Paradex))
}

func TestEmergencySwitches_DefaultInactive(t *testing.T) {
	m := NewSwitchManager(VenueSwitchConfig{})
	require.False(t, m.IsEmergencyActive(SwitchIngestion))
	require.False(t, m.IsEmergencyActive(SwitchReadOnly))

	m.SetEmergency(SwitchReadOnly, true)
	require.True(t, m.IsEmergencyActive(SwitchReadOnly))
	require.False(t, m.IsEmergencyActive(SwitchIngestion))
}

func TestGetStatus_ReflectsCurrentState(t *testing.T) {
	m := NewSwitchManager(VenueSwitchConfig{Enabled: map[venue.Tag]bool{venue.Hyena: false}})
	m.SetEmergency(SwitchIngestion, true)

	status := m.GetStatus()
	require.False(t, status.Venues[venue.Hyena])
	require.True(t, status.Emergencies[SwitchIngestion])
}
