package bridge

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/joshp123/rointe-golang/rointe"
)

func testService() *Service {
	return NewService(nil, "inst1", time.Minute, nil, zap.NewNop().Sugar())
}

func TestMetricsCollector(t *testing.T) {
	s := testService()
	s.devices["dev1"] = &rointe.Device{
		ID:         "dev1",
		Name:       "Hall",
		Type:       "radiator",
		Power:      true,
		Mode:       rointe.ModeManual,
		Temp:       21,
		TempProbe:  19,
		WifiSignal: -60,
		Energy:     &rointe.EnergyData{KWh: 1.5, EffectivePower: 500},
	}
	s.recordPoll(nil)

	expected := `
# HELP rointe_probe_temperature_celsius Current probe temperature per device
# TYPE rointe_probe_temperature_celsius gauge
rointe_probe_temperature_celsius{device_id="dev1",device_name="Hall",device_type="radiator"} 19
# HELP rointe_setpoint_celsius Manual setpoint per device
# TYPE rointe_setpoint_celsius gauge
rointe_setpoint_celsius{device_id="dev1",device_name="Hall",device_type="radiator"} 21
# HELP rointe_power_on_bool Power state per device (1=on, 0=off)
# TYPE rointe_power_on_bool gauge
rointe_power_on_bool{device_id="dev1",device_name="Hall",device_type="radiator"} 1
# HELP rointe_heating_active_bool Heating derived from probe vs target (1=heating, 0=idle/off)
# TYPE rointe_heating_active_bool gauge
rointe_heating_active_bool{device_id="dev1",device_name="Hall",device_type="radiator"} 1
# HELP rointe_energy_kwh Energy consumed in the last observed window
# TYPE rointe_energy_kwh gauge
rointe_energy_kwh{device_id="dev1",device_name="Hall",device_type="radiator"} 1.5
# HELP rointe_poll_success Last poll success (1=ok, 0=error)
# TYPE rointe_poll_success gauge
rointe_poll_success 1
`
	err := testutil.CollectAndCompare(
		NewMetricsCollector(s),
		strings.NewReader(expected),
		"rointe_probe_temperature_celsius",
		"rointe_setpoint_celsius",
		"rointe_power_on_bool",
		"rointe_heating_active_bool",
		"rointe_energy_kwh",
		"rointe_poll_success",
	)
	if err != nil {
		t.Errorf("metrics mismatch: %v", err)
	}
}

func TestMetricsCollectorReportsFailure(t *testing.T) {
	s := testService()
	s.recordPoll(errors.New("discovery failed"))

	c := NewMetricsCollector(s)
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	for range ch {
	}

	if value := testutil.ToFloat64(c.success); value != 0 {
		t.Errorf("rointe_poll_success = %v after failed poll, want 0", value)
	}
}

func TestServiceDevicesSnapshot(t *testing.T) {
	s := testService()
	s.devices["a"] = &rointe.Device{ID: "a"}
	s.devices["b"] = &rointe.Device{ID: "b"}

	devices := s.Devices()
	if len(devices) != 2 {
		t.Fatalf("Devices() = %d entries, want 2", len(devices))
	}

	when, err := s.LastPoll()
	if !when.IsZero() || err != nil {
		t.Errorf("LastPoll before any poll = %v, %v", when, err)
	}
}
