package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/rointe-golang/rointe"
)

// MetricsCollector exposes the polled device state as Prometheus metrics.
type MetricsCollector struct {
	service *Service

	temp           *prometheus.GaugeVec
	setpoint       *prometheus.GaugeVec
	effectiveTemp  *prometheus.GaugeVec
	powerOn        *prometheus.GaugeVec
	heatingActive  *prometheus.GaugeVec
	energyKWh      *prometheus.GaugeVec
	effectivePower *prometheus.GaugeVec
	wifiSignal     *prometheus.GaugeVec
	lastSync       *prometheus.GaugeVec
	lastSuccess    prometheus.Gauge
	success        prometheus.Gauge
}

func NewMetricsCollector(service *Service) *MetricsCollector {
	labels := []string{"device_id", "device_name", "device_type"}
	return &MetricsCollector{
		service: service,
		temp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_probe_temperature_celsius",
			Help: "Current probe temperature per device",
		}, labels),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_setpoint_celsius",
			Help: "Manual setpoint per device",
		}, labels),
		effectiveTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_effective_target_celsius",
			Help: "Effective target temperature per device (mode and schedule resolved)",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_power_on_bool",
			Help: "Power state per device (1=on, 0=off)",
		}, labels),
		heatingActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_heating_active_bool",
			Help: "Heating derived from probe vs target (1=heating, 0=idle/off)",
		}, labels),
		energyKWh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_energy_kwh",
			Help: "Energy consumed in the last observed window",
		}, labels),
		effectivePower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_effective_power_watts",
			Help: "Effective power in the last observed window",
		}, labels),
		wifiSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_wifi_signal_dbm",
			Help: "WiFi signal strength per device",
		}, labels),
		lastSync: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rointe_device_last_sync_timestamp_seconds",
			Help: "Device-side last sync timestamp (epoch seconds)",
		}, labels),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rointe_last_success_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rointe_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.temp.Describe(ch)
	c.setpoint.Describe(ch)
	c.effectiveTemp.Describe(ch)
	c.powerOn.Describe(ch)
	c.heatingActive.Describe(ch)
	c.energyKWh.Describe(ch)
	c.effectivePower.Describe(ch)
	c.wifiSignal.Describe(ch)
	c.lastSync.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	now := time.Now()

	c.temp.Reset()
	c.setpoint.Reset()
	c.effectiveTemp.Reset()
	c.powerOn.Reset()
	c.heatingActive.Reset()
	c.energyKWh.Reset()
	c.effectivePower.Reset()
	c.wifiSignal.Reset()
	c.lastSync.Reset()

	for _, device := range c.service.Devices() {
		labels := prometheus.Labels{
			"device_id":   device.ID,
			"device_name": device.Name,
			"device_type": device.Type,
		}
		c.temp.With(labels).Set(device.TempProbe)
		c.setpoint.With(labels).Set(device.Temp)
		c.effectiveTemp.With(labels).Set(device.EffectiveTargetTemp(now))
		c.powerOn.With(labels).Set(boolToFloat(device.Power))
		c.heatingActive.With(labels).Set(boolToFloat(device.HeatingAction(now) == rointe.ActionHeating))
		c.wifiSignal.With(labels).Set(float64(device.WifiSignal))
		if !device.LastSyncDevice.IsZero() {
			c.lastSync.With(labels).Set(float64(device.LastSyncDevice.Unix()))
		}
		if device.Energy != nil {
			c.energyKWh.With(labels).Set(device.Energy.KWh)
			c.effectivePower.With(labels).Set(device.Energy.EffectivePower)
		}
	}

	lastPoll, err := c.service.LastPoll()
	if err == nil && !lastPoll.IsZero() {
		c.success.Set(1)
		c.lastSuccess.Set(float64(lastPoll.Unix()))
	} else {
		c.success.Set(0)
	}

	c.temp.Collect(ch)
	c.setpoint.Collect(ch)
	c.effectiveTemp.Collect(ch)
	c.powerOn.Collect(ch)
	c.heatingActive.Collect(ch)
	c.energyKWh.Collect(ch)
	c.effectivePower.Collect(ch)
	c.wifiSignal.Collect(ch)
	c.lastSync.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
