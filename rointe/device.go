package rointe

import (
	"strconv"
	"strings"
	"time"
)

// Operation modes and presets as they appear on the wire.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"

	PresetComfort = "comfort"
	PresetEco     = "eco"
	PresetIce     = "ice"
	PresetNone    = "none"
	PresetOff     = "off"
)

// HVACMode is the user-facing mode for SetHVACMode.
type HVACMode string

const (
	HVACOff  HVACMode = "off"
	HVACHeat HVACMode = "heat"
	HVACAuto HVACMode = "auto"
)

// SupportedDeviceTypes lists the device type strings the client understands.
var SupportedDeviceTypes = []string{
	"radiator", "towel", "therm", "radiatorb", "acs", "storage", "oval_towel",
}

// EnergyData is one observed (or estimated) energy consumption window.
type EnergyData struct {
	Created        time.Time
	WindowStart    time.Time
	WindowEnd      time.Time
	KWh            float64
	EffectivePower float64
}

// Device is the canonical, backend-agnostic representation of one physical
// unit. It is built from the loosely-typed payloads both backends return and
// is refreshed in place on every poll cycle.
type Device struct {
	ID             string
	Name           string
	SerialNumber   string
	Type           string
	ProductVersion string

	FirmwareVersion       string
	LatestFirmwareVersion string
	HardwareVersion       string

	NominalPower          int
	NominalEffectivePower int

	Power  bool
	Preset string
	Mode   string

	Temp        float64
	TempCalc    float64
	TempProbe   float64
	TempSurface float64
	TempFloor   float64

	ComfortTemp float64
	EcoTemp     float64
	IceTemp     float64

	// Only meaningful when ProductVersion == "v2"; zeroed otherwise.
	UserMode        bool
	UserModeMinTemp float64
	UserModeMaxTemp float64

	IceMode bool

	schedule     map[int]string
	ScheduleDay  int
	ScheduleHour int

	// Heating status reported by the backend: 0=off, 1=maintaining,
	// 2=actively heating. Known to go stale; see HeatingAction.
	StatusWarming int

	IsAlive    bool
	WifiSignal int
	WifiSSID   string

	BoostActive    bool
	BoostCountdown int

	TimerMode bool
	TimerTime int
	TimerTemp float64

	WindowsOpenMode   bool
	WindowsOpenStatus bool

	BlockLocal  bool
	BlockRemote bool

	SilenceMode bool

	DontDisturbMode  bool
	DontDisturbStart int
	DontDisturbEnd   int

	PIRMode   bool
	Backlight int
	LedbarOn  int
	PilotMode bool

	HasFloorProbe bool
	UseFloorProbe bool

	// Water heaters only.
	LegionellaMode   int
	LegionellaStatus bool

	// Storage heaters only.
	Charging         bool
	ChargePercentage int

	Energy *EnergyData

	LastSyncApp    time.Time
	LastSyncDevice time.Time
}

// ParseDevice builds a Device from a raw payload of the shape
// {"data": {...}, "serialnumber": "...", "firmware": {...}}. Missing or
// malformed fields degrade to zero-value defaults; parsing never fails.
// prevEnergy and latestFW carry forward values the payload does not contain.
func ParseDevice(id string, payload map[string]any, prevEnergy *EnergyData, latestFW string) *Device {
	d := &Device{ID: id}
	d.Update(payload, prevEnergy, latestFW)
	return d
}

// Update re-parses a fresh payload into the device, fully recomputing every
// field rather than merging.
func (d *Device) Update(payload map[string]any, prevEnergy *EnergyData, latestFW string) {
	data, _ := payload["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	d.SerialNumber = stringField(payload, "serialnumber", d.SerialNumber)
	d.Type = stringField(data, "type", d.Type)
	d.ProductVersion = strings.ToLower(stringField(data, "product_version", d.ProductVersion))

	d.Name = stringField(data, "name", "")
	d.NominalPower = intField(data, "nominal_power", 0)
	d.NominalEffectivePower = intField(data, "nominal_effective_power", d.NominalPower)

	status := stringField(data, "status", PresetNone)
	d.Preset = status
	d.Power = normalizePower(data["power"], status)
	d.Mode = normalizeMode(data["mode"])

	d.Temp = floatField(data, "temp", 0)
	d.TempCalc = floatField(data, "temp_calc", d.Temp)
	d.TempProbe = floatField(data, "temp_probe", d.Temp)
	d.TempSurface = floatField(data, "temp_surface", 0)
	d.TempFloor = floatField(data, "temp_floor", 0)

	d.ComfortTemp = floatField(data, "comfort", d.Temp)
	d.EcoTemp = floatField(data, "eco", d.Temp)
	d.IceTemp = floatField(data, "ice", d.Temp)

	// User mode bounds are only valid on v2 hardware.
	if d.ProductVersion == "v2" {
		d.UserModeMaxTemp = floatField(data, "um_max_temp", 0)
		d.UserModeMinTemp = floatField(data, "um_min_temp", 0)
		d.UserMode = boolField(data, "user_mode", false)
	} else {
		d.UserModeMaxTemp = 0
		d.UserModeMinTemp = 0
		d.UserMode = false
	}

	d.IceMode = boolField(data, "ice_mode", false)
	d.schedule = parseSchedule(data["schedule"])
	d.ScheduleDay = intField(data, "schedule_day", 0)
	d.ScheduleHour = intField(data, "schedule_hour", 0)

	d.StatusWarming = intField(data, "status_warming", 0)

	d.IsAlive = boolField(data, "is_alive", true)
	d.WifiSignal = intField(data, "wifisignal", 0)
	d.WifiSSID = stringField(data, "wifissid", "")

	d.BoostActive = boolField(data, "boost_active", false)
	d.BoostCountdown = intField(data, "boost_countdown", 0)

	d.TimerMode = boolField(data, "timer_mode", false)
	d.TimerTime = intField(data, "timer_time", 0)
	d.TimerTemp = floatField(data, "timer_temp", d.Temp)

	d.WindowsOpenMode = boolField(data, "windows_open_mode", false)
	d.WindowsOpenStatus = boolField(data, "windows_open_status", false)

	d.BlockLocal = boolField(data, "block_local", false)
	d.BlockRemote = boolField(data, "block_remote", false)

	d.SilenceMode = boolField(data, "silence_mode", false)

	d.DontDisturbMode = boolField(data, "dont_disturb_mode", false)
	d.DontDisturbStart = intField(data, "dont_disturb_start", 0)
	d.DontDisturbEnd = intField(data, "dont_disturb_end", 0)

	d.PIRMode = boolField(data, "pir_mode", false)
	d.Backlight = intField(data, "backlight", 0)
	d.LedbarOn = intField(data, "ledbar_on", 0)
	d.PilotMode = boolField(data, "pilot_mode", false)

	d.HasFloorProbe = boolField(data, "has_floor_probe", false)
	d.UseFloorProbe = boolField(data, "use_floor_probe", false)

	d.LegionellaMode = intField(data, "legionella_mode", 0)
	d.LegionellaStatus = boolField(data, "legionella_status", false)

	d.Charging = boolField(data, "charging", false)
	d.ChargePercentage = intField(data, "charge_percentage", 0)

	d.Energy = prevEnergy

	d.LastSyncApp = epochMillisField(data, "last_sync_datetime_app")
	d.LastSyncDevice = epochMillisField(data, "last_sync_datetime_device")

	if firmware, ok := payload["firmware"].(map[string]any); ok {
		fw := stringField(firmware, "firmware_version_device", "")
		if fw == "" {
			fw = stringField(firmware, "firmware_version", "")
		}
		d.FirmwareVersion = fw
		d.HardwareVersion = stringField(firmware, "hardware_version", "")
	} else {
		d.FirmwareVersion = ""
		d.HardwareVersion = ""
	}

	d.LatestFirmwareVersion = latestFW
}

// normalizePower reconciles the three power encodings seen on the wire. An
// explicit "off" status wins; a numeric power uses Nexa semantics (2=on,
// anything else off); otherwise the value is coerced to bool directly.
func normalizePower(raw any, status string) bool {
	if status == PresetOff {
		return false
	}
	if n, ok := toInt(raw); ok {
		return n == 2
	}
	return toBool(raw)
}

// normalizeMode maps 0/"0" to manual and 1/"1" to auto; any other string
// passes through unchanged.
func normalizeMode(raw any) string {
	if raw == nil {
		return ModeManual
	}
	if n, ok := toInt(raw); ok {
		switch n {
		case 0:
			return ModeManual
		case 1:
			return ModeAuto
		}
	}
	if s, ok := raw.(string); ok && s != "" {
		return s
	}
	return ModeManual
}

// UserModeSupported reports whether user mode bounds apply to this device.
func (d *Device) UserModeSupported() bool {
	return d.ProductVersion == "v2"
}

// IsWaterHeater reports whether legionella fields are meaningful.
func (d *Device) IsWaterHeater() bool {
	return d.Type == "acs"
}

// IsStorageHeater reports whether charging fields are meaningful.
func (d *Device) IsStorageHeater() bool {
	return d.Type == "storage"
}

// SupportedType reports whether the device type is one the client knows how
// to model. Installations can carry hardware this client has no mapping for.
func (d *Device) SupportedType() bool {
	for _, t := range SupportedDeviceTypes {
		if d.Type == t {
			return true
		}
	}
	return false
}

// Product returns a "type-version" key used to look the device up in the
// latest-firmware map.
func (d *Device) Product() string {
	return d.Type + "-" + d.ProductVersion
}

// Loose-typed field readers. JSON numbers arrive as float64; both backends
// also emit numeric strings and integer-encoded booleans.

func stringField(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return def
}

func floatField(m map[string]any, key string, def float64) float64 {
	if f, ok := toFloat(m[key]); ok {
		return f
	}
	return def
}

func intField(m map[string]any, key string, def int) int {
	if n, ok := toInt(m[key]); ok {
		return n
	}
	return def
}

func boolField(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	return toBool(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s != "" && s != "false" && s != "0"
	}
	return false
}

func epochMillisField(m map[string]any, key string) time.Time {
	if ms, ok := toInt(m[key]); ok && ms > 0 {
		return time.UnixMilli(int64(ms))
	}
	return time.Now()
}
