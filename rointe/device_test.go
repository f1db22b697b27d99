package rointe

import (
	"testing"
	"time"
)

func TestParseDeviceDefaults(t *testing.T) {
	d := ParseDevice("dev1", map[string]any{}, nil, "")

	if d.ID != "dev1" {
		t.Errorf("ID = %q, want dev1", d.ID)
	}
	if d.Power {
		t.Error("Power = true, want false")
	}
	if d.Mode != ModeManual {
		t.Errorf("Mode = %q, want manual", d.Mode)
	}
	if d.Preset != PresetNone {
		t.Errorf("Preset = %q, want none", d.Preset)
	}
	if !d.IsAlive {
		t.Error("IsAlive = false, want true")
	}
	if d.Temp != 0 || d.ComfortTemp != 0 {
		t.Errorf("temps = %v/%v, want zero", d.Temp, d.ComfortTemp)
	}
}

func TestParseDeviceFull(t *testing.T) {
	payload := map[string]any{
		"serialnumber": "SN123",
		"data": map[string]any{
			"name":            "Living Room",
			"type":            "radiator",
			"product_version": "V2",
			"nominal_power":   float64(1500),
			"power":           true,
			"status":          "comfort",
			"mode":            "manual",
			"temp":            21.5,
			"temp_probe":      19.0,
			"comfort":         22.0,
			"eco":             18.0,
			"ice":             7.0,
			"um_max_temp":     30.0,
			"um_min_temp":     10.0,
			"user_mode":       true,
			"wifisignal":      float64(-61),
			"wifissid":        "homenet",
			"last_sync_datetime_app": float64(1700000000000),
		},
		"firmware": map[string]any{
			"firmware_version_device": "1.4.9",
			"hardware_version":        "c",
		},
	}

	d := ParseDevice("dev1", payload, nil, "1.5.0")

	if d.SerialNumber != "SN123" {
		t.Errorf("SerialNumber = %q", d.SerialNumber)
	}
	if d.Name != "Living Room" || d.Type != "radiator" {
		t.Errorf("Name/Type = %q/%q", d.Name, d.Type)
	}
	if d.ProductVersion != "v2" {
		t.Errorf("ProductVersion = %q, want v2 (lowercased)", d.ProductVersion)
	}
	if !d.Power {
		t.Error("Power = false, want true")
	}
	if d.Temp != 21.5 || d.TempProbe != 19.0 {
		t.Errorf("Temp/TempProbe = %v/%v", d.Temp, d.TempProbe)
	}
	if d.ComfortTemp != 22.0 || d.EcoTemp != 18.0 || d.IceTemp != 7.0 {
		t.Errorf("preset temps = %v/%v/%v", d.ComfortTemp, d.EcoTemp, d.IceTemp)
	}
	if !d.UserMode || d.UserModeMaxTemp != 30.0 || d.UserModeMinTemp != 10.0 {
		t.Errorf("user mode = %v/%v/%v", d.UserMode, d.UserModeMinTemp, d.UserModeMaxTemp)
	}
	if d.WifiSignal != -61 || d.WifiSSID != "homenet" {
		t.Errorf("wifi = %v/%q", d.WifiSignal, d.WifiSSID)
	}
	if d.FirmwareVersion != "1.4.9" || d.LatestFirmwareVersion != "1.5.0" {
		t.Errorf("firmware = %q latest %q", d.FirmwareVersion, d.LatestFirmwareVersion)
	}
	want := time.UnixMilli(1700000000000)
	if !d.LastSyncApp.Equal(want) {
		t.Errorf("LastSyncApp = %v, want %v", d.LastSyncApp, want)
	}
	if d.Product() != "radiator-v2" {
		t.Errorf("Product() = %q", d.Product())
	}
	if !d.UserModeSupported() {
		t.Error("UserModeSupported() = false on v2")
	}
}

func TestParseDeviceV1IgnoresUserMode(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"product_version": "v1",
			"um_max_temp":     30.0,
			"um_min_temp":     10.0,
			"user_mode":       true,
		},
	}
	d := ParseDevice("dev1", payload, nil, "")

	if d.UserMode || d.UserModeMaxTemp != 0 || d.UserModeMinTemp != 0 {
		t.Errorf("user mode fields populated on v1: %v/%v/%v",
			d.UserMode, d.UserModeMinTemp, d.UserModeMaxTemp)
	}
	if d.UserModeSupported() {
		t.Error("UserModeSupported() = true on v1")
	}
}

func TestNormalizePower(t *testing.T) {
	tests := []struct {
		raw    any
		status string
		want   bool
	}{
		{true, "none", true},
		{false, "none", false},
		{true, "off", false},
		{float64(2), "none", true},
		{float64(1), "none", false},
		{float64(0), "none", false},
		{"2", "none", true},
		{"1", "none", false},
		{"true", "none", true},
		{"false", "none", false},
		{nil, "none", false},
		{float64(2), "off", false},
	}
	for _, tt := range tests {
		if got := normalizePower(tt.raw, tt.status); got != tt.want {
			t.Errorf("normalizePower(%v, %q) = %v, want %v", tt.raw, tt.status, got, tt.want)
		}
	}
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		raw  any
		want string
	}{
		{float64(0), ModeManual},
		{float64(1), ModeAuto},
		{"0", ModeManual},
		{"1", ModeAuto},
		{"manual", ModeManual},
		{"auto", ModeAuto},
		{"boost", "boost"},
		{nil, ModeManual},
		{"", ModeManual},
	}
	for _, tt := range tests {
		if got := normalizeMode(tt.raw); got != tt.want {
			t.Errorf("normalizeMode(%v) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestUpdateRecomputesEverything(t *testing.T) {
	d := ParseDevice("dev1", map[string]any{
		"data": map[string]any{
			"name": "Old", "power": true, "status": "comfort", "temp": 22.0,
			"silence_mode": true,
		},
	}, nil, "")

	d.Update(map[string]any{
		"data": map[string]any{"name": "New", "temp": 19.0},
	}, nil, "")

	if d.Name != "New" || d.Temp != 19.0 {
		t.Errorf("Name/Temp = %q/%v after update", d.Name, d.Temp)
	}
	if d.Power {
		t.Error("Power survived an update that omitted it")
	}
	if d.SilenceMode {
		t.Error("SilenceMode survived an update that omitted it")
	}
	if d.Preset != PresetNone {
		t.Errorf("Preset = %q, want none", d.Preset)
	}
}

func TestUpdateCarriesEnergyForward(t *testing.T) {
	prev := &EnergyData{KWh: 1.25}
	d := ParseDevice("dev1", map[string]any{}, prev, "")
	if d.Energy != prev {
		t.Error("Energy not carried through from prevEnergy")
	}
}

func TestDeviceTypeHelpers(t *testing.T) {
	d := &Device{Type: "acs"}
	if !d.IsWaterHeater() || d.IsStorageHeater() {
		t.Error("acs classification wrong")
	}
	d.Type = "storage"
	if d.IsWaterHeater() || !d.IsStorageHeater() {
		t.Error("storage classification wrong")
	}
	d.Type = "radiator"
	if d.IsWaterHeater() || d.IsStorageHeater() {
		t.Error("radiator classification wrong")
	}

	for _, typ := range SupportedDeviceTypes {
		if !(&Device{Type: typ}).SupportedType() {
			t.Errorf("SupportedType() = false for %q", typ)
		}
	}
	if (&Device{Type: "doorbell"}).SupportedType() {
		t.Error("SupportedType() = true for unknown type")
	}
	if (&Device{}).SupportedType() {
		t.Error("SupportedType() = true for missing type")
	}
}

func TestFirmwareVersionFallbackKey(t *testing.T) {
	d := ParseDevice("dev1", map[string]any{
		"firmware": map[string]any{"firmware_version": "2.0.1"},
	}, nil, "")
	if d.FirmwareVersion != "2.0.1" {
		t.Errorf("FirmwareVersion = %q, want 2.0.1", d.FirmwareVersion)
	}
}

func TestLooseFieldCoercion(t *testing.T) {
	data := map[string]any{
		"a": "21.5", "b": float64(3), "c": "nope", "d": true, "e": "0",
	}
	if f := floatField(data, "a", 0); f != 21.5 {
		t.Errorf("floatField string = %v", f)
	}
	if n := intField(data, "b", 0); n != 3 {
		t.Errorf("intField float = %v", n)
	}
	if f := floatField(data, "c", 9.5); f != 9.5 {
		t.Errorf("floatField garbage = %v, want default", f)
	}
	if !boolField(data, "d", false) {
		t.Error("boolField true = false")
	}
	if boolField(data, "e", true) {
		t.Error(`boolField "0" = true`)
	}
	if s := stringField(data, "b", ""); s != "3" {
		t.Errorf("stringField float = %q", s)
	}
	if f := floatField(data, "missing", 7.0); f != 7.0 {
		t.Errorf("floatField missing = %v, want default", f)
	}
}
