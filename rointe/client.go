package rointe

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client talks to the Rointe cloud. It is a facade over two incompatible
// backends: the legacy Firebase REST API and the Nexa REST+WebSocket API.
// Every public method dispatches once on the active backend and delegates to
// a backend-specific implementation.
//
// Methods are safe to call concurrently for different devices; the token
// refresh path is internally serialized.
type Client struct {
	auth       *authManager
	httpClient *http.Client
	eps        endpoints
	log        *zap.SugaredLogger

	// Nexa-only caches, rebuilt on installation fetches. The energy snapshot
	// is cached until RefreshEnergyStats is called.
	mu          sync.Mutex
	nexaDevices map[string]nexaDeviceMeta
	zoneDevices map[string][]string
	deviceZones map[string]string
	energySnap  *EnergySnapshot
}

type nexaDeviceMeta struct {
	ID           string
	Name         string
	SerialNumber string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client for the given account. No network traffic
// happens until Login is called.
func NewClient(username, password string, backend Backend, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: httpTimeout},
		eps:         defaultEndpoints(),
		log:         zap.NewNop().Sugar(),
		nexaDevices: make(map[string]nexaDeviceMeta),
		zoneDevices: make(map[string][]string),
		deviceZones: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auth = newAuthManager(username, password, backend, c.httpClient, &c.eps, c.log)
	return c
}

// Login authenticates against the requested backend and discards the
// credentials on success.
func (c *Client) Login(ctx context.Context) error {
	return c.auth.Login(ctx)
}

// LoggedIn reports whether the client holds a usable session.
func (c *Client) LoggedIn() bool {
	return c.auth.LoggedIn()
}

// Logout invalidates the session.
func (c *Client) Logout() {
	c.auth.Logout()
}

// Backend reports which backend the session resolved to.
func (c *Client) Backend() Backend {
	if c.auth.UseNexa() {
		return BackendNexa
	}
	return BackendRointe
}

// LocalID returns the account's user id on the active Firebase project.
func (c *Client) LocalID(ctx context.Context) (string, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return "", err
	}
	if id := c.auth.LocalID(); id != "" {
		return id, nil
	}
	return c.legacyAccountLocalID(ctx)
}

// Installations lists the account's installations as id → location name.
func (c *Client) Installations(ctx context.Context) (map[string]string, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}
	if c.auth.UseNexa() {
		return c.nexaInstallations(ctx)
	}
	return c.legacyInstallations(ctx)
}

// Installation fetches one installation's raw tree by id.
func (c *Client) Installation(ctx context.Context, installationID string) (map[string]any, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}
	if c.auth.UseNexa() {
		return c.nexaInstallation(ctx, installationID)
	}
	return c.legacyInstallation(ctx, installationID)
}

// InstallationDevices discovers every device key in an installation. The
// legacy tree nests devices under recursively nested zones; Nexa trees are
// heterogeneous (zones or rooms, devices/radiators/items, maps or lists) and
// inline device metadata is cached opportunistically for later key
// resolution.
func (c *Client) InstallationDevices(ctx context.Context, installationID string) ([]string, error) {
	data, err := c.Installation(ctx, installationID)
	if err != nil {
		return nil, err
	}

	if c.auth.UseNexa() {
		var root any = data
		if zones, ok := data["zones"]; ok {
			root = zones
		} else if rooms, ok := data["rooms"]; ok {
			root = rooms
		}
		devices := dedupe(c.collectNexaDevices(root))
		c.log.Debugw("nexa installation devices", "count", len(devices))
		return devices, nil
	}

	var devices []string
	if zones, ok := data["zones"].(map[string]any); ok {
		for _, zone := range zones {
			zoneMap, _ := zone.(map[string]any)
			devices = append(devices, collectLegacyDevices(zoneMap)...)
		}
	}
	return devices, nil
}

// DevicePayload fetches one device's raw payload in the canonical
// {"data": ..., "serialnumber": ..., "firmware": ...} shape, ready for
// ParseDevice.
func (c *Client) DevicePayload(ctx context.Context, deviceID string) (map[string]any, error) {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}
	if c.auth.UseNexa() {
		return c.nexaDevicePayload(ctx, deviceID)
	}
	return c.legacyDevicePayload(ctx, deviceID)
}

// LatestFirmware returns the newest available firmware per product
// ("type-version" keys). The Nexa backend has no equivalent endpoint, so
// Nexa sessions get an empty map and no error to keep callers
// backend-agnostic.
func (c *Client) LatestFirmware(ctx context.Context) (map[string]string, error) {
	if c.auth.UseNexa() {
		c.log.Debugw("skipping firmware check, endpoint not available on nexa")
		return map[string]string{}, nil
	}
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}
	return c.legacyLatestFirmware(ctx)
}

// LatestEnergyStats retrieves the most recent energy window for a device.
// The legacy backend exposes hourly statistics and is retried backwards up
// to five hours; Nexa has no per-device endpoint, so consumption is
// estimated from the installation-wide snapshot.
func (c *Client) LatestEnergyStats(ctx context.Context, deviceID, installationID string) (*EnergyData, error) {
	if c.auth.UseNexa() {
		if installationID == "" {
			return nil, fmt.Errorf("rointe: installation id required for nexa energy stats")
		}
		serial := deviceID
		c.mu.Lock()
		if meta, ok := c.nexaDevices[deviceID]; ok && meta.SerialNumber != "" {
			serial = meta.SerialNumber
		}
		c.mu.Unlock()
		return c.nexaDeviceEnergy(ctx, serial, installationID)
	}

	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}
	return c.legacyLatestEnergyStats(ctx, deviceID)
}

// SetTemperature writes a manual setpoint. Values are rounded to the nearest
// half degree and rejected outside [TempMin, TempMax].
func (c *Client) SetTemperature(ctx context.Context, device *Device, temp float64) error {
	if temp < TempMin || temp > TempMax {
		return fmt.Errorf("rointe: temperature %.1f out of range %.1f-%.1f", temp, TempMin, TempMax)
	}
	temp = roundToStep(temp)

	if err := c.auth.EnsureValid(ctx); err != nil {
		return err
	}

	if c.auth.UseNexa() {
		body := map[string]any{"temp": temp, "mode": 0, "power": 2, "status": PresetNone}
		return c.nexaWrite(ctx, c.nexaDeviceKey(device), body)
	}

	body := map[string]any{"temp": temp, "mode": ModeManual, "power": true}
	return c.legacyPatchDeviceData(ctx, device.ID, body)
}

// SetPreset switches the device to one of the comfort/eco/ice presets,
// writing the preset's temperature alongside.
func (c *Client) SetPreset(ctx context.Context, device *Device, preset string) error {
	var target float64
	switch preset {
	case PresetComfort:
		target = device.ComfortTemp
	case PresetEco:
		target = device.EcoTemp
	case PresetIce:
		target = device.IceTemp
	default:
		return fmt.Errorf("rointe: invalid preset %q", preset)
	}

	if err := c.auth.EnsureValid(ctx); err != nil {
		return err
	}

	if c.auth.UseNexa() {
		body := map[string]any{"temp": target, "mode": 0, "power": 2, "status": PresetNone}
		return c.nexaWrite(ctx, c.nexaDeviceKey(device), body)
	}

	body := map[string]any{"power": true, "mode": ModeManual, "temp": target, "status": preset}
	return c.legacyPatchDeviceData(ctx, device.ID, body)
}

// SetHVACMode switches between off, heat and auto. On the legacy backend
// some transitions need multiple ordered writes; a later step is only issued
// when the previous one succeeded.
func (c *Client) SetHVACMode(ctx context.Context, device *Device, mode HVACMode) error {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return err
	}

	if c.auth.UseNexa() {
		return c.nexaSetHVACMode(ctx, device, mode)
	}
	return c.legacySetHVACMode(ctx, device, mode)
}

// SetField writes a single named raw field, used by switch and number
// surfaces (windows_open_mode, silence_mode, comfort, um_max_temp, ...).
func (c *Client) SetField(ctx context.Context, device *Device, field string, value any) error {
	if err := c.auth.EnsureValid(ctx); err != nil {
		return err
	}

	if c.auth.UseNexa() {
		return c.nexaWrite(ctx, c.nexaDeviceKey(device), map[string]any{field: value})
	}
	return c.legacyPatchDeviceData(ctx, device.ID, map[string]any{field: value})
}

// RefreshEnergyStats drops the cached Nexa installation snapshot so the next
// energy query re-fetches it. No-op for legacy sessions.
func (c *Client) RefreshEnergyStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.energySnap = nil
}

// nexaDeviceKey resolves the Firebase routing key for a device: its serial
// number when known, otherwise the raw device id.
func (c *Client) nexaDeviceKey(device *Device) string {
	if device.SerialNumber != "" {
		return device.SerialNumber
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta, ok := c.nexaDevices[device.ID]; ok && meta.SerialNumber != "" {
		return meta.SerialNumber
	}
	return device.ID
}

func roundToStep(temp float64) float64 {
	return math.Round(temp/TempStep) * TempStep
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
