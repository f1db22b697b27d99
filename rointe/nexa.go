package rointe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Nexa backend: REST for discovery and statistics, websocket RPC for live
// device reads and writes. The REST side has shipped several auth header
// conventions; requests cycle through them until one stops returning 401.

var nexaHeaderVariants = []struct {
	name  string
	build func(token string) map[string]string
}{
	// The current API wants the bare 'token' header, not Authorization.
	{"token-header", func(t string) map[string]string { return map[string]string{"token": t} }},
	{"bearer", func(t string) map[string]string { return map[string]string{"Authorization": "Bearer " + t} }},
	{"token", func(t string) map[string]string { return map[string]string{"Authorization": t} }},
	{"x-access-token", func(t string) map[string]string { return map[string]string{"x-access-token": t} }},
	{"bearer+x-access-token", func(t string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + t, "x-access-token": t}
	}},
}

func (c *Client) nexaGet(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	tokens := c.auth.NexaTokens()
	if len(tokens) == 0 {
		return nil, AuthError{Reason: "nexa token missing"}
	}

	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	var lastStatus int
	var lastBody []byte
	for _, token := range tokens {
		for _, variant := range nexaHeaderVariants {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			for key, value := range variant.build(token) {
				req.Header.Set(key, value)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("nexa get: %w", err)
			}
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return nil, readErr
			}

			if resp.StatusCode == http.StatusUnauthorized {
				c.log.Debugw("nexa request unauthorized", "headers", variant.name)
				lastStatus, lastBody = resp.StatusCode, body
				continue
			}
			if resp.StatusCode != http.StatusOK {
				return nil, HTTPStatusError{Op: "nexa get", Status: resp.StatusCode, Body: string(body)}
			}
			return body, nil
		}
	}

	return nil, HTTPStatusError{Op: "nexa get", Status: lastStatus, Body: string(lastBody)}
}

func (c *Client) nexaInstallations(ctx context.Context) (map[string]string, error) {
	body, err := c.nexaGet(ctx, c.eps.nexaAPI+nexaInstallsPath, nil)
	if err != nil {
		return nil, err
	}

	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("nexa installations: %w", err)
	}

	data := res["data"]
	if data == nil {
		data = any(res)
	}

	installations := make(map[string]string)
	switch items := data.(type) {
	case []any:
		for _, raw := range items {
			item, _ := raw.(map[string]any)
			if item == nil {
				continue
			}
			id := firstString(item, "id", "_id", "uuid", "installation_id")
			if id == "" {
				continue
			}
			name := firstString(item, "location", "name", "address")
			if name == "" {
				name = id
			}
			installations[id] = name
		}
	case map[string]any:
		for key, raw := range items {
			if item, ok := raw.(map[string]any); ok {
				name := firstString(item, "location", "name")
				if name == "" {
					name = key
				}
				installations[key] = name
			} else {
				installations[key] = fmt.Sprintf("%v", raw)
			}
		}
	default:
		return nil, fmt.Errorf("nexa installations: unknown format")
	}

	if len(installations) == 0 {
		return nil, fmt.Errorf("nexa installations: %w", ErrNotFound)
	}
	return installations, nil
}

func (c *Client) nexaInstallation(ctx context.Context, installationID string) (map[string]any, error) {
	body, err := c.nexaGet(ctx, c.eps.nexaAPI+nexaInstallsPath+"/"+installationID, nil)
	if err != nil {
		return nil, err
	}

	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("nexa installation: %w", err)
	}

	data, _ := res["data"].(map[string]any)
	if data == nil {
		data = res
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("nexa installation %s: %w", installationID, ErrNotFound)
	}

	c.buildZoneDeviceMaps(data)
	return data, nil
}

// buildZoneDeviceMaps rebuilds the zone attribution maps the energy
// estimator depends on. Called on every installation fetch.
func (c *Client) buildZoneDeviceMaps(installation map[string]any) {
	zones, ok := installation["zones"].([]any)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rawZone := range zones {
		zone, _ := rawZone.(map[string]any)
		if zone == nil {
			continue
		}
		zoneID := stringField(zone, "id", "")
		if zoneID == "" {
			continue
		}

		var serials []string
		if devices, ok := zone["devices"].([]any); ok {
			for _, rawDev := range devices {
				dev, _ := rawDev.(map[string]any)
				if dev == nil {
					continue
				}
				serial := firstString(dev, "serialNumber", "mac")
				if serial == "" {
					continue
				}
				serials = append(serials, serial)
				c.deviceZones[serial] = zoneID
			}
		}
		c.zoneDevices[zoneID] = serials
	}
}

// collectNexaDevices walks the heterogeneous Nexa installation tree. Device
// blocks may appear under devices, radiators or items, as maps or lists;
// inline metadata is cached for later key and serial resolution.
func (c *Client) collectNexaDevices(node any) []string {
	var devices []string

	switch block := node.(type) {
	case []any:
		for _, item := range block {
			devices = append(devices, c.collectNexaDevices(item)...)
		}

	case map[string]any:
		deviceBlock := block["devices"]
		if deviceBlock == nil {
			deviceBlock = block["radiators"]
		}
		if deviceBlock == nil {
			deviceBlock = block["items"]
		}

		switch typed := deviceBlock.(type) {
		case map[string]any:
			for id, rawDev := range typed {
				if dev, ok := rawDev.(map[string]any); ok {
					c.cacheNexaDevice(id, dev)
				}
				devices = append(devices, id)
			}
		case []any:
			for _, rawDev := range typed {
				dev, _ := rawDev.(map[string]any)
				if dev == nil {
					continue
				}
				id := firstString(dev, "id", "_id", "uuid", "device_id")
				if id == "" {
					continue
				}
				c.cacheNexaDevice(id, dev)
				devices = append(devices, id)
			}
		}

		subZones := block["zones"]
		if subZones == nil {
			subZones = block["rooms"]
		}
		devices = append(devices, c.collectNexaDevices(subZones)...)
	}

	return devices
}

func (c *Client) cacheNexaDevice(id string, dev map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nexaDevices[id]; ok {
		return
	}
	c.nexaDevices[id] = nexaDeviceMeta{
		ID:           id,
		Name:         stringField(dev, "name", ""),
		SerialNumber: stringField(dev, "serialNumber", ""),
	}
}

// nexaDevicePayload reads a device over the websocket. There is no single
// canonical path: serial-keyed paths are tried before id-keyed ones, each
// with and without the /data suffix, short-circuiting on the first
// structured result. Results without a nested data key are wrapped into the
// canonical payload shape using cached metadata; firmware is a second,
// best-effort read.
func (c *Client) nexaDevicePayload(ctx context.Context, deviceID string) (map[string]any, error) {
	c.mu.Lock()
	meta := c.nexaDevices[deviceID]
	c.mu.Unlock()

	var paths []string
	if meta.SerialNumber != "" {
		paths = append(paths,
			"/devices/"+meta.SerialNumber+"/data",
			"/devices/"+meta.SerialNumber,
		)
	}
	paths = append(paths,
		"/devices/"+deviceID+"/data",
		"/devices/"+deviceID,
	)

	for _, path := range paths {
		raw, err := c.wsRead(ctx, path)
		if err != nil {
			c.log.Debugw("nexa websocket read failed", "path", path, "err", err)
			continue
		}

		block, ok := raw.(map[string]any)
		if !ok || len(block) == 0 {
			continue
		}

		if _, hasData := block["data"]; hasData {
			return block, nil
		}

		if meta.Name != "" {
			if _, ok := block["name"]; !ok {
				block["name"] = meta.Name
			}
		}
		payload := map[string]any{"data": block}
		if meta.SerialNumber != "" {
			payload["serialnumber"] = meta.SerialNumber

			if firmware, err := c.wsRead(ctx, "/devices/"+meta.SerialNumber+"/firmware"); err == nil {
				if fw, ok := firmware.(map[string]any); ok && len(fw) > 0 {
					if _, ok := fw["firmware_version_device"]; !ok {
						if v, ok := fw["firmware_version"]; ok {
							fw["firmware_version_device"] = v
						}
					}
					payload["firmware"] = fw
				}
			}
		}
		return payload, nil
	}

	return nil, fmt.Errorf("device %s: websocket read failed: %w", deviceID, ErrNotFound)
}

// nexaSetHVACMode builds the single websocket write for a mode change.
// Power is 1=standby, 2=heating; mode is 0=manual, 1=auto on the wire.
func (c *Client) nexaSetHVACMode(ctx context.Context, device *Device, mode HVACMode) error {
	key := c.nexaDeviceKey(device)

	switch mode {
	case HVACOff:
		return c.nexaWrite(ctx, key, map[string]any{"power": 1, "mode": 0, "status": PresetOff})
	case HVACHeat:
		return c.nexaWrite(ctx, key, map[string]any{
			"temp": device.ComfortTemp, "mode": 0, "power": 2, "status": PresetNone,
		})
	case HVACAuto:
		// No temperature here: the radiator follows its own schedule.
		return c.nexaWrite(ctx, key, map[string]any{"mode": 1, "power": 2, "status": PresetNone})
	default:
		return fmt.Errorf("rointe: invalid hvac mode %q", mode)
	}
}

// nexaEnergySnapshot returns the cached installation-wide consumption
// snapshot, fetching it when absent.
func (c *Client) nexaEnergySnapshot(ctx context.Context, installationID string) (*EnergySnapshot, error) {
	c.mu.Lock()
	snap := c.energySnap
	c.mu.Unlock()
	if snap != nil {
		return snap, nil
	}

	params := url.Values{"installation": {installationID}}
	body, err := c.nexaGet(ctx, c.eps.nexaAPI+nexaStatsPath, params)
	if err != nil {
		return nil, err
	}

	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("nexa statistics: %w", err)
	}
	data, _ := res["data"].(map[string]any)
	if data == nil {
		data = res
	}

	snap = parseEnergySnapshot(data)
	c.log.Debugw("nexa statistics",
		"energy_kwh", snap.EnergyKWh, "cost", snap.Cost, "zones", len(snap.Zones))

	c.mu.Lock()
	c.energySnap = snap
	c.mu.Unlock()
	return snap, nil
}

// nexaDeviceEnergy estimates one device's consumption from the installation
// snapshot, since Nexa exposes no per-device endpoint.
func (c *Client) nexaDeviceEnergy(ctx context.Context, deviceSerial, installationID string) (*EnergyData, error) {
	snap, err := c.nexaEnergySnapshot(ctx, installationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	zoneDevices := c.zoneDevices
	deviceZones := c.deviceZones
	c.mu.Unlock()

	kwh, err := estimateDeviceEnergy(snap, zoneDevices, deviceZones, deviceSerial)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &EnergyData{
		Created:     now,
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now,
		KWh:         kwh,
	}, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringField(m, key, ""); s != "" {
			return s
		}
	}
	return ""
}
