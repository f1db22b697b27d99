package rointe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Legacy backend: Firebase-style REST with the auth token passed as a query
// parameter and epoch-millisecond timestamps.

func (c *Client) legacyInstallations(ctx context.Context) (map[string]string, error) {
	data, err := c.legacyInstallationsTree(ctx)
	if err != nil {
		return nil, err
	}

	installations := make(map[string]string, len(data))
	for key, raw := range data {
		item, _ := raw.(map[string]any)
		installations[key] = stringField(item, "location", key)
	}
	return installations, nil
}

func (c *Client) legacyInstallation(ctx context.Context, installationID string) (map[string]any, error) {
	data, err := c.legacyInstallationsTree(ctx)
	if err != nil {
		return nil, err
	}

	installation, ok := data[installationID].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("installation %s: %w", installationID, ErrNotFound)
	}
	return installation, nil
}

func (c *Client) legacyInstallationsTree(ctx context.Context) (map[string]any, error) {
	localID, err := c.LocalID(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"auth":    {c.auth.Token()},
		"orderBy": {`"userid"`},
		"equalTo": {fmt.Sprintf("%q", localID)},
	}

	var data map[string]any
	if err := c.legacyGetJSON(ctx, installationsPath, params, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("installations: %w", ErrNotFound)
	}
	return data, nil
}

// legacyAccountLocalID resolves the account's user id when the login
// response did not carry one.
func (c *Client) legacyAccountLocalID(ctx context.Context) (string, error) {
	form := url.Values{"idToken": {c.auth.Token()}}
	infoURL := fmt.Sprintf("%s%s?key=%s", c.eps.authHost, authAccountInfoPath, c.eps.legacyKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, infoURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("account info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", HTTPStatusError{Op: "account info", Status: resp.StatusCode, Body: string(body)}
	}

	var res struct {
		Users []struct {
			LocalID string `json:"localId"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("account info: %w", err)
	}
	if len(res.Users) == 0 {
		return "", fmt.Errorf("account info: %w", ErrNotFound)
	}
	return res.Users[0].LocalID, nil
}

// collectLegacyDevices walks one zone block depth-first, collecting device
// keys from the zone itself and any nested sub-zones. The backend guarantees
// the tree is acyclic.
func collectLegacyDevices(zone map[string]any) []string {
	if zone == nil {
		return nil
	}

	var devices []string
	if block, ok := zone["devices"].(map[string]any); ok {
		for key := range block {
			devices = append(devices, key)
		}
	}
	if subZones, ok := zone["zones"].(map[string]any); ok {
		for _, sub := range subZones {
			subMap, _ := sub.(map[string]any)
			devices = append(devices, collectLegacyDevices(subMap)...)
		}
	}
	return devices
}

func (c *Client) legacyDevicePayload(ctx context.Context, deviceID string) (map[string]any, error) {
	params := url.Values{"auth": {c.auth.Token()}}

	var payload map[string]any
	path := fmt.Sprintf(devicePathFormat, deviceID)
	if err := c.legacyGetJSON(ctx, path, params, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	return payload, nil
}

func (c *Client) legacyLatestFirmware(ctx context.Context) (map[string]string, error) {
	params := url.Values{"auth": {c.auth.Token()}}

	var data map[string]any
	if err := c.legacyGetJSON(ctx, globalSettingsPath, params, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("global settings: %w", ErrNotFound)
	}
	return buildFirmwareMap(data), nil
}

// buildFirmwareMap flattens the global-settings firmware tree into
// "type-version" → firmware string. The tree nests device types over product
// versions; leaf values are either the version string or a block that
// carries it.
func buildFirmwareMap(data map[string]any) map[string]string {
	root := data
	if fw, ok := data["firmware"].(map[string]any); ok {
		root = fw
	}

	out := make(map[string]string)
	for deviceType, rawVersions := range root {
		versions, ok := rawVersions.(map[string]any)
		if !ok {
			continue
		}
		for productVersion, leaf := range versions {
			key := deviceType + "-" + strings.ToLower(productVersion)
			switch v := leaf.(type) {
			case string:
				out[key] = v
			case map[string]any:
				fw := stringField(v, "firmware_version", "")
				if fw == "" {
					fw = stringField(v, "version", "")
				}
				if fw != "" {
					out[key] = fw
				}
			}
		}
	}
	return out
}

var errNoEnergySample = fmt.Errorf("no energy stats found: %w", ErrNotFound)

// legacyLatestEnergyStats retries backwards hour by hour until a sample is
// found or the attempts run out.
func (c *Client) legacyLatestEnergyStats(ctx context.Context, deviceID string) (*EnergyData, error) {
	target := time.Now().Truncate(time.Hour)

	for attempts := energyStatsMaxRetries; attempts > 0; attempts-- {
		data, err := c.legacyHourEnergyStats(ctx, deviceID, target)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, errNoEnergySample) {
			return nil, err
		}
		target = target.Add(-time.Hour)
	}

	return nil, fmt.Errorf("energy stats: max tries exceeded: %w", ErrNotFound)
}

func (c *Client) legacyHourEnergyStats(ctx context.Context, deviceID string, target time.Time) (*EnergyData, error) {
	params := url.Values{"auth": {c.auth.Token()}}
	path := fmt.Sprintf(deviceEnergyPathPart, deviceID) +
		target.Format("2006/01/02") + "/energy/" + target.Format("15") + "0000.json"

	var data map[string]any
	if err := c.legacyGetJSON(ctx, path, params, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("device %s at %s: %w", deviceID, target.Format(time.RFC3339), errNoEnergySample)
	}

	return &EnergyData{
		Created:        time.Now(),
		WindowStart:    target,
		WindowEnd:      target.Add(time.Hour),
		KWh:            floatField(data, "kw_h", 0),
		EffectivePower: floatField(data, "effective_power", 0),
	}, nil
}

// legacySetHVACMode implements the legacy write sequences. Turning off from
// manual mode needs an intermediate neutral-temperature write or the backend
// rejects the transition; switching to auto first writes the temperature the
// current schedule slot calls for.
func (c *Client) legacySetHVACMode(ctx context.Context, device *Device, mode HVACMode) error {
	switch mode {
	case HVACOff:
		if device.Mode == ModeAuto {
			return c.legacyPatchDeviceData(ctx, device.ID, map[string]any{
				"power": false, "mode": ModeAuto, "status": PresetOff,
			})
		}
		if err := c.legacyPatchDeviceData(ctx, device.ID, map[string]any{"temp": neutralTemp}); err != nil {
			return err
		}
		return c.legacyPatchDeviceData(ctx, device.ID, map[string]any{
			"power": false, "mode": ModeManual, "status": PresetOff,
		})

	case HVACHeat:
		if err := c.legacyPatchDeviceData(ctx, device.ID, map[string]any{"temp": device.ComfortTemp}); err != nil {
			return err
		}
		return c.legacyPatchDeviceData(ctx, device.ID, map[string]any{
			"mode": ModeManual, "power": true, "status": PresetNone,
		})

	case HVACAuto:
		var temp float64
		switch device.CurrentScheduleSlot(time.Now()) {
		case SlotComfort:
			temp = device.ComfortTemp
		case SlotEco:
			temp = device.EcoTemp
		default:
			if device.IceMode {
				temp = device.IceTemp
			} else {
				temp = neutralTemp
			}
		}
		if err := c.legacyPatchDeviceData(ctx, device.ID, map[string]any{"temp": temp}); err != nil {
			return err
		}
		return c.legacyPatchDeviceData(ctx, device.ID, map[string]any{
			"mode": ModeAuto, "power": true,
		})

	default:
		return fmt.Errorf("rointe: invalid hvac mode %q", mode)
	}
}

// legacyPatchDeviceData issues one PATCH to a device's data node, stamping
// the app-side sync timestamp the backend expects on every write.
func (c *Client) legacyPatchDeviceData(ctx context.Context, deviceID string, body map[string]any) error {
	body["last_sync_datetime_app"] = nowMillis()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	params := url.Values{"auth": {c.auth.Token()}}
	patchURL := c.auth.BaseURL() + fmt.Sprintf(deviceDataPathFormat, deviceID) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, patchURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("device write: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Op: "device write", Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func (c *Client) legacyGetJSON(ctx context.Context, path string, params url.Values, out any) error {
	getURL := c.auth.BaseURL() + path
	if len(params) > 0 {
		getURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Op: "get " + path, Status: resp.StatusCode, Body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
