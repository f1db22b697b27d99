package rointe

import "fmt"

// Installation-wide consumption data from the Nexa statistics endpoint.
// There is no per-device figure on the wire; estimateDeviceEnergy attributes
// the installation total to a device through its zone's share of the cost.

type EnergyZone struct {
	ID   string
	Cost float64
}

type EnergySnapshot struct {
	EnergyKWh float64
	Cost      float64
	Zones     []EnergyZone
}

// parseEnergySnapshot tolerates the endpoint's shifting key names. Totals
// have shipped as energy/totalEnergy/consumption and cost/totalCost; zones
// as a list or an id-keyed map.
func parseEnergySnapshot(data map[string]any) *EnergySnapshot {
	snap := &EnergySnapshot{
		EnergyKWh: firstFloat(data, "energy", "totalEnergy", "total_energy", "consumption", "kwh"),
		Cost:      firstFloat(data, "cost", "totalCost", "total_cost", "price"),
	}

	switch zones := data["zones"].(type) {
	case []any:
		for _, raw := range zones {
			zone, _ := raw.(map[string]any)
			if zone == nil {
				continue
			}
			id := firstString(zone, "id", "_id", "zone_id", "zone")
			if id == "" {
				continue
			}
			snap.Zones = append(snap.Zones, EnergyZone{
				ID:   id,
				Cost: firstFloat(zone, "cost", "totalCost", "total_cost", "price"),
			})
		}
	case map[string]any:
		for id, raw := range zones {
			zone, _ := raw.(map[string]any)
			if zone == nil {
				continue
			}
			snap.Zones = append(snap.Zones, EnergyZone{
				ID:   id,
				Cost: firstFloat(zone, "cost", "totalCost", "total_cost", "price"),
			})
		}
	}

	return snap
}

// estimateDeviceEnergy splits the installation's energy total down to one
// device: the zone's cost share of the total cost scales the energy figure,
// which is then divided evenly across the zone's devices. Without zone maps
// the total is split across every known device. A snapshot with no positive
// cost or no zones cannot attribute anything; it errors rather than report
// a zero consumption that looks like a real reading.
func estimateDeviceEnergy(snap *EnergySnapshot, zoneDevices map[string][]string, deviceZones map[string]string, deviceSerial string) (float64, error) {
	if snap == nil || snap.Cost <= 0 || len(snap.Zones) == 0 {
		return 0, ErrNoCostData
	}

	zoneID, ok := deviceZones[deviceSerial]
	if ok {
		if devices := zoneDevices[zoneID]; len(devices) > 0 {
			var zoneCost float64
			for _, zone := range snap.Zones {
				if zone.ID == zoneID {
					zoneCost = zone.Cost
					break
				}
			}
			if zoneCost <= 0 {
				return 0, fmt.Errorf("zone %s: %w", zoneID, ErrNoCostData)
			}
			share := zoneCost / snap.Cost
			return share * snap.EnergyKWh / float64(len(devices)), nil
		}
	}

	total := 0
	for _, devices := range zoneDevices {
		total += len(devices)
	}
	if total == 0 {
		return 0, ErrNoCostData
	}
	return snap.EnergyKWh / float64(total), nil
}

func firstFloat(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := toFloat(v); ok {
				return f
			}
		}
	}
	return 0
}
