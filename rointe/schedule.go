package rointe

import (
	"strconv"
	"time"
)

// ScheduleSlot classifies one hour of a device's weekly schedule.
type ScheduleSlot int

const (
	SlotUnset ScheduleSlot = iota
	SlotComfort
	SlotEco
)

func (s ScheduleSlot) String() string {
	switch s {
	case SlotComfort:
		return "comfort"
	case SlotEco:
		return "eco"
	default:
		return "unset"
	}
}

// HeatingAction is the derived UI-facing heating state.
type HeatingAction int

const (
	ActionOff HeatingAction = iota
	ActionIdle
	ActionHeating
)

func (a HeatingAction) String() string {
	switch a {
	case ActionHeating:
		return "heating"
	case ActionIdle:
		return "idle"
	default:
		return "off"
	}
}

// parseSchedule accepts both wire shapes of the weekly schedule: a list of
// 24-character day strings indexed by weekday (legacy) or a map keyed by
// stringified weekday (Nexa). Day 0 is Monday.
func parseSchedule(raw any) map[int]string {
	out := make(map[int]string)

	switch sched := raw.(type) {
	case []any:
		for day, v := range sched {
			if s, ok := v.(string); ok {
				out[day] = s
			}
		}
	case map[string]any:
		for key, v := range sched {
			day, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			if s, ok := v.(string); ok {
				out[day] = s
			}
		}
	}

	return out
}

// ScheduleSlotAt looks up the schedule classification for a weekday (0 is
// Monday) and hour. An absent schedule, missing day, short day string or an
// unknown character all yield SlotUnset.
func (d *Device) ScheduleSlotAt(day, hour int) ScheduleSlot {
	if len(d.schedule) == 0 || hour < 0 {
		return SlotUnset
	}

	daySchedule, ok := d.schedule[day]
	if !ok || len(daySchedule) <= hour {
		return SlotUnset
	}

	switch daySchedule[hour] {
	case 'C':
		return SlotComfort
	case 'E':
		return SlotEco
	default:
		return SlotUnset
	}
}

// CurrentScheduleSlot evaluates the schedule at the given local time.
func (d *Device) CurrentScheduleSlot(now time.Time) ScheduleSlot {
	return d.ScheduleSlotAt(mondayIndexed(now.Weekday()), now.Hour())
}

// EffectiveTargetTemp is the single source of truth for the temperature the
// device should currently be holding. Manual mode uses the setpoint; auto
// mode resolves the current schedule slot, with the ice temperature as the
// frost-protection fallback for unset slots.
func (d *Device) EffectiveTargetTemp(now time.Time) float64 {
	if d.Mode == ModeManual {
		return d.Temp
	}

	switch d.CurrentScheduleSlot(now) {
	case SlotComfort:
		return d.ComfortTemp
	case SlotEco:
		return d.EcoTemp
	default:
		return d.IceTemp
	}
}

// HeatingAction derives the heating state from the probe reading against the
// effective target. The comparison deliberately overrides StatusWarming,
// which lags reality on both backends.
func (d *Device) HeatingAction(now time.Time) HeatingAction {
	if !d.Power {
		return ActionOff
	}
	if d.TempProbe >= d.EffectiveTargetTemp(now) {
		return ActionIdle
	}
	return ActionHeating
}

// mondayIndexed converts Go's Sunday-based weekday to the wire's 0=Monday.
func mondayIndexed(w time.Weekday) int {
	return (int(w) + 6) % 7
}
