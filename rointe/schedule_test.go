package rointe

import (
	"strings"
	"testing"
	"time"
)

// Mondays at a known hour keep the weekday math readable.
var monday10 = time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC)

func deviceWithSchedule(sched any) *Device {
	return ParseDevice("dev1", map[string]any{
		"data": map[string]any{"schedule": sched},
	}, nil, "")
}

func TestParseScheduleListShape(t *testing.T) {
	day := strings.Repeat("C", 8) + strings.Repeat("E", 8) + strings.Repeat("O", 8)
	d := deviceWithSchedule([]any{day, day, day, day, day, day, day})

	if got := d.ScheduleSlotAt(0, 3); got != SlotComfort {
		t.Errorf("hour 3 = %v, want comfort", got)
	}
	if got := d.ScheduleSlotAt(0, 10); got != SlotEco {
		t.Errorf("hour 10 = %v, want eco", got)
	}
	if got := d.ScheduleSlotAt(0, 20); got != SlotUnset {
		t.Errorf("hour 20 = %v, want unset", got)
	}
}

func TestParseScheduleDictShape(t *testing.T) {
	d := deviceWithSchedule(map[string]any{
		"0": strings.Repeat("C", 24),
		"6": strings.Repeat("E", 24),
	})

	if got := d.ScheduleSlotAt(0, 12); got != SlotComfort {
		t.Errorf("monday = %v, want comfort", got)
	}
	if got := d.ScheduleSlotAt(6, 12); got != SlotEco {
		t.Errorf("sunday = %v, want eco", got)
	}
	if got := d.ScheduleSlotAt(3, 12); got != SlotUnset {
		t.Errorf("missing day = %v, want unset", got)
	}
}

func TestScheduleSlotEdgeCases(t *testing.T) {
	d := deviceWithSchedule(nil)
	if got := d.ScheduleSlotAt(0, 10); got != SlotUnset {
		t.Errorf("no schedule = %v, want unset", got)
	}

	d = deviceWithSchedule([]any{"CCC"})
	if got := d.ScheduleSlotAt(0, 2); got != SlotComfort {
		t.Errorf("short day in range = %v, want comfort", got)
	}
	if got := d.ScheduleSlotAt(0, 5); got != SlotUnset {
		t.Errorf("short day out of range = %v, want unset", got)
	}

	d = deviceWithSchedule([]any{strings.Repeat("X", 24)})
	if got := d.ScheduleSlotAt(0, 0); got != SlotUnset {
		t.Errorf("unknown char = %v, want unset", got)
	}
}

func TestCurrentScheduleSlotMondayIndexing(t *testing.T) {
	// 2024-01-01 is a Monday, so wire day 0 must be consulted.
	d := deviceWithSchedule([]any{strings.Repeat("C", 24)})
	if got := d.CurrentScheduleSlot(monday10); got != SlotComfort {
		t.Errorf("monday slot = %v, want comfort", got)
	}

	// 2024-01-07 is a Sunday, wire day 6.
	sunday := time.Date(2024, time.January, 7, 10, 0, 0, 0, time.UTC)
	if got := d.CurrentScheduleSlot(sunday); got != SlotUnset {
		t.Errorf("sunday slot = %v, want unset (only day 0 set)", got)
	}
}

func TestEffectiveTargetTemp(t *testing.T) {
	d := deviceWithSchedule([]any{
		strings.Repeat("C", 12) + strings.Repeat("E", 12),
	})
	d.Mode = ModeManual
	d.Temp = 21.0
	d.ComfortTemp = 23.0
	d.EcoTemp = 17.0
	d.IceTemp = 7.5

	if got := d.EffectiveTargetTemp(monday10); got != 21.0 {
		t.Errorf("manual target = %v, want setpoint", got)
	}

	d.Mode = ModeAuto
	if got := d.EffectiveTargetTemp(monday10); got != 23.0 {
		t.Errorf("auto comfort target = %v, want 23", got)
	}

	evening := monday10.Add(8 * time.Hour)
	if got := d.EffectiveTargetTemp(evening); got != 17.0 {
		t.Errorf("auto eco target = %v, want 17", got)
	}

	tuesday := monday10.Add(24 * time.Hour)
	d2 := deviceWithSchedule([]any{strings.Repeat("C", 24)})
	d2.Mode = ModeAuto
	d2.IceTemp = 7.5
	if got := d2.EffectiveTargetTemp(tuesday); got != 7.5 {
		t.Errorf("unset slot target = %v, want ice temp", got)
	}
}

func TestHeatingAction(t *testing.T) {
	d := deviceWithSchedule(nil)
	d.Mode = ModeManual
	d.Temp = 21.0

	d.Power = false
	d.StatusWarming = 2
	if got := d.HeatingAction(monday10); got != ActionOff {
		t.Errorf("powered off = %v, want off", got)
	}

	d.Power = true
	d.TempProbe = 19.0
	d.StatusWarming = 0
	if got := d.HeatingAction(monday10); got != ActionHeating {
		t.Errorf("probe below target = %v, want heating", got)
	}

	d.TempProbe = 21.0
	d.StatusWarming = 2
	if got := d.HeatingAction(monday10); got != ActionIdle {
		t.Errorf("probe at target = %v, want idle despite status_warming", got)
	}
}

func TestSlotAndActionStrings(t *testing.T) {
	if SlotComfort.String() != "comfort" || SlotEco.String() != "eco" || SlotUnset.String() != "unset" {
		t.Error("slot strings wrong")
	}
	if ActionHeating.String() != "heating" || ActionIdle.String() != "idle" || ActionOff.String() != "off" {
		t.Error("action strings wrong")
	}
}
