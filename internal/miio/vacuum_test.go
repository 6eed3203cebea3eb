package miio

import (
	"testing"
)

func TestVacuumStateCodes(t *testing.T) {
	tests := []struct {
		code int
		want VacuumState
	}{
		{3, StateIdle},
		{5, StateCleaning},
		{6, StateReturningHome},
		{8, StateCharging},
		{10, StatePaused},
		{12, StateError},
		{17, StateZonedCleaning},
		{18, StateSegmentCleaning},
		{100, StateChargingComplete},
		{999, StateUnknown}, // unmapped codes fall back to the zero value
	}

	for _, tt := range tests {
		if got := vacuumStateCodes[tt.code]; got != tt.want {
			t.Errorf("state code %d = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestVacuumStateString(t *testing.T) {
	if got := StateCleaning.String(); got != "cleaning" {
		t.Errorf("StateCleaning.String() = %q", got)
	}
	if got := VacuumState(1234).String(); got != "unknown" {
		t.Errorf("out-of-range String() = %q, want unknown", got)
	}
}

func TestFanSpeedPresetsByGeneration(t *testing.T) {
	gen1 := NewVacuum(&Device{}, "rockrobo.vacuum.v1")
	if value, ok := gen1.FanSpeedValue("Standard"); !ok || value != 60 {
		t.Errorf("gen1 Standard = %d (%v), want 60", value, ok)
	}
	if _, ok := gen1.FanSpeedValue("Gentle"); ok {
		t.Error("gen1 exposes Gentle, want absent")
	}

	gen2 := NewVacuum(&Device{}, "roborock.vacuum.s5")
	if value, ok := gen2.FanSpeedValue("Standard"); !ok || value != 102 {
		t.Errorf("gen2 Standard = %d (%v), want 102", value, ok)
	}
	if value, ok := gen2.FanSpeedValue("Gentle"); !ok || value != 105 {
		t.Errorf("gen2 Gentle = %d (%v), want 105", value, ok)
	}
}

func TestFanSpeedPresetsOrdered(t *testing.T) {
	vacuum := NewVacuum(&Device{}, "roborock.vacuum.s5")
	presets := vacuum.FanSpeedPresets()

	want := []string{"Silent", "Standard", "Medium", "Turbo", "Gentle"}
	if len(presets) != len(want) {
		t.Fatalf("got %d presets, want %d", len(presets), len(want))
	}
	for i, name := range want {
		if presets[i] != name {
			t.Errorf("presets[%d] = %q, want %q", i, presets[i], name)
		}
	}
}

func TestFanSpeedNameFallback(t *testing.T) {
	vacuum := NewVacuum(&Device{}, "roborock.vacuum.s5")

	if got := vacuum.FanSpeedName(102); got != "Standard" {
		t.Errorf("FanSpeedName(102) = %q, want Standard", got)
	}
	if got := vacuum.FanSpeedName(88); got != "Custom" {
		t.Errorf("FanSpeedName(88) = %q, want Custom", got)
	}
}

func TestErrorDescription(t *testing.T) {
	status := &VacuumStatus{ErrorCode: 5}
	if got := status.ErrorDescription(); got != "Clean main brush" {
		t.Errorf("ErrorDescription() = %q", got)
	}

	status.ErrorCode = 9876
	if got := status.ErrorDescription(); got != "Unknown error 9876" {
		t.Errorf("ErrorDescription() = %q", got)
	}
}
