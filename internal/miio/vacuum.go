package miio

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// VacuumState is the decoded device state of a roborock vacuum.
type VacuumState int

const (
	StateUnknown VacuumState = iota
	StateStarting
	StateChargerDisconnected
	StateIdle
	StateRemoteControl
	StateCleaning
	StateReturningHome
	StateManualMode
	StateCharging
	StateChargingProblem
	StatePaused
	StateSpotCleaning
	StateError
	StateShuttingDown
	StateUpdating
	StateDocking
	StateGoingToTarget
	StateZonedCleaning
	StateSegmentCleaning
	StateEmptyingBin
	StateWashingMop
	StateGoingToWashMop
	StateChargingComplete
	StateOffline
)

// vacuumStateCodes maps the wire state code to a VacuumState.
var vacuumStateCodes = map[int]VacuumState{
	1:   StateStarting,
	2:   StateChargerDisconnected,
	3:   StateIdle,
	4:   StateRemoteControl,
	5:   StateCleaning,
	6:   StateReturningHome,
	7:   StateManualMode,
	8:   StateCharging,
	9:   StateChargingProblem,
	10:  StatePaused,
	11:  StateSpotCleaning,
	12:  StateError,
	13:  StateShuttingDown,
	14:  StateUpdating,
	15:  StateDocking,
	16:  StateGoingToTarget,
	17:  StateZonedCleaning,
	18:  StateSegmentCleaning,
	22:  StateEmptyingBin,
	23:  StateWashingMop,
	26:  StateGoingToWashMop,
	100: StateChargingComplete,
	101: StateOffline,
}

var vacuumStateNames = map[VacuumState]string{
	StateUnknown:             "unknown",
	StateStarting:            "starting",
	StateChargerDisconnected: "charger_disconnected",
	StateIdle:                "idle",
	StateRemoteControl:       "remote_control",
	StateCleaning:            "cleaning",
	StateReturningHome:       "returning_home",
	StateManualMode:          "manual_mode",
	StateCharging:            "charging",
	StateChargingProblem:     "charging_problem",
	StatePaused:              "paused",
	StateSpotCleaning:        "spot_cleaning",
	StateError:               "error",
	StateShuttingDown:        "shutting_down",
	StateUpdating:            "updating",
	StateDocking:             "docking",
	StateGoingToTarget:       "going_to_target",
	StateZonedCleaning:       "zoned_cleaning",
	StateSegmentCleaning:     "segment_cleaning",
	StateEmptyingBin:         "emptying_bin",
	StateWashingMop:          "washing_mop",
	StateGoingToWashMop:      "going_to_wash_mop",
	StateChargingComplete:    "charging_complete",
	StateOffline:             "offline",
}

func (s VacuumState) String() string {
	if name, ok := vacuumStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// vacuumErrorDescriptions maps error_code to a human-readable message.
var vacuumErrorDescriptions = map[int]string{
	0:  "No error",
	1:  "Laser distance sensor error",
	2:  "Collision sensor error",
	3:  "Wheels on top of void, move robot",
	4:  "Clean hovering sensors, move robot",
	5:  "Clean main brush",
	6:  "Clean side brush",
	7:  "Main wheel stuck",
	8:  "Device stuck, clean area",
	9:  "Dust collector missing",
	10: "Clean filter",
	11: "Stuck in magnetic barrier",
	12: "Low battery",
	13: "Charging fault",
	14: "Battery fault",
	15: "Wall sensors dirty, wipe them",
	16: "Place me on flat surface",
	17: "Side brushes problem, reboot me",
	18: "Suction fan problem",
	19: "Unpowered charging station",
	21: "Laser distance sensor blocked",
	22: "Clean the dock charging contacts",
	23: "Docking station not reachable",
	24: "No-go zone or invisible wall detected",
}

// In-cleaning modes from get_status, used to pick the right resume call.
const (
	inCleaningNone    = 0
	inCleaningFull    = 1
	inCleaningZoned   = 2
	inCleaningSegment = 3
)

// Remote control limits and defaults.
const (
	rcVelocityMax     = 0.29
	rcRotationMax     = 179
	rcDefaultDuration = 1500 * time.Millisecond
)

// Zoned cleaning accepts 1 to 3 passes per rectangle.
const (
	zonedRepeatsMin = 1
	zonedRepeatsMax = 3
)

// VacuumStatus is a decoded get_status response.
type VacuumStatus struct {
	State     VacuumState
	StateCode int

	Battery  int
	FanSpeed int

	CleanTime time.Duration
	CleanArea float64 // square metres

	ErrorCode  int
	InCleaning int
	MapPresent bool
	DNDEnabled bool
}

// ErrorDescription returns a human-readable message for the status error
// code, or a generic string for codes not in the table.
func (s *VacuumStatus) ErrorDescription() string {
	if desc, ok := vacuumErrorDescriptions[s.ErrorCode]; ok {
		return desc
	}
	return fmt.Sprintf("Unknown error %d", s.ErrorCode)
}

// Vacuum is a roborock vacuum (rockrobo.vacuum.v1, roborock.vacuum.s5, ...).
type Vacuum struct {
	*Device

	fanPresets map[string]int
	rcSequence int
}

// NewVacuum wraps a transport as a vacuum. The model string selects the
// fan speed preset table; first-generation devices (rockrobo.vacuum.v1)
// use percentage values, later models use mode codes.
func NewVacuum(device *Device, model string) *Vacuum {
	presets := map[string]int{
		"Silent":   101,
		"Standard": 102,
		"Medium":   103,
		"Turbo":    104,
		"Gentle":   105,
	}
	if strings.HasPrefix(model, "rockrobo.vacuum.v1") {
		presets = map[string]int{
			"Silent":   38,
			"Standard": 60,
			"Medium":   77,
			"Turbo":    90,
		}
	}

	return &Vacuum{
		Device:     device,
		fanPresets: presets,
	}
}

// Status queries and decodes get_status.
func (v *Vacuum) Status(ctx context.Context) (*VacuumStatus, error) {
	result, err := v.Send(ctx, "get_status", nil)
	if err != nil {
		return nil, err
	}

	// The device wraps the status object in a single-element array.
	var entries []struct {
		State      int   `json:"state"`
		Battery    int   `json:"battery"`
		FanPower   int   `json:"fan_power"`
		CleanTime  int   `json:"clean_time"`
		CleanArea  int64 `json:"clean_area"`
		ErrorCode  int   `json:"error_code"`
		InCleaning int   `json:"in_cleaning"`
		MapPresent int   `json:"map_present"`
		DNDEnabled int   `json:"dnd_enabled"`
	}
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding get_status: %w", ErrMalformedReply, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty get_status result", ErrMalformedReply)
	}
	e := entries[0]

	return &VacuumStatus{
		State:      vacuumStateCodes[e.State],
		StateCode:  e.State,
		Battery:    e.Battery,
		FanSpeed:   e.FanPower,
		CleanTime:  time.Duration(e.CleanTime) * time.Second,
		CleanArea:  float64(e.CleanArea) / 1e6,
		ErrorCode:  e.ErrorCode,
		InCleaning: e.InCleaning,
		MapPresent: e.MapPresent == 1,
		DNDEnabled: e.DNDEnabled == 1,
	}, nil
}

// FanSpeedPresets returns the preset names for this model, sorted by the
// underlying mode value.
func (v *Vacuum) FanSpeedPresets() []string {
	names := make([]string, 0, len(v.fanPresets))
	for name := range v.fanPresets {
		names = append(names, name)
	}
	// Small fixed set; insertion sort by value keeps Silent..Turbo order.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && v.fanPresets[names[j]] < v.fanPresets[names[j-1]]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// FanSpeedValue resolves a preset name to its mode value.
func (v *Vacuum) FanSpeedValue(name string) (int, bool) {
	value, ok := v.fanPresets[name]
	return value, ok
}

// FanSpeedName resolves a mode value to its preset name, or "Custom" for
// values outside the preset table (app-defined custom levels).
func (v *Vacuum) FanSpeedName(value int) string {
	for name, preset := range v.fanPresets {
		if preset == value {
			return name
		}
	}
	return "Custom"
}

// Start begins a full clean.
func (v *Vacuum) Start(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_start")
}

// StartOrResume begins a clean, resuming a paused zoned or segment run
// instead of restarting it. status may be nil, in which case a plain
// start is issued.
func (v *Vacuum) StartOrResume(ctx context.Context, status *VacuumStatus) error {
	if status != nil && status.State == StatePaused {
		switch status.InCleaning {
		case inCleaningZoned:
			return v.simpleCommand(ctx, "resume_zoned_clean")
		case inCleaningSegment:
			return v.simpleCommand(ctx, "resume_segment_clean")
		}
	}
	return v.Start(ctx)
}

// Pause pauses the current run.
func (v *Vacuum) Pause(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_pause")
}

// Stop halts cleaning without returning to the dock.
func (v *Vacuum) Stop(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_stop")
}

// Home sends the vacuum back to its charging dock.
func (v *Vacuum) Home(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_charge")
}

// Spot starts a spot clean around the current position.
func (v *Vacuum) Spot(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_spot")
}

// Locate makes the vacuum announce its position.
func (v *Vacuum) Locate(ctx context.Context) error {
	return v.simpleCommand(ctx, "find_me")
}

// SetFanSpeed sets the suction mode value.
func (v *Vacuum) SetFanSpeed(ctx context.Context, value int) error {
	result, err := v.Send(ctx, "set_custom_mode", []int{value})
	if err != nil {
		return err
	}
	return expectOK(result, "set_custom_mode")
}

// RemoteControlStart enters manual remote control mode.
func (v *Vacuum) RemoteControlStart(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_rc_start")
}

// RemoteControlStop leaves manual remote control mode.
func (v *Vacuum) RemoteControlStop(ctx context.Context) error {
	return v.simpleCommand(ctx, "app_rc_end")
}

// RemoteControlMove issues one manual movement step.
//
// Parameters:
//   - rotation: Degrees, clamped to [-179, 179]
//   - velocity: Forward speed, clamped to [-0.29, 0.29]
//   - duration: Step length; zero means 1.5 seconds
func (v *Vacuum) RemoteControlMove(ctx context.Context, rotation int, velocity float64, duration time.Duration) error {
	if rotation > rcRotationMax {
		rotation = rcRotationMax
	}
	if rotation < -rcRotationMax {
		rotation = -rcRotationMax
	}
	velocity = math.Max(-rcVelocityMax, math.Min(rcVelocityMax, velocity))
	if duration <= 0 {
		duration = rcDefaultDuration
	}

	v.rcSequence++
	result, err := v.Send(ctx, "app_rc_move", []map[string]any{{
		"omega":    math.Round(rotation2Radians(rotation)*100) / 100,
		"velocity": velocity,
		"duration": duration.Milliseconds(),
		"seqnum":   v.rcSequence,
	}})
	if err != nil {
		return err
	}
	return expectOK(result, "app_rc_move")
}

func rotation2Radians(degrees int) float64 {
	return float64(degrees) * math.Pi / 180
}

// Goto drives the vacuum to a map coordinate.
func (v *Vacuum) Goto(ctx context.Context, x, y int) error {
	result, err := v.Send(ctx, "app_goto_target", []int{x, y})
	if err != nil {
		return err
	}
	return expectOK(result, "app_goto_target")
}

// ZonedClean cleans the given rectangles, each [x1, y1, x2, y2] in map
// coordinates, repeats times (1 to 3).
func (v *Vacuum) ZonedClean(ctx context.Context, zones [][4]int, repeats int) error {
	if repeats < zonedRepeatsMin || repeats > zonedRepeatsMax {
		return fmt.Errorf("miio: zoned clean repeats %d out of range [%d, %d]", repeats, zonedRepeatsMin, zonedRepeatsMax)
	}
	if len(zones) == 0 {
		return fmt.Errorf("miio: zoned clean requires at least one zone")
	}

	params := make([][5]int, len(zones))
	for i, zone := range zones {
		params[i] = [5]int{zone[0], zone[1], zone[2], zone[3], repeats}
	}

	result, err := v.Send(ctx, "app_zoned_clean", params)
	if err != nil {
		return err
	}
	return expectOK(result, "app_zoned_clean")
}

// SegmentClean cleans the given room segment IDs.
func (v *Vacuum) SegmentClean(ctx context.Context, segments []int) error {
	if len(segments) == 0 {
		return fmt.Errorf("miio: segment clean requires at least one segment")
	}

	result, err := v.Send(ctx, "app_segment_clean", segments)
	if err != nil {
		return err
	}
	return expectOK(result, "app_segment_clean")
}

// Raw sends an arbitrary method and returns the raw result, for commands
// not covered by the typed API.
func (v *Vacuum) Raw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return v.Send(ctx, method, params)
}

func (v *Vacuum) simpleCommand(ctx context.Context, method string) error {
	result, err := v.Send(ctx, method, nil)
	if err != nil {
		return err
	}
	return expectOK(result, method)
}
