package xiaomi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/miio"
)

// vacuumDevice is the miio vacuum surface the entity drives.
// Satisfied by *miio.Vacuum; narrowed for tests.
type vacuumDevice interface {
	Status(ctx context.Context) (*miio.VacuumStatus, error)
	StartOrResume(ctx context.Context, status *miio.VacuumStatus) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Home(ctx context.Context) error
	Spot(ctx context.Context) error
	Locate(ctx context.Context) error
	SetFanSpeed(ctx context.Context, value int) error
	FanSpeedValue(name string) (int, bool)
	FanSpeedName(value int) string
	FanSpeedPresets() []string
	RemoteControlStart(ctx context.Context) error
	RemoteControlStop(ctx context.Context) error
	RemoteControlMove(ctx context.Context, rotation int, velocity float64, duration time.Duration) error
	Goto(ctx context.Context, x, y int) error
	ZonedClean(ctx context.Context, zones [][4]int, repeats int) error
	SegmentClean(ctx context.Context, segments []int) error
	Raw(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// displayStates maps decoded vacuum states to the displayed state value.
// States missing from this map have no display mapping.
var displayStates = map[miio.VacuumState]string{
	miio.StateStarting:            "idle",
	miio.StateChargerDisconnected: "paused",
	miio.StateIdle:                "idle",
	miio.StateRemoteControl:       "cleaning",
	miio.StateCleaning:            "cleaning",
	miio.StateReturningHome:       "returning",
	miio.StateManualMode:          "cleaning",
	miio.StateCharging:            "docked",
	miio.StateChargingProblem:     "error",
	miio.StatePaused:              "paused",
	miio.StateSpotCleaning:        "cleaning",
	miio.StateError:               "error",
	miio.StateShuttingDown:        "idle",
	miio.StateUpdating:            "docked",
	miio.StateDocking:             "returning",
	miio.StateGoingToTarget:       "cleaning",
	miio.StateZonedCleaning:       "cleaning",
	miio.StateSegmentCleaning:     "cleaning",
	miio.StateEmptyingBin:         "docked",
	miio.StateWashingMop:          "docked",
	miio.StateGoingToWashMop:      "returning",
	miio.StateChargingComplete:    "docked",
	miio.StateOffline:             "error",
}

// VacuumEntity adapts a roborock vacuum to the bridge contract.
//
// Refresh runs on the poll loop and Execute on the MQTT subscriber
// goroutine, so the cached status is mutex guarded.
type VacuumEntity struct {
	id      string
	name    string
	device  vacuumDevice
	metrics MetricsWriter
	logger  bridges.Logger

	mu sync.Mutex
	// lastStatus is the most recent successful poll, used to pick the
	// right resume command and to detect the sticky error condition.
	lastStatus *miio.VacuumStatus
}

// NewVacuumEntity creates a vacuum entity.
func NewVacuumEntity(id, name string, device vacuumDevice, metrics MetricsWriter, logger bridges.Logger) *VacuumEntity {
	return &VacuumEntity{
		id:      id,
		name:    name,
		device:  device,
		metrics: metrics,
		logger:  logger,
	}
}

// ID returns the configured device identifier.
func (e *VacuumEntity) ID() string { return e.id }

// Kind returns "vacuum".
func (e *VacuumEntity) Kind() string { return "vacuum" }

// Close releases the device transport.
func (e *VacuumEntity) Close() error { return e.device.Close() }

// Refresh polls the vacuum and returns its state payload.
//
// A state code the bridge does not know yields no payload (nil, nil) and
// an error log: publishing a made-up state is worse than publishing
// nothing. While the device reports an error code, the displayed state is
// "error" regardless of the activity the state code suggests.
func (e *VacuumEntity) Refresh(ctx context.Context) (map[string]any, error) {
	status, err := e.device.Status(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastStatus = status
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.WriteVacuumMetrics(e.id, status.Battery, status.CleanArea, status.CleanTime)
	}

	display, known := displayStates[status.State]
	if !known {
		e.logError("unknown vacuum state",
			fmt.Errorf("state code %d not mapped", status.StateCode))
		return nil, nil
	}
	if status.ErrorCode != 0 {
		display = "error"
	}

	state := map[string]any{
		"state":           display,
		"status":          status.State.String(),
		"battery":         status.Battery,
		"fan_speed":       e.device.FanSpeedName(status.FanSpeed),
		"fan_speed_value": status.FanSpeed,
		"fan_speed_list":  e.device.FanSpeedPresets(),
		"clean_time_secs": int(status.CleanTime.Seconds()),
		"clean_area_m2":   status.CleanArea,
	}
	if e.name != "" {
		state["name"] = e.name
	}
	if status.ErrorCode != 0 {
		state["error"] = status.ErrorDescription()
	}
	return state, nil
}

// Execute runs a vacuum command. It never returns an immediate state
// payload; the bridge refreshes after a successful command instead,
// because most commands change the device state asynchronously.
func (e *VacuumEntity) Execute(ctx context.Context, cmd *bridges.CommandMessage) (map[string]any, error) {
	switch cmd.Command {
	case "start":
		e.mu.Lock()
		status := e.lastStatus
		e.mu.Unlock()
		return nil, e.device.StartOrResume(ctx, status)
	case "pause":
		return nil, e.device.Pause(ctx)
	case "stop":
		return nil, e.device.Stop(ctx)
	case "return_home":
		return nil, e.device.Home(ctx)
	case "clean_spot":
		return nil, e.device.Spot(ctx)
	case "locate":
		return nil, e.device.Locate(ctx)
	case "fan_speed":
		return nil, e.setFanSpeed(ctx, cmd.Parameters)
	case "remote_control_start":
		return nil, e.device.RemoteControlStart(ctx)
	case "remote_control_stop":
		return nil, e.device.RemoteControlStop(ctx)
	case "remote_control_move":
		return nil, e.remoteControlMove(ctx, cmd.Parameters)
	case "goto":
		return nil, e.gotoTarget(ctx, cmd.Parameters)
	case "clean_zone":
		return nil, e.cleanZone(ctx, cmd.Parameters)
	case "clean_segment":
		return nil, e.cleanSegment(ctx, cmd.Parameters)
	case "raw":
		return nil, e.rawCommand(ctx, cmd.Parameters)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

// setFanSpeed accepts a preset name or a numeric string/number.
func (e *VacuumEntity) setFanSpeed(ctx context.Context, params map[string]any) error {
	raw, ok := params["fan_speed"]
	if !ok {
		return fmt.Errorf("%w: fan_speed parameter required", errInvalidParameters)
	}

	var value int
	switch speed := raw.(type) {
	case string:
		if preset, found := e.device.FanSpeedValue(speed); found {
			value = preset
		} else if numeric, err := strconv.Atoi(speed); err == nil {
			value = numeric
		} else {
			return fmt.Errorf("%w: fan speed %q not in %v", errInvalidParameters, speed, e.device.FanSpeedPresets())
		}
	case float64:
		value = int(speed)
	default:
		return fmt.Errorf("%w: fan_speed must be a preset name or number", errInvalidParameters)
	}

	return e.device.SetFanSpeed(ctx, value)
}

func (e *VacuumEntity) remoteControlMove(ctx context.Context, params map[string]any) error {
	rotation := intParam(params, "rotation", 0)
	velocity := floatParam(params, "velocity", 0)
	duration := time.Duration(intParam(params, "duration", 0)) * time.Millisecond
	return e.device.RemoteControlMove(ctx, rotation, velocity, duration)
}

func (e *VacuumEntity) gotoTarget(ctx context.Context, params map[string]any) error {
	x, okX := params["x"]
	y, okY := params["y"]
	if !okX || !okY {
		return fmt.Errorf("%w: goto requires x and y", errInvalidParameters)
	}
	xf, okX := x.(float64)
	yf, okY := y.(float64)
	if !okX || !okY {
		return fmt.Errorf("%w: x and y must be numbers", errInvalidParameters)
	}
	return e.device.Goto(ctx, int(xf), int(yf))
}

func (e *VacuumEntity) cleanZone(ctx context.Context, params map[string]any) error {
	rawZones, ok := params["zone"].([]any)
	if !ok || len(rawZones) == 0 {
		return fmt.Errorf("%w: zone must be a list of rectangles", errInvalidParameters)
	}

	zones := make([][4]int, 0, len(rawZones))
	for _, rawZone := range rawZones {
		coords, ok := rawZone.([]any)
		if !ok || len(coords) != 4 {
			return fmt.Errorf("%w: each zone needs 4 coordinates", errInvalidParameters)
		}
		var zone [4]int
		for i, coord := range coords {
			value, ok := coord.(float64)
			if !ok {
				return fmt.Errorf("%w: zone coordinates must be numbers", errInvalidParameters)
			}
			zone[i] = int(value)
		}
		zones = append(zones, zone)
	}

	repeats := intParam(params, "repeats", 1)
	return e.device.ZonedClean(ctx, zones, repeats)
}

// cleanSegment accepts a single segment ID or a list of them.
func (e *VacuumEntity) cleanSegment(ctx context.Context, params map[string]any) error {
	raw, ok := params["segments"]
	if !ok {
		return fmt.Errorf("%w: segments parameter required", errInvalidParameters)
	}

	var segments []int
	switch value := raw.(type) {
	case float64:
		segments = []int{int(value)}
	case []any:
		for _, item := range value {
			number, ok := item.(float64)
			if !ok {
				return fmt.Errorf("%w: segments must be numbers", errInvalidParameters)
			}
			segments = append(segments, int(number))
		}
	default:
		return fmt.Errorf("%w: segments must be a number or list of numbers", errInvalidParameters)
	}

	return e.device.SegmentClean(ctx, segments)
}

func (e *VacuumEntity) rawCommand(ctx context.Context, params map[string]any) error {
	method, ok := params["command"].(string)
	if !ok || method == "" {
		return fmt.Errorf("%w: raw requires a command name", errInvalidParameters)
	}
	_, err := e.device.Raw(ctx, method, params["params"])
	return err
}

func (e *VacuumEntity) logError(msg string, err error) {
	if e.logger != nil {
		e.logger.Error(msg, "device_id", e.id, "error", err)
	}
}

// intParam reads an integer JSON parameter with a default.
func intParam(params map[string]any, key string, fallback int) int {
	if value, ok := params[key].(float64); ok {
		return int(value)
	}
	return fallback
}

// floatParam reads a float JSON parameter with a default.
func floatParam(params map[string]any, key string, fallback float64) float64 {
	if value, ok := params[key].(float64); ok {
		return value
	}
	return fallback
}
