package xiaomi

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
	"github.com/nerrad567/gray-logic-bridges/internal/miio"
)

// plugDevice is the miio plug surface the switch entity drives.
// Satisfied by *miio.Plug; narrowed for tests.
type plugDevice interface {
	Status(ctx context.Context) (*miio.PlugStatus, error)
	SetPower(ctx context.Context, on bool) error
	Close() error
}

// SwitchEntity adapts a miio plug to the bridge contract.
//
// Refresh runs on the poll loop and Execute on the MQTT subscriber
// goroutine, so the cached temperature is mutex guarded.
type SwitchEntity struct {
	id      string
	name    string
	device  plugDevice
	metrics MetricsWriter
	logger  bridges.Logger

	mu              sync.Mutex
	lastTemperature float64
}

// NewSwitchEntity creates a switch entity for a plug.
func NewSwitchEntity(id, name string, device plugDevice, metrics MetricsWriter, logger bridges.Logger) *SwitchEntity {
	return &SwitchEntity{
		id:      id,
		name:    name,
		device:  device,
		metrics: metrics,
		logger:  logger,
	}
}

// ID returns the configured device identifier.
func (e *SwitchEntity) ID() string { return e.id }

// Kind returns "switch".
func (e *SwitchEntity) Kind() string { return "switch" }

// Close releases the device transport.
func (e *SwitchEntity) Close() error { return e.device.Close() }

// Refresh polls the plug and returns its state payload.
func (e *SwitchEntity) Refresh(ctx context.Context) (map[string]any, error) {
	status, err := e.device.Status(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastTemperature = status.Temperature
	e.mu.Unlock()

	if e.metrics != nil && status.Temperature != 0 {
		e.metrics.WriteDeviceMetric(e.id, "switch_temperature", status.Temperature)
	}

	return e.stateMap(status.Power, status.Temperature), nil
}

// Execute runs a switch command. On success it returns the optimistic
// state payload so the bridge can publish without waiting for the next
// poll (the device takes a moment to report the new state itself).
func (e *SwitchEntity) Execute(ctx context.Context, cmd *bridges.CommandMessage) (map[string]any, error) {
	switch cmd.Command {
	case "on", "off":
		on := cmd.Command == "on"
		if err := e.device.SetPower(ctx, on); err != nil {
			return nil, err
		}
		e.mu.Lock()
		temperature := e.lastTemperature
		e.mu.Unlock()
		return e.stateMap(on, temperature), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

func (e *SwitchEntity) stateMap(on bool, temperature float64) map[string]any {
	state := map[string]any{
		"on": on,
	}
	if e.name != "" {
		state["name"] = e.name
	}
	if temperature != 0 {
		state["temperature"] = temperature
	}
	return state
}
