package xiaomi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-bridges/internal/bridges"
)

// propertyDevice is the miio surface the sensor entity reads.
// Satisfied by *miio.Device; narrowed for tests.
type propertyDevice interface {
	Properties(ctx context.Context, keys []string) ([]json.RawMessage, error)
	Close() error
}

// PropertySpec describes one polled device property and how its raw
// reading maps into the state payload.
type PropertySpec struct {
	// Name is the key in the published state payload.
	Name string

	// Property is the get_prop key on the device. Defaults to Name.
	Property string

	// Invert flips boolean readings, for properties that report the
	// negative condition (e.g. water_tank_detached -> water_tank).
	Invert bool
}

// SensorEntity adapts read-only miio properties to the bridge contract.
// It covers the diagnostic readings plugs and humidifiers expose beside
// their primary function (water tank, auxiliary heat, power supply).
//
// Sensors take no commands; Execute always fails.
type SensorEntity struct {
	id         string
	name       string
	device     propertyDevice
	properties []PropertySpec
	keys       []string
	metrics    MetricsWriter
	logger     bridges.Logger
}

// NewSensorEntity creates a sensor entity polling the given properties.
func NewSensorEntity(id, name string, device propertyDevice, properties []PropertySpec, metrics MetricsWriter, logger bridges.Logger) (*SensorEntity, error) {
	if len(properties) == 0 {
		return nil, fmt.Errorf("sensor %q: at least one property is required", id)
	}

	keys := make([]string, len(properties))
	for i, prop := range properties {
		if prop.Name == "" {
			return nil, fmt.Errorf("sensor %q: property %d has no name", id, i)
		}
		key := prop.Property
		if key == "" {
			key = prop.Name
		}
		keys[i] = key
	}

	return &SensorEntity{
		id:         id,
		name:       name,
		device:     device,
		properties: properties,
		keys:       keys,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// ID returns the configured device identifier.
func (e *SensorEntity) ID() string { return e.id }

// Kind returns "sensor".
func (e *SensorEntity) Kind() string { return "sensor" }

// Close releases the device transport.
func (e *SensorEntity) Close() error { return e.device.Close() }

// Refresh polls the configured properties and returns the state payload.
func (e *SensorEntity) Refresh(ctx context.Context) (map[string]any, error) {
	values, err := e.device.Properties(ctx, e.keys)
	if err != nil {
		return nil, err
	}

	state := make(map[string]any, len(e.properties)+1)
	if e.name != "" {
		state["name"] = e.name
	}
	for i, prop := range e.properties {
		value, ok := decodeProperty(values[i], prop.Invert)
		if !ok {
			// Null or unparseable reading; the key is simply absent.
			continue
		}
		state[prop.Name] = value

		if e.metrics != nil {
			if number, isNumber := value.(float64); isNumber {
				e.metrics.WriteDeviceMetric(e.id, "sensor_"+prop.Name, number)
			}
		}
	}
	return state, nil
}

// Execute rejects all commands; sensors are read-only.
func (e *SensorEntity) Execute(ctx context.Context, cmd *bridges.CommandMessage) (map[string]any, error) {
	return nil, fmt.Errorf("%w: %q (sensor is read-only)", errUnknownCommand, cmd.Command)
}

// decodeProperty turns a raw get_prop value into a payload value.
// Booleans arrive as JSON bools or as "on"/"off" strings depending on
// the model; anything else passes through as number or string.
func decodeProperty(raw json.RawMessage, invert bool) (any, bool) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}

	switch v := value.(type) {
	case nil:
		return nil, false
	case bool:
		if invert {
			v = !v
		}
		return v, true
	case string:
		switch v {
		case "on":
			return !invert, true
		case "off":
			return invert, true
		}
		return v, true
	default:
		return value, true
	}
}
