package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/alert"
	"github.com/yenshow/ba-backend-sub000/internal/device"
	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
	"github.com/yenshow/ba-backend-sub000/internal/modbus"
	"github.com/yenshow/ba-backend-sub000/internal/threshold"
)

// Notification events emitted on device connectivity transitions.
const (
	EventDeviceStatus      = "device:status"
	EventDeviceStatusBatch = "device:status:batch"
)

// defaultPollTimeout bounds a single register exchange.
const defaultPollTimeout = 5 * time.Second

// Register layout shared by the supported device families. Controllers
// and lighting gateways expose a status word in holding register 0;
// environment sensors expose four input registers starting at 0.
const (
	regStatusWord = 0x0000
	regSensorBase = 0x0000

	sensorRegisterCount = 4
)

// Sensor register offsets within the block read at regSensorBase.
// Temperature and humidity are reported in tenths.
const (
	offTemperature = 0
	offHumidity    = 1
	offCO2         = 2
	offPM25        = 3
)

// BusReader is the slice of the connection pool the pollers use.
type BusReader interface {
	ReadRegisters(ctx context.Context, ep modbus.Endpoint, kind modbus.RegisterKind, address, quantity uint16) ([]uint16, error)
}

// Catalogue lists the enabled devices of one family.
type Catalogue interface {
	ListByKind(ctx context.Context, kind device.Kind) ([]device.Device, error)
}

// FailureTracker records consecutive poll failures and recoveries.
type FailureTracker interface {
	RecordErrorWithThreshold(ctx context.Context, sourceKind, sourceID, alertType, message string, threshold int) (bool, error)
	ClearError(ctx context.Context, sourceKind, sourceID string, alertTypes ...string) (bool, error)
}

// ReadingEvaluator checks a sensor reading against threshold rules.
type ReadingEvaluator interface {
	Evaluate(ctx context.Context, sourceKind, sourceID string, reading map[string]float64, meta threshold.SourceMeta) error
}

// Broadcaster pushes device status events to connected clients.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// TelemetrySink receives successful sensor readings and connectivity
// transitions for long-term storage. Writes are best-effort.
type TelemetrySink interface {
	WriteSensorReading(deviceID, location string, reading map[string]float64)
	WriteDeviceStatus(deviceID string, online bool)
}

// StatusUpdate is the payload of device:status events, and the element
// type of device:status:batch.
type StatusUpdate struct {
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`
	Online   bool   `json:"online"`
}

// statusTracker remembers the last observed connectivity state per
// device so transitions broadcast exactly once.
type statusTracker struct {
	mu     sync.Mutex
	online map[string]bool
}

func newStatusTracker() *statusTracker {
	return &statusTracker{online: make(map[string]bool)}
}

// set records the latest state and reports whether it changed. The
// first observation of a device always counts as a change.
func (s *statusTracker) set(id string, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.online[id]
	s.online[id] = online
	return !seen || prev != online
}

// PollerDeps carries the collaborators shared by all device pollers.
// Evaluator and Telemetry are only consulted by the sensor poller and
// may be nil elsewhere.
type PollerDeps struct {
	Bus       BusReader
	Devices   Catalogue
	Tracker   FailureTracker
	Evaluator ReadingEvaluator
	Notifier  Broadcaster
	Telemetry TelemetrySink
	Logger    *logging.Logger

	// PollTimeout bounds each device exchange. Zero uses the default.
	PollTimeout time.Duration
}

// Poller polls every enabled device of one family on each scheduler
// tick, feeding failures into the error tracker and connectivity
// transitions into the notification channel.
type Poller struct {
	family     device.Kind
	sourceKind string
	deps       PollerDeps
	status     *statusTracker
}

// NewControllerPoller polls plant controllers for reachability.
func NewControllerPoller(deps PollerDeps) *Poller {
	return newPoller(device.KindController, alert.SourceDevice, deps)
}

// NewSensorPoller polls environment sensors, evaluates their readings
// against threshold rules, and forwards them to telemetry.
func NewSensorPoller(deps PollerDeps) *Poller {
	return newPoller(device.KindSensor, alert.SourceDevice, deps)
}

// NewLightingPoller polls lighting gateways for reachability.
func NewLightingPoller(deps PollerDeps) *Poller {
	return newPoller(device.KindLighting, alert.SourceLighting, deps)
}

func newPoller(family device.Kind, sourceKind string, deps PollerDeps) *Poller {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.PollTimeout <= 0 {
		deps.PollTimeout = defaultPollTimeout
	}
	return &Poller{
		family:     family,
		sourceKind: sourceKind,
		deps:       deps,
		status:     newStatusTracker(),
	}
}

// Name returns the task name used with the scheduler.
func (p *Poller) Name() string { return "poll-" + string(p.family) }

// Poll runs one pass over the family. Individual device failures are
// tracked and never fail the pass; only a catalogue error does.
func (p *Poller) Poll(ctx context.Context) error {
	devices, err := p.deps.Devices.ListByKind(ctx, p.family)
	if err != nil {
		return err
	}

	var batch []StatusUpdate
	for _, d := range devices {
		update, changed := p.pollDevice(ctx, d)
		if !changed {
			continue
		}
		if p.deps.Telemetry != nil {
			p.deps.Telemetry.WriteDeviceStatus(update.DeviceID, update.Online)
		}
		if p.family == device.KindSensor {
			batch = append(batch, update)
			continue
		}
		p.broadcast(EventDeviceStatus, update)
	}

	if len(batch) > 0 {
		p.broadcast(EventDeviceStatusBatch, batch)
	}
	return nil
}

// pollDevice exchanges one read with the device and routes the outcome
// through the error tracker. Returns the resulting status and whether
// it differs from the last observation.
func (p *Poller) pollDevice(ctx context.Context, d device.Device) (StatusUpdate, bool) {
	opCtx, cancel := context.WithTimeout(ctx, p.deps.PollTimeout)
	values, err := p.read(opCtx, d)
	cancel()

	switch {
	case err == nil:
		p.handleSuccess(ctx, d, values)

	case errors.Is(err, modbus.ErrValidation):
		// Local validation failure, nothing reached the wire.
		p.deps.Logger.Warn("invalid poll request",
			"device_id", d.ID, "error", err)
		return StatusUpdate{}, false

	case errors.Is(err, modbus.ErrProtocol):
		// Exception responses come from a live device. They count as
		// reachable and reset the offline counter, but are not a
		// usable reading.
		p.deps.Logger.Warn("device rejected poll request",
			"device_id", d.ID, "endpoint", d.Endpoint().String(), "error", err)
		p.clearFailure(ctx, d)

	default:
		p.handleFailure(ctx, d, err)
		changed := p.status.set(d.ID, false)
		return StatusUpdate{DeviceID: d.ID, Kind: string(d.Kind), Online: false}, changed
	}

	changed := p.status.set(d.ID, true)
	return StatusUpdate{DeviceID: d.ID, Kind: string(d.Kind), Online: true}, changed
}

func (p *Poller) read(ctx context.Context, d device.Device) ([]uint16, error) {
	if p.family == device.KindSensor {
		return p.deps.Bus.ReadRegisters(ctx, d.Endpoint(), modbus.Input, regSensorBase, sensorRegisterCount)
	}
	return p.deps.Bus.ReadRegisters(ctx, d.Endpoint(), modbus.Holding, regStatusWord, 1)
}

func (p *Poller) handleFailure(ctx context.Context, d device.Device, err error) {
	limit := 0
	if d.ErrorThreshold != nil {
		limit = *d.ErrorThreshold
	}
	created, trackErr := p.deps.Tracker.RecordErrorWithThreshold(
		ctx, p.sourceKind, d.ID, alert.TypeOffline, err.Error(), limit)
	if trackErr != nil {
		p.deps.Logger.Error("failed to record device error",
			"device_id", d.ID, "error", trackErr)
		return
	}
	if created {
		p.deps.Logger.Warn("device marked offline",
			"device_id", d.ID, "endpoint", d.Endpoint().String(), "cause", err)
	}
}

func (p *Poller) clearFailure(ctx context.Context, d device.Device) {
	if _, err := p.deps.Tracker.ClearError(ctx, p.sourceKind, d.ID); err != nil {
		p.deps.Logger.Error("failed to clear device error",
			"device_id", d.ID, "error", err)
	}
}

func (p *Poller) handleSuccess(ctx context.Context, d device.Device, values []uint16) {
	p.clearFailure(ctx, d)

	if p.family != device.KindSensor {
		return
	}

	reading := decodeSensorReading(values)
	if reading == nil {
		p.deps.Logger.Warn("short sensor response",
			"device_id", d.ID, "registers", len(values))
		return
	}

	if p.deps.Evaluator != nil {
		meta := threshold.SourceMeta{Name: d.DisplayName(), Location: d.Location}
		if err := p.deps.Evaluator.Evaluate(ctx, alert.SourceEnvironment, d.ID, reading, meta); err != nil {
			p.deps.Logger.Error("threshold evaluation failed",
				"device_id", d.ID, "error", err)
		}
	}
	if p.deps.Telemetry != nil {
		p.deps.Telemetry.WriteSensorReading(d.ID, d.Location, reading)
	}
}

// decodeSensorReading converts the raw register block into engineering
// units. Temperature is signed and, like humidity, reported in tenths.
func decodeSensorReading(values []uint16) map[string]float64 {
	if len(values) < sensorRegisterCount {
		return nil
	}
	return map[string]float64{
		"temperature": float64(int16(values[offTemperature])) / 10,
		"humidity":    float64(values[offHumidity]) / 10,
		"co2":         float64(values[offCO2]),
		"pm25":        float64(values[offPM25]),
	}
}

func (p *Poller) broadcast(event string, payload any) {
	if p.deps.Notifier == nil {
		return
	}
	p.deps.Notifier.Broadcast(event, payload)
}
