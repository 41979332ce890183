package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// STS servos use 4096 position steps over a full turn.
const (
	stsSteps    = 4096
	stsAngleMax = 360.0
)

// STSBus drives Feetech STS serial servos through the feetech driver, which
// owns the half-duplex line and serializes transactions. The family has no
// temperature/voltage read in the surface we use, so those report
// ErrUnsupported; the controller maps that to absent feedback fields rather
// than a fault.
type STSBus struct {
	bus *feetech.Bus

	mu     sync.Mutex
	servos map[int]*feetech.Servo
}

// OpenSTSBus opens the bus and discovers servos in the given id range.
func OpenSTSBus(portName string, baud int, minID, maxID int) (*STSBus, error) {
	if baud <= 0 {
		baud = 1_000_000
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     portName,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open sts bus %s: %w", portName, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	found, err := bus.Scan(ctx, minID, maxID)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan sts bus: %w", err)
	}

	servos := make(map[int]*feetech.Servo, len(found))
	for _, s := range found {
		servos[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}
	return &STSBus{bus: bus, servos: servos}, nil
}

func (b *STSBus) servo(id int) (*feetech.Servo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.servos[id]
	if !ok {
		return nil, fmt.Errorf("sts servo %d: %w", id, ErrUnknownJoint)
	}
	return s, nil
}

// Move commands a timed move to an angle in degrees.
func (b *STSBus) Move(ctx context.Context, id int, angleDeg float64, d time.Duration) error {
	s, err := b.servo(id)
	if err != nil {
		return err
	}
	pos := int(angleDeg/stsAngleMax*stsSteps + 0.5)
	if pos < 0 {
		pos = 0
	} else if pos > stsSteps-1 {
		pos = stsSteps - 1
	}
	ms := int(d / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	if err := s.SetPositionWithTime(ctx, pos, ms); err != nil {
		return fmt.Errorf("sts move %d: %w", id, err)
	}
	return nil
}

// ReadPosition returns the measured position in degrees.
func (b *STSBus) ReadPosition(ctx context.Context, id int) (float64, error) {
	s, err := b.servo(id)
	if err != nil {
		return 0, err
	}
	pos, err := s.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("sts position %d: %w", id, err)
	}
	return float64(pos) * stsAngleMax / stsSteps, nil
}

// ReadTemperature is not exposed by this family's driver surface.
func (b *STSBus) ReadTemperature(ctx context.Context, id int) (int, error) {
	return 0, ErrUnsupported
}

// ReadVoltage is not exposed by this family's driver surface.
func (b *STSBus) ReadVoltage(ctx context.Context, id int) (int, error) {
	return 0, ErrUnsupported
}

// Stop neutralizes a servo by dropping torque, which halts motion.
func (b *STSBus) Stop(ctx context.Context, id int) error {
	s, err := b.servo(id)
	if err != nil {
		return err
	}
	if err := s.Disable(ctx); err != nil {
		return fmt.Errorf("sts stop %d: %w", id, err)
	}
	return nil
}

// Close closes the underlying bus.
func (b *STSBus) Close() error {
	return b.bus.Close()
}
