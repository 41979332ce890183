package actuator

import (
	"fmt"
	"sync"
)

// PWMDriver maps joint angles onto pulse widths across one or more PCA9685
// boards. There is no feedback channel: writes are fire-and-forget and may be
// issued back-to-back.
type PWMDriver struct {
	mu     sync.Mutex
	boards map[int]*PCA9685
}

// NewPWMDriver builds a driver over numbered boards.
func NewPWMDriver(boards map[int]*PCA9685) *PWMDriver {
	return &PWMDriver{boards: boards}
}

// SetAngle converts a hardware angle to a pulse width using the joint's pulse
// calibration and writes it to the joint's board and channel.
func (d *PWMDriver) SetAngle(spec JointSpec, angleDeg float64) error {
	d.mu.Lock()
	board, ok := d.boards[spec.Board]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("pwm board %d: %w", spec.Board, ErrUnknownJoint)
	}

	travel := spec.TravelDeg
	if travel <= 0 {
		travel = 180
	}
	frac := angleDeg / travel
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	pulse := float64(spec.PulseMinUS) + frac*float64(spec.PulseMaxUS-spec.PulseMinUS)
	return board.SetPulse(spec.Channel, pulse)
}

// Neutral drives the joint to its configured neutral angle.
func (d *PWMDriver) Neutral(spec JointSpec) error {
	return d.SetAngle(spec, spec.Neutral+spec.Offset)
}

// Close closes all boards.
func (d *PWMDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, b := range d.boards {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
