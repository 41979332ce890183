// Package actuator provides joint-indexed control of the robot's hybrid
// actuation system: PCA9685-driven PWM servos and half-duplex serial bus
// servos, unified behind one controller.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// JointName identifies a joint in the servo table.
type JointName string

// Joint names for the upper body. The configuration decides which actuator
// kind drives each one.
const (
	LeftShoulderPitch  JointName = "left_shoulder_pitch"
	LeftShoulderRoll   JointName = "left_shoulder_roll"
	LeftShoulderYaw    JointName = "left_shoulder_yaw"
	LeftElbow          JointName = "left_elbow"
	LeftWrist          JointName = "left_wrist"
	RightShoulderPitch JointName = "right_shoulder_pitch"
	RightShoulderRoll  JointName = "right_shoulder_roll"
	RightShoulderYaw   JointName = "right_shoulder_yaw"
	RightElbow         JointName = "right_elbow"
	RightWrist         JointName = "right_wrist"
	HeadPan            JointName = "head_pan"
	HeadTilt           JointName = "head_tilt"
	LeftHandFingers    JointName = "left_hand_fingers"
	LeftHandThumb      JointName = "left_hand_thumb"
	RightHandFingers   JointName = "right_hand_fingers"
	RightHandThumb     JointName = "right_hand_thumb"
)

// Kind selects the actuator family driving a joint.
type Kind string

const (
	KindPWM    Kind = "pwm"
	KindSerial Kind = "serial"
)

// JointSpec describes one joint's actuator wiring, limits and calibration.
// Immutable after load.
type JointSpec struct {
	Name JointName `json:"name"`
	Kind Kind      `json:"kind"`

	// PWM addressing: board number plus channel on that board.
	Board   int `json:"board,omitempty"`
	Channel int `json:"channel,omitempty"`

	// Serial bus addressing.
	ServoID int `json:"servo_id,omitempty"`

	// Angular range and calibration, in degrees. Offset is added to the
	// logical angle before it reaches the hardware.
	MinAngle float64 `json:"min_angle"`
	MaxAngle float64 `json:"max_angle"`
	Offset   float64 `json:"offset"`
	Neutral  float64 `json:"neutral"`

	// PWM pulse calibration: pulse widths at the ends of the servo's
	// mechanical travel.
	PulseMinUS int     `json:"pulse_min_us,omitempty"`
	PulseMaxUS int     `json:"pulse_max_us,omitempty"`
	TravelDeg  float64 `json:"travel_deg,omitempty"`
}

// FeedbackSample is one joint feedback read. Temperature and voltage are only
// populated for serial bus joints; PWM joints echo the last commanded angle.
type FeedbackSample struct {
	Joint          JointName
	AngleDeg       float64
	TemperatureC   int
	VoltageMV      int
	HasTemperature bool
	HasVoltage     bool
	Echo           bool // true when AngleDeg is the last commanded angle, not measured
	Time           time.Time
}

// Sentinel errors for the actuator taxonomy.
var (
	ErrTimeout        = errors.New("bus timeout")
	ErrMalformedFrame = errors.New("malformed feedback frame")
	ErrUnknownJoint   = errors.New("unknown joint")
	ErrUnsupported    = errors.New("operation not supported by servo family")
	ErrBusClosed      = errors.New("bus closed")
)

// BusError wraps a bus failure with the operation and joint it hit.
type BusError struct {
	Op    string
	Joint JointName
	Err   error
}

func (e *BusError) Error() string {
	if e.Joint != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Joint, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// PWMOutput is the fire-and-forget side of the actuation system.
type PWMOutput interface {
	SetAngle(spec JointSpec, angleDeg float64) error
	Neutral(spec JointSpec) error
}

// ServoBus is a half-duplex serial servo chain. Implementations own the line:
// exactly one request/response pair is in flight at a time, and every call is
// bounded by the bus command timeout.
type ServoBus interface {
	Move(ctx context.Context, id int, angleDeg float64, d time.Duration) error
	ReadPosition(ctx context.Context, id int) (float64, error)
	ReadTemperature(ctx context.Context, id int) (int, error)
	ReadVoltage(ctx context.Context, id int) (int, error)
	Stop(ctx context.Context, id int) error
	Close() error
}

// Controller dispatches joint commands to the right driver and tracks the
// last commanded angle per joint.
type Controller struct {
	joints     map[JointName]JointSpec
	pwm        PWMOutput
	bus        ServoBus
	cmdTimeout time.Duration
	log        *logrus.Entry

	mu   sync.Mutex
	last map[JointName]float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithCommandTimeout bounds every serial bus operation issued by the
// controller. Defaults to 250ms.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Controller) { c.cmdTimeout = d }
}

// WithLogger sets the event logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) { c.log = log }
}

// NewController builds a controller over the given joint table. Either driver
// may be nil when the build has no joints of that kind.
func NewController(joints []JointSpec, pwm PWMOutput, bus ServoBus, opts ...Option) *Controller {
	c := &Controller{
		joints:     make(map[JointName]JointSpec, len(joints)),
		pwm:        pwm,
		bus:        bus,
		cmdTimeout: 250 * time.Millisecond,
		log:        logrus.NewEntry(logrus.StandardLogger()),
		last:       make(map[JointName]float64, len(joints)),
	}
	for _, j := range joints {
		c.joints[j.Name] = j
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Joints returns the specs of all configured joints.
func (c *Controller) Joints() []JointSpec {
	specs := make([]JointSpec, 0, len(c.joints))
	for _, j := range c.joints {
		specs = append(specs, j)
	}
	return specs
}

// Spec returns the spec for one joint.
func (c *Controller) Spec(name JointName) (JointSpec, bool) {
	j, ok := c.joints[name]
	return j, ok
}

// SetJointAngle commands a joint to an angle over a duration. Angles outside
// the joint's configured range are clamped to the nearest bound; the clamped
// return reports that so callers can log a LimitClamped warning without the
// motion failing. Duration is honored by serial servos and ignored by PWM.
func (c *Controller) SetJointAngle(ctx context.Context, name JointName, angleDeg float64, d time.Duration) (clamped bool, err error) {
	spec, ok := c.joints[name]
	if !ok {
		return false, &BusError{Op: "set angle", Joint: name, Err: ErrUnknownJoint}
	}

	target := angleDeg
	if target < spec.MinAngle {
		target = spec.MinAngle
	} else if target > spec.MaxAngle {
		target = spec.MaxAngle
	}
	clamped = target != angleDeg
	if clamped {
		c.log.WithFields(logrus.Fields{
			"joint":     name,
			"requested": angleDeg,
			"clamped":   target,
		}).Warn("joint command clamped to limit")
	}

	hw := target + spec.Offset
	switch spec.Kind {
	case KindPWM:
		if c.pwm == nil {
			return clamped, &BusError{Op: "set angle", Joint: name, Err: errors.New("no pwm driver")}
		}
		if err := c.pwm.SetAngle(spec, hw); err != nil {
			return clamped, &BusError{Op: "set angle", Joint: name, Err: err}
		}
	case KindSerial:
		if c.bus == nil {
			return clamped, &BusError{Op: "set angle", Joint: name, Err: errors.New("no serial bus")}
		}
		opCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
		defer cancel()
		if err := c.bus.Move(opCtx, spec.ServoID, hw, d); err != nil {
			return clamped, &BusError{Op: "set angle", Joint: name, Err: err}
		}
	default:
		return clamped, &BusError{Op: "set angle", Joint: name, Err: fmt.Errorf("unknown actuator kind %q", spec.Kind)}
	}

	c.mu.Lock()
	c.last[name] = target
	c.mu.Unlock()
	return clamped, nil
}

// ReadJointFeedback reads feedback for one joint. Serial joints report the
// measured position plus temperature and voltage where the servo family
// supports them. PWM joints have no feedback channel and echo the last
// commanded angle.
func (c *Controller) ReadJointFeedback(ctx context.Context, name JointName) (FeedbackSample, error) {
	spec, ok := c.joints[name]
	if !ok {
		return FeedbackSample{}, &BusError{Op: "read feedback", Joint: name, Err: ErrUnknownJoint}
	}

	sample := FeedbackSample{Joint: name, Time: time.Now()}

	if spec.Kind == KindPWM {
		c.mu.Lock()
		sample.AngleDeg = c.last[name]
		c.mu.Unlock()
		sample.Echo = true
		return sample, nil
	}

	if c.bus == nil {
		return FeedbackSample{}, &BusError{Op: "read feedback", Joint: name, Err: errors.New("no serial bus")}
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	pos, err := c.bus.ReadPosition(opCtx, spec.ServoID)
	if err != nil {
		return FeedbackSample{}, &BusError{Op: "read position", Joint: name, Err: err}
	}
	sample.AngleDeg = pos - spec.Offset

	if temp, err := c.readTemp(ctx, spec.ServoID); err == nil {
		sample.TemperatureC = temp
		sample.HasTemperature = true
	} else if !errors.Is(err, ErrUnsupported) {
		return FeedbackSample{}, &BusError{Op: "read temperature", Joint: name, Err: err}
	}

	if mv, err := c.readVin(ctx, spec.ServoID); err == nil {
		sample.VoltageMV = mv
		sample.HasVoltage = true
	} else if !errors.Is(err, ErrUnsupported) {
		return FeedbackSample{}, &BusError{Op: "read voltage", Joint: name, Err: err}
	}

	return sample, nil
}

func (c *Controller) readTemp(ctx context.Context, id int) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()
	return c.bus.ReadTemperature(opCtx, id)
}

func (c *Controller) readVin(ctx context.Context, id int) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()
	return c.bus.ReadVoltage(opCtx, id)
}

// LastCommanded returns the last angle commanded to a joint, if any.
func (c *Controller) LastCommanded(name JointName) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.last[name]
	return v, ok
}

// ConfirmPose reads position feedback for the given joints and reports
// whether every serial bus joint is within tolDeg of its last commanded
// angle. Joints without a feedback channel are skipped, so a PWM-only set
// always confirms.
func (c *Controller) ConfirmPose(ctx context.Context, joints []JointName, tolDeg float64) (bool, error) {
	for _, name := range joints {
		spec, ok := c.joints[name]
		if !ok {
			return false, &BusError{Op: "confirm pose", Joint: name, Err: ErrUnknownJoint}
		}
		if spec.Kind != KindSerial {
			continue
		}
		want, ok := c.LastCommanded(name)
		if !ok {
			continue
		}
		sample, err := c.ReadJointFeedback(ctx, name)
		if err != nil {
			return false, err
		}
		if diff := sample.AngleDeg - want; diff > tolDeg || diff < -tolDeg {
			return false, nil
		}
	}
	return true, nil
}

// EmergencyStop unconditionally neutralizes every joint: serial servos get a
// stop command, PWM servos are driven to their neutral angle. It never fails;
// individual joint errors are logged and skipped. Each serial stop is bounded
// by the command timeout, so a stuck transaction cannot block shutdown longer
// than one timeout.
func (c *Controller) EmergencyStop() {
	c.log.Warn("emergency stop")
	for name, spec := range c.joints {
		switch spec.Kind {
		case KindPWM:
			if c.pwm == nil {
				continue
			}
			if err := c.pwm.Neutral(spec); err != nil {
				c.log.WithField("joint", name).WithError(err).Error("emergency stop: pwm neutral failed")
			}
		case KindSerial:
			if c.bus == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cmdTimeout)
			if err := c.bus.Stop(ctx, spec.ServoID); err != nil {
				c.log.WithField("joint", name).WithError(err).Error("emergency stop: servo stop failed")
			}
			cancel()
		}
	}
}
