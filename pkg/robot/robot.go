// Package robot assembles the hardware stack described by a Config into a
// running robot: actuator controller, kinematic solvers, tactile hands, and
// the grasp sequencer over them.
package robot

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artisanbot/artisan/pkg/actuator"
	"github.com/artisanbot/artisan/pkg/i2cdev"
	"github.com/artisanbot/artisan/pkg/kinematics"
	"github.com/artisanbot/artisan/pkg/sequencer"
	"github.com/artisanbot/artisan/pkg/tactile"
)

// openI2C is swappable so assembly tests can run without bus hardware.
var openI2C = func(path string, addr byte) (i2cdev.Dev, error) {
	return i2cdev.Open(path, addr)
}

// Robot owns the assembled hardware. Close releases everything.
type Robot struct {
	cfg    *Config
	ctl    *actuator.Controller
	pwm    *actuator.PWMDriver
	bus    actuator.ServoBus
	solver *kinematics.Solver
	arms   map[kinematics.Side]*Arm
	hands  map[kinematics.Side]*Hand
	adcs   []io.Closer
	log    *logrus.Entry
}

// Open builds the robot from its configuration. The config must already be
// validated; hardware open failures are returned as-is.
func Open(cfg *Config, log *logrus.Entry) (*Robot, error) {
	if log == nil {
		log = logrus.WithField("sub", "robot")
	}

	r := &Robot{
		cfg:   cfg,
		arms:  make(map[kinematics.Side]*Arm, 2),
		hands: make(map[kinematics.Side]*Hand, len(cfg.Hands)),
		log:   log,
	}

	var err error
	if r.bus, err = openBus(cfg.SerialBus); err != nil {
		return nil, err
	}

	if len(cfg.PWMBoards) > 0 {
		boards := make(map[int]*actuator.PCA9685, len(cfg.PWMBoards))
		// Boards opened so far are only reachable here until the driver is
		// built, so a later failure must close them explicitly.
		fail := func(err error) (*Robot, error) {
			for _, b := range boards {
				b.Close()
			}
			r.Close()
			return nil, err
		}
		for _, bc := range cfg.PWMBoards {
			dev, err := openI2C(bc.I2CBus, byte(bc.Address))
			if err != nil {
				return fail(fmt.Errorf("open pwm board %d: %w", bc.Number, err))
			}
			board, err := actuator.NewPCA9685(dev, bc.FrequencyHz)
			if err != nil {
				dev.Close()
				return fail(fmt.Errorf("init pwm board %d: %w", bc.Number, err))
			}
			boards[bc.Number] = board
		}
		r.pwm = actuator.NewPWMDriver(boards)
	}

	r.ctl = actuator.NewController(cfg.Joints, r.pwm, r.bus,
		actuator.WithCommandTimeout(cfg.SerialBus.CommandTimeout()),
		actuator.WithLogger(log.WithField("sub", "actuator")),
	)
	r.solver = kinematics.NewSolver(cfg.Geometry)

	for _, side := range []kinematics.Side{kinematics.Left, kinematics.Right} {
		r.arms[side] = NewArm(r.ctl, r.solver, side, log.WithField("arm", side))
	}

	var handErr error
	for _, hc := range cfg.Hands {
		dev, err := openI2C(hc.I2CBus, byte(hc.Address))
		if err != nil {
			// A dead ADC disables that hand; the other one keeps working.
			handErr = fmt.Errorf("open tactile adc %s: %w", hc.Side, err)
			log.WithField("hand", hc.Side).WithError(err).Warn("tactile adc unavailable, hand disabled")
			continue
		}
		opts := []tactile.ArrayOption{
			tactile.WithLogger(log.WithField("hand", hc.Side)),
		}
		if hc.Samples > 0 {
			opts = append(opts, tactile.WithSampleCount(hc.Samples))
		}
		if hc.ForceScale > 0 {
			opts = append(opts, tactile.WithForceScale(hc.ForceScale))
		}
		adc := tactile.NewADS1115(dev)
		r.adcs = append(r.adcs, adc)
		arr := tactile.NewArray(adc, hc.Sensors, opts...)
		r.hands[hc.Side] = NewHand(arr, hc.Required, hc.Threshold)
	}
	if len(cfg.Hands) > 0 && len(r.hands) == 0 {
		r.Close()
		return nil, handErr
	}

	return r, nil
}

func openBus(cfg SerialBusConfig) (actuator.ServoBus, error) {
	if cfg.Port == "" {
		return nil, nil
	}
	switch cfg.Family {
	case FamilySTS:
		return actuator.OpenSTSBus(cfg.Port, cfg.Baud, cfg.MinID, cfg.MaxID)
	case FamilyLX16A, "":
		return actuator.OpenLX16ABus(cfg.Port, cfg.Baud, cfg.CommandTimeout())
	default:
		return nil, &ConfigError{
			Field:  "serial_bus.family",
			Reason: fmt.Sprintf("unknown family %q", cfg.Family),
		}
	}
}

// Controller exposes the joint controller for direct commands and feedback.
func (r *Robot) Controller() *actuator.Controller { return r.ctl }

// Solver exposes the kinematic solver.
func (r *Robot) Solver() *kinematics.Solver { return r.solver }

// Arm returns one side's motion adapter.
func (r *Robot) Arm(side kinematics.Side) *Arm { return r.arms[side] }

// Hand returns one side's tactile adapter, or nil when that hand has no
// sensor array.
func (r *Robot) Hand(side kinematics.Side) *Hand { return r.hands[side] }

// Neutral drives every configured joint to its neutral angle.
func (r *Robot) Neutral(ctx context.Context, d time.Duration) error {
	for _, spec := range r.ctl.Joints() {
		if _, err := r.ctl.SetJointAngle(ctx, spec.Name, spec.Neutral, d); err != nil {
			return err
		}
	}
	return nil
}

// EmergencyStop neutralizes the whole actuation system.
func (r *Robot) EmergencyStop() {
	r.ctl.EmergencyStop()
}

// Sequencer builds a grasp sequencer driving one side's arm and hand.
func (r *Robot) Sequencer(side kinematics.Side, per sequencer.Perception) (*sequencer.Sequencer, error) {
	hand, ok := r.hands[side]
	if !ok {
		return nil, fmt.Errorf("no tactile hand configured for %s side", side)
	}
	cfg := r.cfg.Sequencer.Sequencer()
	return sequencer.New(r.arms[side], hand, per, cfg, r.log.WithField("sub", "sequencer")), nil
}

// Close releases all hardware. Safe on a partially opened robot.
func (r *Robot) Close() error {
	var firstErr error
	if r.bus != nil {
		if err := r.bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.pwm != nil {
		if err := r.pwm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range r.adcs {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
