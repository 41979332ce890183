// Package sequencer drives the reach-grasp-lift behavior as a cooperative
// state machine. One loop owns the robot state; each tick performs at most
// one actuator or sensor operation and every transition is defined for every
// state, so the machine always ends in Idle, Error or Shutdown.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artisanbot/artisan/pkg/kinematics"
)

// State is the sequencer's operating state. The names are part of the
// behavioral contract.
type State string

const (
	StateIdle        State = "Idle"
	StateCalibrating State = "Calibrating"
	StateScanning    State = "Scanning"
	StateReaching    State = "Reaching"
	StateGrasping    State = "Grasping"
	StateLifting     State = "Lifting"
	StateError       State = "Error"
	StateShutdown    State = "Shutdown"
)

// Event is a state machine input.
type Event string

const (
	EventStart   Event = "start"
	EventTick    Event = "tick"
	EventConfirm Event = "confirm"
	EventFail    Event = "fail"
	EventAbort   Event = "abort"
	EventStop    Event = "stop"
)

// ErrGraspFailed reports that tactile confirmation was not achieved within
// the configured retries.
var ErrGraspFailed = errors.New("grasp not confirmed")

// Arm is the motion side of the robot as the sequencer sees it.
type Arm interface {
	// MoveTo solves and commands a reach to the target; it wraps
	// kinematics.ErrUnreachable when the target is outside the envelope.
	MoveTo(ctx context.Context, target kinematics.Point, d time.Duration) error
	// ConfirmArrival reports whether joints with position feedback are
	// within tolDeg of their commanded angles. Feedback-less arms confirm
	// trivially.
	ConfirmArrival(ctx context.Context, tolDeg float64) (bool, error)
	// SetGripper closes the hand to a fraction: 0 open, 1 fully closed.
	SetGripper(ctx context.Context, closure float64, d time.Duration) error
	EmergencyStop()
}

// Hand is the tactile side of the robot.
type Hand interface {
	Calibrate(ctx context.Context) error
	GraspConfirmed(ctx context.Context) (bool, error)
}

// Perception supplies grasp targets. Implemented externally; the sequencer
// only polls it.
type Perception interface {
	// NextTarget returns a target point in the arm-base frame, or ok=false
	// when nothing was found this poll.
	NextTarget(ctx context.Context) (p kinematics.Point, ok bool, err error)
}

// Config holds the sequencer's tunables. Retry counts and the regrasp delta
// are deliberately configurable rather than fixed.
type Config struct {
	TickInterval time.Duration

	MaxScanRetries     int
	MaxGraspRetries    int
	MaxConfirmRetries  int
	MaxActuatorRetries int

	PreGraspOffset float64 // meters above the target for the approach
	LiftOffset     float64 // meters to lift after a confirmed grasp

	GripperClosure float64 // initial closure fraction for the grasp
	RegraspDelta   float64 // extra closure per failed confirmation

	PositionTolerance float64 // degrees for arrival confirmation

	ReachDuration   time.Duration
	DescendDuration time.Duration
	GripDuration    time.Duration
	LiftDuration    time.Duration
}

// DefaultConfig returns conservative demo timings.
func DefaultConfig() Config {
	return Config{
		TickInterval:       50 * time.Millisecond,
		MaxScanRetries:     10,
		MaxGraspRetries:    3,
		MaxConfirmRetries:  3,
		MaxActuatorRetries: 3,
		PreGraspOffset:     0.05,
		LiftOffset:         0.15,
		GripperClosure:     0.6,
		RegraspDelta:       0.15,
		PositionTolerance:  5,
		ReachDuration:      1500 * time.Millisecond,
		DescendDuration:    800 * time.Millisecond,
		GripDuration:       500 * time.Millisecond,
		LiftDuration:       1000 * time.Millisecond,
	}
}

// RobotState is the sequencer's externally visible state snapshot.
type RobotState struct {
	State         State
	Target        kinematics.Point
	HaveTarget    bool
	ScanAttempts  int
	GraspAttempts int
}

// StateChange is one transition, emitted to observers.
type StateChange struct {
	From   State
	To     State
	Reason string
	Time   time.Time
}

// Sequencer runs the grasp behavior. All state mutation happens on the
// goroutine calling Run/Tick; Start, Stop and Abort only post events.
type Sequencer struct {
	arm  Arm
	hand Hand
	per  Perception
	cfg  Config
	log  *logrus.Entry

	mu sync.RWMutex
	st RobotState

	startCh chan struct{}
	stopCh  chan struct{}
	abortCh chan struct{}
	states  chan StateChange

	// Per-state progress, reset on every transition.
	phase        int
	deadline     time.Time
	closure      float64
	confirmTries int
	faults       int
}

// New builds a sequencer over its collaborators.
func New(arm Arm, hand Hand, per Perception, cfg Config, log *logrus.Entry) *Sequencer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if log == nil {
		log = logrus.WithField("sub", "sequencer")
	}
	return &Sequencer{
		arm:     arm,
		hand:    hand,
		per:     per,
		cfg:     cfg,
		log:     log,
		st:      RobotState{State: StateIdle},
		startCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}, 1),
		abortCh: make(chan struct{}, 1),
		states:  make(chan StateChange, 8),
	}
}

// State returns a snapshot of the robot state.
func (s *Sequencer) State() RobotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// States returns the transition stream for observers. Transitions are
// dropped, not blocked on, when the observer lags.
func (s *Sequencer) States() <-chan StateChange {
	return s.states
}

// Start requests the grasp sequence.
func (s *Sequencer) Start() { post(s.startCh) }

// Stop requests a final shutdown; the machine ends in Shutdown.
func (s *Sequencer) Stop() { post(s.stopCh) }

// Abort forces the machine into Error, which triggers the emergency stop.
func (s *Sequencer) Abort() { post(s.abortCh) }

func post(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run drives the machine until Shutdown or context cancellation.
func (s *Sequencer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Dispatch(EventStop, "context canceled")
			return ctx.Err()
		case <-s.stopCh:
			s.Dispatch(EventStop, "stop requested")
			return nil
		case <-s.abortCh:
			s.Dispatch(EventAbort, "abort requested")
		case <-s.startCh:
			s.Dispatch(EventStart, "start requested")
		case <-ticker.C:
			if s.State().State == StateShutdown {
				return nil
			}
			s.Tick(ctx)
		}
	}
}

// Dispatch applies one event. Every state defines a response to every event;
// undefined combinations are explicit no-ops.
func (s *Sequencer) Dispatch(ev Event, reason string) {
	cur := s.State().State

	var next State
	switch ev {
	case EventStart:
		if cur != StateIdle {
			return
		}
		next = StateCalibrating
	case EventTick:
		return // tick drives work, not transitions
	case EventConfirm:
		switch cur {
		case StateCalibrating:
			next = StateScanning
		case StateScanning:
			next = StateReaching
		case StateReaching:
			next = StateGrasping
		case StateGrasping:
			next = StateLifting
		case StateLifting:
			next = StateIdle
		default:
			return
		}
	case EventFail, EventAbort:
		if cur == StateError || cur == StateShutdown {
			return
		}
		next = StateError
	case EventStop:
		if cur == StateShutdown {
			return
		}
		next = StateShutdown
	default:
		return
	}

	s.transition(cur, next, reason)
}

func (s *Sequencer) transition(from, to State, reason string) {
	s.mu.Lock()
	s.st.State = to
	if to == StateIdle || to == StateShutdown {
		s.st.HaveTarget = false
	}
	s.mu.Unlock()

	s.phase = 0
	s.faults = 0
	s.confirmTries = 0

	s.log.WithFields(logrus.Fields{
		"event":  "transition",
		"from":   from,
		"to":     to,
		"reason": reason,
	}).Info("state transition")

	change := StateChange{From: from, To: to, Reason: reason, Time: time.Now()}
	select {
	case s.states <- change:
	default:
	}

	// Entering Error neutralizes the robot, exactly once per entry.
	if to == StateError && from != StateError {
		s.arm.EmergencyStop()
	}
}

// Tick advances the current state by at most one actuator or sensor
// operation. Exported so callers embedding the sequencer in their own loop
// can drive it directly.
func (s *Sequencer) Tick(ctx context.Context) {
	switch s.State().State {
	case StateCalibrating:
		s.tickCalibrating(ctx)
	case StateScanning:
		s.tickScanning(ctx)
	case StateReaching:
		s.tickReaching(ctx)
	case StateGrasping:
		s.tickGrasping(ctx)
	case StateLifting:
		s.tickLifting()
	case StateIdle, StateError, StateShutdown:
		// Nothing to do until an event arrives.
	}
}

func (s *Sequencer) tickCalibrating(ctx context.Context) {
	switch s.phase {
	case 0:
		// Baseline must be taken with the hand open and unloaded.
		if err := s.arm.SetGripper(ctx, 0, s.cfg.GripDuration); err != nil {
			s.actuatorFault(err)
			return
		}
		s.deadline = time.Now().Add(s.cfg.GripDuration)
		s.phase = 1
	case 1:
		if time.Now().Before(s.deadline) {
			return
		}
		if err := s.hand.Calibrate(ctx); err != nil {
			s.log.WithError(err).Error("tactile calibration failed")
			s.Dispatch(EventFail, "tactile calibration failed")
			return
		}
		s.mu.Lock()
		s.st.ScanAttempts = 0
		s.mu.Unlock()
		s.Dispatch(EventConfirm, "baseline calibrated")
	}
}

func (s *Sequencer) tickScanning(ctx context.Context) {
	target, ok, err := s.per.NextTarget(ctx)
	if err != nil || !ok {
		if err != nil {
			s.log.WithError(err).Warn("perception poll failed")
		}
		s.bumpScan("no target from perception")
		return
	}

	pre := target
	pre.Z += s.cfg.PreGraspOffset
	if err := s.arm.MoveTo(ctx, pre, s.cfg.ReachDuration); err != nil {
		if errors.Is(err, kinematics.ErrUnreachable) {
			s.log.WithField("target", target).Warn("target unreachable, rescanning")
			s.bumpScan("target unreachable")
			return
		}
		s.actuatorFault(err)
		return
	}

	s.mu.Lock()
	s.st.Target = target
	s.st.HaveTarget = true
	s.st.GraspAttempts = 0
	s.mu.Unlock()

	s.Dispatch(EventConfirm, "target acquired")
	s.deadline = time.Now().Add(s.cfg.ReachDuration)
	s.closure = s.cfg.GripperClosure
}

func (s *Sequencer) bumpScan(reason string) {
	s.mu.Lock()
	s.st.ScanAttempts++
	attempts := s.st.ScanAttempts
	s.mu.Unlock()
	if attempts > s.cfg.MaxScanRetries {
		s.Dispatch(EventFail, reason)
	}
}

func (s *Sequencer) tickReaching(ctx context.Context) {
	if time.Now().Before(s.deadline) {
		return
	}
	switch s.phase {
	case 0:
		arrived, err := s.arm.ConfirmArrival(ctx, s.cfg.PositionTolerance)
		if err != nil {
			s.actuatorFault(err)
			return
		}
		if !arrived {
			s.confirmTries++
			if s.confirmTries > s.cfg.MaxConfirmRetries {
				s.Dispatch(EventFail, "arm did not reach commanded pose")
			}
			return
		}
		if err := s.arm.MoveTo(ctx, s.State().Target, s.cfg.DescendDuration); err != nil {
			s.actuatorFault(err)
			return
		}
		s.deadline = time.Now().Add(s.cfg.DescendDuration)
		s.phase = 1
	case 1:
		s.Dispatch(EventConfirm, "reach complete")
		s.deadline = time.Time{}
	}
}

func (s *Sequencer) tickGrasping(ctx context.Context) {
	switch s.phase {
	case 0:
		if err := s.arm.SetGripper(ctx, s.closure, s.cfg.GripDuration); err != nil {
			s.actuatorFault(err)
			return
		}
		s.deadline = time.Now().Add(s.cfg.GripDuration)
		s.phase = 1
	case 1:
		if time.Now().Before(s.deadline) {
			return
		}
		confirmed, err := s.hand.GraspConfirmed(ctx)
		if err != nil {
			s.actuatorFault(err)
			return
		}
		if confirmed {
			st := s.State()
			lift := st.Target
			lift.Z += s.cfg.LiftOffset
			if err := s.arm.MoveTo(ctx, lift, s.cfg.LiftDuration); err != nil {
				s.actuatorFault(err)
				return
			}
			s.log.WithFields(logrus.Fields{
				"event":    "grasp_outcome",
				"success":  true,
				"attempts": st.GraspAttempts + 1,
			}).Info("grasp confirmed")
			s.Dispatch(EventConfirm, "grasp confirmed")
			s.deadline = time.Now().Add(s.cfg.LiftDuration)
			return
		}

		s.mu.Lock()
		s.st.GraspAttempts++
		attempts := s.st.GraspAttempts
		s.mu.Unlock()

		if attempts > s.cfg.MaxGraspRetries {
			s.log.WithFields(logrus.Fields{
				"event":    "grasp_outcome",
				"success":  false,
				"attempts": attempts,
			}).Error(ErrGraspFailed)
			s.Dispatch(EventFail, ErrGraspFailed.Error())
			return
		}

		// Close a little further and poll again.
		s.closure += s.cfg.RegraspDelta
		if s.closure > 1 {
			s.closure = 1
		}
		s.phase = 0
	}
}

func (s *Sequencer) tickLifting() {
	if time.Now().Before(s.deadline) {
		return
	}
	s.Dispatch(EventConfirm, "lift complete")
}

// actuatorFault counts a transient fault and escalates past the retry cap.
func (s *Sequencer) actuatorFault(err error) {
	s.faults++
	s.log.WithError(err).WithField("fault", s.faults).Warn("actuator fault")
	if s.faults > s.cfg.MaxActuatorRetries {
		s.Dispatch(EventFail, "actuator fault retries exhausted")
	}
}
