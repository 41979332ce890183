package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/artisanbot/artisan/pkg/kinematics"
)

type fakeArm struct {
	mu      sync.Mutex
	moves   []kinematics.Point
	grips   []float64
	estops  int
	arrived bool
	moveErr error
}

func newFakeArm() *fakeArm {
	return &fakeArm{arrived: true}
}

func (f *fakeArm) MoveTo(ctx context.Context, target kinematics.Point, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, target)
	return nil
}

func (f *fakeArm) ConfirmArrival(ctx context.Context, tolDeg float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arrived, nil
}

func (f *fakeArm) SetGripper(ctx context.Context, closure float64, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grips = append(f.grips, closure)
	return nil
}

func (f *fakeArm) EmergencyStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estops++
}

type fakeHand struct {
	mu       sync.Mutex
	calErr   error
	confirms []bool // consumed in order; last value repeats
	idx      int
}

func (f *fakeHand) Calibrate(ctx context.Context) error { return f.calErr }

func (f *fakeHand) GraspConfirmed(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.confirms) == 0 {
		return false, nil
	}
	v := f.confirms[f.idx]
	if f.idx < len(f.confirms)-1 {
		f.idx++
	}
	return v, nil
}

type fakePerception struct {
	target kinematics.Point
	ok     bool
	err    error
}

func (f *fakePerception) NextTarget(ctx context.Context) (kinematics.Point, bool, error) {
	return f.target, f.ok, f.err
}

// fastConfig removes all waiting so tests can drive Tick directly.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ReachDuration = 0
	cfg.DescendDuration = 0
	cfg.GripDuration = 0
	cfg.LiftDuration = 0
	cfg.MaxScanRetries = 3
	cfg.MaxGraspRetries = 3
	return cfg
}

// runTicks drives the machine until it settles in one of the given states or
// the tick budget runs out.
func runTicks(t *testing.T, s *Sequencer, max int, until ...State) State {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < max; i++ {
		cur := s.State().State
		for _, want := range until {
			if cur == want {
				return cur
			}
		}
		s.Tick(ctx)
	}
	return s.State().State
}

func TestFullGraspSequence(t *testing.T) {
	arm := newFakeArm()
	hand := &fakeHand{confirms: []bool{true}}
	per := &fakePerception{target: kinematics.Point{X: 0.30, Y: 0.10, Z: -0.05}, ok: true}
	s := New(arm, hand, per, fastConfig(), nil)

	s.Dispatch(EventStart, "test")
	if got := runTicks(t, s, 50, StateIdle, StateError); got != StateIdle {
		t.Fatalf("ended in %s, want Idle", got)
	}

	// Open for calibration, then the initial grasp closure.
	wantGrips := []float64{0, 0.6}
	if len(arm.grips) != len(wantGrips) {
		t.Fatalf("grips = %v, want %v", arm.grips, wantGrips)
	}
	for i, g := range wantGrips {
		if arm.grips[i] != g {
			t.Errorf("grip[%d] = %v, want %v", i, arm.grips[i], g)
		}
	}

	// Pre-grasp approach above the target, descent, then lift.
	if len(arm.moves) != 3 {
		t.Fatalf("moves = %v, want 3", arm.moves)
	}
	if diff := arm.moves[0].Z - (-0.05 + 0.05); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("pre-grasp z = %v, want 0", arm.moves[0].Z)
	}
	if diff := arm.moves[1].Z - (-0.05); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("descend z = %v, want -0.05", arm.moves[1].Z)
	}
	if diff := arm.moves[2].Z - (-0.05 + 0.15); diff > 1e-9 || diff < -1e-9 {
		t.Errorf("lift z = %v, want 0.10", arm.moves[2].Z)
	}

	if arm.estops != 0 {
		t.Errorf("estops = %d on a clean run", arm.estops)
	}
}

func TestScanningExhaustedStopsOnce(t *testing.T) {
	arm := newFakeArm()
	hand := &fakeHand{}
	per := &fakePerception{ok: false}
	s := New(arm, hand, per, fastConfig(), nil)

	s.Dispatch(EventStart, "test")
	if got := runTicks(t, s, 50, StateError); got != StateError {
		t.Fatalf("ended in %s, want Error", got)
	}
	if arm.estops != 1 {
		t.Errorf("estops = %d, want exactly 1", arm.estops)
	}

	// Further ticks and fail events must not stop again.
	runTicks(t, s, 10)
	s.Dispatch(EventFail, "again")
	if arm.estops != 1 {
		t.Errorf("estops = %d after extra events, want 1", arm.estops)
	}
}

func TestUnreachableTargetRetriesThenFails(t *testing.T) {
	arm := newFakeArm()
	arm.moveErr = fmt.Errorf("move arm: %w", kinematics.ErrUnreachable)
	hand := &fakeHand{}
	per := &fakePerception{target: kinematics.Point{X: 1.0}, ok: true}
	s := New(arm, hand, per, fastConfig(), nil)

	s.Dispatch(EventStart, "test")
	if got := runTicks(t, s, 50, StateError); got != StateError {
		t.Fatalf("ended in %s, want Error", got)
	}
	if got := s.State().ScanAttempts; got != 4 {
		t.Errorf("scan attempts = %d, want retries exhausted at 4", got)
	}
	if arm.estops != 1 {
		t.Errorf("estops = %d, want 1", arm.estops)
	}
}

func TestRegraspClosesFurther(t *testing.T) {
	arm := newFakeArm()
	hand := &fakeHand{confirms: []bool{false, false, true}}
	per := &fakePerception{target: kinematics.Point{X: 0.30, Z: -0.05}, ok: true}
	s := New(arm, hand, per, fastConfig(), nil)

	s.Dispatch(EventStart, "test")
	if got := runTicks(t, s, 100, StateIdle, StateError); got != StateIdle {
		t.Fatalf("ended in %s, want Idle", got)
	}

	// Calibration open, then progressively tighter closures.
	wantGrips := []float64{0, 0.6, 0.75, 0.9}
	if len(arm.grips) != len(wantGrips) {
		t.Fatalf("grips = %v, want %v", arm.grips, wantGrips)
	}
	for i, g := range wantGrips {
		if diff := arm.grips[i] - g; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("grip[%d] = %v, want %v", i, arm.grips[i], g)
		}
	}
}

func TestGraspRetriesExhausted(t *testing.T) {
	arm := newFakeArm()
	hand := &fakeHand{} // never confirms
	per := &fakePerception{target: kinematics.Point{X: 0.30, Z: -0.05}, ok: true}
	cfg := fastConfig()
	cfg.MaxGraspRetries = 2
	s := New(arm, hand, per, cfg, nil)

	s.Dispatch(EventStart, "test")
	if got := runTicks(t, s, 100, StateError, StateIdle); got != StateError {
		t.Fatalf("ended in %s, want Error", got)
	}
	if arm.estops != 1 {
		t.Errorf("estops = %d, want 1", arm.estops)
	}
	if got := s.State().GraspAttempts; got != 3 {
		t.Errorf("grasp attempts = %d, want 3", got)
	}
}

func TestCalibrationFailureGoesToError(t *testing.T) {
	arm := newFakeArm()
	hand := &fakeHand{calErr: errors.New("adc offline")}
	per := &fakePerception{}
	s := New(arm, hand, per, fastConfig(), nil)

	s.Dispatch(EventStart, "test")
	if got := runTicks(t, s, 10, StateError); got != StateError {
		t.Fatalf("ended in %s, want Error", got)
	}
	if arm.estops != 1 {
		t.Errorf("estops = %d, want 1", arm.estops)
	}
}

func TestAbortFromActiveState(t *testing.T) {
	arm := newFakeArm()
	hand := &fakeHand{}
	per := &fakePerception{target: kinematics.Point{X: 0.30}, ok: true}
	s := New(arm, hand, per, fastConfig(), nil)

	s.Dispatch(EventStart, "test")
	runTicks(t, s, 5, StateScanning)

	s.Dispatch(EventAbort, "operator")
	if got := s.State().State; got != StateError {
		t.Fatalf("state = %s after abort, want Error", got)
	}
	if arm.estops != 1 {
		t.Errorf("estops = %d, want 1", arm.estops)
	}
}

func TestStartOnlyFromIdle(t *testing.T) {
	arm := newFakeArm()
	s := New(arm, &fakeHand{}, &fakePerception{}, fastConfig(), nil)

	s.Dispatch(EventAbort, "test")
	if got := s.State().State; got != StateError {
		t.Fatalf("state = %s, want Error", got)
	}
	s.Dispatch(EventStart, "test")
	if got := s.State().State; got != StateError {
		t.Errorf("start accepted in Error state, now %s", got)
	}
}

func TestStopFromAnywhere(t *testing.T) {
	for _, setup := range []Event{EventStart, EventAbort} {
		arm := newFakeArm()
		s := New(arm, &fakeHand{}, &fakePerception{}, fastConfig(), nil)
		s.Dispatch(setup, "test")
		s.Dispatch(EventStop, "test")
		if got := s.State().State; got != StateShutdown {
			t.Errorf("after %s+stop state = %s, want Shutdown", setup, got)
		}
	}
}

func TestRunStopsOnStopRequest(t *testing.T) {
	arm := newFakeArm()
	cfg := fastConfig()
	cfg.TickInterval = time.Millisecond
	s := New(arm, &fakeHand{}, &fakePerception{}, cfg, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if got := s.State().State; got != StateShutdown {
		t.Errorf("state = %s, want Shutdown", got)
	}
}
