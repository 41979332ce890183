package tactile

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeADC serves fixed per-channel voltages that tests adjust mid-run.
type fakeADC struct {
	mu    sync.Mutex
	volts map[int]float64
	err   error
}

func newFakeADC() *fakeADC {
	return &fakeADC{volts: make(map[int]float64)}
}

func (f *fakeADC) set(ch int, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volts[ch] = v
}

func (f *fakeADC) ReadChannel(ctx context.Context, ch int) (int, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	v := f.volts[ch]
	return int(v * 32768 / 4.096), v, nil
}

func graspSensors() []Sensor {
	return []Sensor{
		{ID: "thumb", Channel: 0},
		{ID: "index", Channel: 1},
		{ID: "middle", Channel: 2},
		{ID: "palm", Channel: 3},
	}
}

// Scale 1 makes volts above baseline read directly as force.
func calibratedForTest(t *testing.T, adc *fakeADC) *CalibratedArray {
	t.Helper()
	arr := NewArray(adc, graspSensors(), WithSampleCount(2), WithForceScale(1))
	cal, err := arr.Calibrate(context.Background())
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	return cal
}

func TestCalibrateSubtractsBaseline(t *testing.T) {
	adc := newFakeADC()
	adc.set(0, 0.5)
	cal := calibratedForTest(t, adc)

	adc.set(0, 1.2)
	r, err := cal.Read(context.Background(), "thumb")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if r.Force != 0.7 {
		t.Errorf("force = %v, want 0.7", r.Force)
	}
}

func TestReadForceNeverNegative(t *testing.T) {
	adc := newFakeADC()
	adc.set(0, 0.5)
	cal := calibratedForTest(t, adc)

	adc.set(0, 0.3) // below baseline after drift
	r, err := cal.Read(context.Background(), "thumb")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if r.Force != 0 {
		t.Errorf("force = %v, want 0", r.Force)
	}
}

func TestReadForceClampedToMax(t *testing.T) {
	adc := newFakeADC()
	arr := NewArray(adc, graspSensors(), WithSampleCount(1)) // default scale 20
	cal, err := arr.Calibrate(context.Background())
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	adc.set(0, 10)
	r, err := cal.Read(context.Background(), "thumb")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if r.Force != 100 {
		t.Errorf("force = %v, want clamp at 100", r.Force)
	}
}

func TestCheckGraspIsConjunctive(t *testing.T) {
	adc := newFakeADC()
	cal := calibratedForTest(t, adc)
	ctx := context.Background()
	required := []string{"thumb", "index", "middle", "palm"}

	// Three firm contacts and one light one must not count as a grasp.
	adc.set(0, 0.6)
	adc.set(1, 0.6)
	adc.set(2, 0.6)
	adc.set(3, 0.2)

	ok, err := cal.CheckGrasp(ctx, required, 0.5)
	if err != nil {
		t.Fatalf("CheckGrasp failed: %v", err)
	}
	if ok {
		t.Error("partial contact confirmed as grasp")
	}

	adc.set(3, 0.6)
	ok, err = cal.CheckGrasp(ctx, required, 0.5)
	if err != nil {
		t.Fatalf("CheckGrasp failed: %v", err)
	}
	if !ok {
		t.Error("full contact not confirmed")
	}
}

func TestCheckGraspThresholdIsExclusive(t *testing.T) {
	adc := newFakeADC()
	cal := calibratedForTest(t, adc)

	adc.set(0, 0.5)
	ok, err := cal.CheckGrasp(context.Background(), []string{"thumb"}, 0.5)
	if err != nil {
		t.Fatalf("CheckGrasp failed: %v", err)
	}
	if ok {
		t.Error("force equal to threshold should not confirm")
	}
}

func TestCheckGraspUnknownSensor(t *testing.T) {
	adc := newFakeADC()
	cal := calibratedForTest(t, adc)

	_, err := cal.CheckGrasp(context.Background(), []string{"pinky"}, 0.5)
	if err == nil {
		t.Error("unknown sensor accepted")
	}
}

func TestTotalForce(t *testing.T) {
	adc := newFakeADC()
	cal := calibratedForTest(t, adc)
	ctx := context.Background()

	adc.set(0, 0.3)
	adc.set(1, 0.2)
	adc.set(2, 0.1)
	adc.set(3, 0.4)

	total, err := cal.TotalForce(ctx)
	if err != nil {
		t.Fatalf("TotalForce failed: %v", err)
	}
	if total != 1.0 {
		t.Errorf("total = %v, want 1.0", total)
	}

	partial, err := cal.TotalForce(ctx, "thumb", "index")
	if err != nil {
		t.Fatalf("TotalForce failed: %v", err)
	}
	if partial != 0.5 {
		t.Errorf("partial = %v, want 0.5", partial)
	}
}

func TestCalibratePropagatesADCErrors(t *testing.T) {
	adc := newFakeADC()
	adc.err = errors.New("bus glitch")
	arr := NewArray(adc, graspSensors(), WithSampleCount(1))

	if _, err := arr.Calibrate(context.Background()); err == nil {
		t.Error("Calibrate swallowed the ADC error")
	}
}
