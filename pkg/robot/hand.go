package robot

import (
	"context"
	"errors"
	"sync"

	"github.com/artisanbot/artisan/pkg/tactile"
)

// ErrNotCalibrated reports a tactile query before Calibrate has run.
var ErrNotCalibrated = errors.New("tactile array not calibrated")

// Hand binds one tactile array to its grasp policy. It satisfies the
// sequencer's tactile interface: Calibrate must run before any grasp query.
type Hand struct {
	arr       *tactile.Array
	required  []string
	threshold float64

	mu  sync.Mutex
	cal *tactile.CalibratedArray
}

// NewHand builds the tactile adapter for one hand.
func NewHand(arr *tactile.Array, required []string, threshold float64) *Hand {
	return &Hand{arr: arr, required: required, threshold: threshold}
}

// Calibrate records the zero-load baseline. The gripper must be open.
func (h *Hand) Calibrate(ctx context.Context) error {
	cal, err := h.arr.Calibrate(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cal = cal
	h.mu.Unlock()
	return nil
}

func (h *Hand) calibrated() (*tactile.CalibratedArray, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cal == nil {
		return nil, ErrNotCalibrated
	}
	return h.cal, nil
}

// GraspConfirmed reports whether every required sensor is loaded past the
// configured threshold.
func (h *Hand) GraspConfirmed(ctx context.Context) (bool, error) {
	cal, err := h.calibrated()
	if err != nil {
		return false, err
	}
	return cal.CheckGrasp(ctx, h.required, h.threshold)
}

// TotalForce sums calibrated force over all sensors.
func (h *Hand) TotalForce(ctx context.Context) (float64, error) {
	cal, err := h.calibrated()
	if err != nil {
		return 0, err
	}
	return cal.TotalForce(ctx)
}

// Readings polls every sensor, for display and diagnostics.
func (h *Hand) Readings(ctx context.Context) ([]tactile.Reading, error) {
	cal, err := h.calibrated()
	if err != nil {
		return nil, err
	}
	return cal.ReadAll(ctx)
}
