// Package tactile reads the force-sensitive resistor arrays in the robot's
// hands and turns them into calibrated force estimates and grasp
// confirmation. Calibration-before-use is enforced by type: only the
// CalibratedArray returned by Calibrate can confirm a grasp.
package tactile

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ADC reads one analog channel. Implemented by ADS1115 and by test fakes.
type ADC interface {
	ReadChannel(ctx context.Context, ch int) (raw int, volts float64, err error)
}

// Sensor maps a sensor id to its ADC channel.
type Sensor struct {
	ID      string `json:"id"`
	Channel int    `json:"channel"`
}

// Reading is one calibrated sensor poll.
type Reading struct {
	Sensor string
	Raw    int
	Volts  float64
	Force  float64 // baseline-subtracted force estimate, 0..MaxForce
	Time   time.Time
}

const (
	defaultSamples    = 10
	defaultForceScale = 20.0 // volts above baseline to force units
	maxForce          = 100.0
)

// Array is an uncalibrated FSR set on one ADC.
type Array struct {
	adc        ADC
	sensors    []Sensor
	samples    int
	forceScale float64
	log        *logrus.Entry
}

// ArrayOption configures an Array.
type ArrayOption func(*Array)

// WithSampleCount sets how many reads are averaged into the baseline.
func WithSampleCount(n int) ArrayOption {
	return func(a *Array) { a.samples = n }
}

// WithForceScale sets the volts-to-force conversion factor.
func WithForceScale(scale float64) ArrayOption {
	return func(a *Array) { a.forceScale = scale }
}

// WithLogger sets the event logger.
func WithLogger(log *logrus.Entry) ArrayOption {
	return func(a *Array) { a.log = log }
}

// NewArray builds an array over the given sensors.
func NewArray(adc ADC, sensors []Sensor, opts ...ArrayOption) *Array {
	a := &Array{
		adc:        adc,
		sensors:    sensors,
		samples:    defaultSamples,
		forceScale: defaultForceScale,
		log:        logrus.WithField("sub", "tactile"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sensors returns the configured sensors in order.
func (a *Array) Sensors() []Sensor {
	return a.sensors
}

// Calibrate records the zero-load baseline for every sensor and returns the
// calibrated handle. The hand must be open and unloaded while this runs.
func (a *Array) Calibrate(ctx context.Context) (*CalibratedArray, error) {
	baseline := make(map[string]float64, len(a.sensors))
	for _, s := range a.sensors {
		var sum float64
		for i := 0; i < a.samples; i++ {
			_, volts, err := a.adc.ReadChannel(ctx, s.Channel)
			if err != nil {
				return nil, fmt.Errorf("calibrate %s: %w", s.ID, err)
			}
			sum += volts
		}
		baseline[s.ID] = sum / float64(a.samples)
		a.log.WithFields(logrus.Fields{
			"sensor":   s.ID,
			"baseline": baseline[s.ID],
		}).Info("sensor baseline set")
	}
	return &CalibratedArray{arr: a, baseline: baseline}, nil
}

// CalibratedArray is an Array with a recorded zero-load baseline. All grasp
// decisions live here so an uncalibrated array cannot make them.
type CalibratedArray struct {
	arr      *Array
	baseline map[string]float64
}

// Read polls one sensor and returns its calibrated reading.
func (c *CalibratedArray) Read(ctx context.Context, id string) (Reading, error) {
	s, err := c.sensor(id)
	if err != nil {
		return Reading{}, err
	}
	raw, volts, err := c.arr.adc.ReadChannel(ctx, s.Channel)
	if err != nil {
		return Reading{}, fmt.Errorf("read %s: %w", id, err)
	}
	force := (volts - c.baseline[id]) * c.arr.forceScale
	if force < 0 {
		force = 0
	} else if force > maxForce {
		force = maxForce
	}
	return Reading{Sensor: id, Raw: raw, Volts: volts, Force: force, Time: time.Now()}, nil
}

// ReadAll polls every sensor in configured order.
func (c *CalibratedArray) ReadAll(ctx context.Context) ([]Reading, error) {
	readings := make([]Reading, 0, len(c.arr.sensors))
	for _, s := range c.arr.sensors {
		r, err := c.Read(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// CheckGrasp reports whether every required sensor reads a force above the
// threshold. The check is conjunctive: a partial grasp, say thumb contact
// only, must not count as success.
func (c *CalibratedArray) CheckGrasp(ctx context.Context, required []string, threshold float64) (bool, error) {
	for _, id := range required {
		r, err := c.Read(ctx, id)
		if err != nil {
			return false, err
		}
		if r.Force <= threshold {
			return false, nil
		}
	}
	return true, nil
}

// TotalForce sums the calibrated force over the given sensors, or over all
// sensors when none are named.
func (c *CalibratedArray) TotalForce(ctx context.Context, ids ...string) (float64, error) {
	if len(ids) == 0 {
		for _, s := range c.arr.sensors {
			ids = append(ids, s.ID)
		}
	}
	var total float64
	for _, id := range ids {
		r, err := c.Read(ctx, id)
		if err != nil {
			return 0, err
		}
		total += r.Force
	}
	return total, nil
}

func (c *CalibratedArray) sensor(id string) (Sensor, error) {
	for _, s := range c.arr.sensors {
		if s.ID == id {
			return s, nil
		}
	}
	return Sensor{}, fmt.Errorf("unknown sensor %q", id)
}
