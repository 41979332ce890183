package actuator

import (
	"fmt"
	"math"

	"github.com/artisanbot/artisan/pkg/i2cdev"
)

// PCA9685 registers.
const (
	regMode1      = 0x00
	regLED0OnL    = 0x06
	regAllLEDOnL  = 0xfa
	regAllLEDOffL = 0xfc
	regPrescale   = 0xfe

	mode1Restart = 0x80
	mode1AutoInc = 0x20
	mode1Sleep   = 0x10

	// Internal oscillator, per datasheet.
	oscHz = 25_000_000

	pwmSteps = 4096
)

// PCA9685 is one 16-channel PWM board on the I2C bus.
type PCA9685 struct {
	dev      i2cdev.Dev
	periodUS float64
}

// NewPCA9685 initializes a board for servo output at the given PWM frequency
// (50Hz for standard servos).
func NewPCA9685(dev i2cdev.Dev, freqHz int) (*PCA9685, error) {
	if freqHz <= 0 {
		freqHz = 50
	}
	p := &PCA9685{dev: dev, periodUS: 1e6 / float64(freqHz)}

	prescale := int(math.Round(oscHz/(pwmSteps*float64(freqHz)))) - 1
	if prescale < 3 || prescale > 255 {
		return nil, fmt.Errorf("pca9685: frequency %dHz out of range", freqHz)
	}

	// Prescale is only writable while the oscillator sleeps.
	if err := i2cdev.WriteReg(dev, regMode1, mode1Sleep|mode1AutoInc); err != nil {
		return nil, fmt.Errorf("pca9685 sleep: %w", err)
	}
	if err := i2cdev.WriteReg(dev, regPrescale, byte(prescale)); err != nil {
		return nil, fmt.Errorf("pca9685 prescale: %w", err)
	}
	if err := i2cdev.WriteReg(dev, regMode1, mode1Restart|mode1AutoInc); err != nil {
		return nil, fmt.Errorf("pca9685 wake: %w", err)
	}
	return p, nil
}

// SetPulse drives one channel with a pulse of the given width in
// microseconds. The write is fire-and-forget; the board keeps generating the
// pulse until changed.
func (p *PCA9685) SetPulse(channel int, pulseUS float64) error {
	if channel < 0 || channel > 15 {
		return fmt.Errorf("pca9685: channel %d out of range", channel)
	}
	counts := int(math.Round(pulseUS / p.periodUS * pwmSteps))
	if counts < 0 {
		counts = 0
	} else if counts > pwmSteps-1 {
		counts = pwmSteps - 1
	}
	reg := byte(regLED0OnL + 4*channel)
	// ON at count 0, OFF at the pulse width.
	return i2cdev.WriteReg(p.dev, reg, 0x00, 0x00, byte(counts&0xff), byte(counts>>8))
}

// AllOff stops pulse generation on every channel (full-off bit).
func (p *PCA9685) AllOff() error {
	return i2cdev.WriteReg(p.dev, regAllLEDOffL, 0x00, 0x10)
}

// Close releases the underlying bus handle.
func (p *PCA9685) Close() error {
	return p.dev.Close()
}
