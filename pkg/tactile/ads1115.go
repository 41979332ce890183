package tactile

import (
	"context"
	"fmt"
	"time"

	"github.com/artisanbot/artisan/pkg/i2cdev"
)

// ADS1115 registers and config bits.
const (
	regConversion = 0x00
	regConfig     = 0x01

	cfgOSSingle    = 0x8000 // start one conversion
	cfgModeSingle  = 0x0100
	cfgDR128SPS    = 0x0080
	cfgCompDisable = 0x0003
	cfgPGA4V096    = 0x0200 // ±4.096V full scale

	fullScaleVolts = 4.096
	convWait       = 9 * time.Millisecond // one conversion at 128 SPS
)

// ADS1115 is a 16-bit 4-channel ADC used to read the FSR voltage dividers.
type ADS1115 struct {
	dev i2cdev.Dev
}

// NewADS1115 wraps an opened I2C device.
func NewADS1115(dev i2cdev.Dev) *ADS1115 {
	return &ADS1115{dev: dev}
}

// ReadChannel runs a single-shot conversion on one input (0-3) and returns
// the raw count and the voltage.
func (a *ADS1115) ReadChannel(ctx context.Context, ch int) (int, float64, error) {
	if ch < 0 || ch > 3 {
		return 0, 0, fmt.Errorf("ads1115: channel %d out of range", ch)
	}

	// Single-ended mux values for AIN0..AIN3 are 0b100..0b111.
	mux := uint16(0x4000 + ch*0x1000)
	cfg := uint16(cfgOSSingle) | mux | cfgPGA4V096 | cfgModeSingle | cfgDR128SPS | cfgCompDisable
	if err := i2cdev.WriteReg(a.dev, regConfig, byte(cfg>>8), byte(cfg&0xff)); err != nil {
		return 0, 0, fmt.Errorf("ads1115 start conversion: %w", err)
	}

	select {
	case <-time.After(convWait):
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}

	buf, err := i2cdev.ReadReg(a.dev, regConversion, 2)
	if err != nil {
		return 0, 0, fmt.Errorf("ads1115 read conversion: %w", err)
	}
	raw := int(int16(uint16(buf[0])<<8 | uint16(buf[1])))
	volts := float64(raw) * fullScaleVolts / 32768
	return raw, volts, nil
}

// Close releases the bus handle.
func (a *ADS1115) Close() error {
	return a.dev.Close()
}
