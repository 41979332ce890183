package robot

import (
	"errors"
	"testing"

	"github.com/artisanbot/artisan/pkg/i2cdev"
	"github.com/artisanbot/artisan/pkg/kinematics"
)

type fakeI2CDev struct {
	closed int
}

func (d *fakeI2CDev) Write(p []byte) (int, error) { return len(p), nil }
func (d *fakeI2CDev) Read(p []byte) (int, error)  { return len(p), nil }
func (d *fakeI2CDev) Close() error                { d.closed++; return nil }

func stubOpenI2C(t *testing.T, fn func(path string, addr byte) (i2cdev.Dev, error)) {
	t.Helper()
	orig := openI2C
	openI2C = fn
	t.Cleanup(func() { openI2C = orig })
}

// offlineConfig is the stock config with all hardware that Open would touch
// outside the openI2C seam stripped off.
func offlineConfig() *Config {
	cfg := DefaultConfig()
	cfg.SerialBus.Port = ""
	cfg.PWMBoards = nil
	return cfg
}

func TestOpenDisablesHandWithDeadADC(t *testing.T) {
	stubOpenI2C(t, func(path string, addr byte) (i2cdev.Dev, error) {
		if addr == 0x49 {
			return nil, errors.New("no ack")
		}
		return &fakeI2CDev{}, nil
	})

	cfg := offlineConfig()
	left := cfg.Hands[0]
	left.Side = kinematics.Left
	left.Address = 0x49
	cfg.Hands = append(cfg.Hands, left)

	r, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open with one working hand: %v", err)
	}
	defer r.Close()

	if r.Hand(kinematics.Right) == nil {
		t.Error("right hand should be available")
	}
	if r.Hand(kinematics.Left) != nil {
		t.Error("left hand should be disabled")
	}
	if _, err := r.Sequencer(kinematics.Left, nil); err == nil {
		t.Error("sequencer on the disabled hand should fail")
	}
}

func TestOpenFailsWhenNoHandOpens(t *testing.T) {
	stubOpenI2C(t, func(string, byte) (i2cdev.Dev, error) {
		return nil, errors.New("no ack")
	})

	if _, err := Open(offlineConfig(), nil); err == nil {
		t.Fatal("expected error when every hand adc is dead")
	}
}

func TestOpenClosesBoardsOnPartialFailure(t *testing.T) {
	first := &fakeI2CDev{}
	stubOpenI2C(t, func(path string, addr byte) (i2cdev.Dev, error) {
		if addr == 0x40 {
			return first, nil
		}
		return nil, errors.New("no ack")
	})

	cfg := offlineConfig()
	cfg.Hands = nil
	cfg.PWMBoards = []PWMBoardConfig{
		{Number: 0, I2CBus: "/dev/i2c-1", Address: 0x40, FrequencyHz: 50},
		{Number: 1, I2CBus: "/dev/i2c-1", Address: 0x41, FrequencyHz: 50},
	}

	if _, err := Open(cfg, nil); err == nil {
		t.Fatal("expected error when a pwm board fails to open")
	}
	if first.closed == 0 {
		t.Error("board opened before the failure should be closed")
	}
}
