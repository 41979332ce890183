package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/artisanbot/artisan/pkg/actuator"
	"github.com/artisanbot/artisan/pkg/kinematics"
	"github.com/artisanbot/artisan/pkg/sequencer"
	"github.com/artisanbot/artisan/pkg/tactile"
)

const DefaultConfigFile = "artisan.json"

// Serial servo families supported on the half-duplex bus.
const (
	FamilyLX16A = "lx16a"
	FamilySTS   = "sts"
)

// ConfigError reports an invalid configuration. Configuration errors are
// fatal at startup, never worked around at runtime.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// SerialBusConfig describes the serial servo chain.
type SerialBusConfig struct {
	Port             string `json:"port"`
	Baud             int    `json:"baud"`
	Family           string `json:"family"`
	CommandTimeoutMS int    `json:"command_timeout_ms"`

	// STS id scan range; ignored for lx16a.
	MinID int `json:"min_id,omitempty"`
	MaxID int `json:"max_id,omitempty"`
}

// CommandTimeout returns the per-transaction bound.
func (s SerialBusConfig) CommandTimeout() time.Duration {
	if s.CommandTimeoutMS <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(s.CommandTimeoutMS) * time.Millisecond
}

// PWMBoardConfig describes one PCA9685 on the I2C bus.
type PWMBoardConfig struct {
	Number      int    `json:"number"`
	I2CBus      string `json:"i2c_bus"`
	Address     int    `json:"address"`
	FrequencyHz int    `json:"frequency_hz"`
}

// HandConfig describes one tactile hand: its ADC and grasp policy.
type HandConfig struct {
	Side       kinematics.Side  `json:"side"`
	I2CBus     string           `json:"i2c_bus"`
	Address    int              `json:"address"`
	Sensors    []tactile.Sensor `json:"sensors"`
	Samples    int              `json:"samples,omitempty"`
	ForceScale float64          `json:"force_scale,omitempty"`

	// Sensors that must all be loaded for a grasp to count, and the force
	// each must exceed.
	Required  []string `json:"required"`
	Threshold float64  `json:"threshold"`
}

// SequencerConfig is the persisted subset of the sequencer tunables.
// Durations are milliseconds so the JSON stays readable.
type SequencerConfig struct {
	MaxScanRetries    int     `json:"max_scan_retries"`
	MaxGraspRetries   int     `json:"max_grasp_retries"`
	PreGraspOffset    float64 `json:"pre_grasp_offset"`
	LiftOffset        float64 `json:"lift_offset"`
	GripperClosure    float64 `json:"gripper_closure"`
	RegraspDelta      float64 `json:"regrasp_delta"`
	PositionTolerance float64 `json:"position_tolerance"`
	ReachMS           int     `json:"reach_ms"`
	DescendMS         int     `json:"descend_ms"`
	GripMS            int     `json:"grip_ms"`
	LiftMS            int     `json:"lift_ms"`
}

// Sequencer converts the persisted values onto the runtime defaults.
func (s SequencerConfig) Sequencer() sequencer.Config {
	cfg := sequencer.DefaultConfig()
	if s.MaxScanRetries > 0 {
		cfg.MaxScanRetries = s.MaxScanRetries
	}
	if s.MaxGraspRetries > 0 {
		cfg.MaxGraspRetries = s.MaxGraspRetries
	}
	if s.PreGraspOffset > 0 {
		cfg.PreGraspOffset = s.PreGraspOffset
	}
	if s.LiftOffset > 0 {
		cfg.LiftOffset = s.LiftOffset
	}
	if s.GripperClosure > 0 {
		cfg.GripperClosure = s.GripperClosure
	}
	if s.RegraspDelta > 0 {
		cfg.RegraspDelta = s.RegraspDelta
	}
	if s.PositionTolerance > 0 {
		cfg.PositionTolerance = s.PositionTolerance
	}
	if s.ReachMS > 0 {
		cfg.ReachDuration = time.Duration(s.ReachMS) * time.Millisecond
	}
	if s.DescendMS > 0 {
		cfg.DescendDuration = time.Duration(s.DescendMS) * time.Millisecond
	}
	if s.GripMS > 0 {
		cfg.GripDuration = time.Duration(s.GripMS) * time.Millisecond
	}
	if s.LiftMS > 0 {
		cfg.LiftDuration = time.Duration(s.LiftMS) * time.Millisecond
	}
	return cfg
}

// Config holds the full robot configuration.
type Config struct {
	SerialBus SerialBusConfig      `json:"serial_bus"`
	PWMBoards []PWMBoardConfig     `json:"pwm_boards"`
	Joints    []actuator.JointSpec `json:"joints"`
	Geometry  kinematics.Geometry  `json:"geometry"`
	Hands     []HandConfig         `json:"hands"`
	Sequencer SequencerConfig      `json:"sequencer"`
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	if len(c.Joints) == 0 {
		return &ConfigError{Field: "joints", Reason: "no joints configured"}
	}

	switch c.SerialBus.Family {
	case FamilyLX16A, FamilySTS, "":
	default:
		return &ConfigError{
			Field:  "serial_bus.family",
			Reason: fmt.Sprintf("unknown family %q", c.SerialBus.Family),
		}
	}

	boards := make(map[int]bool, len(c.PWMBoards))
	for _, b := range c.PWMBoards {
		if boards[b.Number] {
			return &ConfigError{
				Field:  "pwm_boards",
				Reason: fmt.Sprintf("duplicate board number %d", b.Number),
			}
		}
		boards[b.Number] = true
	}

	seen := make(map[actuator.JointName]bool, len(c.Joints))
	for i, j := range c.Joints {
		field := fmt.Sprintf("joints[%d]", i)
		if j.Name == "" {
			return &ConfigError{Field: field, Reason: "missing name"}
		}
		if seen[j.Name] {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("duplicate joint %q", j.Name)}
		}
		seen[j.Name] = true
		if j.MinAngle > j.MaxAngle {
			return &ConfigError{
				Field:  field,
				Reason: fmt.Sprintf("min angle %v above max %v", j.MinAngle, j.MaxAngle),
			}
		}
		switch j.Kind {
		case actuator.KindPWM:
			if !boards[j.Board] {
				return &ConfigError{
					Field:  field,
					Reason: fmt.Sprintf("references unknown pwm board %d", j.Board),
				}
			}
			if j.PulseMinUS <= 0 || j.PulseMaxUS <= j.PulseMinUS {
				return &ConfigError{Field: field, Reason: "invalid pulse calibration"}
			}
		case actuator.KindSerial:
			if c.SerialBus.Port == "" {
				return &ConfigError{Field: field, Reason: "serial joint but no serial bus configured"}
			}
			if j.ServoID <= 0 {
				return &ConfigError{Field: field, Reason: "serial joint without servo id"}
			}
		default:
			return &ConfigError{
				Field:  field,
				Reason: fmt.Sprintf("unknown actuator kind %q", j.Kind),
			}
		}
	}

	if err := c.Geometry.Validate(); err != nil {
		return &ConfigError{Field: "geometry", Reason: err.Error()}
	}

	for i, h := range c.Hands {
		field := fmt.Sprintf("hands[%d]", i)
		if h.Side != kinematics.Left && h.Side != kinematics.Right {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("invalid side %q", h.Side)}
		}
		ids := make(map[string]bool, len(h.Sensors))
		for _, s := range h.Sensors {
			ids[s.ID] = true
		}
		for _, r := range h.Required {
			if !ids[r] {
				return &ConfigError{
					Field:  field,
					Reason: fmt.Sprintf("required sensor %q not configured", r),
				}
			}
		}
	}

	return nil
}

// DefaultConfig returns the stock build: serial bus servos on the arms, PWM
// servos on head and hands, one tactile array per hand.
func DefaultConfig() *Config {
	pwm := func(name actuator.JointName, ch int, min, max, neutral float64) actuator.JointSpec {
		return actuator.JointSpec{
			Name: name, Kind: actuator.KindPWM,
			Board: 0, Channel: ch,
			MinAngle: min, MaxAngle: max, Neutral: neutral,
			PulseMinUS: 500, PulseMaxUS: 2500, TravelDeg: 180,
		}
	}
	serial := func(name actuator.JointName, id int, min, max, neutral float64) actuator.JointSpec {
		return actuator.JointSpec{
			Name: name, Kind: actuator.KindSerial,
			ServoID:  id,
			MinAngle: min, MaxAngle: max, Neutral: neutral,
			Offset: 120, // logical zero sits mid-travel on the bus servos
		}
	}

	return &Config{
		SerialBus: SerialBusConfig{
			Port:             "/dev/ttyUSB0",
			Baud:             115200,
			Family:           FamilyLX16A,
			CommandTimeoutMS: 250,
			MinID:            1,
			MaxID:            30,
		},
		PWMBoards: []PWMBoardConfig{
			{Number: 0, I2CBus: "/dev/i2c-1", Address: 0x40, FrequencyHz: 50},
		},
		Joints: []actuator.JointSpec{
			serial(actuator.LeftShoulderPitch, 11, -90, 90, 0),
			serial(actuator.LeftShoulderRoll, 12, -90, 90, 0),
			serial(actuator.LeftShoulderYaw, 13, -90, 90, 0),
			serial(actuator.LeftElbow, 14, 0, 120, 10),
			serial(actuator.LeftWrist, 15, -90, 90, 0),
			serial(actuator.RightShoulderPitch, 21, -90, 90, 0),
			serial(actuator.RightShoulderRoll, 22, -90, 90, 0),
			serial(actuator.RightShoulderYaw, 23, -90, 90, 0),
			serial(actuator.RightElbow, 24, 0, 120, 10),
			serial(actuator.RightWrist, 25, -90, 90, 0),
			pwm(actuator.HeadPan, 0, 30, 150, 90),
			pwm(actuator.HeadTilt, 1, 45, 135, 90),
			pwm(actuator.LeftHandFingers, 4, 0, 90, 0),
			pwm(actuator.LeftHandThumb, 5, 0, 90, 0),
			pwm(actuator.RightHandFingers, 6, 0, 90, 0),
			pwm(actuator.RightHandThumb, 7, 0, 90, 0),
		},
		Geometry: kinematics.DefaultGeometry(),
		Hands: []HandConfig{
			{
				Side: kinematics.Right, I2CBus: "/dev/i2c-1", Address: 0x48,
				Sensors: []tactile.Sensor{
					{ID: "thumb", Channel: 0},
					{ID: "index", Channel: 1},
					{ID: "middle", Channel: 2},
					{ID: "palm", Channel: 3},
				},
				Required:  []string{"thumb", "index", "middle"},
				Threshold: 0.5,
			},
		},
		Sequencer: SequencerConfig{
			MaxScanRetries:    10,
			MaxGraspRetries:   3,
			PreGraspOffset:    0.05,
			LiftOffset:        0.15,
			GripperClosure:    0.6,
			RegraspDelta:      0.15,
			PositionTolerance: 5,
			ReachMS:           1500,
			DescendMS:         800,
			GripMS:            500,
			LiftMS:            1000,
		},
	}
}
