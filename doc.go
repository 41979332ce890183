// Package artisan coordinates a hybrid-actuator humanoid manipulator.
//
// It converts a perception-supplied 3D target into joint commands, drives
// those commands across two physically different actuator buses (PCA9685 PWM
// boards and a half-duplex serial servo bus), and sequences a tactile-guided
// reach-grasp-lift behavior with bounded retries and an always-available
// emergency stop.
//
// # Installation
//
//	go install github.com/artisanbot/artisan/cmd/artisan@latest
//
// # Usage
//
// Write a default configuration, edit it for your servo wiring, then run the
// grasp demonstration:
//
//	artisan init
//	artisan demo
//
// Watch live tactile readings, or query serial servo health:
//
//	artisan watch
//	artisan info
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/artisan: CLI with init, demo, watch and info commands
//   - pkg/actuator: joint-indexed control of PWM and serial-bus servos
//   - pkg/i2cdev: minimal Linux I2C character device access
//   - pkg/kinematics: closed-form forward/inverse kinematics for the arms
//   - pkg/tactile: FSR arrays and grasp confirmation
//   - pkg/sequencer: the reach-grasp-lift state machine
//   - pkg/robot: configuration and subsystem assembly
package artisan
