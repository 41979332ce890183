// Package i2cdev provides raw access to I2C peripherals through the Linux
// /dev/i2c-N character devices.
package i2cdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// I2C_SLAVE ioctl, from linux/i2c-dev.h.
const ioctlSlave = 0x0703

// Dev is a single addressed peripheral on an I2C bus.
type Dev interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// Device binds one peripheral address on one bus device file.
type Device struct {
	f    *os.File
	addr byte
}

// Open opens an I2C bus device file and selects the peripheral address.
func Open(path string, addr byte) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), ioctlSlave, int(addr)); err != nil {
		f.Close()
		return nil, fmt.Errorf("select i2c address 0x%02x on %s: %w", addr, path, err)
	}
	return &Device{f: f, addr: addr}, nil
}

func (d *Device) Write(p []byte) (int, error) {
	n, err := d.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("i2c write 0x%02x: %w", d.addr, err)
	}
	return n, nil
}

func (d *Device) Read(p []byte) (int, error) {
	n, err := d.f.Read(p)
	if err != nil {
		return n, fmt.Errorf("i2c read 0x%02x: %w", d.addr, err)
	}
	return n, nil
}

func (d *Device) Close() error {
	return d.f.Close()
}

// WriteReg writes a register pointer followed by payload bytes.
func WriteReg(d Dev, reg byte, data ...byte) error {
	buf := append([]byte{reg}, data...)
	if _, err := d.Write(buf); err != nil {
		return err
	}
	return nil
}

// ReadReg selects a register and reads n bytes back.
func ReadReg(d Dev, reg byte, n int) ([]byte, error) {
	if _, err := d.Write([]byte{reg}); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := d.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
