// Package hw drives the onboard hardware of a Raspberry Pi build: an
// MPU-6050 inertial sensor and a PCA9685 PWM board on I2C, and a status
// LED on a GPIO pin.
package hw

import (
	"fmt"

	"golang.org/x/exp/io/i2c"
)

// Bus is the register access used by the I2C devices. *i2c.Device
// satisfies it.
type Bus interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
	Close() error
}

// OpenI2C opens the device at addr on a Linux i2c-dev bus such as
// "/dev/i2c-1".
func OpenI2C(bus string, addr int) (Bus, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: bus}, addr)
	if err != nil {
		return nil, fmt.Errorf("open i2c %s@0x%02x: %w", bus, addr, err)
	}
	return dev, nil
}
