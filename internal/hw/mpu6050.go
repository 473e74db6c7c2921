package hw

import (
	"fmt"
	"math"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

const (
	mpuAddr        = 0x68
	mpuSmplrtDiv   = 0x19
	mpuConfig      = 0x1A
	mpuGyroConfig  = 0x1B
	mpuAccelConfig = 0x1C
	mpuAccelXoutH  = 0x3B
	mpuPwrMgmt1    = 0x6B
	mpuWhoAmI      = 0x75

	// ±500 °/s and ±4 g full scale
	gyroSens  = 65.5
	accelSens = 8192.0
)

// DefaultMPUAddr is the address with AD0 low.
const DefaultMPUAddr = mpuAddr

// MPU6050 reads accelerometer and gyro samples. Accel is in g, gyro in
// rad/s.
type MPU6050 struct {
	bus Bus
	buf [14]byte
}

// NewMPU6050 wakes and configures the sensor.
func NewMPU6050(bus Bus) (*MPU6050, error) {
	id := make([]byte, 1)
	if err := bus.ReadReg(mpuWhoAmI, id); err != nil {
		return nil, fmt.Errorf("read WHO_AM_I failed: %w", err)
	}
	if id[0] != mpuAddr {
		return nil, fmt.Errorf("invalid WHO_AM_I: expected 0x%02X, got 0x%02X", mpuAddr, id[0])
	}

	setup := []struct {
		reg, val byte
	}{
		{mpuPwrMgmt1, 0x01},    // wake, PLL with X gyro
		{mpuSmplrtDiv, 0x00},   // 1 kHz
		{mpuConfig, 0x03},      // DLPF 44 Hz
		{mpuGyroConfig, 0x08},  // ±500 °/s
		{mpuAccelConfig, 0x08}, // ±4 g
	}
	for _, w := range setup {
		if err := bus.WriteReg(w.reg, []byte{w.val}); err != nil {
			return nil, fmt.Errorf("write reg 0x%02X: %w", w.reg, err)
		}
		time.Sleep(time.Millisecond)
	}
	return &MPU6050{bus: bus}, nil
}

// Read implements flight.Sensor.
func (m *MPU6050) Read() (flight.Sample, error) {
	if err := m.bus.ReadReg(mpuAccelXoutH, m.buf[:]); err != nil {
		return flight.Sample{}, err
	}
	word := func(i int) float64 {
		return float64(int16(uint16(m.buf[i])<<8 | uint16(m.buf[i+1])))
	}

	const degToRad = math.Pi / 180
	var s flight.Sample
	for i := 0; i < 3; i++ {
		s.Accel[i] = word(2*i) / accelSens
		s.Gyro[i] = word(8+2*i) / gyroSens * degToRad
	}
	return s, nil
}

// Close releases the bus.
func (m *MPU6050) Close() error { return m.bus.Close() }
