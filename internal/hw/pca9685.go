package hw

import (
	"fmt"
	"math"
	"time"

	"github.com/san-kum/quadfc/internal/flight"
)

const (
	pcaMode1    = 0x00
	pcaLED0     = 0x06
	pcaPrescale = 0xFE
	pcaOsc      = 25_000_000.0

	mode1Sleep   = 0x10
	mode1AI      = 0x20
	mode1Restart = 0x80
)

// DefaultPCAAddr is the factory address of the board.
const DefaultPCAAddr = 0x40

// ESCConfig sets the PWM frequency and the pulse range an ESC reads as
// stop and full throttle.
type ESCConfig struct {
	Frequency float64       // Hz
	MinPulse  time.Duration // duty 0
	MaxPulse  time.Duration // duty 1
}

// DefaultESC is standard 50 Hz servo-style PWM.
func DefaultESC() ESCConfig {
	return ESCConfig{Frequency: 50, MinPulse: 1000 * time.Microsecond, MaxPulse: 2000 * time.Microsecond}
}

// PCA9685 drives ESCs from a 16-channel PWM board. It implements
// flight.MotorDriver.
type PCA9685 struct {
	bus      Bus
	esc      ESCConfig
	channels map[string]int
}

// NewPCA9685 configures the board and maps motor codes to channels.
func NewPCA9685(bus Bus, esc ESCConfig, channels map[string]int) (*PCA9685, error) {
	if esc.Frequency < 24 || esc.Frequency > 1526 {
		return nil, fmt.Errorf("pca9685: frequency %g out of range", esc.Frequency)
	}
	if esc.MaxPulse <= esc.MinPulse {
		return nil, fmt.Errorf("pca9685: max pulse must exceed min pulse")
	}
	for code, ch := range channels {
		if ch < 0 || ch > 15 {
			return nil, fmt.Errorf("pca9685: channel %d for %s out of range", ch, code)
		}
	}

	prescale := byte(math.Round(pcaOsc/(4096*esc.Frequency)) - 1)
	steps := []struct{ reg, val byte }{
		{pcaMode1, mode1Sleep},
		{pcaPrescale, prescale},
		{pcaMode1, mode1AI},
	}
	for _, s := range steps {
		if err := bus.WriteReg(s.reg, []byte{s.val}); err != nil {
			return nil, fmt.Errorf("pca9685: write reg 0x%02X: %w", s.reg, err)
		}
	}
	time.Sleep(500 * time.Microsecond)
	if err := bus.WriteReg(pcaMode1, []byte{mode1AI | mode1Restart}); err != nil {
		return nil, fmt.Errorf("pca9685: restart: %w", err)
	}

	p := &PCA9685{bus: bus, esc: esc, channels: channels}
	for code := range channels {
		if err := p.WriteDuty(code, 0); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Ticks converts a duty into the 12-bit off count for one PWM period.
func (p *PCA9685) Ticks(duty float64) uint16 {
	duty = flight.Clamp(duty, 0, 1)
	pulse := p.esc.MinPulse.Seconds() + duty*(p.esc.MaxPulse-p.esc.MinPulse).Seconds()
	t := math.Round(pulse * p.esc.Frequency * 4096)
	return uint16(math.Min(t, 4095))
}

// WriteDuty implements flight.MotorDriver.
func (p *PCA9685) WriteDuty(code string, duty float64) error {
	ch, ok := p.channels[code]
	if !ok {
		return fmt.Errorf("pca9685: unknown motor %q", code)
	}
	off := p.Ticks(duty)
	return p.bus.WriteReg(byte(pcaLED0+4*ch), []byte{0, 0, byte(off), byte(off >> 8)})
}

// Close stops every channel and releases the bus.
func (p *PCA9685) Close() error {
	for code := range p.channels {
		_ = p.WriteDuty(code, 0)
	}
	return p.bus.Close()
}
