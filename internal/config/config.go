package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/quadfc/internal/control"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/fusion"
	"github.com/san-kum/quadfc/internal/integrators"
	"github.com/san-kum/quadfc/internal/link"
	"github.com/san-kum/quadfc/internal/logging"
	"github.com/san-kum/quadfc/internal/loop"
	"github.com/san-kum/quadfc/internal/mixer"
	"github.com/san-kum/quadfc/internal/physics"
	"github.com/san-kum/quadfc/internal/sim"
	"github.com/san-kum/quadfc/internal/telemetry"
)

// ErrInvalid indicates a configuration that fails validation.
var ErrInvalid = errors.New("config: invalid")

const (
	DefaultCycleMs     = 10
	DefaultTelemetryMs = 100
	DefaultArmDelay    = 500 * time.Millisecond
	DefaultLinkTimeout = 500 * time.Millisecond
	DefaultAlpha       = 0.98
	DefaultKalmanQ     = 0.01
	DefaultKalmanR     = 0.5
	DefaultThreshold   = 5
	DefaultCalSamples  = 200
)

type Config struct {
	Loop     LoopConfig     `yaml:"loop"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Control  ControlConfig  `yaml:"control"`
	Motors   MotorsConfig   `yaml:"motors"`
	Link     LinkConfig     `yaml:"link"`
	Hardware HardwareConfig `yaml:"hardware"`
	Sim      SimConfig      `yaml:"sim"`
	Log      logging.Config `yaml:"log"`
}

type LoopConfig struct {
	CycleMs     int           `yaml:"cycle_ms"`
	ArmDelay    time.Duration `yaml:"arm_delay"`
	LinkTimeout time.Duration `yaml:"link_timeout"`
	TelemetryMs int           `yaml:"telemetry_ms"`
}

type SensorConfig struct {
	Filter             string          `yaml:"filter"`
	Alpha              float64         `yaml:"alpha"`
	KalmanQ            float64         `yaml:"kalman_q"`
	KalmanR            float64         `yaml:"kalman_r"`
	FailureThreshold   int             `yaml:"failure_threshold"`
	CalibrationSamples int             `yaml:"calibration_samples"`
	Mounting           fusion.Mounting `yaml:"mounting"`
}

type ControlConfig struct {
	MaxAngleDeg   float64       `yaml:"max_angle_deg"`
	MaxYawRateDeg float64       `yaml:"max_yaw_rate_deg"`
	OutputLimit   float64       `yaml:"output_limit"`
	Roll          control.Gains `yaml:"roll"`
	Pitch         control.Gains `yaml:"pitch"`
	Yaw           control.Gains `yaml:"yaw"`
}

type MotorsConfig struct {
	YawReversed bool         `yaml:"yaw_reversed"`
	Slots       []SlotConfig `yaml:"slots"`
}

type SlotConfig struct {
	Position string      `yaml:"position"`
	Code     string      `yaml:"code"`
	Channel  int         `yaml:"channel"`
	Curve    CurveConfig `yaml:"curve"`
}

type CurveConfig struct {
	Points  []mixer.Point `yaml:"points,omitempty"`
	SafeMin float64       `yaml:"safe_min"`
	SafeMax float64       `yaml:"safe_max"`
}

type LinkConfig struct {
	Encoding string          `yaml:"encoding"`
	MQTT     link.MQTTConfig `yaml:"mqtt"`
	WS       WSConfig        `yaml:"ws"`
}

type WSConfig struct {
	Addr   string `yaml:"addr"`
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

type HardwareConfig struct {
	I2CBus     string  `yaml:"i2c_bus"`
	MPUAddr    int     `yaml:"mpu_addr"`
	PCAAddr    int     `yaml:"pca_addr"`
	PWMHz      float64 `yaml:"pwm_hz"`
	MinPulseUs int     `yaml:"min_pulse_us"`
	MaxPulseUs int     `yaml:"max_pulse_us"`
	LEDPin     int     `yaml:"led_pin"`
}

type SimConfig struct {
	Integrator string             `yaml:"integrator"`
	Seed       int64              `yaml:"seed"`
	AccelNoise float64            `yaml:"accel_noise"`
	GyroNoise  float64            `yaml:"gyro_noise"`
	GyroBias   [3]float64         `yaml:"gyro_bias"`
	Airframe   physics.QuadParams `yaml:"airframe"`
}

func DefaultConfig() *Config {
	slots := make([]SlotConfig, 0, flight.NumMotors)
	for i, p := range flight.Positions {
		slots = append(slots, SlotConfig{
			Position: p.String(),
			Code:     p.Code(),
			Channel:  i,
			Curve:    CurveConfig{SafeMin: 0, SafeMax: 1},
		})
	}

	return &Config{
		Loop: LoopConfig{
			CycleMs:     DefaultCycleMs,
			ArmDelay:    DefaultArmDelay,
			LinkTimeout: DefaultLinkTimeout,
			TelemetryMs: DefaultTelemetryMs,
		},
		Sensor: SensorConfig{
			Filter:             "complementary",
			Alpha:              DefaultAlpha,
			KalmanQ:            DefaultKalmanQ,
			KalmanR:            DefaultKalmanR,
			FailureThreshold:   DefaultThreshold,
			CalibrationSamples: DefaultCalSamples,
		},
		Control: ControlConfig{
			MaxAngleDeg:   30,
			MaxYawRateDeg: 180,
			OutputLimit:   0.3,
			Roll:          control.Gains{Kp: 0.6, Ki: 0.2, Kd: 0.08, IntegralLimit: 0.3},
			Pitch:         control.Gains{Kp: 0.6, Ki: 0.2, Kd: 0.08, IntegralLimit: 0.3},
			Yaw:           control.Gains{Kp: 0.3, Ki: 0.05, IntegralLimit: 0.2},
		},
		Motors: MotorsConfig{Slots: slots},
		Link: LinkConfig{
			Encoding: string(telemetry.JSON),
			MQTT: link.MQTTConfig{
				Broker:         "localhost:1883",
				ClientID:       "quadfc",
				CommandTopic:   "quadfc/command",
				AckTopic:       "quadfc/ack",
				TelemetryTopic: "quadfc/telemetry",
				QoS:            1,
				QueueSize:      10,
			},
			WS: WSConfig{Addr: ":8080", Issuer: "quadfc"},
		},
		Hardware: HardwareConfig{
			I2CBus:     "/dev/i2c-1",
			MPUAddr:    0x68,
			PCAAddr:    0x40,
			PWMHz:      50,
			MinPulseUs: 1000,
			MaxPulseUs: 2000,
			LEDPin:     4,
		},
		Sim: SimConfig{
			Integrator: "rk4",
			Seed:       1,
			AccelNoise: 0.01,
			GyroNoise:  0.002,
			Airframe:   physics.DefaultQuadParams(),
		},
		Log: logging.Config{Level: "info", Format: "text", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks ranges and builds every derived component once so bad
// curves or slot tables are reported at load time.
func (c *Config) Validate() error {
	if c.Loop.CycleMs <= 0 || c.Loop.CycleMs > 1000 {
		return invalid("loop.cycle_ms %d out of range (1..1000)", c.Loop.CycleMs)
	}
	if c.Loop.LinkTimeout <= c.Period() {
		return invalid("loop.link_timeout %s must exceed one cycle", c.Loop.LinkTimeout)
	}
	if c.Loop.ArmDelay < 0 {
		return invalid("loop.arm_delay must not be negative")
	}
	if c.Loop.TelemetryMs <= 0 {
		return invalid("loop.telemetry_ms must be positive")
	}
	if c.Sensor.FailureThreshold <= 0 {
		return invalid("sensor.failure_threshold must be positive")
	}
	if _, err := c.Filter(); err != nil {
		return invalid("sensor.filter: %v", err)
	}
	if c.Control.MaxAngleDeg <= 0 || c.Control.MaxAngleDeg > 80 {
		return invalid("control.max_angle_deg %g out of range", c.Control.MaxAngleDeg)
	}
	if c.Control.MaxYawRateDeg <= 0 {
		return invalid("control.max_yaw_rate_deg must be positive")
	}
	if c.Control.OutputLimit <= 0 || c.Control.OutputLimit > 1 {
		return invalid("control.output_limit %g out of range (0..1]", c.Control.OutputLimit)
	}
	for name, g := range map[string]control.Gains{"roll": c.Control.Roll, "pitch": c.Control.Pitch, "yaw": c.Control.Yaw} {
		if g.Kp < 0 || g.Ki < 0 || g.Kd < 0 || g.IntegralLimit < 0 {
			return invalid("control.%s gains must not be negative", name)
		}
		if g.Ki > 0 && g.IntegralLimit <= 0 {
			return invalid("control.%s.integral_limit must be positive when ki is set", name)
		}
	}
	if _, err := c.Assignment(); err != nil {
		return invalid("motors: %v", err)
	}
	if _, err := telemetry.ParseEncoding(c.Link.Encoding); err != nil {
		return invalid("link.encoding: %v", err)
	}
	if _, err := integrators.New(c.Sim.Integrator); err != nil {
		return invalid("sim.integrator: %v", err)
	}
	if p := c.Sim.Airframe; p.Mass <= 0 || p.Ixx <= 0 || p.Iyy <= 0 || p.Izz <= 0 || p.MaxThrust <= 0 {
		return invalid("sim.airframe: mass, inertia and max_thrust must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	return nil
}

// Period is the control cycle.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Loop.CycleMs) * time.Millisecond
}

// TelemetryInterval is the publisher cadence.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Loop.TelemetryMs) * time.Millisecond
}

// LoopConfig returns the timing handed to the control loop.
func (c *Config) LoopConfig() loop.Config {
	return loop.Config{
		Period:             c.Period(),
		ArmDelay:           c.Loop.ArmDelay,
		LinkTimeout:        c.Loop.LinkTimeout,
		CalibrationSamples: c.Sensor.CalibrationSamples,
	}
}

// Filter builds the configured attitude filter.
func (c *Config) Filter() (fusion.Filter, error) {
	return fusion.NewFilter(c.Sensor.Filter, fusion.FilterParams{
		Alpha:   c.Sensor.Alpha,
		KalmanQ: c.Sensor.KalmanQ,
		KalmanR: c.Sensor.KalmanR,
	})
}

// FusionOptions returns the options for fusion.New.
func (c *Config) FusionOptions() (fusion.Options, error) {
	f, err := c.Filter()
	if err != nil {
		return fusion.Options{}, err
	}
	return fusion.Options{
		Mounting:         c.Sensor.Mounting,
		Filter:           f,
		FailureThreshold: c.Sensor.FailureThreshold,
	}, nil
}

// Limits converts the stick scaling to radians.
func (c *Config) Limits() control.Limits {
	return control.Limits{
		MaxAngle:    c.Control.MaxAngleDeg * math.Pi / 180,
		MaxYawRate:  c.Control.MaxYawRateDeg * math.Pi / 180,
		OutputLimit: c.Control.OutputLimit,
	}
}

// NewAttitude builds the controller.
func (c *Config) NewAttitude() *control.Attitude {
	return control.NewAttitude(c.Limits(), c.Control.Roll, c.Control.Pitch, c.Control.Yaw)
}

// Assignment builds the mixer slot table. Slots may be listed in any
// order; each position must appear exactly once.
func (c *Config) Assignment() (mixer.Assignment, error) {
	var a mixer.Assignment
	if len(c.Motors.Slots) != flight.NumMotors {
		return a, fmt.Errorf("need %d slots, got %d", flight.NumMotors, len(c.Motors.Slots))
	}
	seen := make(map[flight.MotorPosition]bool)
	for _, s := range c.Motors.Slots {
		pos, err := flight.ParsePosition(s.Position)
		if err != nil {
			return a, err
		}
		if seen[pos] {
			return a, fmt.Errorf("position %s listed twice", pos)
		}
		seen[pos] = true
		curve, err := mixer.NewCurve(s.Curve.Points, s.Curve.SafeMin, s.Curve.SafeMax)
		if err != nil {
			return a, fmt.Errorf("slot %s: %w", s.Code, err)
		}
		a[pos] = mixer.Slot{Position: pos, Code: s.Code, Channel: s.Channel, Curve: curve}
	}
	return a, a.Validate()
}

// NewMixer builds the mixer.
func (c *Config) NewMixer() (*mixer.Mixer, error) {
	a, err := c.Assignment()
	if err != nil {
		return nil, err
	}
	return mixer.New(a, c.Motors.YawReversed)
}

// Channels maps motor codes to PWM channels.
func (c *Config) Channels() map[string]int {
	m := make(map[string]int, len(c.Motors.Slots))
	for _, s := range c.Motors.Slots {
		m[s.Code] = s.Channel
	}
	return m
}

// PlantOptions configures a simulated airframe whose motor codes match the
// slot assignment.
func (c *Config) PlantOptions() (sim.Options, error) {
	assign, err := c.Assignment()
	if err != nil {
		return sim.Options{}, err
	}
	opt := sim.DefaultOptions()
	opt.Params = c.Sim.Airframe
	opt.Seed = c.Sim.Seed
	opt.AccelNoise = c.Sim.AccelNoise
	opt.GyroNoise = c.Sim.GyroNoise
	opt.GyroBias = c.Sim.GyroBias
	for i, s := range assign {
		opt.Codes[i] = s.Code
	}
	if opt.Integrator, err = integrators.New(c.Sim.Integrator); err != nil {
		return sim.Options{}, err
	}
	return opt, nil
}

// Encoding returns the wire encoding for telemetry and acks.
func (c *Config) Encoding() telemetry.Encoding {
	e, err := telemetry.ParseEncoding(c.Link.Encoding)
	if err != nil {
		return telemetry.JSON
	}
	return e
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Motors.Slots = make([]SlotConfig, len(c.Motors.Slots))
	for i, s := range c.Motors.Slots {
		s.Curve.Points = append([]mixer.Point(nil), s.Curve.Points...)
		cp.Motors.Slots[i] = s
	}
	return &cp
}
