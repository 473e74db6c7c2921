package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/quadfc/internal/auth"
	"github.com/san-kum/quadfc/internal/config"
	"github.com/san-kum/quadfc/internal/craft"
	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/fusion"
	"github.com/san-kum/quadfc/internal/hw"
	"github.com/san-kum/quadfc/internal/link"
	"github.com/san-kum/quadfc/internal/logging"
	"github.com/san-kum/quadfc/internal/loop"
	"github.com/san-kum/quadfc/internal/sim"
	"github.com/san-kum/quadfc/internal/telemetry"
	"github.com/san-kum/quadfc/internal/viz"
)

const commandQueue = 16

func runFly(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := consoleLogger(cfg, useTUI)
	if err != nil {
		return err
	}
	defer closeLog()

	base, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(base)
	defer cancel()

	dev, err := openDevices(cfg, log)
	if err != nil {
		return err
	}
	defer dev.Close()

	c := craft.New()
	fopt, err := cfg.FusionOptions()
	if err != nil {
		return err
	}
	mix, err := cfg.NewMixer()
	if err != nil {
		return err
	}
	lp, err := loop.New(c, loop.Parts{
		Fusion:  fusion.New(dev.sensor, fopt),
		Control: cfg.NewAttitude(),
		Mixer:   mix,
		Motors:  dev.motors,
	}, cfg.LoopConfig(), log)
	if err != nil {
		return err
	}
	disp, err := dispatch.New(c, dispatch.WithLogger(log))
	if err != nil {
		return err
	}

	in := make(chan dispatch.Envelope, commandQueue)
	pub := telemetry.NewPublisher(c.Board(), cfg.TelemetryInterval(), log,
		telemetry.LogSink{Log: log, Level: slog.LevelDebug})
	var rec *telemetry.Recorder
	if record {
		rec = &telemetry.Recorder{}
		pub.AddSink(rec)
	}
	if dev.led != nil {
		pub.AddSink(dev.led)
	}

	g, gctx := errgroup.WithContext(ctx)

	if useMQTT {
		client, err := link.Dial(cfg.Link.MQTT, log)
		if err != nil {
			return err
		}
		m := link.NewMQTT(cfg.Link.MQTT, client, cfg.Encoding(), log)
		defer m.Close()
		pub.AddSink(m)
		g.Go(func() error { return m.Run(gctx, in) })
	}

	if useWS {
		var v *auth.Verifier
		if cfg.Link.WS.Secret == "" {
			log.Warn("websocket secret not set, command endpoint is unauthenticated")
		} else if v, err = auth.NewVerifier(cfg.Link.WS.Secret, cfg.Link.WS.Issuer); err != nil {
			return err
		}
		hub := link.NewHub(cfg.Encoding(), log)
		pub.AddSink(hub)
		srv := link.NewServer(v, hub, in, log)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Link.WS.Addr) })
	}

	if dev.plant != nil {
		g.Go(func() error { return advancePlant(gctx, dev.plant, cfg.Period()) })
	}
	g.Go(func() error { return lp.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx, in) })
	g.Go(func() error { return pub.Run(gctx) })

	if useTUI {
		console := viz.NewConsole(c.Board(), envelopeSender(gctx, in),
			viz.WithTitle("quadfc"),
			viz.WithTheme(themeName),
			viz.WithKeepAlive(consoleKeepsLinkAlive(useMQTT, useWS)),
		)
		g.Go(func() error {
			defer cancel()
			_, err := tea.NewProgram(console, tea.WithAltScreen(), tea.WithContext(gctx)).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	log.Info("flight controller running",
		"sim", dev.plant != nil,
		"period", cfg.Period(),
		"filter", cfg.Sensor.Filter,
		"mqtt", useMQTT,
		"ws", useWS,
	)
	err = g.Wait()

	final, _ := c.Board().Latest()
	log.Info("flight controller stopped", "state", c.ArmState(), "fault", final.Fault)

	if rec != nil && len(rec.Snapshots) > 0 {
		source := "fly"
		if dev.plant != nil {
			source = "fly-sim"
		}
		id, serr := saveSnapshots(cfg, source, rec.Snapshots)
		if serr != nil {
			return errors.Join(err, serr)
		}
		fmt.Printf("saved flight %s (%d samples)\n", id, len(rec.Snapshots))
	}
	return err
}

// consoleKeepsLinkAlive reports whether the console should send heartbeats.
// With a remote commander attached only that commander may hold the link
// open, so losing it still trips link_lost.
func consoleKeepsLinkAlive(viaMQTT, viaWS bool) bool {
	return !viaMQTT && !viaWS
}

// consoleLogger builds the process logger. While a full screen console owns
// the terminal the log goes to a file only.
func consoleLogger(cfg *config.Config, tui bool) (*slog.Logger, func(), error) {
	if !tui {
		return newLogger(cfg)
	}
	if cfg.Log.File == "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, nil, err
		}
		cfg.Log.File = filepath.Join(dataDir, "quadfc.log")
	}
	log, closer, err := logging.NewWithWriter(cfg.Log, io.Discard)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { closer.Close() }, nil
}

// devices are the hardware boundaries the loop drives.
type devices struct {
	sensor  flight.Sensor
	motors  flight.MotorDriver
	plant   *sim.Plant
	led     *hw.StatusLED
	closers []io.Closer
}

func (d *devices) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i].Close()
	}
}

// openDevices opens the IMU, the motor board and the status LED, or a
// simulated airframe with --sim. A missing IMU is logged and left nil so
// the craft refuses to arm; a missing motor board is fatal.
func openDevices(cfg *config.Config, log *slog.Logger) (*devices, error) {
	d := &devices{}
	if useSim {
		opt, err := cfg.PlantOptions()
		if err != nil {
			return nil, err
		}
		plant, err := sim.NewPlant(opt)
		if err != nil {
			return nil, err
		}
		d.sensor, d.motors, d.plant = plant, plant, plant
		return d, nil
	}

	h := cfg.Hardware
	if mpu, err := openIMU(h); err != nil {
		log.Error("imu unavailable", "bus", h.I2CBus, "addr", fmt.Sprintf("%#x", h.MPUAddr), "error", err)
	} else {
		d.sensor = mpu
		d.closers = append(d.closers, mpu)
	}

	bus, err := hw.OpenI2C(h.I2CBus, h.PCAAddr)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open motor board: %w", err)
	}
	esc := hw.ESCConfig{
		Frequency: h.PWMHz,
		MinPulse:  time.Duration(h.MinPulseUs) * time.Microsecond,
		MaxPulse:  time.Duration(h.MaxPulseUs) * time.Microsecond,
	}
	pca, err := hw.NewPCA9685(bus, esc, cfg.Channels())
	if err != nil {
		bus.Close()
		d.Close()
		return nil, err
	}
	d.motors = pca
	d.closers = append(d.closers, pca)

	if h.LEDPin >= 0 {
		led, err := hw.OpenStatusLED(h.LEDPin)
		if err != nil {
			log.Warn("status led unavailable", "pin", h.LEDPin, "error", err)
		} else {
			d.led = led
			d.closers = append(d.closers, led)
		}
	}
	return d, nil
}

func openIMU(h config.HardwareConfig) (*hw.MPU6050, error) {
	bus, err := hw.OpenI2C(h.I2CBus, h.MPUAddr)
	if err != nil {
		return nil, err
	}
	mpu, err := hw.NewMPU6050(bus)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return mpu, nil
}

// advancePlant steps the simulated airframe in wall-clock time.
func advancePlant(ctx context.Context, p *sim.Plant, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := p.Advance(now.Sub(last)); err != nil {
				return fmt.Errorf("advance plant: %w", err)
			}
			last = now
		}
	}
}

// envelopeSender hands events to the dispatcher and waits for the ack.
func envelopeSender(ctx context.Context, in chan<- dispatch.Envelope) viz.Sender {
	return func(e dispatch.Event) dispatch.Ack {
		reply := make(chan dispatch.Ack, 1)
		env := dispatch.Envelope{Event: e, Reply: func(a dispatch.Ack) { reply <- a }}
		select {
		case in <- env:
		case <-ctx.Done():
			return shutdownAck(e)
		}
		select {
		case a := <-reply:
			return a
		case <-ctx.Done():
			return shutdownAck(e)
		}
	}
}

func shutdownAck(e dispatch.Event) dispatch.Ack {
	return dispatch.Ack{Event: e.Name, Status: dispatch.StatusRejected, Reason: "shutting down", At: time.Now()}
}
