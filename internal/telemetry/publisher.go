package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives snapshots from a Publisher.
type Sink interface {
	Name() string
	Send(ctx context.Context, s Snapshot) error
}

// Publisher forwards new board snapshots to its sinks at a fixed interval.
type Publisher struct {
	board    *Board
	interval time.Duration
	sinks    []Sink
	log      *slog.Logger
	lastSeq  uint64
}

// NewPublisher returns a publisher sampling board every interval.
func NewPublisher(board *Board, interval time.Duration, log *slog.Logger, sinks ...Sink) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Publisher{
		board:    board,
		interval: interval,
		sinks:    sinks,
		log:      log.With("component", "telemetry"),
	}
}

// AddSink registers another sink. Not safe to call while Run is active.
func (p *Publisher) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Run publishes until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush sends the latest snapshot if it has not been sent yet. It reports
// whether anything was sent.
func (p *Publisher) Flush(ctx context.Context) bool {
	s, ok := p.board.Latest()
	if !ok || s.Seq == p.lastSeq {
		return false
	}
	p.lastSeq = s.Seq

	for _, sink := range p.sinks {
		if err := sink.Send(ctx, s); err != nil {
			p.log.Warn("sink send failed", "sink", sink.Name(), "seq", s.Seq, "error", err)
		}
	}
	return true
}

// LogSink writes each snapshot as a structured log record.
type LogSink struct {
	Log   *slog.Logger
	Level slog.Level
}

func (l LogSink) Name() string { return "log" }

func (l LogSink) Send(ctx context.Context, s Snapshot) error {
	d := s.Duties()
	l.Log.Log(ctx, l.Level, "telemetry",
		"seq", s.Seq,
		"state", s.ArmState,
		"fault", s.Fault,
		"roll", s.Attitude.Roll,
		"pitch", s.Attitude.Pitch,
		"yaw", s.Attitude.Yaw,
		"throttle", s.Setpoint.Throttle,
		"motors", d[:],
		"saturated", s.Saturated,
	)
	return nil
}

// Recorder keeps every snapshot it receives. Used by the simulator and tests.
type Recorder struct {
	Snapshots []Snapshot
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, s Snapshot) error {
	r.Snapshots = append(r.Snapshots, s)
	return nil
}
