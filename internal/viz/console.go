package viz

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/telemetry"
)

const (
	historyLen    = 120
	throttleStep  = 0.05
	stickStep     = 0.1
	refreshPeriod = 100 * time.Millisecond
)

// Sender delivers an event to the dispatcher and returns its ack.
type Sender func(dispatch.Event) dispatch.Ack

type tickMsg time.Time

type ackMsg dispatch.Ack

type Console struct {
	board     *telemetry.Board
	send      Sender
	title     string
	themeIdx  int
	st        styles
	keepAlive bool

	snap      telemetry.Snapshot
	have      bool
	rollHist  []float64
	pitchHist []float64
	lastAck   dispatch.Ack
	canvas    *Canvas
	quitting  bool
}

type Option func(*Console)

// WithTitle sets the header text.
func WithTitle(s string) Option { return func(c *Console) { c.title = s } }

// WithTheme selects a theme by name.
func WithTheme(name string) Option {
	return func(c *Console) {
		for i, t := range Themes {
			if t.Name == name {
				c.themeIdx = i
			}
		}
	}
}

// WithKeepAlive sends a heartbeat on every refresh so an idle console
// does not trip the link timeout.
func WithKeepAlive(on bool) Option { return func(c *Console) { c.keepAlive = on } }

func NewConsole(board *telemetry.Board, send Sender, opts ...Option) *Console {
	c := &Console{
		board:  board,
		send:   send,
		title:  "quadfc",
		canvas: NewCanvas(24, 8),
	}
	for _, o := range opts {
		o(c)
	}
	c.st = newStyles(Themes[c.themeIdx])
	return c
}

func tick() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (c *Console) Init() tea.Cmd { return tick() }

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return c, c.handleKey(msg.String())
	case ackMsg:
		if msg.Event != "heartbeat" {
			c.lastAck = dispatch.Ack(msg)
		}
	case tickMsg:
		c.refresh()
		cmds := []tea.Cmd{tick()}
		if c.keepAlive && c.send != nil {
			cmds = append(cmds, c.emit(dispatch.Event{Name: "heartbeat"}))
		}
		return c, tea.Batch(cmds...)
	}
	return c, nil
}

func (c *Console) refresh() {
	s, ok := c.board.Latest()
	if !ok || (c.have && s.Seq == c.snap.Seq) {
		return
	}
	c.snap, c.have = s, true
	c.rollHist = appendCapped(c.rollHist, s.Attitude.Roll*180/math.Pi)
	c.pitchHist = appendCapped(c.pitchHist, s.Attitude.Pitch*180/math.Pi)
}

func appendCapped(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	return h
}

func (c *Console) emit(e dispatch.Event) tea.Cmd {
	send := c.send
	return func() tea.Msg { return ackMsg(send(e)) }
}

func (c *Console) axis(name string, current, delta float64) tea.Cmd {
	return c.emit(dispatch.NewEvent(name, current+delta))
}

func (c *Console) handleKey(key string) tea.Cmd {
	sp := c.snap.Setpoint
	switch key {
	case "q", "ctrl+c", "esc":
		c.quitting = true
		return tea.Quit
	case "t":
		c.themeIdx = (c.themeIdx + 1) % len(Themes)
		c.st = newStyles(Themes[c.themeIdx])
		return nil
	}
	if c.send == nil {
		return nil
	}
	switch key {
	case "a":
		return c.emit(dispatch.Event{Name: "arm"})
	case "d":
		return c.emit(dispatch.Event{Name: "disarm"})
	case " ", "h":
		return c.emit(dispatch.Event{Name: "halt"})
	case "c":
		return c.emit(dispatch.Event{Name: "calibrate"})
	case "w":
		return c.axis("throttle", sp.Throttle, throttleStep)
	case "s":
		return c.axis("throttle", sp.Throttle, -throttleStep)
	case "x":
		return c.emit(dispatch.NewEvent("throttle", 0))
	case "right":
		return c.axis("roll", sp.Roll, stickStep)
	case "left":
		return c.axis("roll", sp.Roll, -stickStep)
	case "up":
		return c.axis("pitch", sp.Pitch, stickStep)
	case "down":
		return c.axis("pitch", sp.Pitch, -stickStep)
	case "]":
		return c.axis("yaw", sp.Yaw, stickStep)
	case "[":
		return c.axis("yaw", sp.Yaw, -stickStep)
	case "0":
		return tea.Batch(
			c.emit(dispatch.NewEvent("roll", 0)),
			c.emit(dispatch.NewEvent("pitch", 0)),
			c.emit(dispatch.NewEvent("yaw", 0)),
		)
	}
	return nil
}

func (c *Console) View() string {
	if c.quitting {
		return ""
	}
	st := c.st
	var b strings.Builder
	b.WriteString(st.title.Render(strings.ToUpper(c.title)) + "\n\n")

	if !c.have {
		b.WriteString(st.hint.Render("waiting for telemetry...") + "\n")
		return st.panel.Render(b.String())
	}
	s := c.snap
	deg := func(r float64) string { return fmt.Sprintf("%7.2f°", r*180/math.Pi) }
	row := func(label, value string) {
		b.WriteString(st.label.Render(label) + st.value.Render(value) + "\n")
	}

	row("state", st.state(s.ArmState))
	if s.Fault != "" {
		row("fault", st.high.Render(s.Fault))
	}
	row("roll", deg(s.Attitude.Roll))
	row("pitch", deg(s.Attitude.Pitch))
	row("yaw", deg(s.Attitude.Yaw))
	row("yaw rate", fmt.Sprintf("%6.1f°/s", s.Attitude.YawRate*180/math.Pi))
	row("setpoint", fmt.Sprintf("T %.2f  R %+.2f  P %+.2f  Y %+.2f",
		s.Setpoint.Throttle, s.Setpoint.Roll, s.Setpoint.Pitch, s.Setpoint.Yaw))
	sensor := "ok"
	if !s.SensorHealthy {
		sensor = st.high.Render("unhealthy")
	}
	if s.Calibrating {
		sensor = st.mid.Render("calibrating")
	}
	row("sensor", fmt.Sprintf("%s (%d failures)", sensor, s.SensorFailures))
	b.WriteString("\n")

	for _, m := range s.Motors {
		b.WriteString(st.label.Render(m.Code) + st.dutyBar(m.Duty, 20) + fmt.Sprintf(" %.3f\n", m.Duty))
	}
	if s.Saturated {
		b.WriteString(st.mid.Render("mixer saturated") + "\n")
	}
	b.WriteString("\n" + st.label.Render("roll trend") + sparkline(c.rollHist, 40) + "\n")
	b.WriteString(st.label.Render("pitch trend") + sparkline(c.pitchHist, 40) + "\n")

	if c.lastAck.Event != "" {
		ack := fmt.Sprintf("%s: %s", c.lastAck.Event, c.lastAck.Status)
		if c.lastAck.Reason != "" {
			ack += " (" + c.lastAck.Reason + ")"
		}
		b.WriteString("\n" + st.label.Render("last ack") + ack + "\n")
	}
	b.WriteString(st.hint.Render(fmt.Sprintf("\nseq %d  overruns %d", s.Seq, s.Overruns)))

	c.canvas.Clear()
	c.canvas.DrawHorizon(s.Attitude.Roll, s.Attitude.Pitch, 45*math.Pi/180)
	left := st.panel.Render(b.String())
	right := st.panel.Render(c.canvas.String())
	view := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	if len(c.rollHist) > 1 {
		chart := asciigraph.PlotMany([][]float64{c.rollHist, c.pitchHist},
			asciigraph.Height(6), asciigraph.Width(60),
			asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
			asciigraph.SeriesLegends("roll", "pitch"),
			asciigraph.Caption("attitude (deg)"))
		view += "\n" + chart
	}
	view += "\n" + st.hint.Render("a arm  d disarm  space halt  c calibrate  w/s throttle  x cut  arrows roll/pitch  [ ] yaw  0 center  t theme  q quit")
	return view
}
