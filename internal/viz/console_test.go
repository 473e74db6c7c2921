package viz

import (
	"strconv"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/flight"
	"github.com/san-kum/quadfc/internal/telemetry"
)

type recorder struct{ events []dispatch.Event }

func (r *recorder) send(e dispatch.Event) dispatch.Ack {
	r.events = append(r.events, e)
	return dispatch.Ack{Event: e.Name, Status: dispatch.StatusApplied}
}

func (r *recorder) names() []string {
	var out []string
	for _, e := range r.events {
		s := e.Name
		if e.Value != nil {
			s += "=" + strconv.FormatFloat(*e.Value, 'f', 2, 64)
		}
		out = append(out, s)
	}
	return out
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run executes cmd and feeds any acks back into the console.
func run(c *Console, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, sub := range msg {
			run(c, sub)
		}
	case ackMsg:
		c.Update(msg)
	}
}

func publish(b *telemetry.Board, state string, sp flight.Setpoint) {
	var s telemetry.Snapshot
	s.ArmState = state
	s.Setpoint = sp
	s.SensorHealthy = true
	for i, p := range flight.Positions {
		s.Motors[i] = telemetry.Motor{Code: p.Code(), Duty: 0.5}
	}
	b.Publish(s)
}

func TestConsoleKeysSendEvents(t *testing.T) {
	board := telemetry.NewBoard()
	publish(board, "armed", flight.Setpoint{Throttle: 0.4, Roll: 0.2})
	rec := &recorder{}
	c := NewConsole(board, rec.send)
	c.Update(tickMsg(time.Now()))

	for _, k := range []string{"a", "w", "left", "up", " ", "0"} {
		_, cmd := c.Update(key(k))
		run(c, cmd)
	}

	want := []string{"arm", "throttle=0.45", "roll=0.10", "pitch=0.10", "halt", "roll=0.00", "pitch=0.00", "yaw=0.00"}
	if diff := cmp.Diff(want, rec.names()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if c.lastAck.Event != "yaw" {
		t.Errorf("last ack = %+v", c.lastAck)
	}
}

func TestConsoleKeepAlive(t *testing.T) {
	board := telemetry.NewBoard()
	rec := &recorder{}
	c := NewConsole(board, rec.send, WithKeepAlive(true))
	_, cmd := c.Update(tickMsg(time.Now()))

	// the batch holds the next tick and the heartbeat; only run the heartbeat
	batch, ok := cmd().(tea.BatchMsg)
	if !ok || len(batch) != 2 {
		t.Fatalf("tick cmd = %T", cmd())
	}
	run(c, batch[1])
	if diff := cmp.Diff([]string{"heartbeat"}, rec.names()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if c.lastAck.Event != "" {
		t.Errorf("heartbeat ack recorded: %+v", c.lastAck)
	}
}

func TestConsoleView(t *testing.T) {
	board := telemetry.NewBoard()
	c := NewConsole(board, nil, WithTitle("bench"), WithTheme("minimal"))
	if v := c.View(); !strings.Contains(v, "waiting for telemetry") {
		t.Errorf("view before telemetry:\n%s", v)
	}

	publish(board, "halted", flight.Setpoint{})
	c.Update(tickMsg(time.Now()))
	publish(board, "halted", flight.Setpoint{})
	c.Update(tickMsg(time.Now()))
	v := c.View()
	for _, want := range []string{"BENCH", "HALTED", "FL", "BL", "attitude (deg)"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}

	_, cmd := c.Update(key("q"))
	if cmd == nil || c.View() != "" {
		t.Error("q should quit")
	}
}

func TestCanvasHorizon(t *testing.T) {
	c := NewCanvas(10, 4)
	c.DrawHorizon(0, 0, 1)
	lines := strings.Split(c.String(), "\n")
	if len(lines) != 4 {
		t.Fatalf("rows = %d", len(lines))
	}
	// level horizon sits on the middle dot row, which falls in cell row 2
	for i, r := range []rune(lines[2]) {
		if r == 0x2800 {
			t.Errorf("cell %d of horizon row empty", i)
		}
	}
	if strings.Trim(lines[0], "\u2800") != "" {
		t.Errorf("top row not empty: %q", lines[0])
	}
}
