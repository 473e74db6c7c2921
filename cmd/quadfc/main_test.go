package main

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"

	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/storage"
	"github.com/san-kum/quadfc/internal/telemetry"
)

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "")
	cmd.Flags().StringVar(&filterName, "filter", "", "")
	cmd.Flags().Int64Var(&seed, "seed", 1, "")
	return cmd
}

func TestLoadConfig(t *testing.T) {
	t.Cleanup(func() { configFile, preset = "", "" })

	cmd := testCommand()
	if err := cmd.Flags().Parse([]string{"--filter", "kalman", "--seed", "7"}); err != nil {
		t.Fatal(err)
	}
	preset = "indoor"
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sensor.Filter != "kalman" || cfg.Sim.Seed != 7 {
		t.Errorf("flags not applied: filter %q seed %d", cfg.Sensor.Filter, cfg.Sim.Seed)
	}
	if cfg.Control.MaxAngleDeg != 15 {
		t.Errorf("preset not applied: max angle %v", cfg.Control.MaxAngleDeg)
	}

	preset = "nope"
	if _, err := loadConfig(testCommand()); err == nil {
		t.Error("expected unknown preset error")
	}

	preset, configFile = "indoor", "quadfc.yaml"
	if _, err := loadConfig(testCommand()); err == nil {
		t.Error("expected --config/--preset conflict")
	}
}

func TestDownsample(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	if diff := cmp.Diff([]float64{0, 2, 4, 6}, downsample(x, 4)); diff != "" {
		t.Errorf("downsample mismatch (-want +got):\n%s", diff)
	}
	if got := downsample(x, 20); len(got) != len(x) {
		t.Errorf("short input should pass through, got %d points", len(got))
	}
}

func TestSnapshotColumns(t *testing.T) {
	cols := snapshotColumns()
	for _, c := range cols {
		if c == "true_roll" || c == "target_pitch" {
			t.Errorf("live flights have no %s column", c)
		}
	}
	for _, want := range []string{"roll", "throttle", "duty_FL"} {
		if !slices.Contains(cols, want) {
			t.Errorf("missing column %s", want)
		}
	}
}

func TestSaveSnapshots(t *testing.T) {
	dataDir = t.TempDir()
	cfg, err := loadConfig(testCommand())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var snaps []telemetry.Snapshot
	for i := 0; i < 5; i++ {
		s := telemetry.Snapshot{Seq: uint64(i + 1), At: start.Add(time.Duration(i) * 100 * time.Millisecond), ArmState: "armed"}
		s.Attitude.Roll = 0.01 * float64(i)
		snaps = append(snaps, s)
	}
	snaps[4].ArmState, snaps[4].Fault = "halted", "link_lost"

	id, err := saveSnapshots(cfg, "fly-sim", snaps)
	if err != nil {
		t.Fatal(err)
	}
	store := storage.New(dataDir)
	meta, err := store.Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta.FinalState != "halted" || meta.Fault != "link_lost" || meta.Samples != 5 || meta.PeriodMs != 100 {
		t.Errorf("meta = %+v", meta)
	}
	if _, ok := meta.Metrics["saturation_ratio"]; !ok {
		t.Errorf("metrics = %v", meta.Metrics)
	}
	table, err := store.LoadTable(id)
	if err != nil {
		t.Fatal(err)
	}
	roll, err := table.Column("roll")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 0.01, 0.02, 0.03, 0.04}, roll, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("roll mismatch (-want +got):\n%s", diff)
	}
	times, _ := table.Column("time")
	if diff := cmp.Diff([]float64{0, 0.1, 0.2, 0.3, 0.4}, times, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("time mismatch (-want +got):\n%s", diff)
	}
}

func TestConsoleKeepsLinkAlive(t *testing.T) {
	tests := []struct {
		name     string
		mqtt, ws bool
		want     bool
	}{
		{"console only", false, false, true},
		{"mqtt commander", true, false, false},
		{"websocket commander", false, true, false},
		{"both remotes", true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consoleKeepsLinkAlive(tt.mqtt, tt.ws); got != tt.want {
				t.Errorf("consoleKeepsLinkAlive(%v, %v) = %v, want %v", tt.mqtt, tt.ws, got, tt.want)
			}
		})
	}
}

func TestEnvelopeSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan dispatch.Envelope, 1)
	send := envelopeSender(ctx, in)

	go func() {
		env := <-in
		env.Reply(dispatch.Ack{Event: env.Event.Name, Status: dispatch.StatusApplied})
	}()
	if ack := send(dispatch.Event{Name: "arm"}); ack.Status != dispatch.StatusApplied || ack.Event != "arm" {
		t.Errorf("ack = %+v", ack)
	}

	cancel()
	in <- dispatch.Envelope{}
	if ack := send(dispatch.Event{Name: "halt"}); ack.Status != dispatch.StatusRejected {
		t.Errorf("after shutdown ack = %+v", ack)
	}
}
