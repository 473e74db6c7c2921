package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/quadfc/internal/config"
	"github.com/san-kum/quadfc/internal/dispatch"
	"github.com/san-kum/quadfc/internal/experiment"
	"github.com/san-kum/quadfc/internal/metrics"
	"github.com/san-kum/quadfc/internal/optim"
	"github.com/san-kum/quadfc/internal/storage"
	"github.com/san-kum/quadfc/internal/telemetry"
	"github.com/san-kum/quadfc/internal/viz"
)

// scriptSource returns a loader for a built-in script name or a yaml file.
// Every call yields a fresh script so concurrent runs never share one.
func scriptSource(name string) (func() (*experiment.Script, error), error) {
	if experiment.GetScript(name) != nil {
		return func() (*experiment.Script, error) { return experiment.GetScript(name), nil }, nil
	}
	if _, err := os.Stat(name); err == nil {
		return func() (*experiment.Script, error) { return experiment.LoadScript(name) }, nil
	}
	return nil, fmt.Errorf("unknown script: %s (available: %s)", name, strings.Join(experiment.ListScripts(), ", "))
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name := "hover"
	if len(args) == 1 {
		name = args[0]
	}
	load, err := scriptSource(name)
	if err != nil {
		return err
	}
	script, err := load()
	if err != nil {
		return err
	}

	log, closeLog, err := consoleLogger(cfg, live)
	if err != nil {
		return err
	}
	defer closeLog()

	exp, err := experiment.New(cfg, script, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res *experiment.Result
	if live {
		res, err = runLive(ctx, exp, script.Name)
	} else {
		res, err = exp.Run(ctx)
	}
	if err != nil {
		return err
	}

	printResult(res)
	if !saveRun {
		return nil
	}
	table, err := observationTable(res.Observations, experiment.SeriesNames())
	if err != nil {
		return err
	}
	id, err := storage.New(dataDir).Save(storage.Meta{
		Source:     "sim",
		Script:     res.Script,
		PeriodMs:   cfg.Loop.CycleMs,
		Seed:       cfg.Sim.Seed,
		Filter:     cfg.Sensor.Filter,
		FinalState: res.FinalState,
		Fault:      res.Fault,
		Samples:    len(res.Observations),
		Metrics:    res.Metrics,
	}, table)
	if err != nil {
		return err
	}
	fmt.Printf("saved flight %s\n", id)
	return nil
}

// runLive paces the experiment in real time under the console. Quitting the
// console cancels the run.
func runLive(ctx context.Context, exp *experiment.Experiment, title string) (*experiment.Result, error) {
	exp.RealTime(true)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := viz.NewConsole(exp.Board(), nil, viz.WithTitle("quadfc sim: "+title), viz.WithTheme(themeName))
	p := tea.NewProgram(console, tea.WithAltScreen(), tea.WithContext(ctx))

	var res *experiment.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = exp.Run(gctx)
		p.Quit()
		return err
	})
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func printResult(res *experiment.Result) {
	fmt.Printf("script %s: %d ticks at %s, final state %s", res.Script, len(res.Observations), res.Period, res.FinalState)
	if res.Fault != "" {
		fmt.Printf(" (%s)", res.Fault)
	}
	fmt.Println()
	for _, a := range res.Acks {
		if a.Status != dispatch.StatusApplied {
			fmt.Printf("  %s %s %s\n", a.Event, a.Status, a.Reason)
		}
	}
	names := make([]string, 0, len(res.Metrics))
	for k := range res.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %-18s %.6f\n", k, res.Metrics[k])
	}
}

func runTune(cmd *cobra.Command, args []string) error {
	if !cmd.Flags().Changed("log-level") {
		logLevel = "warn"
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Log.Level = logLevel
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	name := "step"
	if len(args) == 1 {
		name = args[0]
	}
	load, err := scriptSource(name)
	if err != nil {
		return err
	}
	if len(tuneParams) != len(tuneRanges) {
		return fmt.Errorf("%d params but %d ranges", len(tuneParams), len(tuneRanges))
	}
	ranges := make([][]float64, len(tuneRanges))
	for i, r := range tuneRanges {
		if ranges[i], err = optim.ParseRange(r); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := func(params map[string]float64) (*experiment.Experiment, error) {
		c := cfg.Clone()
		for k, v := range params {
			if err := optim.Apply(c, k, v); err != nil {
				return nil, err
			}
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		s, err := load()
		if err != nil {
			return nil, err
		}
		return experiment.New(c, s, log)
	}

	best, trials, err := optim.NewGridSearch(tuneParams, ranges).Workers(workers).Search(ctx, build, tuneMetric)
	if err != nil {
		return err
	}

	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Score < trials[j].Score })
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\tFAULT\n", strings.ToUpper(strings.Join(tuneParams, "\t")), strings.ToUpper(tuneMetric))
	for _, t := range trials {
		for _, p := range tuneParams {
			fmt.Fprintf(w, "%.4g\t", t.Params[p])
		}
		score := "inf"
		if !math.IsInf(t.Score, 1) {
			score = fmt.Sprintf("%.6f", t.Score)
		}
		fault := t.Fault
		if fault == "" {
			fault = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", score, fault)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if math.IsInf(best.Score, 1) {
		return fmt.Errorf("no stable gains in the grid")
	}
	fmt.Print("\nbest:")
	for _, p := range tuneParams {
		fmt.Printf(" %s=%.4g", p, best.Params[p])
	}
	fmt.Printf(" %s=%.6f\n", tuneMetric, best.Score)
	return nil
}

// observationTable stores the named series against time.
func observationTable(obs []metrics.Observation, names []string) (*storage.Table, error) {
	times := make([]float64, len(obs))
	for i, o := range obs {
		times[i] = o.T
	}
	cols := make([][]float64, len(names))
	for i, n := range names {
		col, err := experiment.Series(obs, n)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return storage.NewTable(times, names, cols)
}

// snapshotColumns are the series a live flight can record; there is no
// ground truth outside the simulator.
func snapshotColumns() []string {
	var out []string
	for _, n := range experiment.SeriesNames() {
		if strings.HasPrefix(n, "true_") || strings.HasPrefix(n, "target_") {
			continue
		}
		out = append(out, n)
	}
	return out
}

// saveSnapshots records a live flight.
func saveSnapshots(cfg *config.Config, source string, snaps []telemetry.Snapshot) (string, error) {
	ms := []metrics.Metric{metrics.NewControlEffort(), metrics.NewSaturation(), metrics.NewOverruns()}
	obs := make([]metrics.Observation, len(snaps))
	for i, s := range snaps {
		obs[i] = metrics.Observation{T: s.At.Sub(snaps[0].At).Seconds(), Snapshot: s}
		for _, m := range ms {
			m.Observe(obs[i])
		}
	}
	table, err := observationTable(obs, snapshotColumns())
	if err != nil {
		return "", err
	}
	values := make(map[string]float64, len(ms))
	for _, m := range ms {
		values[m.Name()] = m.Value()
	}
	last := snaps[len(snaps)-1]
	return storage.New(dataDir).Save(storage.Meta{
		Source:     source,
		PeriodMs:   cfg.Loop.TelemetryMs,
		Filter:     cfg.Sensor.Filter,
		FinalState: last.ArmState,
		Fault:      last.Fault,
		Samples:    len(snaps),
		Metrics:    values,
	}, table)
}
