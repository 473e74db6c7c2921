package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/quadfc/internal/analysis"
	"github.com/san-kum/quadfc/internal/auth"
	"github.com/san-kum/quadfc/internal/config"
	"github.com/san-kum/quadfc/internal/experiment"
	"github.com/san-kum/quadfc/internal/export"
	"github.com/san-kum/quadfc/internal/logging"
	"github.com/san-kum/quadfc/internal/storage"
	"github.com/san-kum/quadfc/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string
	filterName string
	seed       int64

	// fly
	useSim    bool
	useMQTT   bool
	useWS     bool
	useTUI    bool
	record    bool
	themeName string

	// sim / tune
	saveRun    bool
	live       bool
	tuneParams []string
	tuneRanges []string
	tuneMetric string
	workers    int

	// plot / analyze
	series []string
	height int
	width  int

	// export-svg
	outFile   string
	horizon   bool
	svgWidth  int
	svgHeight int

	// token
	subject  string
	roles    []string
	tokenTTL time.Duration
)

// main registers the commands and runs the root command, exiting with
// status 1 on error.
func main() {
	rootCmd := &cobra.Command{
		Use:          "quadfc",
		Short:        "quadrotor flight controller",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".quadfc", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	flyCmd := &cobra.Command{
		Use:   "fly",
		Short: "run the flight controller",
		Args:  cobra.NoArgs,
		RunE:  runFly,
	}
	flyCmd.Flags().BoolVar(&useSim, "sim", false, "fly a simulated airframe instead of the I2C hardware")
	flyCmd.Flags().BoolVar(&useMQTT, "mqtt", false, "accept commands and publish telemetry over MQTT")
	flyCmd.Flags().BoolVar(&useWS, "ws", false, "serve the websocket command and telemetry endpoints")
	flyCmd.Flags().BoolVar(&useTUI, "tui", false, "show the live console")
	flyCmd.Flags().BoolVar(&record, "record", false, "save telemetry to the data directory on exit")
	flyCmd.Flags().StringVar(&filterName, "filter", "", "attitude filter (complementary, kalman)")
	flyCmd.Flags().StringVar(&themeName, "theme", "cyberpunk", "console theme")
	flyCmd.Flags().Int64Var(&seed, "seed", 1, "simulated sensor noise seed")

	simCmd := &cobra.Command{
		Use:   "sim [script]",
		Short: "fly a scripted session against the simulated airframe",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSim,
	}
	simCmd.Flags().BoolVar(&saveRun, "save", true, "save the run to the data directory")
	simCmd.Flags().BoolVar(&live, "live", false, "run in real time with the live console")
	simCmd.Flags().StringVar(&filterName, "filter", "", "attitude filter (complementary, kalman)")
	simCmd.Flags().StringVar(&themeName, "theme", "cyberpunk", "console theme")
	simCmd.Flags().Int64Var(&seed, "seed", 1, "sensor noise seed")

	tuneCmd := &cobra.Command{
		Use:   "tune [script]",
		Short: "grid search controller gains",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTune,
	}
	tuneCmd.Flags().StringSliceVar(&tuneParams, "param", []string{"attitude.kp", "attitude.kd"}, "gains to search (axis.gain)")
	tuneCmd.Flags().StringArrayVar(&tuneRanges, "range", []string{"0.3:0.9:4", "0.04:0.12:3"}, "values per param (lo:hi:n or a,b,c)")
	tuneCmd.Flags().StringVar(&tuneMetric, "metric", "tracking_rms", "metric to minimize")
	tuneCmd.Flags().IntVar(&workers, "workers", 4, "experiments run at once")
	tuneCmd.Flags().StringVar(&filterName, "filter", "", "attitude filter (complementary, kalman)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded flights",
		RunE:  listFlights,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [flight_id]",
		Short: "plot recorded series",
		Args:  cobra.ExactArgs(1),
		RunE:  plotFlight,
	}
	plotCmd.Flags().StringSliceVar(&series, "series", []string{"roll", "pitch"}, "columns to plot")
	plotCmd.Flags().IntVar(&height, "height", 12, "plot height")
	plotCmd.Flags().IntVar(&width, "width", 80, "plot width")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [flight_id]",
		Short: "statistics and oscillation frequency",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeFlight,
	}
	analyzeCmd.Flags().StringSliceVar(&series, "series", []string{"roll", "pitch"}, "columns to analyze")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [flight_id]",
		Short: "write recorded samples as csv to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).ExportCSV(os.Stdout, args[0])
		},
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [flight_id]",
		Short: "write metadata and samples as json to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).ExportJSON(os.Stdout, args[0])
		},
	}

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [flight_id]",
		Short: "render recorded series as an svg chart",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringSliceVar(&series, "series", []string{"roll", "pitch"}, "columns to draw")
	exportSVGCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	exportSVGCmd.Flags().BoolVar(&horizon, "horizon", false, "draw the final attitude horizon instead")
	exportSVGCmd.Flags().IntVar(&svgWidth, "width", 800, "chart width in pixels")
	exportSVGCmd.Flags().IntVar(&svgHeight, "height", 300, "chart height in pixels")

	deleteCmd := &cobra.Command{
		Use:   "delete [flight_id]",
		Short: "remove a recorded flight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).Delete(args[0])
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("available presets:")
			for _, name := range config.ListPresets() {
				fmt.Printf("  %s\n", name)
			}
		},
	}

	scriptsCmd := &cobra.Command{
		Use:   "scripts",
		Short: "list built-in flight scripts",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("available scripts:")
			for _, name := range experiment.ListScripts() {
				s := experiment.GetScript(name)
				fmt.Printf("  %-14s %s, %d steps\n", name, s.Duration, len(s.Steps))
			}
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "write the effective configuration as yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "issue a websocket bearer token",
		Args:  cobra.NoArgs,
		RunE:  issueToken,
	}
	tokenCmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	tokenCmd.Flags().StringSliceVar(&roles, "role", []string{auth.RolePilot}, "roles (pilot, observer)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")

	rootCmd.AddCommand(flyCmd, simCmd, tuneCmd, listCmd, plotCmd, analyzeCmd,
		exportCSVCmd, exportJSONCmd, exportSVGCmd, deleteCmd, presetsCmd, scriptsCmd, configCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig starts from the config file, a preset or the defaults, then
// applies any flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "" && preset != "":
		return nil, fmt.Errorf("--config and --preset are mutually exclusive")
	case configFile != "":
		c, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
	default:
		cfg = config.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Lookup("filter") != nil && flags.Changed("filter") {
		cfg.Sensor.Filter = filterName
	}
	if flags.Lookup("seed") != nil && flags.Changed("seed") {
		cfg.Sim.Seed = seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { closer.Close() }, nil
}

func listFlights(cmd *cobra.Command, args []string) error {
	metas, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("no recorded flights")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSCRIPT\tSTATE\tFAULT\tSAMPLES\tTIMESTAMP")
	for _, m := range metas {
		script := m.Script
		if script == "" {
			script = "-"
		}
		fault := m.Fault
		if fault == "" {
			fault = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			m.ID[:8], m.Source, script, m.FinalState, fault, m.Samples,
			m.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func plotFlight(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	meta, err := store.Load(args[0])
	if err != nil {
		return err
	}
	table, err := store.LoadTable(args[0])
	if err != nil {
		return err
	}

	var data [][]float64
	for _, name := range series {
		col, err := table.Column(name)
		if err != nil {
			return err
		}
		data = append(data, downsample(col, width))
	}
	if len(data) == 0 {
		return fmt.Errorf("no series to plot")
	}

	graph := asciigraph.PlotMany(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(plotColors[:min(len(data), len(plotColors))]...),
		asciigraph.SeriesLegends(series...),
		asciigraph.Caption(fmt.Sprintf("%s %s (%d samples)", meta.Source, meta.ID[:8], meta.Samples)),
	)
	fmt.Println(graph)
	return nil
}

var plotColors = []asciigraph.AnsiColor{
	asciigraph.Green, asciigraph.Yellow, asciigraph.Cyan, asciigraph.Red, asciigraph.Blue, asciigraph.Magenta,
}

// downsample keeps at most n evenly spaced points.
func downsample(x []float64, n int) []float64 {
	if n <= 0 || len(x) <= n {
		return x
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = x[i*len(x)/n]
	}
	return out
}

func analyzeFlight(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	meta, err := store.Load(args[0])
	if err != nil {
		return err
	}
	table, err := store.LoadTable(args[0])
	if err != nil {
		return err
	}

	rate := 100.0
	if meta.PeriodMs > 0 {
		rate = 1000 / float64(meta.PeriodMs)
	}
	if times, err := table.Column("time"); err == nil && len(times) > 1 {
		if dt := (times[len(times)-1] - times[0]) / float64(len(times)-1); dt > 0 {
			rate = 1 / dt
		}
	}

	fmt.Printf("flight %s (%s", meta.ID, meta.Source)
	if meta.Script != "" {
		fmt.Printf(", script %s", meta.Script)
	}
	fmt.Printf(") final state %s", meta.FinalState)
	if meta.Fault != "" {
		fmt.Printf(", fault %s", meta.Fault)
	}
	fmt.Printf("\nsample rate %.1f Hz\n\n", rate)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tMEAN\tSTD\tRMS\tPEAK\tDOMINANT HZ")
	for _, name := range series {
		col, err := table.Column(name)
		if err != nil {
			return err
		}
		s := analysis.Summarize(col)
		dom := "-"
		if f, _, err := analysis.DominantFrequency(col, rate); err == nil {
			dom = fmt.Sprintf("%.2f", f)
		}
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%s\n", name, s.Mean, s.Std, s.RMS, s.Peak, dom)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(meta.Metrics) > 0 {
		fmt.Println("\nmetrics:")
		names := make([]string, 0, len(meta.Metrics))
		for k := range meta.Metrics {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Printf("  %-18s %.6f\n", k, meta.Metrics[k])
		}
	}
	return nil
}

func exportSVG(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	meta, err := store.Load(args[0])
	if err != nil {
		return err
	}
	table, err := store.LoadTable(args[0])
	if err != nil {
		return err
	}

	var doc string
	if horizon {
		roll, err := table.Column("roll")
		if err != nil {
			return err
		}
		pitch, err := table.Column("pitch")
		if err != nil {
			return err
		}
		if len(roll) == 0 {
			return export.ErrNoData
		}
		canvas := viz.NewCanvas(40, 12)
		canvas.DrawHorizon(roll[len(roll)-1], pitch[len(pitch)-1], math.Pi/4)
		doc = export.CanvasToSVG(canvas, 6)
	} else {
		times, err := table.Column("time")
		if err != nil {
			return err
		}
		var traces []export.Series
		for _, name := range series {
			col, err := table.Column(name)
			if err != nil {
				return err
			}
			traces = append(traces, export.Series{Name: name, Values: col})
		}
		title := fmt.Sprintf("%s %s %s", meta.Source, meta.Script, meta.ID[:8])
		if doc, err = export.ChartSVG(title, times, traces, svgWidth, svgHeight); err != nil {
			return err
		}
	}

	if outFile == "" {
		_, err = fmt.Fprintln(os.Stdout, doc)
		return err
	}
	return os.WriteFile(outFile, []byte(doc), 0644)
}

func issueToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	v, err := auth.NewVerifier(cfg.Link.WS.Secret, cfg.Link.WS.Issuer)
	if err != nil {
		return err
	}
	tok, err := v.Issue(subject, tokenTTL, roles...)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"token":      tok,
		"subject":    subject,
		"roles":      roles,
		"expires_at": time.Now().Add(tokenTTL).UTC().Format(time.RFC3339),
	})
}
