// Package optim tunes controller gains by flying simulated sessions.
package optim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/quadfc/internal/config"
	"github.com/san-kum/quadfc/internal/control"
	"github.com/san-kum/quadfc/internal/experiment"
)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, workers: 4}
}

// Workers sets how many experiments run at once.
func (g *GridSearch) Workers(n int) *GridSearch {
	if n > 0 {
		g.workers = n
	}
	return g
}

type Trial struct {
	Params map[string]float64
	Score  float64
	Fault  string
}

// Search runs one experiment per grid point and returns the point with the
// lowest value of metricName. A run that ends halted for any reason other
// than a disarm scores +Inf.
func (g *GridSearch) Search(
	ctx context.Context,
	buildExperiment func(params map[string]float64) (*experiment.Experiment, error),
	metricName string,
) (Trial, []Trial, error) {
	if len(g.paramNames) != len(g.ranges) {
		return Trial{}, nil, fmt.Errorf("optim: %d params, %d ranges", len(g.paramNames), len(g.ranges))
	}

	var points []map[string]float64
	g.enumerate(0, make(map[string]float64), &points)

	trials := make([]Trial, len(points))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	var mu sync.Mutex
	for i, p := range points {
		i, p := i, p
		eg.Go(func() error {
			exp, err := buildExperiment(p)
			if err != nil {
				return err
			}
			res, err := exp.Run(ctx)
			if err != nil {
				return err
			}
			score, ok := res.Metrics[metricName]
			if !ok {
				return fmt.Errorf("optim: unknown metric %q", metricName)
			}
			if res.Fault != "" && !strings.HasPrefix(res.Fault, "disarm_command") {
				score = math.Inf(1)
			}
			mu.Lock()
			trials[i] = Trial{Params: p, Score: score, Fault: res.Fault}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Trial{}, nil, err
	}

	best := Trial{Score: math.Inf(1)}
	for _, t := range trials {
		if t.Score < best.Score {
			best = t
		}
	}
	return best, trials, nil
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		p := make(map[string]float64, len(current))
		for k, v := range current {
			p[k] = v
		}
		*out = append(*out, p)
		return
	}
	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[name] = val
		g.enumerate(depth+1, current, out)
	}
	delete(current, name)
}

// Apply sets a gain named "<axis>.<gain>" on cfg, for example "roll.kp".
// The axis "attitude" sets roll and pitch together.
func Apply(cfg *config.Config, name string, value float64) error {
	axis, gain, ok := strings.Cut(name, ".")
	if !ok {
		return fmt.Errorf("optim: parameter %q is not axis.gain", name)
	}
	var targets []*control.Gains
	switch axis {
	case "roll":
		targets = []*control.Gains{&cfg.Control.Roll}
	case "pitch":
		targets = []*control.Gains{&cfg.Control.Pitch}
	case "yaw":
		targets = []*control.Gains{&cfg.Control.Yaw}
	case "attitude":
		targets = []*control.Gains{&cfg.Control.Roll, &cfg.Control.Pitch}
	default:
		return fmt.Errorf("optim: unknown axis %q", axis)
	}
	for _, g := range targets {
		pid := control.NewPID(*g)
		if err := pid.SetParam(gain, value); err != nil {
			return fmt.Errorf("optim: %w", err)
		}
		*g = pid.Gains
	}
	return nil
}

// ParseRange turns "lo:hi:n" into n evenly spaced values, or a comma list
// into its values.
func ParseRange(s string) ([]float64, error) {
	if parts := strings.Split(s, ":"); len(parts) == 3 {
		var lo, hi float64
		var n int
		if _, err := fmt.Sscanf(s, "%g:%g:%d", &lo, &hi, &n); err != nil || n < 1 {
			return nil, fmt.Errorf("optim: bad range %q", s)
		}
		if n == 1 {
			return []float64{lo}, nil
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
		}
		return out, nil
	}
	var out []float64
	for _, f := range strings.Split(s, ",") {
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSpace(f), "%g", &v); err != nil {
			return nil, fmt.Errorf("optim: bad value %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}
