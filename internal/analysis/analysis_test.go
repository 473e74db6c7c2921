package analysis

import (
	"errors"
	"math"
	"testing"
)

func sine(freq, rate float64, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 0.3 + math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return x
}

func TestDominantFrequency(t *testing.T) {
	tests := []struct {
		freq float64
		rate float64
		n    int
	}{
		{5, 100, 500},
		{12.5, 250, 1000},
		{2, 100, 300}, // not a power of two
	}
	for _, tt := range tests {
		f, p, err := DominantFrequency(sine(tt.freq, tt.rate, tt.n), tt.rate)
		if err != nil {
			t.Fatal(err)
		}
		res := tt.rate / float64(tt.n)
		if math.Abs(f-tt.freq) > res {
			t.Errorf("DominantFrequency(%g Hz) = %g (resolution %g)", tt.freq, f, res)
		}
		if p <= 0 {
			t.Errorf("power = %g", p)
		}
	}
}

func TestPowerSpectrumRemovesMean(t *testing.T) {
	x := make([]float64, 64)
	for i := range x {
		x[i] = 2.5
	}
	s, err := PowerSpectrum(x, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Freqs) != 33 || s.Freqs[32] != 50 {
		t.Errorf("bins = %d, nyquist = %g", len(s.Freqs), s.Freqs[len(s.Freqs)-1])
	}
	for k, p := range s.Power {
		if p > 1e-20 {
			t.Errorf("Power[%d] = %g for constant input", k, p)
		}
	}
	if _, err := PowerSpectrum([]float64{1, 2}, 100); !errors.Is(err, ErrTooShort) {
		t.Errorf("short input: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, -3, 1, 1})
	if s.Mean != 0 || s.Peak != 3 || math.Abs(s.RMS-math.Sqrt(3)) > 1e-12 {
		t.Errorf("Summarize = %+v", s)
	}
	if s := Summarize(nil); s != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v", s)
	}
}

func TestSettlingTime(t *testing.T) {
	times := []float64{0, 1, 2, 3, 4, 5}
	x := []float64{1, 0.5, 0.2, 0.01, 0.005, 0}
	if got := SettlingTime(times, x, 0, 0, 0.05); got != 3 {
		t.Errorf("SettlingTime = %g, want 3", got)
	}
	if got := SettlingTime(times, x, 3, 0, 0.05); got != 0 {
		t.Errorf("already settled = %g", got)
	}
	if got := SettlingTime(times, []float64{0, 0, 0, 0, 0, 1}, 0, 0, 0.05); !math.IsNaN(got) {
		t.Errorf("never settles = %g", got)
	}
}
