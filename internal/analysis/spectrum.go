package analysis

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/stat"
)

var ErrTooShort = errors.New("analysis: signal too short")

type Spectrum struct {
	Freqs []float64
	Power []float64
}

// PowerSpectrum removes the mean, applies a Hann window and returns the
// one-sided power spectrum. sampleRate is in Hz.
func PowerSpectrum(samples []float64, sampleRate float64) (Spectrum, error) {
	n := len(samples)
	if n < 4 {
		return Spectrum{}, ErrTooShort
	}

	x := make([]float64, n)
	mean := stat.Mean(samples, nil)
	for i, v := range samples {
		x[i] = v - mean
	}
	window.Apply(x, window.Hann)

	coeffs := fft.FFTReal(x)
	bins := n/2 + 1
	s := Spectrum{Freqs: make([]float64, bins), Power: make([]float64, bins)}
	for k := 0; k < bins; k++ {
		a := cmplx.Abs(coeffs[k])
		s.Freqs[k] = float64(k) * sampleRate / float64(n)
		s.Power[k] = a * a / float64(n)
	}
	return s, nil
}

// DominantFrequency returns the frequency and power of the strongest bin
// above DC.
func DominantFrequency(samples []float64, sampleRate float64) (freq, power float64, err error) {
	s, err := PowerSpectrum(samples, sampleRate)
	if err != nil {
		return 0, 0, err
	}
	best := 1
	for k := 2; k < len(s.Power); k++ {
		if s.Power[k] > s.Power[best] {
			best = k
		}
	}
	return s.Freqs[best], s.Power[best], nil
}

type Summary struct {
	Mean float64
	Std  float64
	RMS  float64
	Peak float64 // largest absolute value
}

func Summarize(x []float64) Summary {
	if len(x) == 0 {
		return Summary{}
	}
	var s Summary
	if len(x) > 1 {
		s.Mean, s.Std = stat.MeanStdDev(x, nil)
	} else {
		s.Mean = x[0]
	}
	sq := 0.0
	for _, v := range x {
		sq += v * v
		s.Peak = math.Max(s.Peak, math.Abs(v))
	}
	s.RMS = math.Sqrt(sq / float64(len(x)))
	return s
}

// SettlingTime returns the time after which |x - target| stays within tol,
// counted from times[from]. It is NaN if the signal never settles.
func SettlingTime(times, x []float64, from int, target, tol float64) float64 {
	if from < 0 || from >= len(x) || len(times) != len(x) {
		return math.NaN()
	}
	last := -1
	for i := from; i < len(x); i++ {
		if math.Abs(x[i]-target) > tol {
			last = i
		}
	}
	switch {
	case last == len(x)-1:
		return math.NaN()
	case last < 0:
		return 0
	}
	return times[last+1] - times[from]
}
