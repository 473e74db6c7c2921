// Package analysis inspects recorded flight signals.
//
//   - [PowerSpectrum]: windowed power spectrum of one signal
//   - [DominantFrequency]: strongest non-DC oscillation, useful for
//     spotting PID ringing
//   - [Summarize]: mean, deviation, RMS and peak
//   - [SettlingTime]: when a signal last left a tolerance band
//
//	roll, _ := table.Column("roll")
//	f, _ := analysis.DominantFrequency(roll, 100)
package analysis
