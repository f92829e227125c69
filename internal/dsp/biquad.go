// Package dsp implements the per-sample stereo transform chain of the
// receiver: a three band equalizer, volume based bass compensation, a stage
// presence widener, crossover split-ear filtering, passive analysis taps and
// a hard output clipper.
//
// The biquad filters in this file are based on Robert Bristow-Johnson's
// audio EQ cookbook. Supported types:
//
//   - Low-pass
//   - High-pass
//   - All-pass
//   - Low-shelf
//   - High-shelf
//   - Peaking
package dsp

import (
	"fmt"
	"math"
)

// FilterName represents the kind of digital filter.
type FilterName int

// FilterName constants are digital filter names.
const (
	Undefined FilterName = iota
	LowPass
	HighPass
	AllPass
	LowShelf
	HighShelf
	Peaking
)

// Pi value is used as the default pi value in this package.
const Pi = 3.1415926535897932384626433

// Filter holds the digital filter parameters.
type Filter struct {
	name FilterName

	// state variables
	in1  []float64
	in2  []float64
	out1 []float64
	out2 []float64

	// digital filter parameters
	a0 float64
	a1 float64
	a2 float64
	b0 float64
	b1 float64
	b2 float64

	// number of passes
	passes int

	// Pre-computed coefficients for optimization
	b0a0, b1a0, b2a0, a1a0, a2a0 float64
}

// IsZero returns true when the f is not initialized.
func (f *Filter) IsZero() bool {
	return f.name == Undefined
}

// NewFilter creates a new Filter with the specified number of passes
func NewFilter(name FilterName, a0, a1, a2, b0, b1, b2 float64, passes int) *Filter {
	f := &Filter{
		name:   name,
		a0:     a0,
		a1:     a1,
		a2:     a2,
		b0:     b0,
		b1:     b1,
		b2:     b2,
		passes: passes,
		in1:    make([]float64, passes),
		in2:    make([]float64, passes),
		out1:   make([]float64, passes),
		out2:   make([]float64, passes),
	}

	// Pre-compute coefficients
	f.b0a0 = b0 / a0
	f.b1a0 = b1 / a0
	f.b2a0 = b2 / a0
	f.a1a0 = a1 / a0
	f.a2a0 = a2 / a0

	return f
}

// Apply runs a single sample through every pass of the filter and returns
// the filtered sample. The filter state is advanced, so consecutive calls
// process a continuous signal.
func (f *Filter) Apply(x float64) float64 {
	for p := range f.passes {
		output := f.b0a0*x + f.b1a0*f.in1[p] + f.b2a0*f.in2[p] -
			f.a1a0*f.out1[p] - f.a2a0*f.out2[p]

		f.in2[p] = f.in1[p]
		f.in1[p] = x
		f.out2[p] = f.out1[p]
		f.out1[p] = output

		x = output
	}
	return x
}

// ApplyBatch applies the filter to a batch of samples in place
func (f *Filter) ApplyBatch(input []float64) {
	for p := range f.passes {
		for i := range input {
			output := f.b0a0*input[i] + f.b1a0*f.in1[p] + f.b2a0*f.in2[p] -
				f.a1a0*f.out1[p] - f.a2a0*f.out2[p]

			f.in2[p] = f.in1[p]
			f.in1[p] = input[i]
			f.out2[p] = f.out1[p]
			f.out1[p] = output

			input[i] = output
		}
	}
}

// Retune replaces the filter's coefficients with those of src while keeping
// the accumulated state, so a live parameter change does not click. Both
// filters must have the same number of passes.
func (f *Filter) Retune(src *Filter) {
	f.name = src.name
	f.a0, f.a1, f.a2 = src.a0, src.a1, src.a2
	f.b0, f.b1, f.b2 = src.b0, src.b1, src.b2
	f.b0a0, f.b1a0, f.b2a0 = src.b0a0, src.b1a0, src.b2a0
	f.a1a0, f.a2a0 = src.a1a0, src.a2a0
}

// Reset clears the filter state of every pass. Coefficients are kept, so the
// filter keeps its tuning but forgets past samples. Used around sample rate
// changes to avoid replaying stale state as an audible transient.
func (f *Filter) Reset() {
	for p := range f.passes {
		f.in1[p] = 0
		f.in2[p] = 0
		f.out1[p] = 0
		f.out2[p] = 0
	}
}

// NewLowPass returns the low-pass filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value.
//   - passes ... Number of passes (1 = 12dB/oct, 2 = 24dB/oct, 4 = 48dB/oct)
//
// NOTE: q must be greater than 0. passes must be 1 or greater.
func NewLowPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if passes < 1 {
		return nil, fmt.Errorf("passes must be 1 or greater")
	}

	w0 := 2.0 * Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)

	return NewFilter(
		LowPass,
		1.0+alpha,
		-2.0*math.Cos(w0),
		1.0-alpha,
		(1.0-math.Cos(w0))/2.0,
		1.0-math.Cos(w0),
		(1.0-math.Cos(w0))/2.0,
		passes,
	), nil
}

// NewHighPass returns the high-pass filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value.
//   - passes ... Number of passes (1 = 12dB/oct, 2 = 24dB/oct, 4 = 48dB/oct)
//
// NOTE: q must be greater than 0. passes must be 1 or greater.
func NewHighPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if passes < 1 {
		return nil, fmt.Errorf("passes must be 1 or greater")
	}

	w0 := 2.0 * Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)

	return NewFilter(
		HighPass,
		1.0+alpha,
		-2.0*math.Cos(w0),
		1.0-alpha,
		(1.0+math.Cos(w0))/2.0,
		-1.0*(1.0+math.Cos(w0)),
		(1.0+math.Cos(w0))/2.0,
		passes,
	), nil
}

// NewAllPass returns the all-pass filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value.
//
// NOTE: q must be greater than 0. passes must be 1 or greater.
func NewAllPass(sampleRate, frequency, q float64, passes int) (*Filter, error) {
	if passes < 1 {
		return nil, fmt.Errorf("passes must be 1 or greater")
	}

	w0 := 2.0 * Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)

	return NewFilter(
		AllPass,
		1.0+alpha,
		-2.0*math.Cos(w0),
		1.0-alpha,
		1.0-alpha,
		-2.0*math.Cos(w0),
		1.0+alpha,
		passes,
	), nil
}

// NewLowShelf returns the low-shelf filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value.
//   - gain ... Gain value in dB.
//
// NOTE: q must be greater than 0. passes must be 1 or greater.
func NewLowShelf(sampleRate, frequency, q, gain float64, passes int) (*Filter, error) {
	if passes < 1 {
		return nil, fmt.Errorf("passes must be 1 or greater")
	}

	w0 := 2.0 * Pi * frequency / sampleRate
	a := math.Pow(10.0, (gain / 40.0))
	beta := math.Sqrt(a) / q

	return NewFilter(
		LowShelf,
		(a+1.0)+(a-1.0)*math.Cos(w0)+beta*math.Sin(w0),
		-2.0*((a-1.0)+(a+1.0)*math.Cos(w0)),
		(a+1.0)+(a-1.0)*math.Cos(w0)-beta*math.Sin(w0),
		a*((a+1.0)-(a-1.0)*math.Cos(w0)+beta*math.Sin(w0)),
		2.0*a*((a-1.0)-(a+1.0)*math.Cos(w0)),
		a*((a+1.0)-(a-1.0)*math.Cos(w0)-beta*math.Sin(w0)),
		passes,
	), nil
}

// NewHighShelf returns the high-shelf filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Cut off frequency in Hz.
//   - q ... Q value.
//   - gain ... Gain value in dB.
//
// NOTE: q must be greater than 0. passes must be 1 or greater.
func NewHighShelf(sampleRate, frequency, q, gain float64, passes int) (*Filter, error) {
	if passes < 1 {
		return nil, fmt.Errorf("passes must be 1 or greater")
	}

	w0 := 2.0 * Pi * frequency / sampleRate
	a := math.Pow(10.0, (gain / 40.0))
	beta := math.Sqrt(a) / q

	return NewFilter(
		HighShelf,
		(a+1.0)-(a-1.0)*math.Cos(w0)+beta*math.Sin(w0),
		2.0*((a-1.0)-(a+1.0)*math.Cos(w0)),
		(a+1.0)-(a-1.0)*math.Cos(w0)-beta*math.Sin(w0),
		a*((a+1.0)+(a-1.0)*math.Cos(w0)+beta*math.Sin(w0)),
		-2.0*a*((a-1.0)+(a+1.0)*math.Cos(w0)),
		a*((a+1.0)+(a-1.0)*math.Cos(w0)-beta*math.Sin(w0)),
		passes,
	), nil
}

// NewPeaking returns the peaking filter.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz. e.g. 44100.0
//   - frequency ... Center frequency in Hz.
//   - q ... Q value.
//   - gain ... Gain value in dB.
//
// NOTE: q must be greater than 0. passes must be 1 or greater.
func NewPeaking(sampleRate, frequency, q, gain float64, passes int) (*Filter, error) {
	if passes < 1 {
		return nil, fmt.Errorf("passes must be 1 or greater")
	}

	w0 := 2.0 * Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	a := math.Pow(10.0, (gain / 40.0))

	return NewFilter(
		Peaking,
		1.0+alpha/a,
		-2.0*math.Cos(w0),
		1.0-alpha/a,
		1.0+alpha*a,
		-2.0*math.Cos(w0),
		1.0-alpha*a,
		passes,
	), nil
}
