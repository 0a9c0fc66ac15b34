package station

import "math"

// biquad is a second-order IIR section with RBJ cookbook coefficients,
// normalized by a0.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	in1, in2           float64
	out1, out2         float64
}

func newLowPass(sampleRate, frequency, q float64) *biquad {
	w0 := 2.0 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	return newBiquad(
		1.0+alpha,
		-2.0*math.Cos(w0),
		1.0-alpha,
		(1.0-math.Cos(w0))/2.0,
		1.0-math.Cos(w0),
		(1.0-math.Cos(w0))/2.0,
	)
}

func newHighPass(sampleRate, frequency, q float64) *biquad {
	w0 := 2.0 * math.Pi * frequency / sampleRate
	alpha := math.Sin(w0) / (2.0 * q)
	return newBiquad(
		1.0+alpha,
		-2.0*math.Cos(w0),
		1.0-alpha,
		(1.0+math.Cos(w0))/2.0,
		-1.0*(1.0+math.Cos(w0)),
		(1.0+math.Cos(w0))/2.0,
	)
}

func newBiquad(a0, a1, a2, b0, b1, b2 float64) *biquad {
	return &biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

func (f *biquad) next(x float64) float64 {
	y := f.b0*x + f.b1*f.in1 + f.b2*f.in2 - f.a1*f.out1 - f.a2*f.out2
	f.in2, f.in1 = f.in1, x
	f.out2, f.out1 = f.out1, y
	return y
}

// Detection band in Hz.
const (
	bandLow  = 1.0
	bandHigh = 5.0
	bandQ    = 0.7071
)

// bandPass chains a high-pass and, when the sample rate allows it, a
// low-pass section.
type bandPass struct {
	sections []*biquad
}

func newBandPass(sampleRate float64) *bandPass {
	bp := &bandPass{sections: []*biquad{newHighPass(sampleRate, bandLow, bandQ)}}
	high := math.Min(bandHigh, sampleRate*0.4)
	if high > bandLow {
		bp.sections = append(bp.sections, newLowPass(sampleRate, high, bandQ))
	}
	return bp
}

func (bp *bandPass) next(x float64) float64 {
	for _, s := range bp.sections {
		x = s.next(x)
	}
	return x
}
