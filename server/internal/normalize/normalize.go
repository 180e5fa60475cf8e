package normalize

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// imuWidth is accel x/y/z plus gyro x/y/z. Rows at or below this width are
// padded up to Options.Channels; the extra channels are reserved.
const imuWidth = 6

// Series is a raw IMU series: one row per time step, one value per channel.
type Series [][]float64

// Options controls the output shape and the scaling constants.
type Options struct {
	// MaxLen is the fixed number of time steps in the output (default 50).
	MaxLen int

	// Channels is the fixed channel count in the output (default 10).
	Channels int

	// Clip bounds every scaled value to [-Clip, Clip] (default 5).
	Clip float64

	// LowPercentile and HighPercentile define the robust scaling range
	// (defaults 5 and 95).
	LowPercentile  float64
	HighPercentile float64
}

// Default normalization constants.
const (
	DefaultMaxLen         = 50
	DefaultChannels       = 10
	DefaultClip           = 5.0
	DefaultLowPercentile  = 5.0
	DefaultHighPercentile = 95.0
)

// DefaultOptions returns the options the classifier was trained with.
func DefaultOptions() Options {
	return Options{
		MaxLen:         DefaultMaxLen,
		Channels:       DefaultChannels,
		Clip:           DefaultClip,
		LowPercentile:  DefaultLowPercentile,
		HighPercentile: DefaultHighPercentile,
	}
}

// Normalizer applies the normalization pipeline with a fixed set of Options.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer. Zero or out-of-range fields fall back to defaults.
func New(opts Options) *Normalizer {
	d := DefaultOptions()
	if opts.MaxLen <= 0 {
		opts.MaxLen = d.MaxLen
	}
	if opts.Channels < imuWidth {
		opts.Channels = d.Channels
	}
	if opts.Clip <= 0 {
		opts.Clip = d.Clip
	}
	if opts.LowPercentile < 0 || opts.HighPercentile > 100 || opts.LowPercentile >= opts.HighPercentile {
		opts.LowPercentile, opts.HighPercentile = d.LowPercentile, d.HighPercentile
	}
	return &Normalizer{opts: opts}
}

// Normalize runs s through a Normalizer built from DefaultOptions.
func Normalize(s Series) (*tensor.Dense, error) {
	return New(DefaultOptions()).Normalize(s)
}

// Options returns the effective options.
func (n *Normalizer) Options() Options { return n.opts }

// Shape returns the output tensor shape: (1, MaxLen, Channels).
func (n *Normalizer) Shape() tensor.Shape {
	return tensor.Shape{1, n.opts.MaxLen, n.opts.Channels}
}

// Normalize converts s into a (1, MaxLen, Channels) float32 tensor.
// s is not modified. All failures are reported as *Error.
func (n *Normalizer) Normalize(s Series) (out *tensor.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = newError(ErrNumeric, -1, -1, fmt.Sprint(r))
		}
	}()

	w, err := n.workingCopy(s)
	if err != nil {
		return nil, err
	}

	rows, cols := w.Dims()
	for j := 0; j < cols; j++ {
		if err := n.scaleChannel(w, j); err != nil {
			return nil, err
		}
	}

	// Rows past the truncated length stay zero.
	backing := make([]float32, n.opts.MaxLen*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			backing[i*cols+j] = float32(w.At(i, j))
		}
	}
	return tensor.New(tensor.WithShape(1, n.opts.MaxLen, cols), tensor.WithBacking(backing)), nil
}

// workingCopy validates s and copies at most MaxLen rows into a zero-filled
// matrix whose width already includes the padded channels.
func (n *Normalizer) workingCopy(s Series) (*mat.Dense, error) {
	if len(s) == 0 {
		return nil, newError(ErrEmptyInput, -1, -1, "series has no rows")
	}

	width := len(s[0])
	for i, row := range s {
		if len(row) == 0 {
			return nil, newError(ErrShape, i, -1, "row has no values")
		}
		if len(row) != width {
			return nil, newError(ErrShape, i, -1, fmt.Sprintf("row has %d values, want %d", len(row), width))
		}
	}

	cols := width
	switch {
	case width <= imuWidth:
		cols = n.opts.Channels
	case width == n.opts.Channels:
	default:
		return nil, newError(ErrShape, -1, -1,
			fmt.Sprintf("row width %d: want at most %d or exactly %d", width, imuWidth, n.opts.Channels))
	}

	rows := min(len(s), n.opts.MaxLen)
	w := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j, v := range s[i] {
			w.Set(i, j, v)
		}
	}
	return w, nil
}

// scaleChannel imputes NaNs, robust-scales and clips column j of w in place.
func (n *Normalizer) scaleChannel(w *mat.Dense, j int) error {
	col := mat.Col(nil, j, w)

	present := make(stats.Float64Data, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return newError(ErrNumeric, -1, j, "channel has no numeric values")
	}
	if len(present) < len(col) {
		med, err := stats.Median(present)
		if err != nil {
			return &Error{Kind: ErrNumeric, Row: -1, Col: j, Detail: "median", Err: err}
		}
		for i, v := range col {
			if math.IsNaN(v) {
				col[i] = med
			}
		}
	}

	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	lo := percentile(sorted, n.opts.LowPercentile)
	hi := percentile(sorted, n.opts.HighPercentile)
	if math.IsNaN(lo) || math.IsInf(lo, 0) || math.IsNaN(hi) || math.IsInf(hi, 0) {
		return newError(ErrNumeric, -1, j, "percentile range is not finite")
	}

	scale := hi - lo
	if scale == 0 {
		scale = 1
	}
	for i, v := range col {
		w.Set(i, j, clip((v-lo)/scale, n.opts.Clip))
	}
	return nil
}

// percentile returns the p-th percentile (0–100) of sorted, interpolating
// linearly between the two closest ranks.
func percentile(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := math.Floor(rank)
	a := sorted[int(lo)]
	b := sorted[int(math.Ceil(rank))]
	t := rank - lo
	if t >= 0.5 {
		return b - (b-a)*(1-t)
	}
	return a + (b-a)*t
}

func clip(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
