package imu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/airscribe/airscribe/agent/internal/config"
	"github.com/airscribe/airscribe/pkg/types"
)

// Channels is the number of values in every sample.
const Channels = 6

// Reader is the common interface implemented by every sample source.
type Reader interface {
	Read(ctx context.Context) (types.Sample, error)
}

// New returns the appropriate Reader for the given source configuration.
func New(cfg config.SourceConfig) (Reader, error) {
	if cfg.RateHz <= 0 {
		return nil, fmt.Errorf("imu: rate_hz must be positive, got %d", cfg.RateHz)
	}
	switch cfg.Type {
	case "simulated", "":
		return NewSimulated(cfg.RateHz, cfg.Noise, time.Now().UnixNano()), nil
	case "replay":
		return OpenReplay(cfg.Path, cfg.RateHz)
	default:
		return nil, fmt.Errorf("imu: unsupported source type %q", cfg.Type)
	}
}

// pacer releases one tick every period, measured from the first call so
// slow consumers catch up instead of drifting.
type pacer struct {
	period time.Duration
	next   time.Time
	now    func() time.Time
}

func newPacer(rateHz int) pacer {
	return pacer{period: time.Second / time.Duration(rateHz), now: time.Now}
}

func (p *pacer) wait(ctx context.Context) (time.Time, error) {
	now := p.now()
	if p.next.IsZero() {
		p.next = now
	}
	if d := p.next.Sub(now); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return time.Time{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	due := p.next
	p.next = p.next.Add(p.period)
	return due, nil
}

// --- simulated ---

// Simulated traces a figure-eight in the accelerometer channels with the
// matching angular rates in the gyro channels, plus Gaussian noise.
type Simulated struct {
	pace  pacer
	noise float64
	rng   *rand.Rand
	n     int
}

// NewSimulated returns a Simulated reader producing rateHz samples a second.
func NewSimulated(rateHz int, noise float64, seed int64) *Simulated {
	return &Simulated{
		pace:  newPacer(rateHz),
		noise: noise,
		rng:   rand.New(rand.NewSource(seed)), //nolint:gosec // not crypto
	}
}

// Read blocks until the next sample is due.
func (s *Simulated) Read(ctx context.Context) (types.Sample, error) {
	ts, err := s.pace.wait(ctx)
	if err != nil {
		return types.Sample{}, err
	}
	t := float64(s.n) * s.pace.period.Seconds()
	s.n++

	const w = 2 * math.Pi * 0.5
	clean := [Channels]float64{
		math.Sin(w * t),
		math.Sin(2*w*t) / 2,
		9.81,
		w * math.Cos(w*t),
		w * math.Cos(2*w*t),
		0,
	}
	values := make([]float64, Channels)
	for i, v := range clean {
		values[i] = v + s.rng.NormFloat64()*s.noise
	}
	return types.Sample{Timestamp: ts, Values: values}, nil
}

// --- replay ---

// Replay loops over the rows of a recorded session.
type Replay struct {
	pace pacer
	rows [][]float64
	pos  int
}

// OpenReplay loads the recording at path.
func OpenReplay(path string, rateHz int) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imu: open replay: %w", err)
	}
	defer f.Close()

	rows, err := parseRows(f)
	if err != nil {
		return nil, fmt.Errorf("imu: replay %q: %w", path, err)
	}
	return &Replay{pace: newPacer(rateHz), rows: rows}, nil
}

// Len returns the number of rows in one loop of the recording.
func (r *Replay) Len() int { return len(r.rows) }

// Read blocks until the next sample is due and returns a copy of the next row.
func (r *Replay) Read(ctx context.Context) (types.Sample, error) {
	ts, err := r.pace.wait(ctx)
	if err != nil {
		return types.Sample{}, err
	}
	row := r.rows[r.pos]
	r.pos = (r.pos + 1) % len(r.rows)
	return types.Sample{Timestamp: ts, Values: append([]float64(nil), row...)}, nil
}

// parseRows reads comma-separated rows, skipping blank lines and padding
// short rows with zeros.
func parseRows(r io.Reader) ([][]float64, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) > Channels {
			return nil, fmt.Errorf("line %d: %d values, want at most %d", line, len(fields), Channels)
		}
		row := make([]float64, Channels)
		for j, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	return rows, nil
}
