package collector

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airscribe/airscribe/pkg/types"
)

// Source delivers samples to a collection worker.
type Source interface {
	// Next blocks until a sample is available or ctx is done.
	Next(ctx context.Context) (types.Sample, error)
}

//go:embed trajectory.csv
var trajectoryCSV []byte

// trajectory is the recorded 6-axis stroke the simulator replays.
var trajectory = mustParseTrajectory(trajectoryCSV)

func mustParseTrajectory(b []byte) [][]float64 {
	var rows [][]float64
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				panic("collector: bad embedded trajectory: " + err.Error())
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// Simulated replays the embedded trajectory in a loop, one row per tick, with
// uniform jitter of ±Jitter added to every channel.
type Simulated struct {
	interval time.Duration
	jitter   float64
	now      func() time.Time

	mu   sync.Mutex
	rng  *rand.Rand
	step int
}

// NewSimulated returns a simulated source emitting rateHz samples per second.
func NewSimulated(rateHz int, jitter float64, seed int64) *Simulated {
	if rateHz <= 0 {
		rateHz = 10
	}
	return &Simulated{
		interval: time.Second / time.Duration(rateHz),
		jitter:   jitter,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec // simulated sensor noise
	}
}

// Next implements Source. It waits one sample interval before returning.
func (s *Simulated) Next(ctx context.Context) (types.Sample, error) {
	t := time.NewTimer(s.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return types.Sample{}, ctx.Err()
	case <-t.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row := trajectory[s.step%len(trajectory)]
	s.step++
	values := make([]float64, len(row))
	for i, v := range row {
		values[i] = v + (s.rng.Float64()*2-1)*s.jitter
	}
	return types.Sample{Timestamp: s.now().UTC(), Values: values}, nil
}

// ErrBufferFull is returned by Push.Push when the buffer cannot take more.
var ErrBufferFull = errors.New("collector: push buffer full")

// Push is a Source fed by Push calls, typically from the HTTP samples
// endpoint. The buffer is bounded; samples beyond capacity are dropped.
type Push struct {
	buf      chan types.Sample
	produced atomic.Uint64
	dropped  atomic.Uint64
}

// NewPush returns a Push source holding up to size samples.
func NewPush(size int) *Push {
	if size <= 0 {
		size = 512
	}
	return &Push{buf: make(chan types.Sample, size)}
}

// Push enqueues s without blocking.
func (p *Push) Push(s types.Sample) error {
	select {
	case p.buf <- s:
		p.produced.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrBufferFull
	}
}

// Next implements Source.
func (p *Push) Next(ctx context.Context) (types.Sample, error) {
	select {
	case <-ctx.Done():
		return types.Sample{}, ctx.Err()
	case s := <-p.buf:
		return s, nil
	}
}

// Reset discards buffered samples and returns how many were dropped.
func (p *Push) Reset() int {
	n := 0
	for {
		select {
		case <-p.buf:
			n++
		default:
			return n
		}
	}
}

// Stats returns the number of accepted and dropped samples.
func (p *Push) Stats() (produced, dropped uint64) {
	return p.produced.Load(), p.dropped.Load()
}
