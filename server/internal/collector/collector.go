package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("collector: collection already in progress")
	// ErrNotRunning is returned by Stop when no session is active.
	ErrNotRunning = errors.New("collector: collection not started")
)

// DefaultStopTimeout bounds how long Stop waits for the worker to exit.
const DefaultStopTimeout = time.Second

// State is the coordinator state.
type State int

const (
	Idle State = iota
	Collecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	default:
		return "unknown"
	}
}

// Session describes an active collection.
type Session struct {
	ID      string
	Path    string
	Started time.Time
}

// Recording is the immutable result of a stopped session.
type Recording struct {
	ID         string
	Path       string
	Started    time.Time
	Stopped    time.Time
	DataPoints int
	// Detached is true when the worker had not exited within the stop
	// timeout. The file may still receive rows until the worker notices.
	Detached bool
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State      State
	SessionID  string
	DataPoints int
	LastSample *LastSample
	Message    string
}

// Collecting reports whether a session is active.
func (s Status) Collecting() bool { return s.State == Collecting }

// LastSample is the most recent row written by the worker.
type LastSample struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// Options configures a Collector.
type Options struct {
	// DataDir receives recording files. Defaults to os.TempDir().
	DataDir string
	// StopTimeout defaults to DefaultStopTimeout.
	StopTimeout time.Duration
}

// run is the per-session bookkeeping shared between Stop and the worker.
// Fields are guarded by Collector.mu.
type run struct {
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
	points  int
	last    *LastSample
}

// Collector coordinates at most one collection session at a time.
type Collector struct {
	src         Source
	dir         string
	stopTimeout time.Duration
	now         func() time.Time // injectable for deterministic tests
	onChange    func(Status)

	mu    sync.Mutex
	state State
	cur   *run
}

// New returns an idle Collector reading from src.
func New(src Source, opts Options) *Collector {
	if opts.DataDir == "" {
		opts.DataDir = os.TempDir()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Collector{
		src:         src,
		dir:         opts.DataDir,
		stopTimeout: opts.StopTimeout,
		now:         time.Now,
	}
}

// OnChange registers fn to be called after every state transition.
// It must be set before the first Start.
func (c *Collector) OnChange(fn func(Status)) { c.onChange = fn }

// Start opens a new recording file and launches the worker.
// The worker outlives ctx; it runs until Stop.
func (c *Collector) Start(_ context.Context) (Session, error) {
	c.mu.Lock()
	if c.state == Collecting {
		c.mu.Unlock()
		return Session{}, ErrAlreadyRunning
	}

	started := c.now()
	f, err := c.create(started)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	if p, ok := c.src.(*Push); ok {
		if n := p.Reset(); n > 0 {
			slog.Debug("collector: discarded stale samples", "count", n)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		session: Session{ID: uuid.NewString(), Path: f.Name(), Started: started},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.cur = r
	c.state = Collecting
	c.mu.Unlock()

	go c.work(ctx, r, f)

	slog.Info("collector: started", "session", r.session.ID, "file", r.session.Path)
	c.notify()
	return r.session, nil
}

// Stop signals the worker and waits up to the stop timeout for it to exit.
func (c *Collector) Stop() (Recording, error) {
	c.mu.Lock()
	if c.state != Collecting {
		c.mu.Unlock()
		return Recording{}, ErrNotRunning
	}
	r := c.cur
	c.state = Idle
	c.mu.Unlock()

	r.cancel()
	detached := false
	t := time.NewTimer(c.stopTimeout)
	select {
	case <-r.done:
		t.Stop()
	case <-t.C:
		detached = true
		slog.Warn("collector: worker did not exit in time", "session", r.session.ID, "timeout", c.stopTimeout)
	}

	c.mu.Lock()
	rec := Recording{
		ID:         r.session.ID,
		Path:       r.session.Path,
		Started:    r.session.Started,
		Stopped:    c.now(),
		DataPoints: r.points,
		Detached:   detached,
	}
	c.mu.Unlock()

	var size string
	if fi, err := os.Stat(rec.Path); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	slog.Info("collector: stopped",
		"session", rec.ID,
		"data_points", rec.DataPoints,
		"size", size,
		"detached", rec.Detached,
	)
	c.notify()
	return rec, nil
}

// Status returns the current coordinator state.
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Message: "Idle"}
	if c.cur == nil {
		return st
	}
	st.DataPoints = c.cur.points
	st.LastSample = c.cur.last
	if c.state == Collecting {
		st.SessionID = c.cur.session.ID
		st.Message = "Collecting samples to " + filepath.Base(c.cur.session.Path)
	}
	return st
}

func (c *Collector) notify() {
	if c.onChange != nil {
		c.onChange(c.Status())
	}
}

// create opens imu_data_<timestamp>.txt in the data dir, adding a numeric
// suffix when a file for the same second already exists.
func (c *Collector) create(t time.Time) (*os.File, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("collector: create data dir: %w", err)
	}
	base := "imu_data_" + t.Format("20060102_150405")
	for i := 0; i < 100; i++ {
		name := base + ".txt"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.txt", base, i)
		}
		f, err := os.OpenFile(filepath.Join(c.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("collector: open recording: %w", err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("collector: open recording: too many files named %s", base)
}

// work owns f for the lifetime of the session.
func (c *Collector) work(ctx context.Context, r *run, f *os.File) {
	defer close(r.done)
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("collector: close recording", "file", f.Name(), "err", err)
		}
	}()

	w := bufio.NewWriter(f)
	for {
		s, err := c.src.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("collector: source failed", "session", r.session.ID, "err", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := w.WriteString(formatRow(s.Values)); err != nil {
			slog.Error("collector: write recording", "file", f.Name(), "err", err)
			return
		}
		if err := w.Flush(); err != nil {
			slog.Error("collector: flush recording", "file", f.Name(), "err", err)
			return
		}

		ts := s.Timestamp
		if ts.IsZero() {
			ts = c.now()
		}
		c.mu.Lock()
		r.points++
		r.last = &LastSample{Timestamp: ts, Values: s.Values}
		c.mu.Unlock()
	}
}

func formatRow(values []float64) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte('\n')
	return b.String()
}
