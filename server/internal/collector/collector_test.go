package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airscribe/airscribe/pkg/types"
)

// --- helpers ---

// chanSource hands out whatever the test sends on ch.
type chanSource struct{ ch chan types.Sample }

func newChanSource() *chanSource { return &chanSource{ch: make(chan types.Sample)} }

func (s *chanSource) Next(ctx context.Context) (types.Sample, error) {
	select {
	case <-ctx.Done():
		return types.Sample{}, ctx.Err()
	case v := <-s.ch:
		return v, nil
	}
}

// stuckSource ignores cancellation until release is closed.
type stuckSource struct{ release chan struct{} }

func (s *stuckSource) Next(context.Context) (types.Sample, error) {
	<-s.release
	return types.Sample{Values: []float64{1}}, nil
}

func send(t *testing.T, s *chanSource, values ...float64) {
	t.Helper()
	select {
	case s.ch <- types.Sample{Timestamp: time.Now(), Values: values}:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not take sample")
	}
}

func waitPoints(t *testing.T, c *Collector, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status().DataPoints >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("DataPoints: want %d, got %d", n, c.Status().DataPoints)
}

// --- Collector ---

func TestStartStop_WritesRows(t *testing.T) {
	dir := t.TempDir()
	src := newChanSource()
	c := New(src, Options{DataDir: dir})

	sess, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.ID == "" {
		t.Error("Session.ID is empty")
	}
	if filepath.Dir(sess.Path) != dir {
		t.Errorf("Session.Path dir: got %q, want %q", filepath.Dir(sess.Path), dir)
	}
	if !strings.HasPrefix(filepath.Base(sess.Path), "imu_data_") || !strings.HasSuffix(sess.Path, ".txt") {
		t.Errorf("unexpected file name %q", filepath.Base(sess.Path))
	}

	send(t, src, 1, 2.5, -3)
	send(t, src, 4, 5, 6)
	waitPoints(t, c, 2)

	rec, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.DataPoints != 2 {
		t.Errorf("DataPoints: got %d, want 2", rec.DataPoints)
	}
	if rec.Detached {
		t.Error("Detached: got true, want false")
	}
	if rec.ID != sess.ID || rec.Path != sess.Path {
		t.Errorf("Recording does not match session: %+v vs %+v", rec, sess)
	}

	b, err := os.ReadFile(rec.Path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	want := "1,2.5,-3\n4,5,6\n"
	if string(b) != want {
		t.Errorf("file contents: got %q, want %q", b, want)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	c := New(newChanSource(), Options{DataDir: t.TempDir()})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop() //nolint:errcheck

	if _, err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: got %v, want ErrAlreadyRunning", err)
	}
}

func TestStart_ConcurrentOnlyOneWins(t *testing.T) {
	for round := 0; round < 20; round++ {
		c := New(newChanSource(), Options{DataDir: t.TempDir()})

		const n = 16
		errs := make(chan error, n)
		var ready, wg sync.WaitGroup
		ready.Add(1)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ready.Wait()
				_, err := c.Start(context.Background())
				errs <- err
			}()
		}
		ready.Done()
		wg.Wait()
		close(errs)

		var ok, rejected int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyRunning):
				rejected++
			default:
				t.Fatalf("round %d: unexpected Start error: %v", round, err)
			}
		}
		if ok != 1 || rejected != n-1 {
			t.Fatalf("round %d: got %d started, %d rejected; want 1 and %d", round, ok, rejected, n-1)
		}
		if _, err := c.Stop(); err != nil {
			t.Fatalf("round %d: Stop: %v", round, err)
		}
	}
}

func TestStop_NotRunning(t *testing.T) {
	c := New(newChanSource(), Options{DataDir: t.TempDir()})
	if _, err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop: got %v, want ErrNotRunning", err)
	}
}

func TestStop_Twice(t *testing.T) {
	c := New(newChanSource(), Options{DataDir: t.TempDir()})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop: got %v, want ErrNotRunning", err)
	}
}

func TestStop_DetachesSlowWorker(t *testing.T) {
	src := &stuckSource{release: make(chan struct{})}
	c := New(src, Options{DataDir: t.TempDir(), StopTimeout: 20 * time.Millisecond})
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	rec, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !rec.Detached {
		t.Error("Detached: got false, want true")
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Stop took %v, want about the stop timeout", d)
	}
	if c.Status().Collecting() {
		t.Error("still collecting after Stop")
	}
	close(src.release)
}

func TestRestartAfterStop(t *testing.T) {
	src := newChanSource()
	c := New(src, Options{DataDir: t.TempDir()})

	first, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	send(t, src, 1)
	waitPoints(t, c, 1)
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	second, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer c.Stop() //nolint:errcheck
	if second.ID == first.ID {
		t.Error("restart reused session ID")
	}
	if second.Path == first.Path {
		t.Error("restart reused recording file")
	}
	if got := c.Status().DataPoints; got != 0 {
		t.Errorf("DataPoints after restart: got %d, want 0", got)
	}
}

func TestStatus(t *testing.T) {
	src := newChanSource()
	c := New(src, Options{DataDir: t.TempDir()})

	st := c.Status()
	if st.Collecting() || st.Message != "Idle" || st.LastSample != nil {
		t.Errorf("initial status: %+v", st)
	}

	sess, _ := c.Start(context.Background())
	send(t, src, 7, 8, 9)
	waitPoints(t, c, 1)

	st = c.Status()
	if !st.Collecting() {
		t.Error("Collecting: got false, want true")
	}
	if st.SessionID != sess.ID {
		t.Errorf("SessionID: got %q, want %q", st.SessionID, sess.ID)
	}
	if st.LastSample == nil || len(st.LastSample.Values) != 3 || st.LastSample.Values[2] != 9 {
		t.Errorf("LastSample: got %+v", st.LastSample)
	}

	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st = c.Status()
	if st.Collecting() || st.SessionID != "" {
		t.Errorf("status after stop: %+v", st)
	}
	if st.DataPoints != 1 {
		t.Errorf("DataPoints after stop: got %d, want 1", st.DataPoints)
	}
}

func TestOnChange(t *testing.T) {
	var seen []State
	c := New(newChanSource(), Options{DataDir: t.TempDir()})
	c.OnChange(func(s Status) { seen = append(seen, s.State) })

	c.Start(context.Background()) //nolint:errcheck
	c.Stop()                      //nolint:errcheck

	if len(seen) != 2 || seen[0] != Collecting || seen[1] != Idle {
		t.Errorf("transitions: got %v, want [collecting idle]", seen)
	}
}

func TestCreate_SameSecond(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	c := New(newChanSource(), Options{DataDir: dir})
	c.now = func() time.Time { return fixed }

	a, err := c.create(fixed)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()
	b, err := c.create(fixed)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer b.Close()

	if got, want := filepath.Base(a.Name()), "imu_data_20240301_123045.txt"; got != want {
		t.Errorf("first name: got %q, want %q", got, want)
	}
	if got, want := filepath.Base(b.Name()), "imu_data_20240301_123045_1.txt"; got != want {
		t.Errorf("second name: got %q, want %q", got, want)
	}
}

// --- sources ---

func TestPush_DropsWhenFull(t *testing.T) {
	p := NewPush(2)
	for i := 0; i < 3; i++ {
		err := p.Push(types.Sample{Values: []float64{float64(i)}})
		if i < 2 && err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		if i == 2 && !errors.Is(err, ErrBufferFull) {
			t.Errorf("Push %d: got %v, want ErrBufferFull", i, err)
		}
	}
	produced, dropped := p.Stats()
	if produced != 2 || dropped != 1 {
		t.Errorf("Stats: got (%d, %d), want (2, 1)", produced, dropped)
	}

	s, err := p.Next(context.Background())
	if err != nil || s.Values[0] != 0 {
		t.Errorf("Next: got %v, %v; want first sample", s, err)
	}
	if n := p.Reset(); n != 1 {
		t.Errorf("Reset: got %d, want 1", n)
	}
}

func TestPush_NextHonoursContext(t *testing.T) {
	p := NewPush(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next: got %v, want context.Canceled", err)
	}
}

func TestStart_DiscardsStalePushSamples(t *testing.T) {
	p := NewPush(4)
	p.Push(types.Sample{Values: []float64{99}}) //nolint:errcheck
	c := New(p, Options{DataDir: t.TempDir()})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.DataPoints != 0 {
		t.Errorf("DataPoints: got %d, want 0 (stale sample recorded)", rec.DataPoints)
	}
}

func TestSimulated_ReplaysTrajectory(t *testing.T) {
	const jitter = 0.05
	s := NewSimulated(1000, jitter, 1)
	for i := 0; i < len(trajectory)+2; i++ {
		got, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		want := trajectory[i%len(trajectory)]
		if len(got.Values) != len(want) {
			t.Fatalf("row %d width: got %d, want %d", i, len(got.Values), len(want))
		}
		for j := range want {
			if d := got.Values[j] - want[j]; d > jitter+1e-9 || d < -jitter-1e-9 {
				t.Errorf("row %d col %d: got %v, want %v±%v", i, j, got.Values[j], want[j], jitter)
			}
		}
	}
}

func TestTrajectory_Embedded(t *testing.T) {
	if len(trajectory) != 28 {
		t.Errorf("trajectory rows: got %d, want 28", len(trajectory))
	}
	for i, row := range trajectory {
		if len(row) != 6 {
			t.Errorf("row %d width: got %d, want 6", i, len(row))
		}
	}
}
