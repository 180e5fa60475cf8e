package imu

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/airscribe/airscribe/agent/internal/config"
)

// --- factory ---

func TestNew_Types(t *testing.T) {
	path := writeRecording(t, "1,2,3,4,5,6\n")

	tests := []struct {
		name    string
		cfg     config.SourceConfig
		wantErr bool
	}{
		{"simulated", config.SourceConfig{Type: "simulated", RateHz: 50}, false},
		{"default type", config.SourceConfig{RateHz: 50}, false},
		{"replay", config.SourceConfig{Type: "replay", Path: path, RateHz: 50}, false},
		{"replay missing file", config.SourceConfig{Type: "replay", Path: path + ".gone", RateHz: 50}, true},
		{"unknown", config.SourceConfig{Type: "bluetooth", RateHz: 50}, true},
		{"zero rate", config.SourceConfig{Type: "simulated"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("New() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

// --- simulated ---

func TestSimulated_NoiselessShape(t *testing.T) {
	s := NewSimulated(1000, 0, 1)
	ctx := context.Background()

	first, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(first.Values) != Channels {
		t.Fatalf("values: got %d, want %d", len(first.Values), Channels)
	}
	// t=0: sin terms vanish, cos terms peak.
	want := []float64{0, 0, 9.81, math.Pi, math.Pi, 0}
	for i := range want {
		if math.Abs(first.Values[i]-want[i]) > 1e-9 {
			t.Errorf("values[%d]: got %v, want %v", i, first.Values[i], want[i])
		}
	}

	second, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !second.Timestamp.After(first.Timestamp) {
		t.Errorf("timestamps not increasing: %v then %v", first.Timestamp, second.Timestamp)
	}
	if second.Values[0] == first.Values[0] {
		t.Error("accel x did not move between samples")
	}
}

func TestSimulated_Noise(t *testing.T) {
	a := NewSimulated(1000, 0.5, 1)
	b := NewSimulated(1000, 0, 1)
	ctx := context.Background()

	sa, _ := a.Read(ctx)
	sb, _ := b.Read(ctx)
	if sa.Values[2] == sb.Values[2] {
		t.Error("noise had no effect on accel z")
	}
}

func TestSimulated_Paced(t *testing.T) {
	s := NewSimulated(20, 0, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := s.Read(ctx); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	// First sample is immediate, the next two are 50ms apart.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 samples at 20Hz took %v, want >= ~100ms", elapsed)
	}
}

func TestSimulated_ContextCancelled(t *testing.T) {
	s := NewSimulated(1, 0, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := s.Read(ctx); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	cancel()
	if _, err := s.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Read after cancel: got %v, want context.Canceled", err)
	}
}

// --- replay ---

func TestReplay_LoopsAndPads(t *testing.T) {
	path := writeRecording(t, "1,2,3,4,5,6\n\n7,8,9\n")
	r, err := OpenReplay(path, 1000)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", r.Len())
	}

	ctx := context.Background()
	want := [][]float64{
		{1, 2, 3, 4, 5, 6},
		{7, 8, 9, 0, 0, 0},
		{1, 2, 3, 4, 5, 6},
	}
	for i, w := range want {
		s, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		for j := range w {
			if s.Values[j] != w[j] {
				t.Fatalf("sample %d: got %v, want %v", i, s.Values, w)
			}
		}
	}
}

func TestReplay_ReturnsCopies(t *testing.T) {
	path := writeRecording(t, "1,2,3,4,5,6\n")
	r, err := OpenReplay(path, 1000)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	s, _ := r.Read(context.Background())
	s.Values[0] = 99

	s2, _ := r.Read(context.Background())
	if s2.Values[0] != 1 {
		t.Errorf("mutating a sample changed the recording: got %v", s2.Values[0])
	}
}

func TestReplay_BadInput(t *testing.T) {
	tests := map[string]string{
		"empty":       "\n\n",
		"non-numeric": "1,2,x,4,5,6\n",
		"too wide":    "1,2,3,4,5,6,7\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := OpenReplay(writeRecording(t, content), 50)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "imu: replay") {
				t.Errorf("error not wrapped: %v", err)
			}
		})
	}
}

func writeRecording(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imu_data_20240101_120000.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	return path
}
