package shipper

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/airscribe/airscribe/agent/internal/config"
	"github.com/airscribe/airscribe/pkg/types"
)

// sampleServer records POSTed batches and answers with the queued statuses,
// then 200.
type sampleServer struct {
	mu       sync.Mutex
	batches  []types.SampleBatch
	headers  []http.Header
	statuses []int
}

func (m *sampleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != samplesPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var b types.SampleBatch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.batches = append(m.batches, b)
	m.headers = append(m.headers, r.Header.Clone())
	status := http.StatusOK
	if len(m.statuses) > 0 {
		status = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	m.mu.Unlock()

	w.WriteHeader(status)
	w.Write([]byte(`{"accepted":1,"dropped":0,"collecting":true}`)) //nolint:errcheck
}

func (m *sampleServer) received() []types.SampleBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SampleBatch, len(m.batches))
	copy(out, m.batches)
	return out
}

// values flattens the first channel of every delivered sample, in order.
func (m *sampleServer) values() []float64 {
	var out []float64
	for _, b := range m.received() {
		for _, s := range b.Samples {
			out = append(out, s.Values[0])
		}
	}
	return out
}

// startHealth starts an in-process gRPC health server and returns it with
// a dial function that connects to it.
func startHealth(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) (*health.Server, dialFunc) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus(HealthService, status)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	addr := lis.Addr().String()
	return hs, func(ctx context.Context, _ string, _ config.AgentConfig) (*grpc.ClientConn, error) {
		return grpc.DialContext(ctx, addr, //nolint:staticcheck
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

func agentCfg(url string) config.AgentConfig {
	return config.AgentConfig{
		ServerURL:      url,
		ServerEndpoint: "unused",
		DeviceID:       "pen-test",
		BatchSize:      2,
		FlushInterval:  20 * time.Millisecond,
		BufferSize:     100,
	}
}

func newTestShipper(t *testing.T, cfg config.AgentConfig, dial dialFunc) *Shipper {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.dialFn = dial
	s.wait = func(ctx context.Context, _ time.Duration) error { return sleep(ctx, 10*time.Millisecond) }
	return s
}

func sample(v float64) types.Sample {
	return types.Sample{Timestamp: time.Unix(1700000000, 0), Values: []float64{v, 0, 9.81, 0, 0, 0}}
}

func runShipper(t *testing.T, s *Shipper) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- delivery ---

func TestShipper_DeliversBatches(t *testing.T) {
	srv := &sampleServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, dial := startHealth(t, healthpb.HealthCheckResponse_SERVING)

	s := newTestShipper(t, agentCfg(ts.URL), dial)
	for i := 0; i < 5; i++ {
		s.Ship(sample(float64(i)))
	}
	runShipper(t, s)

	waitFor(t, "5 samples", func() bool { return len(srv.values()) == 5 })

	got := srv.values()
	for i, v := range got {
		if v != float64(i) {
			t.Fatalf("delivery order: got %v", got)
		}
	}
	for _, b := range srv.received() {
		if b.DeviceID != "pen-test" {
			t.Errorf("device_id: got %q", b.DeviceID)
		}
		if len(b.Samples) > 2 {
			t.Errorf("batch of %d exceeds batch_size 2", len(b.Samples))
		}
	}
	if shipped, _ := s.Stats(); shipped != 5 {
		t.Errorf("shipped: got %d, want 5", shipped)
	}
}

func TestShipper_FlushesPartialBatch(t *testing.T) {
	srv := &sampleServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, dial := startHealth(t, healthpb.HealthCheckResponse_SERVING)

	cfg := agentCfg(ts.URL)
	cfg.BatchSize = 50
	s := newTestShipper(t, cfg, dial)
	s.Ship(sample(7))
	runShipper(t, s)

	waitFor(t, "partial batch", func() bool { return len(srv.received()) == 1 })
	if got := srv.received()[0].Samples; len(got) != 1 || got[0].Values[0] != 7 {
		t.Errorf("partial batch: got %+v", got)
	}
}

func TestShipper_APIKey(t *testing.T) {
	t.Setenv("AIRSCRIBE_TEST_KEY", "s3cret")

	srv := &sampleServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	// Health server that records the metadata key of each Check.
	var (
		mu      sync.Mutex
		grpcKey []string
	)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	gs := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, h grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		mu.Lock()
		grpcKey = append(grpcKey, md.Get("x-pen-key")...)
		mu.Unlock()
		return h(ctx, req)
	}))
	healthpb.RegisterHealthServer(gs, hs)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	cfg := agentCfg(ts.URL)
	cfg.ServerEndpoint = lis.Addr().String()
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", Header: "X-Pen-Key", KeyEnv: "AIRSCRIBE_TEST_KEY"}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Ship(sample(1))
	runShipper(t, s)

	waitFor(t, "delivery", func() bool { return len(srv.received()) == 1 })

	srv.mu.Lock()
	header := srv.headers[0].Get("X-Pen-Key")
	srv.mu.Unlock()
	if header != "s3cret" {
		t.Errorf("HTTP key header: got %q", header)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(grpcKey) == 0 || grpcKey[0] != "s3cret" {
		t.Errorf("gRPC metadata key: got %v", grpcKey)
	}
}

// --- readiness and retry ---

func TestShipper_WaitsForServing(t *testing.T) {
	srv := &sampleServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	hs, dial := startHealth(t, healthpb.HealthCheckResponse_NOT_SERVING)

	s := newTestShipper(t, agentCfg(ts.URL), dial)
	s.Ship(sample(1))
	runShipper(t, s)

	time.Sleep(100 * time.Millisecond)
	if n := len(srv.received()); n != 0 {
		t.Fatalf("sent %d batches before server was SERVING", n)
	}

	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	waitFor(t, "delivery after SERVING", func() bool { return len(srv.received()) == 1 })
}

func TestShipper_RetriesTransientFailure(t *testing.T) {
	srv := &sampleServer{statuses: []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, dial := startHealth(t, healthpb.HealthCheckResponse_SERVING)

	s := newTestShipper(t, agentCfg(ts.URL), dial)
	s.Ship(sample(1))
	s.Ship(sample(2))
	runShipper(t, s)

	waitFor(t, "third attempt", func() bool { return len(srv.received()) >= 3 })

	got := srv.received()
	for i := 0; i < 3; i++ {
		if len(got[i].Samples) != 2 || got[i].Samples[0].Values[0] != 1 {
			t.Errorf("attempt %d: got %+v, want the same batch retried", i, got[i].Samples)
		}
	}
	if shipped, _ := s.Stats(); shipped != 2 {
		t.Errorf("shipped: got %d, want 2", shipped)
	}
}

func TestShipper_DiscardsPermanentFailure(t *testing.T) {
	srv := &sampleServer{statuses: []int{http.StatusUnprocessableEntity}}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, dial := startHealth(t, healthpb.HealthCheckResponse_SERVING)

	s := newTestShipper(t, agentCfg(ts.URL), dial)
	s.Ship(sample(1))
	s.Ship(sample(2))
	runShipper(t, s)

	waitFor(t, "first attempt", func() bool { return len(srv.received()) == 1 })
	s.Ship(sample(3))
	waitFor(t, "next batch", func() bool { return len(srv.received()) == 2 })

	if got := srv.received()[1].Samples[0].Values[0]; got != 3 {
		t.Errorf("second batch starts with %v, want 3 (rejected batch dropped)", got)
	}
	if shipped, _ := s.Stats(); shipped != 1 {
		t.Errorf("shipped: got %d, want 1", shipped)
	}
}

func TestIsPermanentStatus(t *testing.T) {
	tests := map[int]bool{
		http.StatusBadRequest:          true,
		http.StatusUnauthorized:        true,
		http.StatusConflict:            true,
		http.StatusTooManyRequests:     false,
		http.StatusInternalServerError: false,
		http.StatusServiceUnavailable:  false,
	}
	for code, want := range tests {
		if got := isPermanentStatus(code); got != want {
			t.Errorf("isPermanentStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

// --- buffer ---

func TestShipper_BufferEvictsOldest(t *testing.T) {
	cfg := agentCfg("http://unused")
	cfg.BufferSize = 3
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		s.Ship(sample(float64(i)))
	}

	if len(s.buf) != 3 {
		t.Fatalf("buffer len: got %d, want 3", len(s.buf))
	}
	for _, want := range []float64{2, 3, 4} {
		if got := (<-s.buf).Values[0]; got != want {
			t.Errorf("buffered sample: got %v, want %v", got, want)
		}
	}
	if _, evicted := s.Stats(); evicted != 2 {
		t.Errorf("evicted: got %d, want 2", evicted)
	}
}

func TestNew_MTLSMissingCert(t *testing.T) {
	cfg := agentCfg("https://pen-host")
	cfg.ServerAuth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing client certificate")
	}
}

// --- backoff ---

func TestShipper_BackoffResets(t *testing.T) {
	b := newBackoff()
	first := b.next()
	if first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 10; i++ {
		b.next()
	}
	b.reset()
	after := b.next()
	if after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 50; i++ {
		// With jitter, max is backoffMax * 1.25
		if d := b.next(); d > backoffMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds 1.25×max", i, d)
		}
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	_, dial := startHealth(t, healthpb.HealthCheckResponse_SERVING)
	s := newTestShipper(t, agentCfg("http://127.0.0.1:1"), dial)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
