package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/airscribe/airscribe/agent/internal/config"
	"github.com/airscribe/airscribe/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	samplesPath       = "/api/v1/samples"

	// HealthService is the gRPC health service name the server reports on.
	HealthService = "airscribe.Recognizer"
)

// errNotServing is returned by the readiness probe while the server's
// classifiers are not loaded.
var errNotServing = errors.New("server not serving")

// Shipper buffers IMU samples and POSTs them in batches to airscribe-server.
// Ship() is non-blocking; when the buffer is full the oldest sample is evicted.
// Run() must be called in a goroutine to drain the buffer and handle retries.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan types.Sample
	client *http.Client
	dialFn dialFunc // injectable for tests
	wait   func(ctx context.Context, d time.Duration) error

	// pending is the batch being assembled or retried. Only Run touches it.
	pending []types.Sample

	shipped atomic.Int64
	evicted atomic.Int64
}

// dialFunc is the function signature used to open a gRPC connection.
// Abstracted so tests can inject an in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// sendError is a failed POST. Permanent errors drop the batch.
type sendError struct {
	status    int
	permanent bool
	msg       string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.msg)
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) (*Shipper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ServerAuth.Mode == "mtls" {
		tlsCfg, err := buildTLSConfig(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls config: %w", err)
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &Shipper{
		cfg:     cfg,
		buf:     make(chan types.Sample, cfg.BufferSize),
		client:  &http.Client{Timeout: sendTimeout, Transport: transport},
		dialFn:  defaultDial,
		wait:    sleep,
		pending: make([]types.Sample, 0, cfg.BatchSize),
	}, nil
}

// Ship enqueues a sample. If the buffer is full the oldest entry is evicted
// to make room.
func (s *Shipper) Ship(sample types.Sample) {
	for {
		select {
		case s.buf <- sample:
			return
		default:
		}
		select {
		case <-s.buf:
			if n := s.evicted.Add(1); n == 1 || n%1000 == 0 {
				slog.Warn("shipper: buffer full, evicting oldest samples",
					"buffer_cap", cap(s.buf), "evicted_total", n)
			}
		default:
		}
	}
}

// Stats returns the number of samples delivered and evicted so far.
func (s *Shipper) Stats() (shipped, evicted int64) {
	return s.shipped.Load(), s.evicted.Load()
}

// Run waits for the server to report SERVING, then drains the buffer in
// batches. It retries with exponential backoff when the server is not ready
// or a send fails. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.ready(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.next()
			slog.Warn("shipper: server not ready, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			if s.wait(ctx, wait) != nil {
				return
			}
			continue
		}

		slog.Info("shipper: server ready", "url", s.cfg.ServerURL, "device", s.cfg.DeviceID)
		bo.reset()

		err := s.drain(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: send failed, will retry",
			"url", s.cfg.ServerURL,
			"err", err,
			"retry_in", wait)
		if s.wait(ctx, wait) != nil {
			return
		}
	}
}

// ready probes the server's gRPC health service once.
func (s *Shipper) ready(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	conn, err := s.dialFn(dialCtx, s.cfg.ServerEndpoint, s.cfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(s.withKey(dialCtx), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// drain collects batches from the buffer and sends them until a send fails
// or ctx is cancelled. A partial batch is flushed every FlushInterval. A batch
// that failed transiently is kept and sent first on the next attempt so
// samples reach the server in order.
func (s *Shipper) drain(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(s.pending) == 0 {
			return nil
		}
		err := s.send(ctx, s.pending)
		var se *sendError
		switch {
		case err == nil:
			s.shipped.Add(int64(len(s.pending)))
			slog.Debug("shipper: batch delivered", "samples", len(s.pending))
		case errors.As(err, &se) && se.permanent:
			slog.Error("shipper: permanent send error, discarding batch",
				"samples", len(s.pending), "err", err)
		default:
			return err
		}
		s.pending = s.pending[:0]
		return nil
	}

	if err := flush(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case smp := <-s.buf:
			s.pending = append(s.pending, smp)
			if len(s.pending) >= s.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// send POSTs one batch to the server's sample endpoint.
func (s *Shipper) send(ctx context.Context, batch []types.Sample) error {
	body, err := json.Marshal(types.SampleBatch{DeviceID: s.cfg.DeviceID, Samples: batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	url := strings.TrimRight(s.cfg.ServerURL, "/") + samplesPath
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ServerAuth.Mode == "apikey" {
		req.Header.Set(s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post samples: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &sendError{
		status:    resp.StatusCode,
		permanent: isPermanentStatus(resp.StatusCode),
		msg:       strings.TrimSpace(string(msg)),
	}
}

// isPermanentStatus returns true for responses that indicate the batch
// itself was rejected and should not be retried.
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// withKey attaches the API key as gRPC metadata when apikey auth is configured.
func (s *Shipper) withKey(ctx context.Context) context.Context {
	if s.cfg.ServerAuth.Mode != "apikey" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		tlsCfg, err := buildTLSConfig(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil
	}
	// "apikey", "none" or empty: the key travels in per-call metadata.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildTLSConfig loads the client certificate and optional CA from the auth
// config. The result is shared by the gRPC probe and the HTTP client.
func buildTLSConfig(auth config.AuthConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
